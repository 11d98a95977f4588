package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestNewPublisher(t *testing.T) {
	pub := NewPublisher("test-service")

	if pub == nil {
		t.Fatal("NewPublisher() returned nil")
	}

	if pub.source != "test-service" {
		t.Errorf("NewPublisher() source = %v, want test-service", pub.source)
	}

	if pub.httpClient == nil {
		t.Error("NewPublisher() did not initialize httpClient")
	}

	if pub.endpoints == nil {
		t.Error("NewPublisher() did not initialize endpoints map")
	}
}

func TestPublish_NoWebhook(t *testing.T) {
	pub := NewPublisher("test-service")

	data := map[string]any{
		"seller": "alice",
		"price":  "100",
	}

	if err := pub.Publish(context.Background(), EventItemListed, "0xabc/1", data); err != nil {
		t.Errorf("Publish() without webhook error: %v", err)
	}
}

func TestPublish_Listener(t *testing.T) {
	pub := NewPublisher("test-service")

	var got []Envelope
	pub.Subscribe(func(ctx context.Context, env Envelope) {
		got = append(got, env)
	})

	pub.Publish(context.Background(), EventItemBought, "0xabc/1", map[string]any{"buyer": "bob"})

	if len(got) != 1 {
		t.Fatalf("listener received %d envelopes, want 1", len(got))
	}
	if got[0].EventType != EventItemBought {
		t.Errorf("EventType = %v, want %v", got[0].EventType, EventItemBought)
	}
	if got[0].Subject != "0xabc/1" {
		t.Errorf("Subject = %v, want 0xabc/1", got[0].Subject)
	}
	if got[0].Data["buyer"] != "bob" {
		t.Errorf("Data buyer = %v, want bob", got[0].Data["buyer"])
	}
}

func TestPublish_WithWebhook(t *testing.T) {
	var (
		mu               sync.Mutex
		receivedEvent    bool
		receivedEnvelope Envelope
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		receivedEvent = true

		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Missing Content-Type header")
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Errorf("Missing Idempotency-Key header")
		}

		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &receivedEnvelope)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewPublisher("test-service")
	pub.RegisterEndpoint(EventItemListed, server.URL)

	data := map[string]any{
		"seller":     "alice",
		"collection": "0xabc",
		"token_id":   "1",
	}

	if err := pub.Publish(context.Background(), EventItemListed, "0xabc/1", data); err != nil {
		t.Fatalf("Publish() with webhook error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if !receivedEvent {
		t.Fatal("Webhook was not called")
	}

	if receivedEnvelope.EventType != EventItemListed {
		t.Errorf("Envelope EventType = %v, want %v", receivedEnvelope.EventType, EventItemListed)
	}

	if receivedEnvelope.Source != "test-service" {
		t.Errorf("Envelope Source = %v, want test-service", receivedEnvelope.Source)
	}

	if receivedEnvelope.Data["seller"] != "alice" {
		t.Errorf("Envelope Data seller = %v, want alice", receivedEnvelope.Data["seller"])
	}
}

func TestPublish_CatchAll(t *testing.T) {
	var count int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := NewPublisher("test-service")
	pub.RegisterCatchAll(server.URL)

	for _, eventType := range AllEventTypes {
		pub.Publish(context.Background(), eventType, "0xabc/1", map[string]any{})
	}

	mu.Lock()
	defer mu.Unlock()
	if count != len(AllEventTypes) {
		t.Errorf("catch-all webhook called %d times, want %d", count, len(AllEventTypes))
	}
}

func TestPublish_WebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pub := NewPublisher("test-service")
	pub.RegisterEndpoint(EventItemCanceled, server.URL)

	// committed state must not be reported as failed because a webhook is down
	err := pub.Publish(context.Background(), EventItemCanceled, "0xabc/1", map[string]any{"seller": "alice"})
	if err != nil {
		t.Errorf("Publish() should not error on webhook failure, got: %v", err)
	}
}

func TestEnvelope_Structure(t *testing.T) {
	pub := NewPublisher("test-service")

	var env Envelope
	pub.Subscribe(func(ctx context.Context, e Envelope) { env = e })
	pub.Publish(context.Background(), EventProceedsWithdrawn, "alice", map[string]any{"amount": "100"})

	if !strings.HasPrefix(env.EventID, "evt_") {
		t.Errorf("Envelope EventID = %v, want evt_ prefix", env.EventID)
	}

	if env.SchemaVersion != "1.0" {
		t.Errorf("Envelope SchemaVersion = %v, want 1.0", env.SchemaVersion)
	}

	if env.Timestamp.IsZero() {
		t.Error("Envelope Timestamp is zero")
	}

	if !strings.HasPrefix(env.IdempotencyKey, EventProceedsWithdrawn+"_alice_") {
		t.Errorf("Envelope IdempotencyKey = %v", env.IdempotencyKey)
	}
}

func TestGenerateEventID(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		id := generateEventID()

		if ids[id] {
			t.Errorf("generateEventID() generated duplicate ID: %v", id)
		}
		ids[id] = true
	}
}
