package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/httpclient"
)

// Listener receives envelopes in-process after they are published
type Listener func(ctx context.Context, env Envelope)

// Publisher fans events out to in-process listeners and webhooks
type Publisher struct {
	source     string
	httpClient *httpclient.Client

	mu        sync.RWMutex
	endpoints map[string]string // eventType -> webhook URL
	catchAll  string
	listeners []Listener
}

// NewPublisher creates a new event publisher
func NewPublisher(source string) *Publisher {
	return &Publisher{
		source:     source,
		httpClient: httpclient.NewClient(source+"-events", 5*time.Second),
		endpoints:  make(map[string]string),
	}
}

// RegisterEndpoint registers a webhook endpoint for an event type
func (p *Publisher) RegisterEndpoint(eventType, webhookURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[eventType] = webhookURL
}

// RegisterCatchAll registers a webhook receiving every event type without a
// dedicated endpoint
func (p *Publisher) RegisterCatchAll(webhookURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catchAll = webhookURL
}

// Subscribe adds an in-process listener
func (p *Publisher) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Publish delivers an event. Webhook failures are logged, never returned:
// events describe state that is already committed.
func (p *Publisher) Publish(ctx context.Context, eventType, subject string, data map[string]any) error {
	envelope := Envelope{
		EventID:        generateEventID(),
		EventType:      eventType,
		SchemaVersion:  "1.0",
		IdempotencyKey: fmt.Sprintf("%s_%s_%d", eventType, subject, time.Now().UnixNano()),
		Timestamp:      time.Now().UTC(),
		Source:         p.source,
		Subject:        subject,
		Data:           data,
	}

	slog.InfoContext(ctx, "event_published",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"subject", envelope.Subject,
		"source", envelope.Source,
	)

	p.mu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	webhookURL, ok := p.endpoints[eventType]
	if !ok {
		webhookURL = p.catchAll
	}
	p.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, envelope)
	}

	if webhookURL != "" {
		p.sendWebhook(ctx, webhookURL, envelope)
	}
	return nil
}

func (p *Publisher) sendWebhook(ctx context.Context, url string, envelope Envelope) {
	if err := p.httpClient.PostJSON(ctx, url, envelope.EventID, envelope, nil); err != nil {
		slog.WarnContext(ctx, "webhook_failed",
			"url", url,
			"event_type", envelope.EventType,
			"error", err,
		)
	}
}

func generateEventID() string {
	return "evt_" + uuid.NewString()
}
