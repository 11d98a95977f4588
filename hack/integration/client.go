package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the integration test client for the marketplace API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new integration test client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx marketplace response
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Request makes an HTTP request as caller
func (c *Client) Request(ctx context.Context, caller, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}

	return c.http.Do(req)
}

// JSON makes a request and decodes the JSON response. Error bodies are
// returned as *APIError.
func (c *Client) JSON(ctx context.Context, caller, method, path string, body, result any) error {
	resp, err := c.Request(ctx, caller, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(bodyBytes, &e); err != nil {
			return &APIError{Status: resp.StatusCode, Message: string(bodyBytes)}
		}
		return &APIError{Status: resp.StatusCode, Code: e.Error.Code, Message: e.Error.Message}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// HealthCheck checks if the marketplace is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.Request(ctx, "", http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// Marketplace API

type Listing struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
}

type Receipt struct {
	Seller string `json:"seller"`
	Buyer  string `json:"buyer"`
	Price  string `json:"price"`
	Paid   string `json:"paid"`
}

type Withdrawal struct {
	Seller   string `json:"seller"`
	Amount   string `json:"amount"`
	PayoutID string `json:"payout_id"`
}

type Proceeds struct {
	Seller  string `json:"seller"`
	Balance string `json:"balance"`
}

type Entry struct {
	ID          string `json:"id"`
	EntryType   string `json:"entry_type"`
	Amount      string `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

func listingPath(collection, tokenID string) string {
	return "/v1/listings/" + url.PathEscape(collection) + "/" + url.PathEscape(tokenID)
}

func (c *Client) ListItem(ctx context.Context, caller, collection, tokenID, price string) (*Listing, error) {
	var result Listing
	body := map[string]string{"collection": collection, "token_id": tokenID, "price": price}
	err := c.JSON(ctx, caller, http.MethodPost, "/v1/listings", body, &result)
	return &result, err
}

func (c *Client) UpdateListing(ctx context.Context, caller, collection, tokenID, price string) (*Listing, error) {
	var result Listing
	err := c.JSON(ctx, caller, http.MethodPut, listingPath(collection, tokenID), map[string]string{"price": price}, &result)
	return &result, err
}

func (c *Client) CancelListing(ctx context.Context, caller, collection, tokenID string) error {
	return c.JSON(ctx, caller, http.MethodDelete, listingPath(collection, tokenID), nil, nil)
}

func (c *Client) GetListing(ctx context.Context, collection, tokenID string) (*Listing, error) {
	var result Listing
	err := c.JSON(ctx, "", http.MethodGet, listingPath(collection, tokenID), nil, &result)
	return &result, err
}

func (c *Client) ListListings(ctx context.Context, collection string) ([]Listing, error) {
	var result struct {
		Listings []Listing `json:"listings"`
	}
	err := c.JSON(ctx, "", http.MethodGet, "/v1/listings?collection="+url.QueryEscape(collection), nil, &result)
	return result.Listings, err
}

func (c *Client) BuyItem(ctx context.Context, caller, collection, tokenID, payment string) (*Receipt, error) {
	var result Receipt
	err := c.JSON(ctx, caller, http.MethodPost, listingPath(collection, tokenID)+"/purchase", map[string]string{"payment": payment}, &result)
	return &result, err
}

func (c *Client) WithdrawProceeds(ctx context.Context, caller string) (*Withdrawal, error) {
	var result Withdrawal
	err := c.JSON(ctx, caller, http.MethodPost, "/v1/proceeds/withdraw", nil, &result)
	return &result, err
}

func (c *Client) GetProceeds(ctx context.Context, seller string) (*Proceeds, error) {
	var result Proceeds
	err := c.JSON(ctx, "", http.MethodGet, "/v1/proceeds/"+url.PathEscape(seller), nil, &result)
	return &result, err
}

func (c *Client) ListEntries(ctx context.Context, seller string) ([]Entry, error) {
	var result struct {
		Entries []Entry `json:"entries"`
	}
	err := c.JSON(ctx, "", http.MethodGet, "/v1/proceeds/"+url.PathEscape(seller)+"/entries", nil, &result)
	return result.Entries, err
}
