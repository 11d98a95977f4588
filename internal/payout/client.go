package payout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/httpclient"
)

// Client releases payouts through a remote payment service. Every request
// carries the reference as its idempotency key, so transient failures are retried.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

func NewClient(baseURL string, timeout time.Duration, auth httpclient.AuthProvider) *Client {
	hc := httpclient.NewClient("aex-marketplace-payout", timeout)
	if auth != nil {
		hc = hc.WithAuth(auth)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// ReleaseRequest is the body of POST /v1/payouts
type ReleaseRequest struct {
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

// ReleaseResponse is returned by the payment service
type ReleaseResponse struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
}

func (c *Client) Release(ctx context.Context, to string, amount decimal.Decimal, reference string) (string, error) {
	req := ReleaseRequest{
		To:        to,
		Amount:    amount.String(),
		Reference: reference,
	}

	var resp ReleaseResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/v1/payouts", reference, req, &resp); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
			return "", fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return "", err
	}
	if resp.Status != "" && resp.Status != "completed" {
		return "", fmt.Errorf("%w: status %s", ErrRejected, resp.Status)
	}
	return resp.PayoutID, nil
}
