package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/httpclient"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

// Client talks to a remote registry service over HTTP. Reads are retried by
// the underlying client; transfers are not, since they carry no idempotency key.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

func NewClient(baseURL string, timeout time.Duration, auth httpclient.AuthProvider) *Client {
	hc := httpclient.NewClient("aex-marketplace-registry", timeout)
	if auth != nil {
		hc = hc.WithAuth(auth)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

type ownerResponse struct {
	Owner string `json:"owner"`
}

type approvedResponse struct {
	Approved string `json:"approved"`
}

type operatorResponse struct {
	Approved bool `json:"approved"`
}

// TransferRequest is the body of a registry transfer call
type TransferRequest struct {
	Operator string `json:"operator"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (c *Client) OwnerOf(ctx context.Context, asset model.AssetKey) (string, error) {
	var resp ownerResponse
	if err := c.http.GetJSON(ctx, c.tokenURL(asset, "owner"), &resp); err != nil {
		return "", mapError(err)
	}
	return resp.Owner, nil
}

func (c *Client) GetApproved(ctx context.Context, asset model.AssetKey) (string, error) {
	var resp approvedResponse
	if err := c.http.GetJSON(ctx, c.tokenURL(asset, "approved"), &resp); err != nil {
		return "", mapError(err)
	}
	return resp.Approved, nil
}

func (c *Client) IsApprovedForAll(ctx context.Context, collection, owner, operator string) (bool, error) {
	u := fmt.Sprintf("%s/v1/collections/%s/owners/%s/operators/%s",
		c.baseURL, url.PathEscape(collection), url.PathEscape(owner), url.PathEscape(operator))

	var resp operatorResponse
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return false, mapError(err)
	}
	return resp.Approved, nil
}

func (c *Client) TransferFrom(ctx context.Context, operator, from, to string, asset model.AssetKey) error {
	req := TransferRequest{Operator: operator, From: from, To: to}
	if err := c.http.PostJSON(ctx, c.tokenURL(asset, "transfer"), "", req, nil); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *Client) tokenURL(asset model.AssetKey, action string) string {
	return fmt.Sprintf("%s/v1/collections/%s/tokens/%s/%s",
		c.baseURL, url.PathEscape(asset.Collection), url.PathEscape(asset.TokenID), action)
}

func mapError(err error) error {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrTokenNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
		}
	}
	return err
}
