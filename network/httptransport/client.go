package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/replogio/replog/network"
	"github.com/replogio/replog/wire"
)

// Client is a network.Peer that reaches a remote replica's Server over
// HTTP. A non-2xx response (in particular the 503 a non-VOTING replica's
// Server answers with) surfaces as an error, so callers never count it
// toward a quorum — the same effect spec §7 asks a dropped/ignored
// request to have.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ network.Peer = &Client{}

// New returns a Client reaching the replica's Server at baseURL (e.g.
// "http://10.0.0.5:8080").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) Promise(ctx context.Context, req wire.PromiseRequest) (wire.PromiseResponse, error) {
	var resp wire.PromiseResponse
	err := c.call(ctx, "/promise", req, &resp)
	return resp, err
}

func (c *Client) Write(ctx context.Context, req wire.WriteRequest) (wire.WriteResponse, error) {
	var resp wire.WriteResponse
	err := c.call(ctx, "/write", req, &resp)
	return resp, err
}

func (c *Client) Learned(ctx context.Context, msg wire.LearnedMessage) {
	_ = c.call(ctx, "/learned", msg, nil)
}

func (c *Client) Recover(ctx context.Context, req wire.RecoverRequest) (wire.RecoverResponse, error) {
	var resp wire.RecoverResponse
	err := c.call(ctx, "/recover", req, &resp)
	return resp, err
}

func (c *Client) call(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httptransport: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("httptransport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("httptransport: %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode/100 != 2 {
		return fmt.Errorf("httptransport: %s: status %d", path, httpResp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("httptransport: %s: decode response: %w", path, err)
	}
	return nil
}
