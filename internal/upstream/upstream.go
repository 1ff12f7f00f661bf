// Package upstream forwards chat-completion requests to the provider behind
// the proxy.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds an upstream round-trip when New is given a
// non-positive timeout.
const DefaultTimeout = 120 * time.Second

// Client posts chat-completion requests to the upstream provider. Buffered
// requests run on a client with a full-request timeout; streaming requests
// run on a separate client whose timeout covers only the response headers,
// because an SSE body legitimately stays open far longer than any
// per-request deadline.
type Client struct {
	baseURL string
	apiKey  string

	client       *http.Client
	streamClient *http.Client
}

// New creates a Client for the provider at baseURL. A trailing slash on
// baseURL is dropped. The API key may be empty, in which case no
// Authorization header is sent.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		streamClient: &http.Client{
			// Client.Timeout would apply to the whole exchange, body
			// included, and cut long streams short. Bound the handshake and
			// header phases instead and let ctx govern the body.
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
	}
}

// Post sends body to POST <base>/v1/chat/completions and returns the
// response exactly as the provider produced it, error statuses included.
// The caller owns resp.Body.
func (c *Client) Post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	cl := c.client
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		cl = c.streamClient
	}

	resp, err := cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: POST %s: %w", url, err)
	}
	return resp, nil
}
