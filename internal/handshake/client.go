package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DialTimeout bounds an outbound handshake request as a whole: connect,
// send, and reading the response all share this one budget.
const DialTimeout = 5 * time.Second

// Client performs outbound handshakes against remote nodes.
type Client struct {
	http *http.Client
}

// NewClient constructs a handshake client with a bounded per-request
// timeout, grounded on the teacher's use of a dedicated http.Client with
// explicit timeouts rather than the zero-value default client.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: DialTimeout}}
}

// Do POSTs req to the peer at httpEndpoint ("host:port") and decodes its
// response. ctx bounds the whole round trip in addition to the client's own
// timeout.
func (c *Client) Do(ctx context.Context, httpEndpoint string, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("handshake: encode request: %w", err)
	}

	url := fmt.Sprintf("http://%s/network/handshake", httpEndpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("handshake: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("handshake: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("handshake: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("handshake: peer rejected connection (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Response{}, fmt.Errorf("handshake: decode response: %w", err)
	}
	return out, nil
}
