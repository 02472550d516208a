package custody

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

// RPCClient posts hold instructions to a single custody endpoint.
type RPCClient struct {
	baseURL string
	client  *http.Client
}

func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RPCClient) BaseURL() string {
	return c.baseURL
}

func (c *RPCClient) Lock(ctx context.Context, hold Hold) error {
	return c.postJSON(ctx, c.baseURL+"/escrows", hold)
}

func (c *RPCClient) Release(ctx context.Context, escrowID string) error {
	return c.postJSON(ctx, c.baseURL+"/escrows/"+url.PathEscape(escrowID)+"/release", nil)
}

func (c *RPCClient) Refund(ctx context.Context, escrowID string) error {
	return c.postJSON(ctx, c.baseURL+"/escrows/"+url.PathEscape(escrowID)+"/refund", nil)
}

func (c *RPCClient) postJSON(ctx context.Context, endpoint string, in any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if msg != "" {
			return fmt.Errorf("custody http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("custody http status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
