package custody

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MultiClient sends every call to the current endpoint and moves on to the
// next one when it fails.
type MultiClient struct {
	clients       []*RPCClient
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiClient(endpoints []string, failThreshold int, timeout time.Duration) (*MultiClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("custody endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*RPCClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewRPCClient(ep, timeout))
	}
	return &MultiClient{clients: clients, failThreshold: failThreshold}, nil
}

func (m *MultiClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].baseURL
}

func (m *MultiClient) Lock(ctx context.Context, hold Hold) error {
	return m.do(ctx, func(c *RPCClient) error { return c.Lock(ctx, hold) })
}

func (m *MultiClient) Release(ctx context.Context, escrowID string) error {
	return m.do(ctx, func(c *RPCClient) error { return c.Release(ctx, escrowID) })
}

func (m *MultiClient) Refund(ctx context.Context, escrowID string) error {
	return m.do(ctx, func(c *RPCClient) error { return c.Refund(ctx, escrowID) })
}

func (m *MultiClient) do(ctx context.Context, call func(*RPCClient) error) error {
	var lastErr error
	for attempts := 0; attempts < len(m.clients); attempts++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		client, idx := m.currentClient()
		err := call(client)
		if err == nil {
			m.resetFailures(idx)
			return nil
		}
		lastErr = err
		m.noteFailure(idx)
		if m.shouldRotate() || len(m.clients) > 1 {
			m.rotate(idx)
		}
	}
	return lastErr
}

func (m *MultiClient) currentClient() (*RPCClient, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiClient) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
}

func (m *MultiClient) shouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failCount >= m.failThreshold
}

// rotate advances past idx unless another caller already did.
func (m *MultiClient) rotate(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return
	}
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
