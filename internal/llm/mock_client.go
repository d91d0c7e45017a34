package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockClient is a scripted Client. Respond, when set, computes each reply;
// otherwise Responses are returned in order and the last one repeats.
type MockClient struct {
	Err       error
	Respond   func(req ObjectRequest) (json.RawMessage, error)
	Responses []string
	requests  []ObjectRequest
	mu        sync.Mutex
}

// CompleteObject records the request and returns the scripted reply.
func (m *MockClient) CompleteObject(_ context.Context, req ObjectRequest) (json.RawMessage, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Respond != nil {
		return m.Respond(req)
	}
	if len(m.Responses) == 0 {
		return json.RawMessage(`{"reason":"","ruleName":"","noMatchFound":true}`), nil
	}
	idx := n - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return parseObject(m.Responses[idx], req.Schema)
}

// Requests returns every recorded request.
func (m *MockClient) Requests() []ObjectRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ObjectRequest(nil), m.requests...)
}

// CallCount returns the number of requests made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
