package llm

import (
	"context"
	"sync"
)

// Mock implements Provider for testing.
type Mock struct {
	// ChatFunc is called when Chat is invoked. If nil, a canned reply
	// is returned.
	ChatFunc func(ctx context.Context, req ChatRequest) (string, error)

	// ModelsFunc is called when Models is invoked.
	ModelsFunc func(ctx context.Context) ([]Model, error)

	// GenerateFunc is called when Generate is invoked.
	GenerateFunc func(ctx context.Context, model, prompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

// NewMock creates a mock with canned responses.
func NewMock() *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req ChatRequest) (string, error) {
			return "canned reply", nil
		},
		ModelsFunc: func(ctx context.Context) ([]Model, error) {
			return []Model{{Name: "llama3.2"}}, nil
		},
		GenerateFunc: func(ctx context.Context, model, prompt string) (string, error) {
			return "canned completion", nil
		},
	}
}

// Chat calls ChatFunc and records the call.
func (m *Mock) Chat(ctx context.Context, req ChatRequest) (string, error) {
	m.record("Chat")
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return "", ErrEmptyResponse
}

// Models calls ModelsFunc and records the call.
func (m *Mock) Models(ctx context.Context) ([]Model, error) {
	m.record("Models")
	if m.ModelsFunc != nil {
		return m.ModelsFunc(ctx)
	}
	return nil, nil
}

// Generate calls GenerateFunc and records the call.
func (m *Mock) Generate(ctx context.Context, model, prompt string) (string, error) {
	m.record("Generate")
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, model, prompt)
	}
	return "", ErrEmptyResponse
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}

// Calls returns the methods invoked so far, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
