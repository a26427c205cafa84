package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Synthesizer for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns a small fake WAV payload sized to the text.
	SynthesizeFunc func(ctx context.Context, text, voiceID string, rate float64) ([]byte, error)

	// VoicesFunc is called when Voices is invoked.
	// If nil, returns a single default voice.
	VoicesFunc func(ctx context.Context) ([]string, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Voice  string
	Rate   float64
	Time   time.Time
}

// NewMock creates a new mock with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
			// A few bytes per character stands in for real WAV data.
			return make([]byte, 8+len(text)*4), nil
		},
		VoicesFunc: func(ctx context.Context) ([]string, error) {
			return []string{"en_US-amy-medium"}, nil
		},
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
	m.recordCall("Synthesize", text, voiceID, rate)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, voiceID, rate)
	}
	return nil, ErrNoVoice
}

// Voices calls VoicesFunc and records the call.
func (m *Mock) Voices(ctx context.Context) ([]string, error) {
	m.recordCall("Voices", "", "", 0)
	if m.VoicesFunc != nil {
		return m.VoicesFunc(ctx)
	}
	return nil, nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "", "", 0)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method, text, voice string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Voice:  voice,
		Rate:   rate,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose methods always return the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
			return nil, err
		},
		VoicesFunc: func(ctx context.Context) ([]string, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency to synthesis.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text, voiceID string, rate float64) ([]byte, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if original != nil {
			return original(ctx, text, voiceID, rate)
		}
		return nil, ErrNoVoice
	}
	return m
}

// Verify Mock implements Synthesizer at compile time.
var _ Synthesizer = (*Mock)(nil)
