package inference

import (
	"context"
	"sync"
)

// Mock implements Provider for tests.
type Mock struct {
	ChatFunc   func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	VisionFunc func(ctx context.Context, req *VisionRequest) (*VisionResponse, error)
	HealthFunc func(ctx context.Context) error

	// CapabilitiesOverride replaces the capabilities derived from the funcs.
	CapabilitiesOverride *Capabilities

	mu    sync.Mutex
	calls []string
	last  *ChatRequest
}

var _ Provider = (*Mock)(nil)

// NewMock returns a mock that answers every chat with reply.
func NewMock(reply string) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Message: NewAssistantMessage(reply), FinishReason: "stop"}, nil
		},
	}
}

// WithError returns a mock that fails every call with err.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(context.Context, *ChatRequest) (*ChatResponse, error) { return nil, err },
		VisionFunc: func(context.Context, *VisionRequest) (*VisionResponse, error) {
			return nil, err
		},
		HealthFunc: func(context.Context) error { return err },
	}
}

func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.record("Chat")
	m.mu.Lock()
	m.last = req
	m.mu.Unlock()
	if m.ChatFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m.ChatFunc(ctx, req)
}

func (m *Mock) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	m.record("Vision")
	if m.VisionFunc == nil {
		return nil, WrapError("mock", ErrVisionNotSupported)
	}
	return m.VisionFunc(ctx, req)
}

func (m *Mock) Capabilities() Capabilities {
	if m.CapabilitiesOverride != nil {
		return *m.CapabilitiesOverride
	}
	return Capabilities{Chat: m.ChatFunc != nil, Vision: m.VisionFunc != nil}
}

func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

func (m *Mock) Close() error { return nil }

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

// CallCount returns how often method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

// LastChat returns the most recent chat request, or nil.
func (m *Mock) LastChat() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
