package inference

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-spider/internal/log"
)

// Chain tries providers in order until one succeeds.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

var _ Provider = (*Chain)(nil)

// NewChain creates a provider chain. At least one provider is required.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    log.Or(logger).With("component", "inference.chain"),
	}, nil
}

// Chat tries each chat-capable provider in turn.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return try(ctx, c, func(p Provider) bool { return p.Capabilities().Chat },
		func(p Provider) (*ChatResponse, error) { return p.Chat(ctx, req) })
}

// Vision tries each vision-capable provider in turn.
func (c *Chain) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	return try(ctx, c, func(p Provider) bool { return p.Capabilities().Vision },
		func(p Provider) (*VisionResponse, error) { return p.Vision(ctx, req) })
}

func try[T any](ctx context.Context, c *Chain, capable func(Provider) bool, call func(Provider) (T, error)) (T, error) {
	var zero T
	var errs []error
	for i, p := range c.providers {
		if !capable(p) {
			continue
		}
		resp, err := call(p)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i)
			}
			return resp, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		c.logger.Warn("provider failed, trying next", "provider_index", i, "error", err)
	}
	if len(errs) == 0 {
		return zero, ErrProviderUnavailable
	}
	return zero, &ChainError{Errors: errs}
}

// Capabilities is the union of the members'.
func (c *Chain) Capabilities() Capabilities {
	var caps Capabilities
	for _, p := range c.providers {
		pc := p.Capabilities()
		caps.Chat = caps.Chat || pc.Chat
		caps.Vision = caps.Vision || pc.Vision
	}
	return caps
}

// Health passes if any member is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return &ChainError{Errors: errs}
}

// Close closes every member.
func (c *Chain) Close() error {
	var first error
	for _, p := range c.providers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Providers returns the chain members.
func (c *Chain) Providers() []Provider { return c.providers }
