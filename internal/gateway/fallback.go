package gateway

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGateway attempts a primary provider first and falls back on error.
type FallbackGateway struct {
	primary  Gateway
	fallback Gateway
}

func NewFallbackGateway(primary Gateway, fallback Gateway) *FallbackGateway {
	return &FallbackGateway{
		primary:  primary,
		fallback: fallback,
	}
}

// Primary returns the preferred gateway used before fallback.
func (g *FallbackGateway) Primary() Gateway {
	if g == nil {
		return nil
	}
	return g.primary
}

// Secondary returns the fallback gateway.
func (g *FallbackGateway) Secondary() Gateway {
	if g == nil {
		return nil
	}
	return g.fallback
}

func (g *FallbackGateway) Provider() string {
	switch {
	case g == nil:
		return ""
	case g.primary == nil && g.fallback != nil:
		return g.fallback.Provider()
	case g.fallback == nil && g.primary != nil:
		return g.primary.Provider()
	case g.primary == nil:
		return ""
	}
	return g.primary.Provider() + "+" + g.fallback.Provider()
}

func (g *FallbackGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.fallback != nil {
			return g.fallback.Complete(ctx, messages)
		}
		return "", fmt.Errorf("fallback gateway misconfigured")
	}

	reply, err := g.primary.Complete(ctx, messages)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if g.fallback == nil {
		return "", err
	}
	fallbackReply, fallbackErr := g.fallback.Complete(ctx, messages)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary provider error: %w; fallback provider error: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}
