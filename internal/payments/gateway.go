package payments

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotConfigured = errors.New("payments: publishable key not configured")
	ErrBadKey        = errors.New("payments: publishable key is malformed")
)

// Checkout happens on the provider's hosted page; the bot only needs to know
// whether the handoff can proceed.
type Gateway interface {
	Ready(ctx context.Context) error
}

type HostedCheckout struct {
	publishableKey string
}

func NewHostedCheckout(publishableKey string) *HostedCheckout {
	return &HostedCheckout{publishableKey: strings.TrimSpace(publishableKey)}
}

var _ Gateway = (*HostedCheckout)(nil)

func (g *HostedCheckout) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.publishableKey == "" {
		return ErrNotConfigured
	}
	if !strings.HasPrefix(g.publishableKey, "pk_") {
		return ErrBadKey
	}
	return nil
}
