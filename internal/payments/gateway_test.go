package payments

import (
	"context"
	"errors"
	"testing"
)

func TestHostedCheckoutReady(t *testing.T) {
	if err := NewHostedCheckout("pk_test_abc").Ready(context.Background()); err != nil {
		t.Fatalf("expected ready gateway, got %v", err)
	}

	err := NewHostedCheckout("").Ready(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	err = NewHostedCheckout("sk_test_abc").Ready(context.Background())
	if !errors.Is(err, ErrBadKey) {
		t.Fatalf("expected ErrBadKey for secret key, got %v", err)
	}
}
