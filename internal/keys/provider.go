// Package keys selects and records the key mechanism used to protect vault
// content. Every ciphertext carries a scheme ID naming the mechanism that
// produced it; decryption dispatches on that ID and never guesses.
package keys

import (
	"context"
	"errors"
	"fmt"
)

// SchemeLocal is the scheme ID recorded for locally derived AES-256-GCM
// envelopes.
const SchemeLocal = "FIPS_AES256_GCM"

// SchemeNone is the scheme ID recorded when encryption is disabled and
// content is stored as-is.
const SchemeNone = ""

// ErrUnknownScheme indicates a ciphertext recorded a scheme this provider
// cannot decrypt.
var ErrUnknownScheme = errors.New("keys: unknown encryption scheme")

// Provider encrypts and decrypts opaque payloads. Encrypt reports the scheme
// ID that must be presented to Decrypt for the same payload.
type Provider interface {
	Encrypt(ctx context.Context, plaintext []byte) (ciphertext []byte, schemeID string, err error)
	Decrypt(ctx context.Context, ciphertext []byte, schemeID string) ([]byte, error)
}

// Chain prefers a managed key service and falls back to local derivation
// when the managed service is unavailable. The fallback is recorded in the
// returned scheme ID so retrieval always takes the right path.
type Chain struct {
	managed Provider
	local   Provider

	managedScheme string
	onFallback    func(err error)
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithFallbackHook registers a callback invoked when a managed encrypt
// fails and the chain falls back to the local provider.
func WithFallbackHook(fn func(err error)) ChainOption {
	return func(c *Chain) { c.onFallback = fn }
}

// NewChain builds a provider chain. managed may be nil, in which case the
// chain only uses local derivation. managedScheme is the scheme ID the
// managed provider reports (its key name).
func NewChain(managed Provider, managedScheme string, local Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		managed:       managed,
		local:         local,
		managedScheme: managedScheme,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encrypt encrypts via the managed service when configured, falling back to
// local derivation on any managed failure.
func (c *Chain) Encrypt(ctx context.Context, plaintext []byte) ([]byte, string, error) {
	if c.managed != nil {
		ciphertext, scheme, err := c.managed.Encrypt(ctx, plaintext)
		if err == nil {
			return ciphertext, scheme, nil
		}
		if c.onFallback != nil {
			c.onFallback(err)
		}
	}
	if c.local == nil {
		return nil, "", errors.New("keys: no local provider configured for fallback")
	}
	return c.local.Encrypt(ctx, plaintext)
}

// Decrypt dispatches strictly on the recorded scheme ID.
func (c *Chain) Decrypt(ctx context.Context, ciphertext []byte, schemeID string) ([]byte, error) {
	switch {
	case schemeID == SchemeNone:
		return ciphertext, nil
	case c.managed != nil && schemeID == c.managedScheme:
		return c.managed.Decrypt(ctx, ciphertext, schemeID)
	case c.local != nil && schemeID == SchemeLocal:
		return c.local.Decrypt(ctx, ciphertext, schemeID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, schemeID)
	}
}
