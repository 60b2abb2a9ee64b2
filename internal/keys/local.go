package keys

import (
	"context"
	"errors"

	"github.com/docvault/docvault/internal/crypto"
)

// LocalProvider derives AES-256-GCM keys from a configured passphrase and
// seals payloads in the self-contained envelope format. It is the fallback
// when no managed key service is reachable.
type LocalProvider struct {
	passphrase string
}

// NewLocalProvider creates a local provider. The passphrase is required;
// without it the provider could neither seal nor open anything.
func NewLocalProvider(passphrase string) (*LocalProvider, error) {
	if passphrase == "" {
		return nil, errors.New("keys: local passphrase is required")
	}
	return &LocalProvider{passphrase: passphrase}, nil
}

// Encrypt seals plaintext with a key derived from the configured passphrase.
func (p *LocalProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, string, error) {
	envelope, err := crypto.Encrypt(plaintext, p.passphrase)
	if err != nil {
		return nil, "", err
	}
	return []byte(envelope), SchemeLocal, nil
}

// Decrypt opens an envelope sealed by this provider.
func (p *LocalProvider) Decrypt(_ context.Context, ciphertext []byte, schemeID string) ([]byte, error) {
	if schemeID != SchemeLocal {
		return nil, ErrUnknownScheme
	}
	return crypto.Decrypt(string(ciphertext), p.passphrase)
}
