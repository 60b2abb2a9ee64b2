package keys

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ManagedConfig configures the managed key-management client.
type ManagedConfig struct {
	// Address is the base URL of the key-management service.
	Address string
	// Token authenticates requests to the service.
	Token string
	// KeyName is the named key used for encrypt/decrypt; it doubles as the
	// scheme ID recorded on ciphertexts.
	KeyName string
	// Namespace is an optional tenancy namespace header.
	Namespace string
	// Timeout bounds each request (default: 10s).
	Timeout time.Duration
}

// ManagedProvider encrypts and decrypts through a transit-style
// key-management service. The service holds the key material; this client
// only ever sees plaintext and opaque ciphertext.
type ManagedProvider struct {
	address   string
	token     string
	keyName   string
	namespace string
	client    *http.Client
}

// NewManagedProvider creates a managed key provider.
func NewManagedProvider(cfg ManagedConfig) (*ManagedProvider, error) {
	if cfg.Address == "" {
		return nil, errors.New("keys: managed address is required")
	}
	if cfg.KeyName == "" {
		return nil, errors.New("keys: managed key name is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &ManagedProvider{
		address:   strings.TrimRight(cfg.Address, "/"),
		token:     cfg.Token,
		keyName:   cfg.KeyName,
		namespace: cfg.Namespace,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Scheme returns the scheme ID recorded on ciphertexts produced by this
// provider.
func (p *ManagedProvider) Scheme() string {
	return p.keyName
}

// Encrypt sends plaintext to the managed service and returns the opaque
// ciphertext it produced.
func (p *ManagedProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, string, error) {
	endpoint := fmt.Sprintf("%s/v1/transit/encrypt/%s", p.address, p.keyName)

	var payload struct {
		Data struct {
			Ciphertext string `json:"ciphertext"`
		} `json:"data"`
	}
	body := map[string]string{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}
	if err := p.post(ctx, endpoint, body, &payload); err != nil {
		return nil, "", err
	}
	if payload.Data.Ciphertext == "" {
		return nil, "", errors.New("keys: managed service returned empty ciphertext")
	}

	return []byte(payload.Data.Ciphertext), p.keyName, nil
}

// Decrypt sends opaque ciphertext back to the managed service.
func (p *ManagedProvider) Decrypt(ctx context.Context, ciphertext []byte, schemeID string) ([]byte, error) {
	if schemeID != p.keyName {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, schemeID)
	}

	endpoint := fmt.Sprintf("%s/v1/transit/decrypt/%s", p.address, p.keyName)

	var payload struct {
		Data struct {
			Plaintext string `json:"plaintext"`
		} `json:"data"`
	}
	body := map[string]string{
		"ciphertext": string(ciphertext),
	}
	if err := p.post(ctx, endpoint, body, &payload); err != nil {
		return nil, err
	}

	plaintext, err := base64.StdEncoding.DecodeString(payload.Data.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("keys: decode managed plaintext: %w", err)
	}
	return plaintext, nil
}

func (p *ManagedProvider) post(ctx context.Context, endpoint string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("keys: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("keys: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("X-Vault-Token", p.token)
	}
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("keys: managed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keys: managed service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("keys: decode managed response: %w", err)
	}
	return nil
}
