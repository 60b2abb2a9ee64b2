package keys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	scheme  string
	err     error
	encrypt func(plaintext []byte) []byte
	decrypt func(ciphertext []byte) []byte
}

func (s *stubProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.encrypt(plaintext), s.scheme, nil
}

func (s *stubProvider) Decrypt(_ context.Context, ciphertext []byte, _ string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.decrypt(ciphertext), nil
}

func reversing(scheme string) *stubProvider {
	reverse := func(in []byte) []byte {
		out := make([]byte, len(in))
		for i, b := range in {
			out[len(in)-1-i] = b
		}
		return out
	}
	return &stubProvider{scheme: scheme, encrypt: reverse, decrypt: reverse}
}

func TestChain_PrefersManaged(t *testing.T) {
	managed := reversing("vault-docs")
	local := reversing(SchemeLocal)
	chain := NewChain(managed, "vault-docs", local)

	ciphertext, scheme, err := chain.Encrypt(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "vault-docs", scheme)

	plaintext, err := chain.Decrypt(context.Background(), ciphertext, scheme)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(plaintext))
}

func TestChain_FallsBackToLocal(t *testing.T) {
	managed := &stubProvider{err: errors.New("connection refused")}
	local := reversing(SchemeLocal)

	var fallbackErr error
	chain := NewChain(managed, "vault-docs", local, WithFallbackHook(func(err error) {
		fallbackErr = err
	}))

	ciphertext, scheme, err := chain.Encrypt(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, SchemeLocal, scheme, "fallback must be recorded in the scheme ID")
	assert.Error(t, fallbackErr)

	plaintext, err := chain.Decrypt(context.Background(), ciphertext, scheme)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(plaintext))
}

func TestChain_NoLocalFallback(t *testing.T) {
	managed := &stubProvider{err: errors.New("connection refused")}
	chain := NewChain(managed, "vault-docs", nil)

	_, _, err := chain.Encrypt(context.Background(), []byte("abc"))
	assert.Error(t, err)
}

func TestChain_DecryptNeverGuesses(t *testing.T) {
	chain := NewChain(reversing("vault-docs"), "vault-docs", reversing(SchemeLocal))

	_, err := chain.Decrypt(context.Background(), []byte("anything"), "SOME_FUTURE_SCHEME")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestChain_PlaintextPassthrough(t *testing.T) {
	chain := NewChain(nil, "", nil)

	plaintext, err := chain.Decrypt(context.Background(), []byte("as-is"), SchemeNone)
	require.NoError(t, err)
	assert.Equal(t, "as-is", string(plaintext))
}

func TestLocalProvider_RoundTrip(t *testing.T) {
	provider, err := NewLocalProvider("vault passphrase")
	require.NoError(t, err)

	ciphertext, scheme, err := provider.Encrypt(context.Background(), []byte("SSN 123-45-6789"))
	require.NoError(t, err)
	assert.Equal(t, SchemeLocal, scheme)
	assert.NotEqual(t, "SSN 123-45-6789", string(ciphertext))

	plaintext, err := provider.Decrypt(context.Background(), ciphertext, scheme)
	require.NoError(t, err)
	assert.Equal(t, "SSN 123-45-6789", string(plaintext))
}

func TestLocalProvider_RequiresPassphrase(t *testing.T) {
	_, err := NewLocalProvider("")
	assert.Error(t, err)
}

func TestLocalProvider_RejectsForeignScheme(t *testing.T) {
	provider, err := NewLocalProvider("passphrase")
	require.NoError(t, err)

	_, err = provider.Decrypt(context.Background(), []byte("whatever"), "vault-docs")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestManagedProvider_EncryptDecrypt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch r.URL.Path {
		case "/v1/transit/encrypt/vault-docs":
			resp := map[string]any{"data": map[string]string{
				"ciphertext": "vault:v1:" + req["plaintext"],
			}}
			json.NewEncoder(w).Encode(resp)
		case "/v1/transit/decrypt/vault-docs":
			resp := map[string]any{"data": map[string]string{
				"plaintext": req["ciphertext"][len("vault:v1:"):],
			}}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	provider, err := NewManagedProvider(ManagedConfig{
		Address: srv.URL,
		Token:   "test-token",
		KeyName: "vault-docs",
	})
	require.NoError(t, err)

	ciphertext, scheme, err := provider.Encrypt(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "vault-docs", scheme)
	expected := "vault:v1:" + base64.StdEncoding.EncodeToString([]byte("payload"))
	assert.Equal(t, expected, string(ciphertext))

	plaintext, err := provider.Decrypt(context.Background(), ciphertext, scheme)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plaintext))
}

func TestManagedProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "sealed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider, err := NewManagedProvider(ManagedConfig{Address: srv.URL, KeyName: "vault-docs"})
	require.NoError(t, err)

	_, _, err = provider.Encrypt(context.Background(), []byte("payload"))
	assert.Error(t, err)
}

func TestManagedProvider_ConfigValidation(t *testing.T) {
	_, err := NewManagedProvider(ManagedConfig{KeyName: "vault-docs"})
	assert.Error(t, err)

	_, err = NewManagedProvider(ManagedConfig{Address: "http://127.0.0.1:8200"})
	assert.Error(t, err)
}

func TestManagedProvider_DecryptWrongScheme(t *testing.T) {
	provider, err := NewManagedProvider(ManagedConfig{
		Address: "http://127.0.0.1:8200",
		KeyName: "vault-docs",
	})
	require.NoError(t, err)

	_, err = provider.Decrypt(context.Background(), []byte("x"), "other-key")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}
