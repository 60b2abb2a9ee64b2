// Package crypto implements the FIPS-style AES-256-GCM envelope format used
// by the vault. An envelope is the base64 encoding of
// salt(32) || iv(12) || tag(16) || ciphertext, which keeps stored blobs
// self-contained: the salt re-derives a password-based key and the tag
// authenticates the whole payload.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 32
	// IVSize is the GCM nonce length in bytes (96 bits).
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// Iterations is the PBKDF2 iteration count (NIST minimum guidance).
	Iterations = 100000

	headerSize = SaltSize + IVSize + TagSize
)

var (
	// ErrFormat indicates a malformed envelope (bad base64 or shorter than
	// the fixed header).
	ErrFormat = errors.New("crypto: malformed envelope")

	// ErrIntegrity indicates the authentication tag did not verify.
	ErrIntegrity = errors.New("crypto: integrity check failed")

	// ErrNoKey indicates decryption was attempted without any key material.
	// The original key cannot be recovered from the envelope alone; callers
	// must supply the password or the raw key explicitly.
	ErrNoKey = errors.New("crypto: no key material available")
)

// DeriveKey derives a 256-bit key from a password and salt using
// PBKDF2-HMAC-SHA256.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// NewKey returns a fresh random 256-bit key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a key derived from password with a fresh
// salt and IV. Two calls with identical inputs never produce the same
// envelope.
func Encrypt(plaintext []byte, password string) (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	return seal(plaintext, DeriveKey(password, salt), salt)
}

// EncryptWithKey seals plaintext under an explicit 256-bit key. The salt
// field of the envelope is still populated (with random bytes) so the
// layout stays fixed, but it carries no key material.
func EncryptWithKey(plaintext, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	return seal(plaintext, key, salt)
}

func seal(plaintext, key, salt []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// Seal appends ciphertext||tag; the envelope wants salt||iv||tag||ct.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	envelope := make([]byte, 0, headerSize+len(ct))
	envelope = append(envelope, salt...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ct...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope using a key derived from password and the salt
// recorded in the envelope header.
func Decrypt(envelope, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrNoKey
	}
	salt, iv, tag, ct, err := parse(envelope)
	if err != nil {
		return nil, err
	}
	return open(DeriveKey(password, salt), iv, tag, ct)
}

// DecryptWithKey opens an envelope using an explicit 256-bit key, ignoring
// the recorded salt.
func DecryptWithKey(envelope string, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrNoKey
	}
	_, iv, tag, ct, err := parse(envelope)
	if err != nil {
		return nil, err
	}
	return open(key, iv, tag, ct)
}

func parse(envelope string) (salt, iv, tag, ct []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(raw) < headerSize {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrFormat, len(raw), headerSize)
	}
	salt = raw[:SaltSize]
	iv = raw[SaltSize : SaltSize+IVSize]
	tag = raw[SaltSize+IVSize : headerSize]
	ct = raw[headerSize:]
	return salt, iv, tag, ct, nil
}

func open(key, iv, tag, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
