// Package localkey implements field encryption with a locally held
// AES-256-GCM key.
//
// Tokens are "VC1" + base64url(nonce + ciphertext). The base64url alphabet
// is disjoint from every delimiter of the record grammar, so tokens splice
// into records without escaping.
package localkey

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/vcfsec/vcfcrypt"
)

const (
	tokenPrefix = "VC1"

	// KeySize is the provider key length in bytes.
	KeySize = 32

	// SaltSize is the passphrase salt length in bytes.
	SaltSize = 16
)

// The HKDF salt is fixed so derivation is reproducible across runs.
const hkdfSalt = "vcfcrypt-field-encryption"

// argon2id parameters for passphrase stretching
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Provider encrypts field values with AES-256-GCM. Safe for concurrent use.
type Provider struct {
	gcm cipher.AEAD
}

// New creates a provider from a raw 256-bit key.
func New(key []byte) (*Provider, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", vcfcrypt.ErrNoKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcfcrypt.ErrNoKey, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcfcrypt.ErrNoKey, err)
	}
	return &Provider{gcm: gcm}, nil
}

// Generate creates a provider under a fresh random key and returns the key
// alongside it, so a key service can wrap it for the sidecar.
func Generate() (*Provider, []byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", vcfcrypt.ErrNoKey, err)
	}
	provider, err := New(key)
	if err != nil {
		return nil, nil, err
	}
	return provider, key, nil
}

// Derive builds the provider key from a high-entropy master secret with
// HKDF-SHA256. The purpose string isolates the derived key from other uses
// of the same secret.
func Derive(masterSecret []byte, purpose string) (*Provider, error) {
	if len(masterSecret) == 0 {
		return nil, fmt.Errorf("%w: empty master secret", vcfcrypt.ErrNoKey)
	}
	reader := hkdf.New(sha256.New, masterSecret, []byte(hkdfSalt), []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", vcfcrypt.ErrNoKey, err)
	}
	return New(key)
}

// FromPassphrase stretches a passphrase with argon2id under the given salt
// and derives the provider key from the result. The same passphrase and salt
// always yield the same key, the salt travels in the sidecar.
func FromPassphrase(passphrase, salt []byte) (*Provider, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", vcfcrypt.ErrNoKey)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", vcfcrypt.ErrNoKey, SaltSize, len(salt))
	}
	master := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
	return Derive(master, "format-fields")
}

// NewSalt returns a fresh random salt for FromPassphrase.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Encrypt seals plaintext into a grammar-safe token.
func (p *Provider) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	nonce := make([]byte, p.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := p.gcm.Seal(nonce, nonce, plaintext, nil)
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (p *Provider) Decrypt(ctx context.Context, token string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(token, tokenPrefix) {
		return nil, fmt.Errorf("token lacks the %s prefix", tokenPrefix)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, tokenPrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid token encoding: %w", err)
	}
	nonceSize := p.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("token too short")
	}
	plaintext, err := p.gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// IsToken reports whether raw carries the token prefix. A plaintext value
// that happens to start with the prefix classifies as a token and will fail
// decryption rather than pass through silently.
func (p *Provider) IsToken(raw string) bool {
	return strings.HasPrefix(raw, tokenPrefix)
}

// Name identifies the provider in reports and sidecar files.
func (p *Provider) Name() string {
	return "aes-256-gcm"
}
