// Package vaulttransit wraps run keys with the HashiCorp Vault Transit
// engine. The transit key never leaves Vault, only the wrapped data key is
// stored in the sidecar.
package vaulttransit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"

	"github.com/vcfsec/vcfcrypt"
)

// Service implements vcfcrypt.KeyService over the Vault Transit engine.
type Service struct {
	client *api.Client
}

// New builds the service from the standard Vault environment, VAULT_ADDR and
// VAULT_TOKEN. The transit engine must already be enabled.
func New() (*Service, error) {
	config := api.DefaultConfig()
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		config.Address = addr
	}
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	return &Service{client: client}, nil
}

// NewWithClient wraps an existing Vault client.
func NewWithClient(client *api.Client) *Service {
	return &Service{client: client}
}

// GetKeyID returns the transit key name unchanged, in Vault the alias is the
// key.
func (s *Service) GetKeyID(ctx context.Context, alias string) (string, error) {
	if alias == "" {
		return "", fmt.Errorf("%w: empty key name", vcfcrypt.ErrInvalidConfig)
	}
	return alias, nil
}

// EncryptDEK wraps a data key with the named transit key. The result is the
// Vault ciphertext string, "vault:v1:" followed by base64.
func (s *Service) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	if keyID == "" {
		return nil, fmt.Errorf("%w: empty key name", vcfcrypt.ErrInvalidConfig)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty data key", vcfcrypt.ErrNoKey)
	}

	// Vault Transit expects base64-encoded plaintext
	resp, err := s.client.Logical().WriteWithContext(ctx, "transit/encrypt/"+keyID, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("transit encrypt with key %q: %w", keyID, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, errors.New("no response from transit encrypt")
	}
	ciphertext, ok := resp.Data["ciphertext"].(string)
	if !ok {
		return nil, errors.New("ciphertext missing from transit response")
	}
	return []byte(ciphertext), nil
}

// DecryptDEK unwraps a data key wrapped by EncryptDEK.
func (s *Service) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	if keyID == "" {
		return nil, fmt.Errorf("%w: empty key name", vcfcrypt.ErrInvalidConfig)
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty wrapped key", vcfcrypt.ErrNoKey)
	}

	resp, err := s.client.Logical().WriteWithContext(ctx, "transit/decrypt/"+keyID, map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		return nil, fmt.Errorf("transit decrypt with key %q: %w", keyID, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, errors.New("no response from transit decrypt")
	}
	plaintextBase64, ok := resp.Data["plaintext"].(string)
	if !ok {
		return nil, errors.New("plaintext missing from transit response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(plaintextBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transit plaintext: %w", err)
	}
	return plaintext, nil
}
