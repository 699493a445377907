package vcfcrypt

import "context"

// Provider defines the contract for value-level encryption and decryption.
//
// The transform engine treats ciphertext as fully opaque: it never inspects
// key material, algorithms or token internals. Anything satisfying this
// interface can drive a run, from a local AES-GCM key to a remote service.
//
// Tokens returned by Encrypt are spliced verbatim into VCF records, so they
// must survive there unescaped. A token must never contain a tab, colon,
// comma, semicolon, whitespace, angle bracket or equals sign, must never be
// empty, and must never equal the missing token ".". The engine re-checks
// every token and aborts the run on a violation, but providers are expected
// to get this right by construction.
//
// Implementations:
//   - Local AES-256-GCM: github.com/vcfsec/vcfcrypt/providers/localkey
//
// Remote key services plug in underneath a local provider through the
// KeyService interface rather than implementing Provider themselves.
type Provider interface {
	// Encrypt seals one field value and returns its ciphertext token.
	//
	// The plaintext is the exact raw bytes of the sub-value as it appeared
	// in the record, including any commas of a multi-element value.
	Encrypt(ctx context.Context, plaintext []byte) (string, error)

	// Decrypt opens a ciphertext token produced by Encrypt and returns the
	// original sub-value bytes.
	Decrypt(ctx context.Context, token string) ([]byte, error)

	// IsToken reports whether raw has the shape of a token this provider
	// produces. It must not perform any cryptography.
	IsToken(raw string) bool

	// Name identifies the provider in reports and sidecar files.
	Name() string
}

// KeyService defines the contract for wrapping data encryption keys with a
// key held by an external key management system.
//
// A run encrypts values with a locally generated DEK (data encryption key).
// The KeyService never sees field data, it only encrypts the DEK itself so
// that the wrapped form can be stored in the sidecar file next to the field
// type map.
//
// Implementations:
//   - AWS KMS: github.com/vcfsec/vcfcrypt/providers/awskms
//   - HashiCorp Vault Transit: github.com/vcfsec/vcfcrypt/providers/vaulttransit
type KeyService interface {
	// GetKeyID resolves a key alias to the identifier used by EncryptDEK
	// and DecryptDEK. Vault returns the key name unchanged, AWS resolves
	// aliases like "alias/my-key" to the underlying key ID.
	GetKeyID(ctx context.Context, alias string) (string, error)

	// EncryptDEK encrypts a plaintext DEK under the named key. The result
	// is an opaque byte blob, the sidecar stores it base64-encoded.
	EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)

	// DecryptDEK recovers a plaintext DEK previously wrapped by EncryptDEK.
	DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
}
