package vcfcrypt

import (
	"errors"

	"github.com/vcfsec/vcfcrypt/vcf"
)

var (
	// ErrUnknownTarget is returned when a targeted field has no FORMAT
	// declaration in the header. The run fails before any output is written.
	ErrUnknownTarget = errors.New("targeted field is not declared in the header")

	// ErrUnsafeCiphertext is returned when a provider emits a token that
	// would break the record grammar. It always aborts the run.
	ErrUnsafeCiphertext = errors.New("ciphertext token would break the record grammar")

	// ErrDecryptionFailed is returned when a ciphertext token cannot be
	// opened, or when the recovered plaintext does not satisfy the restored
	// field type.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotCiphertext is returned in strict mode when a mapped field holds
	// a value that does not look like a ciphertext token.
	ErrNotCiphertext = errors.New("value is not a ciphertext token")

	// ErrProvider wraps failures inside the crypto provider.
	ErrProvider = errors.New("crypto provider failure")

	// ErrNoKey is returned when a provider cannot be built from the given
	// key material.
	ErrNoKey = errors.New("no usable key material")

	// ErrInvalidConfig is returned when a run configuration does not
	// validate.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidSidecar is returned when a sidecar file does not validate.
	ErrInvalidSidecar = errors.New("invalid sidecar")
)

// IsConfigError reports whether err stems from how the run was set up rather
// than from the input data. Config errors surface before any output exists.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownTarget) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidSidecar) ||
		errors.Is(err, ErrNoKey)
}

// IsDataError reports whether err was caused by the content of the input
// file.
func IsDataError(err error) bool {
	return errors.Is(err, vcf.ErrMalformedHeader) ||
		errors.Is(err, vcf.ErrMalformedRecord) ||
		errors.Is(err, vcf.ErrTypeMismatch) ||
		errors.Is(err, ErrNotCiphertext) ||
		errors.Is(err, ErrDecryptionFailed)
}
