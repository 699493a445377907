// Package vcfcrypt rewrites selected per-sample FORMAT fields of VCF files
// into ciphertext while leaving every structural property of the file intact.
// Column layout, record order, field order, header declarations and untouched
// values all survive byte for byte, so encrypted files keep flowing through
// standard VCF tooling.
//
// Encryption replaces each non-missing sub-value of a targeted field with an
// opaque token and widens the field's declared Type to String, since
// ciphertext no longer satisfies the original type. The original types travel
// in a sidecar file and are restored on decryption.
package vcfcrypt
