package vcfcrypt

import (
	"fmt"
	"unicode"
)

// CheckToken verifies that a ciphertext token can be spliced into a record
// without breaking the file grammar. Reserved delimiters would be re-parsed
// as structure, whitespace would corrupt the column layout, and an empty or
// "." token would be indistinguishable from a missing value.
func CheckToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrUnsafeCiphertext)
	}
	if token == "." {
		return fmt.Errorf("%w: token equals the missing value", ErrUnsafeCiphertext)
	}
	for _, char := range token {
		switch char {
		case '\t', ':', ',', ';', '<', '>', '=':
			return fmt.Errorf("%w: token contains reserved character %q", ErrUnsafeCiphertext, char)
		}
		if unicode.IsSpace(char) {
			return fmt.Errorf("%w: token contains whitespace", ErrUnsafeCiphertext)
		}
	}
	return nil
}
