package vcf

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader is returned when a meta line or the column header
	// line cannot be parsed.
	ErrMalformedHeader = errors.New("malformed header line")

	// ErrMalformedRecord is returned when a data line does not follow the
	// column layout declared by the header.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnknownField is returned when a field ID has no declaration in the
	// header.
	ErrUnknownField = errors.New("unknown field")

	// ErrFieldAbsent is returned when a field is declared in the header but
	// not present in the FORMAT column of a record.
	ErrFieldAbsent = errors.New("field absent from record")

	// ErrTypeMismatch is returned when a field value cannot be interpreted
	// under its declared type and number.
	ErrTypeMismatch = errors.New("value does not match declared type")
)

// LineError wraps an error with the 1-based line number of the input it
// occurred on.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// NewLineError attaches a line number to err. A nil err returns nil.
func NewLineError(line int, err error) error {
	if err == nil {
		return nil
	}
	return &LineError{Line: line, Err: err}
}
