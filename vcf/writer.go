package vcf

import (
	"bufio"
	"errors"
	"io"
)

// Writer writes a VCF file, header first, then records.
type Writer struct {
	buf        *bufio.Writer
	headerDone bool
}

func NewWriter(output io.Writer) *Writer {
	return &Writer{buf: bufio.NewWriter(output)}
}

// WriteHeader writes the full header. It must be called exactly once, before
// the first record.
func (w *Writer) WriteHeader(header *Header) error {
	if w.headerDone {
		return errors.New("vcf: header already written")
	}
	if err := header.Serialize(w.buf); err != nil {
		return err
	}
	w.headerDone = true
	return nil
}

// WriteRecord writes a single data line.
func (w *Writer) WriteRecord(record *Record) error {
	if !w.headerDone {
		return errors.New("vcf: header not written")
	}
	_, err := w.buf.WriteString(record.String() + "\n")
	return err
}

// Flush forces buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}
