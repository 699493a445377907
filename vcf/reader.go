package vcf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Lines are capped at 8 MB, large multi-sample records stay well below this.
const maxLineSize = 8 * 1000000

// Reader streams a VCF file. The full header is consumed up front so record
// parsing always runs against the complete set of declarations.
type Reader struct {
	scanner *bufio.Scanner
	header  *Header
	line    int
}

// NewReader parses the header of input and positions the reader on the first
// data line. Errors carry the 1-based line they occurred on.
func NewReader(input io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	reader := &Reader{scanner: scanner}
	header := newHeader()
	for scanner.Scan() {
		reader.line++
		line := scanner.Text()
		switch {
		case reader.line == 1 && !strings.HasPrefix(line, "##fileformat="):
			return nil, NewLineError(1, fmt.Errorf("%w: first line is not ##fileformat", ErrMalformedHeader))
		case strings.HasPrefix(line, "##"):
			if err := header.addMetaLine(line); err != nil {
				return nil, NewLineError(reader.line, err)
			}
		case strings.HasPrefix(line, "#"):
			if err := header.setColumnLine(line); err != nil {
				return nil, NewLineError(reader.line, err)
			}
			reader.header = header
			return reader, nil
		default:
			return nil, NewLineError(reader.line, fmt.Errorf("%w: data line before column header", ErrMalformedHeader))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, NewLineError(reader.line, fmt.Errorf("%w: missing column header line", ErrMalformedHeader))
}

// Header returns the parsed header.
func (r *Reader) Header() *Header {
	return r.header
}

// Next returns the next record, io.EOF after the last one. Blank lines are
// skipped.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Text()
		if line == "" {
			continue
		}
		record, err := r.header.ParseRecord(line)
		if err != nil {
			return nil, NewLineError(r.line, err)
		}
		return record, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Line returns the 1-based line number of the most recently read line.
func (r *Reader) Line() int {
	return r.line
}
