// Package vcfio opens VCF streams for reading and writing. It resolves "-"
// to the standard streams and handles BGZF and plain gzip compression based
// on the file extension and the gzip magic bytes.
package vcfio

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/gzip"
)

// stdioName is the path that selects stdin or stdout.
const stdioName = "-"

// readCloser closes every underlying closer when Close is called.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var err error
	for _, c := range rc.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// writeCloser closes the compressor before the file so the trailing blocks
// are flushed.
type writeCloser struct {
	io.Writer
	closers []io.Closer
}

func (wc *writeCloser) Close() error {
	var err error
	for _, c := range wc.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func isBlockGzipPath(path string) bool {
	return strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".bgz")
}

// Open opens path for reading. "-" reads from stdin. Files ending in .gz or
// .bgz that carry the BGZF EOF block are read as BGZF, anything else with
// the gzip magic bytes is read as plain gzip.
func Open(path string) (io.ReadCloser, error) {
	if path == stdioName {
		return wrapReader(os.Stdin)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if isBlockGzipPath(path) {
		if ok, err := bgzf.HasEOF(fh); err == nil && ok {
			bg, err := bgzf.NewReader(fh, 1)
			if err != nil {
				fh.Close()
				return nil, err
			}
			return &readCloser{Reader: bg, closers: []io.Closer{bg, fh}}, nil
		}
	}

	rc, err := wrapReader(fh, fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	return rc, nil
}

// wrapReader sniffs the two gzip magic bytes and decompresses when they are
// present. BGZF read from a stream also lands here, the gzip reader walks
// its concatenated blocks.
func wrapReader(r io.Reader, closers ...io.Closer) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: gz, closers: append([]io.Closer{gz}, closers...)}, nil
	}
	return &readCloser{Reader: br, closers: closers}, nil
}

// Create opens path for writing, truncating any existing file. "-" writes to
// stdout. Files ending in .gz or .bgz are written as BGZF so downstream
// indexers can use them.
func Create(path string) (io.WriteCloser, error) {
	if path == stdioName {
		return &writeCloser{Writer: os.Stdout}, nil
	}

	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	if isBlockGzipPath(path) {
		bg := bgzf.NewWriter(fh, 1)
		return &writeCloser{Writer: bg, closers: []io.Closer{bg, fh}}, nil
	}
	return fh, nil
}
