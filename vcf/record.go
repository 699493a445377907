package vcf

import (
	"fmt"
	"strings"
)

// Record is a single data line. The eight fixed columns are kept as raw text
// so untouched records serialize back byte for byte, only the per-sample
// fields are addressable.
type Record struct {
	Chrom  string
	Pos    string
	ID     string
	Ref    string
	Alt    string
	Qual   string
	Filter string
	Info   string

	FormatKeys []string
	Samples    [][]string
}

// ParseRecord splits a data line against the column layout declared by the
// header. The column count must match the header exactly, short sample
// columns are only allowed through trailing field truncation.
func (h *Header) ParseRecord(line string) (*Record, error) {
	columns := strings.Split(line, "\t")
	expected := len(fixedColumns)
	if h.hasFormat {
		expected = 9 + len(h.Samples)
	}
	if len(columns) != expected {
		return nil, fmt.Errorf("%w: %d columns, expected %d", ErrMalformedRecord, len(columns), expected)
	}
	for i := range fixedColumns {
		if columns[i] == "" {
			return nil, fmt.Errorf("%w: empty %s column", ErrMalformedRecord, strings.TrimPrefix(fixedColumns[i], "#"))
		}
	}
	for _, digit := range columns[1] {
		if digit < '0' || digit > '9' {
			return nil, fmt.Errorf("%w: position %q is not numeric", ErrMalformedRecord, columns[1])
		}
	}

	record := &Record{
		Chrom:  columns[0],
		Pos:    columns[1],
		ID:     columns[2],
		Ref:    columns[3],
		Alt:    columns[4],
		Qual:   columns[5],
		Filter: columns[6],
		Info:   columns[7],
	}
	if !h.hasFormat {
		return record, nil
	}

	record.FormatKeys = strings.Split(columns[8], ":")
	for _, key := range record.FormatKeys {
		if key == "" {
			return nil, fmt.Errorf("%w: empty FORMAT key", ErrMalformedRecord)
		}
	}
	record.Samples = make([][]string, len(h.Samples))
	for i, column := range columns[9:] {
		subValues := strings.Split(column, ":")
		if len(subValues) > len(record.FormatKeys) {
			return nil, fmt.Errorf("%w: sample %s has %d fields, FORMAT declares %d",
				ErrMalformedRecord, h.Samples[i], len(subValues), len(record.FormatKeys))
		}
		for _, subValue := range subValues {
			if subValue == "" {
				return nil, fmt.Errorf("%w: empty field in sample %s", ErrMalformedRecord, h.Samples[i])
			}
		}
		record.Samples[i] = subValues
	}
	return record, nil
}

// formatIndex returns the position of fieldID in the FORMAT column, -1 when
// the record does not carry it.
func (r *Record) formatIndex(fieldID string) int {
	for i, key := range r.FormatKeys {
		if key == fieldID {
			return i
		}
	}
	return -1
}

// HasField reports whether the record's FORMAT column declares fieldID.
func (r *Record) HasField(fieldID string) bool {
	return r.formatIndex(fieldID) >= 0
}

// SubValue returns the raw value of fieldID for the given sample. Positions
// cut off by trailing truncation read as missing.
func (r *Record) SubValue(sampleIdx int, fieldID string) (string, error) {
	idx := r.formatIndex(fieldID)
	if idx < 0 {
		return "", fmt.Errorf("%w: FORMAT/%s", ErrFieldAbsent, fieldID)
	}
	sample := r.Samples[sampleIdx]
	if idx >= len(sample) {
		return ".", nil
	}
	return sample[idx], nil
}

// SetSubValue overwrites the raw value of fieldID for the given sample. A
// sample truncated before the field is padded with missing values first, so
// positions between the old end and the field stay missing.
func (r *Record) SetSubValue(sampleIdx int, fieldID string, raw string) error {
	idx := r.formatIndex(fieldID)
	if idx < 0 {
		return fmt.Errorf("%w: FORMAT/%s", ErrFieldAbsent, fieldID)
	}
	sample := r.Samples[sampleIdx]
	for len(sample) <= idx {
		sample = append(sample, ".")
	}
	sample[idx] = raw
	r.Samples[sampleIdx] = sample
	return nil
}

// String writes the record back out as a data line. Untouched records
// reproduce their input exactly, truncated samples stay truncated.
func (r *Record) String() string {
	columns := []string{r.Chrom, r.Pos, r.ID, r.Ref, r.Alt, r.Qual, r.Filter, r.Info}
	if r.FormatKeys != nil {
		columns = append(columns, strings.Join(r.FormatKeys, ":"))
		for _, sample := range r.Samples {
			columns = append(columns, strings.Join(sample, ":"))
		}
	}
	return strings.Join(columns, "\t")
}
