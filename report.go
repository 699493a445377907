package vcfcrypt

import (
	"fmt"

	"github.com/hengadev/errsx"
	"github.com/vcfsec/vcfcrypt/vcf"
)

// Failure pinpoints one record or sub-value a pass could not transform.
type Failure struct {
	Line   int
	Sample string
	Field  string
	Err    error
}

func (f Failure) location() string {
	loc := fmt.Sprintf("line %d", f.Line)
	if f.Sample != "" {
		loc += ", sample " + f.Sample
	}
	if f.Field != "" {
		loc += ", field " + f.Field
	}
	return loc
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.location(), f.Err)
}

// Report summarizes one encryption or decryption pass.
type Report struct {
	RecordsIn  int
	RecordsOut int

	// Encrypted and Decrypted count transformed sub-values per field ID.
	Encrypted map[string]int
	Decrypted map[string]int

	// MissingSkipped counts targeted sub-values left alone because they
	// held the missing token.
	MissingSkipped int

	// Passthrough counts sub-values under a mapped field that already held
	// plaintext during a lenient decryption pass.
	Passthrough int

	// TypeMismatches counts decrypted values that do not satisfy the
	// restored field type. The values are still written back, the count
	// flags a probable mismatch between sidecar and input.
	TypeMismatches int

	// OriginalTypes holds the declared type each targeted field had before
	// widening. Callers persist it through the sidecar file.
	OriginalTypes map[string]vcf.FieldType

	// Failures lists the records or values a lenient pass skipped.
	Failures []Failure
}

func newReport() *Report {
	return &Report{
		Encrypted:     map[string]int{},
		Decrypted:     map[string]int{},
		OriginalTypes: map[string]vcf.FieldType{},
	}
}

func (r *Report) addFailure(line int, sample, field string, err error) {
	r.Failures = append(r.Failures, Failure{Line: line, Sample: sample, Field: field, Err: err})
}

// Err folds the accumulated failures into a single error, nil when the pass
// had none.
func (r *Report) Err() error {
	var errs errsx.Map
	for _, failure := range r.Failures {
		errs.Set(failure.location(), failure.Err)
	}
	return errs.AsError()
}
