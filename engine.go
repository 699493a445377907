package vcfcrypt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vcfsec/vcfcrypt/vcf"
)

// Encryptor rewrites the targeted FORMAT fields of a VCF file into
// ciphertext tokens, widening each field's declared Type to String the first
// time a value of it is actually encrypted.
type Encryptor struct {
	provider Provider
	opts     options
}

// NewEncryptor builds an encryption pass over provider. At least one target
// field must be named through WithTargets.
func NewEncryptor(provider Provider, opts ...Option) (*Encryptor, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	o := defaultOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	if len(o.targets) == 0 {
		return nil, fmt.Errorf("%w: no target fields", ErrInvalidConfig)
	}
	return &Encryptor{provider: provider, opts: o}, nil
}

// Run encrypts input and writes the complete transformed file to output.
// The output is built before anything is written, so the header always
// carries the final declarations and a failed run leaves output empty.
func (e *Encryptor) Run(ctx context.Context, input io.Reader, output io.Writer) (*Report, error) {
	reader, err := vcf.NewReader(input)
	if err != nil {
		return nil, err
	}
	header := reader.Header()

	report := newReport()
	for _, fieldID := range e.opts.targets {
		decl, err := header.FormatDeclaration(fieldID)
		if err != nil {
			return nil, fmt.Errorf("%w: FORMAT/%s", ErrUnknownTarget, fieldID)
		}
		report.OriginalTypes[fieldID] = decl.Type
	}

	state := &runState{header: header, report: report}
	records, lineNums, err := readAllRecords(reader, e.opts.lenient, state)
	if err != nil {
		return nil, err
	}

	transform := func(ctx context.Context, line int, record *vcf.Record) error {
		return e.encryptRecord(ctx, record, state)
	}
	if err := runTransforms(ctx, records, lineNums, e.opts, state, transform, isEncryptFatal); err != nil {
		return nil, err
	}
	return finishRun(header, records, output, report)
}

func (e *Encryptor) encryptRecord(ctx context.Context, record *vcf.Record, state *runState) error {
	for _, fieldID := range e.opts.targets {
		if !record.HasField(fieldID) {
			continue
		}
		for sampleIdx := range record.Samples {
			raw, err := record.SubValue(sampleIdx, fieldID)
			if err != nil {
				return err
			}
			if raw == "." {
				state.countMissing()
				continue
			}
			token, err := e.provider.Encrypt(ctx, []byte(raw))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrProvider, err)
			}
			if err := CheckToken(token); err != nil {
				return err
			}
			if err := record.SetSubValue(sampleIdx, fieldID, token); err != nil {
				return err
			}
			if err := state.markEncrypted(fieldID); err != nil {
				return err
			}
		}
	}
	return nil
}

// isEncryptFatal reports errors that abort an encryption pass even in
// lenient mode. A grammar-breaking token means the provider is incompatible,
// continuing would fail on every value.
func isEncryptFatal(err error) bool {
	return errors.Is(err, ErrUnsafeCiphertext) || isCtxError(err)
}

func isCtxError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// runState carries the pieces the transform workers mutate concurrently.
type runState struct {
	mu     sync.Mutex
	header *vcf.Header
	report *Report
}

// markEncrypted widens the field's declared type and counts the value. The
// widening is idempotent, only the first encrypted value of a field dirties
// the header line.
func (s *runState) markEncrypted(fieldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.header.SetFormatType(fieldID, vcf.TypeString); err != nil {
		return err
	}
	s.report.Encrypted[fieldID]++
	return nil
}

func (s *runState) countMissing() {
	s.mu.Lock()
	s.report.MissingSkipped++
	s.mu.Unlock()
}

func (s *runState) countDecrypted(fieldID string) {
	s.mu.Lock()
	s.report.Decrypted[fieldID]++
	s.mu.Unlock()
}

func (s *runState) countPassthrough() {
	s.mu.Lock()
	s.report.Passthrough++
	s.mu.Unlock()
}

func (s *runState) countTypeMismatch() {
	s.mu.Lock()
	s.report.TypeMismatches++
	s.mu.Unlock()
}

func (s *runState) fail(line int, sample, field string, err error) {
	s.mu.Lock()
	s.report.addFailure(line, sample, field, err)
	s.mu.Unlock()
}

// readAllRecords drains the reader. In lenient mode malformed records are
// reported and skipped, otherwise the first parse error aborts.
func readAllRecords(reader *vcf.Reader, lenient bool, state *runState) ([]*vcf.Record, []int, error) {
	var records []*vcf.Record
	var lineNums []int
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, lineNums, nil
		}
		if err != nil {
			if lenient && errors.Is(err, vcf.ErrMalformedRecord) {
				state.report.RecordsIn++
				state.fail(reader.Line(), "", "", err)
				continue
			}
			return nil, nil, err
		}
		state.report.RecordsIn++
		records = append(records, record)
		lineNums = append(lineNums, reader.Line())
	}
}

// runTransforms applies transform to every record, fanning out to workers
// when more than one is configured. Records keep their input positions, a
// lenient pass withholds failed records by clearing their slot.
func runTransforms(
	ctx context.Context,
	records []*vcf.Record,
	lineNums []int,
	opts options,
	state *runState,
	transform func(context.Context, int, *vcf.Record) error,
	fatal func(error) bool,
) error {
	if opts.workers == 1 {
		for i, record := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := transform(ctx, lineNums[i], record); err != nil {
				if opts.lenient && !fatal(err) {
					state.fail(lineNums[i], "", "", err)
					records[i] = nil
					continue
				}
				return vcf.NewLineError(lineNums[i], err)
			}
		}
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	errc := make(chan error, opts.workers)
	var wg sync.WaitGroup
	for worker := 0; worker < opts.workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				err := transform(wctx, lineNums[i], records[i])
				if err == nil {
					continue
				}
				if opts.lenient && !fatal(err) {
					state.fail(lineNums[i], "", "", err)
					records[i] = nil
					continue
				}
				errc <- vcf.NewLineError(lineNums[i], err)
				cancel()
				return
			}
		}()
	}

	for i := range records {
		select {
		case jobs <- i:
		case <-wctx.Done():
		}
		if wctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
		return ctx.Err()
	}
}

// finishRun serializes the transformed file, header first, then the
// surviving records in input order.
func finishRun(header *vcf.Header, records []*vcf.Record, output io.Writer, report *Report) (*Report, error) {
	writer := vcf.NewWriter(output)
	if err := writer.WriteHeader(header); err != nil {
		return report, err
	}
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := writer.WriteRecord(record); err != nil {
			return report, err
		}
		report.RecordsOut++
	}
	if err := writer.Flush(); err != nil {
		return report, err
	}
	return report, nil
}
