package vcfcrypt

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vcfsec/vcfcrypt/vcf"
)

// Decryptor restores the plaintext of fields encrypted by an Encryptor. The
// original field types come from the type map recorded at encryption time,
// usually loaded from a sidecar file.
type Decryptor struct {
	provider Provider
	types    map[string]vcf.FieldType
	fields   []string
	opts     options
}

// NewDecryptor builds a decryption pass over provider. The type map names
// every field to decrypt together with its pre-encryption type. WithTargets
// narrows the pass to a subset of the mapped fields.
func NewDecryptor(provider Provider, types map[string]vcf.FieldType, opts ...Option) (*Decryptor, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	o := defaultOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: empty field type map", ErrInvalidConfig)
	}

	kept := make(map[string]vcf.FieldType, len(types))
	for fieldID, typ := range types {
		switch typ {
		case vcf.TypeInteger, vcf.TypeFloat, vcf.TypeCharacter, vcf.TypeString:
			kept[fieldID] = typ
		default:
			return nil, fmt.Errorf("%w: field %s maps to invalid type %q", ErrInvalidConfig, fieldID, typ)
		}
	}

	var fields []string
	if o.targets != nil {
		for _, fieldID := range o.targets {
			if _, ok := kept[fieldID]; !ok {
				return nil, fmt.Errorf("%w: target %s has no entry in the type map", ErrInvalidConfig, fieldID)
			}
		}
		fields = append(fields, o.targets...)
	} else {
		for fieldID := range kept {
			fields = append(fields, fieldID)
		}
	}
	sort.Strings(fields)

	return &Decryptor{provider: provider, types: kept, fields: fields, opts: o}, nil
}

// Run decrypts input and writes the complete restored file to output. Header
// types are restored for every mapped field the file declares, fields absent
// from this file are ignored. Like encryption, nothing is written until the
// whole input has been transformed.
func (d *Decryptor) Run(ctx context.Context, input io.Reader, output io.Writer) (*Report, error) {
	reader, err := vcf.NewReader(input)
	if err != nil {
		return nil, err
	}
	header := reader.Header()

	report := newReport()
	state := &runState{header: header, report: report}

	decls := map[string]*vcf.FieldDeclaration{}
	for _, fieldID := range d.fields {
		decl, err := header.FormatDeclaration(fieldID)
		if err != nil {
			continue
		}
		if err := header.SetFormatType(fieldID, d.types[fieldID]); err != nil {
			return nil, err
		}
		decls[fieldID] = decl
	}

	records, lineNums, err := readAllRecords(reader, d.opts.lenient, state)
	if err != nil {
		return nil, err
	}

	samples := header.Samples
	transform := func(ctx context.Context, line int, record *vcf.Record) error {
		return d.decryptRecord(ctx, line, record, decls, samples, state)
	}
	if err := runTransforms(ctx, records, lineNums, d.opts, state, transform, isCtxError); err != nil {
		return nil, err
	}
	return finishRun(header, records, output, report)
}

func (d *Decryptor) decryptRecord(
	ctx context.Context,
	line int,
	record *vcf.Record,
	decls map[string]*vcf.FieldDeclaration,
	samples []string,
	state *runState,
) error {
	for _, fieldID := range d.fields {
		decl, ok := decls[fieldID]
		if !ok || !record.HasField(fieldID) {
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
			if !d.provider.IsToken(raw) {
				if d.opts.lenient {
					state.countPassthrough()
					continue
				}
				return fmt.Errorf("%w: sample %s, field %s", ErrNotCiphertext, samples[sampleIdx], fieldID)
			}

			plaintext, err := d.provider.Decrypt(ctx, raw)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
				if d.opts.lenient && !isCtxError(err) {
					state.fail(line, samples[sampleIdx], fieldID, err)
					continue
				}
				return err
			}
			restored := string(plaintext)
			if err := checkRestoredValue(restored); err != nil {
				if d.opts.lenient {
					state.fail(line, samples[sampleIdx], fieldID, err)
					continue
				}
				return err
			}
			if _, err := vcf.ParseValue(restored, decl.Number, decl.Type); err != nil {
				state.countTypeMismatch()
			}
			if err := record.SetSubValue(sampleIdx, fieldID, restored); err != nil {
				return err
			}
			state.countDecrypted(fieldID)
		}
	}
	return nil
}

// checkRestoredValue guards the splice of decrypted text back into a record.
// A decrypted value that could not have come from a parsed sub-value means
// the token, key or provider does not belong to this file.
func checkRestoredValue(restored string) error {
	if restored == "" {
		return fmt.Errorf("%w: decrypted value is empty", ErrDecryptionFailed)
	}
	if strings.ContainsAny(restored, "\t:\n\r") {
		return fmt.Errorf("%w: decrypted value contains reserved characters", ErrDecryptionFailed)
	}
	return nil
}
