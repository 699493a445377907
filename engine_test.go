package vcfcrypt

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcfsec/vcfcrypt/vcf"
)

const fakeTokenPrefix = "FAKE"

// fakeProvider is a reversible stand-in for the real crypto. Tokens are the
// plaintext in URL-safe base64 behind a fixed prefix, so tests can decode
// them without key material.
type fakeProvider struct {
	encryptFunc func(ctx context.Context, plaintext []byte) (string, error)
	decryptFunc func(ctx context.Context, token string) ([]byte, error)
}

func (p *fakeProvider) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	if p.encryptFunc != nil {
		return p.encryptFunc(ctx, plaintext)
	}
	return fakeTokenPrefix + base64.RawURLEncoding.EncodeToString(plaintext), nil
}

func (p *fakeProvider) Decrypt(ctx context.Context, token string) ([]byte, error) {
	if p.decryptFunc != nil {
		return p.decryptFunc(ctx, token)
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, fakeTokenPrefix))
}

func (p *fakeProvider) IsToken(raw string) bool {
	return strings.HasPrefix(raw, fakeTokenPrefix)
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func fakeToken(t *testing.T, plaintext string) string {
	t.Helper()
	token, err := (&fakeProvider{}).Encrypt(context.Background(), []byte(plaintext))
	require.NoError(t, err)
	return token
}

const testHeader = `##fileformat=VCFv4.2
##INFO=<ID=DP,Number=1,Type=Integer,Description="Total Depth">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=GQ,Number=1,Type=Integer,Description="Genotype Quality">
##FORMAT=<ID=GP,Number=G,Type=Float,Description="Genotype Probabilities">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1	S2
`

const testInput = testHeader + `chr1	100	rs1	A	G	50	PASS	DP=10	GT:GQ:GP	0/1:35:0.1,0.8,0.1	1/1:12:0.0,0.1,0.9
chr1	200	.	C	T	.	.	DP=7	GT:GQ	0/0:41	./.:.
chr1	300	.	G	A	9	q10	.	GT	0/1	1/1
`

func encryptToString(t *testing.T, provider Provider, input string, opts ...Option) (string, *Report) {
	t.Helper()
	encryptor, err := NewEncryptor(provider, opts...)
	require.NoError(t, err)
	var out bytes.Buffer
	report, err := encryptor.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	return out.String(), report
}

func readAll(t *testing.T, encoded string) (*vcf.Header, []*vcf.Record) {
	t.Helper()
	reader, err := vcf.NewReader(strings.NewReader(encoded))
	require.NoError(t, err)
	var records []*vcf.Record
	for {
		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, record)
	}
	return reader.Header(), records
}

func TestNewEncryptorValidation(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		opts     []Option
		wantErr  string
	}{
		{name: "nil provider", provider: nil, opts: []Option{WithTargets("GQ")}, wantErr: "nil provider"},
		{name: "no targets", provider: &fakeProvider{}, wantErr: "no target fields"},
		{name: "empty target ID", provider: &fakeProvider{}, opts: []Option{WithTargets("")}, wantErr: "empty target field ID"},
		{name: "duplicate target", provider: &fakeProvider{}, opts: []Option{WithTargets("GQ", "GQ")}, wantErr: "duplicate target"},
		{name: "zero workers", provider: &fakeProvider{}, opts: []Option{WithTargets("GQ"), WithWorkers(0)}, wantErr: "workers must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptor(tt.provider, tt.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncryptRewritesTargetedValues(t *testing.T) {
	output, report := encryptToString(t, &fakeProvider{}, testInput, WithTargets("GQ"))
	header, records := readAll(t, output)

	// Every present GQ value is a token now, decodable back to the input.
	wantPlain := map[int]map[int]string{0: {0: "35", 1: "12"}, 1: {0: "41"}}
	for recIdx, samples := range wantPlain {
		for sampleIdx, plain := range samples {
			token, err := records[recIdx].SubValue(sampleIdx, "GQ")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(token, fakeTokenPrefix), "record %d sample %d", recIdx, sampleIdx)
			assert.Equal(t, fakeToken(t, plain), token)
		}
	}

	// The missing value stayed missing.
	raw, err := records[1].SubValue(1, "GQ")
	require.NoError(t, err)
	assert.Equal(t, ".", raw)

	// Only GQ was touched.
	gt, err := records[0].SubValue(0, "GT")
	require.NoError(t, err)
	assert.Equal(t, "0/1", gt)
	gp, err := records[0].SubValue(1, "GP")
	require.NoError(t, err)
	assert.Equal(t, "0.0,0.1,0.9", gp)
	assert.NotContains(t, records[2].String(), fakeTokenPrefix)

	// The GQ declaration widened to String, the others kept their lines.
	decl, err := header.FormatDeclaration("GQ")
	require.NoError(t, err)
	assert.Equal(t, vcf.TypeString, decl.Type)
	assert.Contains(t, output, `##FORMAT=<ID=GQ,Number=1,Type=String,Description="Genotype Quality">`)
	assert.Contains(t, output, `##FORMAT=<ID=GP,Number=G,Type=Float,Description="Genotype Probabilities">`)

	assert.Equal(t, 3, report.RecordsIn)
	assert.Equal(t, 3, report.RecordsOut)
	assert.Equal(t, map[string]int{"GQ": 3}, report.Encrypted)
	assert.Equal(t, 1, report.MissingSkipped)
	assert.Equal(t, map[string]vcf.FieldType{"GQ": vcf.TypeInteger}, report.OriginalTypes)
}

func TestEncryptStringFieldKeepsHeaderLine(t *testing.T) {
	output, report := encryptToString(t, &fakeProvider{}, testInput, WithTargets("GT"))

	// Widening String to String is a no-op, the line survives byte for byte.
	assert.Contains(t, output, `##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">`)
	assert.Equal(t, 6, report.Encrypted["GT"])
	assert.Equal(t, map[string]vcf.FieldType{"GT": vcf.TypeString}, report.OriginalTypes)
}

func TestEncryptWidensOnlyOnFirstSuccess(t *testing.T) {
	input := `##fileformat=VCFv4.2
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=GP,Number=G,Type=Float,Description="Genotype Probabilities">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1	S2
chr1	100	.	A	G	.	.	.	GT:GP	0/1:.	1/1:.
`
	output, report := encryptToString(t, &fakeProvider{}, input, WithTargets("GP"))

	// Nothing was encrypted, so the declared type must not change.
	assert.Contains(t, output, `##FORMAT=<ID=GP,Number=G,Type=Float,Description="Genotype Probabilities">`)
	assert.Empty(t, report.Encrypted)
	assert.Equal(t, 2, report.MissingSkipped)
	assert.Equal(t, map[string]vcf.FieldType{"GP": vcf.TypeFloat}, report.OriginalTypes)
}

func TestEncryptUnknownTarget(t *testing.T) {
	encryptor, err := NewEncryptor(&fakeProvider{}, WithTargets("GQ", "XX"))
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = encryptor.Run(context.Background(), strings.NewReader(testInput), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Contains(t, err.Error(), "FORMAT/XX")
	assert.Zero(t, out.Len(), "a failed run must not write output")
}

func TestEncryptMalformedRecordStrict(t *testing.T) {
	input := testInput + "chr1\t400\tbroken\n"
	encryptor, err := NewEncryptor(&fakeProvider{}, WithTargets("GQ"))
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = encryptor.Run(context.Background(), strings.NewReader(input), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, vcf.ErrMalformedRecord)

	var lineErr *vcf.LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 10, lineErr.Line)
	assert.Zero(t, out.Len())
}

func TestEncryptMalformedRecordLenient(t *testing.T) {
	input := testInput + "chr1\t400\tbroken\n"
	output, report := encryptToString(t, &fakeProvider{}, input, WithTargets("GQ"), WithLenient())

	assert.Equal(t, 4, report.RecordsIn)
	assert.Equal(t, 3, report.RecordsOut)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 10, report.Failures[0].Line)
	assert.ErrorIs(t, report.Failures[0].Err, vcf.ErrMalformedRecord)
	assert.Error(t, report.Err())

	assert.NotContains(t, output, "broken")
	_, records := readAll(t, output)
	assert.Len(t, records, 3)
}

func TestEncryptProviderFailure(t *testing.T) {
	provider := &fakeProvider{
		encryptFunc: func(ctx context.Context, plaintext []byte) (string, error) {
			if string(plaintext) == "41" {
				return "", errors.New("hsm offline")
			}
			return fakeTokenPrefix + base64.RawURLEncoding.EncodeToString(plaintext), nil
		},
	}

	t.Run("strict aborts with no output", func(t *testing.T) {
		encryptor, err := NewEncryptor(provider, WithTargets("GQ"))
		require.NoError(t, err)
		var out bytes.Buffer
		_, err = encryptor.Run(context.Background(), strings.NewReader(testInput), &out)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvider)
		assert.Zero(t, out.Len())
	})

	t.Run("lenient withholds the failed record", func(t *testing.T) {
		output, report := encryptToString(t, provider, testInput, WithTargets("GQ"), WithLenient())

		assert.Equal(t, 3, report.RecordsIn)
		assert.Equal(t, 2, report.RecordsOut)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, 8, report.Failures[0].Line)
		assert.ErrorIs(t, report.Failures[0].Err, ErrProvider)

		// The withheld record is gone entirely, no partial rewrites.
		assert.NotContains(t, output, "\t200\t")
		_, records := readAll(t, output)
		assert.Len(t, records, 2)
	})
}

func TestEncryptUnsafeTokenAlwaysFatal(t *testing.T) {
	provider := &fakeProvider{
		encryptFunc: func(ctx context.Context, plaintext []byte) (string, error) {
			return "bad:token", nil
		},
	}

	for _, opts := range [][]Option{
		{WithTargets("GQ")},
		{WithTargets("GQ"), WithLenient()},
	} {
		encryptor, err := NewEncryptor(provider, opts...)
		require.NoError(t, err)
		var out bytes.Buffer
		_, err = encryptor.Run(context.Background(), strings.NewReader(testInput), &out)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnsafeCiphertext)
		assert.Zero(t, out.Len())
	}
}

func TestEncryptContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 3} {
		encryptor, err := NewEncryptor(&fakeProvider{}, WithTargets("GQ"), WithWorkers(workers))
		require.NoError(t, err)
		var out bytes.Buffer
		_, err = encryptor.Run(ctx, strings.NewReader(testInput), &out)
		require.Error(t, err, "workers=%d", workers)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, out.Len())
	}
}

func TestEncryptHeaderOnlyFile(t *testing.T) {
	output, report := encryptToString(t, &fakeProvider{}, testHeader, WithTargets("GQ"))

	assert.Equal(t, 0, report.RecordsIn)
	assert.Equal(t, 0, report.RecordsOut)
	assert.Equal(t, testHeader, output)
}

func buildManyRecords(n int) string {
	var sb strings.Builder
	sb.WriteString("##fileformat=VCFv4.2\n")
	sb.WriteString(`##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">` + "\n")
	sb.WriteString(`##FORMAT=<ID=GQ,Number=1,Type=Integer,Description="Genotype Quality">` + "\n")
	sb.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\tS2\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "chr1\t%d\t.\tA\tG\t.\tPASS\t.\tGT:GQ\t0/1:%d\t1/1:%d\n", 100+i, i, i+1000)
	}
	return sb.String()
}

func TestEncryptParallelMatchesSequential(t *testing.T) {
	input := buildManyRecords(200)

	sequential, seqReport := encryptToString(t, &fakeProvider{}, input, WithTargets("GQ"))
	parallel, parReport := encryptToString(t, &fakeProvider{}, input, WithTargets("GQ"), WithWorkers(8))

	assert.Equal(t, sequential, parallel)
	assert.Equal(t, seqReport.Encrypted, parReport.Encrypted)
	assert.Equal(t, seqReport.RecordsOut, parReport.RecordsOut)
}

func TestEncryptParallelFirstErrorWins(t *testing.T) {
	provider := &fakeProvider{
		encryptFunc: func(ctx context.Context, plaintext []byte) (string, error) {
			if string(plaintext) == "150" {
				return "", errors.New("boom")
			}
			return fakeTokenPrefix + base64.RawURLEncoding.EncodeToString(plaintext), nil
		},
	}
	encryptor, err := NewEncryptor(provider, WithTargets("GQ"), WithWorkers(8))
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = encryptor.Run(context.Background(), strings.NewReader(buildManyRecords(200)), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Zero(t, out.Len())
}
