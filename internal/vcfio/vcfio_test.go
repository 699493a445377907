package vcfio

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVCF = "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"

func readFile(t *testing.T, path string) string {
	t.Helper()
	rc, err := Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return string(data)
}

func TestIsBlockGzipPath(t *testing.T) {
	assert.True(t, isBlockGzipPath("sample.vcf.gz"))
	assert.True(t, isBlockGzipPath("sample.vcf.bgz"))
	assert.False(t, isBlockGzipPath("sample.vcf"))
	assert.False(t, isBlockGzipPath("sample.gz.vcf"))
}

func TestOpenPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.vcf")
	require.NoError(t, os.WriteFile(path, []byte(sampleVCF), 0o644))

	assert.Equal(t, sampleVCF, readFile(t, path))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.vcf"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenGzipFile(t *testing.T) {
	// A plain gzip stream under a .gz name has no BGZF EOF block and falls
	// back to the magic byte sniff.
	path := filepath.Join(t.TempDir(), "sample.vcf.gz")
	fh, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(fh)
	_, err = gz.Write([]byte(sampleVCF))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, fh.Close())

	assert.Equal(t, sampleVCF, readFile(t, path))
}

func TestOpenBGZFFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.vcf.gz")
	fh, err := os.Create(path)
	require.NoError(t, err)
	bg := bgzf.NewWriter(fh, 1)
	_, err = bg.Write([]byte(sampleVCF))
	require.NoError(t, err)
	require.NoError(t, bg.Close())
	require.NoError(t, fh.Close())

	check, err := os.Open(path)
	require.NoError(t, err)
	ok, err := bgzf.HasEOF(check)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, check.Close())

	assert.Equal(t, sampleVCF, readFile(t, path))
}

func TestOpenGzipWithUncompressedExtension(t *testing.T) {
	// The sniff catches compressed data even without the .gz extension.
	path := filepath.Join(t.TempDir(), "sample.vcf")
	fh, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(fh)
	_, err = gz.Write([]byte(sampleVCF))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, fh.Close())

	assert.Equal(t, sampleVCF, readFile(t, path))
}

func TestCreateWritesBGZF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vcf.gz")
	wc, err := Create(path)
	require.NoError(t, err)
	_, err = io.WriteString(wc, sampleVCF)
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	// The written file is real BGZF, EOF block included.
	fh, err := os.Open(path)
	require.NoError(t, err)
	ok, err := bgzf.HasEOF(fh)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, fh.Close())

	assert.Equal(t, sampleVCF, readFile(t, path))
}

func TestCreatePlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vcf")
	wc, err := Create(path)
	require.NoError(t, err)
	_, err = io.WriteString(wc, sampleVCF)
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleVCF, string(data))
}

func TestCreateTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vcf")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 4096)), 0o644))

	wc, err := Create(path)
	require.NoError(t, err)
	_, err = io.WriteString(wc, sampleVCF)
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleVCF, string(data))
}

func TestRoundTripLargeBGZF(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(sampleVCF)
	for i := 0; i < 20000; i++ {
		sb.WriteString("chr1\t100\trs1\tA\tG\t50\tPASS\tDP=10\n")
	}
	content := sb.String()

	path := filepath.Join(t.TempDir(), "big.vcf.bgz")
	wc, err := Create(path)
	require.NoError(t, err)
	_, err = io.WriteString(wc, content)
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	assert.Equal(t, content, readFile(t, path))
}
