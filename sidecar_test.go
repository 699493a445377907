package vcfcrypt

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcfsec/vcfcrypt/vcf"
)

func TestNewSidecar(t *testing.T) {
	types := map[string]vcf.FieldType{"GQ": vcf.TypeInteger, "GP": vcf.TypeFloat}
	sc := NewSidecar("localkey", types)

	assert.Equal(t, 1, sc.Version)
	assert.Equal(t, "localkey", sc.Provider)
	assert.Equal(t, map[string]string{"GQ": "Integer", "GP": "Float"}, sc.Fields)
	assert.Nil(t, sc.Key)

	_, err := uuid.Parse(sc.RunID)
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339, sc.Created)
	assert.NoError(t, err)
}

func TestSidecarRoundTrip(t *testing.T) {
	sc := NewSidecar("localkey", map[string]vcf.FieldType{"GQ": vcf.TypeInteger})
	wrapped := []byte{0x00, 0x01, 0xfe, 0xff}
	sc.SetWrappedKey(KeyAWSKMS, "alias/vcf", wrapped)

	var buf bytes.Buffer
	require.NoError(t, WriteSidecar(&buf, sc))

	loaded, err := ReadSidecar(&buf)
	require.NoError(t, err)
	assert.Equal(t, sc.RunID, loaded.RunID)
	assert.Equal(t, sc.Provider, loaded.Provider)
	assert.Equal(t, sc.Fields, loaded.Fields)

	require.NotNil(t, loaded.Key)
	assert.Equal(t, KeyAWSKMS, loaded.Key.Service)
	assert.Equal(t, "alias/vcf", loaded.Key.KeyID)
	raw, err := loaded.Key.Wrapped()
	require.NoError(t, err)
	assert.Equal(t, wrapped, raw)
}

func TestSidecarPassphraseSalt(t *testing.T) {
	sc := NewSidecar("localkey", map[string]vcf.FieldType{"GQ": vcf.TypeInteger})
	salt := []byte("0123456789abcdef")
	sc.SetPassphraseSalt(salt)

	var buf bytes.Buffer
	require.NoError(t, WriteSidecar(&buf, sc))

	loaded, err := ReadSidecar(&buf)
	require.NoError(t, err)
	require.NotNil(t, loaded.Key)
	assert.Equal(t, KeyPassphrase, loaded.Key.Service)
	got, err := loaded.Key.SaltBytes()
	require.NoError(t, err)
	assert.Equal(t, salt, got)
}

func TestReadSidecarNormalizesTypes(t *testing.T) {
	// Hand-edited sidecars may carry lowercased type names.
	doc := `version: 1
run_id: test-run
created: "2026-01-02T03:04:05Z"
provider: localkey
fields:
  GQ: integer
  GP: FLOAT
`
	sc, err := ReadSidecar(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]vcf.FieldType{
		"GQ": vcf.TypeInteger,
		"GP": vcf.TypeFloat,
	}, sc.FieldTypes())
}

func TestReadSidecarValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "unsupported version",
			doc: `version: 2
provider: localkey
fields:
  GQ: Integer
`,
			wantErr: "unsupported sidecar version 2",
		},
		{
			name: "no fields",
			doc: `version: 1
provider: localkey
`,
			wantErr: "no encrypted fields listed",
		},
		{
			name: "empty field ID",
			doc: `version: 1
provider: localkey
fields:
  "": Integer
`,
			wantErr: "empty field ID",
		},
		{
			name: "invalid field type",
			doc: `version: 1
provider: localkey
fields:
  GQ: Date
`,
			wantErr: `invalid field type "Date"`,
		},
		{
			name: "passphrase without salt",
			doc: `version: 1
provider: localkey
fields:
  GQ: Integer
key:
  service: passphrase
`,
			wantErr: "missing passphrase salt",
		},
		{
			name: "kms without key ID",
			doc: `version: 1
provider: localkey
fields:
  GQ: Integer
key:
  service: aws-kms
  wrapped_dek: AAECAw==
`,
			wantErr: "missing key ID",
		},
		{
			name: "kms without wrapped key",
			doc: `version: 1
provider: localkey
fields:
  GQ: Integer
key:
  service: vault-transit
  key_id: vcf-key
`,
			wantErr: "missing wrapped key",
		},
		{
			name: "unknown key service",
			doc: `version: 1
provider: localkey
fields:
  GQ: Integer
key:
  service: gcp-kms
  key_id: k
  wrapped_dek: AAECAw==
`,
			wantErr: `unknown key service "gcp-kms"`,
		},
		{
			name:    "not yaml",
			doc:     "{version: [",
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSidecar(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSidecar)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWriteSidecarValidates(t *testing.T) {
	sc := &Sidecar{Version: 1, Provider: "localkey"}
	err := WriteSidecar(&bytes.Buffer{}, sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSidecar)
}

func TestSidecarKeyBadBase64(t *testing.T) {
	key := &SidecarKey{WrappedDEK: "!!!", Salt: "%%%"}

	_, err := key.Wrapped()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSidecar)
	assert.Contains(t, err.Error(), "not base64")

	_, err = key.SaltBytes()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSidecar)
	assert.Contains(t, err.Error(), "not base64")
}
