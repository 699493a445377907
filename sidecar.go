package vcfcrypt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v2"

	"github.com/vcfsec/vcfcrypt/vcf"
)

const sidecarVersion = 1

// Key service names recorded in sidecar files.
const (
	KeyPassphrase   = "passphrase"
	KeyAWSKMS       = "aws-kms"
	KeyVaultTransit = "vault-transit"
)

// Sidecar carries everything a decryption pass needs besides the encrypted
// file itself: which fields were encrypted, their pre-encryption types, and
// the envelope-wrapped data key when a key service was used. Decryption is
// impossible without it, the encrypted file alone no longer knows the
// original types.
type Sidecar struct {
	Version  int               `yaml:"version"`
	RunID    string            `yaml:"run_id"`
	Created  string            `yaml:"created"`
	Provider string            `yaml:"provider"`
	Key      *SidecarKey       `yaml:"key,omitempty"`
	Fields   map[string]string `yaml:"fields"`
}

// SidecarKey records how the key of a run is recovered: the envelope-wrapped
// data key for the KMS services, or the stretching salt for passphrase runs.
type SidecarKey struct {
	Service    string `yaml:"service"`
	KeyID      string `yaml:"key_id,omitempty"`
	WrappedDEK string `yaml:"wrapped_dek,omitempty"`
	Salt       string `yaml:"salt,omitempty"`
}

// NewSidecar builds the sidecar for a finished encryption run from the
// original types the report captured.
func NewSidecar(providerName string, originalTypes map[string]vcf.FieldType) *Sidecar {
	fields := make(map[string]string, len(originalTypes))
	for fieldID, typ := range originalTypes {
		fields[fieldID] = string(typ)
	}
	return &Sidecar{
		Version:  sidecarVersion,
		RunID:    uuid.NewString(),
		Created:  time.Now().UTC().Format(time.RFC3339),
		Provider: providerName,
		Fields:   fields,
	}
}

// SetWrappedKey stores the envelope-wrapped data key.
func (sc *Sidecar) SetWrappedKey(service, keyID string, wrapped []byte) {
	sc.Key = &SidecarKey{
		Service:    service,
		KeyID:      keyID,
		WrappedDEK: base64.StdEncoding.EncodeToString(wrapped),
	}
}

// SetPassphraseSalt stores the salt of a passphrase-derived key.
func (sc *Sidecar) SetPassphraseSalt(salt []byte) {
	sc.Key = &SidecarKey{
		Service: KeyPassphrase,
		Salt:    base64.StdEncoding.EncodeToString(salt),
	}
}

// Wrapped returns the wrapped data key bytes.
func (k *SidecarKey) Wrapped() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(k.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key is not base64: %v", ErrInvalidSidecar, err)
	}
	return raw, nil
}

// SaltBytes returns the passphrase salt bytes.
func (k *SidecarKey) SaltBytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(k.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt is not base64: %v", ErrInvalidSidecar, err)
	}
	return raw, nil
}

// FieldTypes returns the field map in the form NewDecryptor takes.
func (sc *Sidecar) FieldTypes() map[string]vcf.FieldType {
	types := make(map[string]vcf.FieldType, len(sc.Fields))
	for fieldID, typ := range sc.Fields {
		types[fieldID] = vcf.FieldType(typ)
	}
	return types
}

// WriteSidecar writes the sidecar as YAML.
func WriteSidecar(w io.Writer, sc *Sidecar) error {
	if err := sc.validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSidecar, err)
	}
	_, err = w.Write(data)
	return err
}

// ReadSidecar parses and validates a YAML sidecar. Field type names are
// case-normalized first, a hand-edited "float" reads the same as "Float".
func ReadSidecar(r io.Reader) (*Sidecar, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSidecar, err)
	}
	sc.normalize()
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Sidecar) normalize() {
	title := cases.Title(language.English, cases.Compact)
	for fieldID, typ := range sc.Fields {
		sc.Fields[fieldID] = title.String(strings.ToLower(typ))
	}
}

func (sc *Sidecar) validate() error {
	errs := errsx.Map{}
	if sc.Version != sidecarVersion {
		errs.Set("version", fmt.Errorf("unsupported sidecar version %d", sc.Version))
	}
	if len(sc.Fields) == 0 {
		errs.Set("fields", errors.New("no encrypted fields listed"))
	}
	for fieldID, typ := range sc.Fields {
		if fieldID == "" {
			errs.Set("fields", errors.New("empty field ID"))
			continue
		}
		switch vcf.FieldType(typ) {
		case vcf.TypeInteger, vcf.TypeFloat, vcf.TypeCharacter, vcf.TypeString:
		default:
			errs.Set("fields."+fieldID, fmt.Errorf("invalid field type %q", typ))
		}
	}
	if sc.Key != nil {
		switch sc.Key.Service {
		case KeyPassphrase:
			if sc.Key.Salt == "" {
				errs.Set("key.salt", errors.New("missing passphrase salt"))
			}
		case KeyAWSKMS, KeyVaultTransit:
			if sc.Key.KeyID == "" {
				errs.Set("key.key_id", errors.New("missing key ID"))
			}
			if sc.Key.WrappedDEK == "" {
				errs.Set("key.wrapped_dek", errors.New("missing wrapped key"))
			}
		default:
			errs.Set("key.service", fmt.Errorf("unknown key service %q", sc.Key.Service))
		}
	}
	if errs.IsEmpty() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSidecar, errs.AsError())
}
