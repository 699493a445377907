package vcfcrypt

import (
	"errors"
	"fmt"
	"os"

	"github.com/hengadev/errsx"
	"gopkg.in/yaml.v2"
)

// Run modes and provider kinds accepted in configuration files.
const (
	ModeStrict  = "strict"
	ModeLenient = "lenient"

	ProviderLocal        = "local"
	ProviderAWSKMS       = "aws-kms"
	ProviderVaultTransit = "vault-transit"
)

// Config is the YAML run configuration of the command line tool. Every value
// has a flag equivalent and flags win over file values.
type Config struct {
	Fields   []string       `yaml:"fields"`
	Mode     string         `yaml:"mode"`
	Workers  int            `yaml:"workers"`
	Provider ProviderConfig `yaml:"provider"`
}

// ProviderConfig selects and parameterizes the crypto provider of a run.
// KeyID names the wrapping key for the KMS kinds, KeyFile and PassphraseEnv
// feed the local kind.
type ProviderConfig struct {
	Kind          string `yaml:"kind"`
	KeyFile       string `yaml:"key_file"`
	PassphraseEnv string `yaml:"passphrase_env"`
	KeyID         string `yaml:"key_id"`
}

// LoadConfig reads the configuration file, fills in defaults and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	config.defineMissing()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	config := &Config{}
	config.defineMissing()
	return config
}

// Define all missing optional fields.
func (config *Config) defineMissing() {
	if config.Mode == "" {
		config.Mode = ModeStrict
	}
	if config.Workers == 0 {
		config.Workers = 1
	}
	if config.Provider.Kind == "" {
		config.Provider.Kind = ProviderLocal
	}
}

// Validate checks the configuration after defaults and flag overrides are
// applied. All problems are reported at once, keyed by the config field.
func (config *Config) Validate() error {
	errs := errsx.Map{}
	if config.Mode != ModeStrict && config.Mode != ModeLenient {
		errs.Set("mode", fmt.Errorf("must be %s or %s, got %q", ModeStrict, ModeLenient, config.Mode))
	}
	if config.Workers < 1 {
		errs.Set("workers", fmt.Errorf("must be at least 1, got %d", config.Workers))
	}
	seen := map[string]bool{}
	for _, fieldID := range config.Fields {
		if fieldID == "" {
			errs.Set("fields", errors.New("empty field ID"))
			continue
		}
		if seen[fieldID] {
			errs.Set("fields", fmt.Errorf("duplicate field %s", fieldID))
		}
		seen[fieldID] = true
	}
	switch config.Provider.Kind {
	case ProviderLocal:
		if config.Provider.KeyFile != "" && config.Provider.PassphraseEnv != "" {
			errs.Set("provider", errors.New("key_file and passphrase_env are mutually exclusive"))
		}
	case ProviderAWSKMS, ProviderVaultTransit:
		if config.Provider.KeyID == "" {
			errs.Set("provider.key_id", fmt.Errorf("required for kind %s", config.Provider.Kind))
		}
	default:
		errs.Set("provider.kind", fmt.Errorf("must be one of %s, %s, %s, got %q",
			ProviderLocal, ProviderAWSKMS, ProviderVaultTransit, config.Provider.Kind))
	}
	if errs.IsEmpty() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errs.AsError())
}

// Options converts the configuration into engine options.
func (config *Config) Options() []Option {
	opts := []Option{WithWorkers(config.Workers)}
	if len(config.Fields) > 0 {
		opts = append(opts, WithTargets(config.Fields...))
	}
	if config.Mode == ModeLenient {
		opts = append(opts, WithLenient())
	}
	return opts
}
