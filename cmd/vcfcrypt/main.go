package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v2"

	"github.com/vcfsec/vcfcrypt"
	"github.com/vcfsec/vcfcrypt/internal/vcfio"
	"github.com/vcfsec/vcfcrypt/providers/awskms"
	"github.com/vcfsec/vcfcrypt/providers/localkey"
	"github.com/vcfsec/vcfcrypt/providers/vaulttransit"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:            "vcfcrypt",
		Usage:           "A tool to encrypt and decrypt per-sample FORMAT fields of VCF files",
		HideHelpCommand: true,
		Version:         "0.1.0",
		Commands: []*cli.Command{
			encryptCommand(),
			decryptCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.New(os.Stderr, "", 0).Fatal(err)
	}
}

func encryptCommand() *cli.Command {
	return &cli.Command{
		Name:  "encrypt",
		Usage: "Encrypt FORMAT field values and write a key sidecar file",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:     "fields",
				Aliases:  []string{"f"},
				Usage:    "Comma-separated FORMAT field IDs to encrypt (e.g. GT,GQ)",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Configuration file (YAML), flags override its values",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "aws-kms-key",
				Usage:    "AWS KMS key ID or alias to wrap the data key with",
				Category: "Key material",
			},
			&cli.StringFlag{
				Name:     "vault-key",
				Usage:    "Vault transit key name to wrap the data key with",
				Category: "Key material",
			},
		),
		Action: runEncrypt,
	}
}

func decryptCommand() *cli.Command {
	return &cli.Command{
		Name:  "decrypt",
		Usage: "Restore FORMAT field values using the sidecar of an encryption run",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:     "fields",
				Aliases:  []string{"f"},
				Usage:    "Comma-separated subset of sidecar fields to decrypt, defaults to all",
				Category: "Optional",
			},
		),
		Action: runDecrypt,
	}
}

// commonFlags returns the flags shared by both commands. The slice is fresh
// on every call, urfave/cli mutates flag state during parsing.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "The input VCF file, plain, gzip or bgzip, '-' for stdin",
			Required: true,
			Category: "Required",
		},
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "The location of the output VCF file, defaults to stdout",
			Category: "Optional",
		},
		&cli.StringFlag{
			Name:     "sidecar",
			Aliases:  []string{"s"},
			Usage:    "The location of the key sidecar file, defaults to <encrypted VCF>.key.yaml",
			Category: "Optional",
		},
		&cli.StringFlag{
			Name:     "mode",
			Aliases:  []string{"m"},
			Usage:    "Failure handling, must be one of: strict, lenient",
			Category: "Optional",
			Action: func(c *cli.Context, input string) error {
				validModes := []string{vcfcrypt.ModeStrict, vcfcrypt.ModeLenient}
				if slices.Contains(validModes, input) {
					return nil
				}
				return cli.Exit("Invalid mode '"+input+"', must be one of: "+strings.Join(validModes, ", "), 2)
			},
		},
		&cli.IntFlag{
			Name:     "workers",
			Aliases:  []string{"w"},
			Usage:    "Number of records to transform in parallel",
			Category: "Optional",
		},
		&cli.StringFlag{
			Name:     "key-file",
			Usage:    "File holding the base64-encoded 32-byte key",
			Category: "Key material",
		},
		&cli.StringFlag{
			Name:     "passphrase-env",
			Usage:    "Name of the environment variable holding the passphrase",
			Category: "Key material",
		},
	}
}

func runEncrypt(cCtx *cli.Context) error {
	logger := log.New(os.Stderr, "", 0)
	ctx := cCtx.Context

	config, err := encryptConfig(cCtx)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if len(config.Fields) == 0 {
		return cli.Exit("No fields to encrypt, use --fields or the config file", 2)
	}

	outPath := outputPath(cCtx)
	sidecarPath, err := resolveSidecarPath(cCtx, outPath)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	provider, stampKey, err := encryptProvider(ctx, config)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	encryptor, err := vcfcrypt.NewEncryptor(provider, config.Options()...)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	report, err := transformFile(ctx, cCtx.String("input"), outPath, encryptor.Run)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	sidecar := vcfcrypt.NewSidecar(provider.Name(), report.OriginalTypes)
	stampKey(sidecar)
	if err := writeSidecarFile(sidecarPath, sidecar); err != nil {
		// Encrypted output without its sidecar cannot be decrypted, so
		// take the output back out as well.
		if outPath != "-" {
			os.Remove(outPath)
		}
		return cli.Exit(err.Error(), 1)
	}

	logger.Printf("Encrypted %d values across %d records (sidecar: %s)", countValues(report.Encrypted), report.RecordsOut, sidecarPath)
	printFailures(logger, report)
	return nil
}

func runDecrypt(cCtx *cli.Context) error {
	logger := log.New(os.Stderr, "", 0)
	ctx := cCtx.Context

	sidecarPath := cCtx.String("sidecar")
	if sidecarPath == "" {
		sidecarPath = cCtx.String("input") + ".key.yaml"
	}
	sidecar, err := readSidecarFile(sidecarPath)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	provider, err := decryptProvider(ctx, cCtx, sidecar)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	opts := []vcfcrypt.Option{}
	if workers := cCtx.Int("workers"); workers > 0 {
		opts = append(opts, vcfcrypt.WithWorkers(workers))
	}
	if cCtx.String("mode") == vcfcrypt.ModeLenient {
		opts = append(opts, vcfcrypt.WithLenient())
	}
	if fields := cCtx.String("fields"); fields != "" {
		opts = append(opts, vcfcrypt.WithTargets(strings.Split(fields, ",")...))
	}

	decryptor, err := vcfcrypt.NewDecryptor(provider, sidecar.FieldTypes(), opts...)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	report, err := transformFile(ctx, cCtx.String("input"), outputPath(cCtx), decryptor.Run)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger.Printf("Decrypted %d values across %d records", countValues(report.Decrypted), report.RecordsOut)
	if report.Passthrough > 0 {
		logger.Printf("%d values were not ciphertext and were left as is", report.Passthrough)
	}
	if report.TypeMismatches > 0 {
		logger.Printf("Warning: %d restored values do not match their declared type", report.TypeMismatches)
	}
	printFailures(logger, report)
	return nil
}

// transformFile runs one encryption or decryption pass from the input path
// to the output path. A failed run leaves no output file behind.
func transformFile(
	ctx context.Context,
	inPath, outPath string,
	run func(context.Context, io.Reader, io.Writer) (*vcfcrypt.Report, error),
) (*vcfcrypt.Report, error) {
	in, err := vcfio.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open the input file: %w", err)
	}
	defer in.Close()

	out, err := vcfio.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create the output file: %w", err)
	}

	report, err := run(ctx, in, out)
	if err != nil {
		out.Close()
		if outPath != "-" {
			os.Remove(outPath)
		}
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish the output file: %w", err)
	}
	return report, nil
}

// encryptConfig merges the configuration file, defaults and flags. Flags win
// over file values.
func encryptConfig(cCtx *cli.Context) (*vcfcrypt.Config, error) {
	var config *vcfcrypt.Config
	var err error
	if path := cCtx.String("config"); path != "" {
		config, err = vcfcrypt.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else {
		config = vcfcrypt.DefaultConfig()
	}

	if fields := cCtx.String("fields"); fields != "" {
		config.Fields = strings.Split(fields, ",")
	}
	if mode := cCtx.String("mode"); mode != "" {
		config.Mode = mode
	}
	if workers := cCtx.Int("workers"); workers > 0 {
		config.Workers = workers
	}
	if keyFile := cCtx.String("key-file"); keyFile != "" {
		config.Provider = vcfcrypt.ProviderConfig{Kind: vcfcrypt.ProviderLocal, KeyFile: keyFile}
	}
	if passEnv := cCtx.String("passphrase-env"); passEnv != "" {
		config.Provider = vcfcrypt.ProviderConfig{Kind: vcfcrypt.ProviderLocal, PassphraseEnv: passEnv}
	}
	if keyID := cCtx.String("aws-kms-key"); keyID != "" {
		config.Provider = vcfcrypt.ProviderConfig{Kind: vcfcrypt.ProviderAWSKMS, KeyID: keyID}
	}
	if keyName := cCtx.String("vault-key"); keyName != "" {
		config.Provider = vcfcrypt.ProviderConfig{Kind: vcfcrypt.ProviderVaultTransit, KeyID: keyName}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// encryptProvider builds the crypto provider for an encryption run together
// with a function that stamps the key recovery material into the sidecar.
func encryptProvider(ctx context.Context, config *vcfcrypt.Config) (vcfcrypt.Provider, func(*vcfcrypt.Sidecar), error) {
	noKey := func(*vcfcrypt.Sidecar) {}

	switch config.Provider.Kind {
	case vcfcrypt.ProviderLocal:
		if config.Provider.KeyFile != "" {
			key, err := readKeyFile(config.Provider.KeyFile)
			if err != nil {
				return nil, nil, err
			}
			provider, err := localkey.New(key)
			if err != nil {
				return nil, nil, err
			}
			return provider, noKey, nil
		}
		if config.Provider.PassphraseEnv != "" {
			passphrase, err := readPassphrase(config.Provider.PassphraseEnv)
			if err != nil {
				return nil, nil, err
			}
			salt, err := localkey.NewSalt()
			if err != nil {
				return nil, nil, err
			}
			provider, err := localkey.FromPassphrase(passphrase, salt)
			if err != nil {
				return nil, nil, err
			}
			return provider, func(sc *vcfcrypt.Sidecar) { sc.SetPassphraseSalt(salt) }, nil
		}
		return nil, nil, fmt.Errorf("%w: the local provider needs --key-file or --passphrase-env", vcfcrypt.ErrInvalidConfig)

	case vcfcrypt.ProviderAWSKMS, vcfcrypt.ProviderVaultTransit:
		service, serviceName, err := newKeyService(ctx, config.Provider.Kind)
		if err != nil {
			return nil, nil, err
		}
		keyID, err := service.GetKeyID(ctx, config.Provider.KeyID)
		if err != nil {
			return nil, nil, err
		}
		provider, dek, err := localkey.Generate()
		if err != nil {
			return nil, nil, err
		}
		wrapped, err := service.EncryptDEK(ctx, keyID, dek)
		if err != nil {
			return nil, nil, err
		}
		return provider, func(sc *vcfcrypt.Sidecar) { sc.SetWrappedKey(serviceName, keyID, wrapped) }, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown provider kind %q", vcfcrypt.ErrInvalidConfig, config.Provider.Kind)
}

// decryptProvider rebuilds the crypto provider of a finished run from its
// sidecar and the key flags.
func decryptProvider(ctx context.Context, cCtx *cli.Context, sidecar *vcfcrypt.Sidecar) (vcfcrypt.Provider, error) {
	key := sidecar.Key
	if key == nil {
		keyFile := cCtx.String("key-file")
		if keyFile == "" {
			return nil, fmt.Errorf("%w: the sidecar holds no key material, use --key-file", vcfcrypt.ErrNoKey)
		}
		raw, err := readKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
		return localkey.New(raw)
	}

	switch key.Service {
	case vcfcrypt.KeyPassphrase:
		passEnv := cCtx.String("passphrase-env")
		if passEnv == "" {
			return nil, fmt.Errorf("%w: the run key is passphrase-derived, use --passphrase-env", vcfcrypt.ErrNoKey)
		}
		passphrase, err := readPassphrase(passEnv)
		if err != nil {
			return nil, err
		}
		salt, err := key.SaltBytes()
		if err != nil {
			return nil, err
		}
		return localkey.FromPassphrase(passphrase, salt)

	case vcfcrypt.KeyAWSKMS, vcfcrypt.KeyVaultTransit:
		service, _, err := newKeyService(ctx, key.Service)
		if err != nil {
			return nil, err
		}
		wrapped, err := key.Wrapped()
		if err != nil {
			return nil, err
		}
		dek, err := service.DecryptDEK(ctx, key.KeyID, wrapped)
		if err != nil {
			return nil, err
		}
		return localkey.New(dek)
	}

	return nil, fmt.Errorf("%w: unknown key service %q", vcfcrypt.ErrInvalidSidecar, key.Service)
}

// newKeyService connects to the external key service for the given provider
// kind. The sidecar service names match the provider kind names.
func newKeyService(ctx context.Context, kind string) (vcfcrypt.KeyService, string, error) {
	switch kind {
	case vcfcrypt.ProviderAWSKMS:
		service, err := awskms.New(ctx, awskms.Config{})
		if err != nil {
			return nil, "", err
		}
		return service, vcfcrypt.KeyAWSKMS, nil
	case vcfcrypt.ProviderVaultTransit:
		service, err := vaulttransit.New()
		if err != nil {
			return nil, "", err
		}
		return service, vcfcrypt.KeyVaultTransit, nil
	}
	return nil, "", fmt.Errorf("%w: no key service for kind %q", vcfcrypt.ErrInvalidConfig, kind)
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcfcrypt.ErrNoKey, err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: key file %s is not base64: %v", vcfcrypt.ErrNoKey, path, err)
	}
	return key, nil
}

func readPassphrase(envName string) ([]byte, error) {
	passphrase := os.Getenv(envName)
	if passphrase == "" {
		return nil, fmt.Errorf("%w: environment variable %s is empty", vcfcrypt.ErrNoKey, envName)
	}
	return []byte(passphrase), nil
}

func outputPath(cCtx *cli.Context) string {
	if out := cCtx.String("output"); out != "" {
		return out
	}
	return "-"
}

func resolveSidecarPath(cCtx *cli.Context, outPath string) (string, error) {
	if path := cCtx.String("sidecar"); path != "" {
		return path, nil
	}
	if outPath == "-" {
		return "", fmt.Errorf("%w: --sidecar is required when writing to stdout", vcfcrypt.ErrInvalidConfig)
	}
	return outPath + ".key.yaml", nil
}

func writeSidecarFile(path string, sidecar *vcfcrypt.Sidecar) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the sidecar file: %w", err)
	}
	defer file.Close()
	if err := vcfcrypt.WriteSidecar(file, sidecar); err != nil {
		return fmt.Errorf("failed to write the sidecar file: %w", err)
	}
	return nil
}

func readSidecarFile(path string) (*vcfcrypt.Sidecar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open the sidecar file: %w", err)
	}
	defer file.Close()
	return vcfcrypt.ReadSidecar(file)
}

func countValues(perField map[string]int) int {
	total := 0
	for _, n := range perField {
		total += n
	}
	return total
}

func printFailures(logger *log.Logger, report *vcfcrypt.Report) {
	for _, failure := range report.Failures {
		logger.Print(failure.String())
	}
}
