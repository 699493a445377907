// Package awskms wraps run keys with AWS KMS. The KMS key never leaves AWS,
// only the wrapped data key is stored in the sidecar.
package awskms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/vcfsec/vcfcrypt"
)

// kmsClient covers the KMS operations the service uses, so tests can swap in
// a mock.
type kmsClient interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Service implements vcfcrypt.KeyService using AWS KMS.
type Service struct {
	client kmsClient
	region string
}

// Config holds the AWS connection settings. An empty Config uses the
// standard AWS environment and config files.
type Config struct {
	// Region overrides the AWS region.
	Region string

	// AWSConfig is an optional pre-built AWS config. When set, Region is
	// ignored.
	AWSConfig *aws.Config
}

// New creates the KMS key service.
func New(ctx context.Context, cfg Config) (*Service, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	return &Service{
		client: kms.NewFromConfig(awsConfig),
		region: awsConfig.Region,
	}, nil
}

// GetKeyID resolves a KMS alias to the key ID it points to. The "alias/"
// prefix is added when missing, a raw key ID or ARN resolves to itself.
func (s *Service) GetKeyID(ctx context.Context, alias string) (string, error) {
	if alias == "" {
		return "", fmt.Errorf("%w: empty key alias", vcfcrypt.ErrInvalidConfig)
	}
	aliasName := alias
	if !looksLikeKeyID(alias) && (len(alias) < 6 || alias[:6] != "alias/") {
		aliasName = "alias/" + alias
	}

	result, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(aliasName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe KMS key %s: %w", aliasName, err)
	}
	if result.KeyMetadata == nil || result.KeyMetadata.KeyId == nil {
		return "", fmt.Errorf("no key metadata returned for %s", aliasName)
	}
	return *result.KeyMetadata.KeyId, nil
}

func looksLikeKeyID(alias string) bool {
	return len(alias) >= 4 && alias[:4] == "arn:"
}

// EncryptDEK wraps a data key under the named KMS key and returns the
// opaque ciphertext blob.
func (s *Service) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty data key", vcfcrypt.ErrNoKey)
	}

	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wrap data key with KMS key %s: %w", keyID, err)
	}
	if result.CiphertextBlob == nil {
		return nil, errors.New("no ciphertext returned from KMS")
	}
	return result.CiphertextBlob, nil
}

// DecryptDEK unwraps a data key wrapped by EncryptDEK. KMS identifies the
// key from the ciphertext itself, keyID is passed along when given.
func (s *Service) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty wrapped key", vcfcrypt.ErrNoKey)
	}

	input := &kms.DecryptInput{CiphertextBlob: ciphertext}
	if keyID != "" {
		input.KeyId = aws.String(keyID)
	}
	result, err := s.client.Decrypt(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap data key: %w", err)
	}
	if result.Plaintext == nil {
		return nil, errors.New("no plaintext returned from KMS")
	}
	return result.Plaintext, nil
}

// Region returns the AWS region the service is configured for.
func (s *Service) Region() string {
	return s.region
}
