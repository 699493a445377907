package vcfcrypt

import "fmt"

// Option adjusts how an encryption or decryption pass runs.
type Option func(*options) error

type options struct {
	targets []string
	workers int
	lenient bool
}

func defaultOptions() options {
	return options{workers: 1}
}

func (o *options) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithTargets names the FORMAT fields to transform. An Encryptor requires at
// least one target. A Decryptor takes its fields from the type map by
// default, WithTargets narrows the pass to a subset of them.
func WithTargets(fieldIDs ...string) Option {
	return func(o *options) error {
		if len(fieldIDs) == 0 {
			return fmt.Errorf("%w: empty target list", ErrInvalidConfig)
		}
		seen := map[string]bool{}
		for _, id := range fieldIDs {
			if id == "" {
				return fmt.Errorf("%w: empty target field ID", ErrInvalidConfig)
			}
			if seen[id] {
				return fmt.Errorf("%w: duplicate target field %s", ErrInvalidConfig, id)
			}
			seen[id] = true
		}
		o.targets = append([]string(nil), fieldIDs...)
		return nil
	}
}

// WithWorkers sets how many records are transformed concurrently. The
// default of 1 keeps the pass sequential.
func WithWorkers(workers int) Option {
	return func(o *options) error {
		if workers < 1 {
			return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, workers)
		}
		o.workers = workers
		return nil
	}
}

// WithLenient keeps a pass running past per-record failures. An Encryptor
// withholds failed records from the output and reports them. A Decryptor
// leaves failed values encrypted in place and reports them. The default is
// strict, the first failure aborts the run.
func WithLenient() Option {
	return func(o *options) error {
		o.lenient = true
		return nil
	}
}
