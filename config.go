package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sethvargo/go-envconfig"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the settings needed to wire an AccountManager and its
// adapters. Load it with LoadConfig.
type Config struct {
	Database struct {
		Driver  string `env:"ACCOUNTS_DB_DRIVER,default=sqlite"`
		DSN     string `env:"ACCOUNTS_DB_DSN,default=file::memory:?cache=shared"`
		Migrate bool   `env:"ACCOUNTS_DB_MIGRATE,default=true"`
	}
	PasswordEncoder    string        `env:"ACCOUNTS_PASSWORD_ENCODER,default=argon2id"`
	EventFailurePolicy string        `env:"ACCOUNTS_EVENT_FAILURE_POLICY,default=propagate"`
	Timeout            time.Duration `env:"ACCOUNTS_TIMEOUT,default=10s"`
	Mail               struct {
		From         string `env:"ACCOUNTS_MAIL_FROM"`
		BaseURL      string `env:"ACCOUNTS_MAIL_BASE_URL"`
		SMTPAddr     string `env:"ACCOUNTS_SMTP_ADDR"`
		SMTPUsername string `env:"ACCOUNTS_SMTP_USERNAME"`
		SMTPPassword string `env:"ACCOUNTS_SMTP_PASSWORD"`
		Retries      uint   `env:"ACCOUNTS_MAIL_RETRIES,default=3"`
	}
	NATS struct {
		URL           string `env:"ACCOUNTS_NATS_URL"`
		SubjectPrefix string `env:"ACCOUNTS_NATS_SUBJECT_PREFIX,default=accounts.events"`
	}
	Metrics struct {
		Namespace string `env:"ACCOUNTS_METRICS_NAMESPACE,default=accounts"`
	}
}

// LoadConfig reads Config from the environment and validates it.
func LoadConfig(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum fields.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.PasswordEncoder, validation.Required, validation.In(EncoderArgon2id, EncoderPBKDF2)),
		validation.Field(&c.EventFailurePolicy, validation.Required, validation.In(string(FailurePropagate), string(FailureLogAndContinue))),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}

	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		return goerrors.New("unsupported database driver", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"driver": c.Database.Driver})
	}

	return nil
}

// FailurePolicy returns the configured dispatcher failure policy
func (c Config) FailurePolicy() FailurePolicy {
	return FailurePolicy(c.EventFailurePolicy)
}
