package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the operator-edited bridge configuration. The two keys are the
// raw hexadecimal master secrets lifted from the legacy system's
// configuration; everything else belongs to the new stack's side of the
// bridge.
type Config struct {
	ValidationKey string  `yaml:"validation_key" validate:"required,hexadecimal"`
	DecryptionKey string  `yaml:"decryption_key" validate:"required,hexadecimal"`
	Purpose       Purpose `yaml:"purpose"`
	JWT           JWT     `yaml:"jwt"`
	ReplayDB      string  `yaml:"replay_db"`
}

// Purpose names the use case the legacy tokens were protected under.
type Purpose struct {
	Primary  string   `yaml:"primary" validate:"required"`
	Specific []string `yaml:"specific"`
}

// JWT configures the re-minted token. Secret may be empty when the operator
// only recovers plaintext and never mints.
type JWT struct {
	Secret string   `yaml:"secret" validate:"omitempty,min=32"`
	Issuer string   `yaml:"issuer"`
	TTL    Duration `yaml:"ttl"`
}

// Duration wraps time.Duration so the YAML file can say "15m" or "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and validates a YAML config file. Unknown fields are rejected so
// a typoed key name fails loudly instead of silently using a default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the struct-level validation rules. Key lengths are not
// checked here: an odd-length hex key is caught by the unprotector and is
// deliberately indistinguishable from any other unprotect failure.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
