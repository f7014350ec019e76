package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for bountyd.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	Database      string           `yaml:"database"`
	Environment   string           `yaml:"environment"`
	Escrow        EscrowConfig     `yaml:"escrow"`
	Payout        PayoutConfig     `yaml:"payout"`
	Escalation    EscalationConfig `yaml:"escalation"`
	Recon         ReconConfig      `yaml:"recon"`
	MaxRetries    uint64           `yaml:"max_retries"`
}

// EscrowConfig points at the escrow contract gateway.
type EscrowConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AuthToken string `yaml:"auth_token"`
}

// PayoutConfig points at the payment rail.
type PayoutConfig struct {
	Endpoint      string `yaml:"endpoint"`
	WalletAddress string `yaml:"wallet_address"`
	// WalletSecretEnv names the environment variable holding the signing
	// secret; the secret itself never lives in the config file.
	WalletSecretEnv string `yaml:"wallet_secret_env"`
}

// EscalationConfig tunes the escalation scheduler and step policy.
type EscalationConfig struct {
	Interval   Duration `yaml:"interval"`
	Factor     string   `yaml:"factor"`
	Increment  string   `yaml:"increment"`
	BatchLimit int      `yaml:"batch_limit"`
}

// ReconConfig tunes the reconciliation worker.
type ReconConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Load reads configuration from the supplied path and applies defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8480"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "sandbox"
	}
	if c.Escalation.Interval.Duration <= 0 {
		c.Escalation.Interval.Duration = time.Hour
	}
	if c.Escalation.BatchLimit <= 0 {
		c.Escalation.BatchLimit = 100
	}
	if c.Recon.Interval.Duration <= 0 {
		c.Recon.Interval.Duration = time.Minute
	}
	if c.Recon.MaxAttempts <= 0 {
		c.Recon.MaxAttempts = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("config: database is required")
	}
	if strings.TrimSpace(c.Escrow.Endpoint) == "" {
		return fmt.Errorf("config: escrow endpoint is required")
	}
	if strings.TrimSpace(c.Payout.Endpoint) == "" {
		return fmt.Errorf("config: payout endpoint is required")
	}
	return nil
}

// WalletSecret resolves the payout signing secret from the environment.
func (c *Config) WalletSecret() (string, error) {
	name := strings.TrimSpace(c.Payout.WalletSecretEnv)
	if name == "" {
		name = "BOUNTYBOT_WALLET_SECRET"
	}
	secret := strings.TrimSpace(os.Getenv(name))
	if secret == "" {
		return "", fmt.Errorf("config: wallet secret env %s is empty", name)
	}
	return secret, nil
}
