package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database: "host=localhost dbname=bountybot"
escrow:
  endpoint: http://localhost:8545
payout:
  endpoint: http://localhost:8000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8480" {
		t.Errorf("listen = %q", cfg.ListenAddress)
	}
	if cfg.Environment != "sandbox" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Escalation.Interval.Duration != time.Hour || cfg.Escalation.BatchLimit != 100 {
		t.Errorf("escalation defaults: %+v", cfg.Escalation)
	}
	if cfg.Recon.Interval.Duration != time.Minute || cfg.Recon.MaxAttempts != 10 {
		t.Errorf("recon defaults: %+v", cfg.Recon)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max retries = %d", cfg.MaxRetries)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
database: bountybot.db
escrow:
  endpoint: http://localhost:8545
payout:
  endpoint: http://localhost:8000
escalation:
  interval: 30m
  factor: "2"
recon:
  interval: 15s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Escalation.Interval.Duration != 30*time.Minute {
		t.Errorf("escalation interval = %s", cfg.Escalation.Interval.Duration)
	}
	if cfg.Recon.Interval.Duration != 15*time.Second {
		t.Errorf("recon interval = %s", cfg.Recon.Interval.Duration)
	}
	if cfg.Escalation.Factor != "2" {
		t.Errorf("factor = %q", cfg.Escalation.Factor)
	}
}

func TestLoadValidates(t *testing.T) {
	cases := []string{
		"escrow:\n  endpoint: http://localhost:8545\npayout:\n  endpoint: http://localhost:8000\n",
		"database: bountybot.db\npayout:\n  endpoint: http://localhost:8000\n",
		"database: bountybot.db\nescrow:\n  endpoint: http://localhost:8545\n",
	}
	for i, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("case %d: incomplete config accepted", i)
		}
	}
}

func TestWalletSecretFromEnv(t *testing.T) {
	cfg := Config{}
	cfg.Payout.WalletSecretEnv = "BOUNTYBOT_TEST_SECRET"

	os.Unsetenv("BOUNTYBOT_TEST_SECRET")
	if _, err := cfg.WalletSecret(); err == nil {
		t.Error("missing secret accepted")
	}

	t.Setenv("BOUNTYBOT_TEST_SECRET", "S-secret")
	secret, err := cfg.WalletSecret()
	if err != nil {
		t.Fatalf("wallet secret: %v", err)
	}
	if secret != "S-secret" {
		t.Errorf("secret = %q", secret)
	}
}
