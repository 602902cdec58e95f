package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"perpstake/crypto"
)

func TestMain(m *testing.M) {
	lightKeystore = true
	os.Exit(m.Run())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stakerd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KeeperKeystorePath != filepath.Join(dir, "keeper.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.KeeperKeystorePath)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	addr, err := cfg.KeeperAddress()
	if err != nil {
		t.Fatalf("keeper address: %v", err)
	}
	if addr.IsZero() {
		t.Fatalf("expected keeper address")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Staking.GenesisTime != cfg.Staking.GenesisTime {
		t.Fatalf("genesis drifted: %d != %d", reloaded.Staking.GenesisTime, cfg.Staking.GenesisTime)
	}
	if reloaded.Resolver.Interval.Duration != time.Minute {
		t.Fatalf("interval not round-tripped: %s", reloaded.Resolver.Interval)
	}
	again, err := reloaded.KeeperAddress()
	if err != nil || again != addr {
		t.Fatalf("keeper key changed on reload: %v", err)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stakerd.toml")
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
Environment = "test"

[storage]
Backend = "bolt"

[staking]
GenesisTime = 1700000000
EpochSeconds = 3600
StakeDecimals = 6
RewardDecimals = 9
CallerFeeBps = 50
MaxLockedStakes = 8

[emissions]
FeeToRewardRatioBps = 20
InceptionRate = 1000000000
EpochDecayPeriod = 5

[resolver]
Enabled = true
Interval = "30s"
AutoClaimBacklog = 500
AutoClaimBatch = 16
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "bolt" || cfg.Environment != "test" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Resolver.Interval.Duration != 30*time.Second {
		t.Fatalf("unexpected interval %s", cfg.Resolver.Interval)
	}
	lc, err := cfg.LedgerConfig()
	if err != nil {
		t.Fatalf("ledger config: %v", err)
	}
	if lc.GenesisTime != 1_700_000_000 || lc.EpochSeconds != 3600 {
		t.Fatalf("unexpected clock %+v", lc)
	}
	if lc.Params.RewardDecimals != 9 || lc.Params.CallerFeeBps != 50 || lc.Params.MaxLockedStakes != 8 {
		t.Fatalf("unexpected params %+v", lc.Params)
	}
	if lc.Schedule.FeeToRewardRatioBps != 20 || lc.Schedule.EpochDecayPeriod != 5 {
		t.Fatalf("unexpected schedule %+v", lc.Schedule)
	}
	if lc.AutoClaimBacklog != 500 || lc.AutoClaimBatch != 16 {
		t.Fatalf("unexpected auto-claim settings %d/%d", lc.AutoClaimBacklog, lc.AutoClaimBatch)
	}
	// The defaulted keystore path is written back.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(raw), "keeper.keystore") {
		t.Fatalf("keystore path not persisted:\n%s", raw)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakerd.toml")
	if err := os.WriteFile(path, []byte("ListenAddress = \":1\"\nBogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "Bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stakerd.yaml")
	reporter := crypto.DeriveAddress("reporter").String()
	contents := `listen: ":7000"
storage:
  backend: memory
staking:
  genesis_time: 1700000000
resolver:
  enabled: true
  interval: 2m
auth:
  hmac_secret: topsecret
  hmac_secret_env: ""
  fee_reporters:
    - ` + reporter + `
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Resolver.Interval.Duration != 2*time.Minute {
		t.Fatalf("unexpected interval %s", cfg.Resolver.Interval)
	}
	if string(cfg.HMACKey()) != "topsecret" {
		t.Fatalf("unexpected hmac key %q", cfg.HMACKey())
	}
	if got := cfg.LoggingOptions().Level.String(); got != "DEBUG" {
		t.Fatalf("unexpected level %s", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "keeper.keystore")); err != nil {
		t.Fatalf("keeper key not generated: %v", err)
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing yaml config")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"datadir", func(c *Config) { c.DataDir = "" }},
		{"ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }},
		{"metric interval", func(c *Config) { c.Telemetry.MetricInterval = -5 }},
		{"interval", func(c *Config) { c.Resolver.Interval = Duration{} }},
		{"auto-claim backlog", func(c *Config) { c.Resolver.AutoClaimBacklog = 5000 }},
		{"auto-claim batch", func(c *Config) { c.Resolver.AutoClaimBatch = -1 }},
		{"reporter", func(c *Config) { c.Auth.FeeReporters = []string{"nope"} }},
		{"level", func(c *Config) { c.Logging.Level = "loud" }},
		{"schedule", func(c *Config) { c.Emissions.FeeToRewardRatioBps = 20_000 }},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestTelemetryHeadersFromEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Environment = "staging"
	cfg.Staking.GenesisTime = 1_700_000_000
	cfg.Telemetry.MetricInterval = 30
	cfg.Telemetry.Headers = map[string]string{"x-team": "perps", "authorization": "file"}
	t.Setenv(otlpHeadersEnv, "authorization=Bearer abc, x-extra = 1")

	tel := cfg.TelemetryConfig("stakerd")
	if tel.ServiceName != "stakerd" || tel.Environment != "staging" {
		t.Fatalf("unexpected identity: %+v", tel)
	}
	if tel.Ledger.GenesisTime != 1_700_000_000 || tel.Ledger.EpochSeconds != cfg.Staking.EpochSeconds || tel.Ledger.StorageBackend != cfg.Storage.Backend {
		t.Fatalf("unexpected ledger info: %+v", tel.Ledger)
	}
	if tel.MetricInterval != 30*time.Second {
		t.Fatalf("metric interval = %s", tel.MetricInterval)
	}
	want := map[string]string{"x-team": "perps", "authorization": "Bearer abc", "x-extra": "1"}
	if len(tel.Headers) != len(want) {
		t.Fatalf("headers = %v, want %v", tel.Headers, want)
	}
	for k, v := range want {
		if tel.Headers[k] != v {
			t.Fatalf("header %s = %q, want %q", k, tel.Headers[k], v)
		}
	}
	if cfg.Telemetry.Headers["authorization"] != "file" {
		t.Fatalf("configured headers mutated")
	}
}

func TestHMACKeyPrefersEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Auth.HMACSecret = "file"
	cfg.Auth.HMACSecretEnv = "PERPSTAKE_TEST_SECRET"
	t.Setenv("PERPSTAKE_TEST_SECRET", "env")
	if got := string(cfg.HMACKey()); got != "env" {
		t.Fatalf("expected env secret, got %q", got)
	}
}

func TestPassphraseSourceProtectsKeeperKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakerd.toml")
	source := func() (string, error) { return "correct horse", nil }
	cfg, err := Load(path, WithKeystorePassphraseSource(source))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.KeeperAddress(); err != nil {
		t.Fatalf("keeper address with source: %v", err)
	}

	plain, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := plain.KeeperAddress(); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
