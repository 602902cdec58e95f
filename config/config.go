package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"perpstake/core/ledger"
	"perpstake/crypto"
	"perpstake/native/emissions"
	"perpstake/native/staking"
	"perpstake/observability/logging"
	perpotel "perpstake/observability/otel"
)

// Duration wraps time.Duration so intervals can be written as "90s" in both
// TOML and YAML files.
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
	return d.UnmarshalText([]byte(value.Value))
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
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

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the on-disk configuration of stakerd.
type Config struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listen"`
	DataDir       string `toml:"DataDir" yaml:"data_dir"`
	Environment   string `toml:"Environment" yaml:"environment"`

	// KeeperKeystorePath holds the key whose address signs automatic round
	// resolutions. It is generated on first start.
	KeeperKeystorePath  string `toml:"KeeperKeystorePath" yaml:"keeper_keystore"`
	KeeperPassphraseEnv string `toml:"KeeperPassphraseEnv" yaml:"keeper_passphrase_env"`

	// Faucet exposes the stake-token faucet. Never enable it in production.
	Faucet bool `toml:"Faucet" yaml:"faucet"`

	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Staking   StakingConfig   `toml:"staking" yaml:"staking"`
	Emissions EmissionsConfig `toml:"emissions" yaml:"emissions"`
	Auth      AuthConfig      `toml:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Resolver  ResolverConfig  `toml:"resolver" yaml:"resolver"`

	passphrase func() (string, error)
}

type StorageConfig struct {
	// Backend is one of memory, leveldb or bolt.
	Backend string `toml:"Backend" yaml:"backend"`
}

type StakingConfig struct {
	GenesisTime     int64  `toml:"GenesisTime" yaml:"genesis_time"`
	EpochSeconds    int64  `toml:"EpochSeconds" yaml:"epoch_seconds"`
	StakeDecimals   uint8  `toml:"StakeDecimals" yaml:"stake_decimals"`
	RewardDecimals  uint8  `toml:"RewardDecimals" yaml:"reward_decimals"`
	CallerFeeBps    uint64 `toml:"CallerFeeBps" yaml:"caller_fee_bps"`
	MaxLockedStakes int    `toml:"MaxLockedStakes" yaml:"max_locked_stakes"`
}

// EmissionsConfig either points at a schedule file or carries the values
// inline. The file wins when both are present.
type EmissionsConfig struct {
	File                string `toml:"File" yaml:"file"`
	FeeToRewardRatioBps uint64 `toml:"FeeToRewardRatioBps" yaml:"fee_to_reward_ratio_bps"`
	InceptionRate       uint64 `toml:"InceptionRate" yaml:"inception_rate"`
	EpochDecayPeriod    uint64 `toml:"EpochDecayPeriod" yaml:"epoch_decay_period"`
	InceptionEpoch      uint64 `toml:"InceptionEpoch" yaml:"inception_epoch"`
}

type AuthConfig struct {
	HMACSecret    string `toml:"HMACSecret" yaml:"hmac_secret"`
	HMACSecretEnv string `toml:"HMACSecretEnv" yaml:"hmac_secret_env"`
	Issuer        string `toml:"Issuer" yaml:"issuer"`
	Audience      string `toml:"Audience" yaml:"audience"`
	// FeeReporters lists the actors allowed to report protocol fees.
	FeeReporters []string `toml:"FeeReporters" yaml:"fee_reporters"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int `toml:"Burst" yaml:"burst"`
}

type TelemetryConfig struct {
	Endpoint       string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure       bool              `toml:"Insecure" yaml:"insecure"`
	Traces         bool              `toml:"Traces" yaml:"traces"`
	Metrics        bool              `toml:"Metrics" yaml:"metrics"`
	SampleRatio    float64           `toml:"SampleRatio" yaml:"sample_ratio"`
	MetricInterval int               `toml:"MetricIntervalSeconds" yaml:"metric_interval_seconds"`
	Headers        map[string]string `toml:"Headers" yaml:"headers"`
}

type LoggingConfig struct {
	File       string `toml:"File" yaml:"file"`
	Level      string `toml:"Level" yaml:"level"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

type ResolverConfig struct {
	Enabled  bool     `toml:"Enabled" yaml:"enabled"`
	Interval Duration `toml:"Interval" yaml:"interval"`

	// AutoClaimBacklog is the resolved-round backlog at which the keeper
	// claims for stakers that stopped claiming.
	AutoClaimBacklog int `toml:"AutoClaimBacklog" yaml:"auto_claim_backlog"`
	AutoClaimBatch   int `toml:"AutoClaimBatch" yaml:"auto_claim_batch"`
}

const otlpHeadersEnv = "OTEL_EXPORTER_OTLP_HEADERS"

// lightKeystore switches keeper key generation to the cheap scrypt
// parameters. Tests flip it.
var lightKeystore = false

// Default returns the configuration written on first start. The genesis time
// is left unset until the file is created.
func Default() *Config {
	params := staking.DefaultParams()
	schedule := emissions.DefaultSchedule(0)
	return &Config{
		ListenAddress: ":8547",
		DataDir:       "./perpstake-data",
		Environment:   "local",
		Storage:       StorageConfig{Backend: "leveldb"},
		Staking: StakingConfig{
			EpochSeconds:    ledger.DefaultEpochSeconds,
			StakeDecimals:   params.StakeDecimals,
			RewardDecimals:  params.RewardDecimals,
			CallerFeeBps:    params.CallerFeeBps,
			MaxLockedStakes: params.MaxLockedStakes,
		},
		Emissions: EmissionsConfig{
			FeeToRewardRatioBps: schedule.FeeToRewardRatioBps,
			InceptionRate:       schedule.InceptionRate,
			EpochDecayPeriod:    schedule.EpochDecayPeriod,
		},
		Auth: AuthConfig{
			HMACSecretEnv: "PERPSTAKE_JWT_SECRET",
			Issuer:        "perpstake",
			Audience:      "stakerd",
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Telemetry: TelemetryConfig{SampleRatio: 1},
		Logging:   LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Resolver: ResolverConfig{
			Enabled:          true,
			Interval:         Duration{time.Minute},
			AutoClaimBacklog: ledger.DefaultAutoClaimBacklog,
			AutoClaimBatch:   ledger.DefaultAutoClaimBatch,
		},
	}
}

// LoadOption customises Load.
type LoadOption func(*Config)

// WithKeystorePassphraseSource resolves the keeper keystore passphrase through
// fn instead of KeeperPassphraseEnv.
func WithKeystorePassphraseSource(fn func() (string, error)) LoadOption {
	return func(c *Config) { c.passphrase = fn }
}

// Load loads the configuration from path. A missing TOML file is created with
// defaults; YAML files are read as-is.
func Load(path string, opts ...LoadOption) (*Config, error) {
	cfg := Default()
	for _, opt := range opts {
		opt(cfg)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if ext == ".yaml" || ext == ".yml" {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return createDefault(path, cfg)
	}

	switch ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if err := ensureKeystore(path, cfg, false); err != nil {
			return nil, err
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown fields %v", path, undecoded)
		}
		if err := ensureKeystore(path, cfg, true); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that the ledger cannot check itself.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress is required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("DataDir is required for %s storage", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]")
	}
	if c.Telemetry.MetricInterval < 0 {
		return fmt.Errorf("telemetry metric interval must not be negative")
	}
	if c.Staking.GenesisTime < 0 {
		return fmt.Errorf("staking genesis time must not be negative")
	}
	if c.Resolver.Enabled && c.Resolver.Interval.Duration <= 0 {
		return fmt.Errorf("resolver interval must be positive")
	}
	if c.Resolver.AutoClaimBacklog < 0 || c.Resolver.AutoClaimBacklog > staking.MaxResolvedRounds {
		return fmt.Errorf("resolver auto-claim backlog must be within [0, %d]", staking.MaxResolvedRounds)
	}
	if c.Resolver.AutoClaimBatch < 0 {
		return fmt.Errorf("resolver auto-claim batch must not be negative")
	}
	for _, reporter := range c.Auth.FeeReporters {
		if _, err := crypto.DecodeAddress(reporter); err != nil {
			return fmt.Errorf("fee reporter %q: %w", reporter, err)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Emissions.File != "" {
		return nil
	}
	return c.schedule().Validate()
}

func (c *Config) schedule() emissions.Schedule {
	return emissions.Schedule{
		FeeToRewardRatioBps: c.Emissions.FeeToRewardRatioBps,
		InceptionRate:       c.Emissions.InceptionRate,
		EpochDecayPeriod:    c.Emissions.EpochDecayPeriod,
		InceptionEpoch:      c.Emissions.InceptionEpoch,
	}
}

// LedgerConfig resolves the engine configuration, reading the emission
// schedule file when one is configured.
func (c *Config) LedgerConfig() (ledger.Config, error) {
	schedule := c.schedule()
	if file := strings.TrimSpace(c.Emissions.File); file != "" {
		loaded, err := emissions.LoadSchedule(file)
		if err != nil {
			return ledger.Config{}, err
		}
		schedule = loaded
	}
	out := ledger.Config{
		GenesisTime:  c.Staking.GenesisTime,
		EpochSeconds: c.Staking.EpochSeconds,
		Params: staking.Params{
			StakeDecimals:   c.Staking.StakeDecimals,
			RewardDecimals:  c.Staking.RewardDecimals,
			CallerFeeBps:    c.Staking.CallerFeeBps,
			MaxLockedStakes: c.Staking.MaxLockedStakes,
		},
		Schedule:         schedule,
		AutoClaimBacklog: c.Resolver.AutoClaimBacklog,
		AutoClaimBatch:   c.Resolver.AutoClaimBatch,
	}
	if err := out.Validate(); err != nil {
		return ledger.Config{}, err
	}
	return out, nil
}

// HMACKey returns the token signing secret, preferring the environment.
func (c *Config) HMACKey() []byte {
	if env := strings.TrimSpace(c.Auth.HMACSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return []byte(v)
		}
	}
	return []byte(strings.TrimSpace(c.Auth.HMACSecret))
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	raw := strings.TrimSpace(c.Logging.Level)
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", raw, err)
	}
	return level, nil
}

func (c *Config) LoggingOptions() logging.Options {
	level, _ := c.LogLevel()
	return logging.Options{
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Level:      level,
	}
}

// TelemetryConfig builds the exporter settings. Headers from
// OTEL_EXPORTER_OTLP_HEADERS override configured headers with the same key.
func (c *Config) TelemetryConfig(service string) perpotel.Config {
	headers := make(map[string]string, len(c.Telemetry.Headers))
	for k, v := range c.Telemetry.Headers {
		headers[k] = v
	}
	for k, v := range perpotel.ParseHeaders(os.Getenv(otlpHeadersEnv)) {
		headers[k] = v
	}
	return perpotel.Config{
		ServiceName:    service,
		Environment:    c.Environment,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		Headers:        headers,
		Metrics:        c.Telemetry.Metrics,
		Traces:         c.Telemetry.Traces,
		SampleRatio:    c.Telemetry.SampleRatio,
		MetricInterval: time.Duration(c.Telemetry.MetricInterval) * time.Second,
		Ledger: perpotel.LedgerInfo{
			GenesisTime:    c.Staking.GenesisTime,
			EpochSeconds:   c.Staking.EpochSeconds,
			StorageBackend: c.Storage.Backend,
		},
	}
}

// KeeperPassphrase returns the keeper keystore passphrase. Without a
// passphrase source it reads KeeperPassphraseEnv; an unset variable means an
// empty passphrase.
func (c *Config) KeeperPassphrase() (string, error) {
	if c.passphrase != nil {
		return c.passphrase()
	}
	if env := strings.TrimSpace(c.KeeperPassphraseEnv); env != "" {
		return os.Getenv(env), nil
	}
	return "", nil
}

// KeeperAddress loads the keeper key and returns its address.
func (c *Config) KeeperAddress() (crypto.Address, error) {
	passphrase, err := c.KeeperPassphrase()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(c.KeeperKeystorePath, passphrase)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("load keeper keystore: %w", err)
	}
	return key.Address(), nil
}

// ensureKeystore generates the keeper key when missing. With rewrite set, a
// defaulted keystore path is written back to the config file.
func ensureKeystore(configPath string, cfg *Config, rewrite bool) error {
	keystorePath := cfg.KeeperKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if err := generateKeystore(keystorePath, cfg); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.KeeperKeystorePath != keystorePath {
		cfg.KeeperKeystorePath = keystorePath
		if rewrite {
			return persist(configPath, cfg)
		}
	}
	return nil
}

func generateKeystore(path string, cfg *Config) error {
	passphrase, err := cfg.KeeperPassphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(path, key, passphrase, lightKeystore)
}

// createDefault saves cfg as a new configuration file alongside a fresh
// keeper key.
func createDefault(path string, cfg *Config) (*Config, error) {
	cfg.KeeperKeystorePath = defaultKeystorePath(path)
	if cfg.Staking.GenesisTime == 0 {
		cfg.Staking.GenesisTime = time.Now().Unix()
	}
	if err := generateKeystore(cfg.KeeperKeystorePath, cfg); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "keeper.keystore")
}
