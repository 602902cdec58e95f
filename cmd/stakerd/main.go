package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"perpstake/cmd/internal/passphrase"
	"perpstake/config"
	"perpstake/core/events"
	"perpstake/core/ledger"
	"perpstake/crypto"
	"perpstake/observability/logging"
	"perpstake/observability/metrics"
	perpotel "perpstake/observability/otel"
	"perpstake/rpc"
	"perpstake/storage"
)

const keeperPassEnv = "PERPSTAKE_KEEPER_PASS"

func main() {
	configFile := flag.String("config", "./stakerd.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "stakerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passSource := passphrase.NewSource(keeperPassEnv, "keeper")
	cfg, err := config.Load(configPath, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("stakerd", cfg.Environment, cfg.LoggingOptions())

	shutdownTelemetry, err := perpotel.Init(ctx, cfg.TelemetryConfig("stakerd"))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		return fmt.Errorf("ledger config: %w", err)
	}
	stream := events.NewStream(nil)
	engine, err := ledger.New(db, ledgerCfg,
		ledger.WithEmitter(stream),
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics.Staking()),
	)
	if err != nil {
		return err
	}

	reporters := make([]crypto.Address, 0, len(cfg.Auth.FeeReporters))
	for _, raw := range cfg.Auth.FeeReporters {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return fmt.Errorf("fee reporter %q: %w", raw, err)
		}
		reporters = append(reporters, addr)
	}
	server := rpc.NewServer(engine, stream, rpc.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.HMACKey(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		FeeReporters: reporters,
		Faucet:       cfg.Faucet,
	}, logger)
	if cfg.Faucet {
		logger.Warn("stake token faucet enabled")
	}

	var keeper crypto.Address
	if cfg.Resolver.Enabled {
		if keeper, err = cfg.KeeperAddress(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Resolver.Enabled {
		logger.Info("round resolver enabled",
			logging.MaskField("actor", keeper.String()),
			slog.Duration("interval", cfg.Resolver.Interval.Duration))
		g.Go(func() error {
			err := engine.RunResolver(gctx, keeper, cfg.Resolver.Interval.Duration)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	logger.Info("stakerd stopped")
	return err
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.bolt"))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}
