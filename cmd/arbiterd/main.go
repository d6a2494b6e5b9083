// arbiterd is the per-node coordination daemon. It registers the node,
// runs lease election against the shared PostgreSQL store, and serves
// the status API; the active node additionally sweeps peer health,
// watches replication, and answers failover DNS.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/arbiter"
	"github.com/FairForge/arbiter/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", config.GetEnvOrDefault("ARBITER_CONFIG", ""), "path to the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiterd: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbiterd: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	supervisor, err := arbiter.New(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	// Hot-reload the dynamic config subset while running.
	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, logger, supervisor.Reload)
		if err != nil {
			logger.Warn("config watching disabled", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = supervisor.Run(ctx)
	if watcher != nil {
		_ = watcher.Close()
	}
	if err != nil {
		logger.Fatal("arbiter exited", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zapCfg.Level = parsed
	}
	return zapCfg.Build()
}
