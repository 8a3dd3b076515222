// Command truthledger runs the escrow and settlement ledger. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/truthledger/internal/app"
	"github.com/alanyoungcy/truthledger/internal/config"
	"github.com/alanyoungcy/truthledger/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.Bool("encrypt-key", false,
		"encrypt authority.private_key with authority.key_password into -key-out and exit")
	keyOut := flag.String("key-out", "authority.key.json", "output path for -encrypt-key")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if *encryptKey {
		if err := writeEncryptedKey(cfg, *keyOut, logger); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("truthledger starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("truthledger stopped")
}

// newLogger returns a JSON logger at the named level; unknown names mean info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func writeEncryptedKey(cfg *config.Config, out string, logger *slog.Logger) error {
	if cfg.Authority.PrivateKey == "" {
		return errors.New("authority.private_key (or TRUTHLEDGER_AUTHORITY_PRIVATE_KEY) is empty")
	}
	if cfg.Authority.KeyPassword == "" {
		return errors.New("authority.key_password (or TRUTHLEDGER_AUTHORITY_KEY_PASSWORD) is empty")
	}
	addr, err := crypto.WriteKeyFile(out, cfg.Authority.PrivateKey, cfg.Authority.KeyPassword)
	if err != nil {
		return err
	}
	logger.Info("authority key encrypted",
		slog.String("path", out),
		slog.String("address", addr),
	)
	return nil
}
