// hsmd runs the HSM controller daemon: it loads configuration, boots the
// controller from its persisted StateBlob, and serves generateKeys,
// rotateKeys, eraseKeys, digestBytes, signBytes, and validSignature
// requests over a Unix domain socket until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hsmd/internal/audit"
	"hsmd/internal/config"
	"hsmd/internal/consent"
	"hsmd/internal/entropy"
	"hsmd/internal/hsm"
	"hsmd/internal/ipc"
	"hsmd/internal/logging"
	"hsmd/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/hsmd/hsmd.toml", "path to hsmd's TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "hsmd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader, err := config.NewLoader(configPath, nil)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := loader.Config()

	logger := logging.New(logging.Config{
		Level:     parseLevel(cfg.Logging.Level),
		Format:    parseFormat(cfg.Logging.Format),
		Component: "hsmd",
	}, nil)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("configuration hot-reload disabled", slog.Any("error", err))
	} else {
		defer loader.Close()
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open persistent store: %w", err)
	}

	pool := buildEntropyPool(cfg, logger)
	gate := buildConsentGate(cfg, logger)

	controller := hsm.Open(st, pool, gate, hsm.WithLogger(logger))

	var auditLog *audit.Log
	if cfg.Audit.HMACKeyPath != "" {
		auditLog, err = openAuditLog(cfg, logger)
		if err != nil {
			logger.Warn("audit log disabled", slog.Any("error", err))
		} else {
			defer auditLog.Close()
		}
	}

	server := ipc.New(cfg.IPC.SocketPath, controller, auditLog, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer server.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("hsmd started", slog.String("socket", cfg.IPC.SocketPath), slog.String("state", controller.State().String()))
	return server.Serve(ctx)
}

func buildEntropyPool(cfg *config.Config, logger *slog.Logger) *entropy.Pool {
	if cfg.Entropy.TPMDevice == "" {
		return entropy.NewPool()
	}
	tpm := entropy.NewTPMSource(cfg.Entropy.TPMDevice)
	if !tpm.Available() {
		logger.Warn("tpm entropy source unavailable, falling back to OS CSPRNG only", slog.String("device", cfg.Entropy.TPMDevice))
		return entropy.NewPool()
	}
	return entropy.NewPool(tpm)
}

func buildConsentGate(cfg *config.Config, logger *slog.Logger) *consent.Gate {
	if cfg.Consent.GPIOChip == "" {
		return consent.New(nil, nil)
	}

	button, err := consent.OpenLinuxGPIOButton(cfg.Consent.GPIOChip, cfg.Consent.ButtonLine)
	if err != nil {
		logger.Warn("consent button unavailable, falling back to vacuous consent", slog.Any("error", err))
		return consent.New(nil, nil)
	}
	led, err := consent.OpenLinuxGPIOLED(cfg.Consent.GPIOChip, cfg.Consent.LEDLine)
	if err != nil {
		logger.Warn("consent led unavailable, running without one", slog.Any("error", err))
		return consent.New(button, nil)
	}
	return consent.New(button, led)
}

func openAuditLog(cfg *config.Config, logger *slog.Logger) (*audit.Log, error) {
	key, err := audit.LoadHMACKey(cfg.Audit.HMACKeyPath)
	if err != nil {
		return nil, err
	}
	log, err := audit.Open(cfg.Audit.Path, key)
	if err != nil {
		return nil, err
	}
	if err := log.Verify(); err != nil {
		logger.Error("audit log integrity check failed on boot", slog.Any("error", err))
	}
	return log, nil
}

func parseLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseFormat(format string) logging.Format {
	if format == "json" {
		return logging.FormatJSON
	}
	return logging.FormatText
}
