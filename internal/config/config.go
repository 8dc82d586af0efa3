// Package config handles configuration loading, validation, and hot
// reload for hsmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version"`

	// Storage configures where the persistent StateBlob lives.
	Storage StorageConfig `toml:"storage"`

	// Consent configures the physical consent button and LED.
	Consent ConsentConfig `toml:"consent"`

	// Entropy configures the entropy pool's hardware sources.
	Entropy EntropyConfig `toml:"entropy"`

	// Audit configures the tamper-evident audit log.
	Audit AuditConfig `toml:"audit"`

	// Logging configures the structured logger.
	Logging LoggingConfig `toml:"logging"`

	// IPC configures the Unix-domain-socket server.
	IPC IPCConfig `toml:"ipc"`
}

// StorageConfig configures PersistentStore.
type StorageConfig struct {
	// Path is the filesystem location of the 129-byte StateBlob.
	Path string `toml:"path"`
}

// ConsentConfig configures ConsentGate.
type ConsentConfig struct {
	// GPIOChip is the Linux GPIO character-device path, e.g. /dev/gpiochip0.
	// Empty disables the hardware button; generateKeys/rotateKeys/signBytes
	// then grant consent vacuously.
	GPIOChip string `toml:"gpio_chip"`

	// ButtonLine is the GPIO offset the consent button is wired to.
	ButtonLine uint32 `toml:"button_line"`

	// LEDLine is the GPIO offset the consent LED is wired to. Ignored if
	// GPIOChip is empty.
	LEDLine uint32 `toml:"led_line"`
}

// EntropyConfig configures the entropy pool.
type EntropyConfig struct {
	// TPMDevice is the Linux TPM resource-manager device path, e.g.
	// /dev/tpmrm0. Empty disables the hardware RNG source; the pool then
	// relies solely on the OS CSPRNG.
	TPMDevice string `toml:"tpm_device"`
}

// AuditConfig configures the tamper-evident audit log.
type AuditConfig struct {
	// Path is the SQLite database file backing the hash-chained log.
	Path string `toml:"path"`

	// HMACKeyPath points to a file holding the secret HMAC key used to
	// chain audit entries. A missing file is an error; this key is never
	// generated implicitly.
	HMACKeyPath string `toml:"hmac_key_path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// Format is one of "text" or "json".
	Format string `toml:"format"`
}

// IPCConfig configures the Unix-domain-socket server.
type IPCConfig struct {
	// SocketPath is the filesystem path of the listening socket.
	SocketPath string `toml:"socket_path"`
}

// ErrValidation wraps every configuration validation failure.
var ErrValidation = errors.New("config: invalid configuration")

// DefaultConfig returns the configuration hsmd falls back to when no file
// is present.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Storage: StorageConfig{Path: "/var/lib/hsmd/state.bin"},
		Consent: ConsentConfig{GPIOChip: "", ButtonLine: 5, LEDLine: 17},
		Entropy: EntropyConfig{TPMDevice: ""},
		Audit:   AuditConfig{Path: "/var/lib/hsmd/audit.db", HMACKeyPath: "/etc/hsmd/audit.key"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		IPC:     IPCConfig{SocketPath: "/run/hsmd/hsmd.sock"},
	}
}

// Load reads and parses the TOML configuration file at path on top of
// DefaultConfig, so any field the file does not set keeps its default, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural invariants that aren't expressible in TOML's
// type system.
func (c *Config) Validate() error {
	if c.Version > Version {
		return fmt.Errorf("%w: unsupported config version %d (this binary supports up to %d)", ErrValidation, c.Version, Version)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path must not be empty", ErrValidation)
	}
	if c.IPC.SocketPath == "" {
		return fmt.Errorf("%w: ipc.socket_path must not be empty", ErrValidation)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug/info/warn/error", ErrValidation, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q is not one of text/json", ErrValidation, c.Logging.Format)
	}
	return nil
}

// EnsureDirectories creates the parent directories of every configured
// file path, so a fresh install doesn't need them pre-created.
func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Storage.Path, c.Audit.Path, c.IPC.SocketPath} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("config: create directory for %s: %w", path, err)
		}
	}
	return nil
}

// Hardware-gated fields that hot-reload must never touch: changing the
// storage path, the audit key, or the socket path out from under a
// running daemon would silently orphan state. ReloadableFields names the
// ones fsnotify-driven reloads are allowed to apply.
var ReloadableFields = []string{"logging.level", "logging.format"}

// ApplyReloadable copies only the fields named in ReloadableFields from
// next into c, leaving every security-relevant field untouched.
func (c *Config) ApplyReloadable(next *Config) {
	c.Logging.Level = next.Logging.Level
	c.Logging.Format = next.Logging.Format
}
