package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "hsmd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	path := writeConfig(t, `version = 1`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Storage.Path, cfg.Storage.Path)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	path := writeConfig(t, `version = 99`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeConfig(t, "version = 1\n[logging]\nlevel = \"verbose\"\n")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoadOverridesStoragePath(t *testing.T) {
	path := writeConfig(t, "version = 1\n[storage]\npath = \"/tmp/custom-state.bin\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-state.bin", cfg.Storage.Path)
}

func TestApplyReloadableLeavesSecurityFieldsUntouched(t *testing.T) {
	c := DefaultConfig()
	next := DefaultConfig()
	next.Logging.Level = "debug"
	next.Storage.Path = "/should/not/apply"

	c.ApplyReloadable(next)
	require.Equal(t, "debug", c.Logging.Level)
	require.NotEqual(t, "/should/not/apply", c.Storage.Path)
}

func TestLoaderWatchPicksUpReloadableChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hsmd.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n[logging]\nlevel = \"info\"\n"), 0600))

	l, err := NewLoader(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("version = 1\n[logging]\nlevel = \"debug\"\n"), 0600))

	require.Eventually(t, func() bool {
		return l.Config().Logging.Level == "debug"
	}, 2*time.Second, 20*time.Millisecond)
}
