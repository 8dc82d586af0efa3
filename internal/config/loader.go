package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader owns the live Config and, optionally, a filesystem watch that
// hot-reloads its non-security-relevant fields (spec.md's ambient config
// story never lets a hot reload touch storage/consent/entropy/audit/ipc
// paths — those require a restart).
type Loader struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader loads path once, eagerly, and returns a Loader wrapping the
// result.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{path: path, logger: logger, current: cfg}, nil
}

// Config returns the currently active configuration. The returned pointer
// is the live value that hot reloads update in place, and must be treated
// as read-only.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts watching the configuration file's directory and applies
// reloadable fields from any new version it parses successfully. A
// malformed rewrite is logged and ignored; the last good config stays
// live.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch directory: %w", err)
	}
	l.watcher = watcher
	l.done = make(chan struct{})
	go l.watchLoop()
	return nil
}

// Close stops the watch goroutine, if one was started.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}

func (l *Loader) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-l.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, l.reload)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func (l *Loader) reload() {
	next, err := Load(l.path)
	if err != nil {
		l.logger.Warn("config reload failed, keeping previous configuration", slog.Any("error", err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.ApplyReloadable(next)
	l.logger.Info("configuration hot-reloaded", slog.String("level", l.current.Logging.Level))
}
