package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// Watcher keeps the effective configuration of a running process in step
// with its config file.
//
// Only server.log_level and recording.max_duration apply without a restart.
// When the file changes, those two fields are copied into the effective
// config and reported to the callback as a [ConfigDiff]. Edits to any other
// section are logged and held as pending; [Watcher.Current] keeps returning
// the values the process actually runs with until it is restarted. Invalid
// edits are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ConfigDiff)

	// reloadMu serialises polling and [Watcher.Reload].
	reloadMu sync.Mutex

	mu      sync.Mutex
	started *Config // as loaded at startup
	current *Config // started plus the hot fields of the latest valid file
	pending []string

	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it. onChange, if
// non-nil, receives every diff that changes a hot field; it must not call
// [Watcher.Reload].
func NewWatcher(path string, onChange func(ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, hash, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.started, w.current = cfg, cfg
	w.lastHash, w.lastMtime = hash, info.ModTime()

	go w.poll()
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Pending lists the sections edited in the file that wait for a restart, in
// [Diff] order. It is empty when the file matches the running process.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.pending)
}

// Reload re-reads the file immediately, even if its modification time is
// unchanged. The returned diff carries the hot fields it applied and, in
// RestartSections, everything still pending. An invalid file returns an
// error and leaves the effective config untouched.
func (w *Watcher) Reload() (ConfigDiff, error) {
	return w.reload(true)
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload: %w", err)
	}

	w.mu.Lock()
	touched := !info.ModTime().Equal(w.lastMtime)
	// An invalid edit is reported once, not on every poll.
	w.lastMtime = info.ModTime()
	w.mu.Unlock()
	if !touched && !force {
		return ConfigDiff{}, nil
	}

	next, hash, err := readConfig(w.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload: %w", err)
	}

	w.mu.Lock()
	if hash == w.lastHash {
		d := ConfigDiff{RestartSections: slices.Clone(w.pending), RestartRequired: len(w.pending) > 0}
		w.mu.Unlock()
		return d, nil
	}
	w.lastHash = hash

	effective := withHotFields(w.started, next)
	d := Diff(w.current, effective)
	pending := Diff(w.started, next).RestartSections
	pendingChanged := !slices.Equal(pending, w.pending)
	w.current = effective
	w.pending = pending
	w.mu.Unlock()

	if pendingChanged {
		if len(pending) > 0 {
			slog.Warn("config watcher: edits take effect after a restart", "path", w.path, "sections", pending)
		} else {
			slog.Info("config watcher: file matches the running config again", "path", w.path)
		}
	}
	if d.Hot() {
		slog.Info("config watcher: applied hot fields",
			"path", w.path,
			"log_level", effective.Server.LogLevel,
			"max_duration", effective.Recording.MaxDuration,
		)
		// Outside the lock so the callback may call Current.
		if w.onChange != nil {
			w.onChange(d)
		}
	}

	d.RestartSections = pending
	d.RestartRequired = len(pending) > 0
	return d, nil
}

// withHotFields returns a copy of base carrying the hot-reloadable fields
// of next.
func withHotFields(base, next *Config) *Config {
	c := *base
	c.Server.LogLevel = next.Server.LogLevel
	c.Recording.MaxDuration = next.Recording.MaxDuration
	return &c
}

// readConfig reads, validates and hashes the file at path.
func readConfig(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
