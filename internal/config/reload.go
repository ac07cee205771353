package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed fields
	Applied []string // successfully applied
	Skipped []string // require restart
	Errors  []error
}

// restartRequiredFields lists config sections that cannot be hot-reloaded
// and require a full process restart.
var restartRequiredFields = map[string]bool{
	"Server.Port":         true,
	"Server.DataDir":      true,
	"Server.JWTSecretEnv": true,
	"API":                 true,
	"Queue":               true,
	"Connectivity":        true,
	"Metrics":             true,
}

// hotReloadableFields lists fields that can be applied at runtime.
var hotReloadableFields = []string{
	"Server.LogLevel",
	"Sync",
	"Scheduler",
}

// mu protects the Config during concurrent reload operations.
var mu sync.RWMutex

// RLock acquires a read lock on the config.
func RLock() { mu.RLock() }

// RUnlock releases a read lock on the config.
func RUnlock() { mu.RUnlock() }

// Reload re-reads the config from path, diffs against the current config,
// and applies hot-reloadable changes in place. Fields that require a
// restart are logged as skipped. An invalid new config is rejected whole.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	newCfg, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return nil, fmt.Errorf("reload: invalid config: %w", err)
	}

	result := &ReloadResult{}

	mu.Lock()
	defer mu.Unlock()

	diffAndApply(c, newCfg, result)

	return result, nil
}

// DefaultWatchInterval is used when Watch gets a non-positive interval.
const DefaultWatchInterval = 5 * time.Second

// Watch polls path and reloads c whenever the file content changes, handing
// each reload that changed something to apply. Rejected edits are logged and
// not retried until the file changes again. It returns nil when ctx is
// cancelled.
func (c *Config) Watch(ctx context.Context, path string, interval time.Duration, logger *slog.Logger, apply func(*ReloadResult)) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config-watch", "path", path)

	last, _ := digest(path)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sum, err := digest(path)
		if err != nil {
			logger.Warn("cannot read config file", "error", err)
			continue
		}
		if sum == last {
			continue
		}
		last = sum

		result, err := c.Reload(path)
		if err != nil {
			logger.Error("config reload failed", "error", err)
			continue
		}
		result.LogResult(logger)
		if apply != nil && len(result.Changed) > 0 {
			apply(result)
		}
	}
}

func digest(path string) ([blake2b.Size256]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [blake2b.Size256]byte{}, err
	}
	return blake2b.Sum256(data), nil
}

// diffAndApply compares old and new configs, applying hot-reloadable changes.
func diffAndApply(old, new *Config, result *ReloadResult) {
	skip := func(field string) {
		result.Changed = append(result.Changed, field)
		result.Skipped = append(result.Skipped, field+" (requires restart)")
	}
	apply := func(field string) {
		result.Changed = append(result.Changed, field)
		result.Applied = append(result.Applied, field)
	}

	if old.Server.Port != new.Server.Port {
		skip("Server.Port")
	}
	if old.Server.DataDir != new.Server.DataDir {
		skip("Server.DataDir")
	}
	if old.Server.JWTSecretEnv != new.Server.JWTSecretEnv {
		skip("Server.JWTSecretEnv")
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		old.Server.LogLevel = new.Server.LogLevel
		apply("Server.LogLevel")
	}

	if !reflect.DeepEqual(old.API, new.API) {
		skip("API")
	}
	if !reflect.DeepEqual(old.Queue, new.Queue) {
		skip("Queue")
	}
	if !reflect.DeepEqual(old.Connectivity, new.Connectivity) {
		skip("Connectivity")
	}
	if old.Metrics != new.Metrics {
		skip("Metrics")
	}

	if old.Sync != new.Sync {
		old.Sync = new.Sync
		apply("Sync")
	}
	if !reflect.DeepEqual(old.Scheduler, new.Scheduler) {
		old.Scheduler = new.Scheduler
		apply("Scheduler")
	}
}

// Has reports whether field is among the applied changes.
func (r *ReloadResult) Has(field string) bool {
	for _, a := range r.Applied {
		if a == field {
			return true
		}
	}
	return false
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}

	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}

	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// IsRestartRequired returns true if the field requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}

// HotReloadableFields returns the list of hot-reloadable field names.
func HotReloadableFields() []string {
	return hotReloadableFields
}
