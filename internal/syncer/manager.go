package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omerix/offline-sync/internal/connectivity"
)

// TokenSource supplies the bearer token of the current session. An empty
// token with a nil error means nobody is signed in.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// FlushOnStart runs one pass right after Start.
	FlushOnStart bool
}

// Manager owns the automatic sync loop: every connectivity "online" event
// and every manual trigger starts a flush with the current session token.
type Manager struct {
	sync   *Synchronizer
	tokens TokenSource
	events <-chan connectivity.Event
	opts   ManagerOptions
	logger *slog.Logger

	trigger chan string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager. events may be nil when only manual triggers
// are used.
func NewManager(s *Synchronizer, tokens TokenSource, events <-chan connectivity.Event, opts ManagerOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sync:    s,
		tokens:  tokens,
		events:  events,
		opts:    opts,
		logger:  logger.With("component", "sync-manager"),
		trigger: make(chan string, 1),
	}
}

// Synchronizer returns the underlying synchronizer.
func (m *Manager) Synchronizer() *Synchronizer { return m.sync }

// Start begins listening for triggers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("sync manager already running")
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)

	if m.opts.FlushOnStart {
		m.Trigger("startup")
	}
	m.logger.Info("sync manager started", "flush_on_start", m.opts.FlushOnStart)
	return nil
}

// Stop cancels any pass in flight and waits for the loop to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.logger.Info("stopping sync manager")
	m.cancel()
	m.wg.Wait()
	m.running = false
	return nil
}

// Trigger requests a flush without waiting for it. Triggers that arrive
// while one is already pending are merged; it reports whether this call
// queued a new one.
func (m *Manager) Trigger(reason string) bool {
	select {
	case m.trigger <- reason:
		return true
	default:
		return false
	}
}

// FlushNow runs a flush synchronously with the current session token.
func (m *Manager) FlushNow(ctx context.Context) (Result, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("session token: %w", err)
	}
	if token == "" {
		return Result{}, ErrNoToken
	}
	return m.sync.Flush(ctx, token)
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	events := m.events
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.Online {
				continue
			}
			m.run(ctx, "reconnect:"+ev.Source)
		case reason := <-m.trigger:
			m.run(ctx, reason)
		}
	}
}

// run performs one automatic pass. Missing credentials skip the pass
// silently: the operations stay queued until someone signs in.
func (m *Manager) run(ctx context.Context, reason string) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.logger.Warn("sync skipped, session token unavailable", "reason", reason, "error", err)
		return
	}
	if token == "" {
		m.logger.Debug("sync skipped, no session", "reason", reason)
		return
	}

	res, err := m.sync.Flush(ctx, token)
	switch {
	case errors.Is(err, ErrFlushInProgress):
		m.logger.Debug("sync already running", "reason", reason)
		return
	case err != nil && ctx.Err() != nil:
		return
	case err != nil:
		m.logger.Warn("sync failed", "reason", reason, "error", err)
		return
	}

	if res.OK == 0 && res.Failed == 0 {
		m.logger.Debug("nothing to synchronize", "reason", reason, "deferred", res.Deferred)
		return
	}
	m.logger.Info("synchronized offline operations",
		"count", res.OK,
		"failed", res.Failed,
		"dead", res.Dead,
		"deferred", res.Deferred,
		"reason", reason,
		"duration", res.Duration)
}
