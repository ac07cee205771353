package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event reports a connectivity change or an explicit sync nudge.
type Event struct {
	Online bool      `json:"online"`
	Source string    `json:"source"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Source produces connectivity events. Start must not block.
type Source interface {
	Name() string
	Start(ctx context.Context, emit func(Event)) error
	Stop() error
}

// Monitor fans events from several sources into one channel and tracks the
// last known state.
type Monitor struct {
	sources []Source
	events  chan Event
	online  atomic.Bool
	logger  *slog.Logger

	sendMu    sync.Mutex
	mu        sync.Mutex
	started   []Source
	last      Event
	observers map[int]func(Event)
	nextObs   int
}

// NewMonitor creates a monitor. The state is online until a source says
// otherwise, so direct writes are attempted first.
func NewMonitor(logger *slog.Logger, sources ...Source) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		sources: sources,
		events:  make(chan Event, 16),
		logger:  logger.With("component", "connectivity"),
	}
	m.online.Store(true)
	return m
}

// Events returns the merged event stream.
func (m *Monitor) Events() <-chan Event { return m.events }

// Online reports the last known connectivity state.
func (m *Monitor) Online() bool { return m.online.Load() }

// Last returns the most recent event.
func (m *Monitor) Last() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Subscribe registers fn for every reported event and returns a function
// that unregisters it. fn runs synchronously and must not block.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.observers == nil {
		m.observers = make(map[int]func(Event))
	}
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// Start starts every source. Sources that fail to start are stopped again
// and the error is returned.
func (m *Monitor) Start(ctx context.Context) error {
	for _, src := range m.sources {
		if err := src.Start(ctx, m.Report); err != nil {
			m.Stop()
			return fmt.Errorf("start %s source: %w", src.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, src)
		m.mu.Unlock()
		m.logger.Info("connectivity source started", "source", src.Name())
	}
	return nil
}

// Stop stops all started sources.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for _, src := range started {
		if err := src.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s source: %w", src.Name(), err)
		}
	}
	return firstErr
}

// Report records ev and forwards it to Events. It never blocks; when the
// consumer is behind, the oldest buffered event is evicted so the latest
// state is always delivered.
func (m *Monitor) Report(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	prev := m.online.Swap(ev.Online)

	m.mu.Lock()
	m.last = ev
	observers := make([]func(Event), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}

	if prev != ev.Online {
		m.logger.Info("connectivity changed", "online", ev.Online, "source", ev.Source, "reason", ev.Reason)
	}
	m.forward(ev)
}

func (m *Monitor) forward(ev Event) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case old := <-m.events:
			m.logger.Debug("connectivity event evicted", "source", old.Source, "online", old.Online)
		default:
		}
	}
}
