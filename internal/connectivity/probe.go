package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	stateUnknown = iota
	stateOffline
	stateOnline
)

// Prober polls an HTTP endpoint and emits an event whenever reachability
// changes. Any HTTP response, whatever its status, counts as reachable.
type Prober struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool
	state   int
}

// NewProber creates a prober for url.
func NewProber(url string, interval time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Prober{
		url:      url,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{},
		logger:   logger.With("source", "probe"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name returns "probe".
func (p *Prober) Name() string { return "probe" }

// Start probes once immediately and then on every interval.
func (p *Prober) Start(ctx context.Context, emit func(Event)) error {
	if p.url == "" {
		return errors.New("probe url is required")
	}
	p.started = true
	go p.poll(ctx, emit)
	p.logger.Info("connectivity prober started", "url", p.url, "interval", p.interval)
	return nil
}

// Stop stops polling and waits for the loop to exit.
func (p *Prober) Stop() error {
	if !p.started {
		return nil
	}
	p.once.Do(func() {
		close(p.stop)
	})
	<-p.done
	return nil
}

func (p *Prober) poll(ctx context.Context, emit func(Event)) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx, emit)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx, emit)
		}
	}
}

func (p *Prober) check(ctx context.Context, emit func(Event)) {
	err := p.probe(ctx)
	if ctx.Err() != nil {
		return
	}

	next := stateOnline
	if err != nil {
		next = stateOffline
	}
	if next == p.state {
		return
	}
	p.state = next

	ev := Event{Online: next == stateOnline, Source: p.Name(), At: time.Now()}
	if err != nil {
		ev.Reason = err.Error()
		p.logger.Debug("probe failed", "url", p.url, "error", err)
	}
	emit(ev)
}

func (p *Prober) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
