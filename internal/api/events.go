package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/omerix/offline-sync/internal/connectivity"
	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

const (
	subscriberBuffer = 64
	wsWriteTimeout   = 5 * time.Second
)

// Hub fans queue, flush and connectivity events out to stream subscribers.
// Slow subscribers lose events rather than stall the publisher.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[chan StreamEvent]struct{}
	detach []func()
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "event-hub"),
		subs:   make(map[chan StreamEvent]struct{}),
	}
}

// Attach subscribes the hub to queue and connectivity changes. Either may be nil.
func (h *Hub) Attach(q *opqueue.Queue, m *connectivity.Monitor) {
	var detach []func()
	if q != nil {
		detach = append(detach, q.Subscribe(func(ev opqueue.Event) {
			h.Publish(StreamEvent{Type: EventQueue, Queue: &ev, At: ev.At})
		}))
	}
	if m != nil {
		detach = append(detach, m.Subscribe(func(ev connectivity.Event) {
			h.Publish(StreamEvent{Type: EventConnectivity, Connectivity: &ev, At: ev.At})
		}))
	}

	h.mu.Lock()
	h.detach = append(h.detach, detach...)
	h.mu.Unlock()
}

// Close detaches from all sources and ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	detach := h.detach
	h.detach = nil
	h.mu.Unlock()

	for _, fn := range detach {
		fn()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// Subscribe returns a channel of events and a function that cancels it.
func (h *Hub) Subscribe() (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev StreamEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("stream subscriber behind, event dropped", "type", ev.Type)
		}
	}
}

// ObserveReplay implements syncer.Metrics; single replays are visible
// through queue events already.
func (h *Hub) ObserveReplay(string, time.Duration) {}

// ObserveFlush implements syncer.Metrics.
func (h *Hub) ObserveFlush(res syncer.Result, err error) {
	ev := StreamEvent{Type: EventFlush, Flush: &res}
	if err != nil {
		ev.FlushError = err.Error()
	}
	h.Publish(ev)
}

var _ syncer.Metrics = (*Hub)(nil)

// handleEvents streams hub events over a websocket. Browsers cannot set
// headers on the upgrade request, so ?token= is accepted too.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	if s.deps.Secret != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			tokenStr, _ = security.BearerToken(r)
		}
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if _, err := security.ValidateToken(tokenStr, s.deps.Secret); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // kiosk front end is served from another origin
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	events, cancel := s.deps.Hub.Subscribe()
	defer cancel()

	// the stream is one-way; CloseRead handles pings and reports disconnects
	ctx := conn.CloseRead(r.Context())
	s.logger.Info("event stream connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev StreamEvent) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
