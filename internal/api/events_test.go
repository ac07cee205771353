package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/omerix/offline-sync/internal/connectivity"
	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func nextEvent(t *testing.T, ch <-chan StreamEvent, typ string) StreamEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed while waiting for %s event", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestHub_PublishAndCancel(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}

	h.ObserveFlush(syncer.Result{OK: 2, Failed: 1}, nil)
	ev := nextEvent(t, ch, EventFlush)
	if ev.Flush == nil || ev.Flush.OK != 2 || ev.Flush.Failed != 1 {
		t.Errorf("unexpected flush event: %+v", ev)
	}
	if ev.At.IsZero() {
		t.Error("expected timestamp to be set")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
	if h.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Subscribers())
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(StreamEvent{Type: EventQueue})
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("expected buffer to hold %d events, got %d", subscriberBuffer, len(ch))
	}
}

func TestHub_AttachForwardsSources(t *testing.T) {
	q := opqueue.New(opqueue.NewMemoryStore(), nil)
	mon := connectivity.NewMonitor(nil)
	h := NewHub(nil)
	h.Attach(q, mon)

	ch, cancel := h.Subscribe()
	defer cancel()

	id, err := q.Enqueue(context.Background(), opqueue.Request{URL: "/x", Method: "POST"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ev := nextEvent(t, ch, EventQueue)
	if ev.Queue.Kind != opqueue.EventEnqueued || ev.Queue.ID != id {
		t.Errorf("unexpected queue event: %+v", ev.Queue)
	}

	mon.Report(connectivity.Event{Online: false, Source: "test"})
	ev = nextEvent(t, ch, EventConnectivity)
	if ev.Connectivity.Online || ev.Connectivity.Source != "test" {
		t.Errorf("unexpected connectivity event: %+v", ev.Connectivity)
	}

	h.Close()
	if _, ok := <-ch; ok {
		t.Error("expected Close to end subscriptions")
	}

	// detached: no panic publishing into closed subscriptions
	if _, err := q.Enqueue(context.Background(), opqueue.Request{URL: "/y", Method: "POST"}); err != nil {
		t.Fatalf("Enqueue after Close failed: %v", err)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, testSecret)
	c := env.client(t, security.RoleReadonly)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	waitUntil(t, func() bool { return env.hub.Subscribers() == 1 })

	id, err := env.queue.Enqueue(ctx, opqueue.Request{URL: "/api/partes-trabajo/123/notas", Method: "POST"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ev := nextEvent(t, events, EventQueue)
	if ev.Queue == nil || ev.Queue.ID != id {
		t.Errorf("unexpected event: %+v", ev)
	}

	env.monitor.Report(connectivity.Event{Online: false, Source: "probe"})
	ev = nextEvent(t, events, EventConnectivity)
	if ev.Connectivity.Online {
		t.Error("expected offline connectivity event")
	}

	cancel()
	waitUntil(t, func() bool { return env.hub.Subscribers() == 0 })
}

func TestEventStream_RequiresToken(t *testing.T) {
	env := newTestEnv(t, testSecret)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/events"
	_, resp, err := websocket.Dial(context.Background(), wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}

	_, resp, err = websocket.Dial(context.Background(), wsURL+"?token=garbage", nil)
	if err == nil {
		t.Fatal("expected dial with bad token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}
