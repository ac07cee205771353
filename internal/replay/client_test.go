package replay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omerix/offline-sync/internal/opqueue"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestClient_DoSendsHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/partes-trabajo/123/notas" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or invalid auth token")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Idempotency-Key") != "op-1" {
			t.Errorf("idempotency key = %q", r.Header.Get("Idempotency-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"texto":"hola"}` {
			t.Errorf("body = %s", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	out := c.Do(context.Background(), &opqueue.Operation{
		ID:     "op-1",
		URL:    "/api/partes-trabajo/123/notas",
		Method: "POST",
		Body:   []byte(`{"texto":"hola"}`),
	}, "test-token")

	if !out.OK() {
		t.Fatalf("expected delivered, got %v (%v)", out.Class, out.Err)
	}
	if out.Status != http.StatusCreated {
		t.Errorf("status = %d", out.Status)
	}
}

func TestClient_DoWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			t.Errorf("expected empty body, got length %d", r.ContentLength)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, "")
	out := c.Do(context.Background(), &opqueue.Operation{
		ID:     "op-2",
		URL:    server.URL + "/api/clientes/7",
		Method: "DELETE",
	}, "tok")
	if !out.OK() {
		t.Fatalf("expected delivered, got %v (%v)", out.Class, out.Err)
	}
}

func TestClient_DoClassifiesFailures(t *testing.T) {
	tests := []struct {
		status int
		want   Class
	}{
		{http.StatusInternalServerError, Retryable},
		{http.StatusServiceUnavailable, Retryable},
		{http.StatusTooManyRequests, Retryable},
		{http.StatusRequestTimeout, Retryable},
		{http.StatusBadRequest, Rejected},
		{http.StatusUnauthorized, Rejected},
		{http.StatusUnprocessableEntity, Rejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			out := newTestClient(t, server.URL).Do(context.Background(),
				&opqueue.Operation{ID: "x", URL: "/api/x", Method: "PUT"}, "tok")
			if out.Class != tt.want {
				t.Errorf("class = %v, want %v", out.Class, tt.want)
			}
			if out.Status != tt.status {
				t.Errorf("status = %d, want %d", out.Status, tt.status)
			}
			if out.Err == nil {
				t.Error("expected error on failure")
			}
		})
	}
}

func TestClient_DoNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	out := newTestClient(t, url).Do(context.Background(),
		&opqueue.Operation{ID: "x", URL: "/api/x", Method: "POST"}, "tok")
	if out.Class != Retryable {
		t.Errorf("class = %v, want retryable", out.Class)
	}
	if out.Status != 0 {
		t.Errorf("status = %d, want 0", out.Status)
	}
}

func TestClient_DoTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	out := c.Do(context.Background(), &opqueue.Operation{ID: "x", URL: "/api/x", Method: "POST"}, "tok")
	if out.Class != Retryable {
		t.Errorf("class = %v, want retryable", out.Class)
	}
}

func TestClient_Resolve(t *testing.T) {
	c := newTestClient(t, "https://erp.example.com/tenant/")

	tests := []struct {
		in, want string
	}{
		{"/api/partes-trabajo/123/notas", "https://erp.example.com/tenant/api/partes-trabajo/123/notas"},
		{"api/x?y=1", "https://erp.example.com/tenant/api/x?y=1"},
		{"/api/docs/a%2Fb", "https://erp.example.com/tenant/api/docs/a%2Fb"},
		{"/api/clientes/Jos%C3%A9%20Ruiz", "https://erp.example.com/tenant/api/clientes/Jos%C3%A9%20Ruiz"},
		{"https://other.example.com/api/z", "https://other.example.com/api/z"},
	}
	for _, tt := range tests {
		got, err := c.Resolve(tt.in)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := newTestClient(t, "").Resolve("/api/x"); err == nil {
		t.Error("expected error resolving relative url without base")
	}
	if _, err := NewClient(Config{BaseURL: "erp.example.com"}, nil); err == nil {
		t.Error("expected error for non-absolute base url")
	}
}

func TestClient_DoKeepsEscapedPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/api/docs/a%2Fb" {
			t.Errorf("escaped path = %q, want /api/docs/a%%2Fb", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	out := newTestClient(t, server.URL).Do(context.Background(), &opqueue.Operation{
		ID:     "op-3",
		URL:    "/api/docs/a%2Fb",
		Method: "PUT",
		Body:   []byte(`{}`),
	}, "tok")
	if !out.OK() {
		t.Fatalf("expected delivered, got %v (%v)", out.Class, out.Err)
	}
}

func TestClassify(t *testing.T) {
	if Classify(200) != Delivered || Classify(204) != Delivered {
		t.Error("2xx should be delivered")
	}
	if Classify(503) != Retryable {
		t.Error("503 should be retryable")
	}
	if Classify(404) != Rejected {
		t.Error("404 should be rejected")
	}
	if Classify(304) != Retryable {
		t.Error("304 should be retryable")
	}
}
