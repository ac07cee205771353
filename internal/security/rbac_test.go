package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckPermission(t *testing.T) {
	tests := []struct {
		role, method, path string
		want               bool
	}{
		{RoleOperator, "DELETE", "/api/queue/abc", true},
		{RoleOperator, "POST", "/api/queue/abc/requeue", true},
		{RoleKiosk, "POST", "/api/writes", true},
		{RoleKiosk, "POST", "/api/sync", true},
		{RoleKiosk, "PUT", "/api/session/token", true},
		{RoleKiosk, "DELETE", "/api/session/token", true},
		{RoleKiosk, "POST", "/api/connectivity", true},
		{RoleKiosk, "GET", "/api/queue", true},
		{RoleKiosk, "DELETE", "/api/queue/abc", false},
		{RoleKiosk, "POST", "/api/queue/abc/requeue", false},
		{RoleKiosk, "POST", "/api/queue", false},
		{RoleReadonly, "GET", "/api/status", true},
		{RoleReadonly, "GET", "/api/events", true},
		{RoleReadonly, "GET", "/metrics", true},
		{RoleReadonly, "POST", "/api/writes", false},
		{RoleReadonly, "POST", "/api/sync", false},
		{RoleReadonly, "PUT", "/api/session/token", false},
		{"unknown", "GET", "/api/status", false},
		{RoleKiosk, "POST", "/api/writesx", false},
	}
	for _, tt := range tests {
		if got := CheckPermission(tt.role, tt.method, tt.path); got != tt.want {
			t.Errorf("CheckPermission(%s, %s, %s) = %v, want %v", tt.role, tt.method, tt.path, got, tt.want)
		}
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("%s should be valid", r)
		}
	}
	if IsValidRole("owner") {
		t.Error("owner should not be valid")
	}
}

func TestRequirePermission(t *testing.T) {
	secret := []byte("test-secret")
	handler := AuthMiddleware(secret)(RequirePermission()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		role, method, path string
		want               int
	}{
		{RoleKiosk, "POST", "/api/writes", http.StatusOK},
		{RoleKiosk, "DELETE", "/api/queue/abc", http.StatusForbidden},
		{RoleOperator, "DELETE", "/api/queue/abc", http.StatusOK},
		{RoleReadonly, "POST", "/api/sync", http.StatusForbidden},
	}
	for _, tt := range tests {
		token, _ := GenerateToken("subject", tt.role, secret, time.Hour)
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %s %s: expected %d, got %d", tt.role, tt.method, tt.path, tt.want, w.Code)
		}
	}
}

func TestRequirePermission_DevModePassThrough(t *testing.T) {
	handler := RequirePermission()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("DELETE", "/api/queue/abc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without claims, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("reader-1", RoleReadonly, secret, time.Hour)

	handler := AuthMiddleware(secret)(RequireRole(RoleOperator, RoleKiosk)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("POST", "/api/writes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for readonly POST, got %d", w.Code)
	}
}
