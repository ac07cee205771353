package security

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func remoteToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "usuario-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("remote-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestTokenStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	s, err := NewTokenStore(path, nil)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	if tok, err := s.Token(ctx); err != nil || tok != "" {
		t.Fatalf("fresh store token = %q, %v", tok, err)
	}
	if err := s.Set("opaque-token"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}

	reopened, err := NewTokenStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if tok, _ := reopened.Token(ctx); tok != "opaque-token" {
		t.Errorf("restored token = %q", tok)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("session file should be removed, stat err = %v", err)
	}
	if tok, _ := reopened.Token(ctx); tok != "" {
		t.Errorf("token after clear = %q", tok)
	}
}

func TestTokenStore_Expiry(t *testing.T) {
	s, _ := NewTokenStore("", nil)
	ctx := context.Background()

	valid := remoteToken(t, time.Now().Add(time.Hour))
	if err := s.Set(valid); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if tok, err := s.Token(ctx); err != nil || tok != valid {
		t.Errorf("Token = %q, %v", tok, err)
	}
	info := s.Info()
	if !info.Present || info.Expired || info.ExpiresAt == nil {
		t.Errorf("unexpected info %+v", info)
	}

	if err := s.Set(remoteToken(t, time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Token(ctx); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
	if !s.Info().Expired {
		t.Error("info should report expired")
	}
}

func TestTokenStore_SetEmptyClears(t *testing.T) {
	s, _ := NewTokenStore("", nil)
	_ = s.Set("abc")
	if err := s.Set(""); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if s.Info().Present {
		t.Error("expected no session")
	}
}

func TestTokenStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenStore(path, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestFingerprint(t *testing.T) {
	a, b := Fingerprint("token-a"), Fingerprint("token-b")
	if len(a) != 12 {
		t.Errorf("fingerprint length = %d", len(a))
	}
	if a == b {
		t.Error("fingerprints should differ")
	}
	if a != Fingerprint("token-a") {
		t.Error("fingerprint should be stable")
	}
}

func TestTokenExpiry_Opaque(t *testing.T) {
	if _, ok := TokenExpiry("opaque"); ok {
		t.Error("opaque token should have no expiry")
	}
}
