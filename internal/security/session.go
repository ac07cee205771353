package security

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// SessionInfo describes the stored session without exposing the token.
type SessionInfo struct {
	Present     bool       `json:"present"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	SetAt       time.Time  `json:"setAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Expired     bool       `json:"expired"`
}

type sessionFile struct {
	Token string    `json:"token"`
	SetAt time.Time `json:"setAt"`
}

// TokenStore holds the bearer token of the signed-in ERP session. The
// token is issued by the remote API; it is only decoded here to honour its
// expiry, never verified.
type TokenStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
	setAt time.Time
}

// NewTokenStore creates a store persisted at path. An empty path keeps the
// token in memory only. An existing file is loaded.
func NewTokenStore(path string, logger *slog.Logger) (*TokenStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TokenStore{
		path:   path,
		logger: logger.With("component", "session"),
		now:    time.Now,
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	s.token = sf.Token
	s.setAt = sf.SetAt
	if s.token != "" {
		s.logger.Info("session restored", "fingerprint", Fingerprint(s.token))
	}
	return s, nil
}

// Token returns the current token, "" when signed out, or ErrExpiredToken
// when the stored JWT has expired.
func (s *TokenStore) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", nil
	}
	if exp, ok := TokenExpiry(token); ok && !s.now().Before(exp) {
		return "", ErrExpiredToken
	}
	return token, nil
}

// Set replaces the token and persists it.
func (s *TokenStore) Set(token string) error {
	if token == "" {
		return s.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	setAt := s.now()
	if err := s.persist(sessionFile{Token: token, SetAt: setAt}); err != nil {
		return err
	}
	s.token = token
	s.setAt = setAt
	s.logger.Info("session token updated", "fingerprint", Fingerprint(token))
	return nil
}

// Clear forgets the token.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.setAt = time.Time{}
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
	}
	s.logger.Info("session cleared")
	return nil
}

// Info describes the stored session.
func (s *TokenStore) Info() SessionInfo {
	s.mu.RLock()
	token, setAt := s.token, s.setAt
	s.mu.RUnlock()

	if token == "" {
		return SessionInfo{}
	}
	info := SessionInfo{
		Present:     true,
		Fingerprint: Fingerprint(token),
		SetAt:       setAt,
	}
	if exp, ok := TokenExpiry(token); ok {
		info.ExpiresAt = &exp
		info.Expired = !s.now().Before(exp)
	}
	return info
}

func (s *TokenStore) persist(sf sessionFile) error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens and JWTs without exp report false.
func TokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Fingerprint returns a short blake2b digest of token, safe to log.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
