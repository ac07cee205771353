package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/omerix/offline-sync/internal/api"
	"github.com/omerix/offline-sync/internal/config"
	"github.com/omerix/offline-sync/internal/security"
)

// adminTokenTTL bounds tokens the CLI mints for itself.
const adminTokenTTL = 5 * time.Minute

// loadConfigFromFile loads config without creating it.
func loadConfigFromFile(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// client returns an API client for the running daemon. Without --token, an
// operator token is minted from the secret the daemon reads, if it is set.
func (g *globals) client() (*api.Client, error) {
	token := g.token
	if token == "" {
		secret, err := g.secret()
		if err != nil {
			return nil, err
		}
		if secret != nil {
			token, err = security.GenerateToken("cli", security.RoleOperator, secret, adminTokenTTL)
			if err != nil {
				return nil, fmt.Errorf("mint local token: %w", err)
			}
		}
	}
	return api.NewClient(g.addr, token), nil
}

// secret reads the local API secret named by the config, or the default
// variable when there is no config file.
func (g *globals) secret() ([]byte, error) {
	env := security.DefaultSecretEnv
	cfg, err := config.Load(g.configPath)
	switch {
	case err == nil:
		env = cfg.Server.JWTSecretEnv
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("load config: %w", err)
	}
	return security.GetJWTSecret(env), nil
}

// fileLogger returns a JSON logger writing to path, for commands that own
// the terminal.
func fileLogger(path string) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return logger, f.Close, nil
}
