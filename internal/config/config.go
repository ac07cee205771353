package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all sync agent configuration
type Config struct {
	// Local agent process
	Server ServerConfig `json:"server" toml:"server" yaml:"server"`

	// Remote ERP API the queued writes are replayed against
	API APIConfig `json:"api" toml:"api" yaml:"api"`

	// Operation log storage
	Queue QueueConfig `json:"queue" toml:"queue" yaml:"queue"`

	// Retry policy and flush behaviour
	Sync SyncConfig `json:"sync" toml:"sync" yaml:"sync"`

	// Reconnect detection
	Connectivity ConnectivityConfig `json:"connectivity" toml:"connectivity" yaml:"connectivity"`

	Scheduler SchedulerConfig `json:"scheduler" toml:"scheduler" yaml:"scheduler"`

	Metrics MetricsConfig `json:"metrics" toml:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Port     int    `json:"port" toml:"port" yaml:"port"`
	DataDir  string `json:"dataDir" toml:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" toml:"logLevel" yaml:"logLevel"`
	// JWTSecretEnv names the environment variable holding the local API
	// secret. Unset variable means dev mode.
	JWTSecretEnv string `json:"jwtSecretEnv,omitempty" toml:"jwtSecretEnv,omitempty" yaml:"jwtSecretEnv,omitempty"`
}

type APIConfig struct {
	BaseURL        string `json:"baseUrl" toml:"baseUrl" yaml:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds"`
	HealthPath     string `json:"healthPath" toml:"healthPath" yaml:"healthPath"`
}

// QueueConfig selects the persistent operation log backend.
type QueueConfig struct {
	Backend string `json:"backend" toml:"backend" yaml:"backend"` // "sqlite", "redis", "memory"
	// Path of the sqlite file; relative paths live under Server.DataDir.
	Path    string      `json:"path,omitempty" toml:"path,omitempty" yaml:"path,omitempty"`
	MaxSize int         `json:"maxSize" toml:"maxSize" yaml:"maxSize"` // 0 = unbounded
	Redis   RedisConfig `json:"redis,omitempty" toml:"redis,omitempty" yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr,omitempty" toml:"addr,omitempty" yaml:"addr,omitempty"`
	Password  string `json:"password,omitempty" toml:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" toml:"db,omitempty" yaml:"db,omitempty"`
	Namespace string `json:"namespace,omitempty" toml:"namespace,omitempty" yaml:"namespace,omitempty"`
}

type SyncConfig struct {
	MaxRetries    int     `json:"maxRetries" toml:"maxRetries" yaml:"maxRetries"`
	BackoffBaseMs int64   `json:"backoffBaseMs" toml:"backoffBaseMs" yaml:"backoffBaseMs"`
	BackoffMaxMs  int64   `json:"backoffMaxMs" toml:"backoffMaxMs" yaml:"backoffMaxMs"`
	Jitter        float64 `json:"jitter" toml:"jitter" yaml:"jitter"` // 0-1
	FlushOnStart  bool    `json:"flushOnStart" toml:"flushOnStart" yaml:"flushOnStart"`
}

type ConnectivityConfig struct {
	// ProbeURL defaults to API.BaseURL + API.HealthPath. "off" disables probing.
	ProbeURL             string     `json:"probeUrl,omitempty" toml:"probeUrl,omitempty" yaml:"probeUrl,omitempty"`
	ProbeIntervalSeconds int        `json:"probeIntervalSeconds" toml:"probeIntervalSeconds" yaml:"probeIntervalSeconds"`
	MQTT                 MQTTConfig `json:"mqtt" toml:"mqtt" yaml:"mqtt"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Broker   string `json:"broker,omitempty" toml:"broker,omitempty" yaml:"broker,omitempty"`
	Port     int    `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty"`
	Username string `json:"username,omitempty" toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" toml:"password,omitempty" yaml:"password,omitempty"`
	DeviceID string `json:"deviceId,omitempty" toml:"deviceId,omitempty" yaml:"deviceId,omitempty"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool                 `json:"enabled" toml:"enabled" yaml:"enabled"`
	Jobs    []SchedulerJobConfig `json:"jobs" toml:"jobs" yaml:"jobs"`
}

// SchedulerJobConfig defines a scheduled job
type SchedulerJobConfig struct {
	ID       string         `json:"id" toml:"id" yaml:"id"`
	Name     string         `json:"name" toml:"name" yaml:"name"`
	Schedule ScheduleConfig `json:"schedule" toml:"schedule" yaml:"schedule"`
	Action   ActionConfig   `json:"action" toml:"action" yaml:"action"`
	Enabled  bool           `json:"enabled" toml:"enabled" yaml:"enabled"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind" toml:"kind" yaml:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty" toml:"intervalMs,omitempty" yaml:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty" toml:"expr,omitempty" yaml:"expr,omitempty"` // cron expression
	Time       string `json:"time,omitempty" toml:"time,omitempty" yaml:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty" toml:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ActionConfig defines what a job does
type ActionConfig struct {
	Kind          string `json:"kind" toml:"kind" yaml:"kind"` // "flush", "purge-dead"
	RetentionDays int    `json:"retentionDays,omitempty" toml:"retentionDays,omitempty" yaml:"retentionDays,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8421,
			DataDir:      "./data",
			LogLevel:     "info",
			JWTSecretEnv: "OMERIX_SYNC_JWT_SECRET",
		},
		API: APIConfig{
			BaseURL:        "http://localhost:3000",
			TimeoutSeconds: 30,
			HealthPath:     "/api/health",
		},
		Queue: QueueConfig{
			Backend: "sqlite",
			Path:    "opqueue.db",
		},
		Sync: SyncConfig{
			MaxRetries:    10,
			BackoffBaseMs: 5000,
			BackoffMaxMs:  15 * 60 * 1000,
			Jitter:        0.2,
			FlushOnStart:  true,
		},
		Connectivity: ConnectivityConfig{
			ProbeIntervalSeconds: 15,
			MQTT: MQTTConfig{
				Port: 1883,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Jobs: []SchedulerJobConfig{
				{
					ID:       "periodic-flush",
					Name:     "Periodic flush",
					Schedule: ScheduleConfig{Kind: "interval", IntervalMs: 5 * 60 * 1000},
					Action:   ActionConfig{Kind: "flush"},
					Enabled:  true,
				},
				{
					ID:       "purge-dead",
					Name:     "Purge dead operations",
					Schedule: ScheduleConfig{Kind: "at", Time: "03:00"},
					Action:   ActionConfig{Kind: "purge-dead", RetentionDays: 30},
					Enabled:  true,
				},
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the fields the agent cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.baseUrl is required"))
	}
	switch c.Queue.Backend {
	case "", "sqlite", "memory":
	case "redis":
		if c.Queue.Redis.Addr == "" {
			errs = append(errs, errors.New("queue.redis.addr is required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.maxRetries must not be negative"))
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		errs = append(errs, fmt.Errorf("sync.jitter must be within [0,1]: %v", c.Sync.Jitter))
	}
	if c.Connectivity.MQTT.Enabled && (c.Connectivity.MQTT.Broker == "" || c.Connectivity.MQTT.DeviceID == "") {
		errs = append(errs, errors.New("connectivity.mqtt requires broker and deviceId"))
	}
	return errors.Join(errs...)
}

// QueuePath resolves the sqlite file location.
func (c *Config) QueuePath() string {
	p := c.Queue.Path
	if p == "" {
		p = "opqueue.db"
	}
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Server.DataDir, p)
}

// SessionPath is where the session token is persisted.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Server.DataDir, "session.json")
}

// ProbeURL resolves the connectivity probe target, "" when disabled.
func (c *Config) ProbeURL() string {
	switch c.Connectivity.ProbeURL {
	case "off":
		return ""
	case "":
		return strings.TrimRight(c.API.BaseURL, "/") + c.API.HealthPath
	default:
		return c.Connectivity.ProbeURL
	}
}

// APITimeout returns the per-request replay timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Load reads config from a JSON, TOML or YAML file, picked by extension.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// LoadOrCreate loads path, writing the defaults there first when the file
// does not exist yet.
func LoadOrCreate(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := DefaultConfig().Save(path); err != nil {
			return nil, false, err
		}
		cfg, err := Load(path)
		return cfg, true, err
	}
	cfg, err := Load(path)
	return cfg, false, err
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch format(path) {
	case "toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// Save writes config to path in the format matching its extension.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch format(path) {
	case "toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	case "yaml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
