package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omerix/offline-sync/internal/api"
	"github.com/omerix/offline-sync/internal/config"
	"github.com/omerix/offline-sync/internal/connectivity"
	"github.com/omerix/offline-sync/internal/metrics"
	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/replay"
	"github.com/omerix/offline-sync/internal/scheduler"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

// configPollInterval is how often the config file is checked for changes.
const configPollInterval = 10 * time.Second

// App holds all application components
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar

	Queue     *opqueue.Queue
	Replay    *replay.Client
	Sync      *syncer.Synchronizer
	Manager   *syncer.Manager
	Writer    *syncer.Writer
	Monitor   *connectivity.Monitor
	Session   *security.TokenStore
	Hub       *api.Hub
	Metrics   *metrics.Collector
	Scheduler *scheduler.Scheduler
	APIServer *api.Server

	out     io.Writer
	untrack func()
}

// setup initializes all application components
func setup(ctx context.Context, configPath string, out io.Writer) (*App, error) {
	app := &App{ConfigPath: configPath, out: out, LogLevel: new(slog.LevelVar)}
	app.Logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: app.LogLevel}))

	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.Config = cfg
	app.LogLevel.Set(parseLogLevel(cfg.Server.LogLevel))

	app.Logger.Info("starting omerix-sync", "version", version, "config", configPath)
	if created {
		app.Logger.Info("wrote default config", "path", configPath)
	}

	store, err := opqueue.Open(ctx, opqueue.Options{
		Backend:       cfg.Queue.Backend,
		Path:          cfg.QueuePath(),
		RedisAddr:     cfg.Queue.Redis.Addr,
		RedisPassword: cfg.Queue.Redis.Password,
		RedisDB:       cfg.Queue.Redis.DB,
		Namespace:     cfg.Queue.Redis.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	app.Queue = opqueue.New(store, app.Logger, opqueue.WithMaxSize(cfg.Queue.MaxSize))

	client, err := replay.NewClient(replay.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.APITimeout(),
		UserAgent: "omerix-sync/" + version,
	}, app.Logger)
	if err != nil {
		app.Queue.Close()
		return nil, fmt.Errorf("create replay client: %w", err)
	}
	app.Replay = client

	app.Sync = syncer.NewSynchronizer(app.Queue, client, retryPolicy(cfg.Sync), app.Logger)
	app.Hub = api.NewHub(app.Logger)

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(app.Queue)
		app.untrack = app.Metrics.TrackQueue(app.Queue)
		app.Sync.SetMetrics(syncer.TeeMetrics(app.Metrics, app.Hub))
	} else {
		app.Sync.SetMetrics(app.Hub)
	}

	session, err := security.NewTokenStore(cfg.SessionPath(), app.Logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	app.Session = session

	app.Monitor = connectivity.NewMonitor(app.Logger, connectivitySources(cfg, app.Logger)...)
	app.Hub.Attach(app.Queue, app.Monitor)

	app.Writer = syncer.NewWriter(app.Queue, client, app.Monitor, app.Logger)
	app.Manager = syncer.NewManager(app.Sync, app.Session, app.Monitor.Events(),
		syncer.ManagerOptions{FlushOnStart: cfg.Sync.FlushOnStart}, app.Logger)

	app.Scheduler = scheduler.NewScheduler(&jobExecutor{app: app}, app.Logger)
	if cfg.Scheduler.Enabled {
		app.Scheduler.LoadJobs(scheduler.JobsFromConfig(cfg.Scheduler))
	}

	secret := security.GetJWTSecret(cfg.Server.JWTSecretEnv)
	if secret == nil {
		app.Logger.Warn("local API authentication disabled", "env", cfg.Server.JWTSecretEnv)
	}

	deps := api.Deps{
		Queue:     app.Queue,
		Manager:   app.Manager,
		Writer:    app.Writer,
		Monitor:   app.Monitor,
		Session:   app.Session,
		Hub:       app.Hub,
		Scheduler: app.Scheduler,
		Secret:    secret,
		Version:   version,
		Logger:    app.Logger,
	}
	if app.Metrics != nil {
		deps.Metrics = app.Metrics.Handler()
		deps.Instrument = app.Metrics.Middleware
	}
	app.APIServer = api.NewServer(cfg.Server.Port, deps)

	return app, nil
}

func connectivitySources(cfg *config.Config, logger *slog.Logger) []connectivity.Source {
	var sources []connectivity.Source
	if url := cfg.ProbeURL(); url != "" {
		interval := time.Duration(cfg.Connectivity.ProbeIntervalSeconds) * time.Second
		sources = append(sources, connectivity.NewProber(url, interval, logger))
	}
	if m := cfg.Connectivity.MQTT; m.Enabled {
		sources = append(sources, connectivity.NewMQTTSource(connectivity.MQTTConfig{
			Broker:   m.Broker,
			Port:     m.Port,
			Username: m.Username,
			Password: m.Password,
			DeviceID: m.DeviceID,
		}, logger))
	}
	return sources
}

// retryPolicy converts the configured millisecond values.
func retryPolicy(c config.SyncConfig) syncer.RetryPolicy {
	return syncer.RetryPolicy{
		MaxRetries: c.MaxRetries,
		Backoff: syncer.Backoff{
			Base:   time.Duration(c.BackoffBaseMs) * time.Millisecond,
			Max:    time.Duration(c.BackoffMaxMs) * time.Millisecond,
			Jitter: c.Jitter,
		},
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.Monitor.Start(ctx); err != nil {
		a.close()
		return fmt.Errorf("start connectivity monitor: %w", err)
	}
	if err := a.Manager.Start(ctx); err != nil {
		a.Monitor.Stop()
		a.close()
		return fmt.Errorf("start sync manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.APIServer.Start(gctx) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	g.Go(func() error {
		return a.Config.Watch(gctx, a.ConfigPath, configPollInterval, a.Logger, a.apply)
	})
	if sigs := reloadSignals(); len(sigs) > 0 {
		g.Go(func() error { return a.watchSignals(gctx, sigs) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.Logger.Info("shutting down")
	if stopErr := a.Manager.Stop(); stopErr != nil {
		a.Logger.Error("stop sync manager", "error", stopErr)
	}
	if stopErr := a.Monitor.Stop(); stopErr != nil {
		a.Logger.Error("stop connectivity monitor", "error", stopErr)
	}
	a.close()
	a.Logger.Info("shutdown complete")
	return err
}

func (a *App) watchSignals(ctx context.Context, sigs []os.Signal) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			a.Logger.Info("reload signal received", "signal", sig)
			a.reload()
		}
	}
}

// reload re-reads the config file on demand.
func (a *App) reload() {
	result, err := a.Config.Reload(a.ConfigPath)
	if err != nil {
		a.Logger.Error("config reload failed", "error", err)
		return
	}
	result.LogResult(a.Logger)
	a.apply(result)
}

// apply pushes the hot-reloadable sections of a reload into the running
// components.
func (a *App) apply(result *config.ReloadResult) {
	config.RLock()
	level := a.Config.Server.LogLevel
	policy := retryPolicy(a.Config.Sync)
	var jobs []*scheduler.Job
	if a.Config.Scheduler.Enabled {
		jobs = scheduler.JobsFromConfig(a.Config.Scheduler)
	}
	config.RUnlock()

	if result.Has("Server.LogLevel") {
		a.LogLevel.Set(parseLogLevel(level))
	}
	if result.Has("Sync") {
		a.Sync.SetPolicy(policy)
	}
	if result.Has("Scheduler") {
		a.Scheduler.Reload(jobs)
	}
}

func (a *App) close() {
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.untrack != nil {
		a.untrack()
		a.untrack = nil
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Error("close queue", "error", err)
		}
	}
}

// jobExecutor runs scheduled actions against the app.
type jobExecutor struct {
	app *App
}

// Flush treats a busy synchronizer or a missing session as nothing to do.
func (e *jobExecutor) Flush(ctx context.Context) error {
	_, err := e.app.Manager.FlushNow(ctx)
	if errors.Is(err, syncer.ErrFlushInProgress) || errors.Is(err, syncer.ErrNoToken) {
		e.app.Logger.Debug("scheduled flush skipped", "reason", err)
		return nil
	}
	return err
}

func (e *jobExecutor) PurgeDead(ctx context.Context, olderThan time.Duration) (int, error) {
	return e.app.Queue.PurgeDead(ctx, time.Now().Add(-olderThan))
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(app *App) {
	backend := app.Config.Queue.Backend
	if backend == "" {
		backend = opqueue.BackendSQLite
	}
	fmt.Fprintln(app.out)
	fmt.Fprintf(app.out, "  omerix-sync v%s\n", version)
	fmt.Fprintf(app.out, "  API:      http://localhost:%d\n", app.Config.Server.Port)
	fmt.Fprintf(app.out, "  Upstream: %s\n", app.Config.API.BaseURL)
	fmt.Fprintf(app.out, "  Queue:    %s\n", backend)
	fmt.Fprintln(app.out)
}
