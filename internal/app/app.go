// Package app wires the Voxseg subsystems into a running server.
//
// The App struct owns the full lifecycle: New connects the metrics, the
// capture backend registry, the session manager, the ops HTTP server and the
// config watcher; Run starts the capture session and blocks; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics, a registry
// with mock factories). When an option is not provided, New uses the real
// implementations.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/health"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/pkg/segment"
)

// serverShutdownTimeout bounds the drain of in-flight HTTP requests when the
// run context ends.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and runs the Voxseg capture server.
type App struct {
	mu     sync.Mutex
	cfg    *config.Config
	closed bool

	registry *config.Registry
	metrics  *observe.Metrics
	sessions *SessionManager
	watcher  *config.Watcher
	handler  http.Handler
	server   *http.Server

	configPath  string
	watcherOpts []config.WatcherOption
	logLevel    *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch enables hot reloading of the config file at path.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watcherOpts = opts
	}
}

// WithLogLevelVar shares the level var behind the process logger, so config
// reloads can adjust verbosity without a restart.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The registry comes
// from main.go with the built-in capture backends registered. Use Option
// functions to inject test doubles.
func New(cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: registry,
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Registry: a.registry,
		Metrics:  a.metrics,
	})

	// ── 3. Ops endpoints ─────────────────────────────────────────────────
	a.initOps()
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		if err := a.initWatcher(); err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initOps builds the ops endpoints: health probes, Prometheus metrics and the
// session status snapshot, all behind the observe middleware.
func (a *App) initOps() {
	mux := http.NewServeMux()

	checkers := []health.Checker{
		{Name: "capture", Check: func(context.Context) error {
			eng := a.sessions.Engine()
			if eng == nil {
				return errors.New("no active capture session")
			}
			if eng.State() == segment.StateIdle {
				return errors.New("capture session is not running")
			}
			return nil
		}},
		{Name: "output", Check: func(ctx context.Context) error {
			store := a.sessions.Store()
			if store == nil {
				return errors.New("no active capture session")
			}
			return store.Check(ctx)
		}},
	}
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /statusz", a.handleStatus)

	a.handler = observe.Middleware(a.metrics)(mux)
}

// initWatcher starts polling the config file for changes.
func (a *App) initWatcher() error {
	w, err := config.NewWatcher(a.configPath, a.onConfigChange, a.watcherOpts...)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture session and serves the ops endpoints, blocking until
// ctx is cancelled or the server fails. The session itself is bound to the
// App lifecycle rather than ctx: Shutdown stops it with a final flush.
func (a *App) Run(ctx context.Context) error {
	cfg := a.config()

	if err := a.sessions.Start(ctx, cfg); err != nil {
		return fmt.Errorf("app: start capture session: %w", err)
	}
	slog.Info("app running", "backend", cfg.Capture.Backend, "ops_addr", cfg.Server.ListenAddr)

	if a.server == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.serve(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("ops server shutdown error", "err", err)
		}
		return gctx.Err()
	})
	return g.Wait()
}

// serve starts the ops listener, with TLS when configured.
func (a *App) serve() error {
	if tls := a.config().Server.TLS; tls != nil {
		return a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return a.server.ListenAndServe()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active capture session and tears down all subsystems.
// It respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the session first so the final flush lands in the clip store.
		if a.sessions.IsActive() {
			if err := a.sessions.Stop(ctx); err != nil {
				slog.Warn("session stop error", "err", err)
			}
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Handler returns the ops HTTP handler (health, metrics, status). It is
// available even when no listen address is configured, for callers that
// mount the endpoints on their own server.
func (a *App) Handler() http.Handler {
	return a.handler
}

// config returns the current configuration snapshot.
func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Config reload ───────────────────────────────────────────────────────────

// onConfigChange applies a validated config update. The log level takes
// effect immediately; capture, engine or output changes restart the session;
// listen address and TLS changes only apply on the next process start.
func (a *App) onConfigChange(old, new *config.Config) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cfg = new
	a.mu.Unlock()

	diff := config.Diff(old, new)

	if diff.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(diff.NewLogLevel.Level())
		}
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}
	if diff.ServerChanged {
		slog.Warn("listen address or TLS changed; restart the process to apply it")
	}
	if !diff.RequiresRestart() {
		return
	}

	slog.Info("configuration changed, restarting capture session")
	if a.sessions.IsActive() {
		if err := a.sessions.Stop(context.Background()); err != nil {
			slog.Error("config reload: stop session failed", "err", err)
			return
		}
	}
	if err := a.sessions.Start(context.Background(), new); err != nil {
		slog.Error("config reload: start session failed", "err", err)
	}
}

// ─── Status endpoint ─────────────────────────────────────────────────────────

// sessionStatus is the JSON shape served by /statusz.
type sessionStatus struct {
	Active              bool   `json:"active"`
	SessionID           string `json:"session_id,omitempty"`
	Backend             string `json:"backend,omitempty"`
	StartedAt           string `json:"started_at,omitempty"`
	State               string `json:"state,omitempty"`
	FramesProcessed     uint64 `json:"frames_processed"`
	ClipsEmitted        uint64 `json:"clips_emitted"`
	UtterancesDiscarded uint64 `json:"utterances_discarded"`
	BufferedSamples     int64  `json:"buffered_samples"`
}

// handleStatus reports the active session and its engine counters.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := sessionStatus{}
	if info := a.sessions.Info(); info.SessionID != "" {
		st.Active = true
		st.SessionID = info.SessionID
		st.Backend = string(info.Backend)
		st.StartedAt = info.StartedAt.Format(time.RFC3339)
	}
	if eng := a.sessions.Engine(); eng != nil {
		stats := eng.Stats()
		st.State = stats.State.String()
		st.FramesProcessed = stats.FramesProcessed
		st.ClipsEmitted = stats.ClipsEmitted
		st.UtterancesDiscarded = stats.UtterancesDiscarded
		st.BufferedSamples = stats.BufferedSamples
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(st); err != nil {
		slog.Warn("status encode error", "err", err)
	}
}
