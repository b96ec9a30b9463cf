package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/capture"
	"github.com/MrWong99/voxseg/pkg/segment"
)

// SessionInfo holds metadata about an active capture session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Backend is the capture backend feeding the session.
	Backend config.Backend

	// StartedAt is when the session was started.
	StartedAt time.Time

	// ClipDir is the directory emitted clips are written into.
	ClipDir string
}

// SessionManager manages the lifecycle of capture sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	engine *segment.Engine
	store  *sink.Dir
	cancel context.CancelFunc

	// closers are called in reverse order during Stop, after the engine has
	// flushed.
	closers []func() error

	// Dependencies injected at construction.
	registry *config.Registry
	metrics  *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Registry *config.Registry
	Metrics  *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
	}
}

// Start begins a new capture session described by cfg. It constructs the
// configured capture backend, opens the clip store, and starts a segmentation
// engine whose clips land in the store and whose activity feeds the metrics.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, cfg *config.Config) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}

	backend := cfg.Capture.Backend
	now := time.Now().UTC()
	sessionID := fmt.Sprintf("session-%s-%s", backend, now.Format("20060102T1504Z"))

	// Construct the capture source.
	src, err := sm.registry.CreateSource(cfg.Capture)
	if err != nil {
		return fmt.Errorf("session: create capture source: %w", err)
	}

	// Open the clip store.
	var storeOpts []sink.DirOption
	if cfg.Output.Prefix != "" {
		storeOpts = append(storeOpts, sink.WithPrefix(cfg.Output.Prefix))
	}
	store, err := sink.NewDir(cfg.Output.Dir, storeOpts...)
	if err != nil {
		_ = src.Stop()
		return fmt.Errorf("session: open clip store: %w", err)
	}

	// The session outlives the Start call: it is bound to a context of its
	// own and ends only in Stop.
	sessionCtx, cancel := context.WithCancel(context.Background())

	segCfg := cfg.Engine.SegmentConfig()
	eng, err := segment.New(src, segCfg, segment.WithCallbacks(
		sm.sessionCallbacks(sessionCtx, sessionID, backend, store, segCfg.MinSpeechDuration),
	))
	if err != nil {
		cancel()
		_ = store.Close()
		_ = src.Stop()
		return fmt.Errorf("session: create engine: %w", err)
	}

	if err := eng.Start(sessionCtx); err != nil {
		cancel()
		_ = store.Close()
		// A source can hold resources that outlive its failed Start, such
		// as the gateway connection behind the discord backend.
		_ = src.Stop()
		return fmt.Errorf("session: start capture: %w", err)
	}

	var closers []func() error
	closers = append(closers, store.Close)

	if reg, err := sm.metrics.RegisterEngineStats(eng); err != nil {
		slog.Warn("session: engine stats registration failed", "session_id", sessionID, "err", err)
	} else {
		closers = append(closers, reg.Unregister)
	}

	sm.metrics.SessionStarted(ctx)

	sm.active = true
	sm.engine = eng
	sm.store = store
	sm.cancel = cancel
	sm.closers = closers
	sm.info = SessionInfo{
		SessionID: sessionID,
		Backend:   backend,
		StartedAt: now,
		ClipDir:   cfg.Output.Dir,
	}

	slog.Info("session started",
		"session_id", sessionID,
		"backend", backend,
		"clip_dir", cfg.Output.Dir,
	)

	return nil
}

// Stop gracefully ends the active session. The engine is stopped first so an
// open utterance is flushed into the clip store, then resources are released
// in reverse order.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return fmt.Errorf("session: no active session to stop")
	}

	sessionID := sm.info.SessionID

	// The final flush delivers clips through the callbacks, so the clip
	// store must still be open here.
	if err := sm.engine.Stop(); err != nil {
		slog.Warn("session: capture release error", "session_id", sessionID, "err", err)
	}
	stats := sm.engine.Stats()

	// Release the session context (unblocks backend watch goroutines).
	if sm.cancel != nil {
		sm.cancel()
	}

	// Run closers (stats registration, clip store) in reverse order.
	for i := len(sm.closers) - 1; i >= 0; i-- {
		if err := sm.closers[i](); err != nil {
			slog.Warn("session: closer error", "session_id", sessionID, "index", i, "err", err)
		}
	}

	sm.metrics.SessionStopped(ctx)

	// Clear state.
	sm.active = false
	sm.engine = nil
	sm.store = nil
	sm.cancel = nil
	sm.closers = nil
	sm.info = SessionInfo{}

	slog.Info("session stopped",
		"session_id", sessionID,
		"frames_processed", stats.FramesProcessed,
		"clips_emitted", stats.ClipsEmitted,
		"utterances_discarded", stats.UtterancesDiscarded,
	)

	return nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Engine returns the active session's segmentation engine.
// Returns nil if no session is active.
func (sm *SessionManager) Engine() *segment.Engine {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.engine
}

// Store returns the active session's clip store.
// Returns nil if no session is active.
func (sm *SessionManager) Store() *sink.Dir {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.store
}

// sessionCallbacks builds the engine callbacks for one session: boundary
// events are logged and recorded as metrics, finished clips are written to
// store. Callbacks run on the engine's tick goroutine, so each does a small,
// bounded amount of work.
func (sm *SessionManager) sessionCallbacks(ctx context.Context, sessionID string, backend config.Backend, store *sink.Dir, minSpeech time.Duration) segment.Callbacks {
	return segment.Callbacks{
		OnSpeechStart: func(startedAt time.Time) {
			slog.Debug("session: speech started", "session_id", sessionID, "started_at", startedAt)
		},
		OnSpeechEnd: func(d time.Duration) {
			sm.metrics.RecordSpeech(ctx, d)
			// Mirrors the engine's minimum-duration filter so the discard
			// counter matches the clips that never arrive.
			if d < minSpeech {
				sm.metrics.RecordDiscard(ctx)
			}
		},
		OnClipReady: func(clip segment.Clip) {
			if err := store.Write(ctx, clip); err != nil {
				slog.Error("session: clip write failed", "session_id", sessionID, "err", err)
				sm.metrics.RecordEngineError(ctx, "store")
				return
			}
			sm.metrics.RecordClip(ctx, string(backend), clip.Duration, clip.Size())
		},
		OnError: func(err error) {
			sm.metrics.RecordEngineError(ctx, errorKind(err))
		},
	}
}

// errorKind classifies an engine error for the metrics attribute.
func errorKind(err error) string {
	var ae *capture.AcquisitionError
	if errors.As(err, &ae) {
		return "acquisition"
	}
	return "encode"
}
