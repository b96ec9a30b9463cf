// Package segment implements real-time voice-activity segmentation: it
// consumes a continuous stream of capture frames, classifies each
// classification tick as speech or silence with an energy threshold, applies
// frame-count hysteresis to find utterance boundaries, and emits each
// detected utterance as a self-contained WAV clip.
//
// The pipeline is [EnergyClassifier] → [BoundaryDetector] → [SegmentBuffer]
// → WAV encoding, wired together and driven by [Engine], which owns the
// session lifecycle (start, pause, resume, stop) and delivers results
// through [Callbacks].
//
// One Engine handles one recording session at a time; concurrent sessions
// are independent Engine instances with no shared state.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/audio/wav"
	"github.com/MrWong99/voxseg/pkg/capture"
)

// ErrAlreadyRunning is returned by [Engine.Start] when a session is active.
var ErrAlreadyRunning = errors.New("segment: session already running")

// Option configures an [Engine] beyond its Config.
type Option func(*Engine)

// WithCallbacks registers the consumer callbacks invoked for session events.
func WithCallbacks(cb Callbacks) Option {
	return func(e *Engine) { e.cb = cb }
}

// WithClock overrides the engine's time source. Tests use this to make
// boundary timing deterministic; production code never needs it.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// Engine drives one voice-activity segmentation session over a capture
// source.
//
// A fixed-interval tick goroutine is the only place state-machine
// transitions happen: each tick drains whatever audio the capture side
// queued since the last tick, classifies it, feeds the verdict to the
// boundary detector and buffers the PCM. Confining the classifier, detector
// and buffer to that goroutine keeps the hot path free of locks.
//
// Lifecycle methods are safe for concurrent use. Callbacks run on the tick
// goroutine; see [Callbacks] for the rules they must follow.
type Engine struct {
	// immutable after New
	cfg      Config
	src      capture.Source
	spectrum capture.SpectrumProvider // nil when src has no spectrum support
	cb       Callbacks
	clock    func() time.Time

	// owned by the tick goroutine
	classifier EnergyClassifier
	detector   *BoundaryDetector
	buffer     *SegmentBuffer
	conv       *audio.FormatConverter

	// lifecycle, guarded by mu
	mu          sync.Mutex
	running     bool
	stopping    bool
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration
	stopErr     error
	done        chan struct{}
	wg          sync.WaitGroup

	// published for Stats / State readers
	state               atomic.Int32
	framesProcessed     atomic.Uint64
	clipsEmitted        atomic.Uint64
	utterancesDiscarded atomic.Uint64
	bufferedSamples     atomic.Int64
}

// New creates an engine over src with the given tuning. If src also
// implements [capture.SpectrumProvider], frames are classified from its
// magnitude spectra; otherwise from the RMS energy of the captured PCM.
func New(src capture.Source, cfg Config, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, errors.New("segment: capture source must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		src:   src,
		clock: time.Now,
		classifier: EnergyClassifier{
			Threshold: cfg.EnergyThreshold,
			SkipBins:  cfg.SpectrumSkipBins,
		},
		detector: NewBoundaryDetector(cfg),
		buffer:   NewSegmentBuffer(cfg.PreRollFrames),
		conv: &audio.FormatConverter{
			Target: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		},
	}
	e.spectrum, _ = src.(capture.SpectrumProvider)
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Start acquires the capture source and begins the session. It fails with a
// [capture.AcquisitionError] (and the session stays idle) when the source
// cannot supply frames. The supplied ctx bounds the whole session: when it
// is cancelled the session winds down as if [Engine.Stop] had been called.
//
// Returns [ErrAlreadyRunning] if a session is active.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	if err := e.src.Start(ctx); err != nil {
		e.mu.Unlock()
		var ae *capture.AcquisitionError
		if !errors.As(err, &ae) {
			err = &capture.AcquisitionError{Err: err}
		}
		slog.Error("segment: capture acquisition failed", "error", err)
		return err
	}

	e.detector.Begin()
	e.state.Store(int32(e.detector.State()))
	e.running = true
	e.stopping = false
	e.paused = false
	e.pausedTotal = 0
	e.stopErr = nil
	e.done = make(chan struct{})
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(ctx)
	slog.Info("segment: session started",
		"frame_interval", e.cfg.FrameInterval,
		"energy_threshold", e.cfg.EnergyThreshold)
	return nil
}

// Pause freezes the session: ticks are skipped entirely, counters and
// buffered audio are preserved exactly, and audio arriving meanwhile is
// dropped. Pausing an already-paused or idle session is a no-op.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}
	e.paused = true
	e.pausedAt = e.clock()
	slog.Debug("segment: session paused")
}

// Resume unfreezes a paused session. Counters and buffered audio continue
// exactly where they left off; the time spent paused does not count toward
// utterance durations. Resuming a session that is not paused is a no-op.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.paused {
		return
	}
	e.paused = false
	e.pausedTotal += e.clock().Sub(e.pausedAt)
	slog.Debug("segment: session resumed", "paused_for", e.pausedTotal)
}

// Stop ends the session: the tick driver halts, an utterance still open is
// closed and emitted under the same rules as a silence-confirmed end, the
// capture source is released and the engine returns to idle with all
// buffers cleared. Safe to call more than once; extra calls return nil.
//
// Stop blocks until the final flush completes, so it must not be called
// from inside a callback.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	if !e.stopping {
		e.stopping = true
		close(e.done)
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopErr
}

// State returns the current phase of the boundary detector.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Paused reports whether the session is currently frozen.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stats is a point-in-time snapshot of session activity.
type Stats struct {
	// State is the current detector phase.
	State State

	// FramesProcessed counts capture frames drained and classified.
	FramesProcessed uint64

	// ClipsEmitted counts utterances that produced a clip.
	ClipsEmitted uint64

	// UtterancesDiscarded counts utterances dropped for being shorter than
	// the configured minimum.
	UtterancesDiscarded uint64

	// BufferedSamples is the size of the currently open utterance.
	BufferedSamples int64
}

// Stats returns a snapshot of the engine's activity counters. Safe to call
// from any goroutine at any time.
func (e *Engine) Stats() Stats {
	return Stats{
		State:               State(e.state.Load()),
		FramesProcessed:     e.framesProcessed.Load(),
		ClipsEmitted:        e.clipsEmitted.Load(),
		UtterancesDiscarded: e.utterancesDiscarded.Load(),
		BufferedSamples:     e.bufferedSamples.Load(),
	}
}

// ---- tick loop --------------------------------------------------------------

// run is the single goroutine responsible for classification, boundary
// detection and buffering. Confining all mutable pipeline state here avoids
// the need for further synchronisation.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.finalize("context cancelled")
			return
		case <-e.done:
			e.finalize("stop requested")
			return
		case <-ticker.C:
			if !e.tick() {
				e.finalize("capture source closed")
				return
			}
		}
	}
}

// tick processes one classification interval. Returns false when the
// capture source has terminated and the session must wind down.
func (e *Engine) tick() bool {
	e.mu.Lock()
	paused := e.paused
	shift := e.pausedTotal
	e.mu.Unlock()

	frames, sourceClosed := e.drainFrames()
	if sourceClosed {
		if err := e.src.Err(); err != nil {
			var ae *capture.AcquisitionError
			if !errors.As(err, &ae) {
				err = &capture.AcquisitionError{Err: err}
			}
			slog.Error("segment: capture source failed", "error", err)
			e.emitError(err)
		}
		return false
	}
	if paused {
		return true
	}

	now := e.clock().Add(-shift)
	block := e.convertFrames(frames)

	var silent bool
	if bins, ok := e.currentSpectrum(); ok {
		silent = e.classifier.SilentSpectrum(bins)
	} else {
		silent = e.classifier.SilentPCM(block)
	}

	if ev, fired := e.detector.Tick(silent, now); fired {
		e.handleEvent(ev)
	}
	e.buffer.Append(block, silent)

	// A very long utterance is split rather than buffered without bound: the
	// part so far is emitted and a continuation opens in the same breath.
	if e.cfg.MaxUtterance > 0 && e.detector.State() == StateListeningSpeech &&
		now.Sub(e.detector.SpeechStartedAt()) >= e.cfg.MaxUtterance {
		if ev, ok := e.detector.ForceSplit(now); ok {
			slog.Info("segment: utterance reached length cap, splitting",
				"duration", ev.Duration, "cap", e.cfg.MaxUtterance)
			e.closeUtterance(ev)
			e.buffer.Open()
			e.emitSpeechStart(e.detector.SpeechStartedAt())
		}
	}

	e.framesProcessed.Add(uint64(len(frames)))
	e.bufferedSamples.Store(int64(e.buffer.Len()))
	e.state.Store(int32(e.detector.State()))
	return true
}

// drainFrames empties the capture channel without blocking. The second
// return is true once the channel has been closed by the source.
func (e *Engine) drainFrames() ([]audio.Frame, bool) {
	var frames []audio.Frame
	for {
		select {
		case f, ok := <-e.src.Frames():
			if !ok {
				return frames, true
			}
			frames = append(frames, f)
		default:
			return frames, false
		}
	}
}

// convertFrames normalises the tick's frames to the clip format and returns
// their samples as one flat float block.
func (e *Engine) convertFrames(frames []audio.Frame) []float32 {
	var block []float32
	for _, f := range frames {
		cf := e.conv.Convert(f)
		if len(cf.Data) == 0 {
			continue
		}
		block = append(block, audio.PCM16ToFloat32(cf.Data)...)
	}
	return block
}

// currentSpectrum returns this tick's magnitude spectrum when the source
// provides one.
func (e *Engine) currentSpectrum() ([]byte, bool) {
	if e.spectrum == nil {
		return nil, false
	}
	return e.spectrum.Spectrum()
}

func (e *Engine) handleEvent(ev Event) {
	switch ev.Kind {
	case EventSpeechStart:
		e.buffer.Open()
		slog.Info("segment: speech started", "started_at", ev.StartedAt)
		e.emitSpeechStart(ev.StartedAt)
	case EventSpeechEnd:
		e.closeUtterance(ev)
	}
}

// closeUtterance drains the buffer and, when the utterance qualifies,
// encodes and emits it as a clip. OnSpeechEnd fires for every closure; the
// minimum-duration filter and the empty-buffer case drop the clip silently.
// A failure here is reported but never corrupts state for later ticks.
func (e *Engine) closeUtterance(ev Event) {
	samples := e.buffer.Drain()
	e.emitSpeechEnd(ev.Duration)

	if ev.Duration < e.cfg.MinSpeechDuration {
		e.utterancesDiscarded.Add(1)
		slog.Debug("segment: utterance below minimum duration, discarded",
			"duration", ev.Duration, "minimum", e.cfg.MinSpeechDuration)
		return
	}
	if len(samples) == 0 {
		slog.Debug("segment: utterance closed with empty buffer")
		return
	}

	data, err := wav.Encode(samples, e.cfg.SampleRate, e.cfg.Channels)
	if err != nil {
		slog.Error("segment: clip encoding failed", "error", err)
		e.emitError(fmt.Errorf("segment: encode clip: %w", err))
		return
	}

	clip := Clip{
		Data:       data,
		Duration:   ev.Duration,
		SampleRate: e.cfg.SampleRate,
		Channels:   e.cfg.Channels,
		StartedAt:  ev.StartedAt,
		ClosedAt:   e.clock(),
	}
	e.clipsEmitted.Add(1)
	slog.Info("segment: clip emitted",
		"duration", clip.Duration, "size_bytes", clip.Size())
	e.emitClipReady(clip)
}

// finalize closes an open utterance under the stop contract, releases the
// capture source and returns the engine to idle. Runs on the tick goroutine
// as its last act.
func (e *Engine) finalize(reason string) {
	e.mu.Lock()
	shift := e.pausedTotal
	if e.paused {
		// Stopped mid-pause: the open stretch never reached Resume, so fold
		// it into the shift or the final duration would include it.
		shift += e.clock().Sub(e.pausedAt)
	}
	e.mu.Unlock()
	now := e.clock().Add(-shift)

	if ev, fired := e.detector.Finish(now); fired {
		e.closeUtterance(ev)
	}
	e.buffer.Reset()
	e.bufferedSamples.Store(0)
	e.state.Store(int32(StateIdle))

	err := e.src.Stop()
	if err != nil {
		slog.Warn("segment: capture source release failed", "error", err)
	}
	// Stop closed the frame channel; release anything still buffered in it.
	audio.Drain(e.src.Frames())

	e.mu.Lock()
	e.running = false
	e.stopping = false
	e.paused = false
	e.pausedTotal = 0
	e.stopErr = err
	e.mu.Unlock()

	slog.Info("segment: session stopped", "reason", reason)
}

// ---- callback plumbing ------------------------------------------------------

func (e *Engine) emitSpeechStart(startedAt time.Time) {
	if e.cb.OnSpeechStart != nil {
		e.cb.OnSpeechStart(startedAt)
	}
}

func (e *Engine) emitSpeechEnd(d time.Duration) {
	if e.cb.OnSpeechEnd != nil {
		e.cb.OnSpeechEnd(d)
	}
}

func (e *Engine) emitClipReady(clip Clip) {
	if e.cb.OnClipReady != nil {
		e.cb.OnClipReady(clip)
	}
}

func (e *Engine) emitError(err error) {
	if e.cb.OnError != nil {
		e.cb.OnError(err)
	}
}
