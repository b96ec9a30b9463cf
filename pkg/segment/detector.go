package segment

import "time"

// State enumerates the phases of the boundary state machine.
type State int

const (
	// StateIdle means no session is active.
	StateIdle State = iota

	// StateListeningSilence means a session is active but no utterance is
	// currently open.
	StateListeningSilence

	// StateListeningSpeech means an utterance is open and being captured.
	StateListeningSpeech
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListeningSilence:
		return "LISTENING_SILENCE"
	case StateListeningSpeech:
		return "LISTENING_SPEECH"
	default:
		return "UNKNOWN"
	}
}

// EventKind classifies boundary events produced by [BoundaryDetector.Tick].
type EventKind int

const (
	// EventSpeechStart marks a confirmed utterance start.
	EventSpeechStart EventKind = iota

	// EventSpeechEnd marks a confirmed utterance end.
	EventSpeechEnd
)

// Event is one confirmed utterance boundary.
type Event struct {
	// Kind indicates whether speech started or ended.
	Kind EventKind

	// StartedAt is the utterance start, back-dated to the first of the
	// confirming frames rather than the confirmation instant, so reported
	// durations are not systematically short by the debounce window.
	StartedAt time.Time

	// Duration is the utterance length, set only on EventSpeechEnd.
	Duration time.Duration
}

// BoundaryDetector is the hysteresis state machine that converts per-frame
// silence verdicts into utterance boundaries. Raw verdicts flicker on
// phoneme gaps and breathing, so a transition is only accepted after the
// required number of consecutive confirming frames; latency is bounded by
// that count times the frame interval.
//
// The detector holds all per-session counters and is not safe for concurrent
// use; the engine confines it to the tick goroutine.
type BoundaryDetector struct {
	speechStartFrames int
	silenceHoldFrames int
	frameInterval     time.Duration

	state           State
	speechStreak    int
	silenceStreak   int
	speechStartedAt time.Time
}

// NewBoundaryDetector returns an idle detector tuned by cfg.
func NewBoundaryDetector(cfg Config) *BoundaryDetector {
	return &BoundaryDetector{
		speechStartFrames: cfg.SpeechStartFrames,
		silenceHoldFrames: cfg.SilenceHoldFrames,
		frameInterval:     cfg.FrameInterval,
		state:             StateIdle,
	}
}

// State returns the current phase.
func (d *BoundaryDetector) State() State { return d.state }

// SpeechStartedAt returns the back-dated start of the open utterance. Only
// meaningful while the state is [StateListeningSpeech].
func (d *BoundaryDetector) SpeechStartedAt() time.Time { return d.speechStartedAt }

// Begin activates an idle detector, entering [StateListeningSilence] with
// all counters cleared. No-op if a session is already active.
func (d *BoundaryDetector) Begin() {
	if d.state != StateIdle {
		return
	}
	d.state = StateListeningSilence
	d.speechStreak = 0
	d.silenceStreak = 0
	d.speechStartedAt = time.Time{}
}

// Tick feeds one frame verdict into the state machine and reports the
// boundary event it confirms, if any. A verdict always resets the opposite
// streak counter, so a single contrary frame interrupts a run without being
// counted toward the wrong transition.
func (d *BoundaryDetector) Tick(silent bool, now time.Time) (Event, bool) {
	switch d.state {
	case StateListeningSilence:
		if silent {
			d.speechStreak = 0
			return Event{}, false
		}
		d.silenceStreak = 0
		d.speechStreak++
		if d.speechStreak < d.speechStartFrames {
			return Event{}, false
		}
		d.state = StateListeningSpeech
		d.speechStreak = 0
		d.speechStartedAt = now.Add(-time.Duration(d.speechStartFrames) * d.frameInterval)
		return Event{Kind: EventSpeechStart, StartedAt: d.speechStartedAt}, true

	case StateListeningSpeech:
		if !silent {
			d.silenceStreak = 0
			return Event{}, false
		}
		d.speechStreak = 0
		d.silenceStreak++
		if d.silenceStreak < d.silenceHoldFrames {
			return Event{}, false
		}
		d.state = StateListeningSilence
		d.silenceStreak = 0
		return Event{
			Kind:      EventSpeechEnd,
			StartedAt: d.speechStartedAt,
			Duration:  now.Sub(d.speechStartedAt),
		}, true

	default: // StateIdle: verdicts are not evaluated outside a session
		return Event{}, false
	}
}

// ForceSplit closes the open utterance at now without leaving
// [StateListeningSpeech], returning the end event for the closed part and
// re-dating the continuation to start at now. Used when an utterance hits
// the maximum length cap. Reports false outside of speech.
func (d *BoundaryDetector) ForceSplit(now time.Time) (Event, bool) {
	if d.state != StateListeningSpeech {
		return Event{}, false
	}
	ev := Event{
		Kind:      EventSpeechEnd,
		StartedAt: d.speechStartedAt,
		Duration:  now.Sub(d.speechStartedAt),
	}
	d.speechStartedAt = now
	d.speechStreak = 0
	d.silenceStreak = 0
	return ev, true
}

// Finish terminates the session, returning the end event for the open
// utterance when one is mid-flight, and always leaves the detector in
// [StateIdle] with counters cleared.
func (d *BoundaryDetector) Finish(now time.Time) (Event, bool) {
	var (
		ev    Event
		fired bool
	)
	if d.state == StateListeningSpeech {
		ev = Event{
			Kind:      EventSpeechEnd,
			StartedAt: d.speechStartedAt,
			Duration:  now.Sub(d.speechStartedAt),
		}
		fired = true
	}
	d.Reset()
	return ev, fired
}

// Reset returns the detector to [StateIdle], discarding all counters.
func (d *BoundaryDetector) Reset() {
	d.state = StateIdle
	d.speechStreak = 0
	d.silenceStreak = 0
	d.speechStartedAt = time.Time{}
}
