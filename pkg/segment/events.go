package segment

import "time"

// Clip is one encoded, emitted utterance. Immutable once produced; ownership
// passes to the [Callbacks.OnClipReady] consumer.
type Clip struct {
	// Data is the complete WAV file (RIFF/PCM16).
	Data []byte

	// Duration is the utterance length as measured by the boundary detector.
	// With pre-roll enabled the audio runs slightly longer than this.
	Duration time.Duration

	// SampleRate and Channels mirror the declared format of Data.
	SampleRate int
	Channels   int

	// StartedAt is the back-dated wall-clock start of the utterance.
	StartedAt time.Time

	// ClosedAt is the wall-clock time the utterance was closed.
	ClosedAt time.Time
}

// Size returns the encoded size of the clip in bytes.
func (c Clip) Size() int { return len(c.Data) }

// Callbacks receives session events. All members are optional; nil members
// are skipped. When an utterance closes, OnSpeechEnd always fires before the
// matching OnClipReady, and a discarded utterance fires OnSpeechEnd alone.
//
// Callbacks are invoked synchronously from the engine's tick goroutine, so
// implementations must not block; hand heavy work to another goroutine.
type Callbacks struct {
	// OnSpeechStart fires when an utterance start is confirmed. startedAt is
	// back-dated to the first of the confirming frames.
	OnSpeechStart func(startedAt time.Time)

	// OnSpeechEnd fires when an utterance closes, however it closes:
	// confirmed silence, a length-cap split, or a session stop.
	OnSpeechEnd func(duration time.Duration)

	// OnClipReady fires after OnSpeechEnd when the closed utterance met the
	// minimum duration and produced a clip.
	OnClipReady func(clip Clip)

	// OnError fires on acquisition or encoding failures. The session keeps
	// running where it can; a dead capture source ends it.
	OnError func(err error)
}
