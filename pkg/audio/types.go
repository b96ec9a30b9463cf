package audio

import "time"

// Frame represents a single block of captured audio flowing from a capture
// source toward the segmentation engine. Frames are the atomic unit of audio
// transport: produced by capture backends at hardware cadence and drained by
// the engine on its classification tick. Frames are ephemeral and never
// persisted.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM. Sample rate and channel
	// count are carried alongside so converters can normalise mixed streams.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the engine's native rate, 48000 for
	// Discord Opus capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM payload.
// Returns 0 for frames with an invalid sample rate or channel count.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	bytesPerSec := f.SampleRate * f.Channels * 2
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSec)
}

// Samples returns the number of per-channel sample frames in the payload.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}
