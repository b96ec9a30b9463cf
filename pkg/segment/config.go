package segment

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultEnergyThreshold   = 0.01
	defaultSpeechStartFrames = 3
	defaultSilenceHoldFrames = 8
	defaultMinSpeechDuration = 300 * time.Millisecond
	defaultFrameInterval     = 100 * time.Millisecond
	defaultMaxUtterance      = 30 * time.Second
	defaultSpectrumSkipBins  = 2
	defaultSampleRate        = 16000
	defaultChannels          = 1
)

// Config holds the tuning parameters for one segmentation session. Use
// [DefaultConfig] as a starting point; zero values are not usable.
type Config struct {
	// EnergyThreshold is the normalised energy in (0, 1) below which a frame
	// is classified as silent.
	EnergyThreshold float64

	// SpeechStartFrames is the number of consecutive non-silent frames
	// required to open an utterance. Must be at least 1.
	SpeechStartFrames int

	// SilenceHoldFrames is the number of consecutive silent frames required
	// to close an utterance. Must be at least 1.
	SilenceHoldFrames int

	// MinSpeechDuration is the shortest utterance that is emitted as a clip.
	// Closed utterances below this are discarded silently. Zero disables the
	// filter. Evaluated against elapsed time, not frame count, to tolerate
	// scheduling jitter.
	MinSpeechDuration time.Duration

	// FrameInterval is the classification tick period. Must be positive.
	FrameInterval time.Duration

	// PreRollFrames is how many ticks worth of audio from just before a
	// confirmed speech start are prepended to the clip, so the onset is not
	// clipped by the debounce window. Zero disables pre-roll. Values of at
	// least SpeechStartFrames cover the whole confirmation window.
	PreRollFrames int

	// MaxUtterance caps how long a single utterance may run. When reached,
	// the current clip is closed and emitted and a continuation utterance
	// opens immediately. Zero disables the cap.
	MaxUtterance time.Duration

	// SpectrumSkipBins is how many of the lowest-frequency bins are ignored
	// when classifying from a magnitude spectrum, reducing sensitivity to
	// low-frequency hum and breath noise.
	SpectrumSkipBins int

	// SampleRate and Channels describe the PCM format of emitted clips.
	// Capture frames in other formats are converted before buffering.
	SampleRate int
	Channels   int
}

// DefaultConfig returns the canonical tuning: 100 ms frames, a 0.01 energy
// threshold, 3-frame speech confirmation, 8-frame silence hold, 300 ms
// minimum utterance, 3 frames of pre-roll and 16 kHz mono clips.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   defaultEnergyThreshold,
		SpeechStartFrames: defaultSpeechStartFrames,
		SilenceHoldFrames: defaultSilenceHoldFrames,
		MinSpeechDuration: defaultMinSpeechDuration,
		FrameInterval:     defaultFrameInterval,
		PreRollFrames:     defaultSpeechStartFrames,
		MaxUtterance:      defaultMaxUtterance,
		SpectrumSkipBins:  defaultSpectrumSkipBins,
		SampleRate:        defaultSampleRate,
		Channels:          defaultChannels,
	}
}

// Validate checks all fields and returns every violation found, joined into
// a single error, or nil if the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	if c.EnergyThreshold <= 0 || c.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("energy threshold must be in (0, 1), got %g", c.EnergyThreshold))
	}
	if c.SpeechStartFrames < 1 {
		errs = append(errs, fmt.Errorf("speech start frames must be at least 1, got %d", c.SpeechStartFrames))
	}
	if c.SilenceHoldFrames < 1 {
		errs = append(errs, fmt.Errorf("silence hold frames must be at least 1, got %d", c.SilenceHoldFrames))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("min speech duration must not be negative, got %v", c.MinSpeechDuration))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame interval must be positive, got %v", c.FrameInterval))
	}
	if c.PreRollFrames < 0 {
		errs = append(errs, fmt.Errorf("pre-roll frames must not be negative, got %d", c.PreRollFrames))
	}
	if c.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("max utterance must not be negative, got %v", c.MaxUtterance))
	}
	if c.MaxUtterance > 0 && c.MaxUtterance < c.FrameInterval {
		errs = append(errs, fmt.Errorf("max utterance %v is shorter than one frame interval %v", c.MaxUtterance, c.FrameInterval))
	}
	if c.SpectrumSkipBins < 0 {
		errs = append(errs, fmt.Errorf("spectrum skip bins must not be negative, got %d", c.SpectrumSkipBins))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.Channels < 1 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", c.Channels))
	}

	if len(errs) > 0 {
		return fmt.Errorf("segment: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
