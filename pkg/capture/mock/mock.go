// Package mock provides an in-memory, scriptable implementation of
// [capture.Source] for use in unit tests.
//
// The mock is safe for concurrent use. It records every lifecycle call so
// that tests can assert on call counts, and it exposes exported fields the
// test can set to control return values.
//
// Typical usage:
//
//	src := mock.NewSource(64)
//	eng, _ := segment.New(src, segment.DefaultConfig())
//	_ = eng.Start(ctx)
//	src.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/capture"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a scriptable [capture.Source]. Tests deliver audio with
// [Source.Push] and end the stream with [Source.Stop] (clean) or
// [Source.Fail] (backend failure).
// Set the exported fields before use; inspect the Call* fields after.
type Source struct {
	mu sync.Mutex

	// StartError is returned by [Source.Start]. When non-nil the source
	// stays inert and the frame channel is closed immediately.
	StartError error

	// StopError is returned by [Source.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	frames chan audio.Frame
	err    error
	closed bool
}

var _ capture.Source = (*Source)(nil)

// NewSource returns a mock source whose frame channel holds up to buffer
// frames.
func NewSource(buffer int) *Source {
	return &Source{frames: make(chan audio.Frame, buffer)}
}

// Start implements [capture.Source]. Returns StartError; the supplied ctx is
// ignored because tests drive the stream explicitly.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		s.closeLocked()
		return s.StartError
	}
	return nil
}

// Frames implements [capture.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Err implements [capture.Source]. Returns the error passed to
// [Source.Fail], or nil.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop implements [capture.Source]. Closes the frame channel and returns
// StopError. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.closeLocked()
	return s.StopError
}

// Push delivers one frame to the consumer. Like a real backend it never
// blocks: the frame is dropped (returning false) when the buffer is full or
// the stream has already ended.
func (s *Source) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Fail terminates the stream with err, simulating a backend failure. The
// frame channel is closed and subsequent [Source.Err] calls return err.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
	}
	s.closeLocked()
}

func (s *Source) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// ─── SpectrumSource ───────────────────────────────────────────────────────────

// SpectrumSource is a [Source] that additionally implements
// [capture.SpectrumProvider] with scripted magnitude spectra.
//
// Each call to Spectrum consumes one entry from SpectrumQueue; once the
// queue is empty, SpectrumResult is returned for every call. When both are
// unset, Spectrum reports no data.
type SpectrumSource struct {
	*Source

	// SpectrumQueue holds spectra returned one per Spectrum call, in order.
	SpectrumQueue [][]byte

	// SpectrumResult is returned once SpectrumQueue is exhausted. Leave nil
	// to make Spectrum report no data instead.
	SpectrumResult []byte

	// CallCountSpectrum records how many times Spectrum was called.
	CallCountSpectrum int
}

var _ capture.SpectrumProvider = (*SpectrumSource)(nil)

// NewSpectrumSource returns a mock spectrum-capable source whose frame
// channel holds up to buffer frames.
func NewSpectrumSource(buffer int) *SpectrumSource {
	return &SpectrumSource{Source: NewSource(buffer)}
}

// Spectrum implements [capture.SpectrumProvider].
func (s *SpectrumSource) Spectrum() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSpectrum++
	if len(s.SpectrumQueue) > 0 {
		bins := s.SpectrumQueue[0]
		s.SpectrumQueue = s.SpectrumQueue[1:]
		return bins, true
	}
	if s.SpectrumResult != nil {
		return s.SpectrumResult, true
	}
	return nil, false
}

// PushSpectrum appends bins to the spectrum queue.
func (s *SpectrumSource) PushSpectrum(bins []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpectrumQueue = append(s.SpectrumQueue, bins)
}
