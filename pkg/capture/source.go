// Package capture defines the interfaces for acquiring live audio within
// Voxseg.
//
// The primary abstraction is [Source], a backend that produces a stream of
// PCM frames from a microphone, a voice-channel connection, a network stream,
// or a recorded fixture. Backends that can also expose per-frame magnitude
// spectra implement the optional [SpectrumProvider] extension, which the
// segmentation engine prefers over PCM energy when present.
//
// Implementations of these interfaces are provided by backend-specific
// adapter packages (capture/mic, capture/discord, capture/wsstream,
// capture/mock). The interfaces are intentionally narrow to keep the engine
// decoupled from acquisition details.
//
// This package lives under pkg/ because external code (third-party capture
// backends) is expected to implement [Source].
package capture

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxseg/pkg/audio"
)

// Source produces a stream of PCM audio frames.
//
// A Source is inert until [Source.Start] is called and remains active until
// [Source.Stop] is called or the context used to start it is cancelled. The
// frame channel is closed automatically when the source terminates, whether
// cleanly or due to a backend failure; [Source.Err] distinguishes the two.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins acquisition. The supplied ctx governs the lifetime of the
	// stream: when it is cancelled the source shuts down as if Stop had been
	// called. Returns an error if acquisition cannot begin (device not found,
	// auth failure, network error, etc.); in that case the source stays inert
	// and Frames returns a closed channel.
	Start(ctx context.Context) error

	// Frames returns the read-only channel that delivers [audio.Frame] values
	// as they arrive from the backend. Frames are self-describing: each
	// carries its own sample rate and channel count. The channel is buffered;
	// backends drop frames rather than block when the consumer falls behind.
	//
	// The channel is closed when the source stops. After it closes, Err
	// reports whether the stream ended cleanly.
	Frames() <-chan audio.Frame

	// Err returns the terminal error of the stream, or nil if the source is
	// still running or stopped cleanly. It is only meaningful after the
	// channel returned by Frames has been closed.
	Err() error

	// Stop cleanly tears down the source and closes the frame channel. It is
	// safe to call Stop more than once; subsequent calls are no-ops and
	// return nil.
	Stop() error
}

// SpectrumProvider is an optional extension of [Source] for backends that
// expose byte-valued magnitude-spectrum bins alongside PCM. The segmentation
// engine type-asserts for this interface and, when present, classifies
// speech from the spectrum instead of PCM energy.
type SpectrumProvider interface {
	// Spectrum returns the most recent magnitude spectrum as byte-valued
	// bins (0..255, lowest frequency first) and true, or nil and false if no
	// fresh spectrum is available for the current frame.
	Spectrum() ([]byte, bool)
}

// AcquisitionError wraps a backend failure that terminated a source
// mid-stream. The engine surfaces these through its error callback so
// callers can tell capture faults apart from their own bugs.
type AcquisitionError struct {
	// Backend names the source that failed, e.g. "mic" or "wsstream".
	Backend string

	// Err is the underlying failure.
	Err error
}

func (e *AcquisitionError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("capture: source failed: %v", e.Err)
	}
	return fmt.Sprintf("capture: %s source failed: %v", e.Backend, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

var _ error = (*AcquisitionError)(nil)
