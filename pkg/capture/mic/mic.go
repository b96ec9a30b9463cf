// Package mic captures live microphone audio through the miniaudio
// bindings, exposing it as a [capture.Source] of signed 16-bit PCM frames.
//
// Frames are delivered from miniaudio's real-time callback into a bounded
// channel; when the consumer falls behind, frames are dropped rather than
// blocking the audio thread.
package mic

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/capture"
)

const backendName = "mic"

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultBuffer     = 64
)

// Option configures a [Source].
type Option func(*Source)

// WithSampleRate sets the capture sample rate in Hz. Default 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithChannels sets the captured channel count. Default mono.
func WithChannels(ch int) Option {
	return func(s *Source) { s.channels = ch }
}

// WithDeviceID selects a specific capture device by the hex ID reported by
// [Devices]. By default the system's default capture device is used.
func WithDeviceID(id string) Option {
	return func(s *Source) { s.deviceID = id }
}

// WithBuffer sets the frame channel capacity. Default 64.
func WithBuffer(n int) Option {
	return func(s *Source) { s.buffer = n }
}

// Source is a microphone-backed [capture.Source].
type Source struct {
	sampleRate int
	channels   int
	deviceID   string
	buffer     int

	mu        sync.Mutex
	mctx      *malgo.AllocatedContext
	device    *malgo.Device
	frames    chan audio.Frame
	watch     chan struct{}
	startedAt time.Time
	started   bool
	closed    bool
}

var _ capture.Source = (*Source)(nil)

// New returns an inert microphone source. Nothing touches the audio stack
// until [Source.Start].
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
		buffer:     defaultBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	s.frames = make(chan audio.Frame, s.buffer)
	return s
}

// Start initialises the audio context, opens the capture device and begins
// streaming. Failures (no device, no permission, bad device ID) surface as
// a [capture.AcquisitionError] and leave the frame channel closed. The
// source shuts down when ctx is cancelled.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return errors.New("mic: source already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		s.closeLocked()
		return &capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("init audio context: %w", err)}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.channels)
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.Alsa.NoMMap = 1

	if s.deviceID != "" {
		idBytes, err := hex.DecodeString(s.deviceID)
		if err != nil {
			releaseContext(mctx)
			s.closeLocked()
			return &capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("invalid device id %q: %w", s.deviceID, err)}
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		cfg.Capture.DeviceID = devID.Pointer()
	}

	s.startedAt = time.Now()
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			s.deliver(data)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		releaseContext(mctx)
		s.closeLocked()
		return &capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("open capture device: %w", err)}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(mctx)
		s.closeLocked()
		return &capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("start capture device: %w", err)}
	}

	s.mctx = mctx
	s.device = device
	s.started = true

	s.watch = make(chan struct{})
	go func(cancelled <-chan struct{}) {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-cancelled:
		}
	}(s.watch)
	return nil
}

// deliver runs on miniaudio's real-time thread; it copies the callback's
// reused buffer and must never block.
func (s *Source) deliver(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	f := audio.Frame{
		Data:       buf,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  time.Since(s.startedAt),
	}
	select {
	case s.frames <- f:
	default:
	}
}

// Frames implements [capture.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err implements [capture.Source]. The miniaudio capture path reports
// failures synchronously from Start, so a closed stream is always clean.
func (s *Source) Err() error { return nil }

// Stop implements [capture.Source]: the device is torn down (waiting for an
// in-flight callback), the audio context released and the frame channel
// closed. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.watch != nil {
		close(s.watch)
		s.watch = nil
	}
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		releaseContext(s.mctx)
		s.mctx = nil
	}
	s.closeLocked()
	return nil
}

func (s *Source) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

func releaseContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// DeviceInfo describes one capture device known to miniaudio.
type DeviceInfo struct {
	// ID is the hex-encoded device identifier, usable with [WithDeviceID].
	ID string

	// Name is the human-readable device name.
	Name string
}

// Devices enumerates the capture devices miniaudio can see.
func Devices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("mic: init audio context: %w", err)
	}
	defer releaseContext(mctx)

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("mic: enumerate devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceInfo{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return out, nil
}
