package mic

import (
	"context"
	"testing"
)

// Start, Devices and the data callback need real audio hardware; tests here
// cover construction and the inert lifecycle paths.

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New()
	if s.sampleRate != defaultSampleRate {
		t.Errorf("sampleRate = %d, want %d", s.sampleRate, defaultSampleRate)
	}
	if s.channels != defaultChannels {
		t.Errorf("channels = %d, want %d", s.channels, defaultChannels)
	}
	if got := cap(s.frames); got != defaultBuffer {
		t.Errorf("frame buffer = %d, want %d", got, defaultBuffer)
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	s := New(
		WithSampleRate(48000),
		WithChannels(2),
		WithDeviceID("00ff"),
		WithBuffer(8),
	)
	if s.sampleRate != 48000 {
		t.Errorf("sampleRate = %d, want 48000", s.sampleRate)
	}
	if s.channels != 2 {
		t.Errorf("channels = %d, want 2", s.channels)
	}
	if s.deviceID != "00ff" {
		t.Errorf("deviceID = %q, want %q", s.deviceID, "00ff")
	}
	if got := cap(s.frames); got != 8 {
		t.Errorf("frame buffer = %d, want 8", got)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("frame channel should be closed after Stop")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestStart_AfterStopFails(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected Start on a stopped source to fail")
	}
}
