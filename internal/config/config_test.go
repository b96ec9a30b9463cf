package config_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/pkg/capture"
	"github.com/MrWong99/voxseg/pkg/capture/mock"
	"github.com/MrWong99/voxseg/pkg/segment"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

capture:
  backend: wsstream
  buffer_frames: 32
  stream:
    url: wss://audio.example.com/feed
    token: st-test
    sample_rate: 16000
    channels: 1

engine:
  energy_threshold: 0.02
  speech_start_frames: 2
  silence_hold_frames: 5
  min_speech_duration_ms: 250
  frame_interval_ms: 50
  pre_roll_frames: 4
  max_utterance_ms: 15000
  sample_rate: 16000
  channels: 1

output:
  dir: /var/lib/voxseg/clips
  prefix: call-
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Capture.Backend != config.BackendStream {
		t.Errorf("capture.backend: got %q, want %q", cfg.Capture.Backend, config.BackendStream)
	}
	if cfg.Capture.BufferFrames != 32 {
		t.Errorf("capture.buffer_frames: got %d, want 32", cfg.Capture.BufferFrames)
	}
	if cfg.Capture.Stream.URL != "wss://audio.example.com/feed" {
		t.Errorf("capture.stream.url: got %q", cfg.Capture.Stream.URL)
	}
	if cfg.Capture.Stream.Token != "st-test" {
		t.Errorf("capture.stream.token: got %q, want %q", cfg.Capture.Stream.Token, "st-test")
	}
	if cfg.Engine.EnergyThreshold != 0.02 {
		t.Errorf("engine.energy_threshold: got %g, want 0.02", cfg.Engine.EnergyThreshold)
	}
	if cfg.Engine.FrameIntervalMs != 50 {
		t.Errorf("engine.frame_interval_ms: got %d, want 50", cfg.Engine.FrameIntervalMs)
	}
	if cfg.Engine.SpectrumSkipBins != 2 {
		t.Errorf("engine.spectrum_skip_bins should keep its default, got %d", cfg.Engine.SpectrumSkipBins)
	}
	if cfg.Output.Dir != "/var/lib/voxseg/clips" {
		t.Errorf("output.dir: got %q", cfg.Output.Dir)
	}
	if cfg.Output.Prefix != "call-" {
		t.Errorf("output.prefix: got %q, want %q", cfg.Output.Prefix, "call-")
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	// An empty config should succeed and be all defaults.
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Capture.Backend != config.BackendMic {
		t.Errorf("capture.backend: got %q, want %q", cfg.Capture.Backend, config.BackendMic)
	}
	if cfg.Engine.EnergyThreshold != 0.01 {
		t.Errorf("engine.energy_threshold: got %g, want 0.01", cfg.Engine.EnergyThreshold)
	}
	if cfg.Output.Dir != "clips" {
		t.Errorf("output.dir: got %q, want %q", cfg.Output.Dir, "clips")
	}
}

func TestLoadFromReader_OmittedFieldsKeepDefaults(t *testing.T) {
	yaml := `
engine:
  energy_threshold: 0.04
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.EnergyThreshold != 0.04 {
		t.Errorf("engine.energy_threshold: got %g, want 0.04", cfg.Engine.EnergyThreshold)
	}
	if cfg.Engine.SpeechStartFrames != 3 {
		t.Errorf("engine.speech_start_frames should keep its default, got %d", cfg.Engine.SpeechStartFrames)
	}
	if cfg.Engine.FrameIntervalMs != 100 {
		t.Errorf("engine.frame_interval_ms should keep its default, got %d", cfg.Engine.FrameIntervalMs)
	}
}

func TestLoadFromReader_UnknownKeyRejected(t *testing.T) {
	yaml := `
transcode: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level key, got nil")
	}
	if !strings.Contains(err.Error(), "transcode") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("Default() should validate cleanly, got: %v", err)
	}
}

func TestEngineConfig_SegmentConfig(t *testing.T) {
	e := config.EngineConfig{
		EnergyThreshold:     0.05,
		SpeechStartFrames:   2,
		SilenceHoldFrames:   4,
		MinSpeechDurationMs: 250,
		FrameIntervalMs:     50,
		PreRollFrames:       1,
		MaxUtteranceMs:      10000,
		SpectrumSkipBins:    3,
		SampleRate:          8000,
		Channels:            2,
	}
	got := e.SegmentConfig()
	want := segment.Config{
		EnergyThreshold:   0.05,
		SpeechStartFrames: 2,
		SilenceHoldFrames: 4,
		MinSpeechDuration: 250 * time.Millisecond,
		FrameInterval:     50 * time.Millisecond,
		PreRollFrames:     1,
		MaxUtterance:      10 * time.Second,
		SpectrumSkipBins:  3,
		SampleRate:        8000,
		Channels:          2,
	}
	if got != want {
		t.Errorf("SegmentConfig mismatch:\n got %+v\nwant %+v", got, want)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	yaml := `
capture:
  backend: pulseaudio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid backend, got nil")
	}
	if !strings.Contains(err.Error(), "capture.backend") {
		t.Errorf("error should mention capture.backend, got: %v", err)
	}
}

func TestValidate_TLSRequiresCertAndKey(t *testing.T) {
	yaml := `
server:
  tls: {}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty tls section, got nil")
	}
	if !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("error should mention cert_file, got: %v", err)
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_MicChannelsOutOfRange(t *testing.T) {
	yaml := `
capture:
  backend: mic
  mic:
    channels: 4
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for 4-channel mic capture, got nil")
	}
	if !strings.Contains(err.Error(), "capture.mic.channels") {
		t.Errorf("error should mention capture.mic.channels, got: %v", err)
	}
}

func TestValidate_InvalidEnergyThreshold(t *testing.T) {
	yaml := `
engine:
  energy_threshold: 3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range energy threshold, got nil")
	}
	if !strings.Contains(err.Error(), "energy threshold") {
		t.Errorf("error should mention the energy threshold, got: %v", err)
	}
}

func TestValidate_NegativeBufferFrames(t *testing.T) {
	yaml := `
capture:
  buffer_frames: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative buffer_frames, got nil")
	}
	if !strings.Contains(err.Error(), "buffer_frames") {
		t.Errorf("error should mention buffer_frames, got: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownBackend(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSource(config.CaptureConfig{Backend: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredBackend(t *testing.T) {
	reg := config.NewRegistry()
	want := mock.NewSource(1)
	reg.RegisterSource("stub", func(cfg config.CaptureConfig) (capture.Source, error) {
		return want, nil
	})
	got, err := reg.CreateSource(config.CaptureConfig{Backend: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != capture.Source(want) {
		t.Error("returned source is not the expected instance")
	}
}

func TestRegistry_FactoryReceivesConfig(t *testing.T) {
	reg := config.NewRegistry()
	var seen config.CaptureConfig
	reg.RegisterSource(config.BackendMic, func(cfg config.CaptureConfig) (capture.Source, error) {
		seen = cfg
		return mock.NewSource(1), nil
	})
	in := config.CaptureConfig{
		Backend: config.BackendMic,
		Mic:     config.MicConfig{DeviceID: "00ff", SampleRate: 48000, Channels: 2},
	}
	if _, err := reg.CreateSource(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != in {
		t.Errorf("factory received %+v, want %+v", seen, in)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterSource("broken", func(cfg config.CaptureConfig) (capture.Source, error) {
		return nil, wantErr
	})
	_, err := reg.CreateSource(config.CaptureConfig{Backend: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Backends(t *testing.T) {
	reg := config.NewRegistry()
	factory := func(cfg config.CaptureConfig) (capture.Source, error) {
		return mock.NewSource(1), nil
	}
	reg.RegisterSource(config.BackendMic, factory)
	reg.RegisterSource(config.BackendDiscord, factory)
	reg.RegisterSource(config.BackendStream, factory)

	want := []config.Backend{config.BackendDiscord, config.BackendMic, config.BackendStream}
	if got := reg.Backends(); !slices.Equal(got, want) {
		t.Errorf("Backends(): got %v, want %v", got, want)
	}
}
