// Package config provides the configuration schema, loader, and capture
// backend registry for the Voxseg segmentation server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxseg/pkg/segment"
)

// LogLevel controls log verbosity for the Voxseg server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to its [slog.Level]. Unrecognised values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Backend selects the audio capture implementation feeding the segmentation
// engine.
type Backend string

const (
	// BackendMic captures from a local microphone via miniaudio.
	BackendMic Backend = "mic"

	// BackendDiscord captures voice from a Discord voice channel.
	BackendDiscord Backend = "discord"

	// BackendStream captures PCM pushed over a WebSocket connection.
	BackendStream Backend = "wsstream"
)

// IsValid reports whether b is a recognised capture backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendMic, BackendDiscord, BackendStream:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxseg.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Engine  EngineConfig  `yaml:"engine"`
	Output  OutputConfig  `yaml:"output"`
}

// ServerConfig holds network and logging settings for the Voxseg server.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics and health endpoints listen on
	// (e.g., ":8080"). Empty disables the HTTP server entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CaptureConfig selects and configures the audio source. Only the section
// matching Backend is consulted; the other sections are ignored.
type CaptureConfig struct {
	// Backend selects the capture implementation registered in the [Registry].
	Backend Backend `yaml:"backend"`

	// BufferFrames is the capacity of the frame channel between the capture
	// backend and the engine. Zero uses the backend's default.
	BufferFrames int `yaml:"buffer_frames"`

	// Mic configures the local microphone backend.
	Mic MicConfig `yaml:"mic"`

	// Discord configures the Discord voice channel backend.
	Discord DiscordConfig `yaml:"discord"`

	// Stream configures the WebSocket stream backend.
	Stream StreamConfig `yaml:"stream"`
}

// MicConfig holds settings for the local microphone backend.
type MicConfig struct {
	// DeviceID selects a capture device by the hex identifier printed by
	// "voxseg -list-devices". Empty uses the system default device.
	DeviceID string `yaml:"device_id"`

	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the captured channel count (1 or 2).
	Channels int `yaml:"channels"`
}

// DiscordConfig holds settings for the Discord voice backend.
type DiscordConfig struct {
	// BotToken authenticates the bot account that joins the voice channel.
	BotToken string `yaml:"bot_token"`

	// GuildID is the Discord server hosting the voice channel.
	GuildID string `yaml:"guild_id"`

	// ChannelID is the voice channel to join.
	ChannelID string `yaml:"channel_id"`

	// UserID restricts capture to a single speaker. Empty captures everyone
	// in the channel.
	UserID string `yaml:"user_id"`
}

// StreamConfig holds settings for the WebSocket stream backend.
type StreamConfig struct {
	// URL is the ws:// or wss:// endpoint streaming PCM16 audio.
	URL string `yaml:"url"`

	// Token, when set, is sent as an Authorization Bearer header during the
	// WebSocket handshake.
	Token string `yaml:"token"`

	// SampleRate and Channels describe the PCM format assumed until the
	// server announces one itself.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// EngineConfig holds the segmentation tuning parameters. Durations are plain
// integers in milliseconds.
type EngineConfig struct {
	// EnergyThreshold is the normalised energy in (0, 1) below which a frame
	// counts as silent.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SpeechStartFrames is how many consecutive speech frames open an utterance.
	SpeechStartFrames int `yaml:"speech_start_frames"`

	// SilenceHoldFrames is how many consecutive silent frames close an utterance.
	SilenceHoldFrames int `yaml:"silence_hold_frames"`

	// MinSpeechDurationMs discards utterances shorter than this.
	// Zero disables the filter.
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms"`

	// FrameIntervalMs is the classification tick period.
	FrameIntervalMs int `yaml:"frame_interval_ms"`

	// PreRollFrames is how many ticks of audio from before a confirmed speech
	// start are prepended to each clip.
	PreRollFrames int `yaml:"pre_roll_frames"`

	// MaxUtteranceMs caps a single utterance; when reached the clip is emitted
	// and a continuation utterance opens. Zero disables the cap.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`

	// SpectrumSkipBins is how many of the lowest-frequency bins are ignored
	// when classifying from a magnitude spectrum.
	SpectrumSkipBins int `yaml:"spectrum_skip_bins"`

	// SampleRate and Channels describe the PCM format of emitted clips.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// SegmentConfig converts the YAML-facing engine section into a
// [segment.Config].
func (e EngineConfig) SegmentConfig() segment.Config {
	return segment.Config{
		EnergyThreshold:   e.EnergyThreshold,
		SpeechStartFrames: e.SpeechStartFrames,
		SilenceHoldFrames: e.SilenceHoldFrames,
		MinSpeechDuration: time.Duration(e.MinSpeechDurationMs) * time.Millisecond,
		FrameInterval:     time.Duration(e.FrameIntervalMs) * time.Millisecond,
		PreRollFrames:     e.PreRollFrames,
		MaxUtterance:      time.Duration(e.MaxUtteranceMs) * time.Millisecond,
		SpectrumSkipBins:  e.SpectrumSkipBins,
		SampleRate:        e.SampleRate,
		Channels:          e.Channels,
	}
}

// OutputConfig controls where emitted clips are written.
type OutputConfig struct {
	// Dir is the directory WAV clips are written into. Created if missing.
	Dir string `yaml:"dir"`

	// Prefix is prepended to every clip file name.
	Prefix string `yaml:"prefix"`
}

// Default returns a fully populated configuration matching
// [segment.DefaultConfig], capturing from the default local microphone.
// [LoadFromReader] decodes on top of it, so omitted fields keep these values.
func Default() *Config {
	seg := segment.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Capture: CaptureConfig{
			Backend:      BackendMic,
			BufferFrames: 64,
			Mic:          MicConfig{SampleRate: seg.SampleRate, Channels: seg.Channels},
			Stream:       StreamConfig{SampleRate: seg.SampleRate, Channels: seg.Channels},
		},
		Engine: EngineConfig{
			EnergyThreshold:     seg.EnergyThreshold,
			SpeechStartFrames:   seg.SpeechStartFrames,
			SilenceHoldFrames:   seg.SilenceHoldFrames,
			MinSpeechDurationMs: int(seg.MinSpeechDuration / time.Millisecond),
			FrameIntervalMs:     int(seg.FrameInterval / time.Millisecond),
			PreRollFrames:       seg.PreRollFrames,
			MaxUtteranceMs:      int(seg.MaxUtterance / time.Millisecond),
			SpectrumSkipBins:    seg.SpectrumSkipBins,
			SampleRate:          seg.SampleRate,
			Channels:            seg.Channels,
		},
		Output: OutputConfig{
			Dir: "clips",
		},
	}
}
