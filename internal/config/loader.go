package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result; fields absent from the YAML keep their default
// values. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Capture
	switch {
	case cfg.Capture.Backend == "":
		errs = append(errs, errors.New("capture.backend is required"))
	case !cfg.Capture.Backend.IsValid():
		errs = append(errs, fmt.Errorf("capture.backend %q is invalid; valid values: mic, discord, wsstream", cfg.Capture.Backend))
	}
	if cfg.Capture.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_frames must not be negative, got %d", cfg.Capture.BufferFrames))
	}

	switch cfg.Capture.Backend {
	case BackendMic:
		if cfg.Capture.Mic.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("capture.mic.sample_rate must be positive, got %d", cfg.Capture.Mic.SampleRate))
		}
		if c := cfg.Capture.Mic.Channels; c < 1 || c > 2 {
			errs = append(errs, fmt.Errorf("capture.mic.channels must be 1 or 2, got %d", c))
		}
	case BackendDiscord:
		if cfg.Capture.Discord.BotToken == "" {
			errs = append(errs, errors.New("capture.discord.bot_token is required for the discord backend"))
		}
		if cfg.Capture.Discord.GuildID == "" {
			errs = append(errs, errors.New("capture.discord.guild_id is required for the discord backend"))
		}
		if cfg.Capture.Discord.ChannelID == "" {
			errs = append(errs, errors.New("capture.discord.channel_id is required for the discord backend"))
		}
	case BackendStream:
		if cfg.Capture.Stream.URL == "" {
			errs = append(errs, errors.New("capture.stream.url is required for the wsstream backend"))
		} else if !strings.HasPrefix(cfg.Capture.Stream.URL, "ws://") && !strings.HasPrefix(cfg.Capture.Stream.URL, "wss://") {
			errs = append(errs, fmt.Errorf("capture.stream.url %q must use the ws:// or wss:// scheme", cfg.Capture.Stream.URL))
		}
		if cfg.Capture.Stream.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("capture.stream.sample_rate must be positive, got %d", cfg.Capture.Stream.SampleRate))
		}
		if c := cfg.Capture.Stream.Channels; c < 1 || c > 2 {
			errs = append(errs, fmt.Errorf("capture.stream.channels must be 1 or 2, got %d", c))
		}
	}

	// Ignored-section warnings
	if cfg.Capture.Backend != BackendDiscord && cfg.Capture.Discord.BotToken != "" {
		slog.Warn("capture.discord is configured but another backend is selected; the section is ignored",
			"backend", cfg.Capture.Backend)
	}
	if cfg.Capture.Backend != BackendStream && cfg.Capture.Stream.URL != "" {
		slog.Warn("capture.stream is configured but another backend is selected; the section is ignored",
			"backend", cfg.Capture.Backend)
	}

	// Engine
	if err := cfg.Engine.SegmentConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if t := cfg.Engine.EnergyThreshold; t >= 0.5 && t < 1 {
		slog.Warn("engine.energy_threshold is unusually high; most speech will be classified as silence",
			"threshold", t)
	}
	if cfg.Capture.Backend == BackendStream && cfg.Capture.Stream.SampleRate != cfg.Engine.SampleRate {
		slog.Warn("stream and engine sample rates differ; captured audio will be converted",
			"stream_rate", cfg.Capture.Stream.SampleRate,
			"engine_rate", cfg.Engine.SampleRate)
	}

	// Output
	if cfg.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}

	return errors.Join(errs...)
}
