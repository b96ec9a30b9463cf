// Command voxseg is the main entry point for the Voxseg capture server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxseg/internal/app"
	"github.com/MrWong99/voxseg/internal/config"
	"github.com/MrWong99/voxseg/internal/observe"
	"github.com/MrWong99/voxseg/pkg/capture"
	"github.com/MrWong99/voxseg/pkg/capture/discord"
	"github.com/MrWong99/voxseg/pkg/capture/mic"
	"github.com/MrWong99/voxseg/pkg/capture/wsstream"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "list audio capture devices and exit")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxseg: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxseg: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it at runtime.
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("voxseg starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Capture.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxseg",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capture backend registry ──────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, reg,
		app.WithConfigWatch(*configPath),
		app.WithLogLevelVar(logLevel),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the capture source factories that ship with
// Voxseg into reg. Each factory receives the capture section of the config and
// constructs the matching source.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterSource(config.BackendMic, func(cfg config.CaptureConfig) (capture.Source, error) {
		opts := []mic.Option{
			mic.WithSampleRate(cfg.Mic.SampleRate),
			mic.WithChannels(cfg.Mic.Channels),
			mic.WithBuffer(cfg.BufferFrames),
		}
		if cfg.Mic.DeviceID != "" {
			opts = append(opts, mic.WithDeviceID(cfg.Mic.DeviceID))
		}
		return mic.New(opts...), nil
	})

	reg.RegisterSource(config.BackendStream, func(cfg config.CaptureConfig) (capture.Source, error) {
		opts := []wsstream.Option{
			wsstream.WithFormat(cfg.Stream.SampleRate, cfg.Stream.Channels),
			wsstream.WithBuffer(cfg.BufferFrames),
		}
		if cfg.Stream.Token != "" {
			opts = append(opts, wsstream.WithToken(cfg.Stream.Token))
		}
		return wsstream.New(cfg.Stream.URL, opts...), nil
	})

	reg.RegisterSource(config.BackendDiscord, func(cfg config.CaptureConfig) (capture.Source, error) {
		session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
		if err != nil {
			return nil, fmt.Errorf("create discord session: %w", err)
		}
		if err := session.Open(); err != nil {
			return nil, fmt.Errorf("open discord gateway: %w", err)
		}
		opts := []discord.Option{discord.WithBuffer(cfg.BufferFrames)}
		if cfg.Discord.UserID != "" {
			opts = append(opts, discord.WithUser(cfg.Discord.UserID))
		}
		src := discord.New(session, cfg.Discord.GuildID, cfg.Discord.ChannelID, opts...)
		return &gatewaySource{Source: src, gateway: session}, nil
	})

	for _, b := range reg.Backends() {
		slog.Debug("registered capture backend", "name", b)
	}
}

// gatewaySource pairs a Discord capture source with the gateway session it
// rides on. The factory opened the session, so Stop has to release both.
type gatewaySource struct {
	*discord.Source
	gateway *discordgo.Session
}

func (s *gatewaySource) Stop() error {
	return errors.Join(s.Source.Stop(), s.gateway.Close())
}

// ── Device listing ────────────────────────────────────────────────────────────

// printDevices lists the capture devices visible to the audio backend.
func printDevices() int {
	devices, err := mic.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxseg: list devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return 0
	}
	fmt.Println("capture devices:")
	for _, d := range devices {
		fmt.Printf("  %s  %s\n", d.ID, d.Name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║         Voxseg startup summary         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Backend", string(cfg.Capture.Backend))
	switch cfg.Capture.Backend {
	case config.BackendMic:
		device := cfg.Capture.Mic.DeviceID
		if device == "" {
			device = "(default)"
		}
		printRow("Device", device)
		printRow("Format", fmt.Sprintf("%d Hz / %d ch", cfg.Capture.Mic.SampleRate, cfg.Capture.Mic.Channels))
	case config.BackendDiscord:
		printRow("Guild", cfg.Capture.Discord.GuildID)
		printRow("Channel", cfg.Capture.Discord.ChannelID)
	case config.BackendStream:
		printRow("URL", cfg.Capture.Stream.URL)
		printRow("Format", fmt.Sprintf("%d Hz / %d ch", cfg.Capture.Stream.SampleRate, cfg.Capture.Stream.Channels))
	}
	printRow("Threshold", fmt.Sprintf("%g", cfg.Engine.EnergyThreshold))
	printRow("Tick", fmt.Sprintf("%d ms", cfg.Engine.FrameIntervalMs))
	printRow("Clip dir", cfg.Output.Dir)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 21 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-14s: %-21s ║\n", key, value)
}
