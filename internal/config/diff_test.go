package config_test

import (
	"testing"

	"github.com/MrWong99/voxseg/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.ServerChanged || d.CaptureChanged || d.EngineChanged || d.OutputChanged {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
	if d.RequiresRestart() {
		t.Error("expected RequiresRestart()=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RequiresRestart() {
		t.Error("a log level change alone should not require a restart")
	}
}

func TestDiff_EngineChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Engine.EnergyThreshold = 0.2

	d := config.Diff(old, new)
	if !d.EngineChanged {
		t.Error("expected EngineChanged=true")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
	if !d.RequiresRestart() {
		t.Error("an engine change should require a restart")
	}
}

func TestDiff_CaptureChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Capture.Backend = config.BackendStream
	new.Capture.Stream.URL = "ws://localhost:9000/audio"

	d := config.Diff(old, new)
	if !d.CaptureChanged {
		t.Error("expected CaptureChanged=true")
	}
	if !d.RequiresRestart() {
		t.Error("a capture change should require a restart")
	}
}

func TestDiff_OutputChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Output.Dir = "/srv/voxseg/clips"

	d := config.Diff(old, new)
	if !d.OutputChanged {
		t.Error("expected OutputChanged=true")
	}
	if !d.RequiresRestart() {
		t.Error("an output change should require a restart")
	}
}

func TestDiff_ListenAddrChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9090"

	d := config.Diff(old, new)
	if !d.ServerChanged {
		t.Error("expected ServerChanged=true")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
	if d.RequiresRestart() {
		t.Error("a listen address change should not restart the capture session")
	}
}

func TestDiff_TLSAdded(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}

	d := config.Diff(old, new)
	if !d.ServerChanged {
		t.Error("expected ServerChanged=true when TLS is added")
	}
}

func TestDiff_TLSCertChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	old.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}
	new := config.Default()
	new.Server.TLS = &config.TLSConfig{CertFile: "rotated.pem", KeyFile: "key.pem"}

	d := config.Diff(old, new)
	if !d.ServerChanged {
		t.Error("expected ServerChanged=true when the certificate path changes")
	}
}

func TestDiff_EqualTLSIsNoChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	old.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}
	new := config.Default()
	new.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}

	d := config.Diff(old, new)
	if d.ServerChanged {
		t.Error("expected ServerChanged=false for equal TLS settings in distinct pointers")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogWarn
	new.Engine.SilenceHoldFrames = 12
	new.Output.Prefix = "meeting-"

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogWarn {
		t.Errorf("expected NewLogLevel=warn, got %q", d.NewLogLevel)
	}
	if !d.EngineChanged {
		t.Error("expected EngineChanged=true")
	}
	if !d.OutputChanged {
		t.Error("expected OutputChanged=true")
	}
	if d.CaptureChanged {
		t.Error("expected CaptureChanged=false")
	}
	if !d.RequiresRestart() {
		t.Error("expected RequiresRestart()=true")
	}
}
