package config

// ConfigDiff describes what changed between two configs. The log level can be
// applied to a running server; capture, engine and output changes need the
// capture session restarted; listen address and TLS changes only take effect
// on the next process start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ServerChanged  bool // listen address or TLS
	CaptureChanged bool
	EngineChanged  bool
	OutputChanged  bool
}

// RequiresRestart reports whether the capture session must be restarted for
// the changes to take effect.
func (d ConfigDiff) RequiresRestart() bool {
	return d.CaptureChanged || d.EngineChanged || d.OutputChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if serverChanged(old.Server, new.Server) {
		d.ServerChanged = true
	}
	if old.Capture != new.Capture {
		d.CaptureChanged = true
	}
	if old.Engine != new.Engine {
		d.EngineChanged = true
	}
	if old.Output != new.Output {
		d.OutputChanged = true
	}

	return d
}

// serverChanged compares the restart-level server settings, ignoring the log
// level (which is tracked separately as hot-applicable).
func serverChanged(old, new ServerConfig) bool {
	if old.ListenAddr != new.ListenAddr {
		return true
	}
	switch {
	case old.TLS == nil && new.TLS == nil:
		return false
	case old.TLS == nil || new.TLS == nil:
		return true
	default:
		return *old.TLS != *new.TLS
	}
}
