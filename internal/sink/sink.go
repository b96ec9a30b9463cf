// Package sink persists emitted utterance clips.
//
// The engine hands each finished clip to a [Sink]. The [Dir] implementation
// writes clips as standalone WAV files into a local directory, which keeps a
// single voxseg binary useful end to end without any upload infrastructure.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/voxseg/pkg/segment"
)

// Sink consumes emitted clips. Implementations must be safe for concurrent use.
type Sink interface {
	// Write persists one clip.
	Write(ctx context.Context, clip segment.Clip) error

	// Close releases any resources held by the sink. Writes after Close fail.
	Close() error
}

// defaultPrefix starts every file name written by [Dir] unless overridden.
const defaultPrefix = "utt-"

// stampLayout formats the clip's back-dated start time into the file name.
const stampLayout = "20060102-150405.000"

// Dir writes each clip as a WAV file named
// <prefix><start-stamp>-<seq>.wav. The sequence number is a process-lifetime
// counter that keeps names unique when two utterances start within the same
// millisecond.
type Dir struct {
	dir    string
	prefix string

	mu     sync.Mutex
	seq    uint64
	closed bool
}

var _ Sink = (*Dir)(nil)

// DirOption configures [NewDir].
type DirOption func(*Dir)

// WithPrefix overrides the default "utt-" file name prefix.
func WithPrefix(p string) DirOption {
	return func(d *Dir) {
		if p != "" {
			d.prefix = p
		}
	}
}

// NewDir returns a [Dir] sink writing into dir, creating the directory and
// any missing parents.
func NewDir(dir string, opts ...DirOption) (*Dir, error) {
	d := &Dir{dir: dir, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(d)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create clip directory %q: %w", dir, err)
	}
	return d, nil
}

// Write stores clip as a new WAV file. Data lands in a temporary file first
// and is renamed into place, so a reader scanning the directory never sees a
// partial clip.
func (d *Dir) Write(ctx context.Context, clip segment.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("sink: write after close")
	}
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	name := fmt.Sprintf("%s%s-%04d.wav", d.prefix, clip.StartedAt.UTC().Format(stampLayout), seq)
	final := filepath.Join(d.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, clip.Data, 0o644); err != nil {
		return fmt.Errorf("sink: write clip: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sink: finalize clip: %w", err)
	}
	return nil
}

// Close marks the sink closed. There is nothing buffered to flush; files are
// complete the moment Write returns.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Written returns how many clips have been written so far.
func (d *Dir) Written() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// Check probes that the clip directory still exists and is writable. Suitable
// as a readiness check.
func (d *Dir) Check(_ context.Context) error {
	info, err := os.Stat(d.dir)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sink: %q is not a directory", d.dir)
	}
	f, err := os.CreateTemp(d.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("sink: clip directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}
