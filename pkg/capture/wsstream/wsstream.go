// Package wsstream ingests a remote PCM audio feed over a WebSocket
// connection, exposing it as a [capture.Source].
//
// Binary messages carry raw little-endian 16-bit PCM in the current stream
// format. Text messages carry small JSON control frames:
//
//	{"type":"format","sample_rate":16000,"channels":1}
//	{"type":"eos"}
//	{"type":"error","message":"..."}
//
// A format frame announces or changes the PCM format of subsequent binary
// messages; until one arrives the configured default applies. An eos frame
// ends the stream cleanly, an error frame ends it with a failure.
package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/capture"
)

const backendName = "wsstream"

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultBuffer     = 64

	// maxMessageBytes bounds a single PCM chunk; 1 MiB is over five seconds
	// of 48 kHz stereo audio.
	maxMessageBytes = 1 << 20

	closeWriteTimeout = 2 * time.Second
)

// Option configures a [Source].
type Option func(*Source)

// WithFormat sets the PCM format assumed before the server announces one.
// Default 16 kHz mono.
func WithFormat(sampleRate, channels int) Option {
	return func(s *Source) {
		s.sampleRate = sampleRate
		s.channels = channels
	}
}

// WithHeader sets additional HTTP headers for the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(s *Source) {
		for k, vs := range h {
			for _, v := range vs {
				s.header.Add(k, v)
			}
		}
	}
}

// WithToken sets a bearer token for the WebSocket handshake.
func WithToken(token string) Option {
	return func(s *Source) { s.header.Set("Authorization", "Bearer "+token) }
}

// WithBuffer sets the frame channel capacity. Default 64.
func WithBuffer(n int) Option {
	return func(s *Source) { s.buffer = n }
}

// Source is a WebSocket PCM stream acting as a [capture.Source].
type Source struct {
	url        string
	header     http.Header
	sampleRate int
	channels   int
	buffer     int

	frames chan audio.Frame

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	err     error
	started bool
	closed  bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ capture.Source = (*Source)(nil)

// New returns an inert source for the given ws:// or wss:// URL. Nothing is
// dialled until [Source.Start].
func New(url string, opts ...Option) *Source {
	s := &Source{
		url:        url,
		header:     http.Header{},
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

// Start dials the stream endpoint and begins reading. Handshake failures
// surface as a [capture.AcquisitionError]. The source shuts down when ctx
// is cancelled.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return errors.New("wsstream: source already started")
	}

	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: s.header,
	})
	if err != nil {
		s.closeFramesLocked()
		return &capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("dial stream: %w", err)}
	}
	conn.SetReadLimit(maxMessageBytes)

	s.conn = conn
	s.started = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(ctx, conn, s.done)

	go func(done <-chan struct{}) {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-done:
		}
	}(s.done)
	return nil
}

// Frames implements [capture.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err implements [capture.Source]. It reports the cause when the stream
// died underneath a running session; nil after a clean stop or server eos.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop announces the close to the server, tears down the connection and
// closes the frame channel. Safe to call more than once.
func (s *Source) Stop() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		if s.done != nil {
			close(s.done)
		}
		s.mu.Unlock()

		if conn != nil {
			wctx, cancel := context.WithTimeout(context.Background(), closeWriteTimeout)
			_ = conn.Write(wctx, websocket.MessageText, []byte(`{"type":"close"}`))
			cancel()
			conn.Close(websocket.StatusNormalClosure, "capture stopped")
		}
		s.wg.Wait()

		s.mu.Lock()
		s.closeFramesLocked()
		s.mu.Unlock()
	})
	return nil
}

// controlMessage is the JSON payload of text frames on the stream.
type controlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Message    string `json:"message,omitempty"`
}

// readLoop turns binary messages into PCM frames and applies control
// messages until the stream ends.
func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()
	defer s.closeFrames()

	sampleRate := s.sampleRate
	channels := s.channels
	var streamed time.Duration

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-done:
				// Shutdown requested; the read error is expected.
			default:
				status := websocket.CloseStatus(err)
				if ctx.Err() == nil && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					s.setErr(&capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("read stream: %w", err)})
				}
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if len(msg) == 0 {
				continue
			}
			frame := audio.Frame{
				Data:       msg,
				SampleRate: sampleRate,
				Channels:   channels,
				Timestamp:  streamed,
			}
			streamed += frame.Duration()
			select {
			case s.frames <- frame:
			default:
				// Channel full; drop rather than block the read loop.
			}

		case websocket.MessageText:
			var ctl controlMessage
			if err := json.Unmarshal(msg, &ctl); err != nil {
				slog.Warn("wsstream: malformed control message", "error", err)
				continue
			}
			switch ctl.Type {
			case "format":
				if ctl.SampleRate > 0 {
					sampleRate = ctl.SampleRate
				}
				if ctl.Channels > 0 {
					channels = ctl.Channels
				}
				slog.Debug("wsstream: stream format set", "sample_rate", sampleRate, "channels", channels)
			case "eos":
				return
			case "error":
				s.setErr(&capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("server reported: %s", ctl.Message)})
				return
			}
		}
	}
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Source) closeFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFramesLocked()
}

func (s *Source) closeFramesLocked() {
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}
