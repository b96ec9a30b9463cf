// Package discord captures voice-channel audio from Discord via the
// bwmarrin/discordgo library, exposing it as a [capture.Source]. Incoming
// Opus packets are decoded to 48 kHz stereo PCM; per-participant decoder
// state is kept by SSRC so interleaved speakers decode correctly.
//
// The source requires an active *discordgo.Session owned by the caller. It
// is receive-only: the bot joins the channel muted and never transmits.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/capture"
)

const backendName = "discord"

const frameChannelBuffer = 64

// Option configures a [Source].
type Option func(*Source)

// WithUser restricts capture to a single participant. Packets from other
// speakers are dropped. Identity arrives through Discord speaking updates,
// so audio sent before the first such update for the user is lost.
func WithUser(userID string) Option {
	return func(s *Source) { s.userID = userID }
}

// WithBuffer sets the frame channel capacity. Default 64.
func WithBuffer(n int) Option {
	return func(s *Source) { s.buffer = n }
}

// Source is a Discord voice channel acting as a [capture.Source].
type Source struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	userID    string
	buffer    int

	frames chan audio.Frame

	mu      sync.Mutex
	done    chan struct{}
	err     error
	started bool
	closed  bool

	// disconnectVC tears down the voice connection during Stop. Set from
	// vc.Disconnect in Start; replaced in tests.
	disconnectVC func() error

	ssrcMu   sync.RWMutex
	ssrcUser map[uint32]string

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ capture.Source = (*Source)(nil)

// New returns an inert source for the given voice channel. The session must
// already be connected to the gateway; nothing joins the channel until
// [Source.Start].
func New(session *discordgo.Session, guildID, channelID string, opts ...Option) *Source {
	s := &Source{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		buffer:    frameChannelBuffer,
		ssrcUser:  make(map[uint32]string),
	}
	for _, o := range opts {
		o(s)
	}
	s.frames = make(chan audio.Frame, s.buffer)
	return s
}

// Start joins the voice channel (muted, not deafened) and begins decoding
// incoming Opus packets. Join failures surface as a
// [capture.AcquisitionError]. The source shuts down when ctx is cancelled.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return errors.New("discord: source already started")
	}

	vc, err := s.session.ChannelVoiceJoin(s.guildID, s.channelID, true, false)
	if err != nil {
		s.closeFramesLocked()
		return &capture.AcquisitionError{Backend: backendName, Err: fmt.Errorf("join voice channel %q: %w", s.channelID, err)}
	}

	vc.AddHandler(s.handleSpeakingUpdate)

	s.disconnectVC = vc.Disconnect
	s.started = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.recvLoop(vc)

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

// Err implements [capture.Source]. It reports the cause when the voice
// stream died underneath a running session; nil after a clean Stop.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop leaves the voice channel, stops the receive loop and closes the
// frame channel. Safe to call more than once; subsequent calls return nil.
func (s *Source) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		disconnect := s.disconnectVC
		s.disconnectVC = nil
		if s.done != nil {
			close(s.done)
		}
		s.mu.Unlock()

		if disconnect != nil {
			err = disconnect()
		}
		s.wg.Wait()

		s.mu.Lock()
		s.closeFramesLocked()
		s.mu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the voice connection, decodes them with
// a per-SSRC decoder and forwards PCM frames in arrival order.
func (s *Source) recvLoop(vc *discordgo.VoiceConnection) {
	defer s.wg.Done()
	defer s.closeFrames()

	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				s.setErr(&capture.AcquisitionError{Backend: backendName, Err: errors.New("voice stream closed")})
				return
			}
			if pkt == nil {
				continue
			}
			if !s.wantSSRC(pkt.SSRC) {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}
			select {
			case s.frames <- frame:
			default:
				// Channel full; drop rather than block the receive loop.
			}
		}
	}
}

// handleSpeakingUpdate records the SSRC to user mapping Discord announces
// before a participant's audio arrives.
func (s *Source) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	s.ssrcMu.Lock()
	s.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	s.ssrcMu.Unlock()
}

func (s *Source) wantSSRC(ssrc uint32) bool {
	if s.userID == "" {
		return true
	}
	s.ssrcMu.RLock()
	defer s.ssrcMu.RUnlock()
	return s.ssrcUser[ssrc] == s.userID
}

// setErr records a stream failure unless the loop is exiting because Stop
// already closed done.
func (s *Source) setErr(err error) {
	select {
	case <-s.done:
		return
	default:
	}
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
