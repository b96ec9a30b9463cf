// Package wav implements the RIFF/WAVE container used for emitted clips.
//
// The format is deliberately minimal: a fixed 44-byte header (RIFF chunk
// descriptor, "fmt " sub-chunk with PCM format tag 1, "data" sub-chunk)
// followed by 16-bit signed little-endian samples. Encode is pure and
// byte-reproducible for identical input; it is the binary contract that
// downstream consumers of clips decode, and the only one.
//
// Float samples are clamped to [-1, 1] and scaled asymmetrically: negative
// values by 32768 and non-negative values by 32767, so both extremes of the
// int16 range are reachable without overflow.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxseg/pkg/audio"
)

const (
	// HeaderSize is the fixed byte length of the RIFF/WAVE header this
	// package reads and writes.
	HeaderSize = 44

	// BitsPerSample is fixed at 16; clips are always PCM16.
	BitsPerSample = 16

	// pcmFormatTag is the "fmt " chunk audio format code for uncompressed PCM.
	pcmFormatTag = 1
)

var (
	// ErrInvalidHeader is returned by Decode when the input is shorter than a
	// header or the RIFF/WAVE/fmt/data magics are missing.
	ErrInvalidHeader = errors.New("wav: invalid RIFF/WAVE header")

	// ErrUnsupported is returned by Decode for well-formed files that are not
	// 16-bit PCM.
	ErrUnsupported = errors.New("wav: unsupported encoding")

	// ErrTruncated is returned by Decode when the data chunk declares more
	// bytes than the input contains.
	ErrTruncated = errors.New("wav: data chunk truncated")
)

// Info describes the format of a decoded WAV file.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// DataBytes is the declared size of the data chunk in bytes.
	DataBytes int
}

// Samples returns the number of per-channel sample frames in the data chunk.
func (i Info) Samples() int {
	if i.Channels <= 0 || i.BitsPerSample <= 0 {
		return 0
	}
	return i.DataBytes / (i.BitsPerSample / 8) / i.Channels
}

// Duration returns the playback duration of the data chunk.
func (i Info) Duration() time.Duration {
	if i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(i.Samples()) * time.Second / time.Duration(i.SampleRate)
}

// Encode serialises float32 samples in [-1.0, 1.0] as a complete WAV file.
// Samples are interleaved when channels > 1. Empty input is valid and yields
// a header-only file. Returns an error for a non-positive sample rate or
// channel count; those are the only failure modes.
func Encode(samples []float32, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("wav: channel count must be positive, got %d", channels)
	}

	dataSize := len(samples) * 2
	buf := make([]byte, HeaderSize+dataSize)
	writeHeader(buf, dataSize, sampleRate, channels)

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[HeaderSize+i*2:], uint16(audio.QuantizeSample(s)))
	}
	return buf, nil
}

// EncodePCM16 wraps raw 16-bit signed little-endian PCM data in a WAV
// container without requantisation. Used when the samples are already int16,
// e.g. when re-packaging capture-side audio for inspection tools.
func EncodePCM16(pcm []byte, sampleRate, channels int) []byte {
	dataSize := len(pcm)
	buf := make([]byte, HeaderSize+dataSize)
	writeHeader(buf, dataSize, sampleRate, channels)
	copy(buf[HeaderSize:], pcm)
	return buf
}

// writeHeader fills the fixed 44-byte RIFF/WAVE header into buf, which must
// be at least HeaderSize long.
func writeHeader(buf []byte, dataSize, sampleRate, channels int) {
	byteRate := sampleRate * channels * BitsPerSample / 8
	blockAlign := channels * BitsPerSample / 8

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

// Decode parses a WAV file produced by Encode (or any minimal 44-byte-header
// PCM16 WAV) and returns its format info plus the raw data chunk. The
// returned slice aliases b; copy it if the caller retains it.
func Decode(b []byte) (Info, []byte, error) {
	if len(b) < HeaderSize {
		return Info{}, nil, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Info{}, nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidHeader)
	}
	if string(b[12:16]) != "fmt " {
		return Info{}, nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidHeader)
	}
	if string(b[36:40]) != "data" {
		return Info{}, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidHeader)
	}

	if tag := binary.LittleEndian.Uint16(b[20:22]); tag != pcmFormatTag {
		return Info{}, nil, fmt.Errorf("%w: format tag %d, want PCM (%d)", ErrUnsupported, tag, pcmFormatTag)
	}
	bits := int(binary.LittleEndian.Uint16(b[34:36]))
	if bits != BitsPerSample {
		return Info{}, nil, fmt.Errorf("%w: %d bits per sample, want %d", ErrUnsupported, bits, BitsPerSample)
	}

	info := Info{
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		BitsPerSample: bits,
		DataBytes:     int(binary.LittleEndian.Uint32(b[40:44])),
	}
	if info.DataBytes > len(b)-HeaderSize {
		return Info{}, nil, fmt.Errorf("%w: header declares %d data bytes, %d available",
			ErrTruncated, info.DataBytes, len(b)-HeaderSize)
	}
	return info, b[HeaderSize : HeaderSize+info.DataBytes], nil
}

// DecodeSamples parses a WAV file and converts its PCM16 payload back to
// float32 samples normalised to [-1.0, 1.0].
func DecodeSamples(b []byte) (Info, []float32, error) {
	info, pcm, err := Decode(b)
	if err != nil {
		return Info{}, nil, err
	}
	return info, audio.PCM16ToFloat32(pcm), nil
}
