package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// PCM16ToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// PCM16ToFloat32.
func PCM16ToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return PCM16ToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Float32ToPCM16 converts float32 samples in [-1.0, 1.0] to 16-bit signed
// little-endian PCM bytes. Samples outside the valid range are clamped.
// Negative samples scale by 32768 and non-negative samples by 32767 so that
// both extremes of the int16 range are reachable.
func Float32ToPCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(QuantizeSample(s)))
	}
	return pcm
}

// QuantizeSample clamps a float sample to [-1.0, 1.0] and scales it to the
// signed 16-bit range (negative values by 32768, non-negative by 32767).
func QuantizeSample(s float32) int16 {
	if s < -1.0 {
		s = -1.0
	} else if s > 1.0 {
		s = 1.0
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// RMS returns the root-mean-square energy of float32 samples, normalised to
// [0, 1] for inputs in [-1, 1]. Returns 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
