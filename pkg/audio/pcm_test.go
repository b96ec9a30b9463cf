package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voxseg/pkg/audio"
)

func TestPCM16ToFloat32(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 32767, -32768, 16384, -16384})
	got := audio.PCM16ToFloat32(pcm)
	want := []float32{0, 32767.0 / 32768.0, -1.0, 0.5, -0.5}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_OddTrailingByte(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0xFF} // one complete sample plus a stray byte
	got := audio.PCM16ToFloat32(pcm)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
}

func TestPCM16ToFloat32Mono_Stereo(t *testing.T) {
	// L=100,R=300 and L=-200,R=-400 → averages 200 and -300.
	pcm := samplesToBytes([]int16{100, 300, -200, -400})
	got := audio.PCM16ToFloat32Mono(pcm, 2)
	want := []float32{200.0 / 32768.0, -300.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32Mono_MonoPassThrough(t *testing.T) {
	pcm := samplesToBytes([]int16{1000, -1000})
	got := audio.PCM16ToFloat32Mono(pcm, 1)
	want := audio.PCM16ToFloat32(pcm)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestQuantizeSample(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1.0, 32767},
		{-1.0, -32768},
		{2.0, 32767},
		{-3.0, -32768},
		{0.25, 8191},
		{-0.25, -8192},
	}
	for _, tc := range cases {
		if got := audio.QuantizeSample(tc.in); got != tc.want {
			t.Errorf("QuantizeSample(%v): got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFloat32ToPCM16_RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 12345, -12345, 32767, -32768}
	pcm := samplesToBytes(in)
	back := audio.Float32ToPCM16(audio.PCM16ToFloat32(pcm))
	got := bytesToSamples(back)
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		diff := int(got[i]) - int(in[i])
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: got %d, want %d (±1)", i, got[i], in[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("empty input: got %v, want 0", got)
	}
	if got := audio.RMS([]float32{0, 0, 0}); got != 0 {
		t.Errorf("silence: got %v, want 0", got)
	}
	// Constant amplitude 0.5 has RMS 0.5.
	got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-6 {
		t.Errorf("constant amplitude: got %v, want 0.5", got)
	}
	// Full-scale sine has RMS 1/√2.
	sine := make([]float32, 1600)
	for i := range sine {
		sine[i] = float32(math.Sin(2 * math.Pi * float64(i) / 100))
	}
	got = audio.RMS(sine)
	if math.Abs(got-1/math.Sqrt2) > 0.01 {
		t.Errorf("sine: got %v, want %v", got, 1/math.Sqrt2)
	}
}
