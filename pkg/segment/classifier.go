package segment

import "github.com/MrWong99/voxseg/pkg/audio"

// EnergyClassifier turns one frame of audio into a silent/not-silent verdict
// by comparing its normalised energy against a fixed threshold. It is a pure
// value: identical input always yields the identical verdict, and there is
// no adaptation or learning.
//
// Two inputs are supported. Capture backends that expose byte-valued
// magnitude spectra are classified with [EnergyClassifier.SilentSpectrum];
// everything else falls back to RMS energy over PCM samples via
// [EnergyClassifier.SilentPCM]. Both energies are normalised to [0, 1] so a
// single threshold serves either path.
type EnergyClassifier struct {
	// Threshold is the energy in (0, 1) below which a frame is silent.
	Threshold float64

	// SkipBins is how many of the lowest-frequency spectrum bins to ignore.
	SkipBins int
}

// SpectrumEnergy returns the normalised energy of a magnitude spectrum: the
// average of the bins above SkipBins, divided by 255. A spectrum with no
// usable bins has zero energy.
func (c EnergyClassifier) SpectrumEnergy(bins []byte) float64 {
	if len(bins) <= c.SkipBins {
		return 0
	}
	var sum int
	for _, v := range bins[c.SkipBins:] {
		sum += int(v)
	}
	avg := float64(sum) / float64(len(bins)-c.SkipBins)
	return avg / 255.0
}

// SilentSpectrum reports whether a magnitude spectrum is below the
// threshold. Energy exactly at the threshold counts as speech.
func (c EnergyClassifier) SilentSpectrum(bins []byte) bool {
	return c.SpectrumEnergy(bins) < c.Threshold
}

// SilentPCM reports whether the RMS energy of float PCM samples in [-1, 1]
// is below the threshold. Empty input is silent.
func (c EnergyClassifier) SilentPCM(samples []float32) bool {
	return audio.RMS(samples) < c.Threshold
}
