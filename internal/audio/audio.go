// Package audio extracts scalar spectral features from mono float32 sample
// sequences and compares two such sequences to produce the distance signal
// the sound-matching loop converges on (spec §4.5).
package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	minFundamentalHz = 20.0
	envelopeWindowMs = 50
	envelopeMaxWins  = 20
)

// Report is the set of spectral features extracted from one signal.
type Report struct {
	FundamentalHz      float64
	SpectralCentroidHz float64
	HarmonicRatio      float64
	Envelope           []float64
	DurationS          float64
}

// CompareReport is the result of comparing a target and a recorded signal.
type CompareReport struct {
	Target    Report
	Recorded  Report
	Distance  float64
}

// Analyze computes fundamental frequency, spectral centroid, harmonic
// ratio, and a truncated RMS envelope for a mono signal sampled at
// sampleRate Hz.
func Analyze(samples []float32, sampleRate int) Report {
	n := len(samples)
	report := Report{DurationS: float64(n) / float64(sampleRate)}
	if n == 0 {
		return report
	}

	fft := fourier.NewFFT(n)
	input := make([]float64, n)
	for i, s := range samples {
		input[i] = float64(s)
	}
	coeffs := fft.Coefficients(nil, input)

	// Coefficients holds n/2+1 complex bins for a real-input FFT of length n.
	mags := make([]float64, len(coeffs))
	freqs := make([]float64, len(coeffs))
	binHz := float64(sampleRate) / float64(n)
	for i, c := range coeffs {
		mags[i] = math.Hypot(real(c), imag(c))
		freqs[i] = float64(i) * binHz
	}

	report.FundamentalHz = fundamental(mags, freqs)
	report.SpectralCentroidHz = spectralCentroid(mags, freqs)
	report.HarmonicRatio = harmonicRatio(mags, freqs, report.FundamentalHz)
	report.Envelope = envelope(samples, sampleRate)

	return report
}

// fundamental returns the frequency of the strongest bin at or above 20 Hz.
func fundamental(mags, freqs []float64) float64 {
	bestIdx := -1
	bestMag := -1.0
	for i, f := range freqs {
		if f < minFundamentalHz {
			continue
		}
		if mags[i] > bestMag {
			bestMag = mags[i]
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return 0
	}
	return freqs[bestIdx]
}

func spectralCentroid(mags, freqs []float64) float64 {
	var num, den float64
	for i := range mags {
		num += freqs[i] * mags[i]
		den += mags[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// harmonicRatio sums magnitude at harmonic bins 2*f0..8*f0 (nearest bin)
// divided by the total magnitude above 20 Hz.
func harmonicRatio(mags, freqs []float64, f0 float64) float64 {
	if f0 <= 0 {
		return 0
	}
	binHz := freqs[1] - freqs[0]
	if len(freqs) < 2 || binHz <= 0 {
		return 0
	}

	var total float64
	for i, f := range freqs {
		if f >= minFundamentalHz {
			total += mags[i]
		}
	}
	if total == 0 {
		return 0
	}

	var harmonic float64
	for h := 2; h <= 8; h++ {
		target := float64(h) * f0
		idx := int(math.Round(target / binHz))
		if idx >= 0 && idx < len(mags) {
			harmonic += mags[idx]
		}
	}

	ratio := harmonic / total
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// envelope computes RMS over non-overlapping 50ms windows, truncated to the
// first 20 windows (1 second).
func envelope(samples []float32, sampleRate int) []float64 {
	windowSize := sampleRate * envelopeWindowMs / 1000
	if windowSize <= 0 {
		return nil
	}
	var out []float64
	for start := 0; start+windowSize <= len(samples) && len(out) < envelopeMaxWins; start += windowSize {
		var sumSq float64
		for _, s := range samples[start : start+windowSize] {
			sumSq += float64(s) * float64(s)
		}
		out = append(out, math.Sqrt(sumSq/float64(windowSize)))
	}
	return out
}

// Compare analyzes target and recorded and computes the convergence
// distance used by the sound-matching loop:
//
//	(|Δf0|/max(f0_target,1) + |Δcentroid|/max(c_target,1) + |Δharmonic_ratio|) / 3
func Compare(target, recorded []float32, sampleRate int) CompareReport {
	t := Analyze(target, sampleRate)
	r := Analyze(recorded, sampleRate)

	df0 := math.Abs(t.FundamentalHz-r.FundamentalHz) / math.Max(t.FundamentalHz, 1)
	dCentroid := math.Abs(t.SpectralCentroidHz-r.SpectralCentroidHz) / math.Max(t.SpectralCentroidHz, 1)
	dHarmonic := math.Abs(t.HarmonicRatio - r.HarmonicRatio)

	return CompareReport{
		Target:   t,
		Recorded: r,
		Distance: (df0 + dCentroid + dHarmonic) / 3,
	}
}
