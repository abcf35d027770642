package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sineWave(freqHz float64, durationS float64, sampleRate int) []float32 {
	n := int(durationS * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(math.Sin(2 * math.Pi * freqHz * t))
	}
	return out
}

func TestAnalyze_SineWaveFundamental(t *testing.T) {
	samples := sineWave(440, 1.0, 44100)
	report := Analyze(samples, 44100)

	assert.GreaterOrEqual(t, report.FundamentalHz, 430.0)
	assert.LessOrEqual(t, report.FundamentalHz, 450.0)
	assert.InDelta(t, 1.0, report.DurationS, 0.01)
	assert.Len(t, report.Envelope, 20)
}

func TestAnalyze_EmptySamples(t *testing.T) {
	report := Analyze(nil, 44100)
	assert.Equal(t, 0.0, report.FundamentalHz)
	assert.Equal(t, 0.0, report.SpectralCentroidHz)
}

func TestCompare_IdenticalSignalsConverge(t *testing.T) {
	samples := sineWave(440, 1.0, 44100)
	cmp := Compare(samples, samples, 44100)
	assert.Less(t, cmp.Distance, 0.01)
}

func TestCompare_UnrelatedSignalsDiverge(t *testing.T) {
	a := sineWave(440, 1.0, 44100)
	b := sineWave(880, 1.0, 44100)
	cmp := Compare(a, b, 44100)
	assert.Greater(t, cmp.Distance, 0.1)
}
