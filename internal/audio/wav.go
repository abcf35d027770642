package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// LoadWAV decodes a mono (or mono-downmixed) PCM WAV file into the
// float32 sample format Analyze and Compare expect, alongside its sample
// rate. Used to load reference target recordings for the sound-matching
// loop (spec §4.5/§4.6).
func LoadWAV(path string) (samples []float32, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decoding %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	max := float64(int(1) << (buf.SourceBitDepth - 1))
	if max == 0 {
		max = 32768
	}

	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		out[i] = float32((sum / float64(channels)) / max)
	}

	return out, buf.Format.SampleRate, nil
}
