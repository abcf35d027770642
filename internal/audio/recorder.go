package audio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// defaultSampleRate matches the rate record_audio captures at absent any
// device-specific override (spec §4.6).
const defaultSampleRate = 44100

// PortaudioRecorder captures mono audio from the system's default input
// device via github.com/gordonklaus/portaudio. It satisfies the ai.Recorder
// interface structurally — internal/ai uses this package for Analyze and
// Compare but takes its recorder through that interface, keeping the tool
// executor testable without a real audio device.
type PortaudioRecorder struct {
	SampleRate int
}

// NewPortaudioRecorder initializes the PortAudio library. Callers must call
// Close when done to release it.
func NewPortaudioRecorder() (*PortaudioRecorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initializing portaudio: %w", err)
	}
	return &PortaudioRecorder{SampleRate: defaultSampleRate}, nil
}

// Close releases the PortAudio library.
func (r *PortaudioRecorder) Close() error {
	return portaudio.Terminate()
}

// Record captures seconds of mono audio from the default input device.
func (r *PortaudioRecorder) Record(ctx context.Context, seconds float64) ([]float32, int, error) {
	rate := r.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	n := int(float64(rate) * seconds)
	buf := make([]float32, n)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: opening input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, 0, fmt.Errorf("audio: starting input stream: %w", err)
	}
	defer stream.Stop()

	done := make(chan error, 1)
	go func() { done <- stream.Read() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, 0, fmt.Errorf("audio: reading input stream: %w", err)
		}
		return buf, rate, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}
