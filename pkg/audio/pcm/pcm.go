package pcm

import (
	"fmt"
	"time"
)

// Waveform is mono audio normalized to [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples.
func (w Waveform) Len() int {
	return len(w.Samples)
}

// Duration returns the playback duration of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// FromInt16LE converts interleaved little-endian int16 PCM to a mono
// Waveform. Trailing bytes that do not form a complete frame are dropped.
func FromInt16LE(data []byte, channels, sampleRate int) (Waveform, error) {
	if channels <= 0 {
		return Waveform{}, fmt.Errorf("pcm: invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return Waveform{}, fmt.Errorf("pcm: invalid sample rate %d", sampleRate)
	}
	frameBytes := 2 * channels
	n := len(data) / frameBytes
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		off := i * frameBytes
		sum := int32(0)
		for c := 0; c < channels; c++ {
			j := off + c*2
			sum += int32(int16(data[j]) | int16(data[j+1])<<8)
		}
		samples[i] = float32(sum) / float32(channels) / 32768.0
	}
	return Waveform{Samples: samples, SampleRate: sampleRate}, nil
}

// Int16LE encodes the waveform as mono little-endian int16 PCM, clipping
// samples outside [-1, 1].
func (w Waveform) Int16LE() []byte {
	out := make([]byte, len(w.Samples)*2)
	for i, s := range w.Samples {
		v := clip(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func clip(s float32) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	}
	return int16(s * 32767)
}
