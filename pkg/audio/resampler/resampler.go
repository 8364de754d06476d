package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/speechprep/pkg/audio/pcm"
)

// Resampler converts mono waveforms from one fixed rate to another.
// A Resampler is stateful and not safe for concurrent use.
type Resampler struct {
	from, to int
	rs       resampling.Resampler
}

// New creates a Resampler from rate from to rate to.
func New(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", from, to)
	}
	r := &Resampler{from: from, to: to}
	if from == to {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// Process resamples w, which must be at the Resampler's input rate. The
// filter holds back a tail of output until Flush is called.
func (r *Resampler) Process(w pcm.Waveform) (pcm.Waveform, error) {
	if w.SampleRate != r.from {
		return pcm.Waveform{}, fmt.Errorf("resampler: input is %d Hz, want %d Hz", w.SampleRate, r.from)
	}
	if r.rs == nil {
		out := make([]float32, len(w.Samples))
		copy(out, w.Samples)
		return pcm.Waveform{Samples: out, SampleRate: r.to}, nil
	}
	out, err := r.rs.ProcessFloat32(w.Samples)
	if err != nil {
		return pcm.Waveform{}, fmt.Errorf("resample error: %w", err)
	}
	return pcm.Waveform{Samples: out, SampleRate: r.to}, nil
}

// Flush returns the samples still held in the filter. Call it once after
// the last Process.
func (r *Resampler) Flush() (pcm.Waveform, error) {
	if r.rs == nil {
		return pcm.Waveform{SampleRate: r.to}, nil
	}
	tail, err := r.rs.Flush()
	if err != nil {
		return pcm.Waveform{}, fmt.Errorf("resample flush: %w", err)
	}
	out := make([]float32, len(tail))
	for i, s := range tail {
		out[i] = float32(s)
	}
	return pcm.Waveform{Samples: out, SampleRate: r.to}, nil
}

// OutputLen is the length of n input samples at from Hz resampled to to Hz,
// ceil(n*to/from).
func OutputLen(n, from, to int) int {
	return int((int64(n)*int64(to) + int64(from) - 1) / int64(from))
}

// Resample converts a whole clip to rate. The result always has
// OutputLen(w.Len(), w.SampleRate, rate) samples: the flushed tail is
// appended and filter rounding is trimmed or zero-filled.
func Resample(w pcm.Waveform, rate int) (pcm.Waveform, error) {
	r, err := New(w.SampleRate, rate)
	if err != nil {
		return pcm.Waveform{}, err
	}
	out, err := r.Process(w)
	if err != nil {
		return pcm.Waveform{}, err
	}
	tail, err := r.Flush()
	if err != nil {
		return pcm.Waveform{}, err
	}
	samples := append(out.Samples, tail.Samples...)
	n := OutputLen(w.Len(), w.SampleRate, rate)
	if len(samples) >= n {
		samples = samples[:n]
	} else {
		samples = append(samples, make([]float32, n-len(samples))...)
	}
	return pcm.Waveform{Samples: samples, SampleRate: rate}, nil
}
