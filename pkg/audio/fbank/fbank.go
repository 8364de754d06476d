// Package fbank computes log mel filterbank features from PCM audio.
//
// The computation follows the Kaldi "fbank" recipe used by speech-to-text
// training toolkits: per-frame DC removal, pre-emphasis, a tapered window,
// a zero-padded power spectrum and triangular filters laid out on the mel
// scale. The output is a [T][NumMels] float32 matrix.
//
// Default parameters at 16 kHz:
//
//	WindowSize:  400 (25 ms)
//	HopSize:     160 (10 ms)
//	FFTSize:     512
//	NumMels:     80
//	LowFreq:     20
//	HighFreq:    0 (Nyquist)
//	PreEmphasis: 0.97
//	Window:      povey
//	Scale:       32768 (int16 range, as Kaldi expects)
package fbank

import (
	"fmt"
	"math"
)

// logFloor is float32 machine epsilon, the energy floor Kaldi applies
// before taking the log.
const logFloor = 1.1920928955078125e-07

// Config controls mel filterbank extraction parameters.
type Config struct {
	SampleRate  int        // audio sample rate in Hz
	WindowSize  int        // window length in samples
	HopSize     int        // hop length in samples
	FFTSize     int        // FFT size, a power of two >= WindowSize
	NumMels     int        // number of mel bins
	LowFreq     float64    // lowest filter edge in Hz
	HighFreq    float64    // highest filter edge in Hz; <= 0 is an offset from Nyquist
	PreEmphasis float64    // pre-emphasis coefficient
	Window      WindowType // analysis window
	RemoveDC    bool       // subtract the per-frame mean before pre-emphasis
	Scale       float32    // input gain applied before analysis
}

// DefaultConfig returns the 80-bin configuration at 16 kHz.
func DefaultConfig() Config {
	return ForSampleRate(16000)
}

// ForSampleRate returns the 80-bin, 25 ms / 10 ms configuration for the
// given sample rate.
func ForSampleRate(rate int) Config {
	win := rate * 25 / 1000
	return Config{
		SampleRate:  rate,
		WindowSize:  win,
		HopSize:     rate / 100,
		FFTSize:     nextPow2(win),
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    0,
		PreEmphasis: 0.97,
		Window:      WindowPovey,
		RemoveDC:    true,
		Scale:       32768,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("fbank: sample rate must be positive, got %d", c.SampleRate)
	case c.WindowSize <= 0 || c.HopSize <= 0:
		return fmt.Errorf("fbank: window %d / hop %d must be positive", c.WindowSize, c.HopSize)
	case c.FFTSize < c.WindowSize || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("fbank: fft size %d must be a power of two >= window %d", c.FFTSize, c.WindowSize)
	case c.NumMels <= 0:
		return fmt.Errorf("fbank: num mels must be positive, got %d", c.NumMels)
	}
	if high := c.highFreq(); c.LowFreq < 0 || high <= c.LowFreq || high > float64(c.SampleRate)/2 {
		return fmt.Errorf("fbank: invalid band %.0f-%.0f Hz at %d Hz", c.LowFreq, high, c.SampleRate)
	}
	return nil
}

func (c Config) highFreq() float64 {
	if c.HighFreq <= 0 {
		return float64(c.SampleRate)/2 + c.HighFreq
	}
	return c.HighFreq
}

// Features is a [T][NumMels] log mel matrix.
type Features [][]float32

// NumFrames returns T.
func (f Features) NumFrames() int {
	return len(f)
}

// Flatten converts [T][numMels] to a row-major [T*numMels] slice.
func (f Features) Flatten() []float32 {
	if len(f) == 0 {
		return nil
	}
	cols := len(f[0])
	flat := make([]float32, len(f)*cols)
	for t, row := range f {
		copy(flat[t*cols:], row)
	}
	return flat
}

// Extractor computes mel filterbank features from PCM samples.
// An Extractor is read-only after New and safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank []melFilter
	plan    *fftPlan
}

// New creates a new fbank Extractor with the given config.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:     cfg,
		window:  cfg.Window.coefficients(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.highFreq()),
		plan:    newFFTPlan(cfg.FFTSize),
	}, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract computes log mel filterbank features from samples normalized to
// [-1, 1]. T = (len(pcm) - WindowSize) / HopSize + 1; input shorter than one
// window yields zero frames.
func (e *Extractor) Extract(pcm []float32) Features {
	cfg := e.cfg
	n := len(pcm)
	if n < cfg.WindowSize {
		return Features{}
	}

	numFrames := (n-cfg.WindowSize)/cfg.HopSize + 1
	features := make(Features, numFrames)

	re := make([]float64, cfg.FFTSize)
	im := make([]float64, cfg.FFTSize)
	power := make([]float64, cfg.FFTSize/2+1)
	scale := float64(cfg.Scale)
	if scale == 0 {
		scale = 1
	}

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		frame := re[:cfg.WindowSize]
		for i := range frame {
			frame[i] = float64(pcm[start+i]) * scale
		}

		if cfg.RemoveDC {
			mean := 0.0
			for _, s := range frame {
				mean += s
			}
			mean /= float64(len(frame))
			for i := range frame {
				frame[i] -= mean
			}
		}
		if p := cfg.PreEmphasis; p != 0 {
			for i := len(frame) - 1; i > 0; i-- {
				frame[i] -= p * frame[i-1]
			}
			frame[0] -= p * frame[0]
		}
		for i := range frame {
			frame[i] *= e.window[i]
		}
		for i := cfg.WindowSize; i < cfg.FFTSize; i++ {
			re[i] = 0
		}
		for i := range im {
			im[i] = 0
		}

		e.plan.transform(re, im)
		for k := range power {
			power[k] = re[k]*re[k] + im[k]*im[k]
		}

		mel := make([]float32, cfg.NumMels)
		for m, f := range e.melBank {
			mel[m] = float32(math.Log(math.Max(f.apply(power), logFloor)))
		}
		features[t] = mel
	}
	return features
}

// CMVN applies per-utterance mean and variance normalization in place.
func CMVN(features Features) {
	if len(features) == 0 {
		return
	}
	numMels := len(features[0])
	T := float64(len(features))

	for m := 0; m < numMels; m++ {
		sum := 0.0
		for _, f := range features {
			sum += float64(f[m])
		}
		mean := sum / T

		varSum := 0.0
		for _, f := range features {
			d := float64(f[m]) - mean
			varSum += d * d
		}
		std := math.Max(math.Sqrt(varSum/T), 1e-10)

		for _, f := range features {
			f[m] = float32((float64(f[m]) - mean) / std)
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
