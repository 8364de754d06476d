package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/haivivi/speechprep/pkg/audio/codec/mp3"
	"github.com/haivivi/speechprep/pkg/audio/codec/wav"
	"github.com/haivivi/speechprep/pkg/audio/pcm"
	"github.com/haivivi/speechprep/pkg/audio/resampler"
)

// ErrSampleRate is returned when a clip's rate differs from the loader's
// target and resampling is disabled.
var ErrSampleRate = errors.New("audio: sample rate mismatch")

// Loader decodes clips to a fixed sample rate.
type Loader struct {
	// SampleRate is the target rate in Hz.
	SampleRate int

	// Resample converts clips at other rates instead of failing.
	Resample bool
}

// Load decodes the clip at path.
func (l Loader) Load(path string) (pcm.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return pcm.Waveform{}, err
	}
	defer f.Close()

	w, err := l.Decode(f)
	if err != nil {
		return pcm.Waveform{}, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Decode decodes a WAV or MP3 stream and brings it to the target rate.
func (l Loader) Decode(r io.Reader) (pcm.Waveform, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(12)

	var (
		data           []byte
		rate, channels int
		err            error
	)
	if wav.IsWAV(head) {
		data, rate, channels, err = wav.DecodeFull(br)
	} else {
		data, rate, channels, err = mp3.DecodeFull(br)
	}
	if err != nil {
		return pcm.Waveform{}, err
	}

	w, err := pcm.FromInt16LE(data, channels, rate)
	if err != nil {
		return pcm.Waveform{}, err
	}
	if l.SampleRate <= 0 || w.SampleRate == l.SampleRate {
		return w, nil
	}
	if !l.Resample {
		return pcm.Waveform{}, fmt.Errorf("%w: clip is %d Hz, want %d Hz", ErrSampleRate, w.SampleRate, l.SampleRate)
	}
	return resampler.Resample(w, l.SampleRate)
}

// Probe returns a clip's duration. MP3 clips are measured from frame
// headers without synthesizing audio.
func Probe(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(12)
	if wav.IsWAV(head) {
		data, rate, channels, err := wav.DecodeFull(br)
		if err != nil {
			return 0, err
		}
		return time.Duration(len(data)/(2*channels)) * time.Second / time.Duration(rate), nil
	}
	info, err := mp3.Probe(br)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}
