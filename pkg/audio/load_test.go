package audio

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haivivi/speechprep/pkg/audio/codec/wav"
	"github.com/haivivi/speechprep/pkg/audio/pcm"
)

func writeTone(t *testing.T, path string, rate, channels int, seconds float64) {
	t.Helper()
	n := int(float64(rate) * seconds)
	w := pcm.Waveform{Samples: make([]float32, n), SampleRate: rate}
	for i := range w.Samples {
		w.Samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	mono := w.Int16LE()
	data := mono
	if channels == 2 {
		data = make([]byte, 0, len(mono)*2)
		for i := 0; i < len(mono); i += 2 {
			data = append(data, mono[i], mono[i+1], mono[i], mono[i+1])
		}
	}
	var buf bytes.Buffer
	if err := wav.Encode(&buf, data, rate, channels); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSniffsWAVUnderMP3Name(t *testing.T) {
	path := filepath.Join(t.TempDir(), "common_voice_en_1.mp3")
	writeTone(t, path, 16000, 2, 0.5)

	w, err := Loader{SampleRate: 16000}.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if w.SampleRate != 16000 || w.Len() != 8000 {
		t.Fatalf("got %d samples @ %d Hz, want 8000 @ 16000", w.Len(), w.SampleRate)
	}
}

func TestLoadRateMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeTone(t, path, 48000, 1, 0.25)

	_, err := Loader{SampleRate: 16000}.Load(path)
	if !errors.Is(err, ErrSampleRate) {
		t.Fatalf("got %v, want ErrSampleRate", err)
	}

	w, err := Loader{SampleRate: 16000, Resample: true}.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if w.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", w.SampleRate)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Loader{SampleRate: 16000}.Load(filepath.Join(t.TempDir(), "nope.mp3"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want os.ErrNotExist", err)
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeTone(t, path, 16000, 1, 1.5)

	d, err := Probe(path)
	if err != nil {
		t.Fatal(err)
	}
	if d != 1500*time.Millisecond {
		t.Fatalf("Probe = %v, want 1.5s", d)
	}
}

const mp3Fixture = "codec/mp3/testdata/silence_48k_mono.mp3"

func TestLoadMP3Resamples(t *testing.T) {
	w, err := Loader{SampleRate: 16000, Resample: true}.Load(mp3Fixture)
	if err != nil {
		t.Fatal(err)
	}
	if w.SampleRate != 16000 || w.Len() != 19200 {
		t.Fatalf("waveform = %d samples @ %d Hz, want 19200 @ 16000", w.Len(), w.SampleRate)
	}
	for i, v := range w.Samples {
		if v > 1e-3 || v < -1e-3 {
			t.Fatalf("sample %d = %v, want silence", i, v)
		}
	}
}

func TestLoadMP3RateMismatch(t *testing.T) {
	_, err := Loader{SampleRate: 16000}.Load(mp3Fixture)
	if !errors.Is(err, ErrSampleRate) {
		t.Fatalf("err = %v, want ErrSampleRate", err)
	}
}

func TestProbeMP3(t *testing.T) {
	d, err := Probe(mp3Fixture)
	if err != nil {
		t.Fatal(err)
	}
	if diff := d - 1200*time.Millisecond; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("duration = %v, want 1.2s", d)
	}
}
