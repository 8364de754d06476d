package pcm

import (
	"math"
	"testing"
	"time"
)

func TestFromInt16LEMono(t *testing.T) {
	data := []byte{0x00, 0x40, 0x00, 0xc0, 0xff, 0x7f}
	w, err := FromInt16LE(data, 1, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if w.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", w.Len())
	}
	want := []float32{0.5, -0.5, 32767.0 / 32768.0}
	for i, v := range want {
		if math.Abs(float64(w.Samples[i]-v)) > 1e-6 {
			t.Errorf("Samples[%d] = %f, want %f", i, w.Samples[i], v)
		}
	}
}

func TestFromInt16LEDownmix(t *testing.T) {
	// L = 0x4000 (0.5), R = 0 -> 0.25
	data := []byte{0x00, 0x40, 0x00, 0x00, 0x00, 0x40, 0x00, 0x40, 0x01}
	w, err := FromInt16LE(data, 2, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if w.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (partial frame dropped)", w.Len())
	}
	if w.Samples[0] != 0.25 {
		t.Errorf("Samples[0] = %f, want 0.25", w.Samples[0])
	}
	if w.Samples[1] != 0.5 {
		t.Errorf("Samples[1] = %f, want 0.5", w.Samples[1])
	}
}

func TestFromInt16LEInvalid(t *testing.T) {
	if _, err := FromInt16LE(nil, 0, 16000); err == nil {
		t.Error("expected error for zero channels")
	}
	if _, err := FromInt16LE(nil, 1, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDuration(t *testing.T) {
	w := Waveform{Samples: make([]float32, 8000), SampleRate: 16000}
	if got := w.Duration(); got != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", got)
	}
	if got := (Waveform{}).Duration(); got != 0 {
		t.Fatalf("zero waveform Duration() = %v, want 0", got)
	}
}

func TestInt16LERoundTrip(t *testing.T) {
	w := Waveform{Samples: []float32{0, 0.5, -0.5, 2, -2}, SampleRate: 16000}
	data := w.Int16LE()
	back, err := FromInt16LE(data, 1, 16000)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 0.5, -0.5, 1, -1}
	for i, v := range want {
		if math.Abs(float64(back.Samples[i]-v)) > 1e-3 {
			t.Errorf("Samples[%d] = %f, want ~%f", i, back.Samples[i], v)
		}
	}
}
