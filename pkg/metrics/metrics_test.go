package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile(t *testing.T) {
	m := New()
	m.Samples.WithLabelValues("train").Add(3)
	m.Samples.WithLabelValues("dev").Inc()
	m.Frames.Add(120)
	m.ClipSeconds.Observe(2.5)
	m.StageTime.WithLabelValues("features").Observe(0.2)

	path := filepath.Join(t.TempDir(), "speechprep.prom")
	if err := m.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`speechprep_samples_total{split="train"} 3`,
		`speechprep_samples_total{split="dev"} 1`,
		`speechprep_frames_total 120`,
		`speechprep_clip_seconds_count 1`,
		`speechprep_stage_seconds_count{stage="features"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Frames.Add(1)
	mfs, err := b.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "speechprep_frames_total" && mf.GetMetric()[0].GetCounter().GetValue() != 0 {
			t.Fatal("registries share state")
		}
	}
}
