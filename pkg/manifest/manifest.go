// Package manifest writes per-split training manifests: tab separated tables
// with one row per utterance mapping an id to its packed features, frame
// count and target text.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Row is one manifest line.
type Row struct {
	ID      string
	Audio   string // <archive>:<offset>:<length>
	Frames  int
	Text    string
	Speaker string
}

// Columns returns the header for a manifest with or without speakers.
func Columns(speaker bool) []string {
	cols := []string{"id", "audio", "n_frames", "tgt_text"}
	if speaker {
		cols = append(cols, "speaker")
	}
	return cols
}

// Writer emits rows in the order they are added.
type Writer struct {
	w       *bufio.Writer
	speaker bool
	rows    int
}

// NewWriter writes the header row to w and returns a Writer. The speaker
// column is included only when speaker is true.
func NewWriter(w io.Writer, speaker bool) (*Writer, error) {
	mw := &Writer{w: bufio.NewWriter(w), speaker: speaker}
	if err := mw.line(Columns(speaker)); err != nil {
		return nil, err
	}
	return mw, nil
}

// Write appends one row.
func (m *Writer) Write(r Row) error {
	fields := []string{r.ID, r.Audio, strconv.Itoa(r.Frames), r.Text}
	if m.speaker {
		fields = append(fields, r.Speaker)
	}
	if err := m.line(fields); err != nil {
		return err
	}
	m.rows++
	return nil
}

// Rows returns the number of rows written so far, excluding the header.
func (m *Writer) Rows() int {
	return m.rows
}

// Flush writes any buffered data.
func (m *Writer) Flush() error {
	return m.w.Flush()
}

func (m *Writer) line(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			m.w.WriteByte('\t')
		}
		m.w.WriteString(escaper.Replace(f))
	}
	return m.w.WriteByte('\n')
}

// escaper prefixes the delimiter, line breaks, quotes and the escape
// character itself with a backslash, the convention of csv readers running
// with quoting disabled and "\\" as escape character.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", "\\\t",
	"\n", "\\\n",
	"\r", "\\\r",
	`"`, `\"`,
)

// WriteFile writes rows to path, replacing any existing file.
func WriteFile(path string, rows []Row, speaker bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	w, err := NewWriter(f, speaker)
	if err != nil {
		f.Close()
		return fmt.Errorf("manifest: %s: %w", path, err)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			f.Close()
			return fmt.Errorf("manifest: %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: %s: %w", path, err)
	}
	return f.Close()
}
