package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LibriSample is a sample of the LibriSpeech layout, where ids are encoded
// in file names rather than a metadata table:
//
//	<root>/<folder>/<speaker>/<chapter>/<speaker>-<chapter>-<utterance>.flac
//	<root>/<folder>/<speaker>/<chapter>/<speaker>-<chapter>.trans.txt
type LibriSample struct {
	Path       string
	SampleRate int
	Transcript string
	Speaker    int
	Chapter    int
	Utterance  int
}

// LibriSpeech file extensions.
const (
	LibriAudioExt = ".flac"
	LibriTransExt = ".trans.txt"
)

// LibriSpeechMetadata resolves fileid ("<speaker>-<chapter>-<utterance>")
// by scanning the chapter's transcript file line by line. sampleRate is
// reported as is; LibriSpeech itself is distributed at 16 kHz.
func LibriSpeechMetadata(root, folder, fileid string, sampleRate int) (LibriSample, error) {
	if sampleRate <= 0 {
		return LibriSample{}, fmt.Errorf("%w: sample rate %d", ErrInvalidArgument, sampleRate)
	}
	s, err := parseLibriID(root, folder, fileid, sampleRate)
	if err != nil {
		return LibriSample{}, err
	}

	f, err := os.Open(transcriptPath(root, folder, fileid))
	if err != nil {
		return LibriSample{}, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, text, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		if key == fileid {
			s.Transcript = text
			return s, nil
		}
	}
	if err := sc.Err(); err != nil {
		return LibriSample{}, fmt.Errorf("corpus: %w", err)
	}
	return LibriSample{}, fmt.Errorf("%w: transcript for %s", ErrNotFound, fileid)
}

// LoadTranscripts reads a whole .trans.txt file into a key to transcript map.
// Use it instead of LibriSpeechMetadata when resolving many utterances of a
// chapter.
func LoadTranscripts(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, text, _ := strings.Cut(line, " ")
		if _, dup := out[key]; !dup {
			out[key] = text
		}
	}
	return out, sc.Err()
}

func parseLibriID(root, folder, fileid string, sampleRate int) (LibriSample, error) {
	parts := strings.Split(fileid, "-")
	if len(parts) != 3 {
		return LibriSample{}, fmt.Errorf("%w: fileid %q, want speaker-chapter-utterance", ErrInvalidArgument, fileid)
	}
	var ids [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return LibriSample{}, fmt.Errorf("%w: fileid %q: component %q is not an integer", ErrInvalidArgument, fileid, p)
		}
		ids[i] = n
	}
	return LibriSample{
		Path:       filepath.Join(root, folder, parts[0], parts[1], fileid+LibriAudioExt),
		SampleRate: sampleRate,
		Speaker:    ids[0],
		Chapter:    ids[1],
		Utterance:  ids[2],
	}, nil
}

func transcriptPath(root, folder, fileid string) string {
	parts := strings.SplitN(fileid, "-", 3)
	return filepath.Join(root, folder, parts[0], parts[1], parts[0]+"-"+parts[1]+LibriTransExt)
}
