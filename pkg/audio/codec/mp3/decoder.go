// Package mp3 decodes MPEG-1/2 Layer III audio to PCM.
//
// Decoding uses go-mp3, a pure Go decoder that always produces 16-bit
// little-endian stereo. Probing walks frame headers with tcolgate/mp3 and
// does not synthesize audio, so it is cheap enough to run over a whole corpus.
package mp3

import (
	"errors"
	"fmt"
	"io"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/tcolgate/mp3"
)

// Channels is the channel count of decoded output.
const Channels = 2

// ErrEmpty is returned when a stream contains no decodable frames.
var ErrEmpty = errors.New("mp3: no audio frames")

// DecodeFull decodes the entire MP3 stream and returns interleaved int16
// stereo PCM together with the stream's sample rate.
func DecodeFull(r io.Reader) (pcm []byte, sampleRate, channels int, err error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("mp3: open stream: %w", err)
	}
	if n := dec.Length(); n > 0 {
		pcm = make([]byte, 0, n)
	}

	tmp := make([]byte, 8192)
	for {
		n, err := dec.Read(tmp)
		if n > 0 {
			pcm = append(pcm, tmp[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("mp3: decode: %w", err)
		}
	}
	if len(pcm) == 0 {
		return nil, 0, 0, ErrEmpty
	}
	return pcm, dec.SampleRate(), Channels, nil
}

// Info summarizes an MP3 stream without decoding it.
type Info struct {
	Frames   int
	Skipped  int
	Duration time.Duration
}

// Probe walks the frame headers of r and sums their durations.
func Probe(r io.Reader) (Info, error) {
	d := mp3.NewDecoder(r)
	var (
		info    Info
		frame   mp3.Frame
		skipped int
	)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if err == io.EOF {
				break
			}
			return Info{}, fmt.Errorf("mp3: probe: %w", err)
		}
		info.Frames++
		info.Skipped += skipped
		info.Duration += frame.Duration()
	}
	if info.Frames == 0 {
		return Info{}, ErrEmpty
	}
	return info, nil
}
