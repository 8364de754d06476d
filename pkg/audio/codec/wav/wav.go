// Package wav reads and writes 16-bit PCM RIFF/WAVE files.
//
// Decoding walks the RIFF chunk list, so files carrying LIST or fact chunks
// between "fmt " and "data" are accepted. Only integer PCM with 16 bits per
// sample is supported.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFormat is returned when the input is not a supported WAV stream.
var ErrFormat = errors.New("wav: unsupported format")

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// IsWAV reports whether header starts with a RIFF/WAVE signature.
func IsWAV(header []byte) bool {
	return len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WAVE"
}

// DecodeFull reads a whole WAV stream and returns its interleaved int16
// little-endian samples.
func DecodeFull(r io.Reader) (pcm []byte, sampleRate, channels int, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, 0, fmt.Errorf("wav: read header: %w", err)
	}
	if !IsWAV(riff[:]) {
		return nil, 0, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrFormat)
	}

	var format *fmtChunk
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, 0, fmt.Errorf("%w: no data chunk", ErrFormat)
			}
			return nil, 0, 0, fmt.Errorf("wav: read chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, 0, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			var fc fmtChunk
			if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &fc); err != nil {
				return nil, 0, 0, fmt.Errorf("wav: parse fmt chunk: %w", err)
			}
			if fc.AudioFormat != 1 || fc.BitsPerSample != 16 {
				return nil, 0, 0, fmt.Errorf("%w: format %d, %d bits", ErrFormat, fc.AudioFormat, fc.BitsPerSample)
			}
			if fc.NumChannels == 0 {
				return nil, 0, 0, fmt.Errorf("%w: zero channels", ErrFormat)
			}
			format = &fc
		case "data":
			if format == nil {
				return nil, 0, 0, fmt.Errorf("%w: data before fmt chunk", ErrFormat)
			}
			data, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return nil, 0, 0, fmt.Errorf("wav: read data: %w", err)
			}
			return data, int(format.SampleRate), int(format.NumChannels), nil
		default:
			// Chunks are word aligned.
			skip := size + size&1
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, 0, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
		if size&1 == 1 && id == "fmt " {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return nil, 0, 0, fmt.Errorf("wav: skip pad: %w", err)
			}
		}
	}
}

// Encode writes interleaved int16 little-endian samples as a canonical
// 44-byte-header WAV file.
func Encode(w io.Writer, pcm []byte, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("wav: invalid format %d Hz, %d channels", sampleRate, channels)
	}
	dataSize := uint32(len(pcm))
	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, 36+dataSize)
	hdr.WriteString("WAVEfmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, fmtChunk{
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 2),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
	})
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, dataSize)
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}
