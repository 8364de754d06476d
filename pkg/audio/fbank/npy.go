package fbank

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
)

// npyMagic starts every NumPy .npy file.
const npyMagic = "\x93NUMPY"

// ErrNPY is returned for .npy streams this package cannot read.
var ErrNPY = errors.New("fbank: unsupported npy stream")

var npyShape = regexp.MustCompile(`'shape':\s*\((\d+),\s*(\d+)\)`)

// WriteNPY writes features as a version 1.0 .npy file holding a
// little-endian float32 array of shape (T, cols). An empty matrix is written
// with shape (0, cols).
func WriteNPY(w io.Writer, f Features, cols int) error {
	if len(f) > 0 {
		cols = len(f[0])
	}
	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(f), cols)
	// magic(6) + version(2) + header_len(2) + dict + '\n' is padded to 64.
	total := 10 + len(dict) + 1
	pad := (64 - total%64) % 64
	header := dict + string(bytes.Repeat([]byte{' '}, pad)) + "\n"

	bw := bufio.NewWriter(w)
	bw.WriteString(npyMagic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)

	var buf [4]byte
	for _, row := range f {
		if len(row) != cols {
			return fmt.Errorf("fbank: ragged feature row of %d, want %d", len(row), cols)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			bw.Write(buf[:])
		}
	}
	return bw.Flush()
}

// ReadNPYShape reads the header of a 2-D .npy stream and returns its shape.
func ReadNPYShape(r io.Reader) (rows, cols int, err error) {
	var pre [10]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return 0, 0, fmt.Errorf("fbank: read npy preamble: %w", err)
	}
	if string(pre[:6]) != npyMagic {
		return 0, 0, fmt.Errorf("%w: bad magic", ErrNPY)
	}
	var hlen int
	switch pre[6] {
	case 1:
		hlen = int(binary.LittleEndian.Uint16(pre[8:10]))
	case 2, 3:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return 0, 0, fmt.Errorf("fbank: read npy header length: %w", err)
		}
		hlen = int(binary.LittleEndian.Uint32(append(pre[8:10:10], ext[:]...)))
	default:
		return 0, 0, fmt.Errorf("%w: version %d.%d", ErrNPY, pre[6], pre[7])
	}
	header := make([]byte, hlen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, 0, fmt.Errorf("fbank: read npy header: %w", err)
	}
	m := npyShape.FindSubmatch(header)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: no 2-D shape in %q", ErrNPY, header)
	}
	rows, _ = strconv.Atoi(string(m[1]))
	cols, _ = strconv.Atoi(string(m[2]))
	return rows, cols, nil
}

// ReadNPY reads a 2-D little-endian float32 .npy stream written by WriteNPY.
func ReadNPY(r io.Reader) (Features, error) {
	br := bufio.NewReader(r)
	rows, cols, err := ReadNPYShape(br)
	if err != nil {
		return nil, err
	}
	f := make(Features, rows)
	var buf [4]byte
	for t := range f {
		row := make([]float32, cols)
		for c := range row {
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, fmt.Errorf("fbank: read npy data: %w", err)
			}
			row[c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
		}
		f[t] = row
	}
	return f, nil
}
