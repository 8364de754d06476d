// Package pcm provides the in-memory representation of decoded audio.
//
// Decoders produce interleaved 16-bit little-endian PCM. This package turns
// that into a [Waveform]: mono float32 samples normalized to [-1, 1] together
// with their sample rate. Multi-channel input is downmixed by averaging.
//
// Example usage:
//
//	data, rate, channels, err := mp3.DecodeFull(f)
//	if err != nil {
//	    return err
//	}
//	w, err := pcm.FromInt16LE(data, channels, rate)
//	fmt.Println(w.Duration())
package pcm
