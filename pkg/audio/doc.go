// Package audio loads speech clips from disk as normalized mono waveforms.
//
// The container is sniffed from the first bytes of the file rather than its
// extension, so WAV data stored under a .mp3 name still decodes. Decoded
// audio at a rate other than the loader's target is resampled when the
// loader allows it and rejected otherwise.
//
// Sub-packages:
//
//   - pcm: the Waveform type and int16 conversions
//   - codec/mp3, codec/wav: container decoders
//   - resampler: sample rate conversion
//   - fbank: log mel filterbank features
//
// Example usage:
//
//	l := audio.Loader{SampleRate: 16000, Resample: true}
//	w, err := l.Load("clips/common_voice_en_1.mp3")
package audio
