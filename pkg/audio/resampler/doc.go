// Package resampler converts mono waveforms between sample rates.
//
// It wraps go-audio-resampling, a pure Go polyphase resampler, so no CGO or
// system libraries are required. Conversion runs at the library's high
// quality preset.
//
// Example usage:
//
//	w, err := resampler.Resample(w48k, 16000)
//	if err != nil {
//	    return err
//	}
package resampler
