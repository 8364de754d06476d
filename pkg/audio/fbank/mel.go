package fbank

import "math"

// melScale converts Hz to the natural-log mel scale used by Kaldi.
func melScale(hz float64) float64 {
	return 1127.0 * math.Log(1.0+hz/700.0)
}

// inverseMelScale converts mel back to Hz.
func inverseMelScale(mel float64) float64 {
	return 700.0 * (math.Exp(mel/1127.0) - 1.0)
}

// melFilter is one triangular filter stored as a dense run of weights
// starting at power-spectrum bin offset.
type melFilter struct {
	offset  int
	weights []float64
}

func (f melFilter) apply(power []float64) float64 {
	sum := 0.0
	for i, w := range f.weights {
		sum += w * power[f.offset+i]
	}
	return sum
}

// melFilterBank builds numMels triangular filters whose edges are equally
// spaced in mel between lowFreq and highFreq. Weights are computed in the
// mel domain for every FFT bin below Nyquist.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []melFilter {
	numBins := fftSize / 2
	binHz := float64(sampleRate) / float64(fftSize)
	lowMel := melScale(lowFreq)
	delta := (melScale(highFreq) - lowMel) / float64(numMels+1)

	bank := make([]melFilter, numMels)
	for m := range bank {
		left := lowMel + float64(m)*delta
		center := left + delta
		right := center + delta

		first, last := -1, -1
		weights := make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			mel := melScale(binHz * float64(k))
			if mel <= left || mel >= right {
				continue
			}
			if mel <= center {
				weights[k] = (mel - left) / (center - left)
			} else {
				weights[k] = (right - mel) / (right - center)
			}
			if first < 0 {
				first = k
			}
			last = k
		}
		if first < 0 {
			bank[m] = melFilter{}
			continue
		}
		bank[m] = melFilter{offset: first, weights: weights[first : last+1]}
	}
	return bank
}
