package fbank

import "math"

// WindowType selects the analysis window.
type WindowType string

const (
	// WindowPovey is Kaldi's default: a Hann window raised to 0.85.
	WindowPovey WindowType = "povey"
	// WindowHamming is the classic 0.54/0.46 Hamming window.
	WindowHamming WindowType = "hamming"
	// WindowHann is the raised cosine window.
	WindowHann WindowType = "hann"
)

// coefficients returns n window coefficients. Unknown types fall back to
// povey.
func (w WindowType) coefficients(n int) []float64 {
	c := make([]float64, n)
	if n == 1 {
		c[0] = 1
		return c
	}
	a := 2 * math.Pi / float64(n-1)
	for i := range c {
		cos := math.Cos(a * float64(i))
		switch w {
		case WindowHamming:
			c[i] = 0.54 - 0.46*cos
		case WindowHann:
			c[i] = 0.5 - 0.5*cos
		default:
			c[i] = math.Pow(0.5-0.5*cos, 0.85)
		}
	}
	return c
}
