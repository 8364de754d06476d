package fbank

import "math"

// fftPlan holds precomputed bit-reversal indices and twiddle factors for an
// in-place radix-2 Cooley-Tukey FFT of a fixed power-of-two size.
type fftPlan struct {
	n   int
	rev []int
	cos []float64
	sin []float64
}

func newFFTPlan(n int) *fftPlan {
	p := &fftPlan{
		n:   n,
		rev: make([]int, n),
		cos: make([]float64, n/2),
		sin: make([]float64, n/2),
	}
	bits := 0
	for 1<<bits < n {
		bits++
	}
	for i := range p.rev {
		r := 0
		for b := 0; b < bits; b++ {
			if i&(1<<b) != 0 {
				r |= 1 << (bits - 1 - b)
			}
		}
		p.rev[i] = r
	}
	for k := range p.cos {
		angle := -2 * math.Pi * float64(k) / float64(n)
		p.cos[k] = math.Cos(angle)
		p.sin[k] = math.Sin(angle)
	}
	return p
}

// transform computes the forward DFT of (re, im) in place. Both slices must
// have length p.n.
func (p *fftPlan) transform(re, im []float64) {
	n := p.n
	for i, j := range p.rev {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := n / size
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				wr, wi := p.cos[k*step], p.sin[k*step]
				u := start + k
				v := u + half
				tr := wr*re[v] - wi*im[v]
				ti := wr*im[v] + wi*re[v]
				re[v] = re[u] - tr
				im[v] = im[u] - ti
				re[u] += tr
				im[u] += ti
			}
		}
	}
}
