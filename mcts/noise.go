package mcts

import (
	"math"
	"math/rand"
)

// sampleDirichlet draws a length-n vector from Dirichlet(alpha, ..., alpha)
// via independently sampled Gamma(alpha, 1) variates normalized to sum 1 —
// spec.md §4.3's noise step, generalizing the source's Gamma(1,1) special
// case to whatever alpha the config supplies.
func sampleDirichlet(rng *rand.Rand, n int, alpha float64) []float64 {
	samples := make([]float64, n)
	sum := 0.0
	for i := range samples {
		g := sampleGamma(rng, alpha)
		samples[i] = g
		sum += g
	}
	if sum <= 0 {
		for i := range samples {
			samples[i] = 1.0 / float64(n)
		}
		return samples
	}
	for i := range samples {
		samples[i] /= sum
	}
	return samples
}

// sampleGamma draws a Gamma(alpha, 1) variate using Marsaglia-Tsang for
// alpha >= 1, boosting via a uniform power transform for alpha < 1.
func sampleGamma(rng *rand.Rand, alpha float64) float64 {
	if alpha <= 0 {
		alpha = 1
	}
	if alpha < 1 {
		u := rng.Float64()
		return sampleGamma(rng, alpha+1) * math.Pow(u, 1/alpha)
	}

	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
