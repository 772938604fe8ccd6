package enrich

import (
	"math"
	"sort"
)

// BenjaminiHochberg adjusts a batch of p-values for false discovery rate.
// The result is in input order; each value is ≥ its raw p, capped at 1 and
// monotone in raw p. NaN inputs stay NaN and do not count as tests.
func BenjaminiHochberg(p []float64) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	m := len(idx)
	if m == 0 {
		return out
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	prev := 1.0
	for rank := m; rank >= 1; rank-- {
		i := idx[rank-1]
		q := p[i] * float64(m) / float64(rank)
		if q < prev {
			prev = q
		}
		out[i] = math.Min(prev, 1)
	}
	return out
}
