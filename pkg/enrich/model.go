// Package enrich scores over-representation of a query gene list across
// ontology nodes or gene sets.
package enrich

import (
	"math"

	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"
)

// ProbabilityModel returns P(X ≥ observed) when drawing draws items from a
// population containing successes marked items.
type ProbabilityModel interface {
	PValue(observed, population, successes, draws int) float64
}

// Hypergeometric is the exact test for sampling without replacement.
type Hypergeometric struct{}

func (Hypergeometric) PValue(observed, population, successes, draws int) float64 {
	if observed <= 0 {
		return 1
	}
	if population <= 0 || successes < 0 || draws < 0 || successes > population || draws > population {
		return math.NaN()
	}
	hi := min(successes, draws)
	if observed > hi {
		return 0
	}
	lo := max(0, draws-(population-successes))
	if observed <= lo {
		return 1
	}

	logTotal := combin.LogGeneralizedBinomial(float64(population), float64(draws))
	var p float64
	for i := observed; i <= hi; i++ {
		p += math.Exp(combin.LogGeneralizedBinomial(float64(successes), float64(i)) +
			combin.LogGeneralizedBinomial(float64(population-successes), float64(draws-i)) -
			logTotal)
	}
	return clamp01(p)
}

// Binomial approximates sampling with replacement at rate successes/population.
type Binomial struct{}

func (Binomial) PValue(observed, population, successes, draws int) float64 {
	if observed <= 0 {
		return 1
	}
	if population <= 0 || successes < 0 || draws <= 0 || successes > population {
		return math.NaN()
	}
	if observed > draws {
		return 0
	}
	rate := float64(successes) / float64(population)
	switch rate {
	case 0:
		return 0
	case 1:
		return 1
	}
	d := distuv.Binomial{N: float64(draws), P: rate}
	return clamp01(d.Survival(float64(observed - 1)))
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return p
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
