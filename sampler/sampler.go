// Package sampler implements Gumbel-Softmax top-M sampling without
// replacement. It returns the selected indices, in selection order,
// together with the sampling probability of every candidate — the triple
// the exact REINFORCE gradient in package reranker requires.
package sampler

import "math"

// epsilonUniform bounds the per-candidate uniform draw away from 0 and 1
// so the Gumbel transform -log(-log(u)) never evaluates log(0).
const epsilonUniform = 1e-12

// epsilonCumulative is the slack used when comparing against the
// cumulative-distribution threshold during without-replacement draws.
const epsilonCumulative = 1e-12

// Rand is the minimal random source the sampler needs: a uniform draw in
// [0,1). *math/rand.Rand satisfies it via Float64.
type Rand interface {
	Float64() float64
}

// Result is the SamplingResult triple: the selected indices (in the order
// they were drawn) and the sampling probability assigned to every one of
// the K candidates (len(Probabilities) == K, summing to 1).
type Result struct {
	Selected      []int
	Probabilities []float64
}

// Sample draws up to topM distinct indices without replacement from K
// candidates scored by scores, using Gumbel-Softmax perturbation at the
// given temperature. topM<=0 returns an empty result with uniform
// probabilities; topM>=K returns all K indices, each with probability 1/K.
func Sample(scores []float64, topM int, temperature float64, rng Rand) Result {
	k := len(scores)

	if topM <= 0 {
		return Result{Selected: nil, Probabilities: uniform(k)}
	}
	if topM >= k {
		all := make([]int, k)
		for i := range all {
			all[i] = i
		}
		return Result{Selected: all, Probabilities: uniform(k)}
	}

	probs, ok := gumbelSoftmax(scores, temperature, rng)
	if !ok {
		// Degenerate softmax: uniform probabilities, deterministic first-M.
		selected := make([]int, topM)
		for i := range selected {
			selected[i] = i
		}
		return Result{Selected: selected, Probabilities: probs}
	}

	selected := sampleWithoutReplacement(probs, topM, rng)
	return Result{Selected: selected, Probabilities: probs}
}

// gumbelSoftmax perturbs each temperature-scaled score with Gumbel noise
// and returns the max-shifted softmax distribution over K candidates. The
// noise is drawn at temperature scale — the perturbed logit is s/τ + g —
// so τ→0 drives the distribution to a point mass on the argmax score and
// τ→∞ leaves the noise in charge, making the selection uniform over
// draws. Falls back to a uniform distribution if the softmax denominator
// underflows or is non-finite, reporting ok=false so the caller can fall
// back to deterministic first-M selection.
func gumbelSoftmax(scores []float64, temperature float64, rng Rand) ([]float64, bool) {
	k := len(scores)
	perturbed := make([]float64, k)
	for i, s := range scores {
		u := rng.Float64()
		if u < epsilonUniform {
			u = epsilonUniform
		} else if u > 1-epsilonUniform {
			u = 1 - epsilonUniform
		}
		g := -math.Log(-math.Log(u))
		perturbed[i] = s/temperature + g
	}

	maxVal := math.Inf(-1)
	for _, v := range perturbed {
		if v > maxVal {
			maxVal = v
		}
	}

	exps := make([]float64, k)
	var denom float64
	for i, v := range perturbed {
		e := math.Exp(v - maxVal)
		exps[i] = e
		denom += e
	}

	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return uniform(k), false
	}

	probs := make([]float64, k)
	for i, e := range exps {
		p := e / denom
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return uniform(k), false
		}
		probs[i] = p
	}
	return probs, true
}

// sampleWithoutReplacement draws m distinct indices from the distribution
// probs by cumulative-distribution sampling, renormalizing the remaining
// mass after each draw.
func sampleWithoutReplacement(probs []float64, m int, rng Rand) []int {
	k := len(probs)
	remaining := make([]float64, k)
	copy(remaining, probs)
	taken := make([]bool, k)

	selected := make([]int, 0, m)
	for draw := 0; draw < m; draw++ {
		var total float64
		for i := range remaining {
			if !taken[i] {
				total += remaining[i]
			}
		}
		if total <= 0 {
			// Degenerate remaining mass: fall back to the first untaken index.
			for i := range taken {
				if !taken[i] {
					taken[i] = true
					selected = append(selected, i)
					break
				}
			}
			continue
		}

		u := rng.Float64() * total
		var cum float64
		chosen := -1
		for i := range remaining {
			if taken[i] {
				continue
			}
			cum += remaining[i]
			if u <= cum+epsilonCumulative {
				chosen = i
				break
			}
		}
		if chosen == -1 {
			// Numerical edge: pick the last untaken candidate.
			for i := k - 1; i >= 0; i-- {
				if !taken[i] {
					chosen = i
					break
				}
			}
		}
		taken[chosen] = true
		selected = append(selected, chosen)
	}
	return selected
}

func uniform(k int) []float64 {
	if k == 0 {
		return nil
	}
	p := 1.0 / float64(k)
	out := make([]float64, k)
	for i := range out {
		out[i] = p
	}
	return out
}
