// Package selector implements the weighted draw at the heart of bucket
// selection: given a set of already-weighted candidates and the store's
// current route table, choose one. It does no I/O and owns no clock; the
// only non-determinism is the injected PRNG.
package selector

import "sort"

// Rand is the subset of *math/rand.Rand the selector needs. Tests inject
// a deterministic or adversarial implementation; production code passes
// a *math/rand.Rand, which already satisfies this interface.
type Rand interface {
	Intn(n int) int
}

// Candidate is one bucket eligible for selection: its already-computed
// size weight (step 1 of the caller's algorithm, done by the Processor
// before the draw) plus the replica groups backing it, used to apply the
// route-table reachability penalty.
type Candidate[T any] struct {
	Value  T
	Weight float64
	Groups []int32
}

// Pick applies the route-table reachability penalty, sorts descending by
// the penalized weight, and draws one candidate proportional to weight.
// It reports false if candidates is empty. rt is the store's current
// route table: group id -> reachable.
//
// Any candidate with not all of its groups present (and true) in rt has
// its weight divided by 100 before the draw — a strong but non-fatal
// penalty, since an unreachable-looking bucket may still be the only
// option. If the penalized sum's one-decimal range degenerates
// (floor(sum*10) < 1), Pick falls back to the highest-weighted
// candidate instead of drawing against a zero-or-negative range.
func Pick[T any](candidates []Candidate[T], rt map[int32]bool, rng Rand) (T, bool) {
	var zero T
	if len(candidates) == 0 {
		return zero, false
	}

	penalized := make([]Candidate[T], len(candidates))
	copy(penalized, candidates)
	for i := range penalized {
		if !allReachable(penalized[i].Groups, rt) {
			penalized[i].Weight /= 100
		}
	}

	sort.SliceStable(penalized, func(i, j int) bool {
		return penalized[i].Weight > penalized[j].Weight
	})

	var sum float64
	for _, c := range penalized {
		sum += c.Weight
	}

	scaled := int(sum * 10)
	if scaled < 1 {
		return penalized[0].Value, true
	}

	r := float64(rng.Intn(scaled+1)) / 10
	for _, c := range penalized {
		r -= c.Weight
		if r <= 0 {
			return c.Value, true
		}
	}

	// Floating point rounding can leave r > 0 after the last candidate;
	// the last one examined is the correct choice.
	return penalized[len(penalized)-1].Value, true
}

func allReachable(groups []int32, rt map[int32]bool) bool {
	for _, g := range groups {
		if !rt[g] {
			return false
		}
	}
	return true
}
