package utils

import (
	"math/rand"
)

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SampleRandomIntRange samples a random integer within a range given by [min, max]
// using the given rand.Rand.
func SampleRandomIntRange(min, max int, r *rand.Rand) int {
	return r.Intn(max-min+1) + min
}

// SampleDistinctInts draws n distinct integers from [0, size) using r. It returns nil when
// size < n.
func SampleDistinctInts(n, size int, r *rand.Rand) []int {
	if n > size || n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for len(out) < n {
		candidate := SampleRandomIntRange(0, size-1, r)
		seen := false
		for _, v := range out {
			if v == candidate {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, candidate)
		}
	}
	return out
}
