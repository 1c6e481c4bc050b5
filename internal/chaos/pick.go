package chaos

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrNotEnoughCandidates は選択対象が不足していることを示す
var ErrNotEnoughCandidates = errors.New("not enough candidates")

// NewRand returns a random source for seed, or a time-seeded one when seed
// is nil. The seed actually used is returned so a run can be replayed.
func NewRand(seed *int64) (*rand.Rand, int64) {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	return rand.New(rand.NewSource(s)), s
}

// PickOne draws one candidate uniformly.
func PickOne(r *rand.Rand, candidates []int) (int, error) {
	if len(candidates) == 0 {
		return 0, fmt.Errorf("%w: pick one of none", ErrNotEnoughCandidates)
	}
	return candidates[r.Intn(len(candidates))], nil
}

// PickOneExcluding draws one candidate other than exclude.
func PickOneExcluding(r *rand.Rand, candidates []int, exclude int) (int, error) {
	rest := make([]int, 0, len(candidates))
	for _, c := range candidates {
		if c != exclude {
			rest = append(rest, c)
		}
	}
	return PickOne(r, rest)
}

// PickDistinct draws k different candidates in draw order. Draws that hit
// an already picked value are retried; k larger than the number of distinct
// candidates is rejected up front so the retry loop always terminates.
func PickDistinct(r *rand.Rand, candidates []int, k int) ([]int, error) {
	unique := dedupe(candidates)
	if k < 0 || k > len(unique) {
		return nil, fmt.Errorf("%w: want %d distinct of %d", ErrNotEnoughCandidates, k, len(unique))
	}

	picked := make([]int, 0, k)
	seen := make(map[int]bool, k)
	for len(picked) < k {
		c := unique[r.Intn(len(unique))]
		if seen[c] {
			continue
		}
		seen[c] = true
		picked = append(picked, c)
	}
	return picked, nil
}

func dedupe(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
