package examsession

import "math/rand/v2"

// Shuffler supplies uniformly distributed indices in [0, n).
type Shuffler interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultShuffler draws from the runtime's randomly seeded generator, so every
// session gets a fresh, non-reproducible order.
var DefaultShuffler Shuffler = globalRand{}

// Shuffle returns a Fisher–Yates permutation of items. The input is not modified.
func Shuffle[T any](items []T, r Shuffler) []T {
	if r == nil {
		r = DefaultShuffler
	}
	out := make([]T, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
