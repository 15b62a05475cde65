package tryon

import (
	"math"
	"math/rand/v2"
)

// RandomSeed returns a sampler seed drawn uniformly from [1, 2^64-1]
func RandomSeed() uint64 {
	return rand.Uint64N(math.MaxUint64) + 1
}
