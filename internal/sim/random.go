package sim

import (
	"math/rand"
	"time"
)

// Random is the source of every stochastic draw in the simulator.
// *math/rand.Rand satisfies it.
type Random interface {
	Float64() float64
	Intn(n int) int
}

func newRandom(seed int64) Random {
	return rand.New(rand.NewSource(seed))
}

func defaultSeed() int64 { return time.Now().UnixNano() }

// uniform draws from [lo, lo+span).
func uniform(r Random, lo, span float64) float64 {
	return lo + r.Float64()*span
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
