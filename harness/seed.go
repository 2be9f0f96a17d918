package harness

import "math/rand/v2"

// salt separates the random streams of the stochastic steps so that adding
// draws to one step never shifts another.
type salt uint64

const (
	saltSplit salt = iota + 1
	saltImpute
	saltBalance
	saltBoruta
	saltModel
	saltSearch
)

// derive mixes the configured seed, a step salt and task coordinates
// (resample, family, ...) into one 64-bit seed (splitmix64 finalizer).
func derive(seed uint64, s salt, parts ...uint64) uint64 {
	x := seed ^ uint64(s)*0x9e3779b97f4a7c15
	for _, p := range parts {
		x = mix(x ^ (p+1)*0xbf58476d1ce4e5b9)
	}
	return mix(x)
}

func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func newRand(seed uint64, s salt, parts ...uint64) *rand.Rand {
	return rand.New(rand.NewPCG(derive(seed, s, parts...), uint64(s)))
}
