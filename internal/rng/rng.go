// Package rng provides the seeded random source used for routing and branch
// selection. Sequences depend only on the seed, never on global entropy.
package rng

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/MichaelTJones/pcg"
)

const stream = 0xda3e39cb94b95bdb

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Rand is a PCG32 generator. It is not safe for concurrent use.
type Rand struct {
	r *pcg.PCG32
}

// New returns a generator seeded with seed.
func New(seed uint64) *Rand {
	r := pcg.NewPCG32()
	r.Seed(seed, stream)
	return &Rand{r: r}
}

// ForTurn derives a generator from an explicit seed if given, otherwise from
// the session id and turn index.
func ForTurn(sessionID string, turnIndex int, explicit *int64) *Rand {
	if explicit != nil {
		return New(uint64(*explicit))
	}
	return New(TurnSeed(sessionID, turnIndex))
}

// TurnSeed hashes a session id and turn index into a seed.
func TurnSeed(sessionID string, turnIndex int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(turnIndex))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// Float64 returns a float in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.r.Random()) / (1 << 32)
}

// Uint32 returns the next raw 32-bit output.
func (r *Rand) Uint32() uint32 {
	return r.r.Random()
}

// Intn returns an int in [0, n).
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.r.Bounded(uint32(n)))
}
