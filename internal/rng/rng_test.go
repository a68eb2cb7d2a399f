package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForTurn_Deterministic(t *testing.T) {
	t.Parallel()

	a := ForTurn("session-1", 3, nil)
	b := ForTurn("session-1", 3, nil)
	for range 32 {
		assert.Equal(t, a.Uint32(), b.Uint32())
	}
}

func TestForTurn_ExplicitSeedWins(t *testing.T) {
	t.Parallel()

	seed := int64(42)
	a := ForTurn("session-1", 3, &seed)
	b := ForTurn("other", 99, &seed)
	assert.Equal(t, a.Float64(), b.Float64())
}

func TestTurnSeed_VariesWithTurn(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, TurnSeed("s", 1), TurnSeed("s", 2))
	assert.NotEqual(t, TurnSeed("s1", 1), TurnSeed("s2", 1))
}

func TestFloat64_Range(t *testing.T) {
	t.Parallel()

	r := New(7)
	for range 1000 {
		f := r.Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
	for range 100 {
		assert.Less(t, r.Intn(5), 5)
	}
	assert.Equal(t, 0, r.Intn(0))
}
