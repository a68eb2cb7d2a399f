package statebag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_ShallowReplacePreservesAbsentKeys(t *testing.T) {
	t.Parallel()

	base := New(map[string]Value{
		"phase":      String("taxi"),
		"runway":     String("34"),
		"clearances": Strings("taxi_alpha"),
		"qnh":        Number(1013),
	})
	delta := Delta{
		"clearances": Strings("line_up"),
		"position":   String("holding_point"),
	}

	got := base.Merge(delta, "lineup")

	v, ok := got.Get("runway")
	require.True(t, ok)
	assert.Equal(t, "34", v.Text())

	clr, ok := got.Get("clearances")
	require.True(t, ok)
	assert.True(t, clr.Equal(Strings("line_up")), "array is replaced, not appended")

	assert.Equal(t, "lineup", got.Phase())
	assert.Equal(t, "taxi", base.Phase(), "receiver must not change")
}

func TestMerge_IsIdempotent(t *testing.T) {
	t.Parallel()

	base := New(map[string]Value{"phase": String("p1"), "alt": Number(1500)})
	delta := Delta{"alt": Number(2500), "squawk": String("3000")}

	once := base.Merge(delta, "p2")
	twice := once.Merge(delta, "p2")

	assert.True(t, once.Equal(twice))
}

func TestMerge_PhaseAlwaysPresentAndPinned(t *testing.T) {
	t.Parallel()

	got := Bag{}.Merge(Delta{"phase": String("elsewhere")}, "p1")
	assert.Equal(t, "p1", got.Phase())

	got = Bag{}.Merge(nil, "p1")
	_, ok := got.Get(PhaseKey)
	assert.True(t, ok)
}

func TestLookup_DottedPath(t *testing.T) {
	t.Parallel()

	var bag Bag
	require.NoError(t, json.Unmarshal([]byte(`{
		"phase": "taxi",
		"clearance": {"runway": "34", "holds": ["A1", "B2"]}
	}`), &bag))

	v, ok := bag.Lookup("clearance.runway")
	require.True(t, ok)
	assert.Equal(t, "34", v.Text())

	v, ok = bag.Lookup("clearance.holds.1")
	require.True(t, ok)
	assert.Equal(t, "B2", v.Text())

	_, ok = bag.Lookup("clearance.altitude")
	assert.False(t, ok)
	_, ok = bag.Lookup("phase.x")
	assert.False(t, ok)
}

func TestBagJSON_StableKeyOrder(t *testing.T) {
	t.Parallel()

	bag := New(map[string]Value{"b": Number(2), "a": Bool(true), "phase": String("p")})
	data, err := json.Marshal(bag)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":2,"phase":"p"}`, string(data))
}

func TestDeltaPhaseOf(t *testing.T) {
	t.Parallel()

	_, ok := Delta{"phase": String("  ")}.PhaseOf()
	assert.False(t, ok)
	_, ok = Delta{"phase": Number(3)}.PhaseOf()
	assert.False(t, ok)
	id, ok := Delta{"phase": String("climb")}.PhaseOf()
	assert.True(t, ok)
	assert.Equal(t, "climb", id)
}

func TestValueFloat_Coercion(t *testing.T) {
	t.Parallel()

	f, ok := String(" 118.7 ").Float()
	require.True(t, ok)
	assert.InDelta(t, 118.7, f, 1e-9)

	_, ok = String("alpha").Float()
	assert.False(t, ok)
	_, ok = Bool(true).Float()
	assert.False(t, ok)
}
