package criterion

import (
	"encoding/json"
	"testing"

	"github.com/metalagman/pilotsim/internal/statebag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBag(t *testing.T) statebag.Bag {
	t.Helper()
	var bag statebag.Bag
	require.NoError(t, json.Unmarshal([]byte(`{
		"phase": "downwind",
		"alt_m": 300,
		"qnh": "1013",
		"position": "joining crosswind",
		"clearances": ["taxi", "lineup"],
		"gear_down": true,
		"remark": null,
		"aircraft": {"type": "C172"}
	}`), &bag))
	return bag
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	bag := testBag(t)

	tests := []struct {
		name string
		c    Criterion
		want bool
	}{
		{"gte number", Criterion{LHS: "alt_m", Op: OpGTE, RHS: statebag.Number(300)}, true},
		{"gte number false", Criterion{LHS: "alt_m", Op: OpGTE, RHS: statebag.Number(301)}, false},
		{"lte coerces numeric string", Criterion{LHS: "qnh", Op: OpLTE, RHS: statebag.Number(1013)}, true},
		{"eq numeric string vs number", Criterion{LHS: "qnh", Op: OpEQ, RHS: statebag.Number(1013)}, true},
		{"eq string", Criterion{LHS: "phase", Op: OpEQ, RHS: statebag.String("downwind")}, true},
		{"eq bool", Criterion{LHS: "gear_down", Op: OpEQ, RHS: statebag.Bool(true)}, true},
		{"eq bool vs text", Criterion{LHS: "gear_down", Op: OpEQ, RHS: statebag.String("TRUE")}, true},
		{"nested path", Criterion{LHS: "aircraft.type", Op: OpEQ, RHS: statebag.String("C172")}, true},
		{"contains substring", Criterion{LHS: "position", Op: OpContains, RHS: statebag.String("crosswind")}, true},
		{"contains membership", Criterion{LHS: "clearances", Op: OpContains, RHS: statebag.String("lineup")}, true},
		{"contains membership miss", Criterion{LHS: "clearances", Op: OpContains, RHS: statebag.String("takeoff")}, false},
		{"missing absent", Criterion{LHS: "squawk", Op: OpMissing}, true},
		{"missing null", Criterion{LHS: "remark", Op: OpMissing}, true},
		{"missing present", Criterion{LHS: "phase", Op: OpMissing}, false},
		{"exists present", Criterion{LHS: "phase", Op: OpExists}, true},
		{"exists absent", Criterion{LHS: "squawk", Op: OpExists}, false},
		{"comparison on absent is false", Criterion{LHS: "squawk", Op: OpEQ, RHS: statebag.String("")}, false},
		{"gte absent is false", Criterion{LHS: "squawk", Op: OpGTE, RHS: statebag.Number(0)}, false},
		{"unknown op", Criterion{LHS: "phase", Op: Op("!="), RHS: statebag.String("x")}, false},
		{"string vs number incomparable", Criterion{LHS: "position", Op: OpGTE, RHS: statebag.Number(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.c, bag))
		})
	}
}

func TestEvaluate_NilSource(t *testing.T) {
	t.Parallel()

	assert.True(t, Evaluate(Criterion{LHS: "x", Op: OpMissing}, nil))
	assert.False(t, Evaluate(Criterion{LHS: "x", Op: OpEQ, RHS: statebag.Number(1)}, nil))
}

func TestSources_FirstMatchWins(t *testing.T) {
	t.Parallel()

	a := statebag.New(map[string]statebag.Value{"k": statebag.String("a")})
	b := statebag.New(map[string]statebag.Value{"k": statebag.String("b"), "only_b": statebag.Bool(true)})

	src := Sources{a, b}
	v, ok := src.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "a", v.Text())
	assert.True(t, Evaluate(Criterion{LHS: "only_b", Op: OpExists}, src))
}

func TestAll(t *testing.T) {
	t.Parallel()
	bag := testBag(t)

	assert.True(t, All(nil, bag))
	list := []Criterion{
		{LHS: "phase", Op: OpExists},
		{LHS: "alt_m", Op: OpGTE, RHS: statebag.Number(1000)},
	}
	assert.False(t, All(list, bag))

	failing, ok := FirstFailing(list, bag)
	require.True(t, ok)
	assert.Equal(t, "alt_m >= 1000", failing.String())
}

func TestCriterionJSON(t *testing.T) {
	t.Parallel()

	var c Criterion
	require.NoError(t, json.Unmarshal([]byte(`{"lhs":"verdict.normalized","op":">=","rhs":0.8}`), &c))
	assert.Equal(t, OpGTE, c.Op)
	f, ok := c.RHS.AsNumber()
	require.True(t, ok)
	assert.InDelta(t, 0.8, f, 1e-9)
	assert.True(t, c.Op.Valid())
}
