// Package criterion evaluates `lhs op rhs` predicates against simulation state
// and verdict data. Evaluation never fails: unresolvable comparisons are false.
package criterion

import (
	"strings"

	"github.com/metalagman/pilotsim/internal/statebag"
)

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	OpGTE      Op = ">="
	OpEQ       Op = "=="
	OpLTE      Op = "<="
	OpMissing  Op = "missing"
	OpExists   Op = "exists"
	OpContains Op = "contains"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpGTE, OpEQ, OpLTE, OpMissing, OpExists, OpContains:
		return true
	}
	return false
}

// Criterion is a single predicate.
type Criterion struct {
	LHS string         `json:"lhs"`
	Op  Op             `json:"op"`
	RHS statebag.Value `json:"rhs"`
}

// Source resolves dotted paths to values.
type Source interface {
	Lookup(path string) (statebag.Value, bool)
}

// Sources chains several sources; the first one that resolves a path wins.
type Sources []Source

// Lookup implements Source.
func (s Sources) Lookup(path string) (statebag.Value, bool) {
	for _, src := range s {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(path); ok {
			return v, true
		}
	}
	return statebag.Value{}, false
}

// Evaluate applies c to src.
func Evaluate(c Criterion, src Source) bool {
	var (
		lhs   statebag.Value
		found bool
	)
	if src != nil {
		lhs, found = src.Lookup(c.LHS)
	}
	if found && lhs.IsNull() {
		found = false
	}

	switch c.Op {
	case OpMissing:
		return !found
	case OpExists:
		return found
	}
	if !found {
		return false
	}

	switch c.Op {
	case OpEQ:
		return equal(lhs, c.RHS)
	case OpGTE:
		cmp, ok := compare(lhs, c.RHS)
		return ok && cmp >= 0
	case OpLTE:
		cmp, ok := compare(lhs, c.RHS)
		return ok && cmp <= 0
	case OpContains:
		return contains(lhs, c.RHS)
	default:
		return false
	}
}

// All reports whether every criterion holds. An empty list holds.
func All(list []Criterion, src Source) bool {
	for _, c := range list {
		if !Evaluate(c, src) {
			return false
		}
	}
	return true
}

// FirstFailing returns the first criterion that does not hold.
func FirstFailing(list []Criterion, src Source) (Criterion, bool) {
	for _, c := range list {
		if !Evaluate(c, src) {
			return c, true
		}
	}
	return Criterion{}, false
}

func (c Criterion) String() string {
	if c.Op == OpMissing || c.Op == OpExists {
		return c.LHS + " " + string(c.Op)
	}
	return c.LHS + " " + string(c.Op) + " " + c.RHS.Text()
}

func equal(a, b statebag.Value) bool {
	if af, ok := a.Float(); ok {
		if bf, ok := b.Float(); ok {
			return af == bf
		}
	}
	if ab, ok := a.AsBool(); ok {
		bb, ok := b.AsBool()
		if ok {
			return ab == bb
		}
		return strings.EqualFold(b.Text(), a.Text())
	}
	if a.Kind() == statebag.KindArray || a.Kind() == statebag.KindObject {
		return a.Equal(b)
	}
	return a.Text() == b.Text()
}

func compare(a, b statebag.Value) (int, bool) {
	if af, ok := a.Float(); ok {
		if bf, ok := b.Float(); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, aok := a.AsString()
	bs, bok := b.AsString()
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func contains(a, b statebag.Value) bool {
	switch a.Kind() {
	case statebag.KindString:
		s, _ := a.AsString()
		return strings.Contains(s, b.Text())
	case statebag.KindArray:
		for _, item := range a.Items() {
			if equal(item, b) {
				return true
			}
		}
	}
	return false
}
