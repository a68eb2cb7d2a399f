package statebag

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PhaseKey is the key that always holds the current phase id.
const PhaseKey = "phase"

// Delta is a set of top-level replacements applied by Merge.
type Delta map[string]Value

// Bag is an immutable flat map of simulation state.
// Methods never modify the receiver; Merge returns a new Bag.
type Bag struct {
	m map[string]Value
}

// New builds a bag from a set of values.
func New(values map[string]Value) Bag {
	m := make(map[string]Value, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Bag{m: m}
}

// FromMap converts decoded JSON into a bag.
func FromMap(in map[string]any) (Bag, error) {
	m := make(map[string]Value, len(in))
	for k, raw := range in {
		v, err := FromAny(raw)
		if err != nil {
			return Bag{}, fmt.Errorf("state key %q: %w", k, err)
		}
		m[k] = v
	}
	return Bag{m: m}, nil
}

// Get returns the value stored at a top-level key.
func (b Bag) Get(key string) (Value, bool) {
	v, ok := b.m[key]
	return v, ok
}

// Phase returns the phase id held by the bag.
func (b Bag) Phase() string {
	v, ok := b.m[PhaseKey]
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// Len returns the number of top-level keys.
func (b Bag) Len() int { return len(b.m) }

// Keys returns the top-level keys in unspecified order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		keys = append(keys, k)
	}
	return keys
}

// Lookup resolves a dotted path. The first segment is a top-level key; later
// segments descend into objects by name and into arrays by index.
func (b Bag) Lookup(path string) (Value, bool) {
	parts := strings.Split(path, ".")
	v, ok := b.m[parts[0]]
	if !ok {
		return Value{}, false
	}
	return descend(v, parts[1:])
}

func descend(v Value, parts []string) (Value, bool) {
	for _, part := range parts {
		switch v.Kind() {
		case KindObject:
			next, ok := v.Field(part)
			if !ok {
				return Value{}, false
			}
			v = next
		case KindArray:
			i, err := strconv.Atoi(part)
			if err != nil {
				return Value{}, false
			}
			next, ok := v.Index(i)
			if !ok {
				return Value{}, false
			}
			v = next
		default:
			return Value{}, false
		}
	}
	return v, true
}

// Merge applies delta with shallow replacement and pins the phase key to
// phaseID, regardless of what delta carries for it.
func (b Bag) Merge(delta Delta, phaseID string) Bag {
	m := make(map[string]Value, len(b.m)+len(delta)+1)
	for k, v := range b.m {
		m[k] = v
	}
	for k, v := range delta {
		m[k] = v
	}
	m[PhaseKey] = String(phaseID)
	return Bag{m: m}
}

// Equal reports whether both bags hold the same keys and values.
func (b Bag) Equal(o Bag) bool {
	if len(b.m) != len(o.m) {
		return false
	}
	for k, v := range b.m {
		ov, ok := o.m[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Map returns the bag as plain Go values.
func (b Bag) Map() map[string]any {
	out := make(map[string]any, len(b.m))
	for k, v := range b.m {
		out[k] = v.Any()
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (b Bag) MarshalJSON() ([]byte, error) {
	if b.m == nil {
		return []byte("{}"), nil
	}
	return marshalObject(b.m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bag) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode state bag: %w", err)
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// PhaseOf returns the phase id carried by a delta, if any.
func (d Delta) PhaseOf() (string, bool) {
	v, ok := d[PhaseKey]
	if !ok {
		return "", false
	}
	s, ok := v.AsString()
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// DeltaFromMap converts decoded JSON into a delta.
func DeltaFromMap(in map[string]any) (Delta, error) {
	if in == nil {
		return nil, nil
	}
	out := make(Delta, len(in))
	for k, raw := range in {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("delta key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
