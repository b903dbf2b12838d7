// Package value defines the erased value domain shared by node outputs,
// literals, and persisted entries: the JSON-compatible forms nil, bool,
// int64, float64, string, []any, and map[string]any.
//
// Everything that crosses a node boundary is normalized into this domain so
// that a value computed in-process and the same value reloaded from a store
// are indistinguishable, and so that canonical renderings (and therefore
// fingerprints) are stable.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Normalize converts v into canonical form via a JSON round trip.
//
// Numbers come back as int64 when they are integral literals and float64
// otherwise, maps as map[string]any with string keys, and sequences as
// []any. Structs, typed slices, and typed maps are accepted as long as they
// are JSON-encodable. Values that cannot be encoded (channels, funcs,
// cycles) return an error.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not storable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("value round trip failed: %w", err)
	}
	return resolveNumbers(out), nil
}

// resolveNumbers replaces every json.Number in the decoded tree with int64
// when the literal is integral and float64 otherwise.
func resolveNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			// Unreachable for output of encoding/json, but fail visibly.
			return string(x)
		}
		return f
	case []any:
		for i := range x {
			x[i] = resolveNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = resolveNumbers(x[k])
		}
		return x
	default:
		return v
	}
}

// Canonical renders v as its canonical JSON bytes.
//
// Map keys are emitted in sorted order by encoding/json, so two maps with
// the same entries always produce identical bytes regardless of insertion
// order. Sequences keep their order. The result is the hashing input for
// fingerprints and the storage format for file-backed documents.
func Canonical(v any) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return b, nil
}

// Equal reports whether two values are equal after normalization.
//
// Values that cannot be normalized are compared with reflect.DeepEqual as a
// fallback.
func Equal(a, b any) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ca, cb)
}
