package value

import (
	"sort"
	"strings"
)

// Kind enumerates the runtime type categories a node parameter can declare.
type Kind int

const (
	// KindAny matches every value, including nil.
	KindAny Kind = iota
	// KindNull matches only nil.
	KindNull
	// KindBool matches bool.
	KindBool
	// KindInt matches int64.
	KindInt
	// KindFloat matches int64 or float64. Integers are accepted where a
	// float is declared, mirroring how numbers lose their "floatness"
	// through a JSON round trip. Bools are never numbers.
	KindFloat
	// KindString matches string.
	KindString
	// KindList matches []any, optionally with a uniform element type.
	KindList
	// KindMap matches map[string]any with a uniform value type.
	KindMap
	// KindTuple matches []any of a fixed length with per-position types.
	KindTuple
	// KindObject matches map[string]any with a set of required fields.
	// Extra keys are allowed.
	KindObject
	// KindUnion matches when any of its alternatives match.
	KindUnion
)

// Type describes the expected shape of a node input at runtime.
//
// Types are built with the constructor functions (Int, ListOf, ObjectOf, ...)
// and checked against normalized values with Matches. The zero Type is Any.
type Type struct {
	kind   Kind
	elem   *Type
	elems  []Type
	fields map[string]Type
	alts   []Type
}

// Any returns the type that matches every value.
func Any() Type { return Type{kind: KindAny} }

// Null returns the type that matches only nil.
func Null() Type { return Type{kind: KindNull} }

// Bool returns the boolean type.
func Bool() Type { return Type{kind: KindBool} }

// Int returns the integer type.
func Int() Type { return Type{kind: KindInt} }

// Float returns the floating-point type. It also accepts integers.
func Float() Type { return Type{kind: KindFloat} }

// String returns the string type.
func String() Type { return Type{kind: KindString} }

// ListOf returns a list type whose elements must all match elem.
func ListOf(elem Type) Type {
	e := elem
	return Type{kind: KindList, elem: &e}
}

// List returns a list type with unconstrained elements.
func List() Type { return Type{kind: KindList} }

// MapOf returns a map type whose values must all match elem.
// Keys are always strings.
func MapOf(elem Type) Type {
	e := elem
	return Type{kind: KindMap, elem: &e}
}

// Map returns a map type with unconstrained values.
func Map() Type { return Type{kind: KindMap} }

// TupleOf returns a fixed-length list type with per-position element types.
func TupleOf(elems ...Type) Type {
	return Type{kind: KindTuple, elems: elems}
}

// ObjectOf returns a map type that requires every listed field to be present
// and matching. Keys not listed are ignored.
func ObjectOf(fields map[string]Type) Type {
	return Type{kind: KindObject, fields: fields}
}

// UnionOf returns a type that matches when any alternative matches.
func UnionOf(alts ...Type) Type {
	return Type{kind: KindUnion, alts: alts}
}

// Kind reports the type's category.
func (t Type) Kind() Kind { return t.kind }

// Matches reports whether a normalized value conforms to the type.
//
// The value must be in normalized form (see Normalize): nil, bool, int64,
// float64, string, []any, or map[string]any. Values of other dynamic types
// never match anything but Any.
func Matches(v any, t Type) bool {
	switch t.kind {
	case KindAny:
		return true
	case KindNull:
		return v == nil
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindInt:
		_, ok := v.(int64)
		return ok
	case KindFloat:
		switch v.(type) {
		case int64, float64:
			return true
		}
		return false
	case KindString:
		_, ok := v.(string)
		return ok
	case KindList:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		if t.elem == nil {
			return true
		}
		for _, item := range items {
			if !Matches(item, *t.elem) {
				return false
			}
		}
		return true
	case KindTuple:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		if len(items) != len(t.elems) {
			return false
		}
		for i, item := range items {
			if !Matches(item, t.elems[i]) {
				return false
			}
		}
		return true
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if t.elem == nil {
			return true
		}
		for _, mv := range m {
			if !Matches(mv, *t.elem) {
				return false
			}
		}
		return true
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for name, ft := range t.fields {
			fv, present := m[name]
			if !present || !Matches(fv, ft) {
				return false
			}
		}
		return true
	case KindUnion:
		for _, alt := range t.alts {
			if Matches(v, alt) {
				return true
			}
		}
		return false
	}
	return false
}

// String renders the type for error messages, e.g. "list<int>" or
// "object{age:int, name:string}".
func (t Type) String() string {
	switch t.kind {
	case KindAny:
		return "any"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		if t.elem == nil {
			return "list"
		}
		return "list<" + t.elem.String() + ">"
	case KindTuple:
		parts := make([]string, len(t.elems))
		for i, e := range t.elems {
			parts[i] = e.String()
		}
		return "tuple(" + strings.Join(parts, ", ") + ")"
	case KindMap:
		if t.elem == nil {
			return "map"
		}
		return "map<" + t.elem.String() + ">"
	case KindObject:
		names := make([]string, 0, len(t.fields))
		for name := range t.fields {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + ":" + t.fields[name].String()
		}
		return "object{" + strings.Join(parts, ", ") + "}"
	case KindUnion:
		parts := make([]string, len(t.alts))
		for i, alt := range t.alts {
			parts[i] = alt.String()
		}
		return "union(" + strings.Join(parts, "|") + ")"
	}
	return "unknown"
}
