package value

import "testing"

// TestMatches_Scalars verifies the primitive matching rules, including the
// int/float asymmetry: ints are accepted where floats are declared, floats
// are not accepted where ints are declared, and bools are never numbers.
func TestMatches_Scalars(t *testing.T) {
	cases := []struct {
		name string
		v    any
		t    Type
		want bool
	}{
		{"int matches int", int64(1), Int(), true},
		{"int matches float", int64(1), Float(), true},
		{"float matches float", 1.5, Float(), true},
		{"float does not match int", 1.5, Int(), false},
		{"bool does not match int", true, Int(), false},
		{"bool does not match float", true, Float(), false},
		{"bool matches bool", true, Bool(), true},
		{"int does not match bool", int64(1), Bool(), false},
		{"int does not match string", int64(1), String(), false},
		{"string matches string", "1", String(), true},
		{"nil matches null", nil, Null(), true},
		{"zero does not match null", int64(0), Null(), false},
		{"anything matches any", "x", Any(), true},
		{"nil matches any", nil, Any(), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.v, tc.t); got != tc.want {
				t.Errorf("Matches(%v, %s) = %v, want %v", tc.v, tc.t, got, tc.want)
			}
		})
	}
}

func TestMatches_Composites(t *testing.T) {
	cases := []struct {
		name string
		v    any
		t    Type
		want bool
	}{
		{"homogeneous list", []any{int64(1), int64(2)}, ListOf(Int()), true},
		{"mixed list vs int list", []any{int64(1), "2"}, ListOf(Int()), false},
		{"mixed list vs union list", []any{int64(1), "2"}, ListOf(UnionOf(Int(), String())), true},
		{"unconstrained list", []any{int64(1), "2", nil}, List(), true},
		{"scalar is not a list", int64(1), List(), false},
		{"map of ints", map[string]any{"a": int64(1)}, MapOf(Int()), true},
		{"map value mismatch", map[string]any{"a": "1"}, MapOf(Int()), false},
		{"unconstrained map", map[string]any{"a": "1"}, Map(), true},
		{"tuple exact", []any{int64(1), "2"}, TupleOf(Int(), String()), true},
		{"tuple element mismatch", []any{int64(1), "2"}, TupleOf(Int(), Int()), false},
		{"tuple too short", []any{int64(1)}, TupleOf(Int(), Int()), false},
		{"tuple too long", []any{int64(1), int64(2), int64(3)}, TupleOf(Int(), Int()), false},
		{"union int side", int64(1), UnionOf(Int(), String()), true},
		{"union neither side", int64(1), UnionOf(Bool(), String()), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.v, tc.t); got != tc.want {
				t.Errorf("Matches(%v, %s) = %v, want %v", tc.v, tc.t, got, tc.want)
			}
		})
	}
}

// TestMatches_Objects verifies required-field checking: all declared fields
// must be present and typed, extra keys are allowed.
func TestMatches_Objects(t *testing.T) {
	person := ObjectOf(map[string]Type{"name": String(), "age": Int()})

	t.Run("all fields present", func(t *testing.T) {
		v := map[string]any{"name": "John", "age": int64(30)}
		if !Matches(v, person) {
			t.Error("expected match for complete object")
		}
	})

	t.Run("extra keys allowed", func(t *testing.T) {
		v := map[string]any{"name": "John", "age": int64(30), "city": "Oslo"}
		if !Matches(v, person) {
			t.Error("expected match with extra key")
		}
	})

	t.Run("missing field rejected", func(t *testing.T) {
		v := map[string]any{"name": "John"}
		if Matches(v, person) {
			t.Error("expected mismatch for missing field")
		}
	})

	t.Run("wrong field type rejected", func(t *testing.T) {
		v := map[string]any{"name": []any{"John", "Doe"}, "age": int64(30)}
		if Matches(v, person) {
			t.Error("expected mismatch for wrong field type")
		}
	})

	t.Run("list of objects", func(t *testing.T) {
		v := []any{map[string]any{"name": "John", "age": int64(30)}}
		if !Matches(v, ListOf(person)) {
			t.Error("expected match for list of objects")
		}
	})
}

func TestType_String(t *testing.T) {
	cases := []struct {
		t    Type
		want string
	}{
		{Any(), "any"},
		{Int(), "int"},
		{ListOf(Int()), "list<int>"},
		{List(), "list"},
		{MapOf(String()), "map<string>"},
		{TupleOf(Int(), String()), "tuple(int, string)"},
		{UnionOf(Int(), String()), "union(int|string)"},
		{ObjectOf(map[string]Type{"b": String(), "a": Int()}), "object{a:int, b:string}"},
	}

	for _, tc := range cases {
		if got := tc.t.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
