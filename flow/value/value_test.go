package value

import (
	"reflect"
	"testing"
)

func TestNormalize_Numbers(t *testing.T) {
	t.Run("small int widens to int64", func(t *testing.T) {
		got, err := Normalize(7)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got != int64(7) {
			t.Errorf("expected int64(7), got %T(%v)", got, got)
		}
	})

	t.Run("fractional float stays float64", func(t *testing.T) {
		got, err := Normalize(2.5)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got != 2.5 {
			t.Errorf("expected 2.5, got %T(%v)", got, got)
		}
	})

	t.Run("integral float collapses to int64", func(t *testing.T) {
		// encoding/json renders float64(3) as "3", so the integral form
		// survives a store round trip as an int. Fingerprints rely on this
		// collapse being deterministic.
		got, err := Normalize(float64(3))
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got != int64(3) {
			t.Errorf("expected int64(3), got %T(%v)", got, got)
		}
	})

	t.Run("large float keeps exponent form", func(t *testing.T) {
		got, err := Normalize(1e300)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got != 1e300 {
			t.Errorf("expected 1e300, got %T(%v)", got, got)
		}
	})
}

func TestNormalize_Composites(t *testing.T) {
	t.Run("typed slice becomes []any", func(t *testing.T) {
		got, err := Normalize([]int{1, 2, 3})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		want := []any{int64(1), int64(2), int64(3)}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("struct becomes map", func(t *testing.T) {
		type point struct {
			X int    `json:"x"`
			Y string `json:"y"`
		}
		got, err := Normalize(point{X: 1, Y: "up"})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		want := map[string]any{"x": int64(1), "y": "up"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		got, err := Normalize(nil)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("unencodable value errors", func(t *testing.T) {
		if _, err := Normalize(make(chan int)); err == nil {
			t.Error("expected error for channel value")
		}
	})
}

// TestCanonical_KeyOrder verifies the property fingerprinting depends on:
// identical map contents produce identical bytes regardless of insertion
// order, while sequence order is significant.
func TestCanonical_KeyOrder(t *testing.T) {
	a := map[string]any{"alpha": 1, "beta": []any{1, 2}, "gamma": "x"}
	b := map[string]any{"gamma": "x", "alpha": 1, "beta": []any{1, 2}}

	ca, err := Canonical(a)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	cb, err := Canonical(b)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("map key order changed canonical form: %s vs %s", ca, cb)
	}

	c := map[string]any{"alpha": 1, "beta": []any{2, 1}, "gamma": "x"}
	cc, err := Canonical(c)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	if string(ca) == string(cc) {
		t.Error("list reorder did not change canonical form")
	}
}

func TestEqual(t *testing.T) {
	t.Run("cross representation", func(t *testing.T) {
		if !Equal([]int{1, 2}, []any{int64(1), int64(2)}) {
			t.Error("expected typed and erased slices to be equal")
		}
	})

	t.Run("int and integral float", func(t *testing.T) {
		if !Equal(3, float64(3)) {
			t.Error("expected 3 and 3.0 to normalize equal")
		}
	})

	t.Run("different values", func(t *testing.T) {
		if Equal(map[string]any{"a": 1}, map[string]any{"a": 2}) {
			t.Error("expected different maps to be unequal")
		}
	})
}
