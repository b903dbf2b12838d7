package flow

import (
	"github.com/dshills/flow-go/flow/value"
)

// Param declares one named, typed input of a processor kind.
type Param struct {
	// Name is the parameter name bindings refer to.
	Name string

	// Type is the runtime type resolved values must match.
	Type value.Type
}

// Signature is the ordered parameter list a processor kind declares for its
// Process step (or, via InitSigner, for its Init step). Bindings must cover
// exactly these names; extra or missing names are a construction error.
//
// Example:
//
//	func (sumKind) Signature() flow.Signature {
//	    return flow.Signature{
//	        {Name: "a", Type: value.Int()},
//	        {Name: "b", Type: value.Int()},
//	    }
//	}
type Signature []Param

// Param returns the named parameter and whether the signature declares it.
func (s Signature) Param(name string) (Param, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Names returns the parameter names in declaration order.
func (s Signature) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// Inputs carries resolved parameter values into Init and Process calls,
// keyed by parameter name. Values are in normalized form (see the value
// package): nil, bool, int64, float64, string, []any, or map[string]any.
//
// The typed getters do not re-check types: the engine validates every value
// against the declared signature before the call, so a getter for the
// declared type always succeeds. Getting an absent or differently-typed
// input returns the zero value.
type Inputs map[string]any

// Int returns the named input as an int64.
func (in Inputs) Int(name string) int64 {
	v, _ := in[name].(int64)
	return v
}

// Float returns the named input as a float64. Integer values are widened,
// matching the type system's rule that an int is accepted where a float is
// declared.
func (in Inputs) Float(name string) float64 {
	switch v := in[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// String returns the named input as a string.
func (in Inputs) String(name string) string {
	v, _ := in[name].(string)
	return v
}

// Bool returns the named input as a bool.
func (in Inputs) Bool(name string) bool {
	v, _ := in[name].(bool)
	return v
}

// List returns the named input as a []any.
func (in Inputs) List(name string) []any {
	v, _ := in[name].([]any)
	return v
}

// Map returns the named input as a map[string]any.
func (in Inputs) Map(name string) map[string]any {
	v, _ := in[name].(map[string]any)
	return v
}
