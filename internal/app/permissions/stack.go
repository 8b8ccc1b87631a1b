package permissions

import (
	"fmt"
	"sort"
)

// Layer precedence ranks. Higher wins.
const (
	OrderSystem     = 0
	OrderConference = 10
	OrderModerator  = 15
	OrderRoom       = 20
	OrderTemporary  = 30
)

// Layer is one ordered, named source of permission values.
type Layer struct {
	Name   string         `json:"name"`
	Order  int            `json:"order"`
	Values map[string]any `json:"values"`
}

// Stack is the ordered layer list of one participant at one point in time.
// Resolution is deterministic and side-effect free: for identical layer
// contents the result is always identical.
type Stack struct {
	layers []Layer
}

// NewStack builds a stack; layers are kept sorted ascending by Order so
// lookup scans from the highest-precedence layer down.
func NewStack(layers []Layer) Stack {
	sorted := make([]Layer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return Stack{layers: sorted}
}

// Layers returns the ordered layers, lowest precedence first.
func (s Stack) Layers() []Layer {
	out := make([]Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Get returns the first defined value for key, scanning layers highest to
// lowest precedence, falling back to the descriptor default. The second
// return is false for keys that are not defined permissions.
func (s Stack) Get(key string) (any, bool) {
	desc, known := DescriptorFor(key)
	if !known {
		return nil, false
	}
	for i := len(s.layers) - 1; i >= 0; i-- {
		if v, ok := s.layers[i].Values[key]; ok {
			return v, true
		}
	}
	return desc.Default, true
}

// GetBool resolves a boolean permission, failing on unknown keys and on
// layers that define the key with the wrong type.
func (s Stack) GetBool(key string) (bool, error) {
	v, ok := s.Get(key)
	if !ok {
		return false, fmt.Errorf("permissions: unknown key %q", key)
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("permissions: %s resolved to %T, expected bool", key, v)
	}
	return b, nil
}

// GetNumber resolves a numeric permission.
func (s Stack) GetNumber(key string) (float64, error) {
	v, ok := s.Get(key)
	if !ok {
		return 0, fmt.Errorf("permissions: unknown key %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("permissions: %s resolved to %T, expected number", key, v)
	}
}

// Flatten returns the effective value of every defined permission.
func (s Stack) Flatten() map[string]any {
	out := make(map[string]any, len(Defined))
	for _, d := range Defined {
		v, _ := s.Get(d.Key)
		out[d.Key] = v
	}
	return out
}

// SystemDefaultLayer materializes the descriptor defaults as the lowest
// layer, so clients inspecting a stack see where every value comes from.
func SystemDefaultLayer() Layer {
	values := make(map[string]any, len(Defined))
	for _, d := range Defined {
		values[d.Key] = d.Default
	}
	return Layer{Name: "systemDefault", Order: OrderSystem, Values: values}
}
