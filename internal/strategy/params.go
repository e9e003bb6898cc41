package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind tags the value type a parameter carries.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged parameter value. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Int   int
	Float float64
	Bool  bool
}

func IntValue(v int) Value { return Value{Kind: KindInt, Int: v} }

func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// MarshalJSON emits the bare payload so exported parameter maps read like
// plain JSON objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return nil, fmt.Errorf("unknown parameter kind %d", v.Kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f == math.Trunc(f) {
		*v = IntValue(int(f))
	} else {
		*v = FloatValue(f)
	}
	return nil
}

// Params is a named parameter assignment.
type Params map[string]Value

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names, sorted for deterministic iteration.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int reads an int parameter; float values are truncated so loosely typed
// callers (JSON round-trips) still resolve.
func (p Params) Int(name string) (int, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindFloat:
		return int(v.Float), true
	default:
		return 0, false
	}
}

func (p Params) Float(name string) (float64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	default:
		return 0, false
	}
}

func (p Params) Bool(name string) (bool, bool) {
	v, ok := p[name]
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// ParameterRange declares the searchable span of one strategy parameter.
// Min/Max/Step apply to int and float kinds; bool ranges enumerate
// {true, false}.
type ParameterRange struct {
	Name      string
	Kind      Kind
	IntMin    int
	IntMax    int
	IntStep   int
	FloatMin  float64
	FloatMax  float64
	FloatStep float64
}

func IntRange(name string, min, max, step int) ParameterRange {
	return ParameterRange{Name: name, Kind: KindInt, IntMin: min, IntMax: max, IntStep: step}
}

func FloatRange(name string, min, max, step float64) ParameterRange {
	return ParameterRange{Name: name, Kind: KindFloat, FloatMin: min, FloatMax: max, FloatStep: step}
}

func BoolRange(name string) ParameterRange {
	return ParameterRange{Name: name, Kind: KindBool}
}

// Validate rejects malformed ranges before a search starts.
func (r ParameterRange) Validate() error {
	switch r.Kind {
	case KindInt:
		if r.IntStep <= 0 {
			return fmt.Errorf("range %s: int step must be positive", r.Name)
		}
		if r.IntMax < r.IntMin {
			return fmt.Errorf("range %s: max %d below min %d", r.Name, r.IntMax, r.IntMin)
		}
	case KindFloat:
		if r.FloatStep <= 0 {
			return fmt.Errorf("range %s: float step must be positive", r.Name)
		}
		if r.FloatMax < r.FloatMin {
			return fmt.Errorf("range %s: max %g below min %g", r.Name, r.FloatMax, r.FloatMin)
		}
	case KindBool:
	default:
		return fmt.Errorf("range %s: unknown kind %d", r.Name, r.Kind)
	}
	return nil
}

// GridValues discretizes the range by its step, inclusive of both ends the
// way a step-bounded loop lands. Bool ranges yield {true, false}.
func (r ParameterRange) GridValues() []Value {
	switch r.Kind {
	case KindInt:
		var out []Value
		for v := r.IntMin; v <= r.IntMax; v += r.IntStep {
			out = append(out, IntValue(v))
		}
		return out
	case KindFloat:
		var out []Value
		for v := r.FloatMin; v <= r.FloatMax; v += r.FloatStep {
			out = append(out, FloatValue(v))
		}
		return out
	case KindBool:
		return []Value{BoolValue(true), BoolValue(false)}
	default:
		return nil
	}
}

// Cardinality is the discretized value count used by grid search.
func (r ParameterRange) Cardinality() int {
	return len(r.GridValues())
}

// Clamp forces a value back inside the range after mutation.
func (r ParameterRange) Clamp(v Value) Value {
	switch r.Kind {
	case KindInt:
		if v.Int < r.IntMin {
			v.Int = r.IntMin
		}
		if v.Int > r.IntMax {
			v.Int = r.IntMax
		}
	case KindFloat:
		if v.Float < r.FloatMin {
			v.Float = r.FloatMin
		}
		if v.Float > r.FloatMax {
			v.Float = r.FloatMax
		}
	}
	return v
}

// NormalizedDistance measures how far apart two values of this range are on
// a 0..1 scale; used by the exploration heuristic.
func (r ParameterRange) NormalizedDistance(a, b Value) float64 {
	switch r.Kind {
	case KindInt:
		span := float64(r.IntMax - r.IntMin)
		if span <= 0 {
			return 0
		}
		return math.Abs(float64(a.Int-b.Int)) / span
	case KindFloat:
		span := r.FloatMax - r.FloatMin
		if span <= 0 {
			return 0
		}
		return math.Abs(a.Float-b.Float) / span
	case KindBool:
		if a.Bool != b.Bool {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// ParamsFromMap coerces a loosely typed parameter map (JSON request bodies,
// YAML profiles) into typed Params, using the declared ranges to decide each
// value's kind. Unknown names and uncoercible values are errors.
func ParamsFromMap(raw map[string]any, ranges map[string]ParameterRange) (Params, error) {
	out := make(Params, len(raw))
	for name, val := range raw {
		r, ok := ranges[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter: %s", name)
		}
		switch r.Kind {
		case KindInt:
			f, ok := toFloat(val)
			if !ok || f != math.Trunc(f) {
				return nil, fmt.Errorf("parameter %s expects an integer, got %v", name, val)
			}
			out[name] = IntValue(int(f))
		case KindFloat:
			f, ok := toFloat(val)
			if !ok {
				return nil, fmt.Errorf("parameter %s expects a number, got %v", name, val)
			}
			out[name] = FloatValue(f)
		case KindBool:
			b, ok := val.(bool)
			if !ok {
				return nil, fmt.Errorf("parameter %s expects a bool, got %v", name, val)
			}
			out[name] = BoolValue(b)
		default:
			return nil, fmt.Errorf("parameter %s has unsupported kind", name)
		}
	}
	return out, nil
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
