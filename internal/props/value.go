package props

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Value is a sealed interface representing a single property value.
// Only Number, String, Bool, List and Transform implement it.
type Value interface {
	propValue() // Sealed - only these types implement it
}

// Number is a numeric property value (lengths, opacity, scale factors).
type Number float64

func (Number) propValue() {}

// String is a textual property value (colours, units such as "45deg").
type String string

func (String) propValue() {}

// Bool is a boolean property value.
type Bool bool

func (Bool) propValue() {}

// List is an ordered list of values (e.g. shadow offsets).
type List []Value

func (List) propValue() {}

// TransformOp is one step of a transform list, e.g. {translateX: 10}.
type TransformOp struct {
	Name  string
	Value Value
}

// Transform is an ordered transform list. Order is significant:
// [{rotate}, {translateX}] is not the same as [{translateX}, {rotate}].
type Transform []TransformOp

func (Transform) propValue() {}

// Op is a shorthand for constructing a TransformOp.
func Op(name string, v Value) TransformOp {
	return TransformOp{Name: name, Value: v}
}

// Equal reports whether two values are identical.
// Values of different kinds are never equal, even Number(1) and String("1").
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Transform:
		bv, ok := b.(Transform)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Name != bv[i].Name || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

// MarshalValue marshals a Value to JSON bytes.
// Transform ops are encoded as single-key objects: [{"translateX":10}].
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Number:
		return json.Marshal(float64(val))
	case String:
		return json.Marshal(string(val))
	case Bool:
		return json.Marshal(bool(val))
	case List:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Transform:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, op := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(op.Name)
			if err != nil {
				return nil, err
			}
			b, err := MarshalValue(op.Value)
			if err != nil {
				return nil, fmt.Errorf("transform[%d] %q: %w", i, op.Name, err)
			}
			buf.WriteByte('{')
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(b)
			buf.WriteByte('}')
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// FromAny converts a loosely-typed Go value (as produced by encoding/json,
// yaml.v3 or CUE decoding) into a Value.
//
// Arrays whose elements are all single-key objects become a Transform;
// other arrays become a List. Objects anywhere else are rejected, as is null.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a property value")
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Number(f), nil
	case []any:
		if t, ok, err := transformFromAny(val); ok || err != nil {
			return t, err
		}
		list := make(List, len(val))
		for i, elem := range val {
			pv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = pv
		}
		return list, nil
	case map[string]any:
		return nil, fmt.Errorf("nested objects are only allowed inside transform lists")
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// transformFromAny recognises [{name: value}, ...]. ok is false when the
// array is not a transform list at all.
func transformFromAny(arr []any) (Transform, bool, error) {
	if len(arr) == 0 {
		return nil, false, nil
	}
	for _, elem := range arr {
		m, isMap := elem.(map[string]any)
		if !isMap || len(m) != 1 {
			return nil, false, nil
		}
	}

	t := make(Transform, len(arr))
	for i, elem := range arr {
		m := elem.(map[string]any)
		for name, raw := range m {
			pv, err := FromAny(raw)
			if err != nil {
				return nil, true, fmt.Errorf("transform[%d] %q: %w", i, name, err)
			}
			t[i] = TransformOp{Name: normalizeKey(name), Value: pv}
		}
	}
	return t, true, nil
}

// MapFromAny converts a map[string]any into a Map.
// Go maps carry no order, so keys are inserted in sorted order.
func MapFromAny(raw map[string]any) (Map, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := NewBuilder(len(keys))
	for _, k := range keys {
		v, err := FromAny(raw[k])
		if err != nil {
			return Map{}, fmt.Errorf("property %q: %w", k, err)
		}
		b.Set(k, v)
	}
	return b.Map(), nil
}

// ToAny converts a Value into plain Go values: float64, string, bool,
// []any, and single-key map[string]any for transform ops. It is the inverse
// of FromAny and feeds encoders that do not know about Value.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Number:
		return float64(val)
	case String:
		return string(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Transform:
		out := make([]any, len(val))
		for i, op := range val {
			out[i] = map[string]any{op.Name: ToAny(op.Value)}
		}
		return out
	default:
		return nil
	}
}
