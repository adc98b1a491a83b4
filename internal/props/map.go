package props

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Map is an ordered, immutable property map.
//
// The zero Map is empty and ready to use. Maps are values: copying a Map is
// cheap and safe because no method mutates the receiver.
type Map struct {
	keys []string
	vals map[string]Value
}

// Pair is a key-value pair for Map construction.
type Pair struct {
	Key   string
	Value Value
}

// P is a shorthand for Pair.
// Example: props.New(props.P("width", props.Number(50)), props.P("opacity", props.Number(1)))
func P(key string, v Value) Pair {
	return Pair{Key: key, Value: v}
}

// New creates a Map from pairs in order. A repeated key keeps its first
// position and its last value.
func New(pairs ...Pair) Map {
	b := NewBuilder(len(pairs))
	for _, p := range pairs {
		b.Set(p.Key, p.Value)
	}
	return b.Map()
}

// Builder accumulates pairs for a Map. A Builder must not be used after Map.
type Builder struct {
	keys []string
	vals map[string]Value
}

// NewBuilder creates a Builder with room for n properties.
func NewBuilder(n int) *Builder {
	return &Builder{
		keys: make([]string, 0, n),
		vals: make(map[string]Value, n),
	}
}

// Set adds or overwrites a property. Nil values are ignored.
func (b *Builder) Set(key string, v Value) *Builder {
	if v == nil {
		return b
	}
	key = normalizeKey(key)
	if _, exists := b.vals[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.vals[key] = v
	return b
}

// Map returns the built Map.
func (b *Builder) Map() Map {
	if len(b.keys) == 0 {
		return Map{}
	}
	return Map{keys: b.keys, vals: b.vals}
}

func normalizeKey(k string) string {
	return norm.NFC.String(k)
}

// Len returns the number of properties.
func (m Map) Len() int {
	return len(m.keys)
}

// IsEmpty reports whether the map has no properties.
func (m Map) IsEmpty() bool {
	return len(m.keys) == 0
}

// Get returns the value for key.
func (m Map) Get(key string) (Value, bool) {
	if m.vals == nil {
		return nil, false
	}
	v, ok := m.vals[normalizeKey(key)]
	return v, ok
}

// Keys returns the property names in insertion order.
func (m Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for each property in insertion order until fn returns false.
func (m Map) Range(fn func(key string, v Value) bool) {
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Set returns a copy of m with key set to v.
func (m Map) Set(key string, v Value) Map {
	return m.Merge(New(P(key, v)))
}

// Merge returns the shallow merge of m and next: keys in next overwrite,
// keys new in next are appended in next's order, keys absent from next
// keep their value from m.
func (m Map) Merge(next Map) Map {
	if next.IsEmpty() {
		return m
	}
	if m.IsEmpty() {
		return next
	}

	b := NewBuilder(len(m.keys) + len(next.keys))
	for _, k := range m.keys {
		b.keys = append(b.keys, k)
		b.vals[k] = m.vals[k]
	}
	for _, k := range next.keys {
		if _, exists := b.vals[k]; !exists {
			b.keys = append(b.keys, k)
		}
		b.vals[k] = next.vals[k]
	}
	return b.Map()
}

// Equal reports whether both maps hold the same keys with equal values.
// Key order is not significant.
func (m Map) Equal(other Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	return m.Contains(other)
}

// Contains reports whether every property of subset is present in m with
// an equal value.
func (m Map) Contains(subset Map) bool {
	for _, k := range subset.keys {
		v, ok := m.vals[k]
		if !ok || !Equal(v, subset.vals[k]) {
			return false
		}
	}
	return true
}

// String renders the map as JSON for logs and test failure messages.
func (m Map) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid props: %v>", err)
	}
	return string(b)
}

// MarshalJSON implements json.Marshaler, preserving insertion order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(m.vals[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Document order of the object
// keys is preserved.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("property map must be a JSON object")
	}

	b := NewBuilder(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		v, err := FromAny(raw)
		if err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		b.Set(key, v)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}

	*m = b.Map()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler, preserving document order.
func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: property map must be a mapping", node.Line)
	}

	b := NewBuilder(len(node.Content) / 2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]

		var raw any
		if err := valNode.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: property %q: %w", valNode.Line, keyNode.Value, err)
		}
		v, err := FromAny(raw)
		if err != nil {
			return fmt.Errorf("line %d: property %q: %w", valNode.Line, keyNode.Value, err)
		}
		b.Set(keyNode.Value, v)
	}

	*m = b.Map()
	return nil
}

// ToAny converts m into a map[string]any of plain Go values.
func (m Map) ToAny() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = ToAny(m.vals[k])
	}
	return out
}
