package props

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same number", Number(1), Number(1), true},
		{"different number", Number(1), Number(2), false},
		{"number vs string", Number(1), String("1"), false},
		{"same string", String("red"), String("red"), true},
		{"same bool", Bool(true), Bool(true), true},
		{"list equal", List{Number(1), String("a")}, List{Number(1), String("a")}, true},
		{"list length differs", List{Number(1)}, List{Number(1), Number(2)}, false},
		{"transform equal", Transform{Op("scale", Number(2))}, Transform{Op("scale", Number(2))}, true},
		{"transform order matters",
			Transform{Op("scale", Number(2)), Op("rotate", String("1deg"))},
			Transform{Op("rotate", String("1deg")), Op("scale", Number(2))}, false},
		{"transform vs list", Transform{}, List{}, false},
		{"nil vs nil", nil, nil, true},
		{"nil vs number", nil, Number(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{"float", 0.5, Number(0.5)},
		{"int", 3, Number(3)},
		{"int64", int64(4), Number(4)},
		{"json number", json.Number("12.5"), Number(12.5)},
		{"string", "10px", String("10px")},
		{"bool", false, Bool(false)},
		{"list", []any{1, "a"}, List{Number(1), String("a")}},
		{"empty list", []any{}, List{}},
		{"transform", []any{map[string]any{"translateY": 5}}, Transform{Op("translateY", Number(5))}},
		{"already typed", String("x"), String("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestFromAny_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"object", map[string]any{"x": 1}},
		{"struct", struct{}{}},
		{"null inside transform", []any{map[string]any{"scale": nil}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromAny(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestMapFromAny_SortsKeys(t *testing.T) {
	m, err := MapFromAny(map[string]any{"width": 1, "height": 2, "opacity": 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"height", "opacity", "width"}, m.Keys())
}

func TestMarshalValue(t *testing.T) {
	b, err := MarshalValue(List{Number(1), Transform{Op("scale", Number(1.5))}})
	require.NoError(t, err)
	assert.Equal(t, `[1,[{"scale":1.5}]]`, string(b))
}

func TestToAny_RoundTripsThroughFromAny(t *testing.T) {
	values := []Value{
		Number(42),
		String("45deg"),
		Bool(true),
		List{Number(1), String("px")},
		Transform{Op("rotate", String("45deg")), Op("translateX", Number(10))},
	}
	for _, v := range values {
		back, err := FromAny(ToAny(v))
		require.NoError(t, err)
		assert.True(t, Equal(v, back), "%#v", v)
	}
}

func TestMap_ToAny(t *testing.T) {
	m := New(P("width", Number(50)), P("transform", Transform{Op("scale", Number(2))}))
	assert.Equal(t, map[string]any{
		"width":     float64(50),
		"transform": []any{map[string]any{"scale": float64(2)}},
	}, m.ToAny())
}
