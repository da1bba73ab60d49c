package starlark

import (
	"testing"

	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestRowToDict(t *testing.T) {
	row := table.NewRowWithID("r1", map[string]any{
		"name":   "widget",
		"count":  int64(3),
		"price":  9.5,
		"active": true,
		"tags":   []string{"new", "sale"},
		"attrs":  map[string]any{"color": "red"},
		"note":   nil,
	})

	dict, err := rowToDict(row)
	require.NoError(t, err, "rowToDict() error")
	assert.Equal(t, row.Len(), dict.Len(), "dict size")

	name, found, err := dict.Get(starlark.String("name"))
	require.NoError(t, err)
	require.True(t, found, "name key missing")
	assert.Equal(t, starlark.String("widget"), name)

	note, found, err := dict.Get(starlark.String("note"))
	require.NoError(t, err)
	require.True(t, found, "note key missing")
	assert.Equal(t, starlark.None, note)

	tags, found, err := dict.Get(starlark.String("tags"))
	require.NoError(t, err)
	require.True(t, found, "tags key missing")
	list, ok := tags.(*starlark.List)
	require.True(t, ok, "expected *starlark.List, got %T", tags)
	assert.Equal(t, 2, list.Len(), "tags length")
}

func TestRowToDict_UnsupportedType(t *testing.T) {
	row := table.NewRowWithID("r1", map[string]any{"ch": make(chan int)})

	_, err := rowToDict(row)
	require.Error(t, err, "expected error for unsupported column type")
	assert.Contains(t, err.Error(), `column "ch"`, "error names the column")
}

func TestToGoRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "string", in: "hello", want: "hello"},
		{name: "int widens to int64", in: 42, want: int64(42)},
		{name: "float", in: 0.05, want: 0.05},
		{name: "bool", in: true, want: true},
		{name: "nil", in: nil, want: nil},
		{name: "string slice becomes list", in: []string{"a", "b"}, want: []any{"a", "b"}},
		{name: "nested map", in: map[string]any{"k": []any{int64(1), "x"}}, want: map[string]any{"k": []any{int64(1), "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sv, err := goToStarlark(tt.in)
			require.NoError(t, err, "goToStarlark() error")

			got, err := toGo(sv)
			require.NoError(t, err, "toGo() error")
			assert.Equal(t, tt.want, got, "round trip")
		})
	}
}

func TestToGo_Tuple(t *testing.T) {
	got, err := toGo(starlark.Tuple{starlark.String("a"), starlark.MakeInt(1)})
	require.NoError(t, err, "toGo() error")
	assert.Equal(t, []any{"a", int64(1)}, got, "tuple")
}

func TestDeltaFromValue(t *testing.T) {
	t.Run("none means no delta", func(t *testing.T) {
		delta, err := deltaFromValue(starlark.None)
		require.NoError(t, err)
		assert.Nil(t, delta, "delta")
	})

	t.Run("dict becomes delta", func(t *testing.T) {
		dict := starlark.NewDict(2)
		require.NoError(t, dict.SetKey(starlark.String("rate"), starlark.Float(0.05)))
		require.NoError(t, dict.SetKey(starlark.String("band"), starlark.String("high")))

		delta, err := deltaFromValue(dict)
		require.NoError(t, err)
		assert.Equal(t, table.Delta{"rate": 0.05, "band": "high"}, delta, "delta")
	})

	t.Run("non-dict is rejected", func(t *testing.T) {
		_, err := deltaFromValue(starlark.MakeInt(3))
		require.Error(t, err, "expected error")
		assert.Contains(t, err.Error(), "must return a dict", "error message")
	})

	t.Run("non-string key is rejected", func(t *testing.T) {
		dict := starlark.NewDict(1)
		require.NoError(t, dict.SetKey(starlark.MakeInt(1), starlark.String("x")))

		_, err := deltaFromValue(dict)
		require.Error(t, err, "expected error")
	})
}
