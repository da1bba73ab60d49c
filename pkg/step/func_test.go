package step

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/leaptrace/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncStep(t *testing.T) {
	double := Func("double", []string{"value"}, func(row table.Row) (table.Delta, error) {
		v, _ := row.Get("value")
		n, ok := asNumber(v)
		if !ok {
			return nil, errors.New("not a number")
		}
		return table.Delta{"doubled": n * 2}, nil
	})

	assert.Equal(t, "double", double.Name())
	assert.Equal(t, []string{"value"}, double.Requires())

	delta, err := double.Apply(context.Background(), table.NewRow(map[string]any{"value": 21}))
	require.NoError(t, err)
	assert.Equal(t, table.Delta{"doubled": 42.0}, delta)
}

func TestFuncFallback(t *testing.T) {
	failing := Func("risky", nil, func(table.Row) (table.Delta, error) {
		return nil, errors.New("boom")
	}, WithFallback(table.Delta{"result": 0.0}))

	fp, ok := failing.(FallbackProvider)
	require.True(t, ok)

	d, has := fp.Fallback()
	require.True(t, has)
	assert.Equal(t, table.Delta{"result": 0.0}, d)

	plain := Func("plain", nil, func(table.Row) (table.Delta, error) { return nil, nil })
	_, has = plain.(FallbackProvider).Fallback()
	assert.False(t, has)
}

func TestFilterStep(t *testing.T) {
	positive := Filter("positive_only", []string{"v"}, func(row table.Row) (bool, error) {
		v, _ := row.Get("v")
		n, ok := asNumber(v)
		if !ok {
			return false, errors.New("not a number")
		}
		return n > 0, nil
	})

	keep, err := positive.Keep(context.Background(), table.NewRow(map[string]any{"v": 5}))
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = positive.Keep(context.Background(), table.NewRow(map[string]any{"v": -5}))
	require.NoError(t, err)
	assert.False(t, keep)
}
