package starlark

import (
	"fmt"

	"github.com/leapstack-labs/leaptrace/pkg/table"
	"go.starlark.net/starlark"
)

// rowToDict converts a row's columns to a Starlark dict. The dict is built
// fresh per evaluation, so user expressions can never mutate the row.
func rowToDict(row table.Row) (*starlark.Dict, error) {
	cols := row.Columns()
	dict := starlark.NewDict(len(cols))
	for _, name := range cols {
		v, _ := row.Get(name)
		sv, err := goToStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		if err := dict.SetKey(starlark.String(name), sv); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
	}
	return dict, nil
}

// goToStarlark converts a Go value to a Starlark value.
// Supported types: nil, string, int, int64, float64, bool, []string, []any,
// map[string]any.
func goToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := goToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := goToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// toGo converts a Starlark value back to a Go value.
// Returns: nil, string, int64, float64, bool, []any, or map[string]any.
func toGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			// Very large integers fall back to their decimal string.
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := toGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := toGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := toGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// deltaFromValue converts a step function's return value into a column
// delta. None means no new columns; anything but a dict is rejected.
func deltaFromValue(v starlark.Value) (table.Delta, error) {
	if _, ok := v.(starlark.NoneType); ok {
		return nil, nil
	}

	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("step function must return a dict of new columns or None, got %s", v.Type())
	}

	out, err := toGo(dict)
	if err != nil {
		return nil, err
	}
	delta := table.Delta{}
	for k, e := range out.(map[string]any) {
		delta[k] = e
	}
	return delta, nil
}
