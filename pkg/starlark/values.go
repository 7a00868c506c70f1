package starlark

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/neurodesk/tengine/pkg/jinja2"
	"go.starlark.net/starlark"
)

// ToStarlark converts a template value to a Starlark value. Maps become
// dicts, slices become lists and anything unrecognised is passed as its
// string form.
func ToStarlark(val any) starlark.Value {
	switch v := val.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case *function:
		return v.fn
	case string:
		return starlark.String(v)
	case jinja2.RawString:
		return starlark.String(string(v))
	case bool:
		return starlark.Bool(v)
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case float64:
		return starlark.Float(v)
	case float32:
		return starlark.Float(float64(v))
	case []any:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = ToStarlark(item)
		}
		return starlark.NewList(items)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(v))
		for _, k := range keys {
			dict.SetKey(starlark.String(k), ToStarlark(v[k]))
		}
		return dict
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(rv.Uint())
	case reflect.Slice, reflect.Array:
		return ToStarlark(jinja2.ToList(val))
	case reflect.Map:
		dict := starlark.NewDict(rv.Len())
		for _, k := range rv.MapKeys() {
			dict.SetKey(ToStarlark(k.Interface()), ToStarlark(rv.MapIndex(k).Interface()))
		}
		return dict
	}
	return starlark.String(jinja2.ToString(val))
}

// FromStarlark converts a Starlark value to plain Go values understood by
// the template engine.
func FromStarlark(val starlark.Value) any {
	switch v := val.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.String:
		return string(v)
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			if i >= math.MinInt && i <= math.MaxInt {
				return int(i)
			}
			return i
		}
		// too large for int64
		return v.String()
	case starlark.Float:
		return float64(v)
	case *starlark.List:
		items := make([]any, v.Len())
		for i := range items {
			items[i] = FromStarlark(v.Index(i))
		}
		return items
	case starlark.Tuple:
		items := make([]any, len(v))
		for i, it := range v {
			items[i] = FromStarlark(it)
		}
		return items
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key := item[0]
			if s, ok := key.(starlark.String); ok {
				out[string(s)] = FromStarlark(item[1])
			} else {
				out[key.String()] = FromStarlark(item[1])
			}
		}
		return out
	case starlark.Callable:
		return &function{fn: v}
	}
	return val.String()
}

func toStarlarkArgs(args []any) starlark.Tuple {
	out := make(starlark.Tuple, len(args))
	for i, a := range args {
		out[i] = ToStarlark(a)
	}
	return out
}

// function exposes a Starlark callable to templates.
type function struct {
	fn starlark.Callable
}

func (f *function) Call(c *jinja2.Context, args []any) (any, error) {
	return call(c, f.fn, toStarlarkArgs(args))
}

func (f *function) String() string { return fmt.Sprintf("<starlark %s>", f.fn.Name()) }
