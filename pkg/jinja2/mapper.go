package jinja2

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// ObjectMapper is the fallback used for values that do not implement
// Gettable, Settable or Callable themselves.
type ObjectMapper interface {
	// Get resolves obj[key]. Missing keys report false, never an error.
	Get(obj, key any) (any, bool)
	Set(obj, key, value any) error
	// Call invokes the method key of obj.
	Call(obj, key any, args []any) (any, error)
}

// ReflectMapper resolves maps, slices, strings, struct fields and methods
// through reflection.
type ReflectMapper struct{}

// ErrNoMethod is returned by Call when obj has no method of that name.
var ErrNoMethod = errors.New("no such method")

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	anySliceType = reflect.TypeOf([]any(nil))
)

func (ReflectMapper) Get(obj, key any) (any, bool) {
	switch o := obj.(type) {
	case nil:
		return nil, false
	case Gettable:
		return o.Get(key)
	case map[string]any:
		v, ok := o[ToString(key)]
		if !ok {
			return listProperty(obj, key)
		}
		return v, ok
	case []any:
		if i, ok := index(key, len(o)); ok {
			return o[i], true
		}
		return listProperty(obj, key)
	case string, RawString:
		runes := []rune(ToString(o))
		if i, ok := index(key, len(runes)); ok {
			return string(runes[i]), true
		}
		return listProperty(obj, key)
	}

	rv := reflect.ValueOf(obj)
	if nilPointer(rv) {
		return nil, false
	}
	if m, ok := methodByName(rv, ToString(key)); ok && m.Type().NumIn() == 0 {
		v, err := callMethod(m, nil)
		return v, err == nil
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		k, err := convertTo(key, rv.Type().Key())
		if err != nil {
			return nil, false
		}
		v := rv.MapIndex(k)
		if !v.IsValid() {
			return listProperty(obj, key)
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		if i, ok := index(key, rv.Len()); ok {
			return rv.Index(i).Interface(), true
		}
		return listProperty(obj, key)
	case reflect.Struct:
		if f, ok := fieldByName(rv, ToString(key)); ok {
			return f.Interface(), true
		}
	}
	return nil, false
}

// listProperty serves the size/first/last pseudo keys of collections.
func listProperty(obj, key any) (any, bool) {
	switch ToString(key) {
	case "size", "length":
		return Length(obj), true
	case "first":
		items := ToList(obj)
		if len(items) == 0 {
			return nil, false
		}
		return items[0], true
	case "last":
		items := ToList(obj)
		if len(items) == 0 {
			return nil, false
		}
		return items[len(items)-1], true
	}
	return nil, false
}

// index reads key as a position in a sequence of n items. Negative indexes
// count from the end.
func index(key any, n int) (int, bool) {
	if !isNumber(key) {
		s, ok := key.(string)
		if !ok || s == "" || !isDigits(strings.TrimPrefix(s, "-")) {
			return 0, false
		}
	}
	i := ToInt(key)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func exported(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

func fieldByName(rv reflect.Value, name string) (reflect.Value, bool) {
	if name == "" {
		return reflect.Value{}, false
	}
	if f := rv.FieldByName(name); f.IsValid() && f.CanInterface() {
		return f, true
	}
	if f := rv.FieldByName(exported(name)); f.IsValid() && f.CanInterface() {
		return f, true
	}
	f := rv.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) })
	if f.IsValid() && f.CanInterface() {
		return f, true
	}
	return reflect.Value{}, false
}

func methodByName(rv reflect.Value, name string) (reflect.Value, bool) {
	if !rv.IsValid() || name == "" {
		return reflect.Value{}, false
	}
	if m := rv.MethodByName(exported(name)); m.IsValid() {
		return m, true
	}
	if rv.Kind() != reflect.Pointer && rv.CanAddr() {
		if m := rv.Addr().MethodByName(exported(name)); m.IsValid() {
			return m, true
		}
	}
	return reflect.Value{}, false
}

func nilPointer(rv reflect.Value) bool {
	return (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil()
}

// callMethod calls m with args converted to its parameter types. Methods may
// return a value, an error, or a value and an error. A panicking method
// reports an error.
func callMethod(m reflect.Value, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("method panicked: %v", r)
		}
	}()
	t := m.Type()
	in := make([]reflect.Value, 0, len(args))
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		if t.IsVariadic() && i == t.NumIn()-1 {
			for _, a := range args[min(i, len(args)):] {
				v, err := convertTo(a, pt.Elem())
				if err != nil {
					return nil, err
				}
				in = append(in, v)
			}
			return unpackResults(m.Call(in))
		}
		var a any
		if i < len(args) {
			a = args[i]
		}
		v, err := convertTo(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in = append(in, v)
	}
	return unpackResults(m.Call(in))
}

func unpackResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		var err error
		if last := out[len(out)-1]; last.Type() == errorType && !last.IsNil() {
			err = last.Interface().(error)
		}
		return out[0].Interface(), err
	}
}

// convertTo coerces v to t using the template coercion rules.
func convertTo(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	var out any
	var err error
	switch t.Kind() {
	case reflect.String:
		out = ToString(v)
	case reflect.Bool:
		out = ToBool(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out, err = cast.ToInt64E(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out, err = cast.ToUint64E(v)
	case reflect.Float32, reflect.Float64:
		out = ToFloat(v)
	case reflect.Slice:
		if t == anySliceType {
			out = ToList(v)
		}
	case reflect.Interface:
		if rv.Type().Implements(t) {
			return rv, nil
		}
	}
	if err != nil {
		return reflect.Value{}, err
	}
	if out == nil {
		if rv.Type().ConvertibleTo(t) {
			return rv.Convert(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
	}
	return reflect.ValueOf(out).Convert(t), nil
}

func (ReflectMapper) Set(obj, key, value any) error {
	switch o := obj.(type) {
	case nil:
		return fmt.Errorf("cannot set %q on a missing value", ToString(key))
	case Settable:
		return o.Set(key, value)
	case map[string]any:
		o[ToString(key)] = value
		return nil
	case []any:
		i, ok := index(key, len(o))
		if !ok {
			return fmt.Errorf("index %v out of range", key)
		}
		o[i] = value
		return nil
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Map:
		k, err := convertTo(key, rv.Type().Key())
		if err != nil {
			return err
		}
		v, err := convertTo(value, rv.Type().Elem())
		if err != nil {
			return err
		}
		rv.SetMapIndex(k, v)
		return nil
	case reflect.Pointer:
		if rv.IsNil() {
			break
		}
		rv = rv.Elem()
		if rv.Kind() != reflect.Struct {
			break
		}
		f, ok := fieldByName(rv, ToString(key))
		if !ok || !f.CanSet() {
			return fmt.Errorf("cannot set field %q of %T", ToString(key), obj)
		}
		v, err := convertTo(value, f.Type())
		if err != nil {
			return err
		}
		f.Set(v)
		return nil
	}
	return fmt.Errorf("cannot set %q on %T", ToString(key), obj)
}

func (ReflectMapper) Call(obj, key any, args []any) (any, error) {
	name := ToString(key)
	rv := reflect.ValueOf(obj)
	if nilPointer(rv) {
		return nil, fmt.Errorf("nil %T.%s: %w", obj, name, ErrNoMethod)
	}
	m, ok := methodByName(rv, name)
	if !ok {
		return nil, fmt.Errorf("%T.%s: %w", obj, name, ErrNoMethod)
	}
	return callMethod(m, args)
}
