package jinja2

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// Coercions are total: they never fail. Values that cannot be read as
// numbers become 0, missing things become nil.

// ToBool implements template truthiness.
func ToBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case RawString:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0 && !math.IsNaN(t)
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Iterable:
		return len(t.Items()) > 0
	}
	if isNumber(v) {
		return ToFloat(v) != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ToString renders a value the way it appears in template output.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case RawString:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return formatFloat(t, 64)
	case float32:
		return formatFloat(float64(t), 32)
	case []any:
		return "[" + strings.Join(ToStrings(t), ", ") + "]"
	case map[string]any:
		keys := sortedKeys(t)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + ToString(t[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return ""
	}
	switch t := v.(type) {
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	if k := rv.Kind(); k == reflect.Slice || k == reflect.Array {
		return ToString(ToList(v))
	}
	return fmt.Sprint(v)
}

// ToStrings stringifies every item.
func ToStrings(items []any) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = ToString(it)
	}
	return out
}

func formatFloat(f float64, bits int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	if math.Abs(f) >= 1e21 {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// ToFloat reads v as a number; anything unreadable is 0.
func ToFloat(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case int:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case RawString:
		v = string(t)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		if s, ok := v.(string); ok {
			if g, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return g
			}
		}
		return 0
	}
	return f
}

// ToInt reads v as an integer, truncating fractions.
func ToInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	}
	return saturateInt(ToFloat(v))
}

func isNumber(v any) bool {
	switch v.(type) {
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// Numeric ranks used to pick the result type of arithmetic:
// boolean < int < long < float < double < string.
const (
	rankBool = iota
	rankInt
	rankLong
	rankFloat
	rankDouble
	rankString
)

func numRank(v any) int {
	switch v.(type) {
	case bool:
		return rankBool
	case int, int8, int16, int32, uint8, uint16:
		return rankInt
	case int64, uint, uint32, uint64:
		return rankLong
	case float32:
		return rankFloat
	case float64:
		return rankDouble
	}
	return rankString
}

// arith applies op through float64 and casts the result back to the widest
// operand type. Integer results outside the target range saturate.
func arith(op byte, a, b any) any {
	rank := max(numRank(a), numRank(b))
	x, y := ToFloat(a), ToFloat(b)
	var r float64
	switch op {
	case '+':
		r = x + y
	case '-':
		r = x - y
	case '*':
		r = x * y
	case '/':
		r = x / y
	case '%':
		r = math.Mod(x, y)
	}
	return castRank(rank, r)
}

func castRank(rank int, f float64) any {
	switch rank {
	case rankBool, rankInt:
		return saturateInt(f)
	case rankLong:
		return saturateInt64(f)
	case rankFloat:
		return float32(f)
	}
	return f
}

// saturateInt64 truncates f, clamping to the int64 range. float64(MaxInt64)
// rounds up to 2^63, so the bounds are compared as powers of two.
func saturateInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= 0x1p63:
		return math.MaxInt64
	case f <= -0x1p63:
		return math.MinInt64
	}
	return int64(f)
}

func saturateInt(f float64) int {
	n := saturateInt64(f)
	switch {
	case n > math.MaxInt:
		return math.MaxInt
	case n < math.MinInt:
		return math.MinInt
	}
	return int(n)
}

// ToList is the list view used by for loops and list filters: nil is empty,
// strings iterate runes, maps iterate sorted keys, scalars are a one item list.
func ToList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	case string:
		return splitRunes(t)
	case RawString:
		return splitRunes(string(t))
	case map[string]any:
		keys := sortedKeys(t)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out
	case Iterable:
		return t.Items()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		keys := rv.MapKeys()
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k.Interface()
		}
		sortValues(out)
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
	}
	return []any{v}
}

// pair is one step of a two-binding for loop.
type pair struct{ key, value any }

// toPairs yields key/value pairs: sorted entries for maps, index/item for
// everything else.
func toPairs(v any) []pair {
	switch t := v.(type) {
	case map[string]any:
		keys := sortedKeys(t)
		out := make([]pair, len(keys))
		for i, k := range keys {
			out[i] = pair{k, t[k]}
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if v != nil && rv.Kind() == reflect.Map {
		keys := make([]any, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.Interface())
		}
		sortValues(keys)
		out := make([]pair, len(keys))
		for i, k := range keys {
			out[i] = pair{k, rv.MapIndex(reflect.ValueOf(k)).Interface()}
		}
		return out
	}
	items := ToList(v)
	out := make([]pair, len(items))
	for i, it := range items {
		out[i] = pair{i, it}
	}
	return out
}

func splitRunes(s string) []any {
	out := make([]any, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortValues(items []any) {
	sort.SliceStable(items, func(i, j int) bool { return Compare(items[i], items[j]) < 0 })
}

// Compare orders two values: numbers numerically, lists element-wise and
// everything else by string form. nil sorts first.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if isNumber(a) && isNumber(b) {
		x, y := ToFloat(a), ToFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if isListLike(a) && isListLike(b) {
		la, lb := ToList(a), ToList(b)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := Compare(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(la), len(lb))
	}
	return strings.Compare(ToString(a), ToString(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isListLike(v any) bool {
	switch v.(type) {
	case []any, Iterable:
		return true
	case nil, string, RawString:
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// Equal is loose equality: numbers by value, lists element-wise, the rest
// by string form.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		return ToFloat(a) == ToFloat(b)
	}
	if isListLike(a) && isListLike(b) {
		return Compare(a, b) == 0
	}
	return ToString(a) == ToString(b)
}

// StrictEqual additionally requires both sides to be of the same family.
func StrictEqual(a, b any) bool {
	if isNumber(a) != isNumber(b) {
		return false
	}
	if !isNumber(a) && reflect.TypeOf(a) != reflect.TypeOf(b) {
		_, sa := a.(string)
		_, ra := a.(RawString)
		_, sb := b.(string)
		_, rb := b.(RawString)
		if !((sa || ra) && (sb || rb)) {
			return false
		}
	}
	return Equal(a, b)
}

// Contains reports whether haystack holds needle: substring for strings,
// key for maps, element otherwise.
func Contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(h, ToString(needle))
	case RawString:
		return strings.Contains(string(h), ToString(needle))
	case map[string]any:
		_, ok := h[ToString(needle)]
		return ok
	case Gettable:
		_, ok := h.Get(needle)
		return ok
	}
	if reflect.ValueOf(haystack).Kind() == reflect.Map {
		for _, k := range ToList(haystack) {
			if Equal(k, needle) {
				return true
			}
		}
		return false
	}
	for _, it := range ToList(haystack) {
		if Equal(it, needle) {
			return true
		}
	}
	return false
}

// Length counts runes, items or entries.
func Length(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return utf8.RuneCountInString(t)
	case RawString:
		return utf8.RuneCountInString(string(t))
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return len(ToList(v))
}
