package jinja2

import (
	"errors"
	"fmt"
	"html"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gosimple/slug"
	"github.com/oarkflow/date"
	"github.com/shopspring/decimal"
)

var errDivideByZero = errors.New("divided by zero")

// DefaultFilters returns the built-in filter table.
func DefaultFilters() map[string]Filter {
	return map[string]Filter{
		// strings
		"upper":      stringFilter(strings.ToUpper),
		"lower":      stringFilter(strings.ToLower),
		"capitalize": stringFilter(capitalize),
		"title":      stringFilter(title),
		"trim":       stringFilter(strings.TrimSpace),
		"strip":      stringFilter(strings.TrimSpace),
		"lstrip":     stringFilter(func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) }),
		"rstrip":     stringFilter(func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }),
		"split":      filterSplit,
		"join":       filterJoin,
		"slice":      filterSlice,
		"replace":    filterReplace,
		"append":     func(_ *Context, v any, args []any) (any, error) { return ToString(v) + ToString(arg(args, 0)), nil },
		"prepend":    func(_ *Context, v any, args []any) (any, error) { return ToString(arg(args, 0)) + ToString(v), nil },
		"truncate":   filterTruncate,
		"length":     func(_ *Context, v any, _ []any) (any, error) { return Length(v), nil },
		"size":       func(_ *Context, v any, _ []any) (any, error) { return Length(v), nil },
		"reverse":    filterReverse,
		"quote":      func(_ *Context, v any, _ []any) (any, error) { return strconv.Quote(ToString(v)), nil },
		"raw":        filterRaw,
		"safe":       filterRaw,
		"escape":     func(_ *Context, v any, _ []any) (any, error) { return RawString(html.EscapeString(ToString(v))), nil },
		"default":    filterDefault,

		// lists
		"first":   filterFirst,
		"last":    filterLast,
		"map":     filterMap,
		"where":   filterWhere,
		"sort":    filterSort,
		"uniq":    filterUniq,
		"chunked": filterChunked,
		"merge":   filterMerge,
		"sum":     filterSum,
		"compact": filterCompact,
		"keys":    filterKeys,
		"list":    func(_ *Context, v any, _ []any) (any, error) { return ToList(v), nil },

		// conversions
		"int":    func(_ *Context, v any, _ []any) (any, error) { return ToInt(v), nil },
		"float":  func(_ *Context, v any, _ []any) (any, error) { return ToFloat(v), nil },
		"string": func(_ *Context, v any, _ []any) (any, error) { return ToString(v), nil },
		"bool":   func(_ *Context, v any, _ []any) (any, error) { return ToBool(v), nil },

		// numbers
		"abs":        numberFilter(math.Abs),
		"ceil":       func(_ *Context, v any, _ []any) (any, error) { return castRank(rankInt, math.Ceil(ToFloat(v))), nil },
		"floor":      func(_ *Context, v any, _ []any) (any, error) { return castRank(rankInt, math.Floor(ToFloat(v))), nil },
		"round":      filterRound,
		"plus":       arithFilter('+'),
		"minus":      arithFilter('-'),
		"times":      arithFilter('*'),
		"divided_by": arithFilter('/'),
		"modulo":     arithFilter('%'),

		// formats
		"json":     filterJSON,
		"slugify":  func(_ *Context, v any, _ []any) (any, error) { return slug.Make(ToString(v)), nil },
		"sanitize": func(_ *Context, v any, _ []any) (any, error) { return RawString(EscapeUGC(ToString(v))), nil },
		"markdown": filterMarkdown,
		"date":     filterDate,
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringFilter(fn func(string) string) Filter {
	return func(_ *Context, v any, _ []any) (any, error) { return fn(ToString(v)), nil }
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func filterSplit(_ *Context, v any, args []any) (any, error) {
	s, sep := ToString(v), ToString(arg(args, 0))
	if sep == "" {
		return splitRunes(s), nil
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func filterJoin(_ *Context, v any, args []any) (any, error) {
	sep := ","
	if len(args) > 0 {
		sep = ToString(args[0])
	}
	return strings.Join(ToStrings(ToList(v)), sep), nil
}

// filterSlice takes length items (default 1) from offset; negative offsets
// count from the end.
func filterSlice(_ *Context, v any, args []any) (any, error) {
	text := isText(v)
	var items []any
	if text {
		items = splitRunes(ToString(v))
	} else {
		items = ToList(v)
	}
	start, length := ToInt(arg(args, 0)), 1
	if len(args) > 1 {
		length = ToInt(args[1])
	}
	if start < 0 {
		start = max(len(items)+start, 0)
	}
	start = min(start, len(items))
	end := min(start+max(length, 0), len(items))
	part := items[start:end]
	if text {
		return strings.Join(ToStrings(part), ""), nil
	}
	return append([]any(nil), part...), nil
}

func filterReplace(_ *Context, v any, args []any) (any, error) {
	return strings.ReplaceAll(ToString(v), ToString(arg(args, 0)), ToString(arg(args, 1))), nil
}

func filterTruncate(_ *Context, v any, args []any) (any, error) {
	s := []rune(ToString(v))
	n, ellipsis := 50, "..."
	if len(args) > 0 {
		n = ToInt(args[0])
	}
	if len(args) > 1 {
		ellipsis = ToString(args[1])
	}
	if len(s) <= n {
		return string(s), nil
	}
	keep := max(n-utf8.RuneCountInString(ellipsis), 0)
	return string(s[:keep]) + ellipsis, nil
}

func filterReverse(_ *Context, v any, _ []any) (any, error) {
	text := isText(v)
	items := ToList(v)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if text {
		return strings.Join(ToStrings(items), ""), nil
	}
	return items, nil
}

func filterRaw(_ *Context, v any, _ []any) (any, error) {
	if r, ok := v.(RawString); ok {
		return r, nil
	}
	return RawString(ToString(v)), nil
}

// isEmpty reports nil, false, empty strings and empty collections.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	}
	if isNumber(v) {
		return false
	}
	return !ToBool(v)
}

func filterDefault(_ *Context, v any, args []any) (any, error) {
	if isEmpty(v) {
		return arg(args, 0), nil
	}
	return v, nil
}

func filterFirst(c *Context, v any, _ []any) (any, error) {
	if isText(v) {
		r, size := utf8.DecodeRuneInString(ToString(v))
		if size == 0 {
			return "", nil
		}
		return string(r), nil
	}
	items := ToList(v)
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func filterLast(c *Context, v any, _ []any) (any, error) {
	if isText(v) {
		r, size := utf8.DecodeLastRuneInString(ToString(v))
		if size == 0 {
			return "", nil
		}
		return string(r), nil
	}
	items := ToList(v)
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

// filterMap replaces every item by its attribute key. Items without that
// attribute are passed through the filter of the same name, if any.
func filterMap(c *Context, v any, args []any) (any, error) {
	items := ToList(v)
	key := arg(args, 0)
	f := c.cfg.Filters[ToString(key)]
	out := make([]any, len(items))
	for i, it := range items {
		got, ok := c.cfg.Mapper.Get(it, key)
		if !ok && f != nil {
			var err error
			if got, err = f(c, it, args[1:]); err != nil {
				return nil, err
			}
		}
		out[i] = got
	}
	return out, nil
}

// filterWhere keeps items whose attribute equals the given value, or is
// truthy when no value is given.
func filterWhere(c *Context, v any, args []any) (any, error) {
	key := arg(args, 0)
	var out []any
	for _, it := range ToList(v) {
		got, _ := c.cfg.Mapper.Get(it, key)
		if len(args) > 1 && Equal(got, args[1]) || len(args) < 2 && ToBool(got) {
			out = append(out, it)
		}
	}
	return out, nil
}

func filterSort(c *Context, v any, args []any) (any, error) {
	items := ToList(v)
	if len(args) == 0 {
		sortValues(items)
		return items, nil
	}
	key := args[0]
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := c.cfg.Mapper.Get(items[i], key)
		b, _ := c.cfg.Mapper.Get(items[j], key)
		return Compare(a, b) < 0
	})
	return items, nil
}

func filterUniq(_ *Context, v any, _ []any) (any, error) {
	var out []any
	for _, it := range ToList(v) {
		dup := false
		for _, seen := range out {
			if Equal(seen, it) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, it)
		}
	}
	return out, nil
}

func filterChunked(_ *Context, v any, args []any) (any, error) {
	size := max(ToInt(arg(args, 0)), 1)
	items := ToList(v)
	var out []any
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, append([]any(nil), items[:n]...))
		items = items[n:]
	}
	return out, nil
}

// filterMerge merges mappings (later keys win) or concatenates lists.
func filterMerge(_ *Context, v any, args []any) (any, error) {
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = x
		}
		for _, a := range args {
			if am, ok := a.(map[string]any); ok {
				for k, x := range am {
					out[k] = x
				}
			}
		}
		return out, nil
	}
	out := ToList(v)
	for _, a := range args {
		out = append(out, ToList(a)...)
	}
	return out, nil
}

func filterSum(c *Context, v any, args []any) (any, error) {
	var total any = 0
	for _, it := range ToList(v) {
		if len(args) > 0 {
			it, _ = c.cfg.Mapper.Get(it, args[0])
		}
		total = arith('+', total, it)
	}
	return total, nil
}

func filterCompact(_ *Context, v any, _ []any) (any, error) {
	var out []any
	for _, it := range ToList(v) {
		if it != nil {
			out = append(out, it)
		}
	}
	return out, nil
}

func filterKeys(_ *Context, v any, _ []any) (any, error) {
	out := make([]any, 0)
	for _, p := range toPairs(v) {
		out = append(out, p.key)
	}
	return out, nil
}

func numberFilter(fn func(float64) float64) Filter {
	return func(_ *Context, v any, _ []any) (any, error) {
		return castRank(numRank(v), fn(ToFloat(v))), nil
	}
}

// arithFilter applies op with the combined-type promotion of arith. Integer
// division truncates; division and modulo by zero fail.
func arithFilter(op byte) Filter {
	return func(_ *Context, v any, args []any) (any, error) {
		operand := arg(args, 0)
		if (op == '/' || op == '%') && ToFloat(operand) == 0 {
			return nil, errDivideByZero
		}
		return arith(op, v, operand), nil
	}
}

// filterRound rounds half away from zero to n decimal places using exact
// decimal arithmetic.
// maxRoundPlaces bounds round's precision; a float64 carries about 17
// significant digits.
const maxRoundPlaces = 20

func filterRound(_ *Context, v any, args []any) (any, error) {
	places := min(max(ToInt(arg(args, 0)), -maxRoundPlaces), maxRoundPlaces)
	f := ToFloat(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, nil
	}
	d := decimal.NewFromFloat(f).Round(int32(places))
	if places <= 0 {
		return castRank(max(numRank(v), rankInt), d.InexactFloat64()), nil
	}
	return d.InexactFloat64(), nil
}

func filterJSON(_ *Context, v any, args []any) (any, error) {
	var (
		b   []byte
		err error
	)
	if indent := ToInt(arg(args, 0)); indent > 0 {
		b, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return RawString(b), nil
}

func filterMarkdown(_ *Context, v any, _ []any) (any, error) {
	out, err := Markdown(ToString(v))
	if err != nil {
		return nil, err
	}
	return RawString(out), nil
}

// filterDate formats a time. Subjects may be time.Time, unix seconds, the
// word "now", or any string the date parser understands. Formats containing
// % use strftime directives; anything else is a Go layout.
func filterDate(_ *Context, v any, args []any) (any, error) {
	t, err := toTime(v)
	if err != nil {
		return nil, err
	}
	layout := "2006-01-02"
	if len(args) > 0 {
		layout = ToString(args[0])
	}
	if strings.Contains(layout, "%") {
		layout = strftimeLayout(layout)
	}
	return t.Format(layout), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t != nil {
			return *t, nil
		}
		return time.Time{}, nil
	case nil:
		return time.Time{}, nil
	}
	if isNumber(v) {
		return time.Unix(int64(ToFloat(v)), 0).UTC(), nil
	}
	s := strings.TrimSpace(ToString(v))
	switch s {
	case "now", "today":
		return time.Now(), nil
	}
	t, err := date.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date: cannot parse %q: %w", s, err)
	}
	return t, nil
}

var strftime = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'e': "_2",
	'H': "15", 'I': "03", 'M': "04", 'S': "05", 'p': "PM",
	'B': "January", 'b': "Jan", 'h': "Jan", 'A': "Monday", 'a': "Mon",
	'Z': "MST", 'z': "-0700", 'j': "002", 'F': "2006-01-02", 'T': "15:04:05",
	'%': "%",
}

func strftimeLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			if l, ok := strftime[format[i+1]]; ok {
				b.WriteString(l)
				i++
				continue
			}
		}
		b.WriteByte(format[i])
	}
	return b.String()
}
