package jinja2

import (
	"fmt"
	"sort"
	"strings"
)

// Templates operate on plain Go values. Host types can take part in lookups,
// assignment, calls and iteration by implementing the interfaces below; any
// other value goes through the Config's ObjectMapper.

// Gettable resolves obj.key and obj[key].
type Gettable interface {
	Get(key any) (any, bool)
}

// Settable accepts {% set obj.key = value %}.
type Settable interface {
	Set(key, value any) error
}

// Callable can be invoked as fn(args...).
type Callable interface {
	Call(c *Context, args []any) (any, error)
}

// Iterable exposes a sequence view for `for` loops and list filters.
type Iterable interface {
	Items() []any
}

// RawString is output that must not be escaped again: results of the raw
// filter, macro calls, captures and parent().
type RawString string

func (s RawString) String() string { return string(s) }

// Function is a context-aware callable registered by name.
type Function func(c *Context, args []any) (any, error)

// Call implements Callable.
func (f Function) Call(c *Context, args []any) (any, error) { return f(c, args) }

// Filter transforms subject with optional arguments.
type Filter func(c *Context, subject any, args []any) (any, error)

// Loop is the `loop` variable available inside a for body.
type Loop struct {
	Index     int
	Index0    int
	RevIndex  int
	RevIndex0 int
	First     bool
	Last      bool
	Length    int
}

func newLoop(i, n int) *Loop {
	return &Loop{
		Index:     i + 1,
		Index0:    i,
		RevIndex:  n - i,
		RevIndex0: n - i - 1,
		First:     i == 0,
		Last:      i == n-1,
		Length:    n,
	}
}

// Get implements Gettable.
func (l *Loop) Get(key any) (any, bool) {
	switch ToString(key) {
	case "index":
		return l.Index, true
	case "index0":
		return l.Index0, true
	case "revindex":
		return l.RevIndex, true
	case "revindex0":
		return l.RevIndex0, true
	case "first":
		return l.First, true
	case "last":
		return l.Last, true
	case "length":
		return l.Length, true
	}
	return nil, false
}

// Macro is a template-defined callable. Calls run in a child of the scope
// the macro was defined in.
type Macro struct {
	Name   string
	Params []string
	Body   Node
	Scope  *Scope

	file *SourceFile
}

// Call implements Callable. Surplus formals stay unbound; the body output
// is returned raw so it is not escaped twice.
func (m *Macro) Call(c *Context, args []any) (any, error) {
	if c.depth >= maxDepth {
		return nil, fmt.Errorf("macro %s: maximum nesting depth %d exceeded", m.Name, maxDepth)
	}
	c.depth++
	defer func() { c.depth-- }()
	s := NewScope(m.Scope)
	for i, name := range m.Params {
		if i < len(args) {
			s.Set(name, args[i])
		}
	}
	if m.file != nil {
		saved := c.file
		c.file = m.file
		defer func() { c.file = saved }()
	}
	out, _, err := c.captureIn(s, m.Body.Eval)
	if err != nil {
		return nil, err
	}
	return RawString(out), nil
}

func (m *Macro) String() string { return "<macro " + m.Name + ">" }

// MacroSet is the value bound by {% import 'file' as name %}.
type MacroSet map[string]*Macro

// Get implements Gettable.
func (m MacroSet) Get(key any) (any, bool) {
	v, ok := m[ToString(key)]
	if !ok {
		return nil, false
	}
	return v, true
}

// Items lists the macro names in order.
func (m MacroSet) Items() []any {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func (m MacroSet) String() string {
	return "<macros " + strings.Join(ToStrings(m.Items()), ", ") + ">"
}
