package jinja2

import (
	"errors"
	"fmt"
)

// DefaultFunctions returns the built-in function table.
func DefaultFunctions() map[string]Function {
	return map[string]Function{
		"range":  fnRange,
		"cycle":  fnCycle,
		"parent": fnParent,
		"raise":  fnRaise,
	}
}

// fnRange is range(end), range(start, end) or range(start, end, step). The
// end is exclusive.
func fnRange(c *Context, args []any) (any, error) {
	start, end, step := 0, 0, 1
	switch len(args) {
	case 1:
		end = ToInt(args[0])
	case 2:
		start, end = ToInt(args[0]), ToInt(args[1])
	case 3:
		start, end, step = ToInt(args[0]), ToInt(args[1]), ToInt(args[2])
	default:
		return nil, fmt.Errorf("range expects 1 to 3 arguments, got %d", len(args))
	}
	if step == 0 {
		return nil, errors.New("range step must not be zero")
	}
	return intRangeList(start, end, step, false)
}

// intRangeList lists from, from+step, ... up to to, which is included when
// inclusive is set. The span is measured in uint64 so extreme bounds cannot
// wrap.
func intRangeList(from, to, step int, inclusive bool) ([]any, error) {
	var span, mag uint64
	switch {
	case step > 0 && (to > from || inclusive && to == from):
		span, mag = uint64(to)-uint64(from), uint64(step)
	case step < 0 && (to < from || inclusive && to == from):
		span, mag = uint64(from)-uint64(to), uint64(-(step+1))+1
	default:
		return []any{}, nil
	}
	if !inclusive {
		// span >= 1 here
		span--
	}
	// the list holds span/mag + 1 items
	if q := span / mag; q >= maxRangeLen {
		return nil, fmt.Errorf("range exceeds the limit of %d items", maxRangeLen)
	}
	out := make([]any, span/mag+1)
	for i := range out {
		out[i] = from + i*step
	}
	return out, nil
}

// fnCycle picks list[index] with floor modulo, so negative indexes wrap.
func fnCycle(_ *Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("cycle expects 2 arguments, got %d", len(args))
	}
	items := ToList(args[0])
	if len(items) == 0 {
		return nil, nil
	}
	n := len(items)
	return items[((ToInt(args[1])%n)+n)%n], nil
}

func fnParent(c *Context, _ []any) (any, error) {
	return c.parentBlock()
}

func fnRaise(_ *Context, args []any) (any, error) {
	msg := "raised"
	if len(args) > 0 {
		msg = ToString(args[0])
	}
	return nil, errors.New(msg)
}
