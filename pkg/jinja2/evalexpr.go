package jinja2

import (
	"errors"
	"fmt"
	"math"
)

// maxRangeLen bounds the lists produced by `..` and range().
const maxRangeLen = 1 << 20

func (e *VariableExpr) Eval(c *Context) (any, error) {
	return c.cfg.ResolveVariable(c, e.Name), nil
}

func (e *LiteralExpr) Eval(*Context) (any, error) { return e.Value, nil }

func (e *ArrayExpr) Eval(c *Context) (any, error) {
	return evalAll(c, e.Items)
}

func evalAll(c *Context, exprs []Expr) ([]any, error) {
	out := make([]any, len(exprs))
	for i, x := range exprs {
		v, err := x.Eval(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *ObjectExpr) Eval(c *Context) (any, error) {
	out := make(map[string]any, len(e.Pairs))
	for _, p := range e.Pairs {
		k, err := p.Key.Eval(c)
		if err != nil {
			return nil, err
		}
		v, err := p.Value.Eval(c)
		if err != nil {
			return nil, err
		}
		out[ToString(k)] = v
	}
	return out, nil
}

func (e *FilterExpr) Eval(c *Context) (any, error) {
	subject, err := e.Subject.Eval(c)
	if err != nil {
		return nil, err
	}
	args, err := evalAll(c, e.Args)
	if err != nil {
		return nil, err
	}
	var v any
	if f, ok := c.cfg.Filters[e.Name]; ok {
		v, err = f(c, subject, args)
	} else {
		v, err = c.cfg.UnknownFilter(c, e.Name, subject, args)
	}
	if err != nil {
		return nil, c.file.Wrap(e.Offset(), err, "filter %s", e.Name)
	}
	return v, nil
}

func (e *AccessExpr) Eval(c *Context) (any, error) {
	obj, err := e.Object.Eval(c)
	if err != nil {
		return nil, err
	}
	key, err := e.Key.Eval(c)
	if err != nil {
		return nil, err
	}
	v, _ := c.cfg.Mapper.Get(obj, key)
	return v, nil
}

func (e *CallExpr) Eval(c *Context) (any, error) {
	args, err := evalAll(c, e.Args)
	if err != nil {
		return nil, err
	}
	v, err := e.call(c, args)
	if err != nil {
		return nil, c.wrap(e.Offset(), err)
	}
	return v, nil
}

func (e *CallExpr) call(c *Context, args []any) (any, error) {
	switch callee := e.Callee.(type) {
	case *VariableExpr:
		if v, ok := c.scope.Get(callee.Name); ok {
			if fn, ok := v.(Callable); ok {
				return fn.Call(c, args)
			}
		}
		if fn, ok := c.cfg.Functions[callee.Name]; ok {
			return fn(c, args)
		}
		return nil, fmt.Errorf("unknown function %s", callee.Name)
	case *AccessExpr:
		obj, err := callee.Object.Eval(c)
		if err != nil {
			return nil, err
		}
		key, err := callee.Key.Eval(c)
		if err != nil {
			return nil, err
		}
		if v, ok := c.cfg.Mapper.Get(obj, key); ok {
			if fn, ok := v.(Callable); ok {
				return fn.Call(c, args)
			}
		}
		v, err := c.cfg.Mapper.Call(obj, key, args)
		if errors.Is(err, ErrNoMethod) {
			// x.upper() and x.split(',') behave like the filters
			if f, ok := c.cfg.Filters[ToString(key)]; ok {
				return f(c, obj, args)
			}
		}
		return v, err
	}
	v, err := e.Callee.Eval(c)
	if err != nil {
		return nil, err
	}
	if fn, ok := v.(Callable); ok {
		return fn.Call(c, args)
	}
	return nil, fmt.Errorf("value of type %T is not callable", v)
}

func (e *BinaryExpr) Eval(c *Context) (any, error) {
	left, err := e.Left.Eval(c)
	if err != nil {
		return nil, err
	}
	// short-circuit operators evaluate the right side lazily
	switch e.Op {
	case "&&", "and":
		if !ToBool(left) {
			return false, nil
		}
		right, err := e.Right.Eval(c)
		return ToBool(right), err
	case "||", "or":
		if ToBool(left) {
			return true, nil
		}
		right, err := e.Right.Eval(c)
		return ToBool(right), err
	case "?:":
		if ToBool(left) {
			return left, nil
		}
		return e.Right.Eval(c)
	case "??":
		if left != nil {
			return left, nil
		}
		return e.Right.Eval(c)
	}
	right, err := e.Right.Eval(c)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case "===":
		return StrictEqual(left, right), nil
	case "!==":
		return !StrictEqual(left, right), nil
	case "<":
		return Compare(left, right) < 0, nil
	case ">":
		return Compare(left, right) > 0, nil
	case "<=":
		return Compare(left, right) <= 0, nil
	case ">=":
		return Compare(left, right) >= 0, nil
	case "<=>":
		return Compare(left, right), nil
	case "+":
		return add(left, right), nil
	case "-", "*", "%":
		return arith(e.Op[0], left, right), nil
	case "/":
		return ToFloat(left) / ToFloat(right), nil
	case "~":
		return ToString(left) + ToString(right), nil
	case "in":
		return Contains(right, left), nil
	case "not in":
		return !Contains(right, left), nil
	case "contains":
		return Contains(left, right), nil
	case "..":
		from, to := ToInt(left), ToInt(right)
		step := 1
		if from > to {
			step = -1
		}
		items, err := intRangeList(from, to, step, true)
		if err != nil {
			return nil, c.wrap(e.Offset(), err)
		}
		return items, nil
	}
	return nil, c.Errorf(e.Offset(), "unknown operator %q", e.Op)
}

// add concatenates strings and lists and adds everything else numerically.
func add(a, b any) any {
	if isText(a) || isText(b) {
		return ToString(a) + ToString(b)
	}
	if isListLike(a) && isListLike(b) {
		return append(ToList(a), ToList(b)...)
	}
	return arith('+', a, b)
}

func isText(v any) bool {
	switch v.(type) {
	case string, RawString:
		return true
	}
	return false
}

func (e *TernaryExpr) Eval(c *Context) (any, error) {
	cond, err := e.Cond.Eval(c)
	if err != nil {
		return nil, err
	}
	if ToBool(cond) {
		return e.IfTrue.Eval(c)
	}
	return e.IfFalse.Eval(c)
}

func (e *UnaryExpr) Eval(c *Context) (any, error) {
	v, err := e.Operand.Eval(c)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "!":
		return !ToBool(v), nil
	case "-":
		switch n := v.(type) {
		case int:
			if n == math.MinInt {
				return math.MaxInt, nil
			}
			return -n, nil
		case float64:
			return -n, nil
		}
		return arith('-', 0, v), nil
	case "+":
		return arith('+', 0, v), nil
	}
	return nil, c.Errorf(e.Offset(), "unknown unary operator %q", e.Op)
}
