package jinja2

// Expr is a parsed expression. Trees are immutable after parsing and every
// node owns its children.
type Expr interface {
	Eval(c *Context) (any, error)
	// Offset is the absolute byte offset of the node in its template.
	Offset() int
}

type at int

func (a at) Offset() int { return int(a) }

// VariableExpr is a bare identifier.
type VariableExpr struct {
	at
	Name string
}

// LiteralExpr is a number, string, boolean or null constant.
type LiteralExpr struct {
	at
	Value any
}

type ArrayExpr struct {
	at
	Items []Expr
}

type ObjectPair struct {
	Key   Expr
	Value Expr
}

type ObjectExpr struct {
	at
	Pairs []ObjectPair
}

// FilterExpr applies a named filter: subject|name(args).
type FilterExpr struct {
	at
	Name    string
	Subject Expr
	Args    []Expr
}

// AccessExpr is obj.key or obj[key].
type AccessExpr struct {
	at
	Object Expr
	Key    Expr
}

type CallExpr struct {
	at
	Callee Expr
	Args   []Expr
}

type BinaryExpr struct {
	at
	Left  Expr
	Right Expr
	Op    string
}

type TernaryExpr struct {
	at
	Cond    Expr
	IfTrue  Expr
	IfFalse Expr
}

type UnaryExpr struct {
	at
	Operand Expr
	Op      string
}

// NewLiteral builds a literal node, used by tags that synthesize expressions.
func NewLiteral(v any, offset int) *LiteralExpr {
	return &LiteralExpr{at: at(offset), Value: v}
}
