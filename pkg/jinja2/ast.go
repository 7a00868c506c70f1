package jinja2

// Flow tells composite nodes whether to continue with their next child.
type Flow int

const (
	// FlowNext continues evaluation with the following sibling.
	FlowNext Flow = iota
	// FlowExtended is returned once an extends tag has rendered the parent
	// template. Every composite node stops and propagates it; the render
	// entry point swallows it.
	FlowExtended
)

// Node is a parsed block of a template.
type Node interface {
	Eval(c *Context) (Flow, error)
}

// TextNode is literal template text after whitespace control.
type TextNode struct {
	Text string
}

// OutputNode writes the value of {{ expr }}.
type OutputNode struct {
	Expr Expr
}

// GroupNode evaluates its children in order.
type GroupNode struct {
	Nodes []Node
}

// IfBranch is one condition/body pair of an if chain.
type IfBranch struct {
	Cond Expr
	Body Node
}

// IfNode runs the first branch whose condition holds, or Else.
type IfNode struct {
	Branches []IfBranch
	Else     Node
}

// ForNode iterates Iterable binding one or two names per step.
type ForNode struct {
	Keys     []string
	Iterable Expr
	Body     Node
	Else     Node
}

// SetNode assigns Expr to a variable or to obj.key.
type SetNode struct {
	Target Expr
	Expr   Expr
}

// CaptureNode binds the output of Body to Name.
type CaptureNode struct {
	Name        string
	Body        Node
	ContentType string
}

// ExtendsNode renders the parent template and stops the current one.
type ExtendsNode struct {
	Parent Expr
	Tag    Token
}

// ImportNode binds the macros of another template under As.
type ImportNode struct {
	File Expr
	As   string
	Tag  Token
}

// IncludeParam is a name=value pair passed to an included template.
type IncludeParam struct {
	Name  string
	Value Expr
}

// IncludeNode renders another template inline.
type IncludeNode struct {
	File   Expr
	Params []IncludeParam
	Tag    Token
}

// MacroNode defines a macro in the current scope.
type MacroNode struct {
	Name   string
	Params []string
	Body   Node
}

// BlockNode is an overridable named section. The body that runs is looked
// up from the most derived template.
type BlockNode struct {
	Name        string
	ContentType string
	Body        Node
	Tag         Token
}

// SwitchCase matches when the subject equals any of Values.
type SwitchCase struct {
	Values []Expr
	Body   Node
}

type SwitchNode struct {
	Subject Expr
	Cases   []SwitchCase
	Default Node
}

// DebugNode logs an expression, or the visible variables when Expr is nil.
type DebugNode struct {
	Expr Expr
	Tag  Token
}
