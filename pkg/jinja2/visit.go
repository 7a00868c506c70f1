package jinja2

import (
	"bytes"
	"fmt"
	"strings"
)

type Visitor interface {
	Visit(n Node) error
}

// Children returns the direct child blocks of n.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	switch t := n.(type) {
	case *GroupNode:
		add(t.Nodes...)
	case *IfNode:
		for _, b := range t.Branches {
			add(b.Body)
		}
		add(t.Else)
	case *ForNode:
		add(t.Body, t.Else)
	case *CaptureNode:
		add(t.Body)
	case *MacroNode:
		add(t.Body)
	case *BlockNode:
		add(t.Body)
	case *SwitchNode:
		for _, c := range t.Cases {
			add(c.Body)
		}
		add(t.Default)
	}
	return out
}

// Walk visits n and its descendants depth first.
func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	for _, c := range Children(n) {
		if err := Walk(v, c); err != nil {
			return err
		}
	}
	return nil
}

// Pretty returns a line-oriented string representation of the block tree.
func Pretty(t *Template) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Template(%q)\n", t.Name)
	if len(t.FrontMatter) > 0 {
		fmt.Fprintf(&buf, "  FrontMatter%v\n", ToString(t.FrontMatter))
	}
	ppNode(&buf, 2, t.Root)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	ind := strings.Repeat(" ", indent)
	switch t := n.(type) {
	case *GroupNode:
		fmt.Fprintf(buf, "%sGroup\n", ind)
	case *TextNode:
		fmt.Fprintf(buf, "%sText(%q)\n", ind, t.Text)
	case *OutputNode:
		fmt.Fprintf(buf, "%sOutput(%s)\n", ind, FormatExpr(t.Expr))
	case *SetNode:
		fmt.Fprintf(buf, "%sSet(%s = %s)\n", ind, FormatExpr(t.Target), FormatExpr(t.Expr))
	case *IfNode:
		for i, b := range t.Branches {
			label := "If"
			if i > 0 {
				label = "ElseIf"
			}
			fmt.Fprintf(buf, "%s%s(%s)\n", ind, label, FormatExpr(b.Cond))
			ppNode(buf, indent+2, b.Body)
		}
		if t.Else != nil {
			fmt.Fprintf(buf, "%sElse\n", ind)
			ppNode(buf, indent+2, t.Else)
		}
		return
	case *ForNode:
		fmt.Fprintf(buf, "%sFor(%s in %s)\n", ind, strings.Join(t.Keys, ", "), FormatExpr(t.Iterable))
		ppNode(buf, indent+2, t.Body)
		if t.Else != nil {
			fmt.Fprintf(buf, "%sElse\n", ind)
			ppNode(buf, indent+2, t.Else)
		}
		return
	case *CaptureNode:
		fmt.Fprintf(buf, "%sCapture(%s)\n", ind, t.Name)
	case *ExtendsNode:
		fmt.Fprintf(buf, "%sExtends(%s)\n", ind, FormatExpr(t.Parent))
	case *ImportNode:
		fmt.Fprintf(buf, "%sImport(%s as %s)\n", ind, FormatExpr(t.File), t.As)
	case *IncludeNode:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = p.Name + "=" + FormatExpr(p.Value)
		}
		fmt.Fprintf(buf, "%sInclude(%s %s)\n", ind, FormatExpr(t.File), strings.Join(params, " "))
	case *MacroNode:
		fmt.Fprintf(buf, "%sMacro(%s(%s))\n", ind, t.Name, strings.Join(t.Params, ", "))
	case *BlockNode:
		fmt.Fprintf(buf, "%sBlock(%s)\n", ind, t.Name)
	case *SwitchNode:
		fmt.Fprintf(buf, "%sSwitch(%s)\n", ind, FormatExpr(t.Subject))
		for _, c := range t.Cases {
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = FormatExpr(v)
			}
			fmt.Fprintf(buf, "%s  Case(%s)\n", ind, strings.Join(vals, ", "))
			ppNode(buf, indent+4, c.Body)
		}
		if t.Default != nil {
			fmt.Fprintf(buf, "%s  Default\n", ind)
			ppNode(buf, indent+4, t.Default)
		}
		return
	case *DebugNode:
		fmt.Fprintf(buf, "%sDebug\n", ind)
	default:
		fmt.Fprintf(buf, "%s%T\n", ind, n)
	}
	for _, c := range Children(n) {
		ppNode(buf, indent+2, c)
	}
}

// FormatExpr prints an expression tree with explicit grouping.
func FormatExpr(e Expr) string {
	switch t := e.(type) {
	case nil:
		return ""
	case *VariableExpr:
		return t.Name
	case *LiteralExpr:
		if s, ok := t.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		if t.Value == nil {
			return "null"
		}
		return ToString(t.Value)
	case *ArrayExpr:
		return "[" + formatList(t.Items) + "]"
	case *ObjectExpr:
		parts := make([]string, len(t.Pairs))
		for i, p := range t.Pairs {
			parts[i] = FormatExpr(p.Key) + ": " + FormatExpr(p.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *FilterExpr:
		s := FormatExpr(t.Subject) + "|" + t.Name
		if len(t.Args) > 0 {
			s += "(" + formatList(t.Args) + ")"
		}
		return s
	case *AccessExpr:
		return FormatExpr(t.Object) + "[" + FormatExpr(t.Key) + "]"
	case *CallExpr:
		return FormatExpr(t.Callee) + "(" + formatList(t.Args) + ")"
	case *BinaryExpr:
		return "(" + FormatExpr(t.Left) + " " + t.Op + " " + FormatExpr(t.Right) + ")"
	case *TernaryExpr:
		return "(" + FormatExpr(t.Cond) + " ? " + FormatExpr(t.IfTrue) + " : " + FormatExpr(t.IfFalse) + ")"
	case *UnaryExpr:
		return t.Op + FormatExpr(t.Operand)
	}
	return fmt.Sprintf("%T", e)
}

func formatList(items []Expr) string {
	parts := make([]string, len(items))
	for i, x := range items {
		parts[i] = FormatExpr(x)
	}
	return strings.Join(parts, ", ")
}
