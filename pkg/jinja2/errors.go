package jinja2

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// SourceFile is the text of one template plus the line index used to turn
// byte offsets into line/column pairs.
type SourceFile struct {
	Name string
	Text string

	lines []int
}

// NewSourceFile indexes text so positions can be resolved without rescanning.
func NewSourceFile(name, text string) *SourceFile {
	lines := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &SourceFile{Name: name, Text: text, lines: lines}
}

// Position returns the 1-based line and column of a byte offset.
// Columns count runes, not bytes.
func (f *SourceFile) Position(offset int) (line, col int) {
	if f == nil {
		return 1, 1
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(f.Text) {
		offset = len(f.Text)
	}
	idx := sort.SearchInts(f.lines, offset+1) - 1
	if idx < 0 {
		idx = 0
	}
	start := f.lines[idx]
	return idx + 1, utf8.RuneCountInString(f.Text[start:offset]) + 1
}

// Errorf builds a positioned error.
func (f *SourceFile) Errorf(offset int, format string, args ...any) *Error {
	return f.wrap(offset, nil, fmt.Sprintf(format, args...))
}

// Wrap attaches a position to err. Errors that already carry a position are
// returned untouched so the innermost location wins.
func (f *SourceFile) Wrap(offset int, err error, format string, args ...any) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return f.wrap(offset, err, fmt.Sprintf(format, args...))
}

func (f *SourceFile) wrap(offset int, err error, msg string) *Error {
	line, col := f.Position(offset)
	name := ""
	if f != nil {
		name = f.Name
	}
	return &Error{File: name, Line: line, Column: col, Message: msg, Err: err}
}

// Error is a lex, parse or render failure tied to a template position.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// TemplateNotFoundError is returned by providers for unknown names.
type TemplateNotFoundError struct{ Name string }

func (e *TemplateNotFoundError) Error() string { return "template not found: " + e.Name }

// IsNotFound reports whether err is (or wraps) a TemplateNotFoundError.
func IsNotFound(err error) bool {
	var nf *TemplateNotFoundError
	return errors.As(err, &nf)
}
