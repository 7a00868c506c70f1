package jinja2

import (
	"context"
	"fmt"
)

// TemplateString is template text embedded in configuration, such as an
// output path pattern.
type TemplateString string

const templateStringName = "<string>"

func (t TemplateString) Validate() error {
	if _, err := Compile(nil, templateStringName, string(t)); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	return nil
}

// Render renders t with the default configuration. Escaping is disabled:
// the result is plain text, not markup.
func (t TemplateString) Render(args map[string]any) (string, error) {
	cfg := NewConfig()
	cfg.Escape = EscapeNone
	tpl, err := Compile(cfg, templateStringName, string(t))
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	e := New(MemoryProvider{}, cfg)
	var out []byte
	err = e.Execute(context.Background(), tpl, args, func(s string) error {
		out = append(out, s...)
		return nil
	})
	return string(out), err
}
