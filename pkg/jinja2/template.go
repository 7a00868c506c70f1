package jinja2

import (
	"strings"
)

// Template is a compiled template. It is immutable once Compile returns and
// may be shared by concurrent renders.
type Template struct {
	Name        string
	Source      string
	Tokens      []Token
	Root        Node
	Blocks      map[string]*BlockNode
	FrontMatter map[string]any
	ContentType string

	file *SourceFile
}

// Compile compiles template text.
func Compile(cfg *Config, name, text string) (*Template, error) {
	return CompileSource(cfg, name, &TemplateSource{Text: text})
}

// CompileSource lexes and parses src. Front matter is decoded and stripped;
// a `layout` key wraps the template into that layout with its output bound
// to `content`.
func CompileSource(cfg *Config, name string, src *TemplateSource) (*Template, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	file := NewSourceFile(name, src.Text)
	toks := Tokenize(file)
	t := &Template{
		Name:        name,
		Source:      src.Text,
		Tokens:      toks,
		Blocks:      map[string]*BlockNode{},
		ContentType: src.ContentType,
		file:        file,
	}

	body := toks
	if cfg.FrontMatter != nil && len(toks) > 0 && toks[0].Kind == TokenLiteral {
		fm, rest, ok := splitFrontMatter(toks[0].Text)
		if ok {
			vars, err := cfg.FrontMatter(fm)
			if err != nil {
				return nil, file.Wrap(toks[0].Pos, err, "")
			}
			t.FrontMatter = vars
			first := toks[0]
			first.TextPos += len(first.Text) - len(rest)
			first.Text = rest
			body = append([]Token{first}, toks[1:]...)
		}
	}
	if src.Process != nil {
		body = append([]Token(nil), body...)
		for i := range body {
			if body[i].Kind == TokenLiteral {
				body[i].Text = src.Process(body[i].Text)
			}
		}
	}

	b := &Builder{cfg: cfg, file: file, toks: body, blocks: t.Blocks}
	root, err := b.parse()
	if err != nil {
		return nil, err
	}
	if layout, ok := t.FrontMatter["layout"]; ok && ToString(layout) != "" {
		tag := Token{Kind: TokenTag, Name: "extends", Raw: "layout: " + ToString(layout), File: file}
		root = &GroupNode{Nodes: []Node{
			&CaptureNode{Name: "content", Body: root, ContentType: t.ContentType},
			&ExtendsNode{Parent: NewLiteral(ToString(layout), 0), Tag: tag},
		}}
	}
	t.Root = root
	return t, nil
}

// splitFrontMatter separates a leading `---\n ... \n---` block from the rest
// of text.
func splitFrontMatter(text string) (fm, rest string, ok bool) {
	var body string
	switch {
	case strings.HasPrefix(text, "---\n"):
		body = text[4:]
	case strings.HasPrefix(text, "---\r\n"):
		body = text[5:]
	default:
		return "", text, false
	}
	if strings.HasPrefix(body, "---") {
		return "", trimLineBreak(body[3:]), true
	}
	end := strings.Index(body, "\n---")
	if end < 0 {
		return "", text, false
	}
	return body[:end], trimLineBreak(body[end+4:]), true
}

func trimLineBreak(s string) string {
	if strings.HasPrefix(s, "\r\n") {
		return s[2:]
	}
	return strings.TrimPrefix(s, "\n")
}

// File returns the indexed source of the template.
func (t *Template) File() *SourceFile { return t.file }

// Position resolves a byte offset of the template to line and column.
func (t *Template) Position(offset int) (int, int) { return t.file.Position(offset) }
