package jinja2

import (
	"strings"
	"unicode"
)

// The lexer scans template source and yields literal text, expression
// {{ }} and tag {% %} tokens. Comments {# #} are dropped once their trim
// markers have been applied to the neighbouring literals.

type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenExpr
	TokenTag
	tokenTrim // carries trim markers of comments and raw tags, removed before parsing
)

func (k TokenKind) String() string {
	switch k {
	case TokenLiteral:
		return "literal"
	case TokenExpr:
		return "expression"
	case TokenTag:
		return "tag"
	default:
		return "trim"
	}
}

// Token is one template-level token. Text is the literal text after
// whitespace control, the expression source, or the tag arguments. Raw is
// the exact source slice the token was read from.
type Token struct {
	Kind      TokenKind
	Name      string
	Text      string
	Raw       string
	Pos       int
	TextPos   int
	TrimLeft  bool
	TrimRight bool
	File      *SourceFile
}

type lexer struct {
	file *SourceFile
	src  string
	i    int
	n    int
	toks []Token
}

// Tokenize splits a template into tokens. It never fails: unterminated
// delimiters are kept as literal text.
func Tokenize(file *SourceFile) []Token {
	l := &lexer{file: file, src: file.Text, n: len(file.Text)}
	l.scan()
	return l.finish()
}

func (l *lexer) scan() {
	start := l.i
	for l.i < l.n {
		j := strings.IndexByte(l.src[l.i:], '{')
		if j < 0 || l.i+j+1 >= l.n {
			break
		}
		p := l.i + j
		var kind TokenKind
		var closer string
		switch l.src[p+1] {
		case '{':
			kind, closer = TokenExpr, "}}"
		case '%':
			kind, closer = TokenTag, "%}"
		case '#':
			kind, closer = tokenTrim, "#}"
		default:
			l.i = p + 1
			continue
		}
		end := strings.Index(l.src[p+2:], closer)
		if end < 0 {
			// unterminated: everything left is literal text
			break
		}
		end += p + 2

		l.literal(start, p)
		tok := l.delimited(kind, p, end)
		l.i = end + 2
		start = l.i
		l.toks = append(l.toks, tok)

		if kind == TokenTag && tok.Name == "raw" {
			l.toks[len(l.toks)-1].Kind = tokenTrim
			start = l.rawBody()
		}
	}
	l.literal(start, l.n)
}

// delimited builds the token for the delimiter pair starting at p whose
// closing delimiter starts at end.
func (l *lexer) delimited(kind TokenKind, p, end int) Token {
	inner, innerEnd := p+2, end
	tok := Token{Kind: kind, Raw: l.src[p : end+2], Pos: p, File: l.file}
	if inner < innerEnd && l.src[inner] == '-' {
		tok.TrimLeft = true
		inner++
	}
	if innerEnd > inner && l.src[innerEnd-1] == '-' {
		tok.TrimRight = true
		innerEnd--
	}
	content := l.src[inner:innerEnd]
	switch kind {
	case TokenExpr:
		tok.Text, tok.TextPos = content, inner
	case TokenTag:
		lead := len(content) - len(strings.TrimLeftFunc(content, unicode.IsSpace))
		rest := content[lead:]
		k := strings.IndexFunc(rest, unicode.IsSpace)
		if k < 0 {
			k = len(rest)
		}
		tok.Name = rest[:k]
		args := rest[k:]
		argLead := len(args) - len(strings.TrimLeftFunc(args, unicode.IsSpace))
		tok.Text = strings.TrimRightFunc(args[argLead:], unicode.IsSpace)
		tok.TextPos = inner + lead + k + argLead
	}
	return tok
}

// rawBody emits everything up to the matching endraw tag as one literal and
// returns the offset where normal scanning resumes.
func (l *lexer) rawBody() int {
	bodyStart := l.i
	for from := l.i; from < l.n; {
		j := strings.Index(l.src[from:], "{%")
		if j < 0 {
			break
		}
		p := from + j
		end := strings.Index(l.src[p+2:], "%}")
		if end < 0 {
			break
		}
		end += p + 2
		tok := l.delimited(TokenTag, p, end)
		if tok.Name == "endraw" {
			l.literal(bodyStart, p)
			tok.Kind = tokenTrim
			l.toks = append(l.toks, tok)
			l.i = end + 2
			return l.i
		}
		from = p + 2
	}
	l.i = l.n
	return bodyStart
}

func (l *lexer) literal(start, end int) {
	if end <= start {
		return
	}
	s := l.src[start:end]
	l.toks = append(l.toks, Token{Kind: TokenLiteral, Text: s, Raw: s, Pos: start, TextPos: start, File: l.file})
}

// finish applies whitespace control: a trailing '-' on the token before a
// literal trims the literal's start, a leading '-' on the token after trims
// its end. Trim carriers are dropped afterwards.
func (l *lexer) finish() []Token {
	toks := l.toks
	for i := range toks {
		if toks[i].Kind != TokenLiteral {
			continue
		}
		if i > 0 && toks[i-1].TrimRight {
			trimmed := strings.TrimLeftFunc(toks[i].Text, unicode.IsSpace)
			toks[i].TextPos += len(toks[i].Text) - len(trimmed)
			toks[i].Text = trimmed
		}
		if i+1 < len(toks) && toks[i+1].TrimLeft {
			toks[i].Text = strings.TrimRightFunc(toks[i].Text, unicode.IsSpace)
		}
	}
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		if t.Kind != tokenTrim {
			out = append(out, t)
		}
	}
	return out
}
