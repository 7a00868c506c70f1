package jinja2

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type exprKind int

const (
	exprIdent exprKind = iota
	exprNumber
	exprString
	exprOperator
	exprEnd
)

// exprToken is a token of the expression language. For strings text is the
// quoted source and value the unescaped content.
type exprToken struct {
	kind  exprKind
	text  string
	value string
	pos   int
}

var (
	operators3 = []string{"===", "!==", "<=>"}
	operators2 = []string{"==", "!=", "<=", ">=", "&&", "||", "..", "?:", "??"}
)

const operators1 = "+-*/%~<>!?:.,()[]{}|="

// tokenizeExpr splits expression source. base is the absolute offset of
// text in file; every token position is absolute.
func tokenizeExpr(file *SourceFile, text string, base int) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case isIdentRune(r):
			start := i
			for i < len(text) {
				r, size := utf8.DecodeRuneInString(text[i:])
				if !isIdentRune(r) {
					break
				}
				i += size
			}
			kind := exprIdent
			if c := text[start]; c >= '0' && c <= '9' {
				kind = exprNumber
				if i+1 < len(text) && text[i] == '.' && text[i+1] >= '0' && text[i+1] <= '9' {
					i++
					for i < len(text) && isIdentRune(rune(text[i])) {
						i++
					}
				}
			}
			toks = append(toks, exprToken{kind: kind, text: text[start:i], pos: base + start})
		case r == '"' || r == '\'':
			value, n, err := scanString(text[i:])
			if err != nil {
				return nil, file.Errorf(base+i+n, "%s", err.Error())
			}
			toks = append(toks, exprToken{kind: exprString, text: text[i : i+n], value: value, pos: base + i})
			i += n
		default:
			op := matchOperator(text[i:])
			if op == "" {
				return nil, file.Errorf(base+i, "unexpected character %q", r)
			}
			toks = append(toks, exprToken{kind: exprOperator, text: op, pos: base + i})
			i += len(op)
		}
	}
	toks = append(toks, exprToken{kind: exprEnd, pos: base + len(text)})
	return toks, nil
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func matchOperator(s string) string {
	for _, op := range operators3 {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	for _, op := range operators2 {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	if s != "" && strings.IndexByte(operators1, s[0]) >= 0 {
		return s[:1]
	}
	return ""
}

type stringError string

func (e stringError) Error() string { return string(e) }

// scanString reads a quoted literal at the start of s, returning the
// unescaped value and the number of bytes consumed including both quotes.
// On error the returned length is the offset of the problem.
func scanString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\':
			if i+1 >= len(s) {
				return "", i, stringError("unterminated string literal")
			}
			e := s[i+1]
			i += 2
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'x', 'u':
				width := 2
				if e == 'u' {
					width = 4
				}
				if i+width > len(s) {
					return "", i, stringError("truncated escape sequence")
				}
				v, err := strconv.ParseUint(s[i:i+width], 16, 32)
				if err != nil {
					return "", i, stringError("invalid escape sequence \\" + string(e) + s[i:i+width])
				}
				b.WriteRune(rune(v))
				i += width
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", len(s), stringError("unterminated string literal")
}
