package jinja2

import (
	"errors"
	"strings"
	"testing"
)

func evalString(t *testing.T, src string, args map[string]any) string {
	t.Helper()
	out, err := TemplateString(src).Render(args)
	if err != nil {
		t.Fatalf("render %q: %v", src, err)
	}
	return out
}

func TestMapIntListComparison(t *testing.T) {
	cases := []struct {
		version string
		want    string
	}{
		{"6.0.6", "Y"},
		{"6.0.10", "Y"},
		{"6.0.5", "N"},
		{"5.0.9", "N"},
	}
	tpl := "{% if self.version.split('.') | map('int') | list >= [6, 0, 6] %}Y{% else %}N{% endif %}"
	for _, tc := range cases {
		args := map[string]any{"self": map[string]any{"version": tc.version}}
		if got := evalString(t, tpl, args); got != tc.want {
			t.Fatalf("version %q: got %q, want %q", tc.version, got, tc.want)
		}
	}
}

func TestIndexingAndStringMethods(t *testing.T) {
	args := map[string]any{
		"self": map[string]any{
			"version": "1.6",
			"urls": map[string]any{
				"1.6": "https://example.com/jq-1.6",
			},
		},
		"items": []any{"a", "b", "c"},
	}
	cases := []struct {
		src  string
		want string
	}{
		{"{{ self.urls[self.version] }}", "https://example.com/jq-1.6"},
		{"{{ self.version.split('.') | join('-') }}", "1-6"},
		{"{{ 'abc'.upper() }}", "ABC"},
		{"{{ 'hello'[1] }}", "e"},
		{"{{ items[-1] }}{{ items.first }}{{ items.size }}", "ca3"},
		{"{{ items[9] }}|{{ missing.deep.path }}", "|"},
	}
	for _, tc := range cases {
		if got := evalString(t, tc.src, args); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestPrecedence(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"a or b and c", "(a or (b and c))"},
		{"a || b && c", "(a || (b && c))"},
		{"a and b || c", "(a and (b || c))"},
		{"x in xs or y", "(x in (xs or y))"},
		{"not a == b", "(!a == b)"},
		{"-x|abs", "-x|abs"},
		{"x|f(1, 2)|g", "x|f(1, 2)|g"},
		{"x|f: 1, 2|g", "x|f(1, 2)|g"},
		{"a ? b : c ? d : e", "(a ? b : (c ? d : e))"},
		{"a ? b ? 1 : 2 : 3", "(a ? (b ? 1 : 2) : 3)"},
		{"a ?? b ~ c", "(a ?? (b ~ c))"},
		{"1..n + 1", "(1 .. (n + 1))"},
		{"user.name[0]", "user[\"name\"][0]"},
		{"f(a)(b)", "f(a)(b)"},
		{"{a: 1, 'b': [2]}", "{\"a\": 1, \"b\": [2]}"},
		{"(1, 2)", "[1, 2]"},
	}
	for _, tc := range cases {
		e, err := ParseExpression(NewSourceFile("t", tc.src), tc.src, 0)
		if err != nil {
			t.Fatalf("%q: %v", tc.src, err)
		}
		if got := FormatExpr(e); got != tc.want {
			t.Fatalf("%q: got %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestExpressionValues(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"{{ 1 + 2 * 3 }}", "7"},
		{"{{ (1 + 2) * 3 }}", "9"},
		{"{{ 1 < 2 and 2 < 3 }}", "true"},
		{"{{ 1 + 2 }}", "3"},
		{"{{ 7 / 2 }}", "3.5"},
		{"{{ 5 / 2 }}", "2.5"},
		{"{{ 1 - 2 }}", "-1"},
		{"{{ 3.14 }}", "3.14"},
		{"{{ 10 % 7 }}", "3"},
		{"{{ 1.5 + 1 }}", "2.5"},
		{"{{ 7 | divided_by: 2 }}", "3"},
		{"{{ 2.5 | round }}", "3"},
		{"{{ 3.14159 | round(2) }}", "3.14"},
		{"{{ 1.5 | round(200000000) }}", "1.5"},
		{"{{ 1234.5 | round(-200000000) }}", "0"},
		{"{{ (1 / 0) | round(2) }}", "+Inf"},
		{"{{ -3 | abs }}", "-3"},
		{"{{ (-3) | abs }}", "3"},
		{"{{ 'a' + 1 }}", "a1"},
		{"{{ 'a' ~ 1 + 2 }}", "a12"},
		{"{{ [1] + [2] }}", "[1, 2]"},
		{"{{ 'ell' in 'hello' }}", "true"},
		{"{{ 3 not in [1, 2] }}", "true"},
		{"{{ [1, 2] contains 2 }}", "true"},
		{"{{ nothing ?? 'd' }}", "d"},
		{"{{ '' ?: 'e' }}", "e"},
		{"{{ 1 <=> 2 }}", "-1"},
		{"{{ 1 == '1' }}|{{ 1 === '1' }}|{{ 1 === 1.0 }}", "true|false|true"},
		{"{{ not true }}|{{ !0 }}", "false|true"},
		{"{{ x ? 'yes' : 'no' }}", "no"},
		{"{{ range(3) | join }}", "0,1,2"},
		{"{{ range(1, 10, 3) | join }}", "1,4,7"},
		{"{{ range(3, 0, -1) | join }}", "3,2,1"},
		{"{{ cycle(['a', 'b'], 3) }}{{ cycle(['a', 'b'], -2) }}", "ba"},
		{"{{ (1..4) | join('') }}", "1234"},
		{"{{ {b: 1, a: 2} | keys | join }}", "a,b"},
		{"{{ [3, 1, 2] | sort | first }}", "1"},
		{"{{ 'x' | json }}", `"x"`},
		{"{{ 0 | date('%Y-%m-%d') }}", "1970-01-01"},
		{"{{ '2024-03-05' | date('Jan 2, 2006') }}", "Mar 5, 2024"},
	}
	for _, tc := range cases {
		if got := evalString(t, tc.src, nil); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestDivisionByZero(t *testing.T) {
	if got := evalString(t, "{{ 1 / 0 }}", nil); got != "+Inf" {
		t.Fatalf("float division got %q", got)
	}
	for _, src := range []string{"{{ 1 | divided_by: 0 }}", "{{ 5 | modulo(0) }}"} {
		_, err := TemplateString(src).Render(nil)
		if !errors.Is(err, errDivideByZero) {
			t.Fatalf("%q: got %v", src, err)
		}
	}
}

func TestExpressionErrors(t *testing.T) {
	cases := []struct {
		src string
		col int
		msg string
	}{
		{"{{ 1 + }}", 8, "unexpected end of expression"},
		{"{{ 'abc }}", 9, "unterminated string"},
		{"{{ a b }}", 6, `unexpected "b" after expression`},
		{"{{ a # b }}", 6, "unexpected character"},
		{"{{ [1, 2 }}", 10, "expected ',' or \"]\""},
		{"{{ x | }}", 8, "expected filter name"},
	}
	for _, tc := range cases {
		_, err := Compile(nil, "e", tc.src)
		var pe *Error
		if !errors.As(err, &pe) {
			t.Fatalf("%q: want *Error, got %v", tc.src, err)
		}
		if pe.Line != 1 || pe.Column != tc.col || !strings.Contains(pe.Message, tc.msg) {
			t.Fatalf("%q: got %d:%d %q, want column %d containing %q", tc.src, pe.Line, pe.Column, pe.Message, tc.col, tc.msg)
		}
	}
}

func TestRangeLimit(t *testing.T) {
	_, err := TemplateString("{{ 0..10000000 }}").Render(nil)
	if err == nil || !strings.Contains(err.Error(), "exceeds the limit") {
		t.Fatalf("got %v", err)
	}
	_, err = TemplateString("{{ range(1, 2, 0) }}").Render(nil)
	if err == nil || !strings.Contains(err.Error(), "must not be zero") {
		t.Fatalf("got %v", err)
	}

	for _, src := range []string{
		"{{ range(-9000000000000000000, 9000000000000000000) }}",
		"{{ (0..9223372036854775807) | length }}",
		"{{ (-9223372036854775807 - 1)..9223372036854775807 }}",
		"{{ range(9223372036854775807, -9223372036854775807, -1) }}",
	} {
		_, err := TemplateString(src).Render(nil)
		if err == nil || !strings.Contains(err.Error(), "exceeds the limit") {
			t.Errorf("%s: got %v", src, err)
		}
	}

	tests := []struct{ src, want string }{
		{"{{ range(0, 10, 9223372036854775807) | join }}", "0"},
		{"{{ range(10, 0, -9223372036854775807) | join }}", "10"},
		{"{{ range(9223372036854775806, 9223372036854775807) | join }}", "9223372036854775806"},
		{"{{ (9223372036854775805..9223372036854775807) | join }}", "9223372036854775805,9223372036854775806,9223372036854775807"},
		{"{{ (5..5) | join }}", "5"},
		{"{{ range(0, 9, 3) | join }}|{{ range(0, 10, 3) | join }}", "0,3,6|0,3,6,9"},
		{"{{ range(3, 3) | length }}", "0"},
	}
	for _, tt := range tests {
		got, err := TemplateString(tt.src).Render(nil)
		if err != nil {
			t.Errorf("%s: %v", tt.src, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %q, want %q", tt.src, got, tt.want)
		}
	}
}

type person struct {
	Name string
	Age  int
	Tags []string
}

func (p person) Initial() string { return p.Name[:1] }

func (p person) Greet(other string) string { return "hi " + other + " from " + p.Name }

type badge struct{ s string }

func (b badge) String() string { return "#" + b.s }

func TestReflectMapper(t *testing.T) {
	args := map[string]any{
		"p":     person{Name: "Ada", Age: 36, Tags: []string{"x", "y"}},
		"pp":    &person{Name: "Bob"},
		"ages":  map[string]int{"a": 1},
		"ports": []int{80, 443},
		"np":    (*person)(nil),
		"blank": person{},
		"nt":    (*badge)(nil),
	}
	cases := []struct {
		src  string
		want string
	}{
		{"{{ p.Name }}/{{ p.name }}/{{ p.Age + 1 }}", "Ada/Ada/37"},
		{"{{ p.Initial }}|{{ p.Greet('Eve') }}", "A|hi Eve from Ada"},
		{"{{ p.Tags | join('+') }}|{{ p.Tags.size }}", "x+y|2"},
		{"{{ pp.Name }}", "Bob"},
		{"{{ ages.a }}{{ ports[1] }}{{ ports.last }}", "1443443"},
		{"{% for k, v in ages %}{{ k }}{{ v }}{% endfor %}", "a1"},
		{"{% set pp.Name = 'Cy' %}{{ pp.Name }}", "Cy"},
		{"[{{ np.initial }}|{{ np.Name }}|{{ np.Initial | default('none') }}]", "[||none]"},
		{"{{ np.upper() }}{{ blank.initial }}{{ nt }}{{ nt.s }}.", "."},
	}
	for _, tc := range cases {
		if got := evalString(t, tc.src, args); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestPanickingMethodIsAnError(t *testing.T) {
	_, err := TemplateString("{{ blank.Initial() }}").Render(map[string]any{"blank": person{}})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("got %v", err)
	}
}

type counter struct{ n int }

func (c *counter) Get(key any) (any, bool) {
	if ToString(key) == "next" {
		c.n++
		return c.n, true
	}
	return nil, false
}

func TestCustomValues(t *testing.T) {
	cfg := NewConfig()
	cfg.RegisterFunction("double", func(_ *Context, args []any) (any, error) {
		return ToInt(arg(args, 0)) * 2, nil
	})
	cfg.RegisterFilter("shout", func(_ *Context, v any, _ []any) (any, error) {
		return strings.ToUpper(ToString(v)) + "!", nil
	})
	cfg.Globals = map[string]any{"site": "docs"}
	src := "{{ double(21) }} {{ 'hey' | shout }} {{ c.next }}{{ c.next }} {{ site }}"
	tpl, err := Compile(cfg, "c", src)
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	err = New(MemoryProvider{}, cfg).Execute(t.Context(), tpl, map[string]any{"c": &counter{}}, func(s string) error {
		b.WriteString(s)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.String() != "42 HEY! 12 docs" {
		t.Fatalf("got %q", b.String())
	}
}
