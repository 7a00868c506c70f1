package jinja2

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func renderWith(t *testing.T, templates MemoryProvider, name string, args map[string]any) (string, error) {
	t.Helper()
	return New(templates, nil).Render(context.Background(), name, args)
}

func mustRender(t *testing.T, templates MemoryProvider, name string, args map[string]any) string {
	t.Helper()
	out, err := renderWith(t, templates, name, args)
	if err != nil {
		t.Fatalf("render %s: %v", name, err)
	}
	return out
}

func renderString(t *testing.T, src string, args map[string]any) string {
	t.Helper()
	return mustRender(t, MemoryProvider{"main": src}, "main", args)
}

func TestTokenizeRoundTrip(t *testing.T) {
	sources := []string{
		"Hello {{ name }}!",
		"{%- if a -%}\n  x\n{%- endif %} tail",
		"{{ unterminated",
		"a {% b",
		"",
		"plain text only",
		"{{x}}{{y}}{%z%}",
	}
	for _, src := range sources {
		var b strings.Builder
		for _, tok := range Tokenize(NewSourceFile("t", src)) {
			b.WriteString(tok.Raw)
		}
		if b.String() != src {
			t.Fatalf("round trip of %q produced %q", src, b.String())
		}
	}
}

func TestTokenizeKindsAndTrim(t *testing.T) {
	toks := Tokenize(NewSourceFile("t", "a  {{- x -}}  b {% if y %}"))
	if len(toks) != 4 {
		t.Fatalf("want 4 tokens, got %d: %#v", len(toks), toks)
	}
	if toks[0].Kind != TokenLiteral || toks[0].Text != "a" {
		t.Fatalf("token 0: %#v", toks[0])
	}
	if toks[1].Kind != TokenExpr || strings.TrimSpace(toks[1].Text) != "x" || !toks[1].TrimLeft || !toks[1].TrimRight {
		t.Fatalf("token 1: %#v", toks[1])
	}
	if toks[2].Text != "b " {
		t.Fatalf("token 2 text %q", toks[2].Text)
	}
	if toks[3].Kind != TokenTag || toks[3].Name != "if" || toks[3].Text != "y" {
		t.Fatalf("token 3: %#v", toks[3])
	}
}

func TestCommentsAndRaw(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"a {#- note -#} b", "ab"},
		{"a{# {{ x }} #}b", "ab"},
		{"{% raw %}{{ x }}{% if %}{% endraw %}", "{{ x }}{% if %}"},
		{"x {{ y", "x {{ y"},
	}
	for _, tc := range cases {
		if got := renderString(t, tc.src, nil); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestFilterChaining(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"{{ 'Hello' | upper }}", "HELLO"},
		{"{{ [3,1,2] | sort | join(',') }}", "1,2,3"},
		{"{{ 'a-b-c' | split: '-' | join: '+' }}", "a+b+c"},
		{"{{ name|upper|default('Anon') }}", "Anon"},
		{"{{ ' x ' | trim | quote | raw }}", `"x"`},
		{"{{ 'hello world' | capitalize }}", "Hello world"},
		{"{{ 'abcdef' | slice(1, 3) }}", "bcd"},
		{"{{ [1,2,2,3,1] | uniq | join }}", "1,2,3"},
		{"{{ [1,2,3,4,5] | chunked(2) | length }}", "3"},
		{"{{ [1,2] | merge([3]) | sum }}", "6"},
		{"{{ 'abc' | reverse }}", "cba"},
		{"{{ 'Hello World!' | slugify }}", "hello-world"},
		{"{{ 'x' | append: 'y' | prepend: 'w' }}", "wxy"},
	}
	for _, tc := range cases {
		if got := renderString(t, tc.src, nil); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestInheritance(t *testing.T) {
	templates := MemoryProvider{
		"layout": "<a>{% block body %}L{% endblock %}</a>",
		"child":  "{% extends 'layout' %}{% block body %}C{% endblock %}",
		"super":  "{% extends 'layout' %}{% block body %}C+{{ parent() }}{% endblock %}",
		"after":  "{% extends 'layout' %}never rendered",
	}
	if got := mustRender(t, templates, "child", nil); got != "<a>C</a>" {
		t.Fatalf("child got %q", got)
	}
	if got := mustRender(t, templates, "super", nil); got != "<a>C+L</a>" {
		t.Fatalf("super got %q", got)
	}
	if got := mustRender(t, templates, "after", nil); got != "<a>L</a>" {
		t.Fatalf("after got %q", got)
	}
}

func TestMultiLevelInheritance(t *testing.T) {
	templates := MemoryProvider{
		"base": "<{% block a %}A{% endblock %}|{% block b %}B{% endblock %}>",
		"mid":  "{% extends 'base' %}{% block a %}M{{ parent() }}{% endblock %}",
		"leaf": "{% extends 'mid' %}{% block a %}L{{ parent() }}{% endblock %}{% block b %}{{ v }}{% endblock %}",
	}
	got := mustRender(t, templates, "leaf", map[string]any{"v": "x"})
	if got != "<LMA|x>" {
		t.Fatalf("got %q", got)
	}
}

func TestLoopMetadata(t *testing.T) {
	got := renderString(t, "{% for x in [10,20,30] %}{{loop.index}}:{{x}} {% endfor %}", nil)
	if got != "1:10 2:20 3:30 " {
		t.Fatalf("got %q", got)
	}
	got = renderString(t, "{% for x in 'ab' %}{{ loop.index0 }}{{ loop.revindex }}{{ loop.first ? 'F' : '' }}{{ loop.last ? 'L' : '' }}{% endfor %}", nil)
	if got != "02F11L" {
		t.Fatalf("got %q", got)
	}
}

func TestForVariants(t *testing.T) {
	cases := []struct {
		src  string
		args map[string]any
		want string
	}{
		{"{% for k, v in m %}{{ k }}={{ v }};{% endfor %}", map[string]any{"m": map[string]any{"b": 2, "a": 1}}, "a=1;b=2;"},
		{"{% for i, x in ['p', 'q'] %}{{ i }}{{ x }}{% endfor %}", nil, "0p1q"},
		{"{% for x in items %}-{{ x }}{% else %}empty{% endfor %}", map[string]any{"items": []int{1, 2}}, "-1-2"},
		{"{% for x in items %}-{{ x }}{% else %}empty{% endfor %}", map[string]any{"items": []int{}}, "empty"},
		{"{% for x in missing %}x{% else %}none{% endfor %}", nil, "none"},
		{"{% for x in 5 %}[{{ x }}]{% endfor %}", nil, "[5]"},
		{"{% for x in 1..3 %}{{ x }}{% endfor %}", nil, "123"},
		{"{% for x in 3..1 %}{{ x }}{% endfor %}", nil, "321"},
	}
	for _, tc := range cases {
		if got := renderString(t, tc.src, tc.args); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestAutoEscape(t *testing.T) {
	if got := renderString(t, "{{ '<b>' }}", nil); got != "&lt;b&gt;" {
		t.Fatalf("escaped got %q", got)
	}
	if got := renderString(t, "{{ '<b>' | raw }}", nil); got != "<b>" {
		t.Fatalf("raw got %q", got)
	}
	if got := renderString(t, "{{ v | escape }}", map[string]any{"v": "&"}); got != "&amp;" {
		t.Fatalf("escape filter got %q", got)
	}

	cfg := NewConfig()
	cfg.Escape = EscapeNone
	out, err := New(MemoryProvider{"m": "{{ '<b>' }}"}, cfg).Render(context.Background(), "m", nil)
	if err != nil || out != "<b>" {
		t.Fatalf("EscapeNone got %q, %v", out, err)
	}
}

func TestIfChains(t *testing.T) {
	tpl := MemoryProvider{"m": "{% if a %}A{% elseif b %}B{% elif c %}C{% else %}D{% endif %}|{% unless a %}U{% else %}N{% endunless %}"}
	cases := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{"a": true}, "A|N"},
		{map[string]any{"b": 1}, "B|U"},
		{map[string]any{"c": "yes"}, "C|U"},
		{nil, "D|U"},
	}
	for _, tc := range cases {
		if got := mustRender(t, tpl, "m", tc.args); got != tc.want {
			t.Fatalf("%v: got %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestSetAndCaptureScoping(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"{% set greeting = 'hi' %}{{ greeting }}", "hi"},
		{"{% assign x = 2 * 3 %}{{ x }}", "6"},
		{"{% set x = 1 %}{% for i in [1] %}{% set x = 2 %}{{ x }}{% endfor %}{{ x }}", "21"},
		{"{% capture c %}<b>{{ 1 + 1 }}</b>{% endcapture %}{{ c }}", "<b>2</b>"},
		{"{% set m = {} %}{% set m.a = 5 %}{% set m['b'] = 6 %}{{ m.a }}{{ m.b }}", "56"},
		{"{% set l = [1, 2] %}{% set l[0] = 9 %}{{ l | join }}", "9,2"},
	}
	for _, tc := range cases {
		if got := renderString(t, tc.src, nil); got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestMacrosAndImport(t *testing.T) {
	templates := MemoryProvider{
		"macros": "{% macro greet(name, punct) %}Hi {{ name }}{{ punct }}{% endmacro %}" +
			"{% macro twice(x) %}{{ greet(x) }}{{ greet(x) }}{% endmacro %}",
		"main":  "{% import 'macros' as m %}{{ m.greet('Bob') }}|{{ m.greet('<A>', '!') }}|{{ m.twice('z') }}",
		"local": "{% macro li(x) %}<li>{{ x }}</li>{% endmacro %}{{ li('a') }}{{ li() }}",
		"count": "{% macro down(n) %}{{ n }}{% if n > 1 %}{{ down(n - 1) }}{% endif %}{% endmacro %}{{ down(3) }}",
	}
	if got := mustRender(t, templates, "main", nil); got != "Hi Bob|Hi &lt;A&gt;!|Hi zHi z" {
		t.Fatalf("main got %q", got)
	}
	if got := mustRender(t, templates, "local", nil); got != "<li>a</li><li></li>" {
		t.Fatalf("local got %q", got)
	}
	if got := mustRender(t, templates, "count", nil); got != "321" {
		t.Fatalf("count got %q", got)
	}
}

func TestMacroScoping(t *testing.T) {
	templates := MemoryProvider{
		"inc":     "{% macro hidden() %}H{% endmacro %}{{ hidden() }}",
		"include": "{% include 'inc' %}{{ hidden() }}",
		"loop":    "{% for i in [1] %}{% macro m() %}M{% endmacro %}{{ m() }}{% endfor %}{{ m() }}",
		"shadow": "{% macro f() %}outer{% endmacro %}" +
			"{% for i in [1] %}{% macro f() %}inner{% endmacro %}{{ f() }}{% endfor %}{{ f() }}",
		"arg": "{% macro f() %}macro{% endmacro %}{% for f in [g] %}{{ f() }}{% endfor %}{{ f() }}",
	}
	for _, name := range []string{"include", "loop"} {
		_, err := renderWith(t, templates, name, nil)
		if err == nil || !strings.Contains(err.Error(), "unknown function") {
			t.Fatalf("%s: macro leaked out of its scope: %v", name, err)
		}
	}
	if got := mustRender(t, templates, "shadow", nil); got != "innerouter" {
		t.Fatalf("shadow got %q", got)
	}
	g := Function(func(*Context, []any) (any, error) { return "bound", nil })
	if got := mustRender(t, templates, "arg", map[string]any{"g": g}); got != "boundmacro" {
		t.Fatalf("arg got %q", got)
	}
}

func TestIncludeParams(t *testing.T) {
	templates := MemoryProvider{
		"row":  "[{{ label }}:{{ n * 2 }}:{{ outer }}]",
		"main": "{% include 'row' label='x' n=2 %}{% include 'row' with label: 'y', n: 3 %}{{ label }}",
	}
	got := mustRender(t, templates, "main", map[string]any{"outer": "o"})
	if got != "[x:4:o][y:6:o]" {
		t.Fatalf("got %q", got)
	}
}

func TestSwitch(t *testing.T) {
	tpl := MemoryProvider{"m": "{% switch v %}\n  {% case 1, 2 %}low{% case 'x' %}ex{% default %}other{% endswitch %}"}
	cases := []struct {
		v    any
		want string
	}{
		{1, "low"},
		{"2", "low"},
		{"x", "ex"},
		{nil, "other"},
	}
	for _, tc := range cases {
		if got := mustRender(t, tpl, "m", map[string]any{"v": tc.v}); got != tc.want {
			t.Fatalf("%v: got %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestFrontMatterLayout(t *testing.T) {
	templates := MemoryProvider{
		"base": "<h1>{{ title }}</h1>{{ content }}",
		"page": "---\nlayout: base\ntitle: Hi & bye\n---\n<p>{{ who }}</p>",
		"data": "---\ncount: 3\n---\n{{ count + 1 }}",
		"doc.md": "---\nlayout: base\ntitle: Doc\n---\n# Head\n",
	}
	if got := mustRender(t, templates, "page", map[string]any{"who": "me"}); got != "<h1>Hi &amp; bye</h1><p>me</p>" {
		t.Fatalf("page got %q", got)
	}
	if got := mustRender(t, templates, "data", nil); got != "4" {
		t.Fatalf("data got %q", got)
	}
	got := mustRender(t, templates, "doc.md", nil)
	if !strings.HasPrefix(got, "<h1>Doc</h1><h1>Head</h1>") {
		t.Fatalf("markdown page got %q", got)
	}
	tpl, err := Compile(nil, "page", templates["page"])
	if err != nil {
		t.Fatal(err)
	}
	if tpl.FrontMatter["title"] != "Hi & bye" {
		t.Fatalf("front matter %v", tpl.FrontMatter)
	}
}

func TestBlockContentType(t *testing.T) {
	got := renderString(t, `{% block intro "markdown" %}*hi*{% endblock %}`, nil)
	if strings.TrimSpace(got) != "<p><em>hi</em></p>" {
		t.Fatalf("got %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src  string
		line int
		col  int
		msg  string
	}{
		{"{% nope %}", 1, 1, "unknown tag"},
		{"a\n{% if x %}b", 2, 1, "unclosed"},
		{"{% endif %}", 1, 1, "unexpected"},
		{"{% else %}", 1, 1, "unexpected"},
		{"{% for x of y %}{% endfor %}", 1, 10, "expected 'in'"},
		{"{% if %}{% endif %}", 1, 1, "requires an expression"},
		{"{% block a %}{% endblock %}{% block a %}{% endblock %}", 1, 28, "already defined"},
		{"{% if a %}{% else %}{% elseif b %}{% endif %}", 1, 21, "after else"},
		{"{% switch x %}junk{% case 1 %}{% endswitch %}", 1, 1, "before the first case"},
	}
	for _, tc := range cases {
		_, err := Compile(nil, "t", tc.src)
		var pe *Error
		if !errors.As(err, &pe) {
			t.Fatalf("%q: want *Error, got %v", tc.src, err)
		}
		if pe.Line != tc.line || pe.Column != tc.col || !strings.Contains(pe.Error(), tc.msg) {
			t.Fatalf("%q: got %d:%d %q, want %d:%d containing %q", tc.src, pe.Line, pe.Column, pe.Error(), tc.line, tc.col, tc.msg)
		}
	}
}

func TestRuntimeErrors(t *testing.T) {
	templates := MemoryProvider{
		"filter":  "ok\n{{ x | nope }}",
		"func":    "{{ nothing(1) }}",
		"raise":   "{{ raise('stop here') }}",
		"missing": "{% include 'ghost' %}",
		"parent":  "{{ parent() }}",
		"loop":    "{% include 'loop' %}",
	}
	cases := []struct {
		name string
		msg  string
	}{
		{"filter", "unknown filter"},
		{"func", "unknown function nothing"},
		{"raise", "stop here"},
		{"missing", "template not found: ghost"},
		{"parent", "outside of a block"},
		{"loop", "maximum nesting depth"},
	}
	for _, tc := range cases {
		_, err := renderWith(t, templates, tc.name, nil)
		if err == nil || !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("%s: got %v, want error containing %q", tc.name, err, tc.msg)
		}
	}

	_, err := renderWith(t, templates, "filter", nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Line != 2 || pe.Column != 8 {
		t.Fatalf("filter error position: %#v", err)
	}
	_, err = renderWith(t, templates, "missing", nil)
	if !IsNotFound(err) || !strings.Contains(err.Error(), "include 'ghost'") {
		t.Fatalf("missing include: %v", err)
	}
	_, err = renderWith(t, templates, "absent", nil)
	if !IsNotFound(err) {
		t.Fatalf("absent template: %v", err)
	}
}

func TestCachedRenderIsIdempotent(t *testing.T) {
	calls := 0
	p := ProviderFunc(func(ctx context.Context, name string) (*TemplateSource, error) {
		calls++
		return &TemplateSource{Text: "{% for x in xs %}{{ x }}{% endfor %}"}, nil
	})
	e := New(p, nil)
	ctx := context.Background()
	args := map[string]any{"xs": []string{"a", "b"}}
	first, err := e.Render(ctx, "t", args)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := e.Render(ctx, "t", args)
	if first != second || first != "ab" {
		t.Fatalf("renders differ: %q %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("provider called %d times", calls)
	}
	a, _ := e.Get(ctx, KindBase, "t")
	b, _ := e.Get(ctx, KindBase, "t")
	if a != b {
		t.Fatal("cached templates differ")
	}

	e.Invalidate()
	e.Render(ctx, "t", args)
	if calls != 2 {
		t.Fatalf("after invalidate provider called %d times", calls)
	}
	e.SetCacheEnabled(false)
	e.Render(ctx, "t", args)
	e.Render(ctx, "t", args)
	if calls != 4 {
		t.Fatalf("disabled cache provider called %d times", calls)
	}
}

func TestSeparateProviders(t *testing.T) {
	e := New(
		MemoryProvider{"page": "{% extends 'frame' %}{% block x %}{% include 'part' %}{% endblock %}"},
		nil,
		WithLayouts(MemoryProvider{"frame": "({% block x %}{% endblock %})"}),
		WithIncludes(MemoryProvider{"part": "P"}),
	)
	out, err := e.Render(context.Background(), "page", nil)
	if err != nil || out != "(P)" {
		t.Fatalf("got %q, %v", out, err)
	}
	if _, err := e.Get(context.Background(), KindBase, "frame"); !IsNotFound(err) {
		t.Fatalf("layout leaked into base provider: %v", err)
	}
}

func TestStreamAndPairs(t *testing.T) {
	e := New(MemoryProvider{"m": "a{{ x }}b{% capture c %}zz{% endcapture %}{{ c }}"}, nil)
	var chunks []string
	err := e.Stream(context.Background(), "m", map[string]any{"x": 1}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(chunks, "") != "a1bzz" || len(chunks) != 4 {
		t.Fatalf("chunks %q", chunks)
	}

	stop := errors.New("client gone")
	err = e.Stream(context.Background(), "m", nil, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("sink error not propagated: %v", err)
	}

	out, err := e.RenderPairs(context.Background(), "m", "x", "Y")
	if err != nil || out != "aYbzz" {
		t.Fatalf("pairs got %q, %v", out, err)
	}
	if _, err := e.RenderPairs(context.Background(), "m", "x"); err == nil {
		t.Fatal("odd pairs accepted")
	}
}

func TestCancelledRender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(MemoryProvider{"m": "x"}, nil).Render(ctx, "m", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestTemplateString(t *testing.T) {
	if err := TemplateString("{{ a }").Validate(); err != nil {
		t.Fatalf("literal braces rejected: %v", err)
	}
	if err := TemplateString("{% if %}").Validate(); err == nil {
		t.Fatal("broken template accepted")
	}
	out, err := TemplateString("out/{{ name | slugify }}.html").Render(map[string]any{"name": "A & B"})
	if err != nil || out != "out/a-and-b.html" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestPretty(t *testing.T) {
	tpl, err := Compile(nil, "p", "{% for x in items %}{{ x|upper }}{% endfor %}{% block b %}t{% endblock %}")
	if err != nil {
		t.Fatal(err)
	}
	out := Pretty(tpl)
	for _, want := range []string{"For(x in items)", "Output(x|upper)", "Block(b)", `Text("t")`} {
		if !strings.Contains(out, want) {
			t.Fatalf("pretty output missing %q:\n%s", want, out)
		}
	}
	count := 0
	Walk(visitFunc(func(Node) error { count++; return nil }), tpl.Root)
	if count != 5 {
		t.Fatalf("walked %d nodes", count)
	}
}

type visitFunc func(Node) error

func (f visitFunc) Visit(n Node) error { return f(n) }
