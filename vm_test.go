package liquidvm

import (
	"strconv"
	"strings"
	"testing"

	"github.com/kr/pretty"
)

func renderString(t *testing.T, src string, ctx Context) string {
	t.Helper()
	tpl, err := FromString(src)
	if err != nil {
		t.Fatalf("FromString(%q) failed: %v", src, err)
	}
	out, err := tpl.Render(ctx)
	if err != nil {
		t.Fatalf("Render(%q) failed: %v", src, err)
	}
	return out
}

func TestRenderScenarios(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		ctx  Context
		want string
	}{
		{"substitution", "Hello, {{ you }}!", Context{"you": "World"}, "Hello, World!"},
		{"assign escapes loop", "{% assign x = 1 %}{% for i in (1..3) %}{{ i }}{% assign x = i %}{% endfor %}/{{ x }}", nil, "123/3"},
		{"continue", "{% for i in (1..3) %}{% if i == 2 %}{% continue %}{% endif %}{{ i }}{% endfor %}", nil, "13"},
		{"capture of loop", "{% capture s %}{% for t in tags %}{{ t }} {% endfor %}{% endcapture %}[{{ s }}]", Context{"tags": []any{"a", "b"}}, "[a b ]"},
		{"tablerow", "{% tablerow i in (1..4) cols:2 %}{{ i }}{% endtablerow %}",
			nil,
			"<tr class=\"row1\">\n<td class=\"col1\">1</td><td class=\"col2\">2</td></tr>\n<tr class=\"row2\"><td class=\"col1\">3</td><td class=\"col2\">4</td></tr>\n"},

		{"static text", "just text", nil, "just text"},
		{"undefined prints empty", "[{{ missing }}]", nil, "[]"},
		{"dotted path", "{{ user.name }}", Context{"user": map[string]any{"name": "Ada"}}, "Ada"},
		{"bracket path", "{{ m[k] }}", Context{"m": map[string]any{"a": "hit"}, "k": "a"}, "hit"},
		{"array index", "{{ xs[1] }}{{ xs.0 }}", Context{"xs": []any{"p", "q"}}, "qp"},
		{"negative index", "{{ xs[-1] }}", Context{"xs": []any{"p", "q"}}, "q"},
		{"size property", "{{ xs.size }}:{{ s.size }}", Context{"xs": []any{1, 2, 3}, "s": "ab"}, "3:2"},
		{"first and last", "{{ xs.first }}{{ xs.last }}", Context{"xs": []any{"p", "q"}}, "pq"},

		{"if true branch", "{% if a > 1 %}big{% else %}small{% endif %}", Context{"a": 5}, "big"},
		{"if else branch", "{% if a > 1 %}big{% else %}small{% endif %}", Context{"a": 0}, "small"},
		{"elsif", "{% if a == 1 %}one{% elsif a == 2 %}two{% else %}many{% endif %}", Context{"a": 2}, "two"},
		{"unless", "{% unless done %}pending{% endunless %}", nil, "pending"},
		{"unless with else", "{% unless ok %}no{% else %}yes{% endunless %}", Context{"ok": true}, "yes"},
		{"boolean ops", "{% if a and b or c %}y{% endif %}", Context{"a": true, "b": false, "c": true}, "y"},
		{"contains string", "{% if 'hello' contains 'ell' %}y{% endif %}", nil, "y"},
		{"contains array", "{% if xs contains 'b' %}y{% endif %}", Context{"xs": []any{"a", "b"}}, "y"},
		{"empty literal", "{% if xs == empty %}none{% endif %}", Context{"xs": []any{}}, "none"},
		{"nil equals undefined", "{% if missing == nil %}y{% endif %}", nil, "y"},
		{"string never equals number", "{% if '1' == 1 %}eq{% else %}ne{% endif %}", nil, "ne"},
		{"int equals float", "{% if 1 == 1.0 %}eq{% endif %}", nil, "eq"},
		{"unary minus", "{{ -n }}", Context{"n": 4}, "-4"},

		{"case single", "{% case x %}{% when 1 %}one{% when 2 %}two{% endcase %}", Context{"x": 2}, "two"},
		{"case else", "{% case x %}{% when 1 %}one{% else %}other{% endcase %}", Context{"x": 9}, "other"},
		{"case multi fire", "{% case 1 %}{% when 1 %}a{% when 1 %}b{% endcase %}", nil, "ab"},
		{"case else not fired", "{% case 1 %}{% when 1 %}a{% else %}e{% endcase %}", nil, "a"},
		{"case candidate list", "{% case x %}{% when 1, 2 %}low{% endcase %}", Context{"x": 2}, "low"},

		{"for over array", "{% for x in xs %}{{ x }};{% endfor %}", Context{"xs": []any{"a", "b"}}, "a;b;"},
		{"for over map yields pairs", "{% for pair in m %}{{ pair[0] }}={{ pair[1] }};{% endfor %}", Context{"m": map[string]any{"a": 1, "b": 2}}, "a=1;b=2;"},
		{"for else on empty", "{% for x in xs %}x{% else %}none{% endfor %}", Context{"xs": []any{}}, "none"},
		{"for else on undefined", "{% for x in nothing %}x{% else %}none{% endfor %}", nil, "none"},
		{"for reversed", "{% for i in (1..3) reversed %}{{ i }}{% endfor %}", nil, "321"},
		{"for limit offset", "{% for i in (1..5) limit:3 offset:1 %}{{ i }}{% endfor %}", nil, "234"},
		{"for offset past end", "{% for i in (1..3) offset:5 %}{{ i }}{% else %}none{% endfor %}", nil, "none"},
		{"empty range", "{% for i in (3..1) %}{{ i }}{% else %}none{% endfor %}", nil, "none"},
		{"dynamic range", "{% for i in (1..n) %}{{ i }}{% endfor %}", Context{"n": 3}, "123"},
		{"break", "{% for i in (1..5) %}{% if i == 3 %}{% break %}{% endif %}{{ i }}{% endfor %}", nil, "12"},
		{"break leaves outer loop running", "{% for i in (1..2) %}{% for j in (1..5) %}{% if j == 2 %}{% break %}{% endif %}{{ j }}{% endfor %}.{% endfor %}", nil, "1.1."},

		{"forloop drop", "{% for i in (1..3) %}{{ forloop.index }}{{ forloop.index0 }}{{ forloop.rindex }}{{ forloop.rindex0 }}|{% endfor %}", nil, "1032|2121|3210|"},
		{"forloop first last", "{% for i in (1..2) %}{{ forloop.first }}-{{ forloop.last }};{% endfor %}", nil, "true-false;false-true;"},
		{"forloop length", "{% for i in (1..3) %}{{ forloop.length }}{% endfor %}", nil, "333"},
		{"forloop name", "{% for tag in product.tags %}{{ forloop.name }}{% endfor %}", Context{"product": map[string]any{"tags": []any{"x"}}}, "tag-product.tags"},
		{"parentloop", "{% for i in (1..2) %}{% for j in (1..2) %}{{ forloop.parentloop.index }}{{ forloop.index }} {% endfor %}{% endfor %}", nil, "11 12 21 22 "},
		{"parentloop undefined at top", "{% for i in (1..1) %}[{{ forloop.parentloop }}]{% endfor %}", nil, "[]"},
		{"tablerowloop drop", "{% tablerow i in (1..4) cols:2 %}{{ tablerowloop.col }}{{ tablerowloop.row }}{% endtablerow %}",
			nil,
			"<tr class=\"row1\">\n<td class=\"col1\">11</td><td class=\"col2\">21</td></tr>\n<tr class=\"row2\"><td class=\"col1\">12</td><td class=\"col2\">22</td></tr>\n"},

		{"capture simple", "{% capture n %}X{% endcapture %}{{ n }}", nil, "X"},
		{"capture sees outer loop var", "{% for i in (1..2) %}{% capture c %}{{ i }}{% endcapture %}{{ c }}{% endfor %}", nil, "12"},
		{"increment", "{% increment c %}{% increment c %}{% decrement c %}", nil, "011"},
		{"decrement starts below zero", "{% decrement d %}{% decrement d %}", nil, "-1-2"},
		{"counter readable after increment", "{% increment foo %} {{ foo }}", nil, "0 1"},
		{"counter in scope for expressions", "{% increment foo %} {% increment foo %} {% if foo > 0 %}{{ foo }}{% endif %}", nil, "0 1 2"},
		{"counter readable after decrement", "{% decrement foo %}{{ foo }} {% decrement foo %}{{ foo }}", nil, "-1-1 -2-2"},
		{"counter independent of local", "{% assign c = 'local' %}{% increment c %}{{ c }}", nil, "0local"},
		{"cycle", "{% for i in (1..4) %}{% cycle 'odd', 'even' %}{% endfor %}", nil, "oddevenoddeven"},
		{"cycle groups", "{% cycle g1: 'a', 'b' %}{% cycle g2: 'a', 'b' %}{% cycle g1: 'a', 'b' %}", nil, "aab"},

		{"filter chain", "{{ ' hi ' | strip | upcase | append: '!' }}", nil, "HI!"},
		{"filter on loop var", "{% for x in xs %}{{ x | upcase }}{% endfor %}", Context{"xs": []any{"a", "b"}}, "AB"},
		{"default on undefined", "{{ missing | default: 'none' }}", nil, "none"},
		{"default keeps value", "{{ 'v' | default: 'none' }}", nil, "v"},
		{"echo tag", "{% echo 'hi' | upcase %}", nil, "HI"},

		{"raw passthrough", "{% raw %}{{ x }}{% endraw %}", nil, "{{ x }}"},
		{"comment dropped", "a{% comment %}hidden {{ x }}{% endcomment %}b", nil, "ab"},
		{"inline comment", "a{% # note %}b", nil, "ab"},
		{"whitespace control", "a  {{- 'x' -}}  b", nil, "axb"},
		{"whitespace control tags", "{% if true -%}  padded  {%- endif %}", nil, "padded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := renderString(t, tc.tpl, tc.ctx)
			if got != tc.want {
				t.Errorf("render(%q):\n%s", tc.tpl, strings.Join(pretty.Diff(tc.want, got), "\n"))
			}
		})
	}
}

func TestRenderStaticOutputMatchesSource(t *testing.T) {
	src := "no tags here, just\ntwo lines of text"
	if got := renderString(t, src, nil); got != src {
		t.Errorf("static render = %q, want the source unchanged", got)
	}
}

func TestLoopIndexMonotonicity(t *testing.T) {
	out := renderString(t, "{% for i in (1..5) %}{{ forloop.index }},{{ forloop.rindex }};{% endfor %}", nil)
	parts := strings.Split(strings.TrimSuffix(out, ";"), ";")
	lastIdx, lastRidx := 0, 6
	for _, p := range parts {
		pair := strings.SplitN(p, ",", 2)
		idx, err1 := strconv.Atoi(pair[0])
		ridx, err2 := strconv.Atoi(pair[1])
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected chunk %q in %q", p, out)
		}
		if idx <= lastIdx {
			t.Errorf("forloop.index not strictly increasing: %s", out)
		}
		if ridx >= lastRidx {
			t.Errorf("forloop.rindex not strictly decreasing: %s", out)
		}
		lastIdx, lastRidx = idx, ridx
	}
}

func TestValueStackOverflow(t *testing.T) {
	env := NewEnvironment()
	env.StackSize = 3
	tpl, err := env.FromString("{{ a == b and c == d or e == f }}")
	if err != nil {
		t.Fatal(err)
	}
	_, err = tpl.Render(Context{})
	if err == nil || !IsKind(err, KindStackOverflow) {
		t.Errorf("err = %v, want a stack overflow", err)
	}
}

func TestConcurrentRendersShareProgram(t *testing.T) {
	tpl := MustFromString("{% for i in (1..3) %}{{ i }}{% assign x = i %}{% endfor %}{{ x }}")
	done := make(chan string, 8)
	for n := 0; n < 8; n++ {
		go func() {
			out, err := tpl.Render(Context{})
			if err != nil {
				done <- "error: " + err.Error()
				return
			}
			done <- out
		}()
	}
	for n := 0; n < 8; n++ {
		if out := <-done; out != "1233" {
			t.Errorf("concurrent render = %q, want 1233", out)
		}
	}
}
