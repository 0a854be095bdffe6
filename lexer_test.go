package liquidvm

import (
	"strings"
	"testing"
)

type tokSpec struct {
	typ  TokenType
	val  string
	trim bool
}

func assertTokens(t *testing.T, src string, want []tokSpec) {
	t.Helper()
	tokens, err := lex("test", src)
	if err != nil {
		t.Fatalf("lex(%q) failed: %v", src, err)
	}
	if len(tokens) != len(want) {
		t.Fatalf("lex(%q): got %d tokens, want %d\ngot: %v", src, len(tokens), len(want), tokens)
	}
	for i, w := range want {
		tok := tokens[i]
		if tok.Typ != w.typ || tok.Val != w.val || tok.TrimWhitespaces != w.trim {
			t.Errorf("lex(%q) token %d = {%s %q trim=%v}, want {%s %q trim=%v}",
				src, i, tok.Typ, tok.Val, tok.TrimWhitespaces, w.typ, w.val, w.trim)
		}
	}
}

func TestLexLiteralAndOutput(t *testing.T) {
	assertTokens(t, "Hello, {{ you }}!", []tokSpec{
		{TokenLiteral, "Hello, ", false},
		{TokenOutputStart, "{{", false},
		{TokenIdentifier, "you", false},
		{TokenPunct, "}}", false},
		{TokenLiteral, "!", false},
	})
}

func TestLexTag(t *testing.T) {
	assertTokens(t, "{% assign x = 41.5 %}", []tokSpec{
		{TokenTagName, "assign", false},
		{TokenIdentifier, "x", false},
		{TokenPunct, "=", false},
		{TokenFloat, "41.5", false},
		{TokenPunct, "%}", false},
	})
}

func TestLexOperatorsAndKeywords(t *testing.T) {
	assertTokens(t, "{% if a <= 1 or b contains 'x' %}", []tokSpec{
		{TokenTagName, "if", false},
		{TokenIdentifier, "a", false},
		{TokenPunct, "<=", false},
		{TokenInteger, "1", false},
		{TokenKeyword, "or", false},
		{TokenIdentifier, "b", false},
		{TokenKeyword, "contains", false},
		{TokenString, "x", false},
		{TokenPunct, "%}", false},
	})
}

func TestLexUnaryMinus(t *testing.T) {
	assertTokens(t, "{{ -5 }}", []tokSpec{
		{TokenOutputStart, "{{", false},
		{TokenPunct, "-", false},
		{TokenInteger, "5", false},
		{TokenPunct, "}}", false},
	})
}

func TestLexWhitespaceControlMarks(t *testing.T) {
	assertTokens(t, "a {{- x -}} b", []tokSpec{
		{TokenLiteral, "a ", false},
		{TokenOutputStart, "{{", true},
		{TokenIdentifier, "x", false},
		{TokenPunct, "}}", true},
		{TokenLiteral, " b", false},
	})
	assertTokens(t, "{%- break -%}", []tokSpec{
		{TokenTagName, "break", true},
		{TokenPunct, "%}", true},
	})
}

func TestLexRaw(t *testing.T) {
	assertTokens(t, "a{% raw %}{{ not.a.tag }}{% endraw %}b", []tokSpec{
		{TokenLiteral, "a", false},
		{TokenLiteral, "{{ not.a.tag }}", false},
		{TokenLiteral, "b", false},
	})
}

func TestLexComments(t *testing.T) {
	assertTokens(t, "a{% comment %} {{ dropped }} {% endcomment %}b", []tokSpec{
		{TokenLiteral, "a", false},
		{TokenLiteral, "b", false},
	})
	assertTokens(t, "a{% # an inline note %}b", []tokSpec{
		{TokenLiteral, "a", false},
		{TokenLiteral, "b", false},
	})
}

func TestLexDottedAndBracketPaths(t *testing.T) {
	assertTokens(t, "{{ a.b[c].0 }}", []tokSpec{
		{TokenOutputStart, "{{", false},
		{TokenIdentifier, "a", false},
		{TokenPunct, ".", false},
		{TokenIdentifier, "b", false},
		{TokenPunct, "[", false},
		{TokenIdentifier, "c", false},
		{TokenPunct, "]", false},
		{TokenPunct, ".", false},
		{TokenInteger, "0", false},
		{TokenPunct, "}}", false},
	})
}

func TestLexIdentifierWithHyphen(t *testing.T) {
	assertTokens(t, "{{ my-var }}", []tokSpec{
		{TokenOutputStart, "{{", false},
		{TokenIdentifier, "my-var", false},
		{TokenPunct, "}}", false},
	})
}

func TestLexErrors(t *testing.T) {
	cases := []struct {
		src  string
		frag string
	}{
		{"{{ x ", "delimiter not closed"},
		{"{% raw %}never closed", "raw tag not closed"},
		{"{% comment %}forever", "comment tag not closed"},
		{`{{ "open string }}`, "string not closed"},
		{"{% %}", "expected a tag name"},
		{"{{ a ~ b }}", "unexpected character"},
	}
	for _, tc := range cases {
		_, err := lex("test", tc.src)
		if err == nil {
			t.Errorf("lex(%q): expected error containing %q, got none", tc.src, tc.frag)
			continue
		}
		if !IsKind(err, KindSyntax) {
			t.Errorf("lex(%q): error is not a syntax error: %v", tc.src, err)
		}
		if !strings.Contains(err.Error(), tc.frag) {
			t.Errorf("lex(%q) error = %q, want fragment %q", tc.src, err, tc.frag)
		}
	}
}

func TestLexErrorCarriesLine(t *testing.T) {
	_, err := lex("test", "line one\nline two {{ broken\n")
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("error has type %T, want *Error", err)
	}
	if e.Line != 2 && e.Line != 3 {
		t.Errorf("error line = %d, want the line of the open delimiter", e.Line)
	}
}
