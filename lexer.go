package liquidvm

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/juju/loggo"
)

var lexLogger = loggo.GetLogger("liquidvm.lexer")

// EOF is the end-of-file rune the lexer's next() returns once input is
// exhausted. -1 cannot appear in valid UTF-8 input.
const EOF rune = -1

// TokenType classifies a single token produced by the lexer.
type TokenType int

const (
	TokenError TokenType = iota
	TokenLiteral
	TokenTagName
	TokenOutputStart
	TokenKeyword
	TokenIdentifier
	TokenString
	TokenInteger
	TokenFloat
	TokenPunct
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenError:
		return "Error"
	case TokenLiteral:
		return "Literal"
	case TokenTagName:
		return "TagName"
	case TokenOutputStart:
		return "OutputStart"
	case TokenKeyword:
		return "Keyword"
	case TokenIdentifier:
		return "Identifier"
	case TokenString:
		return "String"
	case TokenInteger:
		return "Integer"
	case TokenFloat:
		return "Float"
	case TokenPunct:
		return "Punct"
	case TokenEOF:
		return "EOF"
	default:
		return "Unknown"
	}
}

var keywords = map[string]struct{}{
	"true": {}, "false": {}, "nil": {}, "null": {}, "empty": {},
	"contains": {}, "and": {}, "or": {}, "in": {}, "with": {}, "for": {},
	"as": {}, "by": {}, "cols": {}, "limit": {}, "offset": {}, "reversed": {},
}

// symbols lists recognized operators/punctuation, longest first so that
// greedy matching picks e.g. "<=" over "<".
var symbols = []string{
	"<>", "==", "!=", "<=", ">=",
	".", "[", "]", "(", ")", ",", ":", "|", "=", "<", ">", "-",
}

// Token is one lexical element: the input to the parser.
type Token struct {
	Filename        string
	Typ             TokenType
	Val             string
	Line            int
	Col             int
	TrimWhitespaces bool
}

func (t *Token) String() string {
	val := t.Val
	if len(val) > 60 {
		val = val[:57] + "..."
	}
	return "<Token " + t.Typ.String() + " '" + val + "'>"
}

type lexerStateFn func() lexerStateFn

// lexer tokenizes Liquid template source: literal text and, inside `{{
// }}`/`{% %}` delimiters, an expression token stream.
type lexer struct {
	name  string
	input string

	start, pos, width int
	line, col         int
	startline, startcol int
	// openLine/openCol locate the opening delimiter of the tag or output
	// being tokenized.
	openLine, openCol int

	tokens  []*Token
	errored bool

	inRaw bool
}

func lex(name, input string) ([]*Token, error) {
	l := &lexer{
		name: name, input: input,
		tokens: make([]*Token, 0, 64),
		line: 1, col: 1, startline: 1, startcol: 1,
	}
	l.run()
	if l.errored {
		errTok := l.tokens[len(l.tokens)-1]
		lexLogger.Debugf("lex error in %s: %s", name, errTok.Val)
		return nil, newError(KindSyntax, "lexer", name, errTok, errors.New(errTok.Val))
	}
	return l.tokens, nil
}

func (l *lexer) value() string  { return l.input[l.start:l.pos] }
func (l *lexer) length() int    { return l.pos - l.start }

func (l *lexer) emit(t TokenType) {
	tok := &Token{Filename: l.name, Typ: t, Val: l.value(), Line: l.startline, Col: l.startcol}
	if t == TokenString {
		tok.Val = unescapeString(tok.Val)
	}
	l.tokens = append(l.tokens, tok)
	l.start = l.pos
	l.startline, l.startcol = l.line, l.col
}

func unescapeString(s string) string {
	r := strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\'`, `'`, `\n`, "\n", `\t`, "\t", `\r`, "\r")
	return r.Replace(s)
}

func (l *lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return EOF
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) backup() {
	l.pos -= l.width
	if l.width == 0 {
		return
	}
	if l.input[l.pos] == '\n' {
		// Stepping back over a newline returns to the end of the
		// previous line.
		l.line--
		lineStart := strings.LastIndexByte(l.input[:l.pos], '\n') + 1
		l.col = utf8.RuneCountInString(l.input[lineStart:l.pos]) + 1
	} else {
		l.col--
	}
}

func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *lexer) ignore() {
	l.start = l.pos
	l.startline, l.startcol = l.line, l.col
}

func (l *lexer) accept(valid string) bool {
	if strings.ContainsRune(valid, l.next()) {
		return true
	}
	l.backup()
	return false
}

func (l *lexer) acceptRun(valid string) {
	for strings.ContainsRune(valid, l.next()) {
	}
	l.backup()
}

func (l *lexer) errorf(format string, args ...any) lexerStateFn {
	t := &Token{Filename: l.name, Typ: TokenError, Val: fmt.Sprintf(format, args...), Line: l.startline, Col: l.startcol}
	l.tokens = append(l.tokens, t)
	l.errored = true
	return nil
}

func (l *lexer) emitRemainingLiteral() {
	if l.pos > l.start {
		l.emit(TokenLiteral)
	}
}

// rawOpeners/rawClosers and commentOpeners/commentClosers enumerate the
// whitespace-trim variants of the block delimiters that disable tag
// recognition entirely.
var (
	rawOpeners      = []string{"{% raw %}", "{%- raw -%}", "{%- raw %}", "{% raw -%}"}
	rawClosers      = []string{"{% endraw %}", "{%- endraw -%}", "{%- endraw %}", "{% endraw -%}"}
	commentOpeners  = []string{"{% comment %}", "{%- comment -%}", "{%- comment %}", "{% comment -%}"}
	commentClosers  = []string{"{% endcomment %}", "{%- endcomment -%}", "{%- endcomment %}", "{% endcomment -%}"}
)

func hasAnyPrefix(s string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return p, true
		}
	}
	return "", false
}

// Whitespace-control on raw/comment/inline-comment delimiters is not
// tracked: those constructs never leave a token behind for the trim flag
// to attach to, unlike ordinary tags.

// run is the template-phase loop: literal text interspersed with `{{ }}`
// output tags and `{% %}` control tags. `{% raw %}` disables tag
// recognition until `{% endraw %}`; `{% comment %}` discards its body
// until `{% endcomment %}`.
func (l *lexer) run() {
	for {
		if l.inRaw {
			if w, ok := hasAnyPrefix(l.input[l.pos:], rawClosers); ok {
				l.emitRemainingLiteral()
				l.pos += len(w)
				l.col += len(w)
				l.ignore()
				l.inRaw = false
				continue
			}
			if l.next() == EOF {
				l.errorf("raw tag not closed, got EOF.")
				return
			}
			continue
		}

		if w, ok := hasAnyPrefix(l.input[l.pos:], commentOpeners); ok {
			l.emitRemainingLiteral()
			l.pos += len(w)
			l.col += len(w)
			l.ignore()
			if !l.skipBlockComment() {
				return
			}
			continue
		}

		if w, ok := hasAnyPrefix(l.input[l.pos:], rawOpeners); ok {
			l.emitRemainingLiteral()
			l.pos += len(w)
			l.col += len(w)
			l.ignore()
			l.inRaw = true
			continue
		}

		if strings.HasPrefix(l.input[l.pos:], "{{") || strings.HasPrefix(l.input[l.pos:], "{%") {
			l.emitRemainingLiteral()
			l.tokenizeDelimited()
			if l.errored {
				return
			}
			continue
		}

		if l.next() == EOF {
			break
		}
	}
	l.emitRemainingLiteral()
}

// skipBlockComment discards everything up to the matching `{%
// endcomment %}`, without tokenizing it at all.
func (l *lexer) skipBlockComment() bool {
	for {
		if w, ok := hasAnyPrefix(l.input[l.pos:], commentClosers); ok {
			l.pos += len(w)
			l.col += len(w)
			l.ignore()
			return true
		}
		if l.next() == EOF {
			l.errorf("comment tag not closed, got EOF.")
			return false
		}
	}
}

// skipInlineComment discards `{% # ... %}` (or its `-%}`-trimmed form): the
// `{%`, optional `-`, and leading whitespace have already been consumed by
// tokenizeDelimited, and the cursor sits on the `#`. The body may not span
// a newline.
func (l *lexer) skipInlineComment() {
	l.next() // consume '#'
	for {
		if strings.HasPrefix(l.input[l.pos:], "-%}") {
			l.pos += 3
			l.col += 3
			l.ignore()
			return
		}
		if strings.HasPrefix(l.input[l.pos:], "%}") {
			l.pos += 2
			l.col += 2
			l.ignore()
			return
		}
		switch l.next() {
		case EOF:
			l.errorf("inline comment tag not closed, got EOF.")
			return
		case '\n':
			l.errorf("newline not permitted in an inline comment.")
			return
		}
	}
}

// tokenizeDelimited lexes one `{{ ... }}` or `{% ... %}` construct,
// including its whitespace-control marks, then the expression-phase token
// stream up to and including the closing delimiter.
func (l *lexer) tokenizeDelimited() {
	isTag := strings.HasPrefix(l.input[l.pos:], "{%")
	l.openLine, l.openCol = l.line, l.col
	l.pos += 2
	l.col += 2
	trimOpen := false
	if l.peek() == '-' {
		l.next()
		trimOpen = true
	}
	l.ignore()

	if isTag {
		// Tag name (identifier) must come first.
		l.acceptRun(" \t\r\n")
		l.ignore()
		if l.peek() == '#' {
			l.skipInlineComment()
			return
		}
		if !l.accept(identStartChars) {
			l.errorf("expected a tag name.")
			return
		}
		l.acceptRun(identChars)
		tagTok := &Token{Filename: l.name, Typ: TokenTagName, Val: l.value(), Line: l.startline, Col: l.startcol, TrimWhitespaces: trimOpen}
		l.tokens = append(l.tokens, tagTok)
		l.start = l.pos
		l.startline, l.startcol = l.line, l.col
	} else {
		tok := &Token{Filename: l.name, Typ: TokenOutputStart, Val: "{{", Line: l.startline, Col: l.startcol, TrimWhitespaces: trimOpen}
		l.tokens = append(l.tokens, tok)
	}

	for state := l.stateExpr; state != nil; {
		state = state()
	}
}

const identStartChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_"
const identChars = identStartChars + "0123456789-"
const digits = "0123456789"

// stateExpr tokenizes the expression phase inside a tag/output, returning
// nil once the closing delimiter (`}}`, `-}}`, `%}`, `-%}`) is consumed.
func (l *lexer) stateExpr() lexerStateFn {
	for {
		switch {
		case l.accept(" \t\r\n"):
			l.ignore()
			continue
		case l.accept(identStartChars):
			return l.stateIdentifier
		case l.accept(digits):
			return l.stateNumber
		case l.accept(`"'`):
			return l.stateString
		}

		if strings.HasPrefix(l.input[l.pos:], "-}}") || strings.HasPrefix(l.input[l.pos:], "-%}") {
			l.pos += 3
			l.col += 3
			tok := &Token{Filename: l.name, Typ: TokenPunct, Val: l.input[l.pos-2 : l.pos], Line: l.startline, Col: l.startcol, TrimWhitespaces: true}
			l.tokens = append(l.tokens, tok)
			l.start = l.pos
			l.startline, l.startcol = l.line, l.col
			return nil
		}
		if strings.HasPrefix(l.input[l.pos:], "}}") || strings.HasPrefix(l.input[l.pos:], "%}") {
			l.pos += 2
			l.col += 2
			tok := &Token{Filename: l.name, Typ: TokenPunct, Val: l.input[l.pos-2 : l.pos], Line: l.startline, Col: l.startcol}
			l.tokens = append(l.tokens, tok)
			l.start = l.pos
			l.startline, l.startcol = l.line, l.col
			return nil
		}

		matched := false
		for _, sym := range symbols {
			if strings.HasPrefix(l.input[l.pos:], sym) {
				l.pos += len(sym)
				l.col += len(sym)
				l.emit(TokenPunct)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		if l.peek() == EOF {
			l.startline, l.startcol = l.openLine, l.openCol
			return l.errorf("unexpected EOF inside tag/output, delimiter not closed.")
		}
		return l.errorf("unexpected character %q.", l.peek())
	}
}

func (l *lexer) stateIdentifier() lexerStateFn {
	l.acceptRun(identChars)
	val := l.value()
	if _, isKw := keywords[val]; isKw {
		l.emit(TokenKeyword)
	} else {
		l.emit(TokenIdentifier)
	}
	return l.stateExpr
}

func (l *lexer) stateNumber() lexerStateFn {
	l.acceptRun(digits)
	isFloat := false
	if l.peek() == '.' {
		save := l.pos
		l.next()
		if l.accept(digits) {
			isFloat = true
			l.acceptRun(digits)
		} else {
			l.pos = save
		}
	}
	if isFloat {
		l.emit(TokenFloat)
	} else {
		l.emit(TokenInteger)
	}
	return l.stateExpr
}

func (l *lexer) stateString() lexerStateFn {
	quote := l.value()
	l.ignore()
	l.startcol--
	for !l.accept(quote) {
		switch l.next() {
		case '\\':
			switch l.peek() {
			case '"', '\'', '\\', 'n', 't', 'r':
				l.next()
			default:
				return l.errorf("unknown escape sequence: \\%c", l.peek())
			}
		case EOF:
			return l.errorf("unexpected EOF, string not closed.")
		case '\n':
			return l.errorf("newline in string is not allowed.")
		}
	}
	l.backup()
	l.emit(TokenString)
	l.next()
	l.ignore()
	return l.stateExpr
}
