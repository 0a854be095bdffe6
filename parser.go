package liquidvm

import "strings"

// tagParseFunc parses one tag, starting just after its name token has been
// consumed (the parser is positioned on the tag's argument tokens) and
// must leave the token stream positioned just past its own closing
// delimiter.
type tagParseFunc func(p *Parser, nameTok *Token) (Node, error)

var tagRegistry = map[string]tagParseFunc{}

// registerTag adds a tag parser to the global registry; called from
// package-level init() functions in the tag files.
func registerTag(name string, fn tagParseFunc) {
	tagRegistry[name] = fn
}

// Parser walks a token stream (produced by lex) and builds the AST.
type Parser struct {
	tplName string
	tokens  []*Token
	pos     int

	// pendingTrimLeft is set when the most recently consumed closing
	// delimiter carried a "-" trim mark; the next literal text appended
	// to any children slice has its leading whitespace stripped.
	pendingTrimLeft bool
}

func newParser(tplName string, tokens []*Token) *Parser {
	return &Parser{tplName: tplName, tokens: tokens}
}

// Parse lexes and parses a complete template, returning its root node.
func Parse(tplName, src string) (*RootNode, error) {
	tokens, err := lex(tplName, src)
	if err != nil {
		return nil, err
	}
	p := newParser(tplName, tokens)
	children, stop, err := p.parseChildren(nil)
	if err != nil {
		return nil, err
	}
	if stop != "" {
		return nil, errorf(KindSyntax, "parser", tplName, p.lastTok(), "unexpected tag %q at top level.", stop)
	}
	var tok *Token
	if len(tokens) > 0 {
		tok = tokens[0]
	}
	return &RootNode{base: base{tok}, Children: children}, nil
}

func (p *Parser) peek() *Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() *Token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *Parser) lastTok() *Token {
	if p.pos == 0 {
		return nil
	}
	return p.tokens[p.pos-1]
}

func (p *Parser) acceptPunct(val string) bool {
	if t := p.peek(); t != nil && t.Typ == TokenPunct && t.Val == val {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) acceptKeyword(val string) bool {
	if t := p.peek(); t != nil && t.Typ == TokenKeyword && t.Val == val {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) peekKeyword(val string) bool {
	t := p.peek()
	return t != nil && t.Typ == TokenKeyword && t.Val == val
}

func (p *Parser) peekTagName(val string) bool {
	t := p.peek()
	return t != nil && t.Typ == TokenTagName && t.Val == val
}

// expectClose consumes the closing delimiter of the tag/output currently
// being parsed: "}}"/"-}}" for an output, "%}"/"-%}" for a tag.
func (p *Parser) expectClose(isTag bool) (*Token, error) {
	tok := p.next()
	want := "}}"
	if isTag {
		want = "%}"
	}
	if tok == nil || tok.Typ != TokenPunct || tok.Val != want {
		return nil, errorf(KindSyntax, "parser", p.tplName, tok, "expected closing %q.", want)
	}
	p.pendingTrimLeft = tok.TrimWhitespaces
	return tok, nil
}

const wsChars = " \t\r\n"

func trimLastLiteral(children []Node) {
	if len(children) == 0 {
		return
	}
	if lit, ok := children[len(children)-1].(*LiteralNode); ok {
		lit.Text = strings.TrimRight(lit.Text, wsChars)
	}
}

func (p *Parser) appendLiteral(children []Node, tok *Token) []Node {
	text := tok.Val
	if p.pendingTrimLeft {
		text = strings.TrimLeft(text, wsChars)
		p.pendingTrimLeft = false
	}
	if text == "" {
		return children
	}
	return append(children, &LiteralNode{base: base{tok}, Text: text})
}

// parseChildren is the generic document-level loop shared by the root
// document and every block tag body. stopNames, when non-nil, names the
// tag-name tokens that terminate this block; the terminating tag-name
// token itself is left unconsumed so the caller can finish parsing it.
func (p *Parser) parseChildren(stopNames map[string]bool) ([]Node, string, error) {
	var children []Node
	for {
		tok := p.peek()
		if tok == nil {
			if stopNames != nil {
				return children, "", errorf(KindSyntax, "parser", p.tplName, p.lastTok(), "unexpected EOF inside a block.")
			}
			return children, "", nil
		}
		switch tok.Typ {
		case TokenLiteral:
			p.next()
			children = p.appendLiteral(children, tok)
		case TokenOutputStart:
			p.next()
			if tok.TrimWhitespaces {
				trimLastLiteral(children)
			}
			expr, err := p.parseFilteredExpr()
			if err != nil {
				return nil, "", err
			}
			if _, err := p.expectClose(false); err != nil {
				return nil, "", err
			}
			children = append(children, &OutputNode{base: base{tok}, Expr: expr})
		case TokenTagName:
			if stopNames != nil && stopNames[tok.Val] {
				return children, tok.Val, nil
			}
			if tok.TrimWhitespaces {
				trimLastLiteral(children)
			}
			p.next()
			fn, ok := tagRegistry[tok.Val]
			if !ok {
				return nil, "", errorf(KindSyntax, "parser", p.tplName, tok, "unknown tag %q.", tok.Val)
			}
			node, err := fn(p, tok)
			if err != nil {
				return nil, "", err
			}
			children = append(children, node)
		default:
			return nil, "", errorf(KindSyntax, "parser", p.tplName, tok, "unexpected token %q.", tok.Val)
		}
	}
}

// parseBlockBody parses a block's child nodes up to (not including) one
// of stopNames, returning a *BlockNode and the stop tag name reached.
func (p *Parser) parseBlockBody(startTok *Token, stopNames map[string]bool) (*BlockNode, string, error) {
	children, stop, err := p.parseChildren(stopNames)
	if err != nil {
		return nil, "", err
	}
	if stop != "" {
		if tok := p.peek(); tok != nil && tok.TrimWhitespaces {
			trimLastLiteral(children)
		}
	}
	return &BlockNode{base: base{startTok}, Children: children}, stop, nil
}

// expectEndTag consumes a bare `{% NAME %}` end-tag (the tag-name token
// is still unconsumed, as left by parseChildren/parseBlockBody), with no
// arguments permitted.
func (p *Parser) expectEndTag(name string) error {
	tok := p.peek()
	if tok == nil || tok.Typ != TokenTagName || tok.Val != name {
		return errorf(KindSyntax, "parser", p.tplName, tok, "expected {%% %s %%}.", name)
	}
	p.next()
	_, err := p.expectClose(true)
	return err
}
