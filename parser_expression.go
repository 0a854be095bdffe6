package liquidvm

import "strconv"

// infix binding strengths, loosest first.
const (
	precLowest   = 0
	precOrAnd    = 50
	precCompare  = 60
	precContains = 70
	precPrefix   = 80
)

var infixPrecedence = map[string]int{
	"or": precOrAnd, "and": precOrAnd,
	"==": precCompare, "!=": precCompare, "<>": precCompare,
	"<": precCompare, ">": precCompare, "<=": precCompare, ">=": precCompare,
	"contains": precContains,
}

// rightAssoc marks the boolean operators, which bind right-to-left.
var rightAssoc = map[string]bool{"or": true, "and": true}

func (p *Parser) peekOpText() (string, bool) {
	tok := p.peek()
	if tok == nil {
		return "", false
	}
	switch tok.Typ {
	case TokenKeyword:
		switch tok.Val {
		case "or", "and", "contains":
			return tok.Val, true
		}
	case TokenPunct:
		switch tok.Val {
		case "==", "!=", "<>", "<", ">", "<=", ">=":
			return tok.Val, true
		}
	}
	return "", false
}

// parseExpr is the Pratt entry point: parses a boolean/comparison
// expression, stopping at `|`, `,`, or end-of-tag.
func (p *Parser) parseExpr(minPrec int) (Expr, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		opText, ok := p.peekOpText()
		if !ok {
			break
		}
		prec, ok := infixPrecedence[opText]
		if !ok || prec < minPrec {
			break
		}
		opTok := p.next()
		nextMin := prec + 1
		if rightAssoc[opText] {
			nextMin = prec
		}
		right, err := p.parseExpr(nextMin)
		if err != nil {
			return nil, err
		}
		left = &InfixExpr{base: base{opTok}, Op: opText, Left: left, Right: right}
	}
	return left, nil
}

// parsePrefix parses a unary-minus application or falls through to a
// primary expression.
func (p *Parser) parsePrefix() (Expr, error) {
	if tok := p.peek(); tok != nil && tok.Typ == TokenPunct && tok.Val == "-" {
		opTok := p.next()
		operand, err := p.parseExpr(precPrefix)
		if err != nil {
			return nil, err
		}
		return &PrefixExpr{base: base{opTok}, Op: "-", Expr: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary parses a literal, identifier (with chaining), or a
// parenthesized range literal.
func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	if tok == nil {
		return nil, errorf(KindSyntax, "parser", p.tplName, p.lastTok(), "unexpected end of expression.")
	}
	switch tok.Typ {
	case TokenInteger:
		p.next()
		n, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return nil, errorf(KindSyntax, "parser", p.tplName, tok, "invalid integer literal %q.", tok.Val)
		}
		return &IntLit{base: base{tok}, Value: n}, nil
	case TokenFloat:
		p.next()
		f, err := strconv.ParseFloat(tok.Val, 64)
		if err != nil {
			return nil, errorf(KindSyntax, "parser", p.tplName, tok, "invalid float literal %q.", tok.Val)
		}
		return &FloatLit{base: base{tok}, Value: f}, nil
	case TokenString:
		p.next()
		return &StringLit{base: base{tok}, Value: tok.Val}, nil
	case TokenKeyword:
		switch tok.Val {
		case "true":
			p.next()
			return &BoolLit{base: base{tok}, Value: true}, nil
		case "false":
			p.next()
			return &BoolLit{base: base{tok}, Value: false}, nil
		case "nil", "null":
			p.next()
			return &NilLit{base: base{tok}}, nil
		case "empty":
			p.next()
			return &EmptyLit{base: base{tok}}, nil
		}
		return nil, errorf(KindSyntax, "parser", p.tplName, tok, "unexpected keyword %q in expression.", tok.Val)
	case TokenIdentifier:
		return p.parseIdentifierOrRange()
	case TokenPunct:
		if tok.Val == "(" {
			return p.parseParenOrRange()
		}
	}
	return nil, errorf(KindSyntax, "parser", p.tplName, tok, "unexpected token %q in expression.", tok.Val)
}

// parseParenOrRange parses `(start..stop)`. Bare parens only ever
// introduce a range literal in this grammar.
func (p *Parser) parseParenOrRange() (Expr, error) {
	openTok := p.next() // consume "("
	from, err := p.parseRangeBound()
	if err != nil {
		return nil, err
	}
	if !(p.acceptPunct(".") && p.acceptPunct(".")) {
		return nil, errorf(KindSyntax, "parser", p.tplName, p.peek(), "expected '..' in range literal.")
	}
	to, err := p.parseRangeBound()
	if err != nil {
		return nil, err
	}
	if !p.acceptPunct(")") {
		return nil, errorf(KindSyntax, "parser", p.tplName, p.peek(), "unbalanced parens in range literal.")
	}
	return &RangeLit{base: base{openTok}, From: from, To: to}, nil
}

// parseRangeBound accepts an integer literal or an identifier.
func (p *Parser) parseRangeBound() (Expr, error) {
	tok := p.peek()
	if tok == nil {
		return nil, errorf(KindSyntax, "parser", p.tplName, p.lastTok(), "unexpected end of range literal.")
	}
	switch tok.Typ {
	case TokenInteger:
		p.next()
		n, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return nil, errorf(KindSyntax, "parser", p.tplName, tok, "invalid integer literal %q.", tok.Val)
		}
		return &IntLit{base: base{tok}, Value: n}, nil
	case TokenIdentifier:
		return p.parseIdentifierOrRange()
	}
	return nil, errorf(KindSyntax, "parser", p.tplName, tok, "expected integer or identifier in range literal.")
}

// parseIdentifierOrRange parses a chained identifier: name(.name|[expr])*.
func (p *Parser) parseIdentifierOrRange() (Expr, error) {
	first := p.next()
	if first == nil || first.Typ != TokenIdentifier {
		return nil, errorf(KindSyntax, "parser", p.tplName, first, "expected identifier.")
	}
	ident := &Identifier{base: base{first}, Path: []PathElem{{Name: first.Val}}}
	for {
		tok := p.peek()
		if tok == nil || tok.Typ != TokenPunct {
			break
		}
		switch tok.Val {
		case ".":
			p.next()
			nameTok := p.next()
			if nameTok == nil || (nameTok.Typ != TokenIdentifier && nameTok.Typ != TokenInteger) {
				return nil, errorf(KindSyntax, "parser", p.tplName, nameTok, "expected a name after '.'.")
			}
			if nameTok.Typ == TokenInteger {
				n, err := strconv.ParseInt(nameTok.Val, 10, 64)
				if err != nil {
					return nil, errorf(KindSyntax, "parser", p.tplName, nameTok, "invalid integer literal %q.", nameTok.Val)
				}
				ident.Path = append(ident.Path, PathElem{Index: &n})
			} else {
				ident.Path = append(ident.Path, PathElem{Name: nameTok.Val})
			}
		case "[":
			p.next()
			inner, err := p.parseBracketSubscript()
			if err != nil {
				return nil, err
			}
			if !p.acceptPunct("]") {
				return nil, errorf(KindSyntax, "parser", p.tplName, p.peek(), "unbalanced '[' without ']'.")
			}
			ident.Path = append(ident.Path, inner)
		default:
			return ident, nil
		}
	}
	return ident, nil
}

// parseBracketSubscript parses the contents of `[...]`: a literal
// string/integer, or a nested identifier parsed recursively (`a[b.c]`).
func (p *Parser) parseBracketSubscript() (PathElem, error) {
	tok := p.peek()
	if tok == nil {
		return PathElem{}, errorf(KindSyntax, "parser", p.tplName, p.lastTok(), "'[' without a value.")
	}
	if tok.Typ == TokenPunct && tok.Val == "-" {
		p.next()
		numTok := p.next()
		if numTok == nil || numTok.Typ != TokenInteger {
			return PathElem{}, errorf(KindSyntax, "parser", p.tplName, numTok, "expected an integer after '-' in subscript.")
		}
		n, err := strconv.ParseInt(numTok.Val, 10, 64)
		if err != nil {
			return PathElem{}, errorf(KindSyntax, "parser", p.tplName, numTok, "invalid integer literal %q.", numTok.Val)
		}
		n = -n
		return PathElem{Index: &n}, nil
	}
	switch tok.Typ {
	case TokenString:
		p.next()
		return PathElem{Name: tok.Val}, nil
	case TokenInteger:
		p.next()
		n, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return PathElem{}, errorf(KindSyntax, "parser", p.tplName, tok, "invalid integer literal %q.", tok.Val)
		}
		return PathElem{Index: &n}, nil
	case TokenIdentifier:
		nested, err := p.parseIdentifierOrRange()
		if err != nil {
			return PathElem{}, err
		}
		return PathElem{Nested: nested}, nil
	}
	return PathElem{}, errorf(KindSyntax, "parser", p.tplName, tok, "'[' without a value.")
}

// parseFilteredExpr parses one boolean/comparison expression followed by
// zero-or-more `| name (:arg (,arg)*)?` segments.
func (p *Parser) parseFilteredExpr() (Expr, error) {
	target, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok == nil || !(tok.Typ == TokenPunct && tok.Val == "|") {
		return target, nil
	}
	fe := &FilteredExpr{base: base{target.Tok()}, Target: target}
	for p.acceptPunct("|") {
		nameTok := p.next()
		if nameTok == nil || nameTok.Typ != TokenIdentifier {
			return nil, errorf(KindSyntax, "parser", p.tplName, nameTok, "expected a filter name after '|'.")
		}
		fc := FilterCall{Name: nameTok.Val}
		if p.acceptPunct(":") {
			for {
				// `name: value` is a keyword argument; a bare expression is
				// positional. One token of lookahead distinguishes them.
				if kwTok := p.peek(); kwTok != nil && kwTok.Typ == TokenIdentifier &&
					p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].Typ == TokenPunct && p.tokens[p.pos+1].Val == ":" {
					p.next()
					p.next() // consume ":"
					val, err := p.parseExpr(precLowest)
					if err != nil {
						return nil, err
					}
					fc.KwArgs = append(fc.KwArgs, FilterKwArg{Name: kwTok.Val, Expr: val})
				} else {
					arg, err := p.parseExpr(precLowest)
					if err != nil {
						return nil, err
					}
					fc.Args = append(fc.Args, arg)
				}
				if !p.acceptPunct(",") {
					break
				}
			}
		}
		fe.Filters = append(fe.Filters, fc)
	}
	return fe, nil
}

// parseAssignExpr parses `name = filtered-expression`;
// `name` must be a single unchained segment.
func (p *Parser) parseAssignExpr() (*AssignExpr, error) {
	nameTok := p.next()
	if nameTok == nil || nameTok.Typ != TokenIdentifier {
		return nil, errorf(KindSyntax, "parser", p.tplName, nameTok, "expected a variable name.")
	}
	if !p.acceptPunct("=") {
		return nil, errorf(KindSyntax, "parser", p.tplName, p.peek(), "expected '=' in assignment.")
	}
	expr, err := p.parseFilteredExpr()
	if err != nil {
		return nil, err
	}
	return &AssignExpr{base: base{nameTok}, Name: nameTok.Val, Expr: expr}, nil
}

// parseLoopExpr parses `name in source [limit:X] [offset:Y] [cols:Z]
// [reversed]` with modifiers in any order, a later duplicate overwriting
// an earlier one.
func (p *Parser) parseLoopExpr() (string, LoopSource, LoopMods, error) {
	var mods LoopMods
	nameTok := p.next()
	if nameTok == nil || nameTok.Typ != TokenIdentifier {
		return "", LoopSource{}, mods, errorf(KindSyntax, "parser", p.tplName, nameTok, "expected a loop variable name.")
	}
	if !p.acceptKeyword("in") {
		return "", LoopSource{}, mods, errorf(KindSyntax, "parser", p.tplName, p.peek(), "expected 'in' in loop expression.")
	}
	var src LoopSource
	if tok := p.peek(); tok != nil && tok.Typ == TokenPunct && tok.Val == "(" {
		rl, err := p.parseParenOrRange()
		if err != nil {
			return "", LoopSource{}, mods, err
		}
		src.Range = rl.(*RangeLit)
	} else {
		coll, err := p.parseIdentifierOrRange()
		if err != nil {
			return "", LoopSource{}, mods, err
		}
		src.Collection = coll
	}
	for {
		tok := p.peek()
		if tok == nil || tok.Typ != TokenKeyword {
			break
		}
		switch tok.Val {
		case "limit":
			p.next()
			p.acceptPunct(":")
			e, err := p.parseExpr(precLowest)
			if err != nil {
				return "", LoopSource{}, mods, err
			}
			mods.Limit = e
		case "offset":
			p.next()
			p.acceptPunct(":")
			e, err := p.parseExpr(precLowest)
			if err != nil {
				return "", LoopSource{}, mods, err
			}
			mods.Offset = e
		case "cols":
			p.next()
			p.acceptPunct(":")
			e, err := p.parseExpr(precLowest)
			if err != nil {
				return "", LoopSource{}, mods, err
			}
			mods.Cols = e
		case "reversed":
			p.next()
			mods.Reversed = true
		default:
			return nameTok.Val, src, mods, nil
		}
	}
	return nameTok.Val, src, mods, nil
}
