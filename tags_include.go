package liquidvm

// include/render both load a partial template by name and splice its
// rendered output in place, but differ in scoping:
//
//	{% include 'card' %}
//	{% include 'card' with product as item %}
//	{% include 'card', title: "Featured", price: 9.99 %}
//	{% render 'card' %}
//	{% render 'card' for products as item %}
func parseIncludeTag(p *Parser, startTok *Token) (Node, error) {
	return parseIncludeLike(p, startTok, false)
}

func parseRenderTag(p *Parser, startTok *Token) (Node, error) {
	return parseIncludeLike(p, startTok, true)
}

func parseIncludeLike(p *Parser, startTok *Token, isRender bool) (Node, error) {
	node := &IncludeNode{base: base{startTok}, Render: isRender}

	nameTok := p.peek()
	if nameTok == nil {
		return nil, errorf(KindSyntax, "tag:include", p.tplName, startTok, "expected a template name.")
	}
	if nameTok.Typ == TokenString {
		p.next()
		node.Name = &StringLit{base: base{nameTok}, Value: nameTok.Val}
	} else {
		name, err := p.parseIdentifierOrRange()
		if err != nil {
			return nil, err
		}
		node.Name = name
	}

	if isRender && p.acceptKeyword("for") {
		forExpr, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		node.ForExpr = forExpr
		if p.acceptKeyword("as") {
			aliasTok := p.next()
			if aliasTok == nil || aliasTok.Typ != TokenIdentifier {
				return nil, errorf(KindSyntax, "tag:render", p.tplName, aliasTok, "expected a name after 'as'.")
			}
			node.ForVar = aliasTok.Val
		}
	} else if p.acceptKeyword("with") {
		withExpr, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		node.With = withExpr
		if p.acceptKeyword("as") {
			aliasTok := p.next()
			if aliasTok == nil || aliasTok.Typ != TokenIdentifier {
				return nil, errorf(KindSyntax, "tag:include", p.tplName, aliasTok, "expected a name after 'as'.")
			}
			node.WithAlias = aliasTok.Val
		}
	}

	p.acceptPunct(",")
	for {
		tok := p.peek()
		if tok == nil || tok.Typ != TokenIdentifier {
			break
		}
		// Lookahead: `name:` introduces a keyword argument; anything else
		// ends the argument list (so a bare trailing identifier is never
		// mistaken for one).
		if p.pos+1 >= len(p.tokens) || p.tokens[p.pos+1].Typ != TokenPunct || p.tokens[p.pos+1].Val != ":" {
			break
		}
		p.next()
		p.next() // consume ":"
		val, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		node.Args = append(node.Args, IncludeArg{Name: tok.Val, Expr: val})
		if !p.acceptPunct(",") {
			break
		}
	}

	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return node, nil
}

func init() {
	registerTag("include", parseIncludeTag)
	registerTag("render", parseRenderTag)
}
