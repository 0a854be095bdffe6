package liquidvm

// assign binds a filtered expression to a name in the render locals.
//
//	{% assign greeting = "Hello, World!" %}
//	{{ greeting }}
func parseAssignTag(p *Parser, nameTok *Token) (Node, error) {
	assign, err := p.parseAssignExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return &AssignNode{base: base{nameTok}, Name: assign.Name, Expr: assign.Expr}, nil
}

// capture renders its body into a dedicated buffer and binds the
// resulting string to a local name.
//
//	{% capture greeting %}Hello, {{ name }}!{% endcapture %}
func parseCaptureTag(p *Parser, startTok *Token) (Node, error) {
	targetTok := p.next()
	if targetTok == nil || targetTok.Typ != TokenIdentifier {
		return nil, errorf(KindSyntax, "tag:capture", p.tplName, targetTok, "expected a variable name.")
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	body, _, err := p.parseBlockBody(startTok, map[string]bool{"endcapture": true})
	if err != nil {
		return nil, err
	}
	if err := p.expectEndTag("endcapture"); err != nil {
		return nil, err
	}
	return &CaptureNode{base: base{startTok}, Name: targetTok.Val, Body: body}, nil
}

// increment/decrement maintain a per-context counter independent of
// locals with the same name.
func parseIncrementTag(p *Parser, startTok *Token) (Node, error) {
	return parseIncrDecr(p, startTok, false)
}

func parseDecrementTag(p *Parser, startTok *Token) (Node, error) {
	return parseIncrDecr(p, startTok, true)
}

func parseIncrDecr(p *Parser, startTok *Token, decrement bool) (Node, error) {
	nameTok := p.next()
	if nameTok == nil || nameTok.Typ != TokenIdentifier {
		return nil, errorf(KindSyntax, "tag:increment", p.tplName, nameTok, "expected a counter name.")
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return &IncrDecrNode{base: base{startTok}, Name: nameTok.Val, Decrement: decrement}, nil
}

// cycle yields the next value from a rotating list, keyed by an optional
// explicit group name.
//
//	{% cycle 'odd', 'even' %}
//	{% cycle rowclass: 'odd', 'even' %}
func parseCycleTag(p *Parser, startTok *Token) (Node, error) {
	node := &CycleNode{base: base{startTok}}

	// A leading `name:` names the cycle group explicitly; otherwise the
	// group key is derived from the value list itself.
	if tok := p.peek(); tok != nil && tok.Typ == TokenIdentifier && p.pos+1 < len(p.tokens) {
		if nextTok := p.tokens[p.pos+1]; nextTok.Typ == TokenPunct && nextTok.Val == ":" {
			groupTok := p.next()
			p.next() // consume ":"
			node.Group = &StringLit{base: base{groupTok}, Value: groupTok.Val}
		}
	}

	for {
		v, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		node.Values = append(node.Values, v)
		if !p.acceptPunct(",") {
			break
		}
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return node, nil
}

// break/continue are only meaningful inside a loop body; that is
// verified at render time, when the nearest enclosing block's `loop`
// flag is known.
func parseBreakTag(p *Parser, startTok *Token) (Node, error) {
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return &BreakNode{base: base{startTok}}, nil
}

func parseContinueTag(p *Parser, startTok *Token) (Node, error) {
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return &ContinueNode{base: base{startTok}}, nil
}

// echo is statement-form output: `{% echo expr %}` compiles identically
// to `{{ expr }}`.
func parseEchoTag(p *Parser, startTok *Token) (Node, error) {
	expr, err := p.parseFilteredExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	return &OutputNode{base: base{startTok}, Expr: expr}, nil
}

func init() {
	registerTag("assign", parseAssignTag)
	registerTag("capture", parseCaptureTag)
	registerTag("increment", parseIncrementTag)
	registerTag("decrement", parseDecrementTag)
	registerTag("cycle", parseCycleTag)
	registerTag("break", parseBreakTag)
	registerTag("continue", parseContinueTag)
	registerTag("echo", parseEchoTag)
}
