package liquidvm

// if/unless/elsif/else form a chain of condition/body branches with an
// optional trailing else. unless compiles identically to if
// with the condition negated.
//
//	{% if user.age >= 18 %}
//	    Adult.
//	{% elsif user.age >= 13 %}
//	    Teen.
//	{% else %}
//	    Child.
//	{% endif %}
func parseIfTag(p *Parser, startTok *Token) (Node, error) {
	return parseIfLike(p, startTok, false, "endif")
}

func parseUnlessTag(p *Parser, startTok *Token) (Node, error) {
	return parseIfLike(p, startTok, true, "endunless")
}

func parseIfLike(p *Parser, startTok *Token, negate bool, endName string) (Node, error) {
	node := &IfNode{base: base{startTok}, Negate: negate}

	cond, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}

	stops := map[string]bool{"elsif": true, "else": true, endName: true}
	for {
		body, stop, err := p.parseBlockBody(startTok, stops)
		if err != nil {
			return nil, err
		}
		node.Branches = append(node.Branches, IfBranch{Cond: cond, Body: body})

		switch stop {
		case "elsif":
			p.next() // consume "elsif"
			cond, err = p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			if _, err := p.expectClose(true); err != nil {
				return nil, err
			}
			continue
		case "else":
			p.next() // consume "else"
			if _, err := p.expectClose(true); err != nil {
				return nil, err
			}
			elseBody, stop2, err := p.parseBlockBody(startTok, map[string]bool{endName: true})
			if err != nil {
				return nil, err
			}
			_ = stop2
			node.Else = elseBody
			if err := p.expectEndTag(endName); err != nil {
				return nil, err
			}
			return node, nil
		case endName:
			if err := p.expectEndTag(endName); err != nil {
				return nil, err
			}
			return node, nil
		}
	}
}

// case/when/else: every when whose candidate list contains a value equal
// to the discriminant fires, so multiple when bodies may render; else
// fires only when no when matched.
//
//	{% case shape %}
//	{% when 'circle', 'oval' %}
//	    Round.
//	{% when 'square' %}
//	    Square.
//	{% else %}
//	    Unknown.
//	{% endcase %}
func parseCaseTag(p *Parser, startTok *Token) (Node, error) {
	node := &CaseNode{base: base{startTok}}

	disc, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	node.Discriminant = disc
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}

	// Literal text between `case` and the first `when` is ignored.
	if _, _, err := p.parseBlockBody(startTok, map[string]bool{"when": true, "else": true, "endcase": true}); err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok == nil {
			return nil, errorf(KindSyntax, "tag:case", p.tplName, p.lastTok(), "unexpected EOF, expected 'when', 'else', or 'endcase'.")
		}
		switch tok.Val {
		case "when":
			p.next()
			when := WhenClause{}
			for {
				// Candidates are single values; `or` separates them here
				// rather than acting as a boolean operator.
				cand, err := p.parsePrefix()
				if err != nil {
					return nil, err
				}
				when.Candidates = append(when.Candidates, cand)
				if p.acceptPunct(",") || p.acceptKeyword("or") {
					continue
				}
				break
			}
			if _, err := p.expectClose(true); err != nil {
				return nil, err
			}
			body, _, err := p.parseBlockBody(startTok, map[string]bool{"when": true, "else": true, "endcase": true})
			if err != nil {
				return nil, err
			}
			when.Body = body
			node.Whens = append(node.Whens, when)
		case "else":
			p.next()
			if _, err := p.expectClose(true); err != nil {
				return nil, err
			}
			body, _, err := p.parseBlockBody(startTok, map[string]bool{"endcase": true})
			if err != nil {
				return nil, err
			}
			node.Else = body
			if err := p.expectEndTag("endcase"); err != nil {
				return nil, err
			}
			return node, nil
		case "endcase":
			if err := p.expectEndTag("endcase"); err != nil {
				return nil, err
			}
			return node, nil
		default:
			return nil, errorf(KindSyntax, "tag:case", p.tplName, tok, "unexpected tag %q inside case.", tok.Val)
		}
	}
}

func init() {
	registerTag("if", parseIfTag)
	registerTag("unless", parseUnlessTag)
	registerTag("case", parseCaseTag)
}
