package liquidvm

// for iterates a range or collection, binding the loop variable and a
// `forloop` drop; an `else` block renders once if the source is empty.
// break/continue inside the body are parsed as
// ordinary tags (tags_set.go) and resolved against the nearest loop
// frame at render time.
//
//	{% for item in items %}{{ item }}{% else %}No items.{% endfor %}
func parseForTag(p *Parser, startTok *Token) (Node, error) {
	varName, src, mods, err := p.parseLoopExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}

	body, stop, err := p.parseBlockBody(startTok, map[string]bool{"else": true, "endfor": true})
	if err != nil {
		return nil, err
	}

	node := &ForNode{base: base{startTok}, Var: varName, Source: src, Mods: mods, Body: body}

	if stop == "else" {
		p.next()
		if _, err := p.expectClose(true); err != nil {
			return nil, err
		}
		elseBody, _, err := p.parseBlockBody(startTok, map[string]bool{"endfor": true})
		if err != nil {
			return nil, err
		}
		node.Else = elseBody
	}
	if err := p.expectEndTag("endfor"); err != nil {
		return nil, err
	}
	return node, nil
}

// tablerow wraps the iteration sequence in `<tr>`/`<td>` markup according
// to its `cols` modifier.
//
//	{% tablerow i in (1..4) cols:2 %}{{ i }}{% endtablerow %}
func parseTableRowTag(p *Parser, startTok *Token) (Node, error) {
	varName, src, mods, err := p.parseLoopExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectClose(true); err != nil {
		return nil, err
	}
	body, _, err := p.parseBlockBody(startTok, map[string]bool{"endtablerow": true})
	if err != nil {
		return nil, err
	}
	if err := p.expectEndTag("endtablerow"); err != nil {
		return nil, err
	}
	return &TableRowNode{base: base{startTok}, Var: varName, Source: src, Mods: mods, Body: body}, nil
}

func init() {
	registerTag("for", parseForTag)
	registerTag("tablerow", parseTableRowTag)
}
