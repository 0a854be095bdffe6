package liquidvm

import (
	"fmt"
	"strconv"
	"strings"
)

// This file renders a parsed tree back to template source. The printed
// form is canonical (normalized spacing, no whitespace-control marks);
// re-parsing it yields a structurally equal tree.

// String renders the document back to template source.
func (n *RootNode) String() string {
	var sb strings.Builder
	for _, child := range n.Children {
		sb.WriteString(nodeString(child))
	}
	return sb.String()
}

func blockString(b *BlockNode) string {
	if b == nil {
		return ""
	}
	var sb strings.Builder
	for _, child := range b.Children {
		sb.WriteString(nodeString(child))
	}
	return sb.String()
}

func nodeString(n Node) string {
	switch node := n.(type) {
	case *RootNode:
		return node.String()
	case *LiteralNode:
		return node.Text
	case *OutputNode:
		return "{{ " + exprString(node.Expr) + " }}"
	case *BlockNode:
		return blockString(node)
	case *IfNode:
		return ifString(node)
	case *CaseNode:
		return caseString(node)
	case *ForNode:
		var sb strings.Builder
		fmt.Fprintf(&sb, "{%% for %s %%}%s", loopExprString(node.Var, node.Source, node.Mods), blockString(node.Body))
		if node.Else != nil {
			sb.WriteString("{% else %}" + blockString(node.Else))
		}
		sb.WriteString("{% endfor %}")
		return sb.String()
	case *TableRowNode:
		return fmt.Sprintf("{%% tablerow %s %%}%s{%% endtablerow %%}",
			loopExprString(node.Var, node.Source, node.Mods), blockString(node.Body))
	case *AssignNode:
		return fmt.Sprintf("{%% assign %s = %s %%}", node.Name, exprString(node.Expr))
	case *CaptureNode:
		return fmt.Sprintf("{%% capture %s %%}%s{%% endcapture %%}", node.Name, blockString(node.Body))
	case *IncrDecrNode:
		tag := "increment"
		if node.Decrement {
			tag = "decrement"
		}
		return fmt.Sprintf("{%% %s %s %%}", tag, node.Name)
	case *CycleNode:
		var sb strings.Builder
		sb.WriteString("{% cycle ")
		if node.Group != nil {
			if lit, ok := node.Group.(*StringLit); ok {
				sb.WriteString(lit.Value + ": ")
			}
		}
		for i, v := range node.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(exprString(v))
		}
		sb.WriteString(" %}")
		return sb.String()
	case *IncludeNode:
		return includeString(node)
	case *BreakNode:
		return "{% break %}"
	case *ContinueNode:
		return "{% continue %}"
	default:
		return ""
	}
}

func ifString(node *IfNode) string {
	var sb strings.Builder
	open, end := "if", "{% endif %}"
	if node.Negate {
		open, end = "unless", "{% endunless %}"
	}
	for i, branch := range node.Branches {
		tag := open
		if i > 0 {
			tag = "elsif"
		}
		fmt.Fprintf(&sb, "{%% %s %s %%}%s", tag, exprString(branch.Cond), blockString(branch.Body))
	}
	if node.Else != nil {
		sb.WriteString("{% else %}" + blockString(node.Else))
	}
	sb.WriteString(end)
	return sb.String()
}

func caseString(node *CaseNode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "{%% case %s %%}", exprString(node.Discriminant))
	for _, when := range node.Whens {
		sb.WriteString("{% when ")
		for i, cand := range when.Candidates {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(exprString(cand))
		}
		sb.WriteString(" %}" + blockString(when.Body))
	}
	if node.Else != nil {
		sb.WriteString("{% else %}" + blockString(node.Else))
	}
	sb.WriteString("{% endcase %}")
	return sb.String()
}

func includeString(node *IncludeNode) string {
	var sb strings.Builder
	tag := "include"
	if node.Render {
		tag = "render"
	}
	fmt.Fprintf(&sb, "{%% %s %s", tag, exprString(node.Name))
	if node.ForExpr != nil {
		sb.WriteString(" for " + exprString(node.ForExpr))
		if node.ForVar != "" {
			sb.WriteString(" as " + node.ForVar)
		}
	} else if node.With != nil {
		sb.WriteString(" with " + exprString(node.With))
		if node.WithAlias != "" {
			sb.WriteString(" as " + node.WithAlias)
		}
	}
	for i, arg := range node.Args {
		if i == 0 && node.With == nil && node.ForExpr == nil {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.Name + ": " + exprString(arg.Expr))
	}
	sb.WriteString(" %}")
	return sb.String()
}

func loopExprString(varName string, src LoopSource, mods LoopMods) string {
	var sb strings.Builder
	sb.WriteString(varName + " in ")
	if src.Range != nil {
		sb.WriteString(exprString(src.Range))
	} else {
		sb.WriteString(exprString(src.Collection))
	}
	if mods.Limit != nil {
		sb.WriteString(" limit:" + exprString(mods.Limit))
	}
	if mods.Offset != nil {
		sb.WriteString(" offset:" + exprString(mods.Offset))
	}
	if mods.Cols != nil {
		sb.WriteString(" cols:" + exprString(mods.Cols))
	}
	if mods.Reversed {
		sb.WriteString(" reversed")
	}
	return sb.String()
}

func exprString(e Expr) string {
	switch expr := e.(type) {
	case *IntLit:
		return strconv.FormatInt(expr.Value, 10)
	case *FloatLit:
		return strconv.FormatFloat(expr.Value, 'f', -1, 64)
	case *StringLit:
		return strconv.Quote(expr.Value)
	case *BoolLit:
		if expr.Value {
			return "true"
		}
		return "false"
	case *NilLit:
		return "nil"
	case *EmptyLit:
		return "empty"
	case *RangeLit:
		return "(" + exprString(expr.From) + ".." + exprString(expr.To) + ")"
	case *Identifier:
		return identString(expr)
	case *PrefixExpr:
		return expr.Op + exprString(expr.Expr)
	case *InfixExpr:
		return exprString(expr.Left) + " " + expr.Op + " " + exprString(expr.Right)
	case *FilteredExpr:
		var sb strings.Builder
		sb.WriteString(exprString(expr.Target))
		for _, fc := range expr.Filters {
			sb.WriteString(" | " + fc.Name)
			sep := ": "
			for _, arg := range fc.Args {
				sb.WriteString(sep + exprString(arg))
				sep = ", "
			}
			for _, kw := range fc.KwArgs {
				sb.WriteString(sep + kw.Name + ": " + exprString(kw.Expr))
				sep = ", "
			}
		}
		return sb.String()
	case *AssignExpr:
		return expr.Name + " = " + exprString(expr.Expr)
	default:
		return ""
	}
}

func plainName(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func identString(ident *Identifier) string {
	var sb strings.Builder
	for i, elem := range ident.Path {
		switch {
		case elem.Nested != nil:
			sb.WriteString("[" + exprString(elem.Nested) + "]")
		case elem.Index != nil:
			sb.WriteString("[" + strconv.FormatInt(*elem.Index, 10) + "]")
		case i > 0 && !plainName(elem.Name):
			sb.WriteString("[" + strconv.Quote(elem.Name) + "]")
		default:
			if i > 0 {
				sb.WriteString(".")
			}
			sb.WriteString(elem.Name)
		}
	}
	return sb.String()
}
