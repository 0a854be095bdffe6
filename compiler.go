package liquidvm

import (
	"github.com/juju/loggo"
)

var compLogger = loggo.GetLogger("liquidvm.compiler")

// CompiledBlock is an immutable compiled unit: the instruction stream of
// a loop/capture body or of the template root, plus the frame shape the
// VM needs to invoke it.
type CompiledBlock struct {
	Instructions Instructions

	// NumLocals is the number of block-scope stack slots the VM reserves
	// when it pushes a frame for this block.
	NumLocals int
	// NumParams is the number of arguments the block consumes from the
	// stack. Zero for the template root.
	NumParams int
	// NumFree is the number of captured free symbols bundled into the
	// frame at invocation time.
	NumFree int

	// IsLoop marks for/tablerow bodies; break/continue unwind to the
	// nearest frame whose block has it set.
	IsLoop bool
	// LoopVar and SourceName back the runtime loop drop: LoopVar is the
	// iteration variable, SourceName the display form of the iterated
	// source ("product.tags", "(1..3)").
	LoopVar    string
	SourceName string
}

// Program is the compiler's output: the root block, the shared constant
// pool, and the template-local slot names the VM maps onto its locals.
type Program struct {
	Block      *CompiledBlock
	Constants  []Value
	LocalNames []string
}

type emittedInstruction struct {
	op  Op
	pos int
}

// compilationScope buffers the instructions of one block being compiled,
// tracking the last two emitted instructions for peephole decisions.
type compilationScope struct {
	instructions Instructions
	last, prev   emittedInstruction
}

// Compiler walks the AST in source order and emits bytecode, maintaining
// a stack of compilation scopes (one per nested block) and the matching
// nested symbol tables.
type Compiler struct {
	tplName    string
	constants  []Value
	localNames []string
	symbols    *SymbolTable
	scopes     []compilationScope
}

// NewCompiler returns a compiler with one root scope and a root symbol
// table.
func NewCompiler(tplName string) *Compiler {
	return &Compiler{
		tplName: tplName,
		symbols: NewSymbolTable(),
		scopes:  []compilationScope{{}},
	}
}

// Compile compiles a parsed template into a Program.
func Compile(tplName string, root *RootNode) (*Program, error) {
	c := NewCompiler(tplName)
	if err := c.compileChildren(root.Children); err != nil {
		return nil, err
	}
	c.emit(OpLeaveBlock)
	block := &CompiledBlock{Instructions: c.currentInstructions()}
	compLogger.Tracef("compiled %s:\n%s", tplName, block.Instructions)
	return &Program{Block: block, Constants: c.constants, LocalNames: c.localNames}, nil
}

func (c *Compiler) currentScope() *compilationScope {
	return &c.scopes[len(c.scopes)-1]
}

func (c *Compiler) currentInstructions() Instructions {
	return c.currentScope().instructions
}

// emit encodes one instruction, appends it to the current scope, and
// returns its position for later patching.
func (c *Compiler) emit(op Op, operands ...int) int {
	ins := makeInstruction(op, operands...)
	scope := c.currentScope()
	pos := len(scope.instructions)
	scope.instructions = append(scope.instructions, ins...)
	scope.prev = scope.last
	scope.last = emittedInstruction{op: op, pos: pos}
	return pos
}

// addConstant appends v to the constant pool, reusing an existing entry
// when an equal hashable constant is already present. Compiled blocks
// are compared by identity and never deduplicated.
func (c *Compiler) addConstant(v Value) int {
	if !v.IsBlock() && !v.IsArray() && !v.IsMap() {
		for i, existing := range c.constants {
			if existing.kind == v.kind && existing.EqualValueTo(v) {
				return i
			}
		}
	}
	c.constants = append(c.constants, v)
	return len(c.constants) - 1
}

// changeOperand rewrites the operands of the instruction at pos; used to
// patch forward jumps once their target is known.
func (c *Compiler) changeOperand(pos int, operands ...int) {
	scope := c.currentScope()
	op := Op(scope.instructions[pos])
	ins := makeInstruction(op, operands...)
	copy(scope.instructions[pos:], ins)
}

func (c *Compiler) patchJump(pos int) {
	target := len(c.currentInstructions())
	compLogger.Tracef("patch jump at %d -> %d", pos, target)
	c.changeOperand(pos, target)
}

// enterScope begins compiling a nested block: a fresh instruction buffer
// and an enclosed symbol table.
func (c *Compiler) enterScope() {
	c.scopes = append(c.scopes, compilationScope{})
	c.symbols = NewEnclosedSymbolTable(c.symbols)
}

// leaveScope finishes the nested block, returning its instructions, its
// free symbols (to be loaded by the caller), and its block-slot count.
func (c *Compiler) leaveScope() (Instructions, []Symbol, int) {
	ins := c.currentInstructions()
	free := c.symbols.FreeSymbols
	slots := c.symbols.NumBlockSlots()
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.symbols = c.symbols.Outer
	return ins, free, slots
}

// defineLocal binds name as a template-level local. Definitions always
// land in the root symbol table so that an assign inside a loop body
// stays visible after the loop ends.
func (c *Compiler) defineLocal(name string) Symbol {
	root := c.symbols
	for root.Outer != nil {
		root = root.Outer
	}
	before := root.NumLocals()
	sym := root.Define(name)
	if root.NumLocals() > before {
		c.localNames = append(c.localNames, name)
	}
	return sym
}

// loadSymbol emits the read instruction matching the symbol's scope.
func (c *Compiler) loadSymbol(sym Symbol) {
	switch sym.Scope {
	case ScopeLocal:
		c.emit(OpGetLocal, sym.Index)
	case ScopeBlock:
		c.emit(OpGetBlock, sym.Index)
	case ScopeFree:
		c.emit(OpGetFree, sym.Index)
	}
}

func (c *Compiler) compileChildren(children []Node) error {
	for _, child := range children {
		if err := c.compileNode(child); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileNode(n Node) error {
	switch node := n.(type) {
	case *LiteralNode:
		c.emit(OpConstant, c.addConstant(String(node.Text)))
		c.emit(OpPop)
	case *OutputNode:
		if err := c.compileExpr(node.Expr); err != nil {
			return err
		}
		c.emit(OpPop)
	case *AssignNode:
		if err := c.compileExpr(node.Expr); err != nil {
			return err
		}
		sym := c.defineLocal(node.Name)
		c.emit(OpSetLocal, sym.Index)
	case *IfNode:
		return c.compileIf(node)
	case *CaseNode:
		return c.compileCase(node)
	case *ForNode:
		return c.compileLoop(node.Tok(), false, node.Var, node.Source, node.Mods, node.Body, node.Else)
	case *TableRowNode:
		return c.compileLoop(node.Tok(), true, node.Var, node.Source, node.Mods, node.Body, nil)
	case *CaptureNode:
		return c.compileCapture(node)
	case *IncrDecrNode:
		idx := c.addConstant(String(node.Name))
		if node.Decrement {
			c.emit(OpDecrement, idx)
		} else {
			c.emit(OpIncrement, idx)
		}
		c.emit(OpPop)
	case *CycleNode:
		for _, v := range node.Values {
			if err := c.compileExpr(v); err != nil {
				return err
			}
		}
		if node.Group != nil {
			if err := c.compileExpr(node.Group); err != nil {
				return err
			}
		} else {
			c.emit(OpNop)
		}
		c.emit(OpCycle, len(node.Values))
		c.emit(OpPop)
	case *BreakNode:
		c.emit(OpBreak)
	case *ContinueNode:
		c.emit(OpContinue)
	case *IncludeNode:
		return c.compileInclude(node)
	case *BlockNode:
		return c.compileChildren(node.Children)
	case *RootNode:
		return c.compileChildren(node.Children)
	default:
		return errorf(KindSyntax, "compiler", c.tplName, n.Tok(), "cannot compile node %T.", n)
	}
	return nil
}

// compileIf lowers an if/unless chain. Each arm tests its condition,
// jumps past its body when the test fails, and jumps to the end when the
// body ran. unless reverses the sense of its own (first) condition by
// swapping the roles of the two jump targets; elsif arms test as written.
func (c *Compiler) compileIf(node *IfNode) error {
	var endJumps []int
	for i, branch := range node.Branches {
		if err := c.compileExpr(branch.Cond); err != nil {
			return err
		}
		if node.Negate && i == 0 {
			// unless: render the body only when the condition is falsy.
			intoBody := c.emit(OpJumpIfNot, 0xFFFF)
			skip := c.emit(OpJump, 0xFFFF)
			c.patchJump(intoBody)
			if err := c.compileChildren(branch.Body.Children); err != nil {
				return err
			}
			endJumps = append(endJumps, c.emit(OpJump, 0xFFFF))
			c.patchJump(skip)
		} else {
			skip := c.emit(OpJumpIfNot, 0xFFFF)
			if err := c.compileChildren(branch.Body.Children); err != nil {
				return err
			}
			endJumps = append(endJumps, c.emit(OpJump, 0xFFFF))
			c.patchJump(skip)
		}
	}
	if node.Else != nil {
		if err := c.compileChildren(node.Else.Children); err != nil {
			return err
		}
	}
	for _, pos := range endJumps {
		c.patchJump(pos)
	}
	return nil
}

// compileCase lowers case/when. Every when whose candidate list matches
// the discriminant fires, so each when gets an independent test instead
// of a jump chain; the else body re-tests every candidate and runs only
// when none matched. Candidate and discriminant expressions are
// side-effect free, so recompiling them per test is safe.
func (c *Compiler) compileCase(node *CaseNode) error {
	// anyMatch ORs `discriminant == candidate` over the given clauses,
	// leaving one boolean on the stack.
	anyMatch := func(whens []WhenClause) (bool, error) {
		emitted := false
		for _, when := range whens {
			for _, cand := range when.Candidates {
				if err := c.compileExpr(node.Discriminant); err != nil {
					return false, err
				}
				if err := c.compileExpr(cand); err != nil {
					return false, err
				}
				c.emit(OpEq)
				if emitted {
					c.emit(OpOr)
				}
				emitted = true
			}
		}
		return emitted, nil
	}

	for _, when := range node.Whens {
		if _, err := anyMatch([]WhenClause{when}); err != nil {
			return err
		}
		skip := c.emit(OpJumpIfNot, 0xFFFF)
		if err := c.compileChildren(when.Body.Children); err != nil {
			return err
		}
		c.patchJump(skip)
	}
	if node.Else != nil {
		emitted, err := anyMatch(node.Whens)
		if err != nil {
			return err
		}
		if !emitted {
			return c.compileChildren(node.Else.Children)
		}
		intoElse := c.emit(OpJumpIfNot, 0xFFFF)
		end := c.emit(OpJump, 0xFFFF)
		c.patchJump(intoElse)
		if err := c.compileChildren(node.Else.Children); err != nil {
			return err
		}
		c.patchJump(end)
	}
	return nil
}

// compileLoop lowers for/tablerow. The body compiles into its own block:
//
//	JUMPIFEMPTY @else    ; the frame entry marker: Empty when the
//	                     ; materialized source had no elements
//	<body>
//	STEP 0               ; advance; back to body start or fall through
//	STOP
//	@else: <else body>   ; for-else only
//	STOP
//
// The caller then pushes (bottom to top) the captured free values, the
// reversed flag, offset, limit, the cols value for tablerow, the source,
// and the block constant, and invokes FOR/TABLEROW.
func (c *Compiler) compileLoop(tok *Token, tablerow bool, varName string, src LoopSource, mods LoopMods, body *BlockNode, elseBody *BlockNode) error {
	dropName := "forloop"
	if tablerow {
		dropName = "tablerowloop"
	}

	c.enterScope()
	c.symbols.Define(varName)  // slot 0: the iteration variable
	c.symbols.Define(dropName) // slot 1: the loop drop

	intoElse := c.emit(OpJumpIfEmpty, 0xFFFF)
	if err := c.compileChildren(body.Children); err != nil {
		return err
	}
	c.emit(OpStep, 0)
	stopPos := c.emit(OpStop)
	if elseBody != nil {
		c.patchJump(intoElse)
		if err := c.compileChildren(elseBody.Children); err != nil {
			return err
		}
		c.emit(OpStop)
	} else {
		// No fallback: an empty source branches straight to the frame
		// unwind.
		c.changeOperand(intoElse, stopPos)
	}
	ins, free, slots := c.leaveScope()

	var srcExpr Expr
	if src.Range != nil {
		srcExpr = src.Range
	} else {
		srcExpr = src.Collection
	}
	block := &CompiledBlock{
		Instructions: ins,
		NumLocals:    slots,
		NumFree:      len(free),
		IsLoop:       true,
		LoopVar:      varName,
		SourceName:   exprString(srcExpr),
	}
	blockIdx := c.addConstant(BlockValue(block))

	for _, sym := range free {
		c.loadSymbol(sym)
	}
	if mods.Reversed {
		c.emit(OpTrue)
	} else {
		c.emit(OpFalse)
	}
	for _, mod := range []Expr{mods.Offset, mods.Limit} {
		if mod != nil {
			if err := c.compileExpr(mod); err != nil {
				return err
			}
		} else {
			c.emit(OpNil)
		}
	}
	if tablerow {
		if mods.Cols != nil {
			if err := c.compileExpr(mods.Cols); err != nil {
				return err
			}
		} else {
			c.emit(OpNil)
		}
	}
	if err := c.compileExpr(srcExpr); err != nil {
		return err
	}
	c.emit(OpConstant, blockIdx)
	if tablerow {
		c.emit(OpTableRow, slots, len(free))
	} else {
		c.emit(OpFor, slots, len(free))
	}
	return nil
}

// compileCapture lowers a capture body into its own block so its free
// references resolve like any other nested block, bracketed by a fresh
// output buffer:
//
//	CAPTURE
//	<free values> CONSTANT block EXECBLOCK 0 nfree
//	SETCAPTURE idx
func (c *Compiler) compileCapture(node *CaptureNode) error {
	c.emit(OpCapture)

	c.enterScope()
	if err := c.compileChildren(node.Body.Children); err != nil {
		return err
	}
	c.emit(OpLeaveBlock)
	ins, free, slots := c.leaveScope()
	block := &CompiledBlock{Instructions: ins, NumLocals: slots, NumFree: len(free)}
	blockIdx := c.addConstant(BlockValue(block))

	for _, sym := range free {
		c.loadSymbol(sym)
	}
	c.emit(OpConstant, blockIdx)
	c.emit(OpExecBlock, 0, len(free))

	sym := c.defineLocal(node.Name)
	c.emit(OpSetCapture, sym.Index)
	return nil
}

// compileInclude lowers include/render. Optional clauses push a Nop
// sentinel when absent, so the VM pops a fixed shape (plus nkw keyword
// name/value pairs below it).
func (c *Compiler) compileInclude(node *IncludeNode) error {
	for _, arg := range node.Args {
		c.emit(OpConstant, c.addConstant(String(arg.Name)))
		if err := c.compileExpr(arg.Expr); err != nil {
			return err
		}
	}
	if node.With != nil {
		if err := c.compileExpr(node.With); err != nil {
			return err
		}
	} else {
		c.emit(OpNop)
	}
	if node.WithAlias != "" {
		c.emit(OpConstant, c.addConstant(String(node.WithAlias)))
	} else {
		c.emit(OpNop)
	}
	if node.Render {
		if node.ForExpr != nil {
			if err := c.compileExpr(node.ForExpr); err != nil {
				return err
			}
		} else {
			c.emit(OpNop)
		}
		if node.ForVar != "" {
			c.emit(OpConstant, c.addConstant(String(node.ForVar)))
		} else {
			c.emit(OpNop)
		}
	}
	if err := c.compileExpr(node.Name); err != nil {
		return err
	}
	if node.Render {
		c.emit(OpRender, len(node.Args))
	} else {
		c.emit(OpInclude, len(node.Args))
	}
	return nil
}

func (c *Compiler) compileExpr(e Expr) error {
	switch expr := e.(type) {
	case *IntLit:
		c.emit(OpConstant, c.addConstant(Int(expr.Value)))
	case *FloatLit:
		c.emit(OpConstant, c.addConstant(Float(expr.Value)))
	case *StringLit:
		c.emit(OpConstant, c.addConstant(String(expr.Value)))
	case *BoolLit:
		if expr.Value {
			c.emit(OpTrue)
		} else {
			c.emit(OpFalse)
		}
	case *NilLit:
		c.emit(OpNil)
	case *EmptyLit:
		c.emit(OpEmpty)
	case *RangeLit:
		return c.compileRange(expr)
	case *Identifier:
		return c.compileIdentifier(expr)
	case *PrefixExpr:
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		c.emit(OpMinus)
	case *InfixExpr:
		return c.compileInfix(expr)
	case *FilteredExpr:
		return c.compileFiltered(expr)
	case *AssignExpr:
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		sym := c.defineLocal(expr.Name)
		c.emit(OpSetLocal, sym.Index)
	default:
		return errorf(KindSyntax, "compiler", c.tplName, e.Tok(), "cannot compile expression %T.", e)
	}
	return nil
}

// compileRange folds a fully literal range into one constant; ranges
// with identifier bounds build at runtime from two pushed endpoints.
func (c *Compiler) compileRange(expr *RangeLit) error {
	from, fromStatic := expr.From.(*IntLit)
	to, toStatic := expr.To.(*IntLit)
	if fromStatic && toStatic {
		c.emit(OpConstant, c.addConstant(MakeRange(from.Value, to.Value)))
		return nil
	}
	if err := c.compileExpr(expr.From); err != nil {
		return err
	}
	if err := c.compileExpr(expr.To); err != nil {
		return err
	}
	c.emit(OpRange)
	return nil
}

// compileIdentifier resolves the path head against the symbol table
// (falling back to a runtime RESOLVE for names bound by the data
// context) and chains one GETINDEX per remaining path element.
func (c *Compiler) compileIdentifier(expr *Identifier) error {
	head := expr.Path[0]
	if sym, ok := c.symbols.Resolve(head.Name); ok {
		c.loadSymbol(sym)
	} else {
		c.emit(OpConstant, c.addConstant(String(head.Name)))
		c.emit(OpResolve)
	}
	for _, elem := range expr.Path[1:] {
		switch {
		case elem.Nested != nil:
			if err := c.compileExpr(elem.Nested); err != nil {
				return err
			}
		case elem.Index != nil:
			c.emit(OpConstant, c.addConstant(Int(*elem.Index)))
		default:
			c.emit(OpConstant, c.addConstant(String(elem.Name)))
		}
		c.emit(OpGetIndex)
	}
	return nil
}

// compileInfix emits both operands then one comparison opcode. The
// opcode set carries only GT/GE, so < and <= compile with the operand
// order swapped.
func (c *Compiler) compileInfix(expr *InfixExpr) error {
	if expr.Op == "<" || expr.Op == "<=" {
		if err := c.compileExpr(expr.Right); err != nil {
			return err
		}
		if err := c.compileExpr(expr.Left); err != nil {
			return err
		}
		if expr.Op == "<" {
			c.emit(OpGt)
		} else {
			c.emit(OpGe)
		}
		return nil
	}
	if err := c.compileExpr(expr.Left); err != nil {
		return err
	}
	if err := c.compileExpr(expr.Right); err != nil {
		return err
	}
	switch expr.Op {
	case "==":
		c.emit(OpEq)
	case "!=", "<>":
		c.emit(OpNe)
	case ">":
		c.emit(OpGt)
	case ">=":
		c.emit(OpGe)
	case "contains":
		c.emit(OpContains)
	case "and":
		c.emit(OpAnd)
	case "or":
		c.emit(OpOr)
	default:
		return errorf(KindSyntax, "compiler", c.tplName, expr.Tok(), "unknown operator %q.", expr.Op)
	}
	return nil
}

// compileFiltered compiles the target, then one CALLFILTER per segment:
// positional arguments first, keyword name/value pairs after.
func (c *Compiler) compileFiltered(expr *FilteredExpr) error {
	if err := c.compileExpr(expr.Target); err != nil {
		return err
	}
	for _, fc := range expr.Filters {
		for _, arg := range fc.Args {
			if err := c.compileExpr(arg); err != nil {
				return err
			}
		}
		for _, kw := range fc.KwArgs {
			c.emit(OpConstant, c.addConstant(String(kw.Name)))
			if err := c.compileExpr(kw.Expr); err != nil {
				return err
			}
		}
		nameIdx := c.addConstant(String(fc.Name))
		c.emit(OpCallFilter, nameIdx, len(fc.Args), len(fc.KwArgs))
	}
	return nil
}
