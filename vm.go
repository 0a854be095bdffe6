package liquidvm

import (
	"fmt"
	"strings"

	"github.com/juju/loggo"
)

var vmLogger = loggo.GetLogger("liquidvm.vm")

// loopBodyEntry is the instruction offset of a loop block's body: every
// loop block starts with one 3-byte JUMPIFEMPTY, so each new iteration
// resumes right after it.
const loopBodyEntry = 3

// loopIter is the materialized view of a loop source: the windowed
// (offset/limit) and optionally reversed sequence, with ranges kept as
// index arithmetic instead of a realized slice.
type loopIter struct {
	items    []Value
	rng      Range
	useRng   bool
	start    int
	count    int
	idx      int
	reversed bool
}

func (it *loopIter) at(i int) Value {
	pos := it.start + i
	if it.reversed {
		pos = it.start + it.count - 1 - i
	}
	if it.useRng {
		return Int(it.rng.At(pos))
	}
	return it.items[pos]
}

func (it *loopIter) current() Value { return it.at(it.idx) }

// frame is one entry of the VM's block stack: a compiled block mid-
// execution, its base pointer into the value stack, its captured free
// values, and (for loops) the iterator and drop state.
type frame struct {
	block *CompiledBlock
	ip    int
	bp    int
	free  []Value

	// bufMark is the buffer-stack depth at frame entry; popping the
	// frame collapses the buffer stack back to it, flushing each popped
	// buffer into the one below.
	bufMark int

	iter      *loopIter
	drop      *OrderedMap
	ext       extensionFrame
	pushedExt bool

	tablerow bool
	cols     int
	col      int
	row      int
}

// vm executes one compiled program against one render context. A vm is
// single-use and single-threaded; concurrent renders of the same
// immutable Program each get their own vm.
type vm struct {
	env     *Environment
	prog    *Program
	rc      *renderContext
	tplName string

	stack  []Value
	sp     int
	frames []*frame

	buffers []*strings.Builder
	rootBuf *strings.Builder
	// countOutput enables the output-size ceiling. Only writes to rootBuf
	// are counted, so text written into a capture buffer is not.
	countOutput bool
	outputBytes *int64

	inRender bool
}

func newVM(env *Environment, prog *Program, rc *renderContext, tplName string, out *strings.Builder, countOutput bool, outputBytes *int64) *vm {
	return &vm{
		env:         env,
		prog:        prog,
		rc:          rc,
		tplName:     tplName,
		stack:       make([]Value, env.StackSize),
		buffers:     []*strings.Builder{out},
		rootBuf:     out,
		countOutput: countOutput,
		outputBytes: outputBytes,
	}
}

func (vm *vm) push(v Value) error {
	if vm.sp >= len(vm.stack) {
		return errorf(KindStackOverflow, "vm", vm.tplName, nil, "value stack exhausted at %d entries.", len(vm.stack))
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *vm) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *vm) currentFrame() *frame { return vm.frames[len(vm.frames)-1] }

func (vm *vm) currentBuffer() *strings.Builder { return vm.buffers[len(vm.buffers)-1] }

// write appends s to buf, enforcing the output ceiling when buf is the
// top-level output.
func (vm *vm) write(buf *strings.Builder, s string) error {
	if buf == vm.rootBuf && vm.countOutput && vm.env.MaxOutputBytes > 0 {
		*vm.outputBytes += int64(len(s))
		if *vm.outputBytes > int64(vm.env.MaxOutputBytes) {
			return errorf(KindOutputStreamLimit, "vm", vm.tplName, nil,
				"output size exceeds the configured limit of %d bytes.", vm.env.MaxOutputBytes)
		}
	}
	buf.WriteString(s)
	return nil
}

// recover applies the configured tolerance to a non-fatal error: STRICT
// propagates it, WARN logs and continues, LAX continues silently.
func (vm *vm) recover(e *Error) error {
	if e.Fatal() || vm.env.Tolerance == ToleranceStrict {
		return e
	}
	if vm.env.Tolerance == ToleranceWarn {
		vmLogger.Warningf("recovered during render of %s: %s", vm.tplName, e)
	}
	return nil
}

// pushBlockFrame begins executing block: reserves its stack slots and
// makes it the current frame.
func (vm *vm) pushBlockFrame(block *CompiledBlock, free []Value) (*frame, error) {
	if vm.sp+block.NumLocals >= len(vm.stack) {
		return nil, errorf(KindStackOverflow, "vm", vm.tplName, nil, "value stack exhausted at %d entries.", len(vm.stack))
	}
	f := &frame{
		block:   block,
		bp:      vm.sp,
		free:    free,
		bufMark: len(vm.buffers),
	}
	for i := 0; i < block.NumLocals; i++ {
		vm.stack[vm.sp] = Nil
		vm.sp++
	}
	vm.frames = append(vm.frames, f)
	return f, nil
}

// popFrame unwinds one frame: releases its stack slots and collapses any
// buffers it pushed, flushing each into the buffer below.
func (vm *vm) popFrame() error {
	f := vm.currentFrame()
	if f.tablerow {
		if err := vm.write(vm.currentBuffer(), "</tr>\n"); err != nil {
			return err
		}
	}
	if f.pushedExt {
		vm.rc.popFrame()
	}
	for len(vm.buffers) > f.bufMark {
		top := vm.buffers[len(vm.buffers)-1]
		vm.buffers = vm.buffers[:len(vm.buffers)-1]
		if err := vm.write(vm.currentBuffer(), top.String()); err != nil {
			return err
		}
	}
	vm.sp = f.bp
	vm.frames = vm.frames[:len(vm.frames)-1]
	return nil
}

// run is the dispatch loop; it ends when the last frame is popped.
func (vm *vm) run() error {
	for len(vm.frames) > 0 {
		f := vm.currentFrame()
		ins := f.block.Instructions
		op := Op(ins[f.ip])
		operands, width := readOperands(op, ins[f.ip+1:])
		f.ip += 1 + width

		if err := vm.exec(f, op, operands); err != nil {
			return err
		}
	}
	return nil
}

func (vm *vm) exec(f *frame, op Op, operands []int) error {
	switch op {
	case OpConstant:
		return vm.push(vm.prog.Constants[operands[0]])
	case OpTrue:
		return vm.push(True)
	case OpFalse:
		return vm.push(False)
	case OpNil:
		return vm.push(Nil)
	case OpEmpty:
		return vm.push(EmptyValue)
	case OpNop:
		return vm.push(NopValue)

	case OpPop:
		v := vm.pop()
		return vm.write(vm.currentBuffer(), v.String())

	case OpEq, OpNe, OpGt, OpGe, OpContains, OpAnd, OpOr:
		return vm.execInfix(op)

	case OpMinus:
		v := vm.pop()
		if !v.IsNumber() {
			if err := vm.recover(errorf(KindType, "vm", vm.tplName, nil, "cannot negate a non-numeric value.")); err != nil {
				return err
			}
			return vm.push(Nil)
		}
		return vm.push(v.Negate())

	case OpJump:
		f.ip = operands[0]
	case OpJumpIfNot:
		if !vm.pop().IsTrue() {
			f.ip = operands[0]
		}
	case OpJumpIfEmpty:
		if vm.pop().IsEmptySentinel() {
			f.ip = operands[0]
		}

	case OpSetLocal:
		return vm.rc.setLocal(vm.prog.LocalNames[operands[0]], vm.pop())
	case OpGetLocal:
		name := vm.prog.LocalNames[operands[0]]
		if v, ok := vm.rc.locals[name]; ok {
			return vm.push(v)
		}
		return vm.push(vm.rc.resolve(name))
	case OpGetBlock:
		return vm.push(vm.stack[f.bp+operands[0]])
	case OpGetFree:
		return vm.push(f.free[operands[0]])

	case OpResolve:
		name := vm.pop().String()
		v := vm.rc.resolve(name)
		if v.IsUndefined() && vm.env.StrictUndefined {
			if err := vm.recover(errorf(KindType, "vm", vm.tplName, nil, "undefined variable %q.", name)); err != nil {
				return err
			}
		}
		return vm.push(v)

	case OpGetIndex:
		key := vm.pop()
		obj := vm.pop()
		return vm.push(indexValue(obj, key))

	case OpRange:
		to := vm.pop()
		from := vm.pop()
		return vm.push(MakeRange(from.Int(), to.Int()))

	case OpCallFilter:
		return vm.execCallFilter(operands)

	case OpCapture:
		vm.buffers = append(vm.buffers, &strings.Builder{})

	case OpSetCapture:
		buf := vm.buffers[len(vm.buffers)-1]
		vm.buffers = vm.buffers[:len(vm.buffers)-1]
		return vm.rc.setLocal(vm.prog.LocalNames[operands[0]], String(buf.String()))

	case OpIncrement:
		name := vm.prog.Constants[operands[0]].String()
		return vm.push(Int(vm.rc.increment(name)))
	case OpDecrement:
		name := vm.prog.Constants[operands[0]].String()
		return vm.push(Int(vm.rc.decrement(name)))

	case OpCycle:
		n := operands[0]
		group := ""
		if g := vm.pop(); !g.IsNop() {
			group = g.String()
		}
		values := make([]Value, n)
		for i := n - 1; i >= 0; i-- {
			values[i] = vm.pop()
		}
		idx := vm.rc.nextCycle(cycleKey(group, values), n)
		return vm.push(values[idx])

	case OpFor:
		return vm.execLoop(operands, false)
	case OpTableRow:
		return vm.execLoop(operands, true)

	case OpStep:
		return vm.stepLoop(f, operands[0])

	case OpStop:
		return vm.popFrame()

	case OpBreak:
		for len(vm.frames) > 0 && !vm.currentFrame().block.IsLoop {
			if err := vm.popFrame(); err != nil {
				return err
			}
		}
		if len(vm.frames) == 0 {
			return errorf(KindSyntax, "tag:break", vm.tplName, nil, "break used outside of a loop.")
		}
		lf := vm.currentFrame()
		if lf.tablerow && lf.iter != nil {
			if err := vm.write(vm.currentBuffer(), "</td>"); err != nil {
				return err
			}
		}
		return vm.popFrame()

	case OpContinue:
		for len(vm.frames) > 0 && !vm.currentFrame().block.IsLoop {
			if err := vm.popFrame(); err != nil {
				return err
			}
		}
		if len(vm.frames) == 0 {
			return errorf(KindSyntax, "tag:continue", vm.tplName, nil, "continue used outside of a loop.")
		}
		return vm.stepLoop(vm.currentFrame(), 0)

	case OpExecBlock:
		nfree := operands[1]
		block := vm.pop().AsBlock()
		free := make([]Value, nfree)
		for i := nfree - 1; i >= 0; i-- {
			free[i] = vm.pop()
		}
		_, err := vm.pushBlockFrame(block, free)
		return err

	case OpLeaveBlock:
		return vm.popFrame()

	case OpInclude:
		return vm.execInclude(operands[0])
	case OpRender:
		return vm.execRender(operands[0])

	default:
		return errorf(KindSyntax, "vm", vm.tplName, nil, "unknown opcode %s.", op)
	}
	return nil
}

func (vm *vm) execInfix(op Op) error {
	b := vm.pop()
	a := vm.pop()
	switch op {
	case OpEq:
		return vm.push(Bool(a.EqualValueTo(b)))
	case OpNe:
		return vm.push(Bool(!a.EqualValueTo(b)))
	case OpContains:
		return vm.push(Bool(a.Contains(b)))
	case OpAnd:
		return vm.push(Bool(a.IsTrue() && b.IsTrue()))
	case OpOr:
		return vm.push(Bool(a.IsTrue() || b.IsTrue()))
	}
	// GT / GE
	ok, err := lessOrGreater(a, b, op == OpGe)
	if err != nil {
		if rerr := vm.recover(errorf(KindType, "vm", vm.tplName, nil, "%s", err)); rerr != nil {
			return rerr
		}
		return vm.push(False)
	}
	return vm.push(Bool(ok))
}

// lessOrGreater evaluates a > b (or a >= b). Numbers compare
// numerically, strings lexicographically; any other pairing is a type
// error.
func lessOrGreater(a, b Value, orEqual bool) (bool, error) {
	switch {
	case a.IsNumber() && b.IsNumber():
		if orEqual {
			return a.Float() >= b.Float(), nil
		}
		return a.Float() > b.Float(), nil
	case a.IsString() && b.IsString():
		if orEqual {
			return a.String() >= b.String(), nil
		}
		return a.String() > b.String(), nil
	}
	return false, fmt.Errorf("cannot compare %s with %s", a.kindName(), b.kindName())
}

func (vm *vm) execCallFilter(operands []int) error {
	name := vm.prog.Constants[operands[0]].String()
	npos, nkw := operands[1], operands[2]

	kwargs := make(map[string]Value, nkw)
	for i := 0; i < nkw; i++ {
		val := vm.pop()
		key := vm.pop()
		kwargs[key.String()] = val
	}
	args := make([]Value, npos)
	for i := npos - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	in := vm.pop()

	entry, ok := vm.env.filter(name)
	if !ok {
		e := errorf(KindNoSuchFilter, "filter:"+name, vm.tplName, nil, "filter %q not found.", name)
		if err := vm.recover(e); err != nil {
			return err
		}
		// Lax/warn mode: a missing filter passes its input through.
		return vm.push(in)
	}

	out, err := entry.call(vm.env, vm.rc, in, args, kwargs)
	if err != nil {
		e, isE := err.(*Error)
		if !isE {
			e = newError(KindFilterValue, "filter:"+name, vm.tplName, nil, err)
		}
		if rerr := vm.recover(e); rerr != nil {
			return rerr
		}
		return vm.push(Nil)
	}
	return vm.push(out)
}

// materializeLoop builds the iterator for a loop source, applying
// offset, limit, and reversal over the computed base length once.
func (vm *vm) materializeLoop(source, offset, limit Value, reversed bool) (*loopIter, error) {
	it := &loopIter{reversed: reversed}
	baseLen := 0
	switch {
	case source.IsRange():
		it.useRng = true
		it.rng = source.AsRange()
		baseLen = it.rng.Len()
	case source.IsArray():
		it.items = source.AsArray()
		baseLen = len(it.items)
	case source.IsMap():
		m := source.AsMap()
		for _, k := range m.Keys() {
			v, _ := m.Get(k)
			it.items = append(it.items, Array([]Value{String(k), v}))
		}
		baseLen = len(it.items)
	case source.IsString():
		if source.Len() > 0 {
			it.items = []Value{source}
			baseLen = 1
		}
	case source.IsNil() || source.IsUndefined() || source.IsEmptySentinel():
		// iterates as empty
	default:
		return nil, errorf(KindType, "vm", vm.tplName, nil, "value of type %s is not iterable.", source.kindName())
	}

	it.start = 0
	if !offset.IsNil() && !offset.IsUndefined() {
		it.start = int(offset.Int())
		if it.start < 0 {
			it.start = 0
		}
		if it.start > baseLen {
			it.start = baseLen
		}
	}
	it.count = baseLen - it.start
	if !limit.IsNil() && !limit.IsUndefined() {
		if lim := int(limit.Int()); lim < it.count {
			it.count = lim
		}
		if it.count < 0 {
			it.count = 0
		}
	}
	return it, nil
}

// parentDrop finds the drop of the nearest enclosing loop frame.
func (vm *vm) parentDrop() *OrderedMap {
	for i := len(vm.frames) - 1; i >= 0; i-- {
		if vm.frames[i].drop != nil {
			return vm.frames[i].drop
		}
	}
	return nil
}

// buildDrop fills (or refreshes) a loop drop for the current iteration.
func buildDrop(drop *OrderedMap, f *frame) {
	it := f.iter
	drop.Set("length", Int(int64(it.count)))
	drop.Set("index", Int(int64(it.idx+1)))
	drop.Set("index0", Int(int64(it.idx)))
	drop.Set("rindex", Int(int64(it.count-it.idx)))
	drop.Set("rindex0", Int(int64(it.count-it.idx-1)))
	drop.Set("first", Bool(it.idx == 0))
	drop.Set("last", Bool(it.idx == it.count-1))
	drop.Set("name", String(f.block.LoopVar+"-"+f.block.SourceName))
	if f.tablerow {
		drop.Set("col", Int(int64(f.col)))
		drop.Set("col0", Int(int64(f.col-1)))
		drop.Set("col_first", Bool(f.col == 1))
		drop.Set("col_last", Bool(f.col == f.cols || it.idx == it.count-1))
		drop.Set("row", Int(int64(f.row)))
	}
}

// execLoop implements FOR/TABLEROW: pop the loop parameters and source,
// materialize the iterator, and enter the loop block. An empty sequence
// enters the block with the Empty sentinel on the stack so the body's
// leading JUMPIFEMPTY branches to the fallback path.
func (vm *vm) execLoop(operands []int, tablerow bool) error {
	nfree := operands[1]

	block := vm.pop().AsBlock()
	source := vm.pop()
	cols := Nil
	if tablerow {
		cols = vm.pop()
	}
	limit := vm.pop()
	offset := vm.pop()
	reversed := vm.pop().IsTrue()
	free := make([]Value, nfree)
	for i := nfree - 1; i >= 0; i-- {
		free[i] = vm.pop()
	}

	it, err := vm.materializeLoop(source, offset, limit, reversed)
	if err != nil {
		if rerr := vm.recover(err.(*Error)); rerr != nil {
			return rerr
		}
		it = &loopIter{}
	}

	parent := vm.parentDrop()

	f, err := vm.pushBlockFrame(block, free)
	if err != nil {
		return err
	}
	f.tablerow = tablerow
	vm.buffers = append(vm.buffers, &strings.Builder{})

	if tablerow {
		f.cols = it.count
		if !cols.IsNil() && !cols.IsUndefined() && cols.Int() > 0 {
			f.cols = int(cols.Int())
		}
		f.col, f.row = 1, 1
		if err := vm.write(vm.currentBuffer(), "<tr class=\"row1\">\n"); err != nil {
			return err
		}
	}

	if it.count == 0 {
		return vm.push(EmptyValue)
	}

	f.iter = it
	drop := NewOrderedMap()
	f.drop = drop
	buildDrop(drop, f)
	if parent != nil && !tablerow {
		drop.Set("parentloop", Map(parent))
	}

	dropName := "forloop"
	if tablerow {
		dropName = "tablerowloop"
	}
	item := it.current()
	vm.stack[f.bp] = item
	vm.stack[f.bp+1] = Map(drop)
	f.ext = extensionFrame{block.LoopVar: item, dropName: Map(drop)}
	vm.rc.pushFrame(f.ext)
	f.pushedExt = true

	if err := vm.rc.incrLoop(); err != nil {
		return err
	}
	if tablerow {
		if err := vm.write(vm.currentBuffer(), fmt.Sprintf("<td class=\"col%d\">", f.col)); err != nil {
			return err
		}
	}
	return vm.push(NopValue)
}

// stepLoop advances the loop frame's iterator: refresh the loop slots
// and drop and jump back to the body, or unwind the frame on
// exhaustion.
func (vm *vm) stepLoop(f *frame, slot int) error {
	if f.iter == nil {
		// The empty-source path never started iterating.
		return vm.popFrame()
	}
	if f.tablerow {
		if err := vm.write(vm.currentBuffer(), "</td>"); err != nil {
			return err
		}
	}
	f.iter.idx++
	if f.iter.idx >= f.iter.count {
		return vm.popFrame()
	}

	if err := vm.rc.incrLoop(); err != nil {
		return err
	}
	item := f.iter.current()
	vm.stack[f.bp+slot] = item
	f.ext[f.block.LoopVar] = item
	if f.tablerow {
		f.col++
		if f.col > f.cols {
			f.col = 1
			f.row++
			if err := vm.write(vm.currentBuffer(), fmt.Sprintf("</tr>\n<tr class=\"row%d\">", f.row)); err != nil {
				return err
			}
		}
		if err := vm.write(vm.currentBuffer(), fmt.Sprintf("<td class=\"col%d\">", f.col)); err != nil {
			return err
		}
	}
	buildDrop(f.drop, f)
	f.ip = loopBodyEntry
	return nil
}

// popIncludeArgs pops the keyword name/value pairs pushed below the
// include/render clause slots.
func (vm *vm) popIncludeArgs(nkw int) (kwargs extensionFrame) {
	kwargs = make(extensionFrame, nkw)
	for i := 0; i < nkw; i++ {
		val := vm.pop()
		key := vm.pop()
		kwargs[key.String()] = val
	}
	return kwargs
}

// partialBaseName derives the variable name a `with` clause binds when
// no alias is given: the template name without directories or suffix.
func partialBaseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// execInclude runs a partial in the caller's namespace: locals,
// counters, and the loop-iteration budget are shared, and assignments
// made inside persist after the include returns.
func (vm *vm) execInclude(nkw int) error {
	name := vm.pop().String()
	alias := ""
	if a := vm.pop(); !a.IsNop() {
		alias = a.String()
	}
	withVal := NopValue
	if w := vm.pop(); !w.IsNop() {
		withVal = w
	}
	kwargs := vm.popIncludeArgs(nkw)

	if vm.inRender {
		e := errorf(KindDisabledTag, "tag:include", vm.tplName, nil, "include is disabled inside a render invocation.")
		return vm.recover(e)
	}
	if err := vm.rc.incrDepth("include"); err != nil {
		return err
	}
	defer func() { vm.rc.contextDepth-- }()

	tpl, err := vm.env.GetTemplate(name)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return vm.recover(e)
		}
		return err
	}

	bindings := kwargs
	if !withVal.IsNop() {
		bound := alias
		if bound == "" {
			bound = partialBaseName(name)
		}
		bindings[bound] = withVal
	}
	vm.rc.pushFrame(bindings)
	defer vm.rc.popFrame()

	sub := newVM(vm.env, tpl.program, vm.rc, name, vm.rootBuf, vm.countOutput, vm.outputBytes)
	sub.buffers = []*strings.Builder{vm.currentBuffer()}
	sub.inRender = vm.inRender
	if _, err := sub.pushBlockFrame(tpl.program.Block, nil); err != nil {
		return err
	}
	return sub.run()
}

// execRender runs a partial in an isolated namespace: it sees the
// caller's globals plus its explicit bindings only, and its counters and
// locals are its own. A `for` clause repeats the partial per element
// with a fresh forloop drop that has no parentloop link.
func (vm *vm) execRender(nkw int) error {
	name := vm.pop().String()
	forVar := ""
	if fv := vm.pop(); !fv.IsNop() {
		forVar = fv.String()
	}
	forSource := NopValue
	if fs := vm.pop(); !fs.IsNop() {
		forSource = fs
	}
	alias := ""
	if a := vm.pop(); !a.IsNop() {
		alias = a.String()
	}
	withVal := NopValue
	if w := vm.pop(); !w.IsNop() {
		withVal = w
	}
	kwargs := vm.popIncludeArgs(nkw)

	if err := vm.rc.incrDepth("render"); err != nil {
		return err
	}
	defer func() { vm.rc.contextDepth-- }()

	tpl, err := vm.env.GetTemplate(name)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return vm.recover(e)
		}
		return err
	}

	boundName := alias
	if boundName == "" {
		boundName = partialBaseName(name)
	}

	runOnce := func(bindings extensionFrame) error {
		rc2 := vm.rc.isolated(name)
		if vm.env.RenderInheritsLoopLimit {
			rc2.loopIterations = vm.rc.loopIterations
		}
		rc2.pushFrame(bindings)
		sub := newVM(vm.env, tpl.program, rc2, name, vm.rootBuf, vm.countOutput, vm.outputBytes)
		sub.buffers = []*strings.Builder{vm.currentBuffer()}
		sub.inRender = true
		if _, err := sub.pushBlockFrame(tpl.program.Block, nil); err != nil {
			return err
		}
		if err := sub.run(); err != nil {
			return err
		}
		if vm.env.RenderInheritsLoopLimit {
			vm.rc.loopIterations = rc2.loopIterations
		}
		return nil
	}

	if !forSource.IsNop() {
		it, err := vm.materializeLoop(forSource, Nil, Nil, false)
		if err != nil {
			return vm.recover(err.(*Error))
		}
		loopVar := forVar
		if loopVar == "" {
			loopVar = boundName
		}
		for i := 0; i < it.count; i++ {
			if err := vm.rc.incrLoop(); err != nil {
				return err
			}
			drop := NewOrderedMap()
			drop.Set("length", Int(int64(it.count)))
			drop.Set("index", Int(int64(i+1)))
			drop.Set("index0", Int(int64(i)))
			drop.Set("rindex", Int(int64(it.count-i)))
			drop.Set("rindex0", Int(int64(it.count-i-1)))
			drop.Set("first", Bool(i == 0))
			drop.Set("last", Bool(i == it.count-1))
			drop.Set("name", String(loopVar+"-"+name))
			bindings := extensionFrame{loopVar: it.at(i), "forloop": Map(drop)}
			for k, v := range kwargs {
				bindings[k] = v
			}
			if err := runOnce(bindings); err != nil {
				return err
			}
		}
		return nil
	}

	bindings := make(extensionFrame, len(kwargs)+1)
	for k, v := range kwargs {
		bindings[k] = v
	}
	if !withVal.IsNop() {
		bindings[boundName] = withVal
	}
	return runOnce(bindings)
}

// indexValue implements subscript lookup: map keys, array/range indices
// (negative counts from the end), and the size/first/last conveniences.
// A failed lookup yields Undefined, never an error.
func indexValue(obj, key Value) Value {
	switch {
	case obj.IsMap():
		if v, ok := obj.AsMap().Get(key.String()); ok {
			return v
		}
		if key.String() == "size" {
			return Int(int64(obj.Len()))
		}
	case obj.IsArray():
		if key.IsInt() || key.IsFloat() {
			idx := int(key.Int())
			arr := obj.AsArray()
			if idx < 0 {
				idx += len(arr)
			}
			if idx >= 0 && idx < len(arr) {
				return arr[idx]
			}
			return Undefined(key.String())
		}
		switch key.String() {
		case "size":
			return Int(int64(obj.Len()))
		case "first":
			if obj.Len() > 0 {
				return obj.AsArray()[0]
			}
		case "last":
			if obj.Len() > 0 {
				return obj.AsArray()[obj.Len()-1]
			}
		}
	case obj.IsRange():
		if key.IsInt() {
			idx := int(key.Int())
			if idx < 0 {
				idx += obj.Len()
			}
			if idx >= 0 && idx < obj.Len() {
				return Int(obj.AsRange().At(idx))
			}
			return Undefined(key.String())
		}
		switch key.String() {
		case "size":
			return Int(int64(obj.Len()))
		case "first":
			if obj.Len() > 0 {
				return Int(obj.AsRange().Start)
			}
		case "last":
			if obj.Len() > 0 {
				return Int(obj.AsRange().Stop)
			}
		}
	case obj.IsString():
		if key.String() == "size" {
			return Int(int64(obj.Len()))
		}
	}
	return Undefined(key.String())
}
