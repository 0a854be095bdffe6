package liquidvm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Op is a single bytecode opcode.
type Op byte

const (
	OpConstant Op = iota
	OpPop
	OpTrue
	OpFalse
	OpNil
	OpEmpty
	OpEq
	OpNe
	OpGt
	OpGe
	OpContains
	OpAnd
	OpOr
	OpMinus
	OpJump
	OpJumpIfNot
	OpJumpIfEmpty
	OpNop
	OpSetLocal
	OpGetLocal
	OpGetBlock
	OpGetFree
	OpGetIndex
	OpResolve
	OpCallFilter
	OpCapture
	OpSetCapture
	OpIncrement
	OpDecrement
	OpCycle
	OpStep
	OpFor
	OpTableRow
	OpStop
	OpBreak
	OpContinue
	OpExecBlock
	OpLeaveBlock
	OpRange
	OpInclude
	OpRender
)

var opNames = map[Op]string{
	OpConstant: "CONSTANT", OpPop: "POP", OpTrue: "TRUE", OpFalse: "FALSE",
	OpNil: "NIL", OpEmpty: "EMPTY", OpEq: "EQ", OpNe: "NE", OpGt: "GT",
	OpGe: "GE", OpContains: "CONTAINS", OpAnd: "AND", OpOr: "OR",
	OpMinus: "MINUS", OpJump: "JUMP", OpJumpIfNot: "JUMPIFNOT",
	OpJumpIfEmpty: "JUMPIFEMPTY", OpNop: "NOP", OpSetLocal: "SETLOCAL",
	OpGetLocal: "GETLOCAL", OpGetBlock: "GETBLOCK", OpGetFree: "GETFREE",
	OpGetIndex: "GETINDEX", OpResolve: "RESOLVE", OpCallFilter: "CALLFILTER",
	OpCapture: "CAPTURE", OpSetCapture: "SETCAPTURE", OpIncrement: "INCREMENT",
	OpDecrement: "DECREMENT", OpCycle: "CYCLE", OpStep: "STEP", OpFor: "FOR",
	OpTableRow: "TABLEROW", OpStop: "STOP", OpBreak: "BREAK",
	OpContinue: "CONTINUE", OpExecBlock: "EXECBLOCK", OpLeaveBlock: "LEAVEBLOCK",
	OpRange: "RANGE", OpInclude: "INCLUDE", OpRender: "RENDER",
}

func (op Op) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

// operandWidths lists the byte width of each opcode's operands. Two-byte
// operands are big-endian unsigned; one-byte operands hold small counts.
var operandWidths = map[Op][]int{
	OpConstant:    {2},
	OpJump:        {2},
	OpJumpIfNot:   {2},
	OpJumpIfEmpty: {2},
	OpSetLocal:    {2},
	OpGetLocal:    {2},
	OpSetCapture:  {2},
	OpGetBlock:    {1},
	OpGetFree:     {1},
	OpCallFilter:  {2, 1, 1},
	OpIncrement:   {2},
	OpDecrement:   {2},
	OpCycle:       {1},
	OpStep:        {1},
	OpFor:         {1, 1},
	OpTableRow:    {1, 1},
	OpExecBlock:   {1, 1},
	OpInclude:     {1},
	OpRender:      {1},
}

// Instructions is a flat byte-encoded instruction stream.
type Instructions []byte

// makeInstruction encodes one instruction: its opcode followed by its operands,
// widths taken from operandWidths.
func makeInstruction(op Op, operands ...int) Instructions {
	widths := operandWidths[op]
	size := 1
	for _, w := range widths {
		size += w
	}
	ins := make(Instructions, size)
	ins[0] = byte(op)
	offset := 1
	for i, operand := range operands {
		w := widths[i]
		switch w {
		case 2:
			binary.BigEndian.PutUint16(ins[offset:], uint16(operand))
		case 1:
			ins[offset] = byte(operand)
		}
		offset += w
	}
	return ins
}

// readOperands decodes the operands of the instruction at ins[0:], per
// operandWidths[op], returning the values and the total bytes consumed
// after the opcode byte.
func readOperands(op Op, ins Instructions) ([]int, int) {
	widths := operandWidths[op]
	operands := make([]int, len(widths))
	offset := 0
	for i, w := range widths {
		switch w {
		case 2:
			operands[i] = int(binary.BigEndian.Uint16(ins[offset:]))
		case 1:
			operands[i] = int(ins[offset])
		}
		offset += w
	}
	return operands, offset
}

// instructionWidth returns the total byte length (opcode + operands) of
// an instruction with opcode op.
func instructionWidth(op Op) int {
	size := 1
	for _, w := range operandWidths[op] {
		size += w
	}
	return size
}

// String pretty-prints the instruction stream as `NNNN OpName op1 op2`
// per instruction, for debugging.
func (ins Instructions) String() string {
	var sb strings.Builder
	i := 0
	for i < len(ins) {
		op := Op(ins[i])
		operands, read := readOperands(op, ins[i+1:])
		fmt.Fprintf(&sb, "%04d %s", i, op)
		for _, o := range operands {
			fmt.Fprintf(&sb, " %d", o)
		}
		sb.WriteByte('\n')
		i += 1 + read
	}
	return sb.String()
}
