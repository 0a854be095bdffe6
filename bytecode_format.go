package liquidvm

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/juju/errors"
)

// On-disk form for compiled programs: a versioned header, the typed
// constant pool, the template-local name table, and the root block.
// Nested compiled blocks encode recursively inside the constant pool.

var bytecodeMagic = [4]byte{'L', 'Q', 'B', 'C'}

const bytecodeVersion = 1

const (
	constTagNil byte = iota
	constTagBool
	constTagInt
	constTagFloat
	constTagString
	constTagRange
	constTagBlock
)

// EncodeProgram serializes a compiled program.
func EncodeProgram(prog *Program) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(bytecodeMagic[:])
	buf.WriteByte(bytecodeVersion)

	writeUvarint(&buf, uint64(len(prog.Constants)))
	for _, c := range prog.Constants {
		if err := encodeConstant(&buf, c); err != nil {
			return nil, err
		}
	}
	writeUvarint(&buf, uint64(len(prog.LocalNames)))
	for _, name := range prog.LocalNames {
		writeString(&buf, name)
	}
	encodeBlock(&buf, prog.Block)
	return buf.Bytes(), nil
}

// DecodeProgram reverses EncodeProgram.
func DecodeProgram(data []byte) (*Program, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != bytecodeMagic {
		return nil, errors.New("not a compiled template")
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if version != bytecodeVersion {
		return nil, errors.Errorf("unsupported bytecode version %d", version)
	}

	prog := &Program{}
	nconst, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i := uint64(0); i < nconst; i++ {
		c, err := decodeConstant(r)
		if err != nil {
			return nil, err
		}
		prog.Constants = append(prog.Constants, c)
	}
	nlocals, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i := uint64(0); i < nlocals; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		prog.LocalNames = append(prog.LocalNames, name)
	}
	block, err := decodeBlock(r)
	if err != nil {
		return nil, err
	}
	prog.Block = block
	return prog, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", errors.Trace(err)
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", errors.Trace(err)
		}
	}
	return string(b), nil
}

func encodeConstant(buf *bytes.Buffer, c Value) error {
	switch {
	case c.IsNil():
		buf.WriteByte(constTagNil)
	case c.IsBool():
		buf.WriteByte(constTagBool)
		if c.IsTrue() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case c.IsInt():
		buf.WriteByte(constTagInt)
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutVarint(tmp[:], c.Int())
		buf.Write(tmp[:n])
	case c.IsFloat():
		buf.WriteByte(constTagFloat)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(c.Float()))
		buf.Write(tmp[:])
	case c.IsString():
		buf.WriteByte(constTagString)
		writeString(buf, c.String())
	case c.IsRange():
		buf.WriteByte(constTagRange)
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutVarint(tmp[:], c.AsRange().Start)
		buf.Write(tmp[:n])
		n = binary.PutVarint(tmp[:], c.AsRange().Stop)
		buf.Write(tmp[:n])
	case c.IsBlock():
		buf.WriteByte(constTagBlock)
		encodeBlock(buf, c.AsBlock())
	default:
		return errors.Errorf("constant of kind %s cannot be persisted", c.kindName())
	}
	return nil
}

func decodeConstant(r *bytes.Reader) (Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Nil, errors.Trace(err)
	}
	switch tag {
	case constTagNil:
		return Nil, nil
	case constTagBool:
		b, err := r.ReadByte()
		if err != nil {
			return Nil, errors.Trace(err)
		}
		return Bool(b == 1), nil
	case constTagInt:
		i, err := binary.ReadVarint(r)
		if err != nil {
			return Nil, errors.Trace(err)
		}
		return Int(i), nil
	case constTagFloat:
		var tmp [8]byte
		if _, err := r.Read(tmp[:]); err != nil {
			return Nil, errors.Trace(err)
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))), nil
	case constTagString:
		s, err := readString(r)
		if err != nil {
			return Nil, err
		}
		return String(s), nil
	case constTagRange:
		start, err := binary.ReadVarint(r)
		if err != nil {
			return Nil, errors.Trace(err)
		}
		stop, err := binary.ReadVarint(r)
		if err != nil {
			return Nil, errors.Trace(err)
		}
		return MakeRange(start, stop), nil
	case constTagBlock:
		block, err := decodeBlock(r)
		if err != nil {
			return Nil, err
		}
		return BlockValue(block), nil
	}
	return Nil, errors.Errorf("unknown constant tag %d", tag)
}

func encodeBlock(buf *bytes.Buffer, block *CompiledBlock) {
	writeUvarint(buf, uint64(len(block.Instructions)))
	buf.Write(block.Instructions)
	writeUvarint(buf, uint64(block.NumLocals))
	writeUvarint(buf, uint64(block.NumParams))
	writeUvarint(buf, uint64(block.NumFree))
	if block.IsLoop {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeString(buf, block.LoopVar)
	writeString(buf, block.SourceName)
}

func decodeBlock(r *bytes.Reader) (*CompiledBlock, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	block := &CompiledBlock{Instructions: make(Instructions, n)}
	if n > 0 {
		if _, err := r.Read(block.Instructions); err != nil {
			return nil, errors.Trace(err)
		}
	}
	read := func() (int, error) {
		v, err := binary.ReadUvarint(r)
		return int(v), errors.Trace(err)
	}
	if block.NumLocals, err = read(); err != nil {
		return nil, err
	}
	if block.NumParams, err = read(); err != nil {
		return nil, err
	}
	if block.NumFree, err = read(); err != nil {
		return nil, err
	}
	loop, err := r.ReadByte()
	if err != nil {
		return nil, errors.Trace(err)
	}
	block.IsLoop = loop == 1
	if block.LoopVar, err = readString(r); err != nil {
		return nil, err
	}
	if block.SourceName, err = readString(r); err != nil {
		return nil, err
	}
	return block, nil
}
