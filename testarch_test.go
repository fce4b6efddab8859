// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"fmt"
)

// Byte codes of the architecture used across the analysis tests. One
// opcode byte, then the operand bytes. Relative displacements are signed
// and measured from the end of the instruction.
const (
	opMov  = 0x01 // mov r, imm8     3 bytes
	opJmp  = 0x02 // jmp rel8        2 bytes
	opNop  = 0x03 // nop             1 byte
	opRet  = 0x04 // ret             1 byte
	opCall = 0x05 // call rel8       2 bytes
	opJz   = 0x06 // jz rel8         2 bytes
	opLoad = 0x07 // load [abs16]    3 bytes
)

// testArch decodes the byte code above. Mapped areas in the tests start
// at linear address zero with a zero file offset, so stream offsets and
// address offsets coincide.
type testArch struct {
	strict bool
}

func (t *testArch) Name() string { return "test" }

func (t *testArch) Endianness() Endianness { return LittleEndian }

func (t *testArch) DefaultMode(addr Address) uint8 { return 1 }

func (t *testArch) Disassemble(stream *BinaryStream, offset uint64, mode uint8) (*Instruction, error) {
	op, ok := stream.ReadUint8(offset)
	if !ok {
		return nil, ErrOutOfRange
	}

	rel := func(length uint64) (Address, bool) {
		disp, ok := stream.ReadUint8(offset + 1)
		if !ok {
			return Address{}, false
		}
		target := offset + length + uint64(int64(int8(disp)))
		return NewLinearAddress(target, 32), true
	}

	switch op {
	case opMov:
		imm, ok := stream.ReadUint8(offset + 2)
		if !ok {
			return nil, ErrOutOfRange
		}
		insn := NewInstruction("mov", uint32(op), NormalInstruction, 3, 0, mode)
		insn.Operands[0] = Operand{Type: OperandRegister, Register: 0}
		insn.Operands[1] = Operand{Type: OperandImmediate, Value: uint64(imm)}
		return insn, nil

	case opJmp, opCall, opJz:
		target, ok := rel(2)
		if !ok {
			return nil, ErrOutOfRange
		}
		var mnemonic string
		var subType InstructionType
		switch op {
		case opJmp:
			mnemonic, subType = "jmp", JumpInstruction
		case opCall:
			mnemonic, subType = "call", CallInstruction
		default:
			mnemonic, subType = "jz", ConditionalJumpInstruction
		}
		insn := NewInstruction(mnemonic, uint32(op), subType, 2, 0, mode)
		insn.Operands[0] = Operand{
			Type:   OperandRelative | OperandAddress,
			Value:  target.Offset,
			Target: target,
		}
		return insn, nil

	case opNop:
		return NewInstruction("nop", uint32(op), NormalInstruction, 1, 0, mode), nil

	case opRet:
		return NewInstruction("ret", uint32(op), ReturnInstruction, 1, 0, mode), nil

	case opLoad:
		abs, ok := stream.ReadUint16(offset + 1)
		if !ok {
			return nil, ErrOutOfRange
		}
		insn := NewInstruction("load", uint32(op), NormalInstruction, 3, 0, mode)
		insn.Operands[0] = Operand{
			Type:   OperandMemory | OperandAddress,
			Value:  uint64(abs),
			Target: NewLinearAddress(uint64(abs), 32),
		}
		return insn, nil
	}
	return nil, fmt.Errorf("undefined opcode %#x", op)
}

func (t *testArch) FormatInstruction(addr Address, insn *Instruction) (string, []Mark) {
	text := insn.Mnemonic
	marks := []Mark{{Type: MnemonicMark, Offset: 0, Length: uint16(len(insn.Mnemonic))}}
	if target, ok := insn.Target(); ok {
		operand := target.String()
		marks = append(marks, Mark{
			Type:   LabelMark,
			Offset: uint16(len(text) + 1),
			Length: uint16(len(operand)),
		})
		text += " " + operand
	}
	return text, marks
}

func (t *testArch) FillConfigurationModel(model *ConfigurationModel) {
	model.AddOption(NamedBool{Name: "strict", Default: false})
}

func (t *testArch) UseConfiguration(cfg *Configuration) error {
	t.strict = cfg.Bool("strict")
	return nil
}

// flatDocument maps buf as one RX area at linear address zero.
func flatDocument(buf []byte) *Document {
	doc := NewDocument(nil)
	doc.SetBinaryStream(NewMemoryBinaryStream(buf))
	area := &MemoryArea{
		Name:   "flat",
		Start:  NewLinearAddress(0, 32),
		Size:   uint64(len(buf)),
		Access: AccessRead | AccessExecute,
	}
	if err := doc.AddMemoryArea(area); err != nil {
		panic(err)
	}
	return doc
}

// testOS counts AnalyzeFunction invocations.
type testOS struct {
	analyzed []Address
}

func (t *testOS) Name() string { return "testos" }

func (t *testOS) IsSupported(ldr Loader, arch Architecture) bool { return true }

func (t *testOS) AnalyzeFunction(doc *Document, entry Address, anlz *Analyzer) error {
	t.analyzed = append(t.analyzed, entry)
	return nil
}
