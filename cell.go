// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// CellType discriminates the cell variants.
type CellType uint8

const (
	// ValueCellType is a raw data value of 1, 2, 4 or 8 bytes.
	ValueCellType CellType = iota

	// CharacterCellType is one encoded text unit.
	CharacterCellType

	// StringCellType is a length-carrying character sequence.
	StringCellType

	// InstructionCellType is a decoded machine instruction.
	InstructionCellType
)

// String implements Stringer.
func (t CellType) String() string {
	switch t {
	case ValueCellType:
		return "value"
	case CharacterCellType:
		return "character"
	case StringCellType:
		return "string"
	case InstructionCellType:
		return "instruction"
	default:
		return "unknown"
	}
}

// Cell is the smallest addressable analyzed unit. Concrete cells share a
// common header and are dispatched by type switch.
type Cell interface {
	Type() CellType
	Length() uint16
	ArchitectureTag() ArchitectureTag
	Mode() uint8
	Comment() string
	SetComment(string)
}

// cellHeader is the state every cell variant carries.
type cellHeader struct {
	length  uint16
	archTag ArchitectureTag
	mode    uint8
	comment string
}

func (h *cellHeader) Length() uint16                  { return h.length }
func (h *cellHeader) ArchitectureTag() ArchitectureTag { return h.archTag }
func (h *cellHeader) Mode() uint8                     { return h.mode }
func (h *cellHeader) Comment() string                 { return h.comment }
func (h *cellHeader) SetComment(comment string)       { h.comment = comment }

// ValueFormat is the formatting hint of a Value cell.
type ValueFormat uint8

const (
	// HexadecimalFormat renders the value in base 16.
	HexadecimalFormat ValueFormat = iota

	// DecimalFormat renders the value in base 10.
	DecimalFormat

	// BinaryFormat renders the value in base 2.
	BinaryFormat
)

// Value is a raw data cell.
type Value struct {
	cellHeader
	Format ValueFormat
	Value  uint64
}

// NewValue returns a data cell of the given byte length.
func NewValue(v uint64, length uint16, format ValueFormat, archTag ArchitectureTag, mode uint8) *Value {
	return &Value{
		cellHeader: cellHeader{length: length, archTag: archTag, mode: mode},
		Format:     format,
		Value:      v,
	}
}

// Type implements Cell.
func (v *Value) Type() CellType { return ValueCellType }

// Character is a single encoded text unit.
type Character struct {
	cellHeader
	Value rune
}

// NewCharacter returns a character cell of the given encoded length.
func NewCharacter(r rune, length uint16) *Character {
	return &Character{
		cellHeader: cellHeader{length: length},
		Value:      r,
	}
}

// Type implements Cell.
func (c *Character) Type() CellType { return CharacterCellType }

// StringEncoding discriminates the encodings the string finder detects.
type StringEncoding uint8

const (
	// ASCIIEncoding is one byte per character.
	ASCIIEncoding StringEncoding = iota

	// UTF16Encoding is two bytes per character, little endian.
	UTF16Encoding
)

// StringCell is a length-carrying character sequence.
type StringCell struct {
	cellHeader
	Encoding StringEncoding
	Text     string
}

// NewStringCell returns a string cell covering length bytes of the image.
func NewStringCell(text string, length uint16, encoding StringEncoding) *StringCell {
	return &StringCell{
		cellHeader: cellHeader{length: length},
		Encoding:   encoding,
		Text:       text,
	}
}

// Type implements Cell.
func (s *StringCell) Type() CellType { return StringCellType }

// InstructionType is the control flow class of an instruction.
type InstructionType uint8

const (
	// NormalInstruction falls through to the next instruction.
	NormalInstruction InstructionType = iota

	// JumpInstruction transfers control unconditionally.
	JumpInstruction

	// ConditionalJumpInstruction may transfer control or fall through.
	ConditionalJumpInstruction

	// CallInstruction invokes a function and falls through on return.
	CallInstruction

	// ReturnInstruction leaves the current function.
	ReturnInstruction
)

// String implements Stringer.
func (t InstructionType) String() string {
	switch t {
	case JumpInstruction:
		return "jump"
	case ConditionalJumpInstruction:
		return "conditional jump"
	case CallInstruction:
		return "call"
	case ReturnInstruction:
		return "return"
	default:
		return "normal"
	}
}

// Operand type bits.
const (
	// OperandNone marks an unused operand slot.
	OperandNone = 0x0

	// OperandRegister marks a register operand.
	OperandRegister = 0x1

	// OperandImmediate marks an immediate operand.
	OperandImmediate = 0x2

	// OperandMemory marks a memory operand.
	OperandMemory = 0x4

	// OperandRelative marks a displacement relative to the instruction.
	OperandRelative = 0x8

	// OperandAddress marks an operand carrying a valid target address.
	OperandAddress = 0x10
)

// Operand is one decoded instruction operand.
type Operand struct {

	// Combination of the Operand* bits.
	Type uint16

	// Register identifier when OperandRegister is set.
	Register uint16

	// Immediate or displacement value.
	Value uint64

	// Decoded target when OperandAddress is set.
	Target Address
}

// HasTarget reports whether the operand resolves to an address.
func (op *Operand) HasTarget() bool {
	return op.Type&OperandAddress != 0
}

// Instruction is a decoded machine instruction cell.
type Instruction struct {
	cellHeader
	Opcode   uint32
	Mnemonic string
	SubType  InstructionType
	Operands [OperandCount]Operand

	// Decoded semantic expressions, one rendered expression per effect.
	Semantic []string
}

// NewInstruction returns an instruction cell of the given byte length.
func NewInstruction(mnemonic string, opcode uint32, subType InstructionType,
	length uint16, archTag ArchitectureTag, mode uint8) *Instruction {
	return &Instruction{
		cellHeader: cellHeader{length: length, archTag: archTag, mode: mode},
		Opcode:     opcode,
		Mnemonic:   mnemonic,
		SubType:    subType,
	}
}

// Type implements Cell.
func (i *Instruction) Type() CellType { return InstructionCellType }

// Operand returns the n-th operand slot, or nil when out of range.
func (i *Instruction) Operand(n int) *Operand {
	if n < 0 || n >= OperandCount {
		return nil
	}
	return &i.Operands[n]
}

// Target returns the first operand target, typically the branch or call
// destination.
func (i *Instruction) Target() (Address, bool) {
	for n := range i.Operands {
		if i.Operands[n].HasTarget() {
			return i.Operands[n].Target, true
		}
	}
	return Address{}, false
}

// MarkType tags a byte range of a formatted cell.
type MarkType uint8

const (
	// UnknownMark is an untagged range.
	UnknownMark MarkType = iota

	// MnemonicMark covers the instruction mnemonic.
	MnemonicMark

	// RegisterMark covers a register name.
	RegisterMark

	// ImmediateMark covers an immediate value.
	ImmediateMark

	// LabelMark covers a label reference.
	LabelMark

	// CommentMark covers an attached comment.
	CommentMark
)

// Mark is a range annotation on a formatted cell string.
type Mark struct {
	Type   MarkType
	Offset uint16
	Length uint16
}
