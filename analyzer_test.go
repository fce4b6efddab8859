// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer() (*Analyzer, *ModuleManager, ArchitectureTag, *testArch) {
	modMgr := NewModuleManager()
	arch := &testArch{}
	tag := modMgr.RegisterArchitecture(arch)
	return NewAnalyzer(modMgr, nil), modMgr, tag, arch
}

// jump over a nop: mov; jmp 0x106; nop (dead); ret.
func jumpProgram() []byte {
	buf := make([]byte, 0x200)
	buf[0x100] = opMov
	buf[0x101] = 0x00
	buf[0x102] = 0x2a
	buf[0x103] = opJmp
	buf[0x104] = 0x01 // 0x103 + 2 + 1 = 0x106
	buf[0x105] = opNop
	buf[0x106] = opRet
	return buf
}

func TestDisassembleFollowsJump(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)

	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	for _, off := range []uint64{0x100, 0x103, 0x106} {
		cell := doc.GetCell(NewLinearAddress(off, 32))
		require.NotNil(t, cell, "expected a cell at %#x", off)
		assert.IsType(t, &Instruction{}, cell, "at %#x", off)
	}
	assert.Nil(t, doc.GetCell(NewLinearAddress(0x105, 32)), "jumped-over byte must stay unclaimed")

	refs := doc.GetCrossReferencesFrom(NewLinearAddress(0x103, 32))
	require.Len(t, refs, 1)
	assert.Equal(t, BranchXRef, refs[0].Type)
	assert.True(t, refs[0].To.Equal(NewLinearAddress(0x106, 32)))

	insn := doc.GetCell(entry).(*Instruction)
	assert.Equal(t, tag, insn.ArchitectureTag())
}

func TestDisassembleIdempotent(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)

	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))
	cells := doc.CellCount()
	multiCells := len(doc.MultiCells())
	xrefs := doc.CrossReferenceCount()

	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))
	assert.Equal(t, cells, doc.CellCount())
	assert.Equal(t, multiCells, len(doc.MultiCells()))
	assert.Equal(t, xrefs, doc.CrossReferenceCount())
}

func TestDisassembleConditionalJump(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x40)
	buf[0x00] = opJz
	buf[0x01] = 0x02 // 0x00 + 2 + 2 = 0x04
	buf[0x02] = opNop
	buf[0x03] = opRet
	buf[0x04] = opRet
	doc := flatDocument(buf)
	entry := NewLinearAddress(0, 32)

	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	// Both arms decoded.
	for _, off := range []uint64{0x00, 0x02, 0x03, 0x04} {
		assert.IsType(t, &Instruction{}, doc.GetCell(NewLinearAddress(off, 32)), "at %#x", off)
	}
}

func TestDisassembleCallCreatesFunctions(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	system := &testOS{}
	anlz.SetOperatingSystem(system)

	buf := make([]byte, 0x40)
	buf[0x00] = opCall
	buf[0x01] = 0x0e // 0x00 + 2 + 0x0e = 0x10
	buf[0x02] = opRet
	buf[0x10] = opNop
	buf[0x11] = opRet
	doc := flatDocument(buf)
	entry := NewLinearAddress(0, 32)

	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	callee := NewLinearAddress(0x10, 32)
	refs := doc.GetCrossReferencesFrom(entry)
	require.Len(t, refs, 1)
	assert.Equal(t, CallXRef, refs[0].Type)
	assert.True(t, refs[0].To.Equal(callee))

	// The callee became its own labeled function multicell.
	mc := doc.GetMultiCell(callee)
	require.NotNil(t, mc)
	assert.Equal(t, FunctionMultiCell, mc.Type())
	label, ok := doc.GetLabelFromAddress(callee)
	require.True(t, ok)
	assert.Equal(t, "sub_10", label.Name)

	// The OS hook fired for caller and callee.
	assert.Len(t, system.analyzed, 2)
}

func TestDisassembleUndecodableByte(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x10)
	buf[0x00] = opNop
	buf[0x01] = 0xff // undefined opcode
	doc := flatDocument(buf)

	require.NoError(t, anlz.Disassemble(doc, NewLinearAddress(0, 32), arch, tag, 1))

	cell := doc.GetCell(NewLinearAddress(1, 32))
	require.NotNil(t, cell)
	assert.Equal(t, ValueCellType, cell.Type())
	assert.EqualValues(t, 1, cell.Length())
}

func TestDisassembleRecordsDataReferences(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x40)
	buf[0x00] = opLoad
	buf[0x01] = 0x30 // load [0x0030]
	buf[0x02] = 0x00
	buf[0x03] = opRet
	doc := flatDocument(buf)

	require.NoError(t, anlz.Disassemble(doc, NewLinearAddress(0, 32), arch, tag, 1))

	refs := doc.GetCrossReferencesFrom(NewLinearAddress(0, 32))
	require.Len(t, refs, 1)
	assert.Equal(t, ReadXRef, refs[0].Type)
	assert.True(t, refs[0].To.Equal(NewLinearAddress(0x30, 32)))
}

func TestBuildControlFlowGraph(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	cfg, err := anlz.BuildControlFlowGraph(doc, entry)
	require.NoError(t, err)

	blocks := cfg.BasicBlocks()
	require.Len(t, blocks, 2)
	assert.True(t, blocks[0].Start.Equal(entry))
	assert.Len(t, blocks[0].Instructions, 2)
	assert.True(t, blocks[1].Start.Equal(NewLinearAddress(0x106, 32)))

	succs := cfg.Successors(entry)
	require.Len(t, succs, 1)
	assert.True(t, succs[0].Equal(NewLinearAddress(0x106, 32)))
	assert.Empty(t, cfg.Successors(NewLinearAddress(0x106, 32)))
}

func TestBuildControlFlowGraphDiamond(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x40)
	buf[0x00] = opJz
	buf[0x01] = 0x03 // taken arm at 0x05
	buf[0x02] = opNop
	buf[0x03] = opJmp
	buf[0x04] = 0x01 // join at 0x06
	buf[0x05] = opNop // taken arm falls into the join
	buf[0x06] = opRet
	doc := flatDocument(buf)
	entry := NewLinearAddress(0, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	cfg, err := anlz.BuildControlFlowGraph(doc, entry)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Len())

	// The conditional head fans out to both arms.
	require.Len(t, cfg.Successors(entry), 2)
	// Both arms converge on the return block.
	join := NewLinearAddress(0x06, 32)
	assert.Contains(t, cfg.Successors(NewLinearAddress(0x02, 32)), join)
	assert.Contains(t, cfg.Successors(NewLinearAddress(0x05, 32)), join)
}

func TestBuildControlFlowGraphNoFunction(t *testing.T) {
	anlz, _, _, _ := newTestAnalyzer()
	doc := flatDocument(make([]byte, 0x10))

	_, err := anlz.BuildControlFlowGraph(doc, NewLinearAddress(0, 32))
	assert.ErrorIs(t, err, ErrNoSuchFunction)
}

func TestFindAllStrings(t *testing.T) {
	anlz, _, _, _ := newTestAnalyzer()
	buf := make([]byte, 0x100)
	copy(buf[0x20:], append([]byte("Hello, medusa!"), 0x00))
	wide := []byte{'w', 0, 'i', 0, 'd', 0, 'e', 0, 0, 0}
	copy(buf[0x40:], wide)
	doc := flatDocument(buf)

	require.NoError(t, anlz.FindAllStrings(doc))

	cell := doc.GetCell(NewLinearAddress(0x20, 32))
	require.NotNil(t, cell)
	str, ok := cell.(*StringCell)
	require.True(t, ok)
	assert.Equal(t, "Hello, medusa!", str.Text)
	assert.Equal(t, ASCIIEncoding, str.Encoding)
	assert.EqualValues(t, 15, str.Length(), "terminating NUL belongs to the cell")

	mc := doc.GetMultiCell(NewLinearAddress(0x20, 32))
	require.NotNil(t, mc)
	assert.Equal(t, StringMultiCell, mc.Type())

	wideCell := doc.GetCell(NewLinearAddress(0x40, 32))
	require.NotNil(t, wideCell)
	wideStr, ok := wideCell.(*StringCell)
	require.True(t, ok)
	assert.Equal(t, "wide", wideStr.Text)
	assert.Equal(t, UTF16Encoding, wideStr.Encoding)
	assert.EqualValues(t, 10, wideStr.Length())
}

func TestFindAllStringsSkipsClaimedBytes(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x40)
	// The bytes spell printable text, but the disassembly claims the
	// first two: a nop, then the undecodable 'B' as a data cell.
	copy(buf, []byte("ABCD"))
	buf[0x00] = opNop
	doc := flatDocument(buf)

	require.NoError(t, anlz.Disassemble(doc, NewLinearAddress(0, 32), arch, tag, 1))
	require.NoError(t, anlz.FindAllStrings(doc))

	// "CD" alone is below the minimum length; no string was claimed.
	for off := uint64(1); off < 4; off++ {
		cell := doc.GetCell(NewLinearAddress(off, 32))
		if cell != nil {
			assert.NotEqual(t, StringCellType, cell.Type(), "at %#x", off)
		}
	}
}

func TestTrackOperandForward(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x40)
	buf[0x00] = opLoad
	buf[0x01] = 0x30
	buf[0x02] = 0x00
	buf[0x03] = opNop
	buf[0x04] = opRet
	doc := flatDocument(buf)
	entry := NewLinearAddress(0, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	tracker := &MemoryOperandTracker{}
	anlz.TrackOperand(doc, entry, tracker)

	require.Len(t, tracker.Hits, 1)
	assert.True(t, tracker.Hits[0].Equal(entry))
}

func TestTrackOperandTerminatesOnLoop(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	buf := make([]byte, 0x10)
	buf[0x00] = opJmp
	buf[0x01] = 0xfe // 0x00 + 2 - 2 = 0x00, a self loop
	doc := flatDocument(buf)
	entry := NewLinearAddress(0, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	visits := 0
	anlz.TrackOperand(doc, entry, trackerFunc(func(a *Analyzer, d *Document, addr Address) bool {
		visits++
		return true
	}))
	assert.Equal(t, 1, visits, "each address is visited at most once")
}

func TestBacktrackOperand(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	var visited []Address
	anlz.BacktrackOperand(doc, NewLinearAddress(0x106, 32),
		trackerFunc(func(a *Analyzer, d *Document, addr Address) bool {
			visited = append(visited, addr)
			return true
		}))

	// Walking back from the return reaches the jump and the entry.
	require.Len(t, visited, 3)
	assert.True(t, visited[0].Equal(NewLinearAddress(0x106, 32)))
}

func TestInstructionBudgetTracker(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	tracker := &InstructionBudgetTracker{Budget: 2}
	anlz.TrackOperand(doc, entry, tracker)

	comments := doc.Comments()
	assert.Len(t, comments, 2)
}

func TestFormatCell(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	text, marks, err := anlz.FormatCell(doc, entry, doc.GetCell(entry))
	require.NoError(t, err)
	assert.Equal(t, "mov", text)
	require.NotEmpty(t, marks)
	assert.Equal(t, MnemonicMark, marks[0].Type)

	jmpAddr := NewLinearAddress(0x103, 32)
	text, marks, err = anlz.FormatCell(doc, jmpAddr, doc.GetCell(jmpAddr))
	require.NoError(t, err)
	assert.Equal(t, "jmp 00000106", text)
	require.Len(t, marks, 2)
	assert.Equal(t, LabelMark, marks[1].Type)

	// Comments ride along with a mark of their own.
	doc.SetComment(jmpAddr, "skip the nop")
	text, marks, err = anlz.FormatCell(doc, jmpAddr, doc.GetCell(jmpAddr))
	require.NoError(t, err)
	assert.Equal(t, "jmp 00000106 ; skip the nop", text)
	assert.Equal(t, CommentMark, marks[len(marks)-1].Type)
}

func TestFormatCellValueAndString(t *testing.T) {
	anlz, _, _, _ := newTestAnalyzer()
	doc := flatDocument(make([]byte, 0x10))
	addr := NewLinearAddress(0, 32)

	text, marks, err := anlz.FormatCell(doc, addr, NewValue(0xfe, 1, HexadecimalFormat, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "db 0xfe", text)
	require.Len(t, marks, 2)

	text, _, err = anlz.FormatCell(doc, addr, NewStringCell("hi there", 9, ASCIIEncoding))
	require.NoError(t, err)
	assert.Equal(t, `db "hi there"`, text)
}

func TestFormatMultiCell(t *testing.T) {
	anlz, _, tag, arch := newTestAnalyzer()
	doc := flatDocument(jumpProgram())
	entry := NewLinearAddress(0x100, 32)
	require.NoError(t, anlz.Disassemble(doc, entry, arch, tag, 1))

	mc := doc.GetMultiCell(entry)
	require.NotNil(t, mc)
	text, marks, err := anlz.FormatMultiCell(doc, entry, mc)
	require.NoError(t, err)
	assert.Contains(t, text, "sub_100")
	require.NotEmpty(t, marks)
	assert.Equal(t, MnemonicMark, marks[0].Type)
}

// trackerFunc adapts a closure to the Tracker interface.
type trackerFunc func(*Analyzer, *Document, Address) bool

func (f trackerFunc) Track(anlz *Analyzer, doc *Document, addr Address) bool {
	return f(anlz, doc, addr)
}
