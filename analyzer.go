// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/text/encoding/unicode"

	"github.com/medusa-re/medusa/log"
)

// Tracker drives a forward or backward dataflow traversal. Track is
// invoked once per visited address and returns whether the traversal
// should keep following that branch.
type Tracker interface {
	Track(anlz *Analyzer, doc *Document, addr Address) bool
}

// Analyzer owns the analysis passes: recursive traversal disassembly,
// string discovery, operand tracking, control flow graph reconstruction
// and cell formatting. The passes are packaged as tasks so the task
// manager can run them on its worker pool.
type Analyzer struct {
	modMgr *ModuleManager
	system OperatingSystem
	logger *log.Helper
}

// NewAnalyzer returns an analyzer resolving architecture tags through
// modMgr.
func NewAnalyzer(modMgr *ModuleManager, logger *log.Helper) *Analyzer {
	if logger == nil {
		logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout),
			log.FilterLevel(log.LevelError)))
	}
	return &Analyzer{modMgr: modMgr, logger: logger}
}

// SetOperatingSystem installs the OS back-end consulted after function
// creation. A nil system disables the hook.
func (a *Analyzer) SetOperatingSystem(system OperatingSystem) {
	a.system = system
}

// CreateDisassembleAllFunctionsTask packages a disassembly of every code
// label into a task.
func (a *Analyzer) CreateDisassembleAllFunctionsTask(doc *Document,
	arch Architecture, tag ArchitectureTag, mode uint8) *Task {
	return NewTask("disassemble all functions", func() {
		if err := a.DisassembleAllFunctions(doc, arch, tag, mode); err != nil {
			a.logger.Warnf("disassemble all functions failed, reason: %v", err)
		}
	})
}

// CreateDisassembleTask packages a targeted disassembly into a task.
func (a *Analyzer) CreateDisassembleTask(doc *Document, entry Address,
	arch Architecture, tag ArchitectureTag, mode uint8) *Task {
	return NewTask(fmt.Sprintf("disassemble %s", entry), func() {
		if err := a.Disassemble(doc, entry, arch, tag, mode); err != nil {
			a.logger.Warnf("disassembly at %s failed, reason: %v", entry, err)
		}
	})
}

// CreateFindAllStringTask packages the string finder into a task.
func (a *Analyzer) CreateFindAllStringTask(doc *Document) *Task {
	return NewTask("find all strings", func() {
		if err := a.FindAllStrings(doc); err != nil {
			a.logger.Warnf("string finding failed, reason: %v", err)
		}
	})
}

// DisassembleAllFunctions disassembles from every code or exported label
// currently in the document.
func (a *Analyzer) DisassembleAllFunctions(doc *Document,
	arch Architecture, tag ArchitectureTag, mode uint8) error {

	var entries []Address
	for addr, label := range doc.Labels() {
		if label.Type == CodeLabel || label.Type == ExportedLabel {
			entries = append(entries, addr)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Compare(entries[j]) < 0
	})

	for _, entry := range entries {
		if err := a.Disassemble(doc, entry, arch, tag, mode); err != nil {
			return err
		}
	}
	return nil
}

// Disassemble follows the execution flow from entry, decoding every
// reachable function. Call targets become fresh function entries. The
// pass is idempotent: running it again over the same document adds no
// cell and no cross reference.
func (a *Analyzer) Disassemble(doc *Document, entry Address,
	arch Architecture, tag ArchitectureTag, mode uint8) error {

	if doc.BinaryStream() == nil {
		return ErrNotFound
	}

	pending := []Address{entry}
	seen := make(map[Address]struct{})

	for len(pending) > 0 {
		fnEntry := pending[0]
		pending = pending[1:]
		if _, done := seen[fnEntry]; done {
			continue
		}
		seen[fnEntry] = struct{}{}

		callees := a.disassembleFlow(doc, fnEntry, arch, tag, mode)
		a.CreateFunction(doc, fnEntry)
		pending = append(pending, callees...)
	}
	return nil
}

// disassembleFlow decodes one function body and returns the discovered
// call targets.
func (a *Analyzer) disassembleFlow(doc *Document, entry Address,
	arch Architecture, tag ArchitectureTag, mode uint8) []Address {

	bs := doc.BinaryStream()
	var callees []Address
	worklist := []Address{entry}
	visited := make(map[Address]struct{})

	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if _, done := visited[addr]; done {
			continue
		}
		visited[addr] = struct{}{}

		if cell := doc.GetCell(addr); cell != nil {
			if _, decoded := cell.(*Instruction); decoded {
				continue
			}
		}

		area := doc.GetMemoryArea(addr)
		if area == nil {
			continue
		}
		offset, ok := doc.Translate(addr)
		if !ok {
			continue
		}

		insn, err := arch.Disassemble(bs, offset, mode)
		if err != nil {
			// Undecodable bytes degrade to a one byte data cell so the
			// gap stays visible in listings.
			if b, readable := bs.ReadUint8(offset); readable {
				doc.SetCell(addr, NewValue(uint64(b), 1, HexadecimalFormat, tag, mode), false)
			}
			continue
		}
		insn.archTag = tag
		insn.mode = mode

		if addr.Offset+uint64(insn.Length()) > area.Start.Offset+area.Size {
			continue
		}
		if !doc.SetCell(addr, insn, false) {
			continue
		}

		next := addr.Add(uint64(insn.Length()))
		target, hasTarget := insn.Target()

		switch insn.SubType {
		case JumpInstruction:
			if hasTarget {
				doc.AddCrossReference(addr, target, BranchXRef)
				worklist = append(worklist, target)
			}
		case ConditionalJumpInstruction:
			if hasTarget {
				doc.AddCrossReference(addr, target, BranchXRef)
				worklist = append(worklist, target)
			}
			worklist = append(worklist, next)
		case CallInstruction:
			if hasTarget {
				doc.AddCrossReference(addr, target, CallXRef)
				callees = append(callees, target)
			}
			worklist = append(worklist, next)
		case ReturnInstruction:
		default:
			worklist = append(worklist, next)
			a.recordDataReferences(doc, addr, insn)
		}
	}
	return callees
}

// recordDataReferences adds read edges for memory operands carrying a
// resolved address.
func (a *Analyzer) recordDataReferences(doc *Document, addr Address, insn *Instruction) {
	for i := 0; i < OperandCount; i++ {
		op := insn.Operand(i)
		if op.Type&OperandMemory != 0 && op.HasTarget() {
			doc.AddCrossReference(addr, op.Target, ReadXRef)
		}
	}
}

// CreateFunction materializes the function starting at entry: its
// control flow graph is rebuilt, a function multicell is written, an
// automatic label is attached when none exists, and the operating system
// hook runs when a system is installed.
func (a *Analyzer) CreateFunction(doc *Document, entry Address) bool {
	cfg, err := a.BuildControlFlowGraph(doc, entry)
	if err != nil {
		return false
	}

	var lowest, highest uint64
	var heads []Address
	for i, bb := range cfg.BasicBlocks() {
		heads = append(heads, bb.Start)
		if i == 0 {
			lowest = bb.Start.Offset
		}
		if end := bb.End().Offset; end > highest {
			highest = end
		}
	}

	fn := &Function{Entry: entry, Bytes: highest - lowest, BasicBlocks: heads}
	doc.SetMultiCell(entry, fn, true)

	if _, labeled := doc.GetLabelFromAddress(entry); !labeled {
		doc.AddLabel(entry, Label{
			Name: fmt.Sprintf("sub_%x", entry.Offset),
			Type: CodeLabel,
		})
	}

	if a.system != nil {
		if err := a.system.AnalyzeFunction(doc, entry, a); err != nil {
			a.logger.Warnf("os analysis of %s failed, reason: %v", entry, err)
		}
	}
	return true
}

// BuildControlFlowGraph reconstructs the basic block graph of the
// function entered at entry. It fails with ErrNoSuchFunction when entry
// holds no instruction.
func (a *Analyzer) BuildControlFlowGraph(doc *Document, entry Address) (*ControlFlowGraph, error) {
	if _, ok := doc.GetCell(entry).(*Instruction); !ok {
		return nil, ErrNoSuchFunction
	}

	// First pass: collect the function body and the block leaders.
	instrs := make(map[Address]*Instruction)
	leaders := map[Address]bool{entry: true}
	worklist := []Address{entry}

	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if _, done := instrs[addr]; done {
			continue
		}
		insn, ok := doc.GetCell(addr).(*Instruction)
		if !ok {
			continue
		}
		instrs[addr] = insn

		next := addr.Add(uint64(insn.Length()))
		target, hasTarget := insn.Target()

		switch insn.SubType {
		case JumpInstruction:
			if hasTarget {
				leaders[target] = true
				worklist = append(worklist, target)
			}
		case ConditionalJumpInstruction:
			if hasTarget {
				leaders[target] = true
				worklist = append(worklist, target)
			}
			leaders[next] = true
			worklist = append(worklist, next)
		case ReturnInstruction:
		default:
			// Calls stay inside the caller; the callee is its own
			// function.
			worklist = append(worklist, next)
		}
	}

	// Second pass: slice the body into maximal straight-line runs.
	addrs := make([]Address, 0, len(instrs))
	for addr := range instrs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })

	cfg := NewControlFlowGraph(entry)
	var block *BasicBlock

	flush := func() {
		if block != nil {
			cfg.AddBasicBlock(block)
			block = nil
		}
	}

	for _, addr := range addrs {
		insn := instrs[addr]
		if leaders[addr] {
			flush()
		}
		if block == nil {
			block = &BasicBlock{Start: addr}
		} else if !block.End().Equal(addr) {
			// A hole in the run (data or unmapped bytes) splits the block.
			flush()
			block = &BasicBlock{Start: addr}
		}
		block.Instructions = append(block.Instructions, addr)
		block.Bytes = addr.Offset + uint64(insn.Length()) - block.Start.Offset

		if insn.SubType == JumpInstruction ||
			insn.SubType == ConditionalJumpInstruction ||
			insn.SubType == ReturnInstruction {
			flush()
		}
	}
	flush()

	// Third pass: connect the blocks along the successor rules.
	for _, bb := range cfg.BasicBlocks() {
		last := bb.Instructions[len(bb.Instructions)-1]
		insn := instrs[last]
		next := last.Add(uint64(insn.Length()))
		target, hasTarget := insn.Target()

		switch insn.SubType {
		case JumpInstruction:
			if hasTarget && cfg.Block(target) != nil {
				cfg.AddEdge(bb.Start, target)
			}
		case ConditionalJumpInstruction:
			if hasTarget && cfg.Block(target) != nil {
				cfg.AddEdge(bb.Start, target)
			}
			if cfg.Block(next) != nil {
				cfg.AddEdge(bb.Start, next)
			}
		case ReturnInstruction:
		default:
			if cfg.Block(next) != nil {
				cfg.AddEdge(bb.Start, next)
			}
		}
	}
	return cfg, nil
}

// FindAllStrings scans the bytes not yet claimed by cells for ASCII and
// UTF-16 text of at least MinStringLength characters and claims them as
// string cells with a matching string region multicell.
func (a *Analyzer) FindAllStrings(doc *Document) error {
	bs := doc.BinaryStream()
	if bs == nil {
		return ErrNotFound
	}

	utf16Decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

	for _, area := range doc.MemoryAreas() {
		addr := area.Start
		end := area.Start.Offset + area.Size

		for addr.Offset < end {
			if start, cell, covered := doc.CellCovering(addr); covered {
				addr = start.Add(uint64(cell.Length()))
				continue
			}

			offset, ok := doc.Translate(addr)
			if !ok {
				break
			}
			remaining := end - addr.Offset

			if text, size := scanASCIIString(bs, offset, remaining); size > 0 {
				a.claimString(doc, addr, text, size, ASCIIEncoding)
				addr = addr.Add(size)
				continue
			}
			if raw, size := scanUTF16String(bs, offset, remaining); size > 0 {
				decoded, err := utf16Decoder.Bytes(raw)
				if err == nil {
					a.claimString(doc, addr, string(decoded), size, UTF16Encoding)
					addr = addr.Add(size)
					continue
				}
			}

			addr = addr.Add(1)
		}
	}
	return nil
}

func (a *Analyzer) claimString(doc *Document, addr Address, text string,
	size uint64, encoding StringEncoding) {
	cell := NewStringCell(text, uint16(size), encoding)
	if !doc.SetCell(addr, cell, false) {
		return
	}
	doc.SetMultiCell(addr, &StringRegion{Bytes: size}, false)
}

// maxStringLength caps how many bytes a single detected string claims.
const maxStringLength = 0x1000

// scanASCIIString returns the text and claimed byte count of an ASCII
// string at offset, or 0 when none starts there. The run must reach
// MinStringLength characters and stop at a NUL or at the first
// non-printable byte; a terminating NUL is claimed with the string.
func scanASCIIString(bs *BinaryStream, offset, remaining uint64) (string, uint64) {
	var run []byte
	limit := Min(remaining, maxStringLength)

	for uint64(len(run)) < limit {
		b, ok := bs.ReadUint8(offset + uint64(len(run)))
		if !ok || !isPrintableByte(b) {
			break
		}
		run = append(run, b)
	}
	if len(run) < MinStringLength {
		return "", 0
	}

	size := uint64(len(run))
	if b, ok := bs.ReadUint8(offset + size); ok && b == 0 && size < remaining {
		size++
	}
	return string(run), size
}

// scanUTF16String returns the raw bytes and claimed byte count of a
// little endian UTF-16 string at offset, or 0 when none starts there.
func scanUTF16String(bs *BinaryStream, offset, remaining uint64) ([]byte, uint64) {
	var raw []byte
	limit := Min(remaining, maxStringLength)

	for uint64(len(raw))+2 <= limit {
		lo, okLo := bs.ReadUint8(offset + uint64(len(raw)))
		hi, okHi := bs.ReadUint8(offset + uint64(len(raw)) + 1)
		if !okLo || !okHi || hi != 0 || !isPrintableByte(lo) {
			break
		}
		raw = append(raw, lo, hi)
	}
	if len(raw)/2 < MinStringLength {
		return nil, 0
	}

	size := uint64(len(raw))
	if lo, ok := bs.ReadUint8(offset + size); ok && lo == 0 && size+2 <= remaining {
		if hi, ok := bs.ReadUint8(offset + size + 1); ok && hi == 0 {
			size += 2
		}
	}
	return raw, size
}

// TrackOperand walks forward through the control flow successors from
// start, invoking the tracker at each address. A branch stops when the
// tracker returns false; joins are visited once per session.
func (a *Analyzer) TrackOperand(doc *Document, start Address, tracker Tracker) {
	frontier := []Address{start}
	visited := make(map[Address]struct{})

	for len(frontier) > 0 {
		addr := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if _, done := visited[addr]; done {
			continue
		}
		visited[addr] = struct{}{}

		if !tracker.Track(a, doc, addr) {
			continue
		}

		insn, ok := doc.GetCell(addr).(*Instruction)
		if !ok {
			continue
		}
		if insn.SubType != JumpInstruction && insn.SubType != ReturnInstruction {
			frontier = append(frontier, addr.Add(uint64(insn.Length())))
		}
		for _, xr := range doc.GetCrossReferencesFrom(addr) {
			if xr.Type == BranchXRef {
				frontier = append(frontier, xr.To)
			}
		}
	}
}

// BacktrackOperand walks backward through the control flow predecessors
// from start, invoking the tracker at each address.
func (a *Analyzer) BacktrackOperand(doc *Document, start Address, tracker Tracker) {
	frontier := []Address{start}
	visited := make(map[Address]struct{})

	for len(frontier) > 0 {
		addr := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if _, done := visited[addr]; done {
			continue
		}
		visited[addr] = struct{}{}

		if !tracker.Track(a, doc, addr) {
			continue
		}

		// Fallthrough predecessor: the covering cell just before addr,
		// when it is an instruction that does not divert the flow.
		if addr.Offset > 0 {
			if prev, cell, ok := doc.CellCovering(addr.Sub(1)); ok {
				if insn, isInsn := cell.(*Instruction); isInsn &&
					prev.Add(uint64(insn.Length())).Equal(addr) &&
					insn.SubType != JumpInstruction &&
					insn.SubType != ReturnInstruction {
					frontier = append(frontier, prev)
				}
			}
		}
		for _, xr := range doc.GetCrossReferencesTo(addr) {
			if xr.Type == BranchXRef {
				frontier = append(frontier, xr.From)
			}
		}
	}
}

// FormatCell renders a cell with highlighting marks. Instructions are
// delegated to the architecture registered under their tag.
func (a *Analyzer) FormatCell(doc *Document, addr Address, cell Cell) (string, []Mark, error) {
	var text string
	var marks []Mark

	switch c := cell.(type) {
	case *Instruction:
		arch := a.modMgr.GetArchitecture(c.ArchitectureTag())
		if arch == nil {
			return "", nil, ErrNotFound
		}
		text, marks = arch.FormatInstruction(addr, c)

	case *Value:
		mnemonic := map[uint16]string{1: "db", 2: "dw", 4: "dd", 8: "dq"}[c.Length()]
		if mnemonic == "" {
			mnemonic = "db"
		}
		var value string
		switch c.Format {
		case DecimalFormat:
			value = fmt.Sprintf("%d", c.Value)
		case BinaryFormat:
			value = fmt.Sprintf("0b%b", c.Value)
		default:
			value = fmt.Sprintf("0x%0*x", c.Length()*2, c.Value)
		}
		text = mnemonic + " " + value
		marks = []Mark{
			{Type: MnemonicMark, Offset: 0, Length: uint16(len(mnemonic))},
			{Type: ImmediateMark, Offset: uint16(len(mnemonic) + 1), Length: uint16(len(value))},
		}

	case *Character:
		value := fmt.Sprintf("'%c'", c.Value)
		text = "db " + value
		marks = []Mark{
			{Type: MnemonicMark, Offset: 0, Length: 2},
			{Type: ImmediateMark, Offset: 3, Length: uint16(len(value))},
		}

	case *StringCell:
		value := fmt.Sprintf("%q", c.Text)
		text = "db " + value
		marks = []Mark{
			{Type: MnemonicMark, Offset: 0, Length: 2},
			{Type: ImmediateMark, Offset: 3, Length: uint16(len(value))},
		}

	default:
		return "", nil, ErrNotFound
	}

	comment := cell.Comment()
	if comment == "" {
		comment, _ = doc.Comment(addr)
	}
	if comment != "" {
		start := uint16(len(text) + 1)
		text += " ; " + comment
		marks = append(marks, Mark{
			Type:   CommentMark,
			Offset: start,
			Length: uint16(len(comment) + 2),
		})
	}
	return text, marks, nil
}

// FormatMultiCell renders a multicell header line with marks.
func (a *Analyzer) FormatMultiCell(doc *Document, addr Address, mc MultiCell) (string, []Mark, error) {
	switch m := mc.(type) {
	case *Function:
		name := fmt.Sprintf("sub_%x", m.Entry.Offset)
		if label, ok := doc.GetLabelFromAddress(m.Entry); ok {
			name = label.Name
		}
		text := fmt.Sprintf("function %s ; %d bytes, %d basic blocks",
			name, m.Bytes, len(m.BasicBlocks))
		marks := []Mark{
			{Type: MnemonicMark, Offset: 0, Length: 8},
			{Type: LabelMark, Offset: 9, Length: uint16(len(name))},
			{Type: CommentMark, Offset: uint16(10 + len(name)),
				Length: uint16(len(text) - 10 - len(name))},
		}
		return text, marks, nil

	case *Array:
		text := fmt.Sprintf("array[%d] ; %d bytes each", m.Count, m.ElementLength)
		return text, []Mark{{Type: MnemonicMark, Offset: 0, Length: 5}}, nil

	case *Structure:
		text := fmt.Sprintf("struct ; %d bytes", m.Bytes)
		return text, []Mark{{Type: MnemonicMark, Offset: 0, Length: 6}}, nil

	case *StringRegion:
		text := fmt.Sprintf("string ; %d bytes", m.Bytes)
		return text, []Mark{{Type: MnemonicMark, Offset: 0, Length: 6}}, nil
	}
	return "", nil, ErrNotFound
}

// InstructionBudgetTracker follows the flow for at most Budget
// instructions, attaching a numbered comment at each visited one.
type InstructionBudgetTracker struct {
	Budget  int
	visited int
}

// Track implements Tracker.
func (t *InstructionBudgetTracker) Track(anlz *Analyzer, doc *Document, addr Address) bool {
	if t.visited >= t.Budget {
		return false
	}
	if _, ok := doc.GetCell(addr).(*Instruction); !ok {
		return false
	}
	t.visited++
	doc.SetComment(addr, fmt.Sprintf("track point %d", t.visited))
	return true
}

// MemoryOperandTracker collects the addresses of instructions touching
// memory.
type MemoryOperandTracker struct {
	Hits []Address
}

// Track implements Tracker.
func (t *MemoryOperandTracker) Track(anlz *Analyzer, doc *Document, addr Address) bool {
	insn, ok := doc.GetCell(addr).(*Instruction)
	if !ok {
		return false
	}
	if insn.SubType == ReturnInstruction {
		return false
	}
	for i := 0; i < OperandCount; i++ {
		if insn.Operand(i).Type&OperandMemory != 0 {
			t.Hits = append(t.Hits, addr)
			break
		}
	}
	return true
}
