// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// FileDatabase persists the document state as one snappy-compressed gob
// snapshot. The on-disk layout is private to this provider; only the
// round trip matters to the engine.
type FileDatabase struct {
	MemoryDatabase
	path string
}

// NewFileDatabase returns an unopened file database.
func NewFileDatabase() *FileDatabase {
	db := &FileDatabase{}
	db.reset()
	return db
}

// Name implements Database.
func (db *FileDatabase) Name() string { return "file" }

// Extension implements Database.
func (db *FileDatabase) Extension() string { return ".mdb" }

// Create implements Database. Refuses to clobber an existing file unless
// overwrite is set.
func (db *FileDatabase) Create(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Wrapf(ErrProviderFailure, "database %q already exists", path)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating database")
	}
	f.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	db.reset()
	db.path = path
	return nil
}

// Open implements Database.
func (db *FileDatabase) Open(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	buf, err := snappy.Decode(nil, raw)
	if err != nil {
		return errors.Wrap(err, "decompressing database")
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decoding database")
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.reset()
	db.path = path
	snap.restore(&db.MemoryDatabase)
	return nil
}

// Close implements Database. The snapshot is flushed on close.
func (db *FileDatabase) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	snap := makeSnapshot(&db.MemoryDatabase)
	path := db.path
	db.closed = true
	db.mu.Unlock()

	if path == "" {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return errors.Wrap(err, "encoding database")
	}
	return os.WriteFile(path, snappy.Encode(nil, buf.Bytes()), 0o644)
}

// snapshot is the gob image of a database. Interface-typed entities are
// exploded into flat records so everything serializes with exported
// fields only.
type snapshot struct {
	Binary     []byte
	Endianness Endianness
	Areas      []MemoryArea
	Cells      []cellRecord
	MultiCells []multiCellRecord
	Labels     []labelRecord
	XRefs      []XRef
	Comments   []commentRecord
}

type cellRecord struct {
	Addr     Address
	Kind     CellType
	Length   uint16
	ArchTag  ArchitectureTag
	Mode     uint8
	Comment  string
	Format   ValueFormat
	Value    uint64
	Rune     rune
	Encoding StringEncoding
	Text     string
	Mnemonic string
	Opcode   uint32
	SubType  InstructionType
	Operands [OperandCount]Operand
	Semantic []string
}

type multiCellRecord struct {
	Addr          Address
	Kind          MultiCellType
	Bytes         uint64
	Entry         Address
	BasicBlocks   []Address
	ElementLength uint16
	Count         uint32
}

type labelRecord struct {
	Addr  Address
	Label Label
}

type commentRecord struct {
	Addr    Address
	Comment string
}

// makeSnapshot flattens the database state. Callers hold the lock.
func makeSnapshot(db *MemoryDatabase) snapshot {
	var snap snapshot

	if db.binStream != nil {
		snap.Binary = append([]byte(nil), db.binStream.Buffer()...)
		snap.Endianness = db.binStream.Endianness()
	}
	for _, area := range db.areas {
		snap.Areas = append(snap.Areas, *area)
	}
	for addr, cell := range db.cells {
		snap.Cells = append(snap.Cells, makeCellRecord(addr, cell))
	}
	for addr, mc := range db.multiCells {
		snap.MultiCells = append(snap.MultiCells, makeMultiCellRecord(addr, mc))
	}
	for addr, label := range db.labels {
		snap.Labels = append(snap.Labels, labelRecord{Addr: addr, Label: label})
	}
	snap.XRefs = append(snap.XRefs, db.xrefs...)
	for addr, comment := range db.comments {
		snap.Comments = append(snap.Comments, commentRecord{Addr: addr, Comment: comment})
	}
	return snap
}

// restore rebuilds the database state. Callers hold the lock.
func (snap snapshot) restore(db *MemoryDatabase) {
	if snap.Binary != nil {
		bs := NewMemoryBinaryStream(snap.Binary)
		bs.SetEndianness(snap.Endianness)
		db.binStream = bs
	}
	for i := range snap.Areas {
		area := snap.Areas[i]
		db.areas = append(db.areas, &area)
	}
	for _, rec := range snap.Cells {
		db.cells[rec.Addr] = rec.cell()
	}
	for _, rec := range snap.MultiCells {
		db.multiCells[rec.Addr] = rec.multiCell()
	}
	for _, rec := range snap.Labels {
		db.labels[rec.Addr] = rec.Label
	}
	db.xrefs = append(db.xrefs, snap.XRefs...)
	for _, rec := range snap.Comments {
		db.comments[rec.Addr] = rec.Comment
	}
}

func makeCellRecord(addr Address, cell Cell) cellRecord {
	rec := cellRecord{
		Addr:    addr,
		Kind:    cell.Type(),
		Length:  cell.Length(),
		ArchTag: cell.ArchitectureTag(),
		Mode:    cell.Mode(),
		Comment: cell.Comment(),
	}
	switch c := cell.(type) {
	case *Value:
		rec.Format = c.Format
		rec.Value = c.Value
	case *Character:
		rec.Rune = c.Value
	case *StringCell:
		rec.Encoding = c.Encoding
		rec.Text = c.Text
	case *Instruction:
		rec.Mnemonic = c.Mnemonic
		rec.Opcode = c.Opcode
		rec.SubType = c.SubType
		rec.Operands = c.Operands
		rec.Semantic = c.Semantic
	}
	return rec
}

func (rec cellRecord) cell() Cell {
	header := cellHeader{
		length:  rec.Length,
		archTag: rec.ArchTag,
		mode:    rec.Mode,
		comment: rec.Comment,
	}
	switch rec.Kind {
	case CharacterCellType:
		return &Character{cellHeader: header, Value: rec.Rune}
	case StringCellType:
		return &StringCell{cellHeader: header, Encoding: rec.Encoding, Text: rec.Text}
	case InstructionCellType:
		return &Instruction{
			cellHeader: header,
			Mnemonic:   rec.Mnemonic,
			Opcode:     rec.Opcode,
			SubType:    rec.SubType,
			Operands:   rec.Operands,
			Semantic:   rec.Semantic,
		}
	default:
		return &Value{cellHeader: header, Format: rec.Format, Value: rec.Value}
	}
}

func makeMultiCellRecord(addr Address, mc MultiCell) multiCellRecord {
	rec := multiCellRecord{Addr: addr, Kind: mc.Type(), Bytes: mc.Size()}
	switch m := mc.(type) {
	case *Function:
		rec.Entry = m.Entry
		rec.BasicBlocks = m.BasicBlocks
	case *Array:
		rec.ElementLength = m.ElementLength
		rec.Count = m.Count
	}
	return rec
}

func (rec multiCellRecord) multiCell() MultiCell {
	switch rec.Kind {
	case FunctionMultiCell:
		return &Function{Entry: rec.Entry, Bytes: rec.Bytes, BasicBlocks: rec.BasicBlocks}
	case ArrayMultiCell:
		return &Array{ElementLength: rec.ElementLength, Count: rec.Count}
	case StructureMultiCell:
		return &Structure{Bytes: rec.Bytes}
	default:
		return &StringRegion{Bytes: rec.Bytes}
	}
}

// String implements Stringer.
func (db *FileDatabase) String() string {
	return fmt.Sprintf("file database %q", db.path)
}
