// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"sync"
)

// MemoryDatabase keeps the whole document state in RAM. It is the
// default database when no persistence was asked for.
type MemoryDatabase struct {
	mu sync.Mutex

	binStream  *BinaryStream
	areas      []*MemoryArea
	cells      map[Address]Cell
	multiCells map[Address]MultiCell
	labels     map[Address]Label
	xrefs      []XRef
	comments   map[Address]string
	closed     bool
}

// NewMemoryDatabase returns an empty RAM database.
func NewMemoryDatabase() *MemoryDatabase {
	db := &MemoryDatabase{}
	db.reset()
	return db
}

func (db *MemoryDatabase) reset() {
	db.binStream = nil
	db.areas = nil
	db.cells = make(map[Address]Cell)
	db.multiCells = make(map[Address]MultiCell)
	db.labels = make(map[Address]Label)
	db.xrefs = nil
	db.comments = make(map[Address]string)
	db.closed = false
}

// Name implements Database.
func (db *MemoryDatabase) Name() string { return "memory" }

// Extension implements Database.
func (db *MemoryDatabase) Extension() string { return "" }

// Create implements Database. The path is ignored; nothing touches disk.
func (db *MemoryDatabase) Create(path string, overwrite bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.reset()
	return nil
}

// Open implements Database. A RAM database has nothing to load.
func (db *MemoryDatabase) Open(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.reset()
	return nil
}

// Close implements Database.
func (db *MemoryDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

func (db *MemoryDatabase) guard() error {
	if db.closed {
		return ErrClosed
	}
	return nil
}

// SetBinaryStream implements Database.
func (db *MemoryDatabase) SetBinaryStream(bs *BinaryStream) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	db.binStream = bs
	return nil
}

// GetBinaryStream implements Database.
func (db *MemoryDatabase) GetBinaryStream() *BinaryStream {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.binStream
}

// AddMemoryArea implements Database.
func (db *MemoryDatabase) AddMemoryArea(area *MemoryArea) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	db.areas = append(db.areas, area)
	return nil
}

// MemoryAreas implements Database.
func (db *MemoryDatabase) MemoryAreas() ([]*MemoryArea, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return nil, err
	}
	return append([]*MemoryArea(nil), db.areas...), nil
}

// SetCell implements Database.
func (db *MemoryDatabase) SetCell(addr Address, cell Cell) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	db.cells[addr] = cell
	return nil
}

// RemoveCell implements Database.
func (db *MemoryDatabase) RemoveCell(addr Address) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	delete(db.cells, addr)
	return nil
}

// Cells implements Database.
func (db *MemoryDatabase) Cells() (map[Address]Cell, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return nil, err
	}
	out := make(map[Address]Cell, len(db.cells))
	for addr, cell := range db.cells {
		out[addr] = cell
	}
	return out, nil
}

// SetMultiCell implements Database.
func (db *MemoryDatabase) SetMultiCell(addr Address, mc MultiCell) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	db.multiCells[addr] = mc
	return nil
}

// RemoveMultiCell implements Database.
func (db *MemoryDatabase) RemoveMultiCell(addr Address) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	delete(db.multiCells, addr)
	return nil
}

// MultiCells implements Database.
func (db *MemoryDatabase) MultiCells() (map[Address]MultiCell, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return nil, err
	}
	out := make(map[Address]MultiCell, len(db.multiCells))
	for addr, mc := range db.multiCells {
		out[addr] = mc
	}
	return out, nil
}

// SetLabel implements Database.
func (db *MemoryDatabase) SetLabel(addr Address, label Label) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	db.labels[addr] = label
	return nil
}

// RemoveLabel implements Database.
func (db *MemoryDatabase) RemoveLabel(addr Address) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	delete(db.labels, addr)
	return nil
}

// Labels implements Database.
func (db *MemoryDatabase) Labels() (map[Address]Label, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return nil, err
	}
	out := make(map[Address]Label, len(db.labels))
	for addr, label := range db.labels {
		out[addr] = label
	}
	return out, nil
}

// AddCrossReference implements Database.
func (db *MemoryDatabase) AddCrossReference(from, to Address, kind XRefType) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	db.xrefs = append(db.xrefs, XRef{From: from, To: to, Type: kind})
	return nil
}

// CrossReferences implements Database.
func (db *MemoryDatabase) CrossReferences() ([]XRef, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return nil, err
	}
	return append([]XRef(nil), db.xrefs...), nil
}

// SetComment implements Database.
func (db *MemoryDatabase) SetComment(addr Address, comment string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return err
	}
	if comment == "" {
		delete(db.comments, addr)
		return nil
	}
	db.comments[addr] = comment
	return nil
}

// Comments implements Database.
func (db *MemoryDatabase) Comments() (map[Address]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.guard(); err != nil {
		return nil, err
	}
	out := make(map[Address]string, len(db.comments))
	for addr, comment := range db.comments {
		out[addr] = comment
	}
	return out, nil
}
