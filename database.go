// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// Database is the persistence contract of a document. The on-disk format
// is owned by the provider; the engine only relies on a round trip
// preserving every cell, multicell, label, cross reference, comment and
// memory area.
type Database interface {

	// Name returns the database name, e.g. "memory".
	Name() string

	// Extension returns the file extension of the format, "" for RAM-only
	// databases.
	Extension() string

	// Create opens a fresh database at path, refusing to clobber an
	// existing one unless overwrite is set.
	Create(path string, overwrite bool) error

	// Open loads an existing database from path.
	Open(path string) error

	// Close flushes and releases the database.
	Close() error

	// SetBinaryStream attaches the analyzed binary.
	SetBinaryStream(bs *BinaryStream) error

	// GetBinaryStream returns the attached binary, or nil.
	GetBinaryStream() *BinaryStream

	// Memory area storage.
	AddMemoryArea(area *MemoryArea) error
	MemoryAreas() ([]*MemoryArea, error)

	// Cell storage.
	SetCell(addr Address, cell Cell) error
	RemoveCell(addr Address) error
	Cells() (map[Address]Cell, error)

	// MultiCell storage.
	SetMultiCell(addr Address, mc MultiCell) error
	RemoveMultiCell(addr Address) error
	MultiCells() (map[Address]MultiCell, error)

	// Label storage.
	SetLabel(addr Address, label Label) error
	RemoveLabel(addr Address) error
	Labels() (map[Address]Label, error)

	// Cross reference storage.
	AddCrossReference(from, to Address, kind XRefType) error
	CrossReferences() ([]XRef, error)

	// Comment storage.
	SetComment(addr Address, comment string) error
	Comments() (map[Address]string, error)
}
