// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"fmt"

	"github.com/biogo/store/llrb"
)

// Access flags of a memory area.
const (
	// AccessRead marks the area readable.
	AccessRead = 0x1

	// AccessWrite marks the area writable.
	AccessWrite = 0x2

	// AccessExecute marks the area executable.
	AccessExecute = 0x4
)

// MemoryArea is a contiguous mapped range of the binary with access
// attributes and a default decoding context.
type MemoryArea struct {

	// Human readable name, e.g. ".text".
	Name string

	// Address of the first byte of the area.
	Start Address

	// Length of the area in bytes.
	Size uint64

	// Combination of AccessRead, AccessWrite and AccessExecute.
	Access uint8

	// Offset of the area contents inside the binary stream.
	FileOffset uint64

	// Tag of the architecture used to decode the area by default.
	ArchitectureTag ArchitectureTag

	// Default decoding mode for the area.
	Mode uint8
}

// End returns the first address past the area.
func (ma *MemoryArea) End() Address {
	return ma.Start.Add(ma.Size)
}

// Contains reports whether addr falls inside the area.
func (ma *MemoryArea) Contains(addr Address) bool {
	if addr.Type != ma.Start.Type || addr.Base != ma.Start.Base {
		return false
	}
	return addr.Offset >= ma.Start.Offset && addr.Offset < ma.Start.Offset+ma.Size
}

// Overlaps reports whether both areas share at least one byte.
func (ma *MemoryArea) Overlaps(other *MemoryArea) bool {
	if ma.Start.Type != other.Start.Type || ma.Start.Base != other.Start.Base {
		return false
	}
	return ma.Start.Offset < other.Start.Offset+other.Size &&
		other.Start.Offset < ma.Start.Offset+ma.Size
}

// Translate maps addr to its offset inside the binary stream.
func (ma *MemoryArea) Translate(addr Address) (uint64, bool) {
	if !ma.Contains(addr) {
		return 0, false
	}
	return ma.FileOffset + (addr.Offset - ma.Start.Offset), true
}

// String implements Stringer.
func (ma *MemoryArea) String() string {
	return fmt.Sprintf("%s [%s-%s]", ma.Name, ma.Start, ma.End())
}

// PrettyAccessFlags returns the access attributes as human readable names.
func (ma *MemoryArea) PrettyAccessFlags() []string {
	var values []string

	flagsMap := []struct {
		flag uint8
		name string
	}{
		{AccessRead, "Readable"},
		{AccessWrite, "Writable"},
		{AccessExecute, "Executable"},
	}

	for _, f := range flagsMap {
		if ma.Access&f.flag != 0 {
			values = append(values, f.name)
		}
	}
	return values
}

// areaItem adapts a MemoryArea to the llrb ordering.
type areaItem struct {
	area *MemoryArea
}

// Compare compares two areaItem objects for use in llrb.
func (a areaItem) Compare(c2 llrb.Comparable) int {
	return a.area.Start.Compare(c2.(areaItem).area.Start)
}

// MemoryMap is the ordered set of pairwise disjoint memory areas of a
// document.
type MemoryMap struct {
	byStart llrb.Tree
}

// NewMemoryMap returns an empty memory map.
func NewMemoryMap() *MemoryMap {
	return &MemoryMap{}
}

// Len returns the number of mapped areas.
func (mm *MemoryMap) Len() int {
	return mm.byStart.Len()
}

// Add inserts an area, rejecting it with ErrOverlap if it would intersect
// an already mapped one.
func (mm *MemoryMap) Add(area *MemoryArea) error {
	if area.Size == 0 {
		return ErrOutOfRange
	}

	probe := areaItem{area: area}
	if prev := mm.byStart.Floor(probe); prev != nil {
		if prev.(areaItem).area.Overlaps(area) {
			return ErrOverlap
		}
	}
	if next := mm.byStart.Ceil(probe); next != nil {
		if next.(areaItem).area.Overlaps(area) {
			return ErrOverlap
		}
	}

	mm.byStart.Insert(probe)
	return nil
}

// Find returns the area containing addr, or nil.
func (mm *MemoryMap) Find(addr Address) *MemoryArea {
	probe := areaItem{area: &MemoryArea{Start: addr}}
	prev := mm.byStart.Floor(probe)
	if prev == nil {
		return nil
	}
	area := prev.(areaItem).area
	if !area.Contains(addr) {
		return nil
	}
	return area
}

// Translate maps addr to its offset inside the binary stream.
func (mm *MemoryMap) Translate(addr Address) (uint64, bool) {
	area := mm.Find(addr)
	if area == nil {
		return 0, false
	}
	return area.Translate(addr)
}

// Do calls fn on every area in address order until fn returns false.
func (mm *MemoryMap) Do(fn func(*MemoryArea) bool) {
	mm.byStart.Do(func(c llrb.Comparable) bool {
		return !fn(c.(areaItem).area)
	})
}

// Areas returns every mapped area in address order.
func (mm *MemoryMap) Areas() []*MemoryArea {
	areas := make([]*MemoryArea, 0, mm.byStart.Len())
	mm.Do(func(ma *MemoryArea) bool {
		areas = append(areas, ma)
		return true
	})
	return areas
}
