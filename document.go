// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/biogo/store/llrb"

	"github.com/medusa-re/medusa/log"
)

// cellItem adapts an addressed cell to the llrb ordering.
type cellItem struct {
	addr Address
	cell Cell
}

// Compare compares two cellItem objects for use in llrb.
func (c cellItem) Compare(c2 llrb.Comparable) int {
	return c.addr.Compare(c2.(cellItem).addr)
}

type subscription struct {
	sub  Subscriber
	mask uint32
}

// Document is the mutable analyzed representation of a binary: the memory
// map plus the cell, multicell, label, cross reference and comment
// indices. All mutations go through a single writer lock; change
// notifications are queued under the lock and delivered synchronously
// once it is released, so a handler may itself mutate the document
// without deadlocking.
type Document struct {
	mu         sync.RWMutex
	memoryMap  *MemoryMap
	cells      llrb.Tree
	multiCells map[Address]MultiCell
	labels     *labelIndex
	xrefs      *xrefGraph
	comments   map[Address]string
	binStream  *BinaryStream
	db         Database

	subscribers []subscription
	pending     []event
	delivering  int32

	logger *log.Helper
}

// NewDocument returns an empty document.
func NewDocument(logger *log.Helper) *Document {
	if logger == nil {
		logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout),
			log.FilterLevel(log.LevelError)))
	}
	return &Document{
		memoryMap:  NewMemoryMap(),
		multiCells: make(map[Address]MultiCell),
		labels:     newLabelIndex(),
		xrefs:      newXRefGraph(),
		comments:   make(map[Address]string),
		logger:     logger,
	}
}

// Use binds the document to its database. When the database already
// carries a binary stream the document adopts it.
func (d *Document) Use(db Database) {
	d.mu.Lock()
	d.db = db
	if bs := db.GetBinaryStream(); bs != nil {
		d.binStream = bs
	}
	d.mu.Unlock()
}

// SetBinaryStream attaches the analyzed binary.
func (d *Document) SetBinaryStream(bs *BinaryStream) {
	d.mu.Lock()
	d.binStream = bs
	d.mu.Unlock()
}

// BinaryStream returns the attached binary, or nil.
func (d *Document) BinaryStream() *BinaryStream {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.binStream
}

// AddMemoryArea maps an area, rejecting overlaps with ErrOverlap.
func (d *Document) AddMemoryArea(area *MemoryArea) error {
	d.mu.Lock()
	if err := d.memoryMap.Add(area); err != nil {
		d.mu.Unlock()
		return err
	}
	d.persist(func(db Database) error { return db.AddMemoryArea(area) })
	d.emit(event{bit: MemoryAreaUpdatedEvent, area: area})
	d.mu.Unlock()

	d.drain()
	return nil
}

// GetMemoryArea returns the area containing addr, or nil.
func (d *Document) GetMemoryArea(addr Address) *MemoryArea {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memoryMap.Find(addr)
}

// MemoryAreas returns every mapped area in address order.
func (d *Document) MemoryAreas() []*MemoryArea {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memoryMap.Areas()
}

// Translate maps addr to its offset inside the binary stream.
func (d *Document) Translate(addr Address) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memoryMap.Translate(addr)
}

// MakeAddress builds an address of the mapped kind containing
// base:offset, or an unknown address when nothing is mapped there.
func (d *Document) MakeAddress(base uint16, offset uint64) Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var found Address
	found.Type = UnknownAddress
	d.memoryMap.Do(func(ma *MemoryArea) bool {
		if ma.Start.Base != base {
			return true
		}
		probe := NewAddress(ma.Start.Type, base, offset, ma.Start.BitSize)
		if ma.Contains(probe) {
			found = probe
			return false
		}
		return true
	})
	return found
}

// GetCell returns the cell starting exactly at addr, or nil.
func (d *Document) GetCell(addr Address) Cell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cellAt(addr)
}

func (d *Document) cellAt(addr Address) Cell {
	got := d.cells.Get(cellItem{addr: addr})
	if got == nil {
		return nil
	}
	return got.(cellItem).cell
}

// CellCovering returns the cell whose byte range contains addr, along
// with its start address.
func (d *Document) CellCovering(addr Address) (Address, Cell, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cellCovering(addr)
}

func (d *Document) cellCovering(addr Address) (Address, Cell, bool) {
	got := d.cells.Floor(cellItem{addr: addr})
	if got == nil {
		return Address{}, nil, false
	}
	item := got.(cellItem)
	if item.addr.Type != addr.Type || item.addr.Base != addr.Base {
		return Address{}, nil, false
	}
	if addr.Offset >= item.addr.Offset+uint64(item.cell.Length()) {
		return Address{}, nil, false
	}
	return item.addr, item.cell, true
}

// overlappedCells collects the start addresses of every cell sharing at
// least one byte with [addr, addr+length).
func (d *Document) overlappedCells(addr Address, length uint16) []Address {
	var hits []Address

	if start, _, ok := d.cellCovering(addr); ok {
		hits = append(hits, start)
	}
	from := cellItem{addr: addr}
	to := cellItem{addr: addr.Add(uint64(length))}
	d.cells.DoRange(func(c llrb.Comparable) bool {
		item := c.(cellItem)
		if len(hits) == 0 || !hits[len(hits)-1].Equal(item.addr) {
			hits = append(hits, item.addr)
		}
		return false
	}, from, to)
	return hits
}

// SetCell writes a cell at addr. A write overlapping existing cells of a
// different extent is rejected unless force is set, in which case the
// overlapped cells are removed first. Returns whether the document was
// mutated.
func (d *Document) SetCell(addr Address, cell Cell, force bool) bool {
	d.mu.Lock()

	overlapped := d.overlappedCells(addr, cell.Length())
	conflict := false
	for _, start := range overlapped {
		if !start.Equal(addr) || d.cellAt(start).Length() != cell.Length() {
			conflict = true
			break
		}
	}
	if conflict && !force {
		d.mu.Unlock()
		return false
	}
	if conflict {
		for _, start := range overlapped {
			d.cells.Delete(cellItem{addr: start})
			d.persist(func(db Database) error { return db.RemoveCell(start) })
		}
	}

	d.cells.Insert(cellItem{addr: addr, cell: cell})
	d.persist(func(db Database) error { return db.SetCell(addr, cell) })
	d.emit(event{bit: CellUpdatedEvent, addr: addr})
	d.mu.Unlock()

	d.drain()
	return true
}

// CellCount returns the number of cells.
func (d *Document) CellCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cells.Len()
}

// DoCells calls fn on every cell in address order until fn returns false.
// The read lock is held across the whole iteration; fn must not mutate
// the document.
func (d *Document) DoCells(fn func(Address, Cell) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.cells.Do(func(c llrb.Comparable) bool {
		item := c.(cellItem)
		return !fn(item.addr, item.cell)
	})
}

// GetMultiCell returns the multicell headed at addr, or nil.
func (d *Document) GetMultiCell(addr Address) MultiCell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.multiCells[addr]
}

// MultiCells returns a copy of the multicell index.
func (d *Document) MultiCells() map[Address]MultiCell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[Address]MultiCell, len(d.multiCells))
	for addr, mc := range d.multiCells {
		out[addr] = mc
	}
	return out
}

// SetMultiCell writes a multicell headed at addr. Without force the write
// is rejected when any member address already belongs to another
// multicell; with force the overlapped multicells are replaced.
func (d *Document) SetMultiCell(addr Address, mc MultiCell, force bool) bool {
	d.mu.Lock()

	var overlapped []Address
	for head, other := range d.multiCells {
		if head.Equal(addr) {
			overlapped = append(overlapped, head)
			continue
		}
		if head.Type != addr.Type || head.Base != addr.Base {
			continue
		}
		if head.Offset < addr.Offset+mc.Size() &&
			addr.Offset < head.Offset+other.Size() {
			overlapped = append(overlapped, head)
		}
	}
	if len(overlapped) > 0 && !force {
		d.mu.Unlock()
		return false
	}
	for _, head := range overlapped {
		delete(d.multiCells, head)
		d.persist(func(db Database) error { return db.RemoveMultiCell(head) })
	}

	d.multiCells[addr] = mc
	d.persist(func(db Database) error { return db.SetMultiCell(addr, mc) })
	d.emit(event{bit: DocumentUpdatedEvent})
	d.mu.Unlock()

	d.drain()
	return true
}

// AddLabel binds a label to addr. Duplicate names and doubly labeled
// addresses are rejected.
func (d *Document) AddLabel(addr Address, label Label) bool {
	d.mu.Lock()
	if !d.labels.add(addr, label) {
		d.mu.Unlock()
		return false
	}
	d.persist(func(db Database) error { return db.SetLabel(addr, label) })
	d.emit(event{bit: LabelUpdatedEvent, addr: addr, label: label})
	d.mu.Unlock()

	d.drain()
	return true
}

// RemoveLabel unbinds whatever label sits at addr.
func (d *Document) RemoveLabel(addr Address) bool {
	d.mu.Lock()
	label, ok := d.labels.remove(addr)
	if !ok {
		d.mu.Unlock()
		return false
	}
	d.persist(func(db Database) error { return db.RemoveLabel(addr) })
	d.emit(event{bit: LabelUpdatedEvent, addr: addr, label: label, removed: true})
	d.mu.Unlock()

	d.drain()
	return true
}

// GetLabelFromAddress returns the label bound to addr.
func (d *Document) GetLabelFromAddress(addr Address) (Label, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.labels.fromAddress(addr)
}

// GetAddressFromLabelName returns the address a name is bound to.
func (d *Document) GetAddressFromLabelName(name string) (Address, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.labels.fromName(name)
}

// Labels returns a copy of the label index.
func (d *Document) Labels() map[Address]Label {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[Address]Label, len(d.labels.byAddress))
	for addr, label := range d.labels.byAddress {
		out[addr] = label
	}
	return out
}

// AddCrossReference records a directed edge. Duplicate edges are ignored
// and reported as false.
func (d *Document) AddCrossReference(from, to Address, kind XRefType) bool {
	d.mu.Lock()
	if !d.xrefs.add(from, to, kind) {
		d.mu.Unlock()
		return false
	}
	d.persist(func(db Database) error { return db.AddCrossReference(from, to, kind) })
	d.emit(event{bit: DocumentUpdatedEvent})
	d.mu.Unlock()

	d.drain()
	return true
}

// GetCrossReferencesFrom returns every edge leaving addr.
func (d *Document) GetCrossReferencesFrom(addr Address) []XRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.xrefs.edgesFrom(addr)
}

// GetCrossReferencesTo returns every edge arriving at addr.
func (d *Document) GetCrossReferencesTo(addr Address) []XRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.xrefs.edgesTo(addr)
}

// CrossReferenceCount returns the total number of edges.
func (d *Document) CrossReferenceCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.xrefs.count()
}

// SetComment attaches a comment to addr; an empty text removes it.
func (d *Document) SetComment(addr Address, text string) {
	d.mu.Lock()
	if text == "" {
		delete(d.comments, addr)
	} else {
		d.comments[addr] = text
	}
	d.persist(func(db Database) error { return db.SetComment(addr, text) })
	d.emit(event{bit: CellUpdatedEvent, addr: addr})
	d.mu.Unlock()

	d.drain()
}

// Comment returns the comment attached to addr.
func (d *Document) Comment(addr Address) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	text, ok := d.comments[addr]
	return text, ok
}

// Comments returns a copy of the comment index.
func (d *Document) Comments() map[Address]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[Address]string, len(d.comments))
	for addr, text := range d.comments {
		out[addr] = text
	}
	return out
}

// Subscribe registers a subscriber for the notifications selected by
// mask. Subscribing twice updates the mask.
func (d *Document) Subscribe(sub Subscriber, mask uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.subscribers {
		if d.subscribers[i].sub == sub {
			d.subscribers[i].mask = mask
			return
		}
	}
	d.subscribers = append(d.subscribers, subscription{sub: sub, mask: mask})
}

// Unsubscribe removes a subscriber.
func (d *Document) Unsubscribe(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.subscribers {
		if d.subscribers[i].sub == sub {
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			return
		}
	}
}

// Quit notifies teardown to every subscriber holding the Quit bit.
func (d *Document) Quit() {
	d.mu.Lock()
	d.emit(event{bit: QuitEvent})
	d.mu.Unlock()
	d.drain()
}

// persist forwards a mutation to the bound database, if any. Database
// failures do not undo the in-memory mutation; they are logged and the
// analysis carries on.
func (d *Document) persist(op func(Database) error) {
	if d.db == nil {
		return
	}
	if err := op(d.db); err != nil {
		d.logger.Warnf("database write failed, reason: %v", err)
	}
}

// emit queues a notification. Callers hold the write lock.
func (d *Document) emit(ev event) {
	d.pending = append(d.pending, ev)
}

// drain delivers queued notifications on the calling goroutine. A single
// drainer runs at a time; notifications queued by handlers or by other
// goroutines during delivery are folded into the running drain.
func (d *Document) drain() {
	for {
		if !atomic.CompareAndSwapInt32(&d.delivering, 0, 1) {
			return
		}
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.pending[0]
			d.pending = d.pending[1:]
			subs := make([]subscription, len(d.subscribers))
			copy(subs, d.subscribers)
			d.mu.Unlock()

			for _, s := range subs {
				if s.mask&ev.bit != 0 {
					ev.deliver(s.sub)
				}
			}
		}
		atomic.StoreInt32(&d.delivering, 0)

		d.mu.RLock()
		again := len(d.pending) > 0
		d.mu.RUnlock()
		if !again {
			return
		}
	}
}
