// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// Subscription mask bits. A subscriber only receives the notifications
// whose bit is present in its mask.
const (
	// LabelUpdatedEvent notifies label additions and removals.
	LabelUpdatedEvent uint32 = 1

	// DocumentUpdatedEvent notifies structural document changes.
	DocumentUpdatedEvent uint32 = 2

	// QuitEvent notifies document teardown.
	QuitEvent uint32 = 4

	// CellUpdatedEvent notifies cell writes.
	CellUpdatedEvent uint32 = 8

	// MemoryAreaUpdatedEvent notifies memory area insertions.
	MemoryAreaUpdatedEvent uint32 = 16
)

// Subscriber receives document change notifications. Delivery happens
// synchronously on the goroutine that caused the change; subscribers
// needing asynchrony own their own queue.
type Subscriber interface {
	OnLabelUpdated(addr Address, label Label, removed bool)
	OnDocumentUpdated()
	OnCellUpdated(addr Address)
	OnMemoryAreaUpdated(area *MemoryArea)
	OnQuit()
}

// NopSubscriber implements Subscriber with empty handlers, for embedding
// by views that only care about a few notifications.
type NopSubscriber struct{}

func (NopSubscriber) OnLabelUpdated(Address, Label, bool) {}
func (NopSubscriber) OnDocumentUpdated()                  {}
func (NopSubscriber) OnCellUpdated(Address)               {}
func (NopSubscriber) OnMemoryAreaUpdated(*MemoryArea)     {}
func (NopSubscriber) OnQuit()                             {}

// event is one queued notification.
type event struct {
	bit     uint32
	addr    Address
	label   Label
	removed bool
	area    *MemoryArea
}

func (ev event) deliver(s Subscriber) {
	switch ev.bit {
	case LabelUpdatedEvent:
		s.OnLabelUpdated(ev.addr, ev.label, ev.removed)
	case DocumentUpdatedEvent:
		s.OnDocumentUpdated()
	case CellUpdatedEvent:
		s.OnCellUpdated(ev.addr)
	case MemoryAreaUpdatedEvent:
		s.OnMemoryAreaUpdated(ev.area)
	case QuitEvent:
		s.OnQuit()
	}
}
