// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sort"
	"strings"

	medusa "github.com/medusa-re/medusa"
)

// printView echoes document change notifications to stdout, the way an
// interactive front-end would refresh itself.
type printView struct {
	medusa.NopSubscriber
}

func (printView) OnLabelUpdated(addr medusa.Address, label medusa.Label, removed bool) {
	state := "added"
	if removed {
		state = "removed"
	}
	fmt.Printf("label %s %s at %s\n", label.Name, state, addr)
}

func (printView) OnCellUpdated(addr medusa.Address) {
	fmt.Printf("cell updated at %s\n", addr)
}

func (printView) OnMemoryAreaUpdated(area *medusa.MemoryArea) {
	fmt.Printf("memory area mapped: %s\n", area)
}

func (printView) OnDocumentUpdated() {
	fmt.Println("document updated")
}

func (printView) OnQuit() {
	fmt.Println("quitting")
}

// dumpDocument prints the analyzed document: areas, labels, then the
// cell listing with cross references.
func dumpDocument(m *medusa.Medusa) error {
	doc := m.Document()

	fmt.Println("\nMemory areas:")
	for _, area := range doc.MemoryAreas() {
		fmt.Printf("  %s %s\n", area, strings.Join(area.PrettyAccessFlags(), "|"))
	}

	fmt.Println("\nLabels:")
	labels := doc.Labels()
	labelAddrs := make([]medusa.Address, 0, len(labels))
	for addr := range labels {
		labelAddrs = append(labelAddrs, addr)
	}
	sortAddresses(labelAddrs)
	for _, addr := range labelAddrs {
		fmt.Printf("  %s: %s (%s)\n", addr, labels[addr].Name, labels[addr].Type)
	}

	fmt.Println("\nListing:")
	type listedCell struct {
		addr medusa.Address
		cell medusa.Cell
	}
	var listing []listedCell
	doc.DoCells(func(addr medusa.Address, cell medusa.Cell) bool {
		listing = append(listing, listedCell{addr: addr, cell: cell})
		return true
	})

	for _, entry := range listing {
		addr, cell := entry.addr, entry.cell
		if mc := doc.GetMultiCell(addr); mc != nil {
			if text, _, err := m.FormatMultiCell(addr, mc); err == nil {
				fmt.Printf("%s  %s\n", addr, text)
			}
		}
		if label, ok := labels[addr]; ok {
			fmt.Printf("%s  %s:\n", addr, label.Name)
		}

		text, _, err := m.FormatCell(addr, cell)
		if err != nil {
			return err
		}
		fmt.Printf("%s      %s", addr, text)
		for _, xr := range doc.GetCrossReferencesTo(addr) {
			fmt.Printf("  ; xref %s from %s", xr.Type, xr.From)
		}
		fmt.Println()
	}
	return nil
}

func sortAddresses(addrs []medusa.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Compare(addrs[j]) < 0
	})
}
