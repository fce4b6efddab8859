// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"sort"
)

// BasicBlock is a maximal straight-line instruction sequence with a
// single entry and a single exit.
type BasicBlock struct {

	// Start is the address of the first instruction.
	Start Address

	// Instructions holds the member addresses in execution order.
	Instructions []Address

	// Bytes is the block length.
	Bytes uint64
}

// End returns the first address past the block.
func (bb *BasicBlock) End() Address {
	return bb.Start.Add(bb.Bytes)
}

// ControlFlowGraph is the basic block graph of one function.
type ControlFlowGraph struct {
	Entry  Address
	blocks map[Address]*BasicBlock
	edges  map[Address][]Address
}

// NewControlFlowGraph returns an empty graph rooted at entry.
func NewControlFlowGraph(entry Address) *ControlFlowGraph {
	return &ControlFlowGraph{
		Entry:  entry,
		blocks: make(map[Address]*BasicBlock),
		edges:  make(map[Address][]Address),
	}
}

// AddBasicBlock inserts a block keyed by its start address.
func (cfg *ControlFlowGraph) AddBasicBlock(bb *BasicBlock) {
	cfg.blocks[bb.Start] = bb
}

// AddEdge records a control transfer between two block heads. Duplicate
// edges are ignored.
func (cfg *ControlFlowGraph) AddEdge(from, to Address) {
	for _, succ := range cfg.edges[from] {
		if succ.Equal(to) {
			return
		}
	}
	cfg.edges[from] = append(cfg.edges[from], to)
}

// Block returns the block starting at addr, or nil.
func (cfg *ControlFlowGraph) Block(addr Address) *BasicBlock {
	return cfg.blocks[addr]
}

// Successors returns the heads of the blocks reachable from the block at
// addr.
func (cfg *ControlFlowGraph) Successors(addr Address) []Address {
	return append([]Address(nil), cfg.edges[addr]...)
}

// BasicBlocks returns every block in address order.
func (cfg *ControlFlowGraph) BasicBlocks() []*BasicBlock {
	blocks := make([]*BasicBlock, 0, len(cfg.blocks))
	for _, bb := range cfg.blocks {
		blocks = append(blocks, bb)
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Start.Compare(blocks[j].Start) < 0
	})
	return blocks
}

// Len returns the number of blocks.
func (cfg *ControlFlowGraph) Len() int {
	return len(cfg.blocks)
}
