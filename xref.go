// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// XRefType is the kind of a cross reference edge.
type XRefType uint8

const (
	// UnknownXRef is an edge of unknown kind.
	UnknownXRef XRefType = iota

	// ReadXRef records a data read.
	ReadXRef

	// WriteXRef records a data write.
	WriteXRef

	// CallXRef records a function call.
	CallXRef

	// BranchXRef records a jump.
	BranchXRef
)

// String implements Stringer.
func (t XRefType) String() string {
	switch t {
	case ReadXRef:
		return "read"
	case WriteXRef:
		return "write"
	case CallXRef:
		return "call"
	case BranchXRef:
		return "branch"
	default:
		return "unknown"
	}
}

// XRef is a directed edge between two addresses.
type XRef struct {
	From Address
	To   Address
	Type XRefType
}

type xrefEdge struct {
	addr Address
	kind XRefType
}

// xrefGraph holds both directions of the cross reference relation. The
// two indices mirror each other exactly.
type xrefGraph struct {
	from map[Address][]xrefEdge
	to   map[Address][]xrefEdge
}

func newXRefGraph() *xrefGraph {
	return &xrefGraph{
		from: make(map[Address][]xrefEdge),
		to:   make(map[Address][]xrefEdge),
	}
}

// add inserts the edge once; duplicates are ignored.
func (g *xrefGraph) add(from, to Address, kind XRefType) bool {
	for _, e := range g.from[from] {
		if e.addr.Equal(to) && e.kind == kind {
			return false
		}
	}
	g.from[from] = append(g.from[from], xrefEdge{addr: to, kind: kind})
	g.to[to] = append(g.to[to], xrefEdge{addr: from, kind: kind})
	return true
}

// edgesFrom returns every edge leaving addr.
func (g *xrefGraph) edgesFrom(addr Address) []XRef {
	edges := g.from[addr]
	if len(edges) == 0 {
		return nil
	}
	refs := make([]XRef, 0, len(edges))
	for _, e := range edges {
		refs = append(refs, XRef{From: addr, To: e.addr, Type: e.kind})
	}
	return refs
}

// edgesTo returns every edge arriving at addr.
func (g *xrefGraph) edgesTo(addr Address) []XRef {
	edges := g.to[addr]
	if len(edges) == 0 {
		return nil
	}
	refs := make([]XRef, 0, len(edges))
	for _, e := range edges {
		refs = append(refs, XRef{From: e.addr, To: addr, Type: e.kind})
	}
	return refs
}

// count returns the total number of edges.
func (g *xrefGraph) count() int {
	n := 0
	for _, edges := range g.from {
		n += len(edges)
	}
	return n
}
