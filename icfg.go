package main

import (
	"fmt"
	"sort"
	"strings"
)

// NodeID is the dense identifier the upstream pointer analysis assigns to
// ICFG nodes. 0 is never a valid ID; it doubles as "no node".
type NodeID uint32

// NodeKind discriminates the typed ICFG nodes.
type NodeKind uint8

const (
	KindGlobal NodeKind = iota
	KindFunEntry
	KindFunExit
	KindFunCall
	KindFunRet
	KindIntra
)

func (k NodeKind) String() string {
	switch k {
	case KindGlobal:
		return "Global"
	case KindFunEntry:
		return "FunEntry"
	case KindFunExit:
		return "FunExit"
	case KindFunCall:
		return "FunCall"
	case KindFunRet:
		return "FunRet"
	case KindIntra:
		return "Intra"
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

func parseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "Global":
		return KindGlobal, nil
	case "FunEntry":
		return KindFunEntry, nil
	case "FunExit":
		return KindFunExit, nil
	case "FunCall":
		return KindFunCall, nil
	case "FunRet":
		return KindFunRet, nil
	case "Intra":
		return KindIntra, nil
	}
	return 0, fmt.Errorf("%w: unknown node kind %q", ErrMalformed, s)
}

// Location is a source position attached to an ICFG node. chunks holds the
// '/'-split file path and backs the relaxed matching rule below.
type Location struct {
	File   string
	Line   uint32
	Column uint32

	chunks []string
}

func newLocation(file string, line, column uint32) Location {
	loc := Location{File: file, Line: line, Column: column}
	if file != "" {
		loc.chunks = strings.Split(file, "/")
	}
	return loc
}

// chunksMatch reports whether two '/'-split file paths name the same source
// file under the relaxed rule: the last components must be equal, and when
// both paths have at least two components the next-to-last components must
// be equal too. The rule tolerates build-tree path rewrites.
func chunksMatch(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if a[len(a)-1] != b[len(b)-1] {
		return false
	}
	if len(a) >= 2 && len(b) >= 2 && a[len(a)-2] != b[len(b)-2] {
		return false
	}
	return true
}

// Node is one typed ICFG node. Corres links a FunEntry to its function's
// exit node and a FunCall to its paired FunRet; it is 0 for other kinds.
type Node struct {
	ID     NodeID
	Kind   NodeKind
	Fn     string
	Loc    Location
	Corres NodeID
	Extern bool
}

// ICFG is the read-only interprocedural control-flow graph view. It is
// mutated only by the loader (and indirect-call resolution) before any
// analysis starts.
type ICFG struct {
	nodes   map[NodeID]*Node
	order   []NodeID
	out     map[NodeID][]NodeID
	in      map[NodeID][]NodeID
	edgeSet map[[2]NodeID]bool

	global     NodeID
	entries    map[string]NodeID
	exits      map[string]NodeID
	pairedCall map[NodeID]NodeID
}

func newICFG() *ICFG {
	return &ICFG{
		nodes:      make(map[NodeID]*Node),
		out:        make(map[NodeID][]NodeID),
		in:         make(map[NodeID][]NodeID),
		edgeSet:    make(map[[2]NodeID]bool),
		entries:    make(map[string]NodeID),
		exits:      make(map[string]NodeID),
		pairedCall: make(map[NodeID]NodeID),
	}
}

func (g *ICFG) addNode(n *Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("%w: duplicate node %d", ErrMalformed, n.ID)
	}
	g.nodes[n.ID] = n
	switch n.Kind {
	case KindGlobal:
		if g.global != 0 {
			return fmt.Errorf("%w: multiple global nodes (%d, %d)", ErrMalformed, g.global, n.ID)
		}
		g.global = n.ID
	case KindFunEntry:
		g.entries[n.Fn] = n.ID
	case KindFunExit:
		g.exits[n.Fn] = n.ID
	case KindFunCall:
		if n.Corres != 0 {
			g.pairedCall[n.Corres] = n.ID
		}
	}
	return nil
}

func (g *ICFG) addEdge(from, to NodeID) {
	key := [2]NodeID{from, to}
	if g.edgeSet[key] {
		return
	}
	g.edgeSet[key] = true
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}

// finish freezes the node set: it sorts the iteration order and the
// adjacency lists so traversals are deterministic across runs.
func (g *ICFG) finish() error {
	if g.global == 0 {
		return fmt.Errorf("%w: graph has no global node", ErrMalformed)
	}
	g.order = g.order[:0]
	for id := range g.nodes {
		g.order = append(g.order, id)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })
	for _, adj := range []map[NodeID][]NodeID{g.out, g.in} {
		for _, succs := range adj {
			sort.Slice(succs, func(i, j int) bool { return succs[i] < succs[j] })
		}
	}
	return nil
}

// Nodes returns all node IDs in ascending order. The slice is shared; do
// not mutate it.
func (g *ICFG) Nodes() []NodeID { return g.order }

func (g *ICFG) Node(id NodeID) *Node { return g.nodes[id] }

func (g *ICFG) Out(id NodeID) []NodeID { return g.out[id] }

func (g *ICFG) In(id NodeID) []NodeID { return g.in[id] }

func (g *ICFG) Global() NodeID { return g.global }

// Entry returns the FunEntry node of the named function, 0 if unknown.
func (g *ICFG) Entry(fn string) NodeID { return g.entries[fn] }

// Exit returns the FunExit node of the named function, 0 if unknown.
func (g *ICFG) Exit(fn string) NodeID { return g.exits[fn] }

// PairedRet returns the FunRet paired with a FunCall node.
func (g *ICFG) PairedRet(call NodeID) NodeID {
	if n := g.nodes[call]; n != nil && n.Kind == KindFunCall {
		return n.Corres
	}
	return 0
}

// PairedCall returns the FunCall paired with a FunRet node.
func (g *ICFG) PairedCall(ret NodeID) NodeID { return g.pairedCall[ret] }

// uncalled reports whether a function entry has no incoming call edge,
// i.e. no FunCall node anywhere in the graph targets it.
func (g *ICFG) uncalled(entry NodeID) bool {
	for _, pred := range g.in[entry] {
		if n := g.nodes[pred]; n != nil && n.Kind == KindFunCall {
			return false
		}
	}
	return true
}
