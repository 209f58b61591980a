package main

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/graph/formats/dot"
	"gonum.org/v1/gonum/graph/formats/dot/ast"
)

// The upstream pointer-analysis tool dumps the processed ICFG and call
// graph as DOT. Node statements carry the typed attributes this loader
// consumes:
//
//	Node0x2 [type=FunEntry,function="main",line=3,column=1,file="src/main.c",corres=Node0x5];
//
// Call-graph edges carry indirect= and, for indirect calls, the FunCall
// node of the unresolved call site:
//
//	Node0x1 -> Node0x2 [indirect=true,callsite=Node0x7];

const nodeIDPrefix = "Node0x"

func parseDotNodeID(s string) (NodeID, error) {
	if !strings.HasPrefix(s, nodeIDPrefix) {
		return 0, fmt.Errorf("%w: invalid node identifier %q", ErrMalformed, s)
	}
	v, err := strconv.ParseUint(s[len(nodeIDPrefix):], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid node identifier %q", ErrMalformed, s)
	}
	return NodeID(v), nil
}

// unquoteDot strips the surrounding quotes of a quoted DOT value and
// undoes \" escapes. Unquoted identifiers pass through unchanged.
func unquoteDot(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}

func attrMap(attrs []*ast.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = unquoteDot(a.Val)
	}
	return m
}

func parseUintAttr(attrs map[string]string, key string) (uint32, error) {
	s, ok := attrs[key]
	if !ok || s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: attribute %s=%q is not an integer", ErrMalformed, key, s)
	}
	return uint32(v), nil
}

// edgeEndpoints flattens a DOT edge statement (possibly a chain a->b->c)
// into consecutive endpoint pairs. Subgraph vertices are rejected; the
// upstream dumps never produce them.
func edgeEndpoints(stmt *ast.EdgeStmt) ([][2]string, error) {
	var ids []string
	vertex := stmt.From
	for e := stmt.To; ; e = e.To {
		n, ok := vertex.(*ast.Node)
		if !ok {
			return nil, fmt.Errorf("%w: subgraph edge endpoint", ErrMalformed)
		}
		ids = append(ids, n.ID)
		if e == nil {
			break
		}
		vertex = e.Vertex
	}
	pairs := make([][2]string, 0, len(ids)-1)
	for i := 0; i+1 < len(ids); i++ {
		pairs = append(pairs, [2]string{ids[i], ids[i+1]})
	}
	return pairs, nil
}

// LoadICFG parses a processed ICFG dump and returns the frozen graph view.
func LoadICFG(path string) (*ICFG, error) {
	file, err := dot.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing ICFG dump %s: %v", ErrIO, path, err)
	}
	if len(file.Graphs) != 1 {
		return nil, fmt.Errorf("%w: ICFG dump %s holds %d graphs, want 1", ErrMalformed, path, len(file.Graphs))
	}

	g := newICFG()
	for _, stmt := range file.Graphs[0].Stmts {
		switch s := stmt.(type) {
		case *ast.NodeStmt:
			id, err := parseDotNodeID(s.Node.ID)
			if err != nil {
				return nil, err
			}
			attrs := attrMap(s.Attrs)
			kindStr, ok := attrs["type"]
			if !ok {
				return nil, fmt.Errorf("%w: node %s has no type attribute", ErrMalformed, s.Node.ID)
			}
			kind, err := parseNodeKind(kindStr)
			if err != nil {
				return nil, err
			}
			n := &Node{ID: id, Kind: kind, Fn: attrs["function"]}
			if kind != KindGlobal {
				line, err := parseUintAttr(attrs, "line")
				if err != nil {
					return nil, err
				}
				column, err := parseUintAttr(attrs, "column")
				if err != nil {
					return nil, err
				}
				n.Loc = newLocation(attrs["file"], line, column)
			}
			if corres, ok := attrs["corres"]; ok {
				cid, err := parseDotNodeID(corres)
				if err != nil {
					return nil, err
				}
				n.Corres = cid
			}
			n.Extern = attrs["extern"] == "true"
			if err := g.addNode(n); err != nil {
				return nil, err
			}
		case *ast.EdgeStmt:
			pairs, err := edgeEndpoints(s)
			if err != nil {
				return nil, err
			}
			for _, p := range pairs {
				from, err := parseDotNodeID(p[0])
				if err != nil {
					return nil, err
				}
				to, err := parseDotNodeID(p[1])
				if err != nil {
					return nil, err
				}
				g.addEdge(from, to)
			}
		}
	}
	if err := g.finish(); err != nil {
		return nil, err
	}

	// Every FunCall must pair with a FunRet that is a direct successor.
	for _, id := range g.Nodes() {
		n := g.Node(id)
		if n.Kind != KindFunCall {
			continue
		}
		ret := g.Node(n.Corres)
		if ret == nil || ret.Kind != KindFunRet {
			return nil, fmt.Errorf("%w: call node %d has no paired ret", ErrMalformed, id)
		}
	}
	log.Debugf("loaded ICFG: %d nodes", len(g.Nodes()))
	return g, nil
}

// CallGraphDump is the processed PTA call graph: per-function extern flags
// plus the resolved direct/indirect edges.
type CallGraphDump struct {
	Extern map[string]bool
	Edges  []CallEdge
}

// CallEdge is one caller→callee edge. Callsite names the unresolved
// FunCall node for indirect edges, 0 for direct ones.
type CallEdge struct {
	Caller   string
	Callee   string
	Indirect bool
	Callsite NodeID
}

// LoadCallGraph parses a processed call-graph dump.
func LoadCallGraph(path string) (*CallGraphDump, error) {
	file, err := dot.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing call graph dump %s: %v", ErrIO, path, err)
	}
	if len(file.Graphs) != 1 {
		return nil, fmt.Errorf("%w: call graph dump %s holds %d graphs, want 1", ErrMalformed, path, len(file.Graphs))
	}

	cg := &CallGraphDump{Extern: make(map[string]bool)}
	fnByNode := make(map[string]string)
	var edgeStmts []*ast.EdgeStmt
	for _, stmt := range file.Graphs[0].Stmts {
		switch s := stmt.(type) {
		case *ast.NodeStmt:
			attrs := attrMap(s.Attrs)
			fn, ok := attrs["function"]
			if !ok {
				return nil, fmt.Errorf("%w: call graph node %s has no function attribute", ErrMalformed, s.Node.ID)
			}
			fnByNode[s.Node.ID] = fn
			if attrs["extern"] == "true" {
				cg.Extern[fn] = true
			}
		case *ast.EdgeStmt:
			edgeStmts = append(edgeStmts, s)
		}
	}
	for _, s := range edgeStmts {
		pairs, err := edgeEndpoints(s)
		if err != nil {
			return nil, err
		}
		attrs := attrMap(s.Attrs)
		edge := CallEdge{Indirect: attrs["indirect"] == "true"}
		if cs, ok := attrs["callsite"]; ok {
			id, err := parseDotNodeID(cs)
			if err != nil {
				return nil, err
			}
			edge.Callsite = id
		}
		for _, p := range pairs {
			caller, ok := fnByNode[p[0]]
			if !ok {
				return nil, fmt.Errorf("%w: call graph edge from undeclared node %s", ErrMalformed, p[0])
			}
			callee, ok := fnByNode[p[1]]
			if !ok {
				return nil, fmt.Errorf("%w: call graph edge to undeclared node %s", ErrMalformed, p[1])
			}
			e := edge
			e.Caller, e.Callee = caller, callee
			cg.Edges = append(cg.Edges, e)
		}
	}
	return cg, nil
}

// ResolveIndirectCalls splices the call graph's indirect edges into the
// ICFG: each resolved indirect call site gains an edge to the callee's
// entry, and the callee's exit gains an edge to the site's paired ret.
// Must run before any distance analysis.
func ResolveIndirectCalls(g *ICFG, cg *CallGraphDump) error {
	for fn := range cg.Extern {
		if entry := g.Entry(fn); entry != 0 {
			g.Node(entry).Extern = true
		}
	}
	spliced := 0
	for _, e := range cg.Edges {
		if !e.Indirect {
			continue
		}
		if e.Callsite == 0 {
			return fmt.Errorf("%w: indirect call edge %s -> %s has no callsite", ErrMalformed, e.Caller, e.Callee)
		}
		call := g.Node(e.Callsite)
		if call == nil || call.Kind != KindFunCall {
			return fmt.Errorf("%w: callsite %d of %s -> %s is not a call node", ErrMalformed, e.Callsite, e.Caller, e.Callee)
		}
		entry := g.Entry(e.Callee)
		if entry == 0 {
			// Callee has no body in the analyzed modules; the site keeps
			// its extern treatment.
			log.Debugf("indirect callee %s has no entry node, skipping", e.Callee)
			continue
		}
		g.addEdge(e.Callsite, entry)
		if exit, ret := g.Exit(e.Callee), g.PairedRet(e.Callsite); exit != 0 && ret != 0 {
			g.addEdge(exit, ret)
		}
		spliced++
	}
	if spliced > 0 {
		// New adjacency entries must keep the deterministic order.
		if err := g.finish(); err != nil {
			return err
		}
	}
	log.Debugf("resolved %d indirect call sites", spliced)
	return nil
}
