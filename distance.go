package main

import (
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
)

// noExit marks a function whose exit was never reached by forward BFS.
const noExit = math.MaxUint32

// CallRecord memoizes one function's forward result: the minimum
// intra-procedural distance from its entry to its exit, and the distance
// vector from its entry to each target. Records are keyed by function
// name so the same function reached through different call sites reuses
// its record.
type CallRecord struct {
	IntraExit uint32
	Vec       DistVec
}

// Analysis owns the per-run state: the graph, the resolved targets and
// the distance maps the engines fill in.
type Analysis struct {
	g       *ICFG
	targets []TargetLocation

	// targetNodes[i] holds every node matching target i.
	targetNodes []map[NodeID]bool

	// scg is the simplified call graph: function entry → callee entries.
	scg map[NodeID]map[NodeID]bool

	// callDist is filled sequentially by the call-record DFS, read-only
	// afterwards.
	callDist map[string]CallRecord

	// blockDist (df) is merged concurrently by forward-pass tasks under
	// blockDistMu, then refined single-threaded by back-propagation.
	blockDist   map[NodeID]DistVec
	blockDistMu sync.Mutex

	// pseudoDist (bt) is filled by back-propagation only.
	pseudoDist map[NodeID]DistVec

	projRoot string
	relCache map[string]string

	externDist    int32
	recursiveDist int32
	workers       int

	prog *Progress
}

// NewAnalysis resolves targets against the graph and prepares all engine
// state. T must be in [1, 64]; LoadTargets enforces the upper bound and
// the non-empty lower bound.
func NewAnalysis(g *ICFG, targets []TargetLocation, projRoot string, cfg Config, prog *Progress) (*Analysis, error) {
	if len(targets) == 0 || len(targets) > maxTargetCount {
		return nil, fmt.Errorf("%w: target count %d outside [1, %d]", ErrPrecondition, len(targets), maxTargetCount)
	}
	targetNodes, err := resolveTargetNodes(g, targets)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		g:             g,
		targets:       targets,
		targetNodes:   targetNodes,
		scg:           buildSimpleCallGraph(g),
		callDist:      make(map[string]CallRecord),
		blockDist:     make(map[NodeID]DistVec),
		pseudoDist:    make(map[NodeID]DistVec),
		projRoot:      projRoot,
		relCache:      make(map[string]string),
		externDist:    cfg.ExternCallDist,
		recursiveDist: cfg.RecursiveCallDist,
		workers:       cfg.Workers,
		prog:          prog,
	}, nil
}

func (a *Analysis) targetCount() int { return len(a.targets) }

// CalculateCallRecords runs the forward distance engine over the
// simplified call graph: callees first (DFS, recursion-broken), then an
// intra-procedural BFS per function that composes memoized callee
// records at call sites.
func (a *Analysis) CalculateCallRecords() error {
	a.prog.Phase(uint64(len(a.scg)), "Calculating distances for function calls")

	dyn := make(map[NodeID]bool, len(a.scg))
	for entry := range a.scg {
		dyn[entry] = true
	}
	inProgress := make(map[NodeID]bool)

	for _, succ := range a.g.Out(a.g.Global()) {
		if a.g.Node(succ).Kind == KindFunEntry {
			if err := a.calcCallRecord(succ, inProgress, dyn); err != nil {
				return err
			}
		}
	}

	// Entries never reached from the global node (dynamic set), drained
	// in ascending ID order for reproducible runs.
	for len(dyn) > 0 {
		if err := a.calcCallRecord(sortedKeys(dyn)[0], inProgress, dyn); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analysis) calcCallRecord(entry NodeID, inProgress, dyn map[NodeID]bool) error {
	n := a.g.Node(entry)
	if n == nil || n.Kind != KindFunEntry {
		return fmt.Errorf("%w: node %d is not a function entry", ErrInternal, entry)
	}
	delete(dyn, entry)

	// Recursion cycle: the entry is already on the DFS stack. Its record
	// is absent at the BFS below, which applies the recursive-call
	// constant instead.
	if inProgress[entry] {
		return nil
	}
	// Extern/intrinsic functions have no call-graph entry and no record.
	if _, ok := a.scg[entry]; !ok {
		return nil
	}
	if _, ok := a.callDist[n.Fn]; ok {
		return nil
	}
	inProgress[entry] = true
	defer delete(inProgress, entry)

	// Callees first.
	for _, callee := range sortedKeys(a.scg[entry]) {
		if callee == entry {
			continue
		}
		if _, ok := a.scg[callee]; !ok {
			continue
		}
		if _, ok := a.callDist[a.g.Node(callee).Fn]; !ok {
			if err := a.calcCallRecord(callee, inProgress, dyn); err != nil {
				return err
			}
		}
	}

	rec, err := a.forwardBFS(entry, false)
	if err != nil {
		return err
	}
	a.callDist[n.Fn] = rec
	a.prog.Tick(n.Fn)
	return nil
}

// forwardBFS runs the intra-procedural forward BFS from start with
// distance 1. With perNode=false it is the call-record BFS (targets hit
// at every node kind, intra-exit tracked); with perNode=true it is the
// per-node block BFS (FunRet nodes never count as target hits, no
// intra-exit). The call-site composition rules are shared: an extern
// successor costs externDist, a memoized callee merges its vector and
// costs its intra-exit, a recursion-broken callee costs recursiveDist.
func (a *Analysis) forwardBFS(start NodeID, perNode bool) (CallRecord, error) {
	intra := uint32(noExit)
	dist := newDistVec(a.targetCount())
	var exit NodeID
	if !perNode {
		exit = a.g.Exit(a.g.Node(start).Fn)
	}

	type item struct {
		id NodeID
		d  int32
	}
	queue := []item{{start, 1}}
	visited := make(map[NodeID]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := a.g.Node(cur.id)
		if n == nil {
			return CallRecord{}, fmt.Errorf("%w: edge to unknown node %d", ErrInternal, cur.id)
		}
		if n.Kind == KindGlobal {
			return CallRecord{}, fmt.Errorf("%w: global node %d inside a function body", ErrInternal, cur.id)
		}
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true

		for i := range a.targetNodes {
			if a.targetNodes[i][cur.id] {
				if perNode && n.Kind == KindFunRet {
					continue
				}
				if dist[i] < 0 || cur.d < dist[i] {
					dist[i] = cur.d
				}
			}
		}

		switch n.Kind {
		case KindFunExit:
			// The exit's successors are return sites in callers; the BFS
			// never crosses them.
			if !perNode && cur.id == exit && uint32(cur.d) < intra {
				intra = uint32(cur.d)
			}
		case KindFunCall:
			// Collapse the call: only the paired ret is enqueued, with
			// the cheapest composite distance any successor offers.
			ret := a.g.PairedRet(cur.id)
			best := int32(-1)
			for _, succ := range a.g.Out(cur.id) {
				nd := cur.d
				switch a.g.Node(succ).Kind {
				case KindFunRet:
					nd += a.externDist
				case KindFunEntry:
					if rec, ok := a.callDist[a.g.Node(succ).Fn]; ok {
						mergeLesser(dist, rec.Vec, cur.d)
						if rec.IntraExit == noExit {
							// The callee never returns; this path cannot
							// pass through it.
							continue
						}
						nd += int32(rec.IntraExit)
					} else {
						nd += a.recursiveDist
					}
				default:
					continue
				}
				if best < 0 || nd < best {
					best = nd
				}
			}
			if best >= 0 {
				queue = append(queue, item{ret, best})
			}
		default:
			for _, succ := range a.g.Out(cur.id) {
				queue = append(queue, item{succ, cur.d + 1})
			}
		}
	}
	return CallRecord{IntraExit: intra, Vec: dist}, nil
}

// CalculateForwardBlocks computes the forward (df) distance vector of
// every node, one pool task per function in the simplified call graph.
// Tasks share the block-distance map under its mutex; the merge is the
// element-wise minimum, so task order is irrelevant to the result.
func (a *Analysis) CalculateForwardBlocks() error {
	a.prog.Phase(uint64(len(a.scg)), "Calculating pre-completion distances for blocks")

	pool := NewPool(a.workers)
	var (
		errMu    sync.Mutex
		firstErr error
	)
	handles := make([]*TaskHandle, 0, len(a.scg))
	entries := make(map[NodeID]bool, len(a.scg))
	for entry := range a.scg {
		entries[entry] = true
	}
	for _, entry := range sortedKeys(entries) {
		handles = append(handles, pool.Submit(func() {
			if err := a.forwardBlocksOf(entry); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}))
	}
	for _, h := range handles {
		h.Wait()
	}
	pool.Shutdown()
	return firstErr
}

// forwardBlocksOf walks one function body. Maximal single-in/single-out
// chains are computed once at the chain tail and back-filled in reverse:
// each step towards the chain head adds one edge to every known entry,
// and a target node resets its own entry to 0.
func (a *Analysis) forwardBlocksOf(entry NodeID) error {
	queue := []NodeID{entry}
	visited := make(map[NodeID]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		var chain []NodeID
		if len(a.g.Out(cur)) == 1 {
			tmp := cur
			for {
				kind := a.g.Node(tmp).Kind
				if kind == KindFunExit || kind == KindFunCall {
					break
				}
				chain = append(chain, tmp)
				tmp = a.g.Out(tmp)[0]
				visited[tmp] = true
				if len(a.g.Out(tmp)) != 1 || len(a.g.In(tmp)) != 1 {
					break
				}
			}
			cur = tmp
		}

		var result DistVec
		a.blockDistMu.Lock()
		if v, ok := a.blockDist[cur]; ok {
			result = v.clone()
		}
		a.blockDistMu.Unlock()
		if result == nil {
			rec, err := a.forwardBFS(cur, true)
			if err != nil {
				return err
			}
			result = rec.Vec
			a.blockDistMu.Lock()
			a.blockDist[cur] = result.clone()
			a.blockDistMu.Unlock()
		}

		for i := len(chain) - 1; i >= 0; i-- {
			id := chain[i]
			for t := range result {
				if result[t] >= 0 {
					result[t]++
				}
				if a.targetNodes[t][id] {
					result[t] = 0
				}
			}
			a.blockDistMu.Lock()
			a.blockDist[id] = result.clone()
			a.blockDistMu.Unlock()
		}

		switch a.g.Node(cur).Kind {
		case KindFunExit:
			// Stop at the function boundary.
		case KindFunCall:
			queue = append(queue, a.g.PairedRet(cur))
		default:
			queue = append(queue, a.g.Out(cur)...)
		}
	}
	a.prog.Tick(a.g.Node(entry).Fn)
	return nil
}

// checkCallRecords verifies the post-condition of the forward engine:
// every function in the simplified call graph has a record.
func (a *Analysis) checkCallRecords() error {
	for entry := range a.scg {
		fn := a.g.Node(entry).Fn
		if _, ok := a.callDist[fn]; !ok {
			return fmt.Errorf("%w: no call record for %s", ErrInternal, fn)
		}
	}
	log.Debugf("%d call records", len(a.callDist))
	return nil
}
