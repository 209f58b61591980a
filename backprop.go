package main

import "fmt"

// FinalizeBlocks runs the back-propagation engine: for each function,
// distances seeded from the successors of its exit (its return sites in
// callers) are pushed backwards through the body. The forward map (df)
// is refined only where the exit has exactly one successor, and only by
// filling unknown entries; the backtrace map (bt) is tightened
// unconditionally. Functions are scheduled by BFS over the simplified
// call graph from the entry points, then the dynamic remainder.
func (a *Analysis) FinalizeBlocks() error {
	a.prog.Phase(uint64(len(a.scg)), "Calculating final distances for blocks")

	dyn := make(map[NodeID]bool, len(a.scg))
	for entry := range a.scg {
		dyn[entry] = true
	}

	var queue []NodeID
	for _, succ := range a.g.Out(a.g.Global()) {
		if a.g.Node(succ).Kind == KindFunEntry {
			queue = append(queue, succ)
		}
	}
	visited := make(map[NodeID]bool)

	for len(dyn) > 0 {
		if len(queue) == 0 {
			// Nothing reachable left; pull from the dynamic set,
			// preferring functions nothing ever calls.
			remaining := sortedKeys(dyn)
			next := remaining[0]
			for _, id := range remaining {
				if a.g.uncalled(id) {
					next = id
					break
				}
			}
			queue = append(queue, next)
		}
		for len(queue) > 0 {
			entry := queue[0]
			queue = queue[1:]
			if visited[entry] {
				continue
			}
			visited[entry] = true

			if err := a.backPropagate(entry, dyn); err != nil {
				return err
			}
			a.prog.Tick(a.g.Node(entry).Fn)

			queue = append(queue, sortedKeys(a.scg[entry])...)
		}
	}
	return nil
}

// backPropagate processes one function: reverse BFS from its exit over
// incoming edges, distance starting at 1, collapsing FunRet nodes onto
// their paired FunCall with an increment picked by the source of the
// incoming edge.
func (a *Analysis) backPropagate(entry NodeID, dyn map[NodeID]bool) error {
	delete(dyn, entry)

	exit := a.g.Exit(a.g.Node(entry).Fn)
	if exit == 0 {
		return nil
	}
	succs := a.g.Out(exit)
	if len(succs) == 0 {
		return nil
	}
	// When the exit fans out to several call sites, a single summarized
	// seed would lose call-site identity; df is refined only in the
	// unambiguous case and bt carries the ambiguous one.
	oneSuccessor := len(succs) == 1

	succDf := newDistVec(a.targetCount())
	succBt := newDistVec(a.targetCount())
	for _, s := range succs {
		if v, ok := a.blockDist[s]; ok {
			mergeLesser(succDf, v, 0)
			mergeLesser(succBt, v, 0)
		}
		if v, ok := a.pseudoDist[s]; ok {
			mergeLesser(succBt, v, 0)
		}
	}

	type item struct {
		id NodeID
		d  int32
	}
	queue := []item{{exit, 1}}
	visited := make(map[NodeID]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true

		n := a.g.Node(cur.id)
		if n.Kind == KindFunEntry {
			// Function boundary; the entry's predecessors are call sites
			// in callers.
			continue
		}

		tDf := succDf.clone()
		addDelta(tDf, cur.d)
		if oneSuccessor {
			if existing, ok := a.blockDist[cur.id]; ok {
				fillNonNegative(existing, tDf)
			} else {
				a.blockDist[cur.id] = tDf
			}
		}

		tBt := succBt.clone()
		addDelta(tBt, cur.d)
		if existing, ok := a.pseudoDist[cur.id]; ok {
			mergeLesser(existing, tBt, 0)
		} else {
			a.pseudoDist[cur.id] = tBt
		}

		if n.Kind == KindFunRet {
			call := a.g.PairedCall(cur.id)
			if call == 0 {
				return fmt.Errorf("%w: ret node %d has no paired call", ErrInternal, cur.id)
			}
			// Collapse onto the paired call with the cheapest increment
			// any incoming edge offers.
			best := int32(-1)
			for _, pred := range a.g.In(cur.id) {
				nd := cur.d
				switch a.g.Node(pred).Kind {
				case KindFunCall:
					// Extern/intrinsic call collapsed at the site.
					nd += a.externDist
				case KindFunExit:
					if rec, ok := a.callDist[a.g.Node(pred).Fn]; ok && rec.IntraExit != noExit {
						nd += int32(rec.IntraExit)
					} else {
						nd++
					}
				default:
					nd++
				}
				if best < 0 || nd < best {
					best = nd
				}
			}
			if best >= 0 {
				queue = append(queue, item{call, best})
			}
		} else {
			for _, pred := range a.g.In(cur.id) {
				queue = append(queue, item{pred, cur.d + 1})
			}
		}
	}
	return nil
}
