package main

import "sort"

// buildSimpleCallGraph derives the function-level call map from the ICFG:
// for every non-extern FunEntry a set of callee entries. Extern and
// intrinsic functions are absent from the map entirely, which is how
// later passes detect them.
func buildSimpleCallGraph(g *ICFG) map[NodeID]map[NodeID]bool {
	scg := make(map[NodeID]map[NodeID]bool)
	for _, id := range g.Nodes() {
		callee := g.Node(id)
		if callee.Kind != KindFunEntry || callee.Extern {
			continue
		}
		if scg[id] == nil {
			scg[id] = make(map[NodeID]bool)
		}
		for _, pred := range g.In(id) {
			if g.Node(pred).Kind != KindFunCall {
				continue
			}
			caller := g.Entry(g.Node(pred).Fn)
			if caller == 0 {
				continue
			}
			if scg[caller] == nil {
				scg[caller] = make(map[NodeID]bool)
			}
			scg[caller][id] = true
		}
	}
	return scg
}

// sortedKeys returns a set's members in ascending order, giving traversals
// over the call graph a fixed order across runs.
func sortedKeys(set map[NodeID]bool) []NodeID {
	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
