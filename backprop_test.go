package main

import "testing"

// Multi-caller exit: back-propagation populates bt for the callee's body
// but leaves df at whatever forward BFS produced.
func TestBackPropMultiCallerExit(t *testing.T) {
	b := newGraphBuilder(t)
	entryF, exitF := b.fn("f", "src/f.c", 1, 9)
	aa := b.node(KindIntra, "f", "src/f.c", 2)
	b.edge(entryF, aa)
	b.edge(aa, exitF)

	entryM, exitM := b.fn("main", "src/m.c", 1, 9)
	call1, ret1 := b.callPair("main", "src/m.c", 3)
	call2, ret2 := b.callPair("main", "src/m.c", 4)
	tgtM := b.node(KindIntra, "main", "src/m.c", 8)
	b.edge(entryM, call1)
	b.edge(call1, entryF)
	b.edge(exitF, ret1)
	b.edge(ret1, call2)
	b.edge(call2, entryF)
	b.edge(exitF, ret2)
	b.edge(ret2, tgtM)
	b.edge(tgtM, exitM)

	b.edge(b.g.Global(), entryM)
	g := b.done()

	a := newTestAnalysis(t, g, target("src/m.c", 8))
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	if err := a.CalculateForwardBlocks(); err != nil {
		t.Fatal(err)
	}
	if err := a.FinalizeBlocks(); err != nil {
		t.Fatal(err)
	}

	// Forward pass in main: the two return sites see the target at 6 and
	// 1 edges; f's body sees nothing forward.
	wantVec(t, a.blockDist[ret1], 6)
	wantVec(t, a.blockDist[ret2], 1)
	wantVec(t, a.blockDist[aa], -1)
	wantVec(t, a.blockDist[exitF], -1)

	// bt seeds from the better return site (1) and tightens backwards
	// through f's body; df stays untouched because the exit fans out.
	wantVec(t, a.pseudoDist[exitF], 2)
	wantVec(t, a.pseudoDist[aa], 3)
	wantVec(t, a.blockDist[aa], -1)

	// Invariant: bt ≤ df wherever bt is known (df may be -1).
	for id, bt := range a.pseudoDist {
		df, ok := a.blockDist[id]
		if !ok {
			continue
		}
		for i := range bt {
			if bt[i] >= 0 && df[i] >= 0 && bt[i] > df[i] {
				t.Errorf("node %d: bt %v exceeds df %v", id, bt, df)
			}
		}
	}
}

// Single-caller exit: df entries unknown after the forward pass are
// filled (not tightened) from the caller-side seed.
func TestBackPropSingleCallerFillsDf(t *testing.T) {
	b := newGraphBuilder(t)
	entryF, exitF := b.fn("f", "src/f.c", 1, 9)
	aa := b.node(KindIntra, "f", "src/f.c", 2)
	b.edge(entryF, aa)
	b.edge(aa, exitF)

	entryM, exitM := b.fn("main", "src/m.c", 1, 9)
	call1, ret1 := b.callPair("main", "src/m.c", 3)
	tgtM := b.node(KindIntra, "main", "src/m.c", 8)
	b.edge(entryM, call1)
	b.edge(call1, entryF)
	b.edge(exitF, ret1)
	b.edge(ret1, tgtM)
	b.edge(tgtM, exitM)

	b.edge(b.g.Global(), entryM)
	g := b.done()

	a := newTestAnalysis(t, g, target("src/m.c", 8))
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	if err := a.CalculateForwardBlocks(); err != nil {
		t.Fatal(err)
	}

	wantVec(t, a.blockDist[ret1], 1)
	wantVec(t, a.blockDist[aa], -1)

	if err := a.FinalizeBlocks(); err != nil {
		t.Fatal(err)
	}

	// The sole return site is 1 away from the target; the reverse walk
	// adds its own edge count.
	wantVec(t, a.blockDist[exitF], 2)
	wantVec(t, a.blockDist[aa], 3)
	wantVec(t, a.pseudoDist[exitF], 2)
	wantVec(t, a.pseudoDist[aa], 3)
}

// Functions unreachable from the global node are still processed via the
// dynamic set, in both engines.
func TestDynamicSetDrained(t *testing.T) {
	b := newGraphBuilder(t)
	entryF, exitF := b.fn("f", "src/f.c", 1, 5)
	tgtF := b.node(KindIntra, "f", "src/f.c", 3)
	b.edge(entryF, tgtF)
	b.edge(tgtF, exitF)
	b.edge(b.g.Global(), entryF)

	// orphan is never called and not a start function.
	entryO, exitO := b.fn("orphan", "src/o.c", 1, 5)
	b.edge(entryO, exitO)
	g := b.done()

	a := newTestAnalysis(t, g, target("src/f.c", 3))
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	if err := a.checkCallRecords(); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.callDist["orphan"]; !ok {
		t.Fatal("orphan has no call record")
	}
	if err := a.CalculateForwardBlocks(); err != nil {
		t.Fatal(err)
	}
	if err := a.FinalizeBlocks(); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.blockDist[entryO]; !ok {
		t.Error("orphan body missing from the forward block map")
	}
}
