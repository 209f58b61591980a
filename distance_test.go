package main

import "testing"

// Single function, single target: Entry → A → Target → B → Exit.
func buildStraightLine(t *testing.T) (*ICFG, TargetLocation) {
	b := newGraphBuilder(t)
	entry, exit := b.fn("f", "src/a.c", 1, 5)
	a := b.node(KindIntra, "f", "src/a.c", 2)
	tgt := b.node(KindIntra, "f", "src/a.c", 3)
	bb := b.node(KindIntra, "f", "src/a.c", 4)
	b.edge(b.g.Global(), entry)
	b.edge(entry, a)
	b.edge(a, tgt)
	b.edge(tgt, bb)
	b.edge(bb, exit)
	return b.done(), target("src/a.c", 3)
}

func TestCallRecordStraightLine(t *testing.T) {
	g, tgt := buildStraightLine(t)
	a := newTestAnalysis(t, g, tgt)
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	if err := a.checkCallRecords(); err != nil {
		t.Fatal(err)
	}
	rec, ok := a.callDist["f"]
	if !ok {
		t.Fatal("no record for f")
	}
	if rec.IntraExit != 5 {
		t.Errorf("intraExit: got %d, want 5", rec.IntraExit)
	}
	wantVec(t, rec.Vec, 3)
}

func TestForwardBlocksStraightLine(t *testing.T) {
	g, tgt := buildStraightLine(t)
	a := newTestAnalysis(t, g, tgt)
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	if err := a.CalculateForwardBlocks(); err != nil {
		t.Fatal(err)
	}

	// IDs follow creation order: 2=entry, 3=exit, 4=A, 5=Target, 6=B.
	wantVec(t, a.blockDist[5], 0) // target resets to 0 in the chain walk
	wantVec(t, a.blockDist[4], 1)
	wantVec(t, a.blockDist[2], 2)
	wantVec(t, a.blockDist[6], -1) // past the target, unreachable forward
	wantVec(t, a.blockDist[3], -1)
}

// External call: Entry → Call(ext) → Ret → Target → Exit. The call has no
// callee entry successor, so the paired ret costs the extern constant.
func TestCallRecordExternCall(t *testing.T) {
	b := newGraphBuilder(t)
	entry, exit := b.fn("f", "src/a.c", 1, 9)
	call, ret := b.callPair("f", "src/a.c", 3)
	tgt := b.node(KindIntra, "f", "src/a.c", 5)
	b.edge(b.g.Global(), entry)
	b.edge(entry, call)
	b.edge(ret, tgt)
	b.edge(tgt, exit)
	g := b.done()

	a := newTestAnalysis(t, g, target("src/a.c", 5))
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	rec := a.callDist["f"]
	// entry=1, call=2, ret=2+30, target=33, exit=34.
	wantVec(t, rec.Vec, 33)
	if rec.IntraExit != 34 {
		t.Errorf("intraExit: got %d, want 34", rec.IntraExit)
	}
}

// Mutual recursion: f calls g, g calls f, the target sits in g at
// intra-distance 2. The DFS enters from f, so g is processed first and
// records the broken back edge with the recursive-call constant; f then
// composes with g's finished record.
func TestCallRecordRecursion(t *testing.T) {
	b := newGraphBuilder(t)
	entryF, exitF := b.fn("f", "src/f.c", 1, 9)
	entryG, exitG := b.fn("g", "src/g.c", 1, 9)

	callF, retF := b.callPair("f", "src/f.c", 3) // f's call to g
	b.edge(entryF, callF)
	b.edge(callF, entryG)
	b.edge(exitG, retF)
	b.edge(retF, exitF)

	tgt := b.node(KindIntra, "g", "src/g.c", 4)
	callG, retG := b.callPair("g", "src/g.c", 5) // g's call to f
	b.edge(entryG, tgt)
	b.edge(tgt, callG)
	b.edge(callG, entryF)
	b.edge(exitF, retG)
	b.edge(retG, exitG)

	b.edge(b.g.Global(), entryF)
	g := b.done()

	a := newTestAnalysis(t, g, target("src/g.c", 4))
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}

	// g first: entry=1, target=2, call=3, ret=3+25 (recursion-broken),
	// exit=29.
	recG := a.callDist["g"]
	wantVec(t, recG.Vec, 2)
	if recG.IntraExit != 29 {
		t.Errorf("g intraExit: got %d, want 29", recG.IntraExit)
	}

	// f then composes g's record at its call site: entry=1, call=2,
	// target via g = 2+2, ret = 2+29, exit = 32.
	recF := a.callDist["f"]
	wantVec(t, recF.Vec, 4)
	if recF.IntraExit != 32 {
		t.Errorf("f intraExit: got %d, want 32", recF.IntraExit)
	}
}

// A callee whose exit is unreachable cannot be passed through: the caller
// still records target distances composed at the call site, but the path
// beyond the paired ret only exists via other successors.
func TestCallRecordNoExitCallee(t *testing.T) {
	b := newGraphBuilder(t)
	entryF, exitF := b.fn("f", "src/f.c", 1, 9)
	entryG, _ := b.fn("g", "src/g.c", 1, 9)
	tgtG := b.node(KindIntra, "g", "src/g.c", 3)
	b.edge(entryG, tgtG) // g never reaches its exit

	callF, retF := b.callPair("f", "src/f.c", 4)
	after := b.node(KindIntra, "f", "src/f.c", 5)
	b.edge(entryF, callF)
	b.edge(callF, entryG)
	b.edge(retF, after)
	b.edge(after, exitF)

	b.edge(b.g.Global(), entryF)
	g := b.done()

	a := newTestAnalysis(t, g, target("src/g.c", 3))
	if err := a.CalculateCallRecords(); err != nil {
		t.Fatal(err)
	}
	recG := a.callDist["g"]
	if recG.IntraExit != noExit {
		t.Errorf("g intraExit: got %d, want the no-exit sentinel", recG.IntraExit)
	}
	wantVec(t, recG.Vec, 2)

	// f still sees the target through the call site (2 + g's 2), and the
	// extern-style ret path keeps the exit reachable.
	recF := a.callDist["f"]
	wantVec(t, recF.Vec, 4)
	if recF.IntraExit != 34 { // entry=1, call=2, ret=32, after=33, exit=34
		t.Errorf("f intraExit: got %d, want 34", recF.IntraExit)
	}
}

func TestSimpleCallGraph(t *testing.T) {
	b := newGraphBuilder(t)
	entryF, _ := b.fn("f", "src/f.c", 1, 9)
	entryG, _ := b.fn("g", "src/g.c", 1, 9)
	entryExt, _ := b.fn("ext", "", 0, 0)
	b.g.Node(entryExt).Extern = true

	callFG, _ := b.callPair("f", "src/f.c", 3)
	b.edge(entryF, callFG)
	b.edge(callFG, entryG)
	callFE, _ := b.callPair("f", "src/f.c", 4)
	b.edge(callFE, entryExt)

	b.edge(b.g.Global(), entryF)
	g := b.done()

	scg := buildSimpleCallGraph(g)
	if _, ok := scg[entryExt]; ok {
		t.Error("extern entry must be absent from the simple call graph")
	}
	if !scg[entryF][entryG] {
		t.Error("missing f → g")
	}
	if len(scg[entryG]) != 0 {
		t.Errorf("g should have no callees, got %v", scg[entryG])
	}
}
