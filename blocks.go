package main

import (
	"os"
	"strings"
)

// relSourcePath normalizes a node's file path for emission: leading "."
// and ".." components are stripped; if the stripped path exists as a file
// under the project root it is kept, otherwise only the base filename is
// emitted. Results are cached per input path.
func (a *Analysis) relSourcePath(file string, chunks []string) string {
	if file == "" {
		return ""
	}
	if rel, ok := a.relCache[file]; ok {
		return rel
	}

	pos := 0
	for pos < len(chunks) && (chunks[pos] == "." || chunks[pos] == "..") {
		pos++
	}
	if pos >= len(chunks) {
		a.relCache[file] = ""
		return ""
	}

	rel := strings.Join(chunks[pos:], "/")
	full := a.projRoot + "/" + rel
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		rel = chunks[len(chunks)-1]
	}
	a.relCache[file] = rel
	return rel
}

// blockTable maps a relative source path to line → distance vector.
type blockTable map[string]map[uint32]DistVec

func (t blockTable) merge(file string, line uint32, v DistVec) {
	lines, ok := t[file]
	if !ok {
		lines = make(map[uint32]DistVec)
		t[file] = lines
	}
	if existing, ok := lines[line]; ok {
		mergeLesser(existing, v, 0)
	} else {
		lines[line] = v.clone()
	}
}

// projectBlocks collapses a node-indexed distance map onto source lines
// with the element-wise minimum. Nodes without a file are dropped; with
// requireLine, nodes on line 0 are dropped too (the basic-block tables
// require a real line, the node-level tables do not).
func (a *Analysis) projectBlocks(dist map[NodeID]DistVec, requireLine bool) blockTable {
	table := make(blockTable)
	for id, v := range dist {
		n := a.g.Node(id)
		if n == nil {
			continue
		}
		if requireLine && n.Loc.Line == 0 {
			continue
		}
		file := a.relSourcePath(n.Loc.File, n.Loc.chunks)
		if file == "" {
			continue
		}
		table.merge(file, n.Loc.Line, v)
	}
	return table
}

// finalTable combines the df and bt basic-block tables: the forward
// distance where known, the backtrace distance as fallback.
func finalTable(df, bt blockTable) blockTable {
	final := make(blockTable)
	for file, lines := range df {
		for line, v := range lines {
			final.merge(file, line, v)
		}
	}
	for file, lines := range bt {
		for line, v := range lines {
			if existing, ok := final[file][line]; ok {
				fillNonNegative(existing, v)
			} else {
				final.merge(file, line, v)
			}
		}
	}
	return final
}

// distanceSamples collects, per target, the non-negative distances of the
// df basic-block table; they feed the distribution engine.
func distanceSamples(table blockTable, targetCount int) [][]uint32 {
	samples := make([][]uint32, targetCount)
	for _, lines := range table {
		for _, v := range lines {
			for i := 0; i < targetCount; i++ {
				if v[i] >= 0 {
					samples[i] = append(samples[i], uint32(v[i]))
				}
			}
		}
	}
	return samples
}
