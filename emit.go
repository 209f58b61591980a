package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Artifact file names, fixed by the downstream instrumentation pass and
// the fuzzer runtime.
const (
	callDistFileName     = "calls.distance.json"
	preBlockDistFileName = "blocks.distance.pre.json"
	dfBlockDistFileName  = "blocks.distance.df.json"
	btBlockDistFileName  = "blocks.distance.bt.json"
	dfBBDistFileName     = "bb.distance.df.json"
	btBBDistFileName     = "bb.distance.bt.json"
	finalBBDistFileName  = "bb.distance.final.json"
	targetInfoFileName   = "target.info.json"
)

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrIO, path, err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %v", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIO, path, err)
	}
	return nil
}

// EmitCallDistances writes the per-target node sets and the call-record
// map. encoding/json sorts map keys, giving the stable emit order the
// idempotence property asks for.
func (a *Analysis) EmitCallDistances(outDir string) error {
	targetNodes := make([][]NodeID, len(a.targetNodes))
	for i, set := range a.targetNodes {
		targetNodes[i] = sortedKeys(set)
	}
	callDist := make(map[string][]any, len(a.callDist))
	for fn, rec := range a.callDist {
		callDist[fn] = []any{rec.IntraExit, rec.Vec}
	}
	root := map[string]any{
		"TargetNodes":   targetNodes,
		"CallDistances": callDist,
	}
	return writeJSONFile(filepath.Join(outDir, callDistFileName), root)
}

// jsonBlockTable converts a block table to its emitted shape: relative
// source path → line (as string) → vector.
func jsonBlockTable(t blockTable) map[string]map[string]DistVec {
	out := make(map[string]map[string]DistVec, len(t))
	for file, lines := range t {
		m := make(map[string]DistVec, len(lines))
		for line, v := range lines {
			m[strconv.FormatUint(uint64(line), 10)] = v
		}
		out[file] = m
	}
	return out
}

// EmitNodeDistances projects a node-indexed map onto source lines and
// writes it (the blocks.distance.* family).
func (a *Analysis) EmitNodeDistances(outDir, name string, dist map[NodeID]DistVec) error {
	table := a.projectBlocks(dist, false)
	return writeJSONFile(filepath.Join(outDir, name), jsonBlockTable(table))
}

// EmitBlockTable writes an already-projected basic-block table (the
// bb.distance.* family).
func EmitBlockTable(outDir, name string, table blockTable) error {
	return writeJSONFile(filepath.Join(outDir, name), jsonBlockTable(table))
}

// targetInfo is one target's distribution summary.
type targetInfo struct {
	Method   string    `json:"Method"`
	Start    uint32    `json:"Start"`
	Quantile []float64 `json:"Quantile"`
	Weight   float64   `json:"Weight"`
}

// EmitTargetInfo summarizes the per-target df distance samples as either
// a fitted Gamma CDF (Estimation) or an empirical CDF (Frequency) and
// writes the fuzzer's target-info artifact.
func (a *Analysis) EmitTargetInfo(outDir string, dfTable blockTable, useDistrib, useMoments bool) error {
	samples := distanceSamples(dfTable, a.targetCount())
	infos := make([]targetInfo, a.targetCount())
	for i, data := range samples {
		if len(data) == 0 {
			return fmt.Errorf("%w: no finite distances for target %d", ErrStatistical, i)
		}
		info := targetInfo{Weight: a.targets[i].Weight}
		if useDistrib {
			sorted := make([]uint32, len(data))
			copy(sorted, data)
			sort.Slice(sorted, func(x, y int) bool { return sorted[x] < sorted[y] })
			var gamma GammaDist
			if err := gamma.Estimate(sorted, !useMoments); err != nil {
				return fmt.Errorf("target %d: %w", i, err)
			}
			q, err := gamma.CDFQuantile(sorted[0], sorted[len(sorted)-1])
			if err != nil {
				return fmt.Errorf("target %d: %w", i, err)
			}
			info.Method = "Estimation"
			info.Start = sorted[0]
			info.Quantile = q
		} else {
			start, q := empiricalQuantile(data)
			info.Method = "Frequency"
			info.Start = start
			info.Quantile = q
		}
		infos[i] = info
	}
	root := map[string]any{
		"TargetCount": a.targetCount(),
		"TargetInfo":  infos,
	}
	return writeJSONFile(filepath.Join(outDir, targetInfoFileName), root)
}
