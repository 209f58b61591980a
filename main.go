package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// projRootEnv names the project root when -root is not given.
const projRootEnv = "FGO_PROJ_ROOT_DIR"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the real entry point; keeping it separate lets deferred cleanup
// execute on error paths, unlike os.Exit.
func run() error {
	icfgPath := flag.String("icfg", "", "Processed ICFG dump (.dot) from the pointer analysis")
	cgPath := flag.String("cg", "", "Processed call graph dump (.dot); enables indirect-call resolution")
	targetPath := flag.String("target", "", "Target file (JSON array or path:line lines)")
	rootDir := flag.String("root", "", "Project root directory (default: $"+projRootEnv+")")
	outDir := flag.String("out", "", "Output directory (default: current directory)")
	configPath := flag.String("config", "", "Optional analyzer.yml")
	dbPath := flag.String("db", "", "Optional SQLite artifact database path")
	dumpCallDist := flag.Bool("calldist", false, "Dump the distances for function calls")
	dumpBlockPre := flag.Bool("blockpredist", false, "Dump the pre-completion distances for blocks")
	dumpBlockDist := flag.Bool("blockdist", false, "Dump the final distances for blocks")
	noBBDist := flag.Bool("nondist", false, "Never dump the distances for basic blocks")
	useDistrib := flag.Bool("distrib", false, "Use the gamma-distribution estimation instead of the empirical CDF")
	useMoments := flag.Bool("moments", false, "Use the moment estimator instead of maximum likelihood")
	verbose := flag.Bool("verbose", false, "Print detailed progress and debug logs")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fgo-analyzer -icfg ICFG.dot -target TARGETS [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Computes per-basic-block distances to the given target locations\n")
		fmt.Fprintf(os.Stderr, "over an interprocedural control-flow graph, for directed fuzzing.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	emitBB := !*noBBDist
	if !*dumpCallDist && !*dumpBlockPre && !*dumpBlockDist && !emitBB {
		return fmt.Errorf("%w: nothing to do", ErrPrecondition)
	}

	if *icfgPath == "" {
		return fmt.Errorf("%w: no ICFG dump specified", ErrPrecondition)
	}
	if *targetPath == "" {
		return fmt.Errorf("%w: no target file specified", ErrPrecondition)
	}

	root := *rootDir
	if root == "" {
		root = os.Getenv(projRootEnv)
	}
	if root == "" {
		return fmt.Errorf("%w: no project root; pass -root or set %s", ErrPrecondition, projRootEnv)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: project root %s is not a directory", ErrPrecondition, root)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: resolving project root: %v", ErrIO, err)
	}

	out := *outDir
	if out == "" {
		if out, err = os.Getwd(); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	if info, err := os.Stat(out); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: output directory %s is not a directory", ErrPrecondition, out)
	}

	prog := NewProgress(*verbose)
	prog.Verbose("Project root: %s", root)
	prog.Verbose("Output directory: %s", out)

	// Phase 1: load the graph dumps and resolve indirect calls.
	prog.Log("Loading ICFG from %s", *icfgPath)
	g, err := LoadICFG(*icfgPath)
	if err != nil {
		return err
	}
	if *cgPath != "" {
		cg, err := LoadCallGraph(*cgPath)
		if err != nil {
			return err
		}
		if err := ResolveIndirectCalls(g, cg); err != nil {
			return err
		}
	} else {
		log.Warn("no call graph dump given; indirect calls stay unresolved")
	}

	// Phase 2: load targets and resolve them to ICFG nodes.
	targets, err := LoadTargets(*targetPath, root)
	if err != nil {
		return err
	}
	prog.Log("Loaded %d target(s)", len(targets))

	a, err := NewAnalysis(g, targets, root, cfg, prog)
	if err != nil {
		return err
	}

	// Phase 3: forward distance engine, call records first.
	if err := a.CalculateCallRecords(); err != nil {
		return err
	}
	if err := a.checkCallRecords(); err != nil {
		return err
	}
	if *dumpCallDist {
		if err := a.EmitCallDistances(out); err != nil {
			return err
		}
	}
	if !*dumpBlockPre && !*dumpBlockDist && !emitBB {
		return nil
	}

	// Phase 4: forward per-node distances (parallel).
	if err := a.CalculateForwardBlocks(); err != nil {
		return err
	}
	if *dumpBlockPre {
		if err := a.EmitNodeDistances(out, preBlockDistFileName, a.blockDist); err != nil {
			return err
		}
	}
	if !*dumpBlockDist && !emitBB {
		return nil
	}

	// Phase 5: back-propagation.
	if err := a.FinalizeBlocks(); err != nil {
		return err
	}
	if *dumpBlockDist {
		if err := a.EmitNodeDistances(out, dfBlockDistFileName, a.blockDist); err != nil {
			return err
		}
		if err := a.EmitNodeDistances(out, btBlockDistFileName, a.pseudoDist); err != nil {
			return err
		}
	}
	if !emitBB {
		return nil
	}

	// Phase 6: basic-block projection and emission. The artifacts are
	// independent; write them concurrently.
	dfTable := a.projectBlocks(a.blockDist, true)
	btTable := a.projectBlocks(a.pseudoDist, true)
	final := finalTable(dfTable, btTable)

	var eg errgroup.Group
	eg.Go(func() error { return EmitBlockTable(out, dfBBDistFileName, dfTable) })
	eg.Go(func() error { return EmitBlockTable(out, btBBDistFileName, btTable) })
	eg.Go(func() error { return EmitBlockTable(out, finalBBDistFileName, final) })
	eg.Go(func() error { return a.EmitTargetInfo(out, dfTable, *useDistrib, *useMoments) })
	if err := eg.Wait(); err != nil {
		return err
	}

	if *dbPath != "" {
		if err := WriteArtifactDB(*dbPath, targets, dfTable, btTable, final, prog); err != nil {
			return err
		}
	}

	prog.Log("Done. %d call records, %d blocks.", len(a.callDist), len(a.blockDist))
	return nil
}
