// Command jitter refines the time-sampled pose sequences of a set of
// linescan cameras by minimizing robust reprojection error over a
// triangulated control network. Scenes come from a JSON file (see
// cmd/tools/gen-scene) or a built-in synthetic default; refined pose samples
// and points are written back out as a scene file.
package main

import (
	"encoding/json"
	"flag"
	"log"

	"github.com/banshee-data/jitter.report/internal/config"
	"github.com/banshee-data/jitter.report/internal/jitter"
	storage "github.com/banshee-data/jitter.report/internal/jitter/storage/sqlite"
	"github.com/banshee-data/jitter.report/internal/network"
	"github.com/banshee-data/jitter.report/internal/version"
)

var (
	scenePath  = flag.String("scene", "", "input scene JSON (empty: built-in synthetic scene)")
	configPath = flag.String("config", "", "solve tuning JSON (empty: defaults)")
	outPath    = flag.String("o", "", "write the refined scene to this path")
	dbPath     = flag.String("db", "", "persist the solve report to this sqlite database")
)

func main() {
	flag.Parse()
	log.Printf("jitter solver %s (%s)", version.Version, version.GitSHA)

	cfg := config.EmptySolveConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadSolveConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	var net *network.Network
	var err error
	if *scenePath != "" {
		net, err = network.LoadScene(*scenePath)
	} else {
		net, err = network.BuildScene(network.DefaultSceneParams())
	}
	if err != nil {
		log.Fatalf("failed to load scene: %v", err)
	}

	marked := jitter.GateOutliers(net, cfg.GetMaxInitReprojError())
	log.Printf("outlier gate marked %d of %d points", marked, len(net.Points))

	prob, err := jitter.Assemble(net, jitter.Options{
		RobustThreshold:    cfg.GetRobustThreshold(),
		MaxInitReprojError: cfg.GetMaxInitReprojError(),
	})
	if err != nil {
		log.Fatalf("failed to assemble problem: %v", err)
	}

	opt := jitter.DefaultSolverOptions()
	opt.MaxIterations = cfg.GetNumIterations()
	opt.ParameterTolerance = cfg.GetParameterTolerance()
	opt.Threads = cfg.GetNumThreads()
	opt.SingleThreaded = cfg.GetSingleThreadedCameras()

	rep, err := jitter.Solve(prob, opt)
	if err != nil {
		log.Fatalf("solve failed: %v", err)
	}

	log.Printf("status=%s iterations=%d cost %.6g -> %.6g (residual rms %.4g -> %.4g px)",
		rep.Status, rep.Iterations, rep.InitialCost, rep.FinalCost,
		rep.InitialResidual.RMS, rep.FinalResidual.RMS)
	if rep.Status != jitter.StatusConverged {
		log.Printf("warning: %s", rep.TerminationReason)
	}

	if *dbPath != "" {
		store, err := storage.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open solve database: %v", err)
		}
		defer store.Close()
		params, _ := json.Marshal(cfg)
		if err := store.Insert(rep, params); err != nil {
			log.Fatalf("failed to persist solve run: %v", err)
		}
		log.Printf("persisted run %s to %s", rep.RunID, *dbPath)
	}

	if *outPath != "" {
		if err := network.SaveScene(*outPath, net); err != nil {
			log.Fatalf("failed to save refined scene: %v", err)
		}
		log.Printf("✓ Wrote refined scene: %s", *outPath)
	}
}
