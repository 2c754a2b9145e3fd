// Command solve-plot renders the cost trace of a persisted solve run to a
// PNG, for eyeballing convergence behaviour across parameter sweeps.
package main

import (
	"flag"
	"log"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/jitter.report/internal/jitter"
	storage "github.com/banshee-data/jitter.report/internal/jitter/storage/sqlite"
)

func main() {
	dbPath := flag.String("db", "solve_runs.db", "solve run database")
	runID := flag.String("run", "", "run ID to plot (default: most recent)")
	output := flag.String("o", "solve.png", "output PNG path")
	flag.Parse()

	store, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	var rep *jitter.Report
	if *runID != "" {
		rep, err = store.Get(*runID)
	} else {
		var runs []*jitter.Report
		runs, err = store.List(1)
		if err == nil && len(runs) == 0 {
			log.Fatal("no solve runs in database")
		}
		if err == nil {
			rep = runs[0]
		}
	}
	if err != nil {
		log.Fatalf("failed to load run: %v", err)
	}
	if len(rep.CostTrace) == 0 {
		log.Fatalf("run %s has no cost trace", rep.RunID)
	}

	pts := make(plotter.XYs, len(rep.CostTrace))
	for i, c := range rep.CostTrace {
		pts[i].X = float64(i)
		// Floor the log plot at a representable minimum; converged runs
		// bottom out at exactly zero cost.
		pts[i].Y = math.Log10(math.Max(c, 1e-30))
	}

	p := plot.New()
	p.Title.Text = "Solve " + rep.RunID + " (" + string(rep.Status) + ")"
	p.X.Label.Text = "accepted step"
	p.Y.Label.Text = "log10 cost"

	line, err := plotter.NewLine(pts)
	if err != nil {
		log.Fatalf("failed to build line: %v", err)
	}
	p.Add(line, plotter.NewGrid())

	if err := p.Save(8*vg.Inch, 5*vg.Inch, *output); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("✓ Created: %s (%d points, final cost %.6g)", *output, len(pts), rep.FinalCost)
}
