// Package pipeline wires the stages together: per-model reduction to decade
// means, percent change, ensemble aggregation, regional join, and artifact
// persistence.
//
// Per-model reductions are embarrassingly parallel and run on a bounded
// worker pool; each model pair writes its own artifacts, so the only
// synchronization point is the read-only scatter-gather before aggregation.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/measo-data/biomass.report/internal/artifact"
	"github.com/measo-data/biomass.report/internal/config"
	"github.com/measo-data/biomass.report/internal/ensemble"
	"github.com/measo-data/biomass.report/internal/monitoring"
	"github.com/measo-data/biomass.report/internal/regions"
	"github.com/measo-data/biomass.report/internal/resultdb"
	"github.com/measo-data/biomass.report/internal/series"
)

// Summary reports what a run produced.
type Summary struct {
	RunID   string
	Models  int // model pairs that contributed a percent-change artifact
	Skipped int // source files skipped for schema or parse errors
	Cells   int // ensemble cells aggregated
}

// sourceGroup is one ecosystem/forcing pair with its per-scenario files.
type sourceGroup struct {
	pairKey string
	files   []sourceFile
}

type sourceFile struct {
	path   string
	series series.Series
}

// discoverSources finds raw series files under inputRoot and groups them by
// ecosystem/forcing pair. Files whose names don't parse are skipped with a
// log line, not fatal.
func discoverSources(inputRoot string) ([]sourceGroup, int) {
	paths, err := filepath.Glob(filepath.Join(inputRoot, "*_tcb.csv"))
	if err != nil {
		// Glob only errors on bad patterns; ours is fixed.
		return nil, 0
	}
	sort.Strings(paths)

	skipped := 0
	byPair := make(map[string]*sourceGroup)
	var order []string
	for _, path := range paths {
		s, err := series.ParseFilename(path)
		if err != nil {
			monitoring.Logf("WARNING: skipping %s: %v", path, err)
			skipped++
			continue
		}
		g := byPair[s.PairKey()]
		if g == nil {
			g = &sourceGroup{pairKey: s.PairKey()}
			byPair[s.PairKey()] = g
			order = append(order, s.PairKey())
		}
		g.files = append(g.files, sourceFile{path: path, series: s})
	}

	sort.Strings(order)
	groups := make([]sourceGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byPair[key])
	}
	return groups, skipped
}

// reducePair reduces one pair's scenario files to decade means, writes the
// per-series decade-mean artifacts, and writes the pair's percent-change
// artifact. A file that fails to reduce is skipped; the pair still
// contributes whatever its remaining files allow.
func reducePair(g sourceGroup, loader *series.Loader, scenarios []string, outputRoot string) (contributed bool, skipped int) {
	var means []series.DecadeMean
	for _, f := range g.files {
		src, err := os.Open(f.path)
		if err != nil {
			monitoring.Logf("WARNING: skipping %s: %v", f.path, err)
			skipped++
			continue
		}
		reduced, err := loader.Reduce(src, f.series)
		src.Close()
		if err != nil {
			monitoring.Logf("WARNING: skipping %s: %v", f.path, err)
			skipped++
			continue
		}

		if err := writeArtifact(filepath.Join(outputRoot, artifact.DecadeMeansName(f.series)), func(w *os.File) error {
			return artifact.WriteDecadeMeans(w, reduced)
		}); err != nil {
			monitoring.Logf("WARNING: failed to write decade means for %s: %v", f.series, err)
		}

		means = append(means, reduced...)
	}

	if skipped == len(g.files) {
		return false, skipped
	}

	// An empty reduction still writes an (empty) artifact; the aggregator
	// simply sees no contribution from this pair.
	changes := ensemble.FromDecadeMeans(means, scenarios)
	err := writeArtifact(filepath.Join(outputRoot, artifact.PercentChangeName(g.pairKey)), func(w *os.File) error {
		return artifact.WritePercentChange(w, changes, scenarios)
	})
	if err != nil {
		monitoring.Logf("WARNING: failed to write percent change for %s: %v", g.pairKey, err)
		return false, skipped
	}
	return true, skipped
}

func writeArtifact(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// loadMask builds the regional mask for the schemes the config requests.
func loadMask(cfg *config.Config, schemes []regions.Scheme) (*regions.Mask, error) {
	mask := regions.NewMask()
	for _, scheme := range schemes {
		switch scheme {
		case regions.SchemeCCAMLR:
			table, err := os.Open(cfg.GetCCAMLRMaskPath())
			if err != nil {
				return nil, fmt.Errorf("failed to open ccamlr mask: %w", err)
			}
			key, err := os.Open(cfg.GetCCAMLRKeyPath())
			if err != nil {
				table.Close()
				return nil, fmt.Errorf("failed to open ccamlr key table: %w", err)
			}
			err = mask.LoadCCAMLR(table, key)
			table.Close()
			key.Close()
			if err != nil {
				return nil, err
			}
		case regions.SchemeMEASO:
			table, err := os.Open(cfg.GetMEASOMaskPath())
			if err != nil {
				return nil, fmt.Errorf("failed to open measo mask: %w", err)
			}
			err = mask.LoadMEASO(table)
			table.Close()
			if err != nil {
				return nil, err
			}
		}
	}
	return mask, nil
}

// Run executes the full pipeline under the given configuration.
func Run(cfg *config.Config) (*Summary, error) {
	startedAt := time.Now()

	refStart, refEnd := cfg.GetReferenceWindow()
	futStart, futEnd := cfg.GetFutureWindow()
	loader := &series.Loader{
		Windows: series.Windows{
			RefStart: refStart, RefEnd: refEnd,
			FutStart: futStart, FutEnd: futEnd,
		},
		Offsets: cfg.GetLonOffsets(),
	}
	scenarios := cfg.GetScenarios()

	schemes := make([]regions.Scheme, 0, len(cfg.GetSchemes()))
	for _, s := range cfg.GetSchemes() {
		scheme, err := regions.ParseScheme(s)
		if err != nil {
			return nil, err
		}
		schemes = append(schemes, scheme)
	}

	outputRoot := cfg.GetOutputRoot()
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	groups, skipped := discoverSources(cfg.GetInputRoot())
	monitoring.Logf("reducing %d model pairs from %s", len(groups), cfg.GetInputRoot())

	// Fan the per-pair reductions out over a bounded worker pool. Each
	// pair writes only its own artifacts; the counters are the sole shared
	// state.
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		contributed int
	)
	sem := make(chan struct{}, cfg.GetWorkers())
	for _, g := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(g sourceGroup) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, fileSkips := reducePair(g, loader, scenarios, outputRoot)
			mu.Lock()
			skipped += fileSkips
			if ok {
				contributed++
			}
			mu.Unlock()
		}(g)
	}
	wg.Wait()

	// Scatter-gather: read every percent-change artifact back from the
	// output root rather than holding reductions in memory.
	paths, err := artifact.Collect(outputRoot)
	if err != nil {
		return nil, err
	}
	models := make([][]ensemble.PercentChange, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact %s: %w", path, err)
		}
		changes, _, err := artifact.ReadPercentChange(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
		}
		models = append(models, changes)
	}

	cells := ensemble.Aggregate(models, scenarios)
	monitoring.Logf("aggregated %d ensemble cells from %d artifacts", len(cells), len(paths))

	mask, err := loadMask(cfg, schemes)
	if err != nil {
		return nil, err
	}

	joined := make(map[regions.Scheme][]regions.Row, len(schemes))
	for _, scheme := range schemes {
		rows := regions.Join(cells, mask, scheme, scenarios)
		joined[scheme] = rows
		err := writeArtifact(filepath.Join(outputRoot, artifact.RegionalResultName(scheme)), func(w *os.File) error {
			return artifact.WriteRegionalResult(w, rows, scenarios)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write %s result: %w", scheme, err)
		}
	}

	summary := &Summary{
		Models:  contributed,
		Skipped: skipped,
		Cells:   len(cells),
	}

	if !cfg.GetDisableDB() {
		db, err := resultdb.Open(cfg.GetDatabasePath())
		if err != nil {
			return nil, err
		}
		defer db.Close()

		run := &resultdb.Run{
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			InputRoot:  cfg.GetInputRoot(),
			OutputRoot: outputRoot,
			Models:     contributed,
			Skipped:    skipped,
			Cells:      len(cells),
		}
		if err := db.RecordRun(run); err != nil {
			return nil, err
		}
		for _, scheme := range schemes {
			if err := db.RecordRegionalResults(run.ID, scheme, joined[scheme], scenarios); err != nil {
				return nil, err
			}
		}
		summary.RunID = run.ID
	}

	return summary, nil
}
