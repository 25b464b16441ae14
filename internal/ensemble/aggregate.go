package ensemble

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/measo-data/biomass.report/internal/grid"
)

// Cell is one grid cell's ensemble statistic: the mean percentage change
// across contributing models, one value per scenario. The mean is a per-cell
// statistic computed before any regional grouping; within-region dispersion
// is computed downstream over these means, never the other way around.
type Cell struct {
	Cell grid.Cell
	Mean map[string]float64
}

// Aggregate combines the percent-change rows of all model pairs into one
// ensemble row per cell. Missing contributions are excluded from the mean,
// not zero-filled; a (cell, scenario) with no non-missing contribution
// carries NaN.
func Aggregate(models [][]PercentChange, scenarios []string) []Cell {
	contributions := make(map[grid.Cell]map[string][]float64)
	order := make([]grid.Cell, 0)

	for _, model := range models {
		for _, pc := range model {
			byScenario := contributions[pc.Cell]
			if byScenario == nil {
				byScenario = make(map[string][]float64, len(scenarios))
				contributions[pc.Cell] = byScenario
				order = append(order, pc.Cell)
			}
			for _, s := range scenarios {
				v, ok := pc.Change[s]
				if !ok || math.IsNaN(v) {
					continue
				}
				byScenario[s] = append(byScenario[s], v)
			}
		}
	}

	// Contribution slices are appended in model order, so the reduction
	// order is fixed and reruns reproduce identical floating-point results.
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Lat != b.Lat {
			return a.Lat < b.Lat
		}
		return a.Lon < b.Lon
	})

	out := make([]Cell, 0, len(order))
	for _, cell := range order {
		mean := make(map[string]float64, len(scenarios))
		for _, s := range scenarios {
			values := contributions[cell][s]
			if len(values) == 0 {
				mean[s] = math.NaN()
				continue
			}
			mean[s] = stat.Mean(values, nil)
		}
		out = append(out, Cell{Cell: cell, Mean: mean})
	}
	return out
}
