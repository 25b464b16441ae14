// Package ensemble turns per-model decade means into percentage change and
// combines the per-model changes into a multi-model ensemble per grid cell.
//
// Missing values travel as NaN through every stage. Zero is a legitimate
// percentage change and is never conflated with "could not compute".
package ensemble

import (
	"math"
	"sort"

	"github.com/measo-data/biomass.report/internal/grid"
	"github.com/measo-data/biomass.report/internal/series"
)

// Change computes the percentage change of a future decade mean against the
// reference decade mean. The result is NaN when the reference mean is zero
// or either operand is missing.
func Change(refMean, futMean float64) float64 {
	if refMean == 0 || math.IsNaN(refMean) || math.IsNaN(futMean) {
		return math.NaN()
	}
	return (futMean - refMean) / refMean * 100
}

// PercentChange holds one model pair's percentage change at one cell, one
// value per scenario. Scenarios with no computable change carry NaN.
type PercentChange struct {
	Cell   grid.Cell
	Change map[string]float64
}

// FromDecadeMeans pivots the unioned decade means of one ecosystem/forcing
// pair (all scenario files merged) into per-cell percent change. A cell
// appears in the output when it has a reference mean or any future mean;
// non-computable scenarios carry NaN.
func FromDecadeMeans(means []series.DecadeMean, scenarios []string) []PercentChange {
	refs := make(map[grid.Cell]float64)
	futures := make(map[string]map[grid.Cell]float64, len(scenarios))
	for _, s := range scenarios {
		futures[s] = make(map[grid.Cell]float64)
	}

	cells := make(map[grid.Cell]bool)
	for _, m := range means {
		if m.Period == series.PeriodReference {
			// Scenario files of one pair share the historical run, so the
			// reference means coincide; first seen wins.
			if _, ok := refs[m.Cell]; !ok {
				refs[m.Cell] = m.Mean
			}
			cells[m.Cell] = true
			continue
		}
		for _, s := range scenarios {
			if m.Period == series.FuturePeriod(s) {
				futures[s][m.Cell] = m.Mean
				cells[m.Cell] = true
				break
			}
		}
	}

	out := make([]PercentChange, 0, len(cells))
	for cell := range cells {
		change := make(map[string]float64, len(scenarios))
		ref, haveRef := refs[cell]
		if !haveRef {
			ref = math.NaN()
		}
		for _, s := range scenarios {
			fut, haveFut := futures[s][cell]
			if !haveFut {
				fut = math.NaN()
			}
			change[s] = Change(ref, fut)
		}
		out = append(out, PercentChange{Cell: cell, Change: change})
	}

	sortByCell(out, func(p PercentChange) grid.Cell { return p.Cell })
	return out
}

func sortByCell[T any](rows []T, cellOf func(T) grid.Cell) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := cellOf(rows[i]), cellOf(rows[j])
		if a.Lat != b.Lat {
			return a.Lat < b.Lat
		}
		return a.Lon < b.Lon
	})
}
