package regions

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/measo-data/biomass.report/internal/ensemble"
	"github.com/measo-data/biomass.report/internal/grid"
)

// Row is one cell of the final regional result: the cell's per-scenario
// ensemble-mean percentage change plus the within-region sample standard
// deviation of those per-cell means, repeated on every row of the region.
//
// The SD is spatial dispersion of the ensemble mean inside the region, not
// cross-model variance at a point; downstream reporting labels it simply
// "SD", which leaves the intent ambiguous. The two-stage order (per-cell
// ensemble mean first, then SD over cells within each region) is load
// bearing and must not be reversed.
type Row struct {
	Cell   grid.Cell
	Region string
	Mean   map[string]float64
	SD     map[string]float64
}

// Join left-joins ensemble cells onto one scheme of the mask by exact cell
// key. Cells with no assignment in the scheme are dropped, not retained as
// unassigned. After the join, each region's per-scenario sample SD is
// computed over the per-cell ensemble means of its member cells; regions
// with fewer than two non-missing values carry NaN.
func Join(cells []ensemble.Cell, mask *Mask, scheme Scheme, scenarios []string) []Row {
	rows := make([]Row, 0, len(cells))
	byRegion := make(map[string][]int)

	for _, ec := range cells {
		region, ok := mask.Region(ec.Cell, scheme)
		if !ok {
			continue
		}
		byRegion[region] = append(byRegion[region], len(rows))
		rows = append(rows, Row{Cell: ec.Cell, Region: region, Mean: ec.Mean})
	}

	for _, indices := range byRegion {
		sd := make(map[string]float64, len(scenarios))
		for _, s := range scenarios {
			values := make([]float64, 0, len(indices))
			for _, i := range indices {
				v, ok := rows[i].Mean[s]
				if !ok || math.IsNaN(v) {
					continue
				}
				values = append(values, v)
			}
			if len(values) < 2 {
				sd[s] = math.NaN()
				continue
			}
			sd[s] = stat.StdDev(values, nil)
		}
		for _, i := range indices {
			rows[i].SD = sd
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Region != rows[j].Region {
			return rows[i].Region < rows[j].Region
		}
		if rows[i].Cell.Lat != rows[j].Cell.Lat {
			return rows[i].Cell.Lat < rows[j].Cell.Lat
		}
		return rows[i].Cell.Lon < rows[j].Cell.Lon
	})
	return rows
}
