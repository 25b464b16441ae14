// Package series reduces raw per-model biomass time series to decade means.
//
// Each source file is scoped to one ecosystem-model/forcing-model/scenario
// triple and carries a timestamp column and a total-consumer-biomass (TCB)
// column on the shared one-degree lattice. The loader keeps only rows inside
// the reference and future decades, tags them with a period label, and takes
// the per-cell arithmetic mean of each group.
package series

import (
	"fmt"
	"strings"

	"github.com/measo-data/biomass.report/internal/grid"
)

// PeriodReference tags rows belonging to the historical reference decade.
const PeriodReference = "reference"

// FuturePeriod returns the period tag for a scenario's future decade.
func FuturePeriod(scenario string) string {
	return "mean00_" + scenario
}

// Series identifies one source file: one ecosystem model driven by one
// Earth-system forcing under one emissions scenario.
type Series struct {
	Ecosystem string
	Forcing   string
	Scenario  string
}

// PairKey identifies the ecosystem/forcing pair independent of scenario.
// Percent-change artifacts are written once per pair with a column per
// scenario.
func (s Series) PairKey() string {
	return s.Ecosystem + "_" + s.Forcing
}

func (s Series) String() string {
	return s.Ecosystem + "_" + s.Forcing + "_" + s.Scenario
}

// ParseFilename extracts the series identity from a source filename of the
// form <ecosystem>_<forcing>_<scenario>_tcb.csv. Ecosystem and forcing names
// may themselves contain underscores only in the forcing position's
// hyphenated form (e.g. ipsl-cm6a-lr), so the split is positional.
func ParseFilename(name string) (Series, error) {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".csv")
	if !strings.HasSuffix(base, "_tcb") {
		return Series{}, fmt.Errorf("not a tcb series file: %q", name)
	}
	base = strings.TrimSuffix(base, "_tcb")

	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return Series{}, fmt.Errorf("cannot parse series identity from %q", name)
	}
	for _, p := range parts {
		if p == "" {
			return Series{}, fmt.Errorf("cannot parse series identity from %q", name)
		}
	}
	return Series{Ecosystem: parts[0], Forcing: parts[1], Scenario: parts[2]}, nil
}

// DecadeMean is the mean TCB for one cell over one tagged period of one
// series. Cells with no observations in a window produce no DecadeMean at
// all: absence is meaningful and never encoded as zero.
type DecadeMean struct {
	Cell   grid.Cell
	Period string
	Mean   float64
}
