// Package grid provides the shared one-degree coordinate lattice that every
// model output and regional mask is keyed on, plus the per-source longitude
// corrections needed to reconcile offset native grids with that lattice.
package grid

import "strings"

// Cell identifies one node of the shared lattice by its longitude and
// latitude in degrees. Cells are compared exactly: joins across models and
// masks match on identical coordinates, never by interpolation.
type Cell struct {
	Lon float64
	Lat float64
}

// ShiftLon returns the cell moved east by the given number of degrees.
func (c Cell) ShiftLon(degrees float64) Cell {
	return Cell{Lon: c.Lon + degrees, Lat: c.Lat}
}

// OffsetRule declares a longitude correction for every source whose model
// family name contains Pattern (case-insensitive). Corrections are applied
// at load time so all downstream joins operate on the shared lattice.
type OffsetRule struct {
	Pattern   string  `json:"pattern"`
	LonOffset float64 `json:"lon_offset"`
}

// DefaultOffsets returns the corrections for the source families whose
// native grid sits half a degree west of the shared lattice.
func DefaultOffsets() []OffsetRule {
	return []OffsetRule{
		{Pattern: "dbpm", LonOffset: 0.5},
		{Pattern: "zoomss", LonOffset: 0.5},
	}
}

// OffsetFor returns the longitude correction for a model family, or zero
// when no rule matches. The first matching rule wins.
func OffsetFor(rules []OffsetRule, family string) float64 {
	lower := strings.ToLower(family)
	for _, r := range rules {
		if r.Pattern != "" && strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return r.LonOffset
		}
	}
	return 0
}
