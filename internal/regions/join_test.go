package regions

import (
	"math"
	"strings"
	"testing"

	"github.com/measo-data/biomass.report/internal/ensemble"
	"github.com/measo-data/biomass.report/internal/grid"
)

func testMask(t *testing.T) *Mask {
	t.Helper()
	table := strings.Join([]string{
		"lon,lat,domain",
		"0,-65,1",
		"1,-65,1",
		"5,-70,2",
	}, "\n")
	key := strings.Join([]string{
		"key,name",
		"1,Ross Sea",
		"2,Weddell Sea",
	}, "\n")

	m := NewMask()
	if err := m.LoadCCAMLR(strings.NewReader(table), strings.NewReader(key)); err != nil {
		t.Fatalf("failed to build mask: %v", err)
	}
	return m
}

func TestJoin_DropsUnassignedCells(t *testing.T) {
	mask := testMask(t)
	cells := []ensemble.Cell{
		{Cell: grid.Cell{Lon: 0, Lat: -65}, Mean: map[string]float64{"ssp126": 5}},
		// Valid ensemble data but no CCAMLR assignment: must not appear.
		{Cell: grid.Cell{Lon: 100, Lat: -40}, Mean: map[string]float64{"ssp126": 99}},
	}

	rows := Join(cells, mask, SchemeCCAMLR, []string{"ssp126"})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Region != "Ross Sea" || rows[0].Cell.Lon != 0 {
		t.Errorf("unexpected row %+v", rows[0])
	}
}

func TestJoin_WithinRegionSD(t *testing.T) {
	mask := testMask(t)
	// Two Ross Sea cells with ensemble means 0 and 10: sample SD ≈ 7.071.
	cells := []ensemble.Cell{
		{Cell: grid.Cell{Lon: 0, Lat: -65}, Mean: map[string]float64{"ssp126": 0}},
		{Cell: grid.Cell{Lon: 1, Lat: -65}, Mean: map[string]float64{"ssp126": 10}},
	}

	rows := Join(cells, mask, SchemeCCAMLR, []string{"ssp126"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	want := 10 / math.Sqrt2 // sample SD of {0, 10}
	for _, row := range rows {
		if math.Abs(row.SD["ssp126"]-want) > 1e-9 {
			t.Errorf("region SD = %v, want %v", row.SD["ssp126"], want)
		}
	}
	// A zero ensemble mean is a real value and participates in the SD.
	if rows[0].Mean["ssp126"] != 0 {
		t.Errorf("expected zero mean preserved, got %v", rows[0].Mean["ssp126"])
	}
}

func TestJoin_SingleCellRegionHasMissingSD(t *testing.T) {
	mask := testMask(t)
	cells := []ensemble.Cell{
		{Cell: grid.Cell{Lon: 5, Lat: -70}, Mean: map[string]float64{"ssp126": 12}},
	}

	rows := Join(cells, mask, SchemeCCAMLR, []string{"ssp126"})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !math.IsNaN(rows[0].SD["ssp126"]) {
		t.Errorf("region with one value must carry NaN SD, got %v", rows[0].SD["ssp126"])
	}
}

func TestJoin_MissingMeansExcludedFromSD(t *testing.T) {
	mask := testMask(t)
	cells := []ensemble.Cell{
		{Cell: grid.Cell{Lon: 0, Lat: -65}, Mean: map[string]float64{"ssp126": 0}},
		{Cell: grid.Cell{Lon: 1, Lat: -65}, Mean: map[string]float64{"ssp126": math.NaN()}},
	}

	rows := Join(cells, mask, SchemeCCAMLR, []string{"ssp126"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Only one non-missing value remains, so the SD is missing too.
	for _, row := range rows {
		if !math.IsNaN(row.SD["ssp126"]) {
			t.Errorf("expected NaN SD, got %v", row.SD["ssp126"])
		}
	}
}

func TestJoin_EmptyInput(t *testing.T) {
	rows := Join(nil, testMask(t), SchemeCCAMLR, []string{"ssp126"})
	if len(rows) != 0 {
		t.Errorf("expected no rows for empty input, got %d", len(rows))
	}
}
