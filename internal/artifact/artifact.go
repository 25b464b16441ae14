// Package artifact reads and writes the pipeline's tabular CSV artifacts:
// per-model decade means, per-model percent change, and the final regional
// result. Missing values are written as empty fields so zero stays
// distinguishable from "could not compute".
package artifact

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/measo-data/biomass.report/internal/ensemble"
	"github.com/measo-data/biomass.report/internal/grid"
	"github.com/measo-data/biomass.report/internal/regions"
	"github.com/measo-data/biomass.report/internal/series"
)

// percentChangeSuffix names per-model percent-change artifacts; Collect
// globs on it so the aggregator never hard-codes filesystem layout.
const percentChangeSuffix = "_perc_bio_change_data_map.csv"

// DecadeMeansName returns the artifact filename for one series' decade
// means.
func DecadeMeansName(s series.Series) string {
	return s.String() + "_decade_mean_data.csv"
}

// PercentChangeName returns the artifact filename for one ecosystem/forcing
// pair's percent change.
func PercentChangeName(pairKey string) string {
	return pairKey + percentChangeSuffix
}

// RegionalResultName returns the final artifact filename for one scheme.
func RegionalResultName(scheme regions.Scheme) string {
	return "ensemble_perc_change_" + string(scheme) + ".csv"
}

// Collect returns the sorted paths of every percent-change artifact under
// outputRoot.
func Collect(outputRoot string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(outputRoot, "*"+percentChangeSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to glob artifacts: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// formatValue renders a float for CSV output. NaN becomes an empty field.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// formatCoord renders a lattice coordinate without trailing zeros.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// parseValue parses a CSV float field; empty fields mean missing.
func parseValue(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(field, 64)
}

// WriteDecadeMeans writes one series' decade means.
func WriteDecadeMeans(w io.Writer, means []series.DecadeMean) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"lon", "lat", "period", "mean_tcb"}); err != nil {
		return err
	}
	for _, m := range means {
		row := []string{
			formatCoord(m.Cell.Lon),
			formatCoord(m.Cell.Lat),
			m.Period,
			formatValue(m.Mean),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadDecadeMeans reads a decade-means artifact back.
func ReadDecadeMeans(r io.Reader) ([]series.DecadeMean, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 4 || header[0] != "lon" || header[1] != "lat" || header[2] != "period" {
		return nil, fmt.Errorf("unexpected decade-means header %v", header)
	}

	var means []series.DecadeMean
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		lon, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid longitude %q", line, record[0])
		}
		lat, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid latitude %q", line, record[1])
		}
		mean, err := parseValue(record[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid mean %q", line, record[3])
		}
		means = append(means, series.DecadeMean{
			Cell:   grid.Cell{Lon: lon, Lat: lat},
			Period: record[2],
			Mean:   mean,
		})
	}
	return means, nil
}

// WritePercentChange writes one pair's per-cell percent change, one column
// per scenario.
func WritePercentChange(w io.Writer, rows []ensemble.PercentChange, scenarios []string) error {
	cw := csv.NewWriter(w)
	header := []string{"lon", "lat"}
	for _, s := range scenarios {
		header = append(header, "perc_change_"+s)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, pc := range rows {
		row := []string{formatCoord(pc.Cell.Lon), formatCoord(pc.Cell.Lat)}
		for _, s := range scenarios {
			v, ok := pc.Change[s]
			if !ok {
				v = math.NaN()
			}
			row = append(row, formatValue(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPercentChange reads a percent-change artifact back, recovering the
// scenario list from the header.
func ReadPercentChange(r io.Reader) ([]ensemble.PercentChange, []string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 3 || header[0] != "lon" || header[1] != "lat" {
		return nil, nil, fmt.Errorf("unexpected percent-change header %v", header)
	}

	var scenarios []string
	for _, h := range header[2:] {
		s := strings.TrimPrefix(h, "perc_change_")
		if s == h {
			return nil, nil, fmt.Errorf("unexpected percent-change column %q", h)
		}
		scenarios = append(scenarios, s)
	}

	var rows []ensemble.PercentChange
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		lon, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: invalid longitude %q", line, record[0])
		}
		lat, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: invalid latitude %q", line, record[1])
		}
		change := make(map[string]float64, len(scenarios))
		for i, s := range scenarios {
			v, err := parseValue(record[2+i])
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: invalid change %q", line, record[2+i])
			}
			change[s] = v
		}
		rows = append(rows, ensemble.PercentChange{
			Cell:   grid.Cell{Lon: lon, Lat: lat},
			Change: change,
		})
	}
	return rows, scenarios, nil
}

// WriteRegionalResult writes the final joined table for one scheme: cell,
// region, per-scenario ensemble mean, per-scenario within-region SD.
func WriteRegionalResult(w io.Writer, rows []regions.Row, scenarios []string) error {
	cw := csv.NewWriter(w)
	header := []string{"lon", "lat", "region"}
	for _, s := range scenarios {
		header = append(header, "mean_perc_change_"+s)
	}
	for _, s := range scenarios {
		header = append(header, "sd_perc_change_"+s)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{formatCoord(row.Cell.Lon), formatCoord(row.Cell.Lat), row.Region}
		for _, s := range scenarios {
			v, ok := row.Mean[s]
			if !ok {
				v = math.NaN()
			}
			record = append(record, formatValue(v))
		}
		for _, s := range scenarios {
			v, ok := row.SD[s]
			if !ok {
				v = math.NaN()
			}
			record = append(record, formatValue(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
