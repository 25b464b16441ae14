package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/measo-data/biomass.report/internal/grid"
)

// ErrSchema marks a source file missing a required column. The pipeline
// skips the affected model and continues with the rest of the ensemble.
var ErrSchema = errors.New("schema mismatch")

// Windows holds the inclusive calendar-year bounds of the reference and
// future decades.
type Windows struct {
	RefStart, RefEnd int
	FutStart, FutEnd int
}

// Loader reduces raw series to decade means. Offsets is the declarative
// per-source longitude correction table; sources matching no rule are left
// on their native grid.
type Loader struct {
	Windows Windows
	Offsets []grid.OffsetRule
}

// Column name candidates, matched case-insensitively against the header.
// Additional columns in the source are ignored.
var (
	lonColumns  = []string{"lon", "longitude", "x"}
	latColumns  = []string{"lat", "latitude", "y"}
	timeColumns = []string{"date", "time", "timestamp"}
	tcbColumns  = []string{"tcb", "biomass", "tcb_mean", "total_consumer_biomass"}
)

type columnIndex struct {
	lon, lat, time, tcb int
}

func indexColumns(header []string) (columnIndex, error) {
	find := func(candidates []string) int {
		for i, h := range header {
			h = strings.ToLower(strings.TrimSpace(h))
			for _, c := range candidates {
				if h == c {
					return i
				}
			}
		}
		return -1
	}

	idx := columnIndex{
		lon:  find(lonColumns),
		lat:  find(latColumns),
		time: find(timeColumns),
		tcb:  find(tcbColumns),
	}
	switch {
	case idx.lon < 0:
		return idx, fmt.Errorf("%w: no longitude column in %v", ErrSchema, header)
	case idx.lat < 0:
		return idx, fmt.Errorf("%w: no latitude column in %v", ErrSchema, header)
	case idx.time < 0:
		return idx, fmt.Errorf("%w: no timestamp column in %v", ErrSchema, header)
	case idx.tcb < 0:
		return idx, fmt.Errorf("%w: no biomass column in %v", ErrSchema, header)
	}
	return idx, nil
}

// yearOf extracts the calendar year from a timestamp field. Accepts full
// dates ("2005-01-16"), year-months ("2005-01") and bare years ("2005").
func yearOf(field string) (int, error) {
	field = strings.TrimSpace(field)
	if len(field) < 4 {
		return 0, fmt.Errorf("timestamp %q too short", field)
	}
	year, err := strconv.Atoi(field[:4])
	if err != nil {
		return 0, fmt.Errorf("cannot parse year from timestamp %q", field)
	}
	return year, nil
}

// missingValue reports whether a biomass field encodes a missing
// observation. Missing observations are excluded from the group mean; a
// group of only missing observations yields no output row.
func missingValue(field string) bool {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "", "na", "nan", "null":
		return true
	}
	return false
}

type meanAccumulator struct {
	sum float64
	n   int
}

// Reduce streams one source file and returns its decade means: one row per
// (cell, period) with at least one non-missing observation in the window.
// Rows outside both decades are discarded before any aggregation. A file
// with no rows in either window reduces to an empty slice, not an error.
func (l *Loader) Reduce(r io.Reader, s Series) ([]DecadeMean, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty file", ErrSchema)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	futurePeriod := FuturePeriod(s.Scenario)
	offset := grid.OffsetFor(l.Offsets, s.Ecosystem)

	type groupKey struct {
		cell   grid.Cell
		period string
	}
	groups := make(map[groupKey]*meanAccumulator)

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		year, err := yearOf(record[idx.time])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		var period string
		switch {
		case year >= l.Windows.RefStart && year <= l.Windows.RefEnd:
			period = PeriodReference
		case year >= l.Windows.FutStart && year <= l.Windows.FutEnd:
			period = futurePeriod
		default:
			continue
		}

		if missingValue(record[idx.tcb]) {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[idx.tcb]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid biomass value %q", line, record[idx.tcb])
		}

		lon, err := strconv.ParseFloat(strings.TrimSpace(record[idx.lon]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid longitude %q", line, record[idx.lon])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[idx.lat]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid latitude %q", line, record[idx.lat])
		}

		cell := grid.Cell{Lon: lon, Lat: lat}.ShiftLon(offset)

		key := groupKey{cell: cell, period: period}
		acc := groups[key]
		if acc == nil {
			acc = &meanAccumulator{}
			groups[key] = acc
		}
		acc.sum += value
		acc.n++
	}

	means := make([]DecadeMean, 0, len(groups))
	for key, acc := range groups {
		means = append(means, DecadeMean{
			Cell:   key.cell,
			Period: key.period,
			Mean:   acc.sum / float64(acc.n),
		})
	}

	// Stable output order keeps reruns byte-identical.
	sort.Slice(means, func(i, j int) bool {
		a, b := means[i], means[j]
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		if a.Cell.Lat != b.Cell.Lat {
			return a.Cell.Lat < b.Cell.Lat
		}
		return a.Cell.Lon < b.Cell.Lon
	})

	return means, nil
}
