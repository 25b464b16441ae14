// Package regions loads the static regional mask tables and joins ensemble
// results onto them.
//
// Two independent schemes partition the grid: CCAMLR MPA planning domains
// and MEASO assessment regions. Both arrive pre-rasterized onto the shared
// lattice; this package only performs exact-key joins and never infers
// membership for cells absent from a table.
package regions

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/measo-data/biomass.report/internal/grid"
)

// Scheme names one of the independent regional partitions.
type Scheme string

const (
	SchemeCCAMLR Scheme = "ccamlr"
	SchemeMEASO  Scheme = "measo"
)

// ParseScheme converts a config string into a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(s)) {
	case SchemeCCAMLR:
		return SchemeCCAMLR, nil
	case SchemeMEASO:
		return SchemeMEASO, nil
	}
	return "", fmt.Errorf("unknown region scheme %q", s)
}

// NormalizeName coalesces peninsula sub-regions into their parent reporting
// bucket: a name of the form "<common name> - <peninsula qualifier>" keeps
// only the common name. All other names pass through unchanged.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if !strings.Contains(name, "Peninsula") {
		return name
	}
	if i := strings.Index(name, " - "); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	return name
}

// Mask is the read-only lookup from grid cell to region name per scheme.
// A cell absent from a scheme's table is unassigned in that scheme.
type Mask struct {
	assignments map[grid.Cell]map[Scheme]string
}

// NewMask returns an empty mask.
func NewMask() *Mask {
	return &Mask{assignments: make(map[grid.Cell]map[Scheme]string)}
}

func (m *Mask) assign(cell grid.Cell, scheme Scheme, name string) {
	byScheme := m.assignments[cell]
	if byScheme == nil {
		byScheme = make(map[Scheme]string, 2)
		m.assignments[cell] = byScheme
	}
	byScheme[scheme] = name
}

// Lookup returns the region assignments for a cell, keyed by scheme. Cells
// outside every region return an empty map.
func (m *Mask) Lookup(cell grid.Cell) map[Scheme]string {
	return m.assignments[cell]
}

// Region returns the cell's region in one scheme, and whether it has one.
func (m *Mask) Region(cell grid.Cell, scheme Scheme) (string, bool) {
	name, ok := m.assignments[cell][scheme]
	return name, ok
}

// Len returns the number of cells with at least one assignment.
func (m *Mask) Len() int {
	return len(m.assignments)
}

// LoadCCAMLR reads the rasterized CCAMLR planning-domain table (numeric
// grid coordinates plus a numeric domain key) and its companion key table
// (numeric key to display name) into the mask. Domain names are normalized
// on the way in.
func (m *Mask) LoadCCAMLR(table, key io.Reader) error {
	names, err := readKeyTable(key)
	if err != nil {
		return fmt.Errorf("ccamlr key table: %w", err)
	}

	rows, err := readMaskRows(table, []string{"domain", "key", "region"})
	if err != nil {
		return fmt.Errorf("ccamlr mask table: %w", err)
	}
	for _, row := range rows {
		k, err := strconv.Atoi(strings.TrimSpace(row.value))
		if err != nil {
			return fmt.Errorf("ccamlr mask table: invalid domain key %q", row.value)
		}
		name, ok := names[k]
		if !ok {
			return fmt.Errorf("ccamlr mask table: domain key %d has no name", k)
		}
		m.assign(row.cell, SchemeCCAMLR, NormalizeName(name))
	}
	return nil
}

// LoadMEASO reads the rasterized MEASO assessment-region table (numeric
// grid coordinates plus a region name) into the mask.
func (m *Mask) LoadMEASO(table io.Reader) error {
	rows, err := readMaskRows(table, []string{"region", "measo", "name", "area"})
	if err != nil {
		return fmt.Errorf("measo mask table: %w", err)
	}
	for _, row := range rows {
		name := strings.TrimSpace(row.value)
		if name == "" {
			continue
		}
		m.assign(row.cell, SchemeMEASO, NormalizeName(name))
	}
	return nil
}

type maskRow struct {
	cell  grid.Cell
	value string
}

// readMaskRows parses a mask table with lon/lat columns and one value
// column chosen from valueColumns (first header match wins).
func readMaskRows(r io.Reader, valueColumns []string) ([]maskRow, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	lonIdx, latIdx, valIdx := -1, -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch h {
		case "lon", "longitude", "x":
			lonIdx = i
		case "lat", "latitude", "y":
			latIdx = i
		default:
			for _, c := range valueColumns {
				if h == c {
					valIdx = i
					break
				}
			}
		}
	}
	if lonIdx < 0 || latIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("missing required columns in %v", header)
	}

	var rows []maskRow
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[lonIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid longitude %q", line, record[lonIdx])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(record[latIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid latitude %q", line, record[latIdx])
		}
		rows = append(rows, maskRow{
			cell:  grid.Cell{Lon: lon, Lat: lat},
			value: record[valIdx],
		})
	}
	return rows, nil
}

// readKeyTable parses the numeric key to display name table.
func readKeyTable(r io.Reader) (map[int]string, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	keyIdx, nameIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "key", "domain", "id":
			keyIdx = i
		case "name", "region", "domain_name":
			nameIdx = i
		}
	}
	if keyIdx < 0 || nameIdx < 0 {
		return nil, fmt.Errorf("missing key or name column in %v", header)
	}

	names := make(map[int]string)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		k, err := strconv.Atoi(strings.TrimSpace(record[keyIdx]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid key %q", line, record[keyIdx])
		}
		names[k] = strings.TrimSpace(record[nameIdx])
	}
	return names, nil
}
