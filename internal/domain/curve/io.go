package curve

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// CSV columns mapped onto CostDataPoint fields. Every other column must be
// numeric and becomes a factor.
const (
	columnID           = "id"
	columnBuildingType = "building_type"
	columnRegion       = "region"
)

// ReadPoints decodes a JSON array of points, or CSV with a header row when
// format is "csv". The result must contain at least one point.
func ReadPoints(r io.Reader, format string) ([]CostDataPoint, error) {
	var (
		points []CostDataPoint
		err    error
	)
	switch strings.ToLower(format) {
	case "", "json":
		err = json.NewDecoder(r).Decode(&points)
		if err != nil {
			err = fmt.Errorf("decode points: %v: %w", err, domain.ErrValidation)
		}
	case "csv":
		points, err = readCSV(r)
	default:
		return nil, fmt.Errorf("unknown point format %q: %w", format, domain.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no data points: %w", domain.ErrValidation)
	}
	return points, nil
}

func readCSV(r io.Reader) ([]CostDataPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %v: %w", err, domain.ErrValidation)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	if !hasColumn(header, FeatureCost) {
		return nil, fmt.Errorf("csv header needs a %q column: %w", FeatureCost, domain.ErrValidation)
	}

	var points []CostDataPoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %v: %w", line, err, domain.ErrValidation)
		}
		p, err := pointFromRecord(header, rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		points = append(points, p)
	}
}

func pointFromRecord(header, rec []string) (CostDataPoint, error) {
	var p CostDataPoint
	for i, col := range header {
		val := strings.TrimSpace(rec[i])
		switch col {
		case columnID:
			p.ID = val
			continue
		case columnBuildingType:
			p.BuildingType = val
			continue
		case columnRegion:
			p.Region = val
			continue
		}
		if val == "" {
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return p, fmt.Errorf("column %q: %q is not a number: %w", col, val, domain.ErrValidation)
		}
		p.Set(col, f)
	}
	return p, nil
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}
