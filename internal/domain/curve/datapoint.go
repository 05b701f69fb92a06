package curve

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// Built-in feature names. Any other name is looked up in Factors.
const (
	FeatureSquareFeet = "square_feet"
	FeatureYearBuilt  = "year_built"
	FeatureAge        = "age"
	FeatureCost       = "cost"
)

// CostDataPoint is one labeled observation: building attributes, named
// factor values and the observed cost. The core never mutates data points.
//
// A built-in attribute is present when it is non-zero or was explicitly set
// to zero by decoding or Set, so {"age": 0} describes a new building while a
// point without an age has none.
type CostDataPoint struct {
	ID           string
	BuildingType string
	Region       string
	SquareFeet   float64
	YearBuilt    float64
	Age          float64
	Cost         float64
	Factors      map[string]float64

	zero attrs
}

// attrs marks built-in attributes explicitly set to zero.
type attrs uint8

const (
	attrSquareFeet attrs = 1 << iota
	attrYearBuilt
	attrAge
)

func (p CostDataPoint) present(a attrs, v float64) bool {
	return v != 0 || p.zero&a != 0
}

// Feature returns the named value and whether the point carries it.
func (p CostDataPoint) Feature(name string) (float64, bool) {
	switch name {
	case FeatureSquareFeet:
		return p.SquareFeet, p.present(attrSquareFeet, p.SquareFeet)
	case FeatureYearBuilt:
		return p.YearBuilt, p.present(attrYearBuilt, p.YearBuilt)
	case FeatureAge:
		return p.Age, p.present(attrAge, p.Age)
	case FeatureCost:
		return p.Cost, true
	}
	v, ok := p.Factors[name]
	return v, ok
}

// Set records the named value. Built-in attributes set to zero stay
// present; any other name is stored as a factor.
func (p *CostDataPoint) Set(name string, v float64) {
	switch name {
	case FeatureSquareFeet:
		p.SquareFeet = v
		p.markZero(attrSquareFeet, v)
	case FeatureYearBuilt:
		p.YearBuilt = v
		p.markZero(attrYearBuilt, v)
	case FeatureAge:
		p.Age = v
		p.markZero(attrAge, v)
	case FeatureCost:
		p.Cost = v
	default:
		if p.Factors == nil {
			p.Factors = make(map[string]float64)
		}
		p.Factors[name] = v
	}
}

func (p *CostDataPoint) markZero(a attrs, v float64) {
	if v == 0 {
		p.zero |= a
	} else {
		p.zero &^= a
	}
}

// pointJSON is the wire form. Pointers keep an explicit zero apart from an
// omitted attribute.
type pointJSON struct {
	ID           string             `json:"id,omitempty"`
	BuildingType string             `json:"buildingType,omitempty"`
	Region       string             `json:"region,omitempty"`
	SquareFeet   *float64           `json:"squareFeet,omitempty"`
	YearBuilt    *float64           `json:"yearBuilt,omitempty"`
	Age          *float64           `json:"age,omitempty"`
	Cost         float64            `json:"cost"`
	Factors      map[string]float64 `json:"factors,omitempty"`
}

func (p CostDataPoint) MarshalJSON() ([]byte, error) {
	w := pointJSON{ID: p.ID, BuildingType: p.BuildingType, Region: p.Region, Cost: p.Cost, Factors: p.Factors}
	if v, ok := p.Feature(FeatureSquareFeet); ok {
		w.SquareFeet = &v
	}
	if v, ok := p.Feature(FeatureYearBuilt); ok {
		w.YearBuilt = &v
	}
	if v, ok := p.Feature(FeatureAge); ok {
		w.Age = &v
	}
	return json.Marshal(w)
}

func (p *CostDataPoint) UnmarshalJSON(data []byte) error {
	var w pointJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = CostDataPoint{ID: w.ID, BuildingType: w.BuildingType, Region: w.Region, Cost: w.Cost, Factors: w.Factors}
	p.SetOptional(FeatureSquareFeet, w.SquareFeet)
	p.SetOptional(FeatureYearBuilt, w.YearBuilt)
	p.SetOptional(FeatureAge, w.Age)
	return nil
}

// SetOptional calls Set when v is non-nil.
func (p *CostDataPoint) SetOptional(name string, v *float64) {
	if v != nil {
		p.Set(name, *v)
	}
}

// Optional returns the named value, or nil when the point does not carry it.
func (p CostDataPoint) Optional(name string) *float64 {
	v, ok := p.Feature(name)
	if !ok {
		return nil
	}
	return &v
}

// FeatureNames lists the dimensions available on p in a stable order,
// excluding the target itself.
func (p CostDataPoint) FeatureNames() []string {
	var names []string
	for _, n := range []string{FeatureSquareFeet, FeatureYearBuilt, FeatureAge} {
		if _, ok := p.Feature(n); ok {
			names = append(names, n)
		}
	}
	factors := make([]string, 0, len(p.Factors))
	for n := range p.Factors {
		factors = append(factors, n)
	}
	sort.Strings(factors)
	return append(names, factors...)
}

// ValidateDimensions checks that every point carries both dimensions.
func ValidateDimensions(points []CostDataPoint, input, output string) error {
	if input == "" {
		return fmt.Errorf("inputDimension is required: %w", domain.ErrValidation)
	}
	if output == "" {
		return fmt.Errorf("outputDimension is required: %w", domain.ErrValidation)
	}
	if input == output {
		return fmt.Errorf("inputDimension and outputDimension must differ: %w", domain.ErrValidation)
	}
	for i, p := range points {
		if _, ok := p.Feature(input); !ok {
			return fmt.Errorf("data point %d has no feature %q: %w", i, input, domain.ErrValidation)
		}
		if _, ok := p.Feature(output); !ok {
			return fmt.Errorf("data point %d has no feature %q: %w", i, output, domain.ErrValidation)
		}
	}
	return nil
}

// Extract returns the (x, y) series for the given dimensions. Points missing
// either dimension are skipped.
func Extract(points []CostDataPoint, input, output string) (xs, ys []float64) {
	xs = make([]float64, 0, len(points))
	ys = make([]float64, 0, len(points))
	for _, p := range points {
		x, okX := p.Feature(input)
		y, okY := p.Feature(output)
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return xs, ys
}
