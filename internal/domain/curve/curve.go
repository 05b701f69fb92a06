// Package curve implements cost-curve training, evaluation, application and
// export. A curve is one of five parametric families fitted to labeled cost
// data by batch gradient descent. Curves are immutable once trained.
package curve

import (
	"fmt"
	"math"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// Family identifies the parametric shape of a curve.
type Family string

const (
	FamilyLinear      Family = "linear"
	FamilyPolynomial  Family = "polynomial"
	FamilyExponential Family = "exponential"
	FamilyLogarithmic Family = "logarithmic"
	FamilyPiecewise   Family = "piecewise"
)

var validFamilies = map[Family]bool{
	FamilyLinear:      true,
	FamilyPolynomial:  true,
	FamilyExponential: true,
	FamilyLogarithmic: true,
	FamilyPiecewise:   true,
}

// ParseFamily rejects unknown families.
func ParseFamily(s string) (Family, error) {
	f := Family(s)
	if !validFamilies[f] {
		return "", fmt.Errorf("unknown curve family %q: %w", s, domain.ErrValidation)
	}
	return f, nil
}

// LinearParams: y = Slope*x + Intercept.
type LinearParams struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// PolynomialParams: y = sum(Coefficients[i] * x^i).
type PolynomialParams struct {
	Coefficients []float64 `json:"coefficients"`
}

// ExponentialParams: y = A * e^(B*x).
type ExponentialParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// LogarithmicParams: y = A + B*ln(max(x, Epsilon)).
type LogarithmicParams struct {
	A       float64 `json:"a"`
	B       float64 `json:"b"`
	Epsilon float64 `json:"epsilon,omitempty"`
}

func (p *LogarithmicParams) eps() float64 {
	if p.Epsilon > 0 {
		return p.Epsilon
	}
	return defaultLogEpsilon
}

// PiecewiseParams holds s+1 breakpoints and s independent linear segments.
// Segment k covers [Breakpoints[k], Breakpoints[k+1]); the last segment also
// owns the upper domain bound and everything beyond it.
type PiecewiseParams struct {
	Breakpoints []float64      `json:"breakpoints"`
	Segments    []LinearParams `json:"segments"`
}

// segmentFor returns the index of the segment that owns x. Inputs exactly on
// an interior breakpoint belong to the segment that starts there.
func (p *PiecewiseParams) segmentFor(x float64) int {
	for k := len(p.Segments) - 1; k > 0; k-- {
		if x >= p.Breakpoints[k] {
			return k
		}
	}
	return 0
}

// Parameters is a tagged union; exactly one field is set, matching the
// curve's Family.
type Parameters struct {
	Linear      *LinearParams      `json:"linear,omitempty"`
	Polynomial  *PolynomialParams  `json:"polynomial,omitempty"`
	Exponential *ExponentialParams `json:"exponential,omitempty"`
	Logarithmic *LogarithmicParams `json:"logarithmic,omitempty"`
	Piecewise   *PiecewiseParams   `json:"piecewise,omitempty"`
}

// Domain is the closed input range observed during training.
type Domain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether x lies within the domain.
func (d Domain) Contains(x float64) bool {
	return x >= d.Min && x <= d.Max
}

// Constraints bound the curve's predictions.
type Constraints struct {
	MinValue    *float64 `json:"minValue,omitempty"`
	MaxValue    *float64 `json:"maxValue,omitempty"`
	NonNegative bool     `json:"nonNegative,omitempty"`
}

func (c Constraints) apply(y float64) float64 {
	if c.NonNegative && y < 0 {
		y = 0
	}
	if c.MinValue != nil && y < *c.MinValue {
		y = *c.MinValue
	}
	if c.MaxValue != nil && y > *c.MaxValue {
		y = *c.MaxValue
	}
	return y
}

// Validate rejects inverted bounds.
func (c Constraints) Validate() error {
	if c.MinValue != nil && c.MaxValue != nil && *c.MinValue > *c.MaxValue {
		return fmt.Errorf("constraints: minValue %g exceeds maxValue %g: %w", *c.MinValue, *c.MaxValue, domain.ErrValidation)
	}
	return nil
}

// CostCurve is a trained, immutable cost-prediction model.
type CostCurve struct {
	ID              string      `json:"id"`
	Family          Family      `json:"family"`
	Parameters      Parameters  `json:"parameters"`
	Domain          Domain      `json:"domain"`
	InputDimension  string      `json:"inputDimension"`
	OutputDimension string      `json:"outputDimension"`
	Accuracy        float64     `json:"accuracy"`
	Constraints     Constraints `json:"constraints"`
	SampleSize      int         `json:"sampleSize"`
	TrainedAt       time.Time   `json:"trainedAt"`
}

// Predict evaluates the curve at x, applying the curve's constraints.
// Inputs outside the domain are evaluated without complaint.
func (c *CostCurve) Predict(x float64) float64 {
	return c.Constraints.apply(c.raw(x))
}

func (c *CostCurve) raw(x float64) float64 {
	p := c.Parameters
	switch c.Family {
	case FamilyLinear:
		return p.Linear.Slope*x + p.Linear.Intercept
	case FamilyPolynomial:
		return horner(p.Polynomial.Coefficients, x)
	case FamilyExponential:
		return p.Exponential.A * math.Exp(p.Exponential.B*x)
	case FamilyLogarithmic:
		return p.Logarithmic.A + p.Logarithmic.B*safeLog(x, p.Logarithmic.eps())
	case FamilyPiecewise:
		seg := p.Piecewise.Segments[p.Piecewise.segmentFor(x)]
		return seg.Slope*x + seg.Intercept
	}
	return math.NaN()
}

// Prediction is one evaluated input.
type Prediction struct {
	Input   float64 `json:"input"`
	Output  float64 `json:"output"`
	Warning string  `json:"warning,omitempty"`
}

// Apply evaluates the curve at every input. Inputs outside the training
// domain are still evaluated and carry a warning.
func (c *CostCurve) Apply(inputs []float64) []Prediction {
	out := make([]Prediction, len(inputs))
	for i, x := range inputs {
		out[i] = Prediction{Input: x, Output: c.Predict(x)}
		if !c.Domain.Contains(x) {
			out[i].Warning = fmt.Sprintf("input %g is outside the training domain [%g, %g]; extrapolated", x, c.Domain.Min, c.Domain.Max)
		}
	}
	return out
}

// Summary is the listing view of a curve.
type Summary struct {
	ID              string    `json:"id"`
	Family          Family    `json:"family"`
	InputDimension  string    `json:"inputDimension"`
	OutputDimension string    `json:"outputDimension"`
	Accuracy        float64   `json:"accuracy"`
	TrainedAt       time.Time `json:"trainedAt"`
}

// Summarize returns the listing view of c.
func (c *CostCurve) Summarize() Summary {
	return Summary{
		ID:              c.ID,
		Family:          c.Family,
		InputDimension:  c.InputDimension,
		OutputDimension: c.OutputDimension,
		Accuracy:        c.Accuracy,
		TrainedAt:       c.TrainedAt,
	}
}

func horner(coeffs []float64, x float64) float64 {
	y := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*x + coeffs[i]
	}
	return y
}

const defaultLogEpsilon = 1e-6

// safeLog floors non-positive and tiny inputs to eps instead of failing.
func safeLog(x, eps float64) float64 {
	if x < eps {
		x = eps
	}
	return math.Log(x)
}
