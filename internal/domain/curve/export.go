package curve

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// Format is an export representation.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatFunction Format = "function"
	FormatMathML   Format = "mathml"
)

var contentTypes = map[Format]string{
	FormatJSON:     "application/json",
	FormatCSV:      "text/csv",
	FormatFunction: "text/plain",
	FormatMathML:   "application/mathml+xml",
}

// ParseFormat rejects unknown export formats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("unknown export format %q: %w", s, domain.ErrValidation)
	}
	return f, nil
}

// Export is a textual representation of a curve.
type Export struct {
	CurveID     string `json:"curveId"`
	Format      Format `json:"format"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// DefaultCSVSamples is the number of evenly spaced points in a CSV export.
const DefaultCSVSamples = 100

// Export renders c in the given format. samples only affects CSV.
func (c *CostCurve) Export(f Format, samples int) (Export, error) {
	var content string
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return Export{}, fmt.Errorf("marshal curve %s: %w", c.ID, err)
		}
		content = string(b)
	case FormatCSV:
		s, err := c.csv(samples)
		if err != nil {
			return Export{}, err
		}
		content = s
	case FormatFunction:
		content = c.function()
	case FormatMathML:
		content = c.mathML()
	default:
		return Export{}, fmt.Errorf("unknown export format %q: %w", f, domain.ErrValidation)
	}
	return Export{CurveID: c.ID, Format: f, ContentType: contentTypes[f], Content: content}, nil
}

func (c *CostCurve) csv(samples int) (string, error) {
	if samples < 2 {
		samples = DefaultCSVSamples
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{c.InputDimension, c.OutputDimension}); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	step := (c.Domain.Max - c.Domain.Min) / float64(samples-1)
	for i := range samples {
		x := c.Domain.Min + float64(i)*step
		if i == samples-1 {
			x = c.Domain.Max
		}
		if err := w.Write([]string{num(x), num(c.Predict(x))}); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// function renders the closed form in plain text, e.g. "f(x) = 3*x + 7".
func (c *CostCurve) function() string {
	p := c.Parameters
	var b strings.Builder
	fmt.Fprintf(&b, "# x = %s, f(x) = %s\n", c.InputDimension, c.OutputDimension)
	switch c.Family {
	case FamilyLinear:
		b.WriteString("f(x) = " + linearText(p.Linear.Slope, p.Linear.Intercept))
	case FamilyPolynomial:
		b.WriteString("f(x) = " + polynomialText(p.Polynomial.Coefficients))
	case FamilyExponential:
		fmt.Fprintf(&b, "f(x) = %s*exp(%s*x)", num(p.Exponential.A), num(p.Exponential.B))
	case FamilyLogarithmic:
		b.WriteString("f(x) = " + num(p.Logarithmic.A) + signedTerm(p.Logarithmic.B, "*ln(x)"))
	case FamilyPiecewise:
		pw := p.Piecewise
		for k, seg := range pw.Segments {
			if k > 0 {
				b.WriteByte('\n')
			}
			upper := "<"
			if k == len(pw.Segments)-1 {
				upper = "<="
			}
			fmt.Fprintf(&b, "f(x) = %s  for %s <= x %s %s",
				linearText(seg.Slope, seg.Intercept), num(pw.Breakpoints[k]), upper, num(pw.Breakpoints[k+1]))
		}
	}
	return b.String()
}

func linearText(slope, intercept float64) string {
	return num(slope) + "*x" + signedTerm(intercept, "")
}

func polynomialText(coeffs []float64) string {
	var b strings.Builder
	b.WriteString(num(coeffs[0]))
	for i := 1; i < len(coeffs); i++ {
		term := "*x"
		if i > 1 {
			term = "*x^" + strconv.Itoa(i)
		}
		b.WriteString(signedTerm(coeffs[i], term))
	}
	return b.String()
}

// signedTerm renders " + v<suffix>" or " - |v|<suffix>".
func signedTerm(v float64, suffix string) string {
	if v < 0 {
		return " - " + num(-v) + suffix
	}
	return " + " + num(v) + suffix
}

// mathML renders the closed form as presentation MathML.
func (c *CostCurve) mathML() string {
	p := c.Parameters
	var b strings.Builder
	b.WriteString(`<math xmlns="http://www.w3.org/1998/Math/MathML" display="block"><mrow>`)
	b.WriteString(`<mi>f</mi><mo>(</mo><mi>x</mi><mo>)</mo><mo>=</mo>`)
	switch c.Family {
	case FamilyLinear:
		b.WriteString(mlLinear(p.Linear.Slope, p.Linear.Intercept))
	case FamilyPolynomial:
		b.WriteString(mn(p.Polynomial.Coefficients[0]))
		for i := 1; i < len(p.Polynomial.Coefficients); i++ {
			b.WriteString(mlSign(p.Polynomial.Coefficients[i]))
			b.WriteString(mn(math.Abs(p.Polynomial.Coefficients[i])) + `<mo>&#x2062;</mo>`)
			if i == 1 {
				b.WriteString(`<mi>x</mi>`)
			} else {
				fmt.Fprintf(&b, `<msup><mi>x</mi><mn>%d</mn></msup>`, i)
			}
		}
	case FamilyExponential:
		b.WriteString(mn(p.Exponential.A) + `<mo>&#x2062;</mo>`)
		b.WriteString(`<msup><mi>e</mi><mrow>` + mn(p.Exponential.B) + `<mo>&#x2062;</mo><mi>x</mi></mrow></msup>`)
	case FamilyLogarithmic:
		b.WriteString(mn(p.Logarithmic.A) + mlSign(p.Logarithmic.B) + mn(math.Abs(p.Logarithmic.B)))
		b.WriteString(`<mo>&#x2062;</mo><mi>ln</mi><mo>&#x2061;</mo><mo>(</mo><mi>x</mi><mo>)</mo>`)
	case FamilyPiecewise:
		pw := p.Piecewise
		b.WriteString(`<mrow><mo>{</mo><mtable>`)
		for k, seg := range pw.Segments {
			upper := "&lt;"
			if k == len(pw.Segments)-1 {
				upper = "&le;"
			}
			fmt.Fprintf(&b, `<mtr><mtd>%s</mtd><mtd>%s<mo>&le;</mo><mi>x</mi><mo>%s</mo>%s</mtd></mtr>`,
				mlLinear(seg.Slope, seg.Intercept), mn(pw.Breakpoints[k]), upper, mn(pw.Breakpoints[k+1]))
		}
		b.WriteString(`</mtable></mrow>`)
	}
	b.WriteString(`</mrow></math>`)
	return b.String()
}

func mlLinear(slope, intercept float64) string {
	return mn(slope) + `<mo>&#x2062;</mo><mi>x</mi>` + mlSign(intercept) + mn(math.Abs(intercept))
}

func mlSign(v float64) string {
	if v < 0 {
		return `<mo>-</mo>`
	}
	return `<mo>+</mo>`
}

func mn(v float64) string {
	return `<mn>` + num(v) + `</mn>`
}
