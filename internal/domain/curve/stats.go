package curve

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// Accuracy is 1 - MAPE, clamped to [0, 1]. Points whose actual value is 0
// are excluded; with no usable points the accuracy is 0.
func Accuracy(actual, predicted []float64) float64 {
	var sum float64
	var n int
	for i, a := range actual {
		if a == 0 {
			continue
		}
		sum += math.Abs(a-predicted[i]) / math.Abs(a)
		n++
	}
	if n == 0 {
		return 0
	}
	acc := 1 - sum/float64(n)
	if math.IsNaN(acc) || acc < 0 {
		return 0
	}
	return math.Min(acc, 1)
}

func accuracyOf(c *CostCurve, xs, ys []float64) float64 {
	preds := make([]float64, len(xs))
	for i, x := range xs {
		preds[i] = c.Predict(x)
	}
	return Accuracy(ys, preds)
}

// Example is a single point-level prediction included in an evaluation.
type Example struct {
	Input     float64 `json:"input"`
	Actual    float64 `json:"actual"`
	Predicted float64 `json:"predicted"`
	Error     float64 `json:"error"`
}

// Evaluation holds fit statistics for a curve over a test set. Errors are
// actual minus predicted.
type Evaluation struct {
	CurveID           string    `json:"curveId"`
	SampleSize        int       `json:"sampleSize"`
	MeanError         float64   `json:"meanError"`
	MeanAbsoluteError float64   `json:"meanAbsoluteError"`
	MaxError          float64   `json:"maxError"`
	StdDevError       float64   `json:"stdDevError"`
	RSquared          float64   `json:"rSquared"`
	Accuracy          float64   `json:"accuracy"`
	Examples          []Example `json:"examples"`
}

// Evaluate scores c against test points. At most maxExamples point-level
// predictions are included.
func Evaluate(c *CostCurve, test []CostDataPoint, maxExamples int) (Evaluation, error) {
	xs, ys := Extract(test, c.InputDimension, c.OutputDimension)
	if len(xs) == 0 {
		return Evaluation{}, fmt.Errorf("no test points carry %q and %q: %w", c.InputDimension, c.OutputDimension, domain.ErrValidation)
	}

	ev := Evaluation{CurveID: c.ID, SampleSize: len(xs)}
	errs := make([]float64, len(xs))
	preds := make([]float64, len(xs))
	var absSum float64
	for i, x := range xs {
		preds[i] = c.Predict(x)
		errs[i] = ys[i] - preds[i]
		absSum += math.Abs(errs[i])
		ev.MaxError = math.Max(ev.MaxError, math.Abs(errs[i]))
		if i < maxExamples {
			ev.Examples = append(ev.Examples, Example{Input: x, Actual: ys[i], Predicted: preds[i], Error: errs[i]})
		}
	}

	n := float64(len(xs))
	ev.MeanError = mean(errs)
	ev.MeanAbsoluteError = absSum / n
	ev.StdDevError = stdDev(errs)
	ev.RSquared = rSquared(ys, errs)
	ev.Accuracy = Accuracy(ys, preds)
	return ev, nil
}

// rSquared is 1 - SSres/SStot, or 0 when the actual values have no variance.
func rSquared(actual, residuals []float64) float64 {
	m := mean(actual)
	var ssRes, ssTot float64
	for i, a := range actual {
		ssRes += residuals[i] * residuals[i]
		ssTot += (a - m) * (a - m)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// HoldoutSplit shuffles points with rng and returns disjoint train and test
// sets. The test set holds round(len*ratio) points, at least one.
func HoldoutSplit(points []CostDataPoint, ratio float64, rng *rand.Rand) (train, test []CostDataPoint) {
	if len(points) == 0 {
		return nil, nil
	}
	idx := rng.Perm(len(points))
	nTest := int(math.Round(float64(len(points)) * ratio))
	nTest = max(1, min(nTest, len(points)))

	test = make([]CostDataPoint, 0, nTest)
	train = make([]CostDataPoint, 0, len(points)-nTest)
	for j, i := range idx {
		if j < nTest {
			test = append(test, points[i])
		} else {
			train = append(train, points[i])
		}
	}
	return train, test
}

// FactorImpact describes how strongly one factor moves the target.
type FactorImpact struct {
	Factor      string  `json:"factor"`
	Correlation float64 `json:"correlation"`
	Elasticity  float64 `json:"elasticity"`
	SampleSize  int     `json:"sampleSize"`
}

// AnalyzeFactors computes Pearson correlation and elasticity at the means
// for each factor against target, ranked by absolute correlation. When no
// factors are named, every feature on the first point is analyzed.
func AnalyzeFactors(points []CostDataPoint, target string, factors []string) ([]FactorImpact, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("factor analysis needs at least 2 points: %w", domain.ErrValidation)
	}
	if target == "" {
		target = FeatureCost
	}
	if len(factors) == 0 {
		for _, f := range points[0].FeatureNames() {
			if f != target {
				factors = append(factors, f)
			}
		}
	}

	out := make([]FactorImpact, 0, len(factors))
	for _, f := range factors {
		xs, ys := Extract(points, f, target)
		corr := correlation(xs, ys)
		out = append(out, FactorImpact{
			Factor:      f,
			Correlation: corr,
			Elasticity:  elasticity(xs, ys, corr),
			SampleSize:  len(xs),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Correlation) > math.Abs(out[j].Correlation)
	})
	return out, nil
}

// correlation is Pearson's r, or 0 when either series is constant.
func correlation(xs, ys []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sx, sy := stdDev(xs), stdDev(ys)
	mx, my := mean(xs), mean(ys)
	if negligible(sx, mx) || negligible(sy, my) {
		return 0
	}
	var cov float64
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
	}
	return cov / float64(len(xs)) / (sx * sy)
}

// elasticity is corr * (sy/sx) * (mean x / mean y), or 0 when undefined.
func elasticity(xs, ys []float64, corr float64) float64 {
	sx, sy := stdDev(xs), stdDev(ys)
	mx, my := mean(xs), mean(ys)
	if negligible(sx, mx) || negligible(sy, my) || my == 0 {
		return 0
	}
	return corr * (sy / sx) * (mx / my)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stdDev is the population standard deviation.
func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)))
}

// negligible reports whether a standard deviation is rounding noise relative
// to the series mean, i.e. the series is constant.
func negligible(sd, m float64) bool {
	return sd <= 1e-12*math.Max(1, math.Abs(m))
}
