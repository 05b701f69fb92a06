package curve

import (
	"fmt"
	"math"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// Options controls a training run. Zero values fall back to the package defaults.
type Options struct {
	Family          Family
	Degree          int // polynomial only
	Segments        int // piecewise only
	InputDimension  string
	OutputDimension string
	MaxIterations   int
	TargetAccuracy  float64
	LearningRate    float64
	LogEpsilon      float64
	MinDataPoints   int
	Constraints     Constraints
}

const (
	DefaultMaxIterations  = 1000
	DefaultTargetAccuracy = 0.95
	DefaultLearningRate   = 0.1
	DefaultMinDataPoints  = 5
	DefaultDegree         = 2
	DefaultSegments       = 3
)

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.TargetAccuracy <= 0 {
		o.TargetAccuracy = DefaultTargetAccuracy
	}
	if o.LearningRate <= 0 {
		o.LearningRate = DefaultLearningRate
	}
	if o.LogEpsilon <= 0 {
		o.LogEpsilon = defaultLogEpsilon
	}
	if o.MinDataPoints <= 0 {
		o.MinDataPoints = DefaultMinDataPoints
	}
	if o.Family == FamilyPolynomial && o.Degree == 0 {
		o.Degree = DefaultDegree
	}
	if o.Family == FamilyPiecewise && o.Segments == 0 {
		o.Segments = DefaultSegments
	}
	return o
}

// LogEntry is one sampled iteration of a training run.
type LogEntry struct {
	Iteration int     `json:"iteration"`
	Loss      float64 `json:"loss"`
	Accuracy  float64 `json:"accuracy"`
}

// TrainingLog summarizes how a curve was fitted.
type TrainingLog struct {
	Iterations    int        `json:"iterations"`
	BestIteration int        `json:"bestIteration"`
	Converged     bool       `json:"converged"`
	FinalAccuracy float64    `json:"finalAccuracy"`
	LearningRate  float64    `json:"learningRate"`
	Entries       []LogEntry `json:"entries"`
}

// Train fits a curve of opts.Family to data and returns the best parameters
// seen during descent, which are not necessarily the last iterate.
func Train(id string, data []CostDataPoint, opts Options, now time.Time) (*CostCurve, TrainingLog, error) {
	opts = opts.withDefaults()
	if err := opts.validate(data); err != nil {
		return nil, TrainingLog{}, err
	}

	xs, ys := Extract(data, opts.InputDimension, opts.OutputDimension)
	c := &CostCurve{
		ID:              id,
		Family:          opts.Family,
		Domain:          domainOf(xs),
		InputDimension:  opts.InputDimension,
		OutputDimension: opts.OutputDimension,
		Constraints:     opts.Constraints,
		SampleSize:      len(xs),
		TrainedAt:       now,
	}

	score := func(p Parameters) float64 {
		cand := *c
		cand.Parameters = p
		return accuracyOf(&cand, xs, ys)
	}

	var obj objective
	switch opts.Family {
	case FamilyLinear:
		obj = linearObjective(xs, ys, func(slope, intercept float64) Parameters {
			return Parameters{Linear: &LinearParams{Slope: slope, Intercept: intercept}}
		})
	case FamilyExponential:
		// ln(y) = ln(a) + b*x
		lys := make([]float64, len(ys))
		for i, y := range ys {
			lys[i] = safeLog(y, opts.LogEpsilon)
		}
		obj = linearObjective(xs, lys, func(slope, intercept float64) Parameters {
			return Parameters{Exponential: &ExponentialParams{A: math.Exp(intercept), B: slope}}
		})
	case FamilyLogarithmic:
		lxs := make([]float64, len(xs))
		for i, x := range xs {
			lxs[i] = safeLog(x, opts.LogEpsilon)
		}
		eps := opts.LogEpsilon
		obj = linearObjective(lxs, ys, func(slope, intercept float64) Parameters {
			return Parameters{Logarithmic: &LogarithmicParams{A: intercept, B: slope, Epsilon: eps}}
		})
	case FamilyPolynomial:
		obj = polynomialObjective(xs, ys, opts.Degree)
	case FamilyPiecewise:
		obj = piecewiseObjective(xs, ys, c.Domain, opts.Segments)
	}
	obj.lr = math.Min(opts.LearningRate, obj.maxStep)

	params, acc, log := descend(obj, opts, score)
	c.Parameters = params
	c.Accuracy = acc
	return c, log, nil
}

func (o Options) validate(data []CostDataPoint) error {
	if _, err := ParseFamily(string(o.Family)); err != nil {
		return err
	}
	if len(data) < o.MinDataPoints {
		return fmt.Errorf("insufficient data: %d points, need at least %d: %w", len(data), o.MinDataPoints, domain.ErrValidation)
	}
	if err := ValidateDimensions(data, o.InputDimension, o.OutputDimension); err != nil {
		return err
	}
	if o.TargetAccuracy > 1 {
		return fmt.Errorf("targetAccuracy must be in (0, 1]: %w", domain.ErrValidation)
	}
	if o.Family == FamilyPolynomial && o.Degree < 1 {
		return fmt.Errorf("polynomial degree must be >= 1: %w", domain.ErrValidation)
	}
	if o.Family == FamilyPiecewise {
		if o.Segments < 1 {
			return fmt.Errorf("piecewise segments must be >= 1: %w", domain.ErrValidation)
		}
		xs, _ := Extract(data, o.InputDimension, o.OutputDimension)
		if d := domainOf(xs); d.Max <= d.Min {
			return fmt.Errorf("piecewise fit needs a non-degenerate input range: %w", domain.ErrValidation)
		}
	}
	return o.Constraints.Validate()
}

// objective is a least-squares problem over a parameter vector expressed in
// standardized input space.
type objective struct {
	init []float64
	// gradient writes dLoss/dp into g and returns the mean squared error at p.
	gradient func(p, g []float64) float64
	// decode maps a parameter vector back to curve parameters in input space.
	decode func(p []float64) Parameters
	// maxStep bounds the learning rate so descent cannot diverge.
	maxStep float64
	lr      float64
}

func descend(obj objective, opts Options, score func(Parameters) float64) (Parameters, float64, TrainingLog) {
	p := append([]float64(nil), obj.init...)
	g := make([]float64, len(p))

	best := obj.decode(p)
	bestAcc := score(best)
	log := TrainingLog{LearningRate: obj.lr}

	every := opts.MaxIterations / 50
	if every < 1 {
		every = 1
	}

	iter := 0
	for iter < opts.MaxIterations && bestAcc < opts.TargetAccuracy {
		loss := obj.gradient(p, g)
		if iter == 0 || iter%every == 0 {
			log.Entries = append(log.Entries, LogEntry{Iteration: iter, Loss: loss, Accuracy: score(obj.decode(p))})
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			break
		}
		for i := range p {
			p[i] -= obj.lr * g[i]
		}
		iter++

		cand := obj.decode(p)
		if acc := score(cand); acc > bestAcc {
			best, bestAcc = cand, acc
			log.BestIteration = iter
		}
	}

	final := obj.gradient(p, g)
	log.Entries = append(log.Entries, LogEntry{Iteration: iter, Loss: final, Accuracy: score(obj.decode(p))})
	log.Iterations = iter
	log.FinalAccuracy = bestAcc
	log.Converged = bestAcc >= opts.TargetAccuracy
	return best, bestAcc, log
}

// standardizer maps x to z = (x - mean) / std.
type standardizer struct {
	mean, std float64
}

func newStandardizer(xs []float64) standardizer {
	s := standardizer{mean: mean(xs), std: stdDev(xs)}
	if negligible(s.std, s.mean) {
		s.std = 1
	}
	return s
}

func (s standardizer) apply(xs []float64) []float64 {
	zs := make([]float64, len(xs))
	for i, x := range xs {
		zs[i] = (x - s.mean) / s.std
	}
	return zs
}

// toLinear converts y = c0 + c1*z back to slope and intercept in x.
func (s standardizer) toLinear(c0, c1 float64) (slope, intercept float64) {
	slope = c1 / s.std
	return slope, c0 - slope*s.mean
}

func linearObjective(xs, ys []float64, build func(slope, intercept float64) Parameters) objective {
	st := newStandardizer(xs)
	zs := st.apply(xs)
	n := float64(len(zs))

	return objective{
		init: []float64{mean(ys), 0},
		gradient: func(p, g []float64) float64 {
			g[0], g[1] = 0, 0
			var loss float64
			for i, z := range zs {
				r := p[0] + p[1]*z - ys[i]
				g[0] += r
				g[1] += r * z
				loss += r * r
			}
			g[0] *= 2 / n
			g[1] *= 2 / n
			return loss / n
		},
		decode: func(p []float64) Parameters {
			return build(st.toLinear(p[0], p[1]))
		},
		// Hessian of the standardized problem is 2I.
		maxStep: 0.5,
	}
}

func polynomialObjective(xs, ys []float64, degree int) objective {
	st := newStandardizer(xs)
	zs := st.apply(xs)
	n := float64(len(zs))
	terms := degree + 1

	pow := make([][]float64, len(zs))
	var trace float64
	for i, z := range zs {
		pow[i] = make([]float64, terms)
		v := 1.0
		for k := range terms {
			pow[i][k] = v
			trace += v * v
			v *= z
		}
	}
	trace = 2 * trace / n

	init := make([]float64, terms)
	init[0] = mean(ys)

	return objective{
		init: init,
		gradient: func(p, g []float64) float64 {
			clear(g)
			var loss float64
			for i, row := range pow {
				r := -ys[i]
				for k, v := range row {
					r += p[k] * v
				}
				for k, v := range row {
					g[k] += r * v
				}
				loss += r * r
			}
			for k := range g {
				g[k] *= 2 / n
			}
			return loss / n
		},
		decode: func(p []float64) Parameters {
			return Parameters{Polynomial: &PolynomialParams{Coefficients: expandStandardized(p, st)}}
		},
		// The Hessian's largest eigenvalue is bounded by its trace.
		maxStep: 1 / trace,
	}
}

// expandStandardized rewrites sum(c[k] * ((x-mean)/std)^k) as sum(a[i] * x^i).
func expandStandardized(c []float64, st standardizer) []float64 {
	a := make([]float64, len(c))
	for k, ck := range c {
		if ck == 0 {
			continue
		}
		scale := ck / math.Pow(st.std, float64(k))
		for i := 0; i <= k; i++ {
			a[i] += scale * binomial(k, i) * math.Pow(-st.mean, float64(k-i))
		}
	}
	return a
}

func binomial(n, k int) float64 {
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}

func piecewiseObjective(xs, ys []float64, d Domain, segments int) objective {
	width := (d.Max - d.Min) / float64(segments)
	pw := &PiecewiseParams{Breakpoints: make([]float64, segments+1), Segments: make([]LinearParams, segments)}
	for k := range segments {
		pw.Breakpoints[k] = d.Min + float64(k)*width
	}
	pw.Breakpoints[segments] = d.Max

	type segment struct {
		idx []int
		st  standardizer
		zs  []float64
	}
	segs := make([]segment, segments)
	for i, x := range xs {
		k := pw.segmentFor(x)
		segs[k].idx = append(segs[k].idx, i)
	}

	globalMean := mean(ys)
	init := make([]float64, 2*segments)
	for k := range segs {
		sx := make([]float64, len(segs[k].idx))
		sy := make([]float64, len(segs[k].idx))
		for j, i := range segs[k].idx {
			sx[j], sy[j] = xs[i], ys[i]
		}
		segs[k].st = newStandardizer(sx)
		segs[k].zs = segs[k].st.apply(sx)
		init[2*k] = globalMean
		if len(sy) > 0 {
			init[2*k] = mean(sy)
		}
	}

	n := float64(len(xs))
	return objective{
		init: init,
		gradient: func(p, g []float64) float64 {
			clear(g)
			var loss float64
			for k, s := range segs {
				if len(s.idx) == 0 {
					continue
				}
				c0, c1 := p[2*k], p[2*k+1]
				var g0, g1 float64
				for j, i := range s.idx {
					z := s.zs[j]
					r := c0 + c1*z - ys[i]
					g0 += r
					g1 += r * z
					loss += r * r
				}
				m := float64(len(s.idx))
				g[2*k] = 2 * g0 / m
				g[2*k+1] = 2 * g1 / m
			}
			return loss / n
		},
		decode: func(p []float64) Parameters {
			out := &PiecewiseParams{
				Breakpoints: pw.Breakpoints,
				Segments:    make([]LinearParams, segments),
			}
			for k, s := range segs {
				slope, intercept := s.st.toLinear(p[2*k], p[2*k+1])
				out.Segments[k] = LinearParams{Slope: slope, Intercept: intercept}
			}
			return Parameters{Piecewise: out}
		},
		// Each segment is an independent standardized linear problem.
		maxStep: 0.5,
	}
}

func domainOf(xs []float64) Domain {
	if len(xs) == 0 {
		return Domain{}
	}
	d := Domain{Min: xs[0], Max: xs[0]}
	for _, x := range xs[1:] {
		d.Min = math.Min(d.Min, x)
		d.Max = math.Max(d.Max, x)
	}
	return d
}
