package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	cfotel "github.com/bsvalues/TerraBuild-sub001/internal/adapter/otel"
	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/curve"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/cache"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/dataset"
)

// CurveAgentID is the routing id of the cost-curve agent.
const CurveAgentID = "curve"

// CurveDeps are the optional collaborators of the curve agent. A nil
// Datasets rejects dataset references; a nil Exports disables caching.
type CurveDeps struct {
	Datasets  dataset.Source
	Exports   cache.Cache
	ExportTTL time.Duration
}

type storedCurve struct {
	curve *curve.CostCurve
	data  []curve.CostDataPoint
}

// CurveAgent trains, evaluates, applies and exports cost curves. Trained
// curves are immutable and kept in a bounded LRU; the least recently used
// curve is dropped once curve.max_curves is reached.
type CurveAgent struct {
	*BaseAgent

	cfg    config.Curve
	deps   CurveDeps
	curves *lru.Cache[string, storedCurve]
}

// NewCurveAgent creates the curve agent.
func NewCurveAgent(cfg config.Curve, deps CurveDeps, opts ...AgentOption) (*CurveAgent, error) {
	curves, err := lru.New[string, storedCurve](cfg.MaxCurves)
	if err != nil {
		return nil, fmt.Errorf("curve store: %w", err)
	}
	a := &CurveAgent{cfg: cfg, deps: deps, curves: curves}

	caps := []Capability{
		CapabilityFor[curve.TrainPayload](curve.TypeTrain),
		CapabilityFor[curve.EvaluatePayload](curve.TypeEvaluate),
		CapabilityFor[curve.ApplyPayload](curve.TypeApply),
		CapabilityFor[curve.ExportPayload](curve.TypeExport),
		CapabilityFor[curve.AnalyzePayload](curve.TypeAnalyze),
		CapabilityFor[curve.ListPayload](curve.TypeList),
	}
	opts = append([]AgentOption{
		WithDescription("Trains and applies building cost prediction curves", "cost", "curve-fitting"),
		WithValidator(a.validate),
	}, opts...)
	a.BaseAgent = NewBaseAgent(CurveAgentID, "Cost Curve Agent", a, caps, opts...)
	return a, nil
}

// validate enforces the configured training limits at submission.
func (a *CurveAgent) validate(p task.Payload) error {
	if ap, ok := p.(curve.AnalyzePayload); ok && ap.Dataset != "" && a.deps.Datasets == nil {
		return fmt.Errorf("dataset %q requested but no dataset store is configured: %w", ap.Dataset, domain.ErrValidation)
	}
	tp, ok := p.(curve.TrainPayload)
	if !ok {
		return nil
	}
	if tp.Degree > a.cfg.MaxPolynomialDegree {
		return fmt.Errorf("degree %d exceeds max %d: %w", tp.Degree, a.cfg.MaxPolynomialDegree, domain.ErrValidation)
	}
	if tp.Segments > a.cfg.MaxSegments {
		return fmt.Errorf("segments %d exceeds max %d: %w", tp.Segments, a.cfg.MaxSegments, domain.ErrValidation)
	}
	if tp.Dataset != "" && a.deps.Datasets == nil {
		return fmt.Errorf("dataset %q requested but no dataset store is configured: %w", tp.Dataset, domain.ErrValidation)
	}
	if len(tp.Data) > 0 && len(tp.Data) < a.cfg.MinDataPoints {
		return fmt.Errorf("need at least %d data points, got %d: %w", a.cfg.MinDataPoints, len(tp.Data), domain.ErrValidation)
	}
	return nil
}

// Process dispatches on the payload variant.
func (a *CurveAgent) Process(ctx context.Context, t task.Task) (any, error) {
	switch p := t.Data.(type) {
	case curve.TrainPayload:
		return a.train(ctx, p)
	case curve.EvaluatePayload:
		return a.evaluate(p)
	case curve.ApplyPayload:
		c, err := a.lookup(p.CurveID)
		if err != nil {
			return nil, err
		}
		return c.curve.Apply(p.Inputs), nil
	case curve.ExportPayload:
		return a.export(ctx, p)
	case curve.AnalyzePayload:
		return a.analyze(ctx, p)
	case curve.ListPayload:
		return a.list(), nil
	default:
		return nil, fmt.Errorf("unsupported payload %T", t.Data)
	}
}

func (a *CurveAgent) train(ctx context.Context, p curve.TrainPayload) (curve.TrainResult, error) {
	data, err := a.points(ctx, p.Data, p.Dataset)
	if err != nil {
		return curve.TrainResult{}, err
	}
	opts := p.Options(curve.Options{
		MaxIterations:  a.cfg.MaxIterations,
		TargetAccuracy: a.cfg.TargetAccuracy,
		LearningRate:   a.cfg.LearningRate,
		LogEpsilon:     a.cfg.LogEpsilon,
		MinDataPoints:  a.cfg.MinDataPoints,
	})

	_, span := cfotel.StartTrainSpan(ctx, string(p.Family), len(data))
	c, log, err := curve.Train(uuid.NewString(), data, opts, a.now())
	cfotel.EndSpan(span, err)
	if err != nil {
		return curve.TrainResult{}, err
	}

	a.curves.Add(c.ID, storedCurve{curve: c, data: data})
	logger.FromContext(ctx, a.log).Info("curve trained", "curve_id", c.ID, "family", c.Family,
		"accuracy", c.Accuracy, "iterations", log.Iterations, "converged", log.Converged)
	return curve.TrainResult{Curve: c, TrainingLog: log}, nil
}

func (a *CurveAgent) evaluate(p curve.EvaluatePayload) (curve.Evaluation, error) {
	c, err := a.lookup(p.CurveID)
	if err != nil {
		return curve.Evaluation{}, err
	}
	test := p.TestData
	if len(test) == 0 {
		ratio := p.TestRatio
		if ratio == 0 {
			ratio = a.cfg.TestRatio
		}
		seed := p.Seed
		if seed == 0 {
			seed = uint64(a.now().UnixNano())
		}
		_, test = curve.HoldoutSplit(c.data, ratio, rand.New(rand.NewPCG(seed, seed)))
	}
	return curve.Evaluate(c.curve, test, a.cfg.MaxExamples)
}

func exportKey(curveID string, f curve.Format) string {
	return "export." + curveID + "." + string(f)
}

func (a *CurveAgent) export(ctx context.Context, p curve.ExportPayload) (curve.Export, error) {
	c, err := a.lookup(p.CurveID)
	if err != nil {
		return curve.Export{}, err
	}
	key := exportKey(p.CurveID, p.Format)
	if a.deps.Exports != nil {
		cached, ok, err := cache.GetJSON[curve.Export](ctx, a.deps.Exports, key)
		if err != nil {
			logger.FromContext(ctx, a.log).Warn("export cache get failed", "curve_id", p.CurveID, "format", p.Format, "error", err)
		}
		if ok {
			return cached, nil
		}
	}

	out, err := c.curve.Export(p.Format, a.cfg.CSVSamples)
	if err != nil {
		return curve.Export{}, err
	}
	if a.deps.Exports != nil {
		if err := cache.SetJSON(ctx, a.deps.Exports, key, out, a.deps.ExportTTL); err != nil {
			logger.FromContext(ctx, a.log).Warn("export cache set failed", "curve_id", p.CurveID, "format", p.Format, "error", err)
		}
	}
	return out, nil
}

func (a *CurveAgent) analyze(ctx context.Context, p curve.AnalyzePayload) ([]curve.FactorImpact, error) {
	data, err := a.points(ctx, p.Data, p.Dataset)
	if err != nil {
		return nil, err
	}
	target := p.Target
	if target == "" {
		target = curve.FeatureCost
	}
	return curve.AnalyzeFactors(data, target, p.Factors)
}

func (a *CurveAgent) list() []curve.Summary {
	stored := a.curves.Values()
	out := make([]curve.Summary, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.curve.Summarize())
	}
	slices.SortFunc(out, func(x, y curve.Summary) int { return x.TrainedAt.Compare(y.TrainedAt) })
	return out
}

func (a *CurveAgent) lookup(id string) (storedCurve, error) {
	c, ok := a.curves.Get(id)
	if !ok {
		return storedCurve{}, fmt.Errorf("curve %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// points returns inline data or loads the named dataset.
func (a *CurveAgent) points(ctx context.Context, inline []curve.CostDataPoint, name string) ([]curve.CostDataPoint, error) {
	if len(inline) > 0 {
		return inline, nil
	}
	if a.deps.Datasets == nil {
		return nil, fmt.Errorf("dataset %q: no dataset store configured", name)
	}
	data, err := a.deps.Datasets.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load dataset %q: %w", name, err)
	}
	return data, nil
}
