package curve

import (
	"fmt"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

// Task types handled by the curve agent.
const (
	TypeTrain    task.Type = "train_curve"
	TypeEvaluate task.Type = "evaluate_curve"
	TypeApply    task.Type = "apply_curve"
	TypeExport   task.Type = "export_curve"
	TypeAnalyze  task.Type = "analyze_factors"
	TypeList     task.Type = "list_curves"
)

// TrainPayload requests a new curve. Exactly one of Data or Dataset is set;
// Dataset names a stored dataset resolved when the task is processed.
type TrainPayload struct {
	Family          Family          `json:"family"`
	Degree          int             `json:"degree,omitempty"`
	Segments        int             `json:"segments,omitempty"`
	InputDimension  string          `json:"inputDimension"`
	OutputDimension string          `json:"outputDimension"`
	Data            []CostDataPoint `json:"data,omitempty"`
	Dataset         string          `json:"dataset,omitempty"`
	MaxIterations   int             `json:"maxIterations,omitempty"`
	TargetAccuracy  float64         `json:"targetAccuracy,omitempty"`
	LearningRate    float64         `json:"learningRate,omitempty"`
	Constraints     Constraints     `json:"constraints"`
}

func (TrainPayload) TaskType() task.Type { return TypeTrain }

func (p TrainPayload) Validate() error {
	if _, err := ParseFamily(string(p.Family)); err != nil {
		return err
	}
	if (len(p.Data) == 0) == (p.Dataset == "") {
		return fmt.Errorf("exactly one of data or dataset is required: %w", domain.ErrValidation)
	}
	if p.InputDimension == "" || p.OutputDimension == "" {
		return fmt.Errorf("inputDimension and outputDimension are required: %w", domain.ErrValidation)
	}
	if len(p.Data) > 0 {
		if err := ValidateDimensions(p.Data, p.InputDimension, p.OutputDimension); err != nil {
			return err
		}
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0: %w", domain.ErrValidation)
	}
	if p.TargetAccuracy < 0 || p.TargetAccuracy > 1 {
		return fmt.Errorf("targetAccuracy must be in [0, 1]: %w", domain.ErrValidation)
	}
	if p.Degree < 0 || p.Segments < 0 || p.LearningRate < 0 {
		return fmt.Errorf("degree, segments and learningRate must be non-negative: %w", domain.ErrValidation)
	}
	return p.Constraints.Validate()
}

// Options converts the payload into training options layered over defaults.
func (p TrainPayload) Options(defaults Options) Options {
	o := defaults
	o.Family = p.Family
	o.Degree = p.Degree
	o.Segments = p.Segments
	o.InputDimension = p.InputDimension
	o.OutputDimension = p.OutputDimension
	o.Constraints = p.Constraints
	if p.MaxIterations > 0 {
		o.MaxIterations = p.MaxIterations
	}
	if p.TargetAccuracy > 0 {
		o.TargetAccuracy = p.TargetAccuracy
	}
	if p.LearningRate > 0 {
		o.LearningRate = p.LearningRate
	}
	return o
}

// TrainResult is the outcome of a train_curve task.
type TrainResult struct {
	Curve       *CostCurve  `json:"curve"`
	TrainingLog TrainingLog `json:"trainingLog"`
}

// EvaluatePayload scores a stored curve. Without TestData a random holdout
// of the curve's training data is drawn using TestRatio.
type EvaluatePayload struct {
	CurveID   string          `json:"curveId"`
	TestData  []CostDataPoint `json:"testData,omitempty"`
	TestRatio float64         `json:"testRatio,omitempty"`
	Seed      uint64          `json:"seed,omitempty"`
}

func (EvaluatePayload) TaskType() task.Type { return TypeEvaluate }

func (p EvaluatePayload) Validate() error {
	if p.CurveID == "" {
		return fmt.Errorf("curveId is required: %w", domain.ErrValidation)
	}
	if p.TestRatio < 0 || p.TestRatio >= 1 {
		return fmt.Errorf("testRatio must be in [0, 1): %w", domain.ErrValidation)
	}
	return nil
}

// ApplyPayload evaluates a stored curve at the given inputs.
type ApplyPayload struct {
	CurveID string    `json:"curveId"`
	Inputs  []float64 `json:"inputs"`
}

func (ApplyPayload) TaskType() task.Type { return TypeApply }

func (p ApplyPayload) Validate() error {
	if p.CurveID == "" {
		return fmt.Errorf("curveId is required: %w", domain.ErrValidation)
	}
	if len(p.Inputs) == 0 {
		return fmt.Errorf("inputs must not be empty: %w", domain.ErrValidation)
	}
	return nil
}

// ExportPayload renders a stored curve.
type ExportPayload struct {
	CurveID string `json:"curveId"`
	Format  Format `json:"format"`
}

func (ExportPayload) TaskType() task.Type { return TypeExport }

func (p ExportPayload) Validate() error {
	if p.CurveID == "" {
		return fmt.Errorf("curveId is required: %w", domain.ErrValidation)
	}
	_, err := ParseFormat(string(p.Format))
	return err
}

// AnalyzePayload ranks factors by their influence on Target.
type AnalyzePayload struct {
	Data    []CostDataPoint `json:"data,omitempty"`
	Dataset string          `json:"dataset,omitempty"`
	Target  string          `json:"target,omitempty"`
	Factors []string        `json:"factors,omitempty"`
}

func (AnalyzePayload) TaskType() task.Type { return TypeAnalyze }

func (p AnalyzePayload) Validate() error {
	if (len(p.Data) == 0) == (p.Dataset == "") {
		return fmt.Errorf("exactly one of data or dataset is required: %w", domain.ErrValidation)
	}
	if len(p.Data) == 1 {
		return fmt.Errorf("factor analysis needs at least 2 points: %w", domain.ErrValidation)
	}
	return nil
}

// ListPayload requests summaries of every trained curve.
type ListPayload struct{}

func (ListPayload) TaskType() task.Type { return TypeList }

func (ListPayload) Validate() error { return nil }
