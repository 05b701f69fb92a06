// Package valuation computes replacement cost new (RCN) and depreciated
// property values.
package valuation

import (
	"fmt"
	"math"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
)

// TypeCalculate is the task type handled by the valuation agent.
const TypeCalculate task.Type = "calculate_valuation"

const (
	DefaultMarketFactor   = 1.05
	DefaultLocationFactor = 1.02

	// straight-line schedule: 1% per year of effective age, floored.
	depreciationPerYear = 0.01
	minPercentGood      = 0.2
)

// Payload requests a valuation for one improvement.
type Payload struct {
	ParcelID        string   `json:"parcelId,omitempty"`
	BuildingType    string   `json:"buildingType,omitempty"`
	Quality         string   `json:"quality,omitempty"`
	Region          string   `json:"region,omitempty"`
	SquareFeet      float64  `json:"squareFeet"`
	BaseCostPerSqft float64  `json:"baseCostPerSqft"`
	YearBuilt       int      `json:"yearBuilt,omitempty"`
	EffectiveAge    *int     `json:"effectiveAge,omitempty"`
	MarketFactor    *float64 `json:"marketFactor,omitempty"`
	LocationFactor  *float64 `json:"locationFactor,omitempty"`
	PercentGood     *float64 `json:"percentGood,omitempty"`
}

func (Payload) TaskType() task.Type { return TypeCalculate }

func (p Payload) Validate() error {
	if p.SquareFeet <= 0 {
		return fmt.Errorf("squareFeet must be > 0: %w", domain.ErrValidation)
	}
	if p.BaseCostPerSqft <= 0 {
		return fmt.Errorf("baseCostPerSqft must be > 0: %w", domain.ErrValidation)
	}
	if p.MarketFactor != nil && *p.MarketFactor <= 0 {
		return fmt.Errorf("marketFactor must be > 0: %w", domain.ErrValidation)
	}
	if p.LocationFactor != nil && *p.LocationFactor <= 0 {
		return fmt.Errorf("locationFactor must be > 0: %w", domain.ErrValidation)
	}
	if p.PercentGood != nil && (*p.PercentGood <= 0 || *p.PercentGood > 1) {
		return fmt.Errorf("percentGood must be in (0, 1]: %w", domain.ErrValidation)
	}
	if p.EffectiveAge != nil && *p.EffectiveAge < 0 {
		return fmt.Errorf("effectiveAge must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}

// Result is a valuation with the factors that produced it.
type Result struct {
	ParcelID       string  `json:"parcelId,omitempty"`
	RCN            float64 `json:"rcn"`
	FinalValue     float64 `json:"finalValue"`
	BaseCost       float64 `json:"baseCostPerSqft"`
	SquareFeet     float64 `json:"squareFeet"`
	MarketFactor   float64 `json:"marketFactor"`
	LocationFactor float64 `json:"locationFactor"`
	EffectiveAge   int     `json:"effectiveAge"`
	PercentGood    float64 `json:"percentGood"`
}

// Calculate returns rcn = base * sqft * market * location and
// finalValue = rcn * percentGood. currentYear derives the effective age
// from YearBuilt when no explicit age is given.
func Calculate(p Payload, currentYear int) Result {
	market := DefaultMarketFactor
	if p.MarketFactor != nil {
		market = *p.MarketFactor
	}
	location := DefaultLocationFactor
	if p.LocationFactor != nil {
		location = *p.LocationFactor
	}

	age := 0
	switch {
	case p.EffectiveAge != nil:
		age = *p.EffectiveAge
	case p.YearBuilt > 0 && currentYear > p.YearBuilt:
		age = currentYear - p.YearBuilt
	}

	percentGood := PercentGood(age)
	if p.PercentGood != nil {
		percentGood = *p.PercentGood
	}

	rcn := p.BaseCostPerSqft * p.SquareFeet * market * location
	return Result{
		ParcelID:       p.ParcelID,
		RCN:            round2(rcn),
		FinalValue:     round2(rcn * percentGood),
		BaseCost:       p.BaseCostPerSqft,
		SquareFeet:     p.SquareFeet,
		MarketFactor:   market,
		LocationFactor: location,
		EffectiveAge:   age,
		PercentGood:    percentGood,
	}
}

// PercentGood is the remaining value fraction after straight-line
// depreciation over the effective age.
func PercentGood(effectiveAge int) float64 {
	return math.Max(minPercentGood, 1-depreciationPerYear*float64(effectiveAge))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
