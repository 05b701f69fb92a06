// Package dataset defines the port for named, stored cost datasets.
package dataset

import (
	"context"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/curve"
)

// Info summarizes a stored dataset.
type Info struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Source loads training and analysis data by name.
type Source interface {
	// Load returns the points of the named dataset or domain.ErrNotFound.
	Load(ctx context.Context, name string) ([]curve.CostDataPoint, error)
}

// Store is a Source that can also be written and listed.
type Store interface {
	Source
	Save(ctx context.Context, name string, points []curve.CostDataPoint) error
	List(ctx context.Context) ([]Info, error)
}
