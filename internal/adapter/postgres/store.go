package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/curve"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/dataset"
)

// Store implements dataset.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ dataset.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var pointColumns = []string{"dataset", "point_id", "building_type", "region", "square_feet", "year_built", "age", "cost", "factors"}

// Save replaces the named dataset with points in one transaction.
func (s *Store) Save(ctx context.Context, name string, points []curve.CostDataPoint) error {
	if err := ValidateDatasetName(name); err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("dataset %q has no points: %w", name, domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save dataset %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO cost_datasets (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET updated_at = now()`, name); err != nil {
		return fmt.Errorf("upsert dataset %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cost_data_points WHERE dataset = $1`, name); err != nil {
		return fmt.Errorf("clear dataset %s: %w", name, err)
	}

	rows := make([][]any, 0, len(points))
	for i := range points {
		p := &points[i]
		factors, err := json.Marshal(orEmptyMap(p.Factors))
		if err != nil {
			return fmt.Errorf("marshal factors of point %d: %w", i, err)
		}
		rows = append(rows, []any{
			name, p.ID, p.BuildingType, p.Region,
			p.Optional(curve.FeatureSquareFeet), p.Optional(curve.FeatureYearBuilt), p.Optional(curve.FeatureAge),
			p.Cost, json.RawMessage(factors),
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"cost_data_points"}, pointColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy points into dataset %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dataset %s: %w", name, err)
	}
	return nil
}

// Load returns the points of the named dataset in insertion order.
func (s *Store) Load(ctx context.Context, name string) ([]curve.CostDataPoint, error) {
	var found string
	if err := s.pool.QueryRow(ctx, `SELECT name FROM cost_datasets WHERE name = $1`, name).Scan(&found); err != nil {
		return nil, notFoundWrap(err, "dataset %s", name)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT point_id, building_type, region, square_feet, year_built, age, cost, factors
		 FROM cost_data_points WHERE dataset = $1 ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", name, err)
	}
	defer rows.Close()

	var points []curve.CostDataPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point of dataset %s: %w", name, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func scanPoint(row scannable) (curve.CostDataPoint, error) {
	var (
		p                curve.CostDataPoint
		sqft, built, age *float64
		factors          []byte
	)
	if err := row.Scan(&p.ID, &p.BuildingType, &p.Region, &sqft, &built, &age, &p.Cost, &factors); err != nil {
		return p, err
	}
	p.SetOptional(curve.FeatureSquareFeet, sqft)
	p.SetOptional(curve.FeatureYearBuilt, built)
	p.SetOptional(curve.FeatureAge, age)
	if err := json.Unmarshal(factors, &p.Factors); err != nil {
		return p, fmt.Errorf("decode factors: %w", err)
	}
	if len(p.Factors) == 0 {
		p.Factors = nil
	}
	return p, nil
}

// List summarizes every stored dataset, ordered by name.
func (s *Store) List(ctx context.Context) ([]dataset.Info, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.name, COUNT(p.id)
		 FROM cost_datasets d LEFT JOIN cost_data_points p ON p.dataset = d.name
		 GROUP BY d.name ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []dataset.Info
	for rows.Next() {
		var info dataset.Info
		if err := rows.Scan(&info.Name, &info.Points); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, info)
	}
	return orEmpty(out), rows.Err()
}

// Delete drops the named dataset and its points.
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cost_datasets WHERE name = $1`, name)
	return execExpectOne(tag, err, "delete dataset %s", name)
}

func orEmptyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
