package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// orEmpty returns items unchanged if non-nil, or an empty slice if nil.
// Useful to ensure JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// notFoundWrap checks whether err is pgx.ErrNoRows and, if so, wraps
// domain.ErrNotFound with the given message. Otherwise it wraps the
// original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// execExpectOne verifies that an Exec affected exactly one row. If not
// (and err is nil), it returns domain.ErrNotFound with the given message.
func execExpectOne(tag pgconn.CommandTag, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return nil
}

// ValidateDatasetName rejects names that are empty, too long or contain
// whitespace or path separators.
func ValidateDatasetName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("dataset name is required: %w", domain.ErrValidation)
	case len(name) > 128:
		return fmt.Errorf("dataset name too long (max 128 chars): %w", domain.ErrValidation)
	case strings.ContainsAny(name, " \t\n/\\"):
		return fmt.Errorf("dataset name %q must not contain whitespace or path separators: %w", name, domain.ErrValidation)
	}
	return nil
}
