// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is not in a state that allows the
// requested transition, e.g. completing a task that is already terminal.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates a request was rejected before any work was
// scheduled because its input is malformed.
var ErrValidation = errors.New("validation failed")

// ErrTimeout indicates a caller stopped waiting for a result.
var ErrTimeout = errors.New("timed out")
