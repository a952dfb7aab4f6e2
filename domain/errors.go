package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced board, list or card does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSourceNotFound and ErrDestinationNotFound wrap ErrNotFound so callers
	// can either match the role or just the missing entity.
	ErrSourceNotFound      = fmt.Errorf("source %w", ErrNotFound)
	ErrDestinationNotFound = fmt.Errorf("destination %w", ErrNotFound)

	ErrInvalidPosition   = errors.New("invalid position")
	ErrEntityNotInSource = errors.New("entity not in source")
	ErrCrossScopeMove    = errors.New("cross-scope move")
	ErrSameContainer     = errors.New("source and destination are the same container")
	ErrInvalidField      = errors.New("invalid field")

	// ErrConsistencyRepairNeeded is raised when a sibling set is not dense.
	// It is handled inside this package and never returned by an engine.
	ErrConsistencyRepairNeeded = errors.New("consistency repair needed")
)

// OpError describes a failed operation: which entity and, when relevant,
// which input field caused it.
type OpError struct {
	Op    string
	Kind  string
	ID    string
	Field string
	Err   error
}

func (e *OpError) Error() string {
	msg := e.Op + ": "
	if e.Kind != "" {
		msg += e.Kind
		if e.ID != "" {
			msg += " " + e.ID
		}
		msg += ": "
	}
	if e.Field != "" {
		msg += e.Field + ": "
	}
	return msg + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

const (
	KindBoard = "board"
	KindList  = "list"
	KindCard  = "card"
)

// IsBadInput reports whether err was caused by the caller's input rather than
// a missing entity or a storage failure.
func IsBadInput(err error) bool {
	return errors.Is(err, ErrInvalidPosition) ||
		errors.Is(err, ErrEntityNotInSource) ||
		errors.Is(err, ErrCrossScopeMove) ||
		errors.Is(err, ErrSameContainer) ||
		errors.Is(err, ErrInvalidField)
}

func opErr(op, kind, id string, err error) error {
	return &OpError{Op: op, Kind: kind, ID: id, Err: err}
}
