package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recommendation core. Callers match with errors.Is.
var (
	// ErrInvalidDimension indicates a vector length mismatch. It surfaces
	// out of the math utilities only and is treated as a programming error.
	ErrInvalidDimension = errors.New("vector dimension mismatch")

	// ErrInvalidConfig indicates an unusable configuration: weights that
	// sum to zero, a non-positive epsilon, an unknown distance function.
	// Constructors fail with it; it is never produced at request time.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingRequirement indicates the engine had no user embedding, no
	// profile and no clusters to work with. The engine logs it and returns
	// an empty recommendation list instead of surfacing it to callers.
	ErrMissingRequirement = errors.New("missing recommendation requirement")

	// ErrNotFound indicates a lookup by ID matched nothing. Handlers map it
	// to 404; everything else passing through stays a 500.
	ErrNotFound = errors.New("not found")
)

// RepositoryError wraps any I/O failure from a storage collaborator with the
// operation that failed. The pipeline recovers from it locally wherever a
// useful response is still possible; only ReclusterMoments surfaces it.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError wraps err with the failing operation name. Returns nil
// when err is nil so repository methods can wrap unconditionally.
func NewRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}
