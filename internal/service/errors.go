package service

import (
	"alcyxob/coachsync/internal/repository"
	"errors"
	"fmt"
)

// Error taxonomy of the service layer. Handlers map these to status codes.
var (
	// ErrForbidden covers denials and references outside the caller's scope.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	// ErrConflict is a lost compare-and-swap. Re-read before deciding again.
	ErrConflict           = errors.New("conflict")
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrTransient is a store timeout or outage that survived the bounded retry.
	ErrTransient  = errors.New("transient store failure")
	ErrValidation = errors.New("validation failed")

	ErrNoApprovalPhase  = fmt.Errorf("%w: exercise completions have no approval phase", ErrInvariantViolation)
	ErrMediaUnavailable = errors.New("media store unavailable")
)

// mapRepoErr translates repository errors into the service taxonomy, keeping
// the original in the chain.
func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, repository.ErrInvariantViolation):
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	case errors.Is(err, repository.ErrTransient):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
