// Package errors provides the domain error types shared across council-search.
//
// Packages return (or wrap) these sentinels so that the HTTP and CLI layers can
// map failures to status codes with errors.Is, without string matching:
//
//	import cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
//
//	if cserrors.IsValidation(err) {
//	    // 400
//	}
package errors

import "errors"

// Domain errors.
var (
	// ErrNotFound indicates the requested meeting, transcript or authority does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a write collided with existing data.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("validation error")

	// ErrAlreadyExists indicates the resource already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState indicates stored data broke an invariant the code relies on.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnavailable indicates a required backend (database, cache, remote site) could not be reached.
	ErrUnavailable = errors.New("unavailable")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists reports whether any error in err's chain is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUnavailable reports whether any error in err's chain is ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
