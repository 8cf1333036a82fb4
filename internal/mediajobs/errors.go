package mediajobs

import (
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
)

var (
	// ErrJobNotFound is returned when no media job row has the requested id.
	ErrJobNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "media job not found")
	// ErrInvalidTransition is returned when a write targets a job whose state does not allow it.
	ErrInvalidTransition = pkgerrors.New(pkgerrors.CodeStateConflict, "media job state does not allow this transition")
	// ErrIncompleteOutput rejects a completion that would leave any output field unset.
	ErrIncompleteOutput = pkgerrors.New(pkgerrors.CodeValidation, "media job output is incomplete")
)
