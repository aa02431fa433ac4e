package lmm

import (
	"errors"
	"fmt"

	"github.com/san-kum/pedalstat/internal/design"
)

// Domain errors for model fitting.
var (
	// ErrUnknownVariable indicates a formula variable missing from the data.
	ErrUnknownVariable = design.ErrUnknownVariable

	// ErrNoObservations indicates that no complete rows remain after
	// dropping missing values.
	ErrNoObservations = design.ErrNoObservations

	// ErrTooFewGroups indicates a grouping factor with fewer than 2 levels.
	ErrTooFewGroups = design.ErrTooFewGroups

	// ErrRankDeficient indicates a singular fixed-effects cross-product X'X.
	ErrRankDeficient = errors.New("lmm: fixed-effects model matrix is rank deficient")

	// ErrNoRandomEffects indicates a formula without (expr | group) terms.
	ErrNoRandomEffects = errors.New("lmm: no random-effects terms specified")

	// ErrTooFewObservations indicates no residual degrees of freedom.
	ErrTooFewObservations = errors.New("lmm: number of observations must exceed the number of fixed effects")

	// ErrOptimizer indicates the deviance could not be minimised.
	ErrOptimizer = errors.New("lmm: optimizer failed")
)

// FitError wraps an error with the model being fitted.
type FitError struct {
	Formula string
	Status  string
	Wrapped error
}

func (e *FitError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("fit %s (optimizer status %s): %v", e.Formula, e.Status, e.Wrapped)
	}
	return fmt.Sprintf("fit %s: %v", e.Formula, e.Wrapped)
}

func (e *FitError) Unwrap() error {
	return e.Wrapped
}
