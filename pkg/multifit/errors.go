package multifit

import "errors"

var (
	// ErrNoData means no exposure had enough usable pixels under the model.
	ErrNoData = errors.New("multifit: no usable pixels")

	// ErrBadVariance is a pixel with non-positive or non-finite variance.
	ErrBadVariance = errors.New("multifit: non-positive variance")

	// ErrSingular is a normal matrix that is not positive definite, or too badly
	// conditioned to trust.
	ErrSingular = errors.New("multifit: singular normal matrix")

	// ErrNonFinite is a NaN or Inf in the model or chi-square.
	ErrNonFinite = errors.New("multifit: non-finite value")

	// Configuration errors, returned when building a fitter.
	ErrNoTermination      = errors.New("multifit: no termination criteria")
	ErrUnknownTermination = errors.New("multifit: unknown termination type")
	ErrBadIterationMax    = errors.New("multifit: iterationMax must be positive")
	ErrBadThreshold       = errors.New("multifit: dChisqThreshold must be positive")

	ErrParameterSize = errors.New("multifit: wrong number of parameters")
)
