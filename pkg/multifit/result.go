package multifit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type Status int

const (
	StatusInitialized Status = iota
	StatusIterating
	StatusConverged
	StatusMaxIterations
	StatusPoorConvergence
	StatusNumericalFailure
	StatusInsufficientData
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusIterating:
		return "iterating"
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "maxIterations"
	case StatusPoorConvergence:
		return "poorConvergence"
	case StatusNumericalFailure:
		return "numericalFailure"
	case StatusInsufficientData:
		return "insufficientData"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal is true for every status a finished fit can have.
func (s Status) Terminal() bool { return s >= StatusConverged }

// Failed is true when the parameters in the result can't be trusted at all.
func (s Status) Failed() bool {
	return s == StatusNumericalFailure || s == StatusInsufficientData
}

// A Result is produced once per Apply, and not touched afterwards.
type Result struct {
	Status Status
	Reason error // why, for the failure statuses

	Iterations int
	Chisq      float64
	DChisq     float64 // improvement over the last iteration
	Objective  float64 // chisq/2, or the prior-marginalized objective when there is a prior

	LinearParameters    []float64
	NonlinearParameters []float64

	// Inverse Fisher matrix over [linear..., nonlinear...]; nil if it wasn't invertible
	Covariance *mat.SymDense

	// Prior density at the final parameters; zero means it ruled them out (e.g. a
	// negative flux). Only set when the fitter has a prior.
	PriorDensity float64

	PixelCount    int
	ExposureCount int
}

// ParameterErrors are the sqrt of the covariance diagonal, in [linear..., nonlinear...] order.
func (r *Result) ParameterErrors() []float64 {
	if r.Covariance == nil {
		return nil
	}
	n := r.Covariance.SymmetricDim()
	errs := make([]float64, n)
	for i := range errs {
		errs[i] = sqrtOrNaN(r.Covariance.At(i, i))
	}
	return errs
}

func (r *Result) String() string {
	s := fmt.Sprintf("result[%s, it=%d, chisq=%.6g, dchisq=%.3g, lin=%v, nonlin=%v",
		r.Status, r.Iterations, r.Chisq, r.DChisq, r.LinearParameters, r.NonlinearParameters)
	if r.Reason != nil {
		s += fmt.Sprintf(", reason=%v", r.Reason)
	}
	return s + "]"
}
