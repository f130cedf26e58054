package multifit

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/multifit/pkg/prior"
)

// Fitter alternates between an exact weighted least-squares solve for the amplitudes
// and a damped Gauss-Newton (Levenberg-Marquardt) step in the nonlinear parameters.
// It starts from whatever parameters the evaluator's model has, and leaves the best
// ones it found there, so calling Apply again refines further.
type Fitter struct {
	config Config
	prior  prior.Prior
}

// NewFitter fails if the termination policy in the config makes no sense.
func NewFitter(cfg Config) (*Fitter, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &Fitter{config: cfg}, nil
}

// WithPrior switches the step acceptance test from chi-square to chi-square
// marginalized over amplitudes, times the prior.
func (f *Fitter) WithPrior(p prior.Prior) *Fitter {
	f.prior = p
	return f
}

func (f *Fitter) Config() Config { return f.config }

func (f *Fitter) Apply(ev *Evaluator) *Result {
	tStart := time.Now()
	res := &Result{
		Status:        StatusInitialized,
		PixelCount:    ev.PixelCount(),
		ExposureCount: ev.ProjectionCount(),
	}

	f.run(ev, res)

	m := ev.Model()
	res.LinearParameters = m.LinearParameters()
	res.NonlinearParameters = m.NonlinearParameters()
	if f.prior != nil && !res.Status.Failed() {
		res.PriorDensity = f.prior.Evaluate(res.NonlinearParameters, res.LinearParameters)
	}

	fitIterations.WithLabelValues("lm").Observe(float64(res.Iterations))
	fitStatus.WithLabelValues("lm", res.Status.String()).Inc()
	fitDuration.WithLabelValues("lm").Observe(time.Since(tStart).Seconds())
	if f.config.Verbosity > 0 {
		log.Printf("fitter: %s (%s)\n", res, time.Since(tStart))
	}

	return res
}

func (res *Result) fail(s Status, err error) {
	res.Status = s
	res.Reason = err
}

func (f *Fitter) run(ev *Evaluator, res *Result) {
	lk, err := NewLikelihood(ev)
	if errors.Is(err, ErrNoData) {
		res.fail(StatusInsufficientData, err)
		return
	} else if err != nil {
		res.fail(StatusNumericalFailure, err)
		return
	}

	res.Status = StatusIterating
	m := ev.Model()

	obj, chisq, err := f.solveAmplitudes(lk)
	if err != nil {
		res.fail(StatusNumericalFailure, fmt.Errorf("initial amplitudes: %w", err))
		return
	}
	lambda := f.config.LambdaInit

	for it := 1; ; it++ {
		res.Iterations = it

		h, g, err := f.nonlinearNormalEquations(lk)
		if err != nil {
			res.fail(StatusNumericalFailure, err)
			break
		}
		if _, err := factorize(h, f.config.ConditionMax); err != nil {
			res.fail(StatusNumericalFailure, fmt.Errorf("nonlinear normal matrix: %w", err))
			break
		}

		p0, a0 := m.NonlinearParameters(), m.LinearParameters()
		newObj, newChisq := obj, chisq

		for trial := 0; trial < f.config.MaxStepTrials; trial++ {
			o, c, err := f.tryStep(ev, lk, h, g, p0, lambda)
			if err == nil && o <= obj {
				newObj, newChisq = o, c
				lambda = math.Max(lambda/10, 1e-12)
				break
			}
			if f.config.Verbosity > 1 {
				log.Printf("fitter: it %d, rejected step lambda=%.1e (obj %.6g vs %.6g, err %v)\n", it, lambda, o, obj, err)
			}
			if err := ev.SetParameters(a0, p0); err != nil {
				res.fail(StatusNumericalFailure, err)
				return
			}
			lambda *= 10
		}

		res.DChisq = 2 * (obj - newObj)
		obj, chisq = newObj, newChisq
		if f.config.Verbosity > 1 {
			log.Printf("fitter: it %d, chisq=%.6g, dchisq=%.3g, lambda=%.1e\n", it, chisq, res.DChisq, lambda)
		}

		if f.config.useDChisq && res.DChisq < f.config.DChisqThreshold {
			res.Status = StatusConverged
			break
		}
		if f.config.useIteration && it >= f.config.IterationMax {
			res.Status = StatusMaxIterations
			break
		}
		if it >= hardIterationCap {
			res.Status = StatusMaxIterations
			break
		}
	}

	res.Chisq, res.Objective = chisq, obj
	if res.Status.Failed() {
		return
	}

	cov, err := f.covariance(lk)
	if err != nil {
		if res.Status == StatusConverged {
			res.fail(StatusPoorConvergence, err)
		}
		return
	}
	res.Covariance = cov
}

// solveAmplitudes finds the best amplitudes for the current nonlinear parameters and
// puts them in the model. obj is what steps get judged on.
func (f *Fitter) solveAmplitudes(lk *Likelihood) (obj, chisq float64, err error) {
	r0, g, fisher, err := lk.AmplitudeQuadratic()
	if err != nil {
		return 0, 0, err
	}
	chol, err := factorize(fisher, f.config.ConditionMax)
	if err != nil {
		return 0, 0, fmt.Errorf("amplitude normal matrix: %w", err)
	}
	a, err := chol.Solve(g)
	if err != nil {
		return 0, 0, err
	}
	a.ScaleVec(-1, a)

	if err := lk.ev.SetParameters(a.RawVector().Data, nil); err != nil {
		return 0, 0, err
	}
	if chisq, err = lk.currentChisq(); err != nil {
		return 0, 0, err
	}

	obj = chisq / 2
	if f.prior != nil {
		marg, err := f.prior.Marginalize(g, fisher, lk.ev.Model().NonlinearParameters())
		if err != nil {
			return 0, 0, err
		}
		obj = r0/2 + marg
	}
	return obj, chisq, nil
}

// nonlinearNormalEquations gives H = J W J^T and g = J W (data - model).
func (f *Fitter) nonlinearNormalEquations(lk *Likelihood) (*mat.SymDense, *mat.VecDense, error) {
	jac, err := lk.ev.NonlinearParameterDerivative()
	if err != nil {
		return nil, nil, err
	}
	r, err := lk.weightedResiduals()
	if err != nil {
		return nil, nil, err
	}
	jw := lk.weightedRows(jac)
	n, _ := jw.Dims()

	h := mat.NewSymDense(n, nil)
	h.SymOuterK(1, jw)
	g := mat.NewVecDense(n, nil)
	g.MulVec(jw, mat.NewVecDense(len(r), r))
	return h, g, nil
}

func (f *Fitter) tryStep(ev *Evaluator, lk *Likelihood, h *mat.SymDense, g *mat.VecDense, p0 []float64, lambda float64) (float64, float64, error) {
	chol, err := factorize(damped(h, lambda), f.config.ConditionMax)
	if err != nil {
		return 0, 0, err
	}
	delta, err := chol.Solve(g)
	if err != nil {
		return 0, 0, err
	}

	p1 := make([]float64, len(p0))
	for i := range p0 {
		p1[i] = p0[i] + delta.AtVec(i)
	}
	if err := ev.SetParameters(nil, p1); err != nil {
		return 0, 0, err
	}
	return f.solveAmplitudes(lk)
}

// covariance inverts the Fisher matrix over [amplitudes, nonlinear] at the current
// parameters.
func (f *Fitter) covariance(lk *Likelihood) (*mat.SymDense, error) {
	lin, err := lk.ev.LinearParameterDerivative()
	if err != nil {
		return nil, err
	}
	jac, err := lk.ev.NonlinearParameterDerivative()
	if err != nil {
		return nil, err
	}
	kw := lk.weightedRows(stackRows(lin, jac))
	n, _ := kw.Dims()

	fisher := mat.NewSymDense(n, nil)
	fisher.SymOuterK(1, kw)
	chol, err := factorize(fisher, f.config.ConditionMax)
	if err != nil {
		return nil, err
	}
	return chol.Inverse()
}
