package multifit

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/optimize"
)

// MinimizerFitter hands chi-square over all the parameters, linear and nonlinear, to a
// general purpose quasi-Newton minimizer. Slower than Fitter, but a useful cross
// check, and it doesn't care about the linear/nonlinear split.
type MinimizerFitter struct {
	config Config
}

func NewMinimizerFitter(cfg Config) (*MinimizerFitter, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &MinimizerFitter{config: cfg}, nil
}

// Apply minimizes from the model's current parameters. errs are rough step sizes for
// each parameter, in [linear..., nonlinear...] order; the minimizer works in units of
// them.
func (mf *MinimizerFitter) Apply(ev *Evaluator, errs []float64) *Result {
	tStart := time.Now()
	res := &Result{
		Status:        StatusInitialized,
		PixelCount:    ev.PixelCount(),
		ExposureCount: ev.ProjectionCount(),
	}

	mf.run(ev, errs, res)

	m := ev.Model()
	res.LinearParameters = m.LinearParameters()
	res.NonlinearParameters = m.NonlinearParameters()

	fitIterations.WithLabelValues("minimizer").Observe(float64(res.Iterations))
	fitStatus.WithLabelValues("minimizer", res.Status.String()).Inc()
	fitDuration.WithLabelValues("minimizer").Observe(time.Since(tStart).Seconds())
	if mf.config.Verbosity > 0 {
		log.Printf("minimizer: %s (%s)\n", res, time.Since(tStart))
	}
	return res
}

func (mf *MinimizerFitter) run(ev *Evaluator, errs []float64, res *Result) {
	m := ev.Model()
	nLin, nNonlin := m.LinearParameterSize(), m.NonlinearParameterSize()
	if len(errs) != nLin+nNonlin {
		res.fail(StatusNumericalFailure, fmt.Errorf("%d errors for %d parameters: %w", len(errs), nLin+nNonlin, ErrParameterSize))
		return
	}
	for i, e := range errs {
		if !(e > 0) {
			res.fail(StatusNumericalFailure, fmt.Errorf("error %d is %g: %w", i, e, ErrParameterSize))
			return
		}
	}

	lk, err := NewLikelihood(ev)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			res.fail(StatusInsufficientData, err)
		} else {
			res.fail(StatusNumericalFailure, err)
		}
		return
	}
	res.Status = StatusIterating

	start := append(m.LinearParameters(), m.NonlinearParameters()...)
	x0 := make([]float64, len(start))
	for i := range start {
		x0[i] = start[i] / errs[i]
	}

	// Pushes scaled x into the model; false if the nonlinear part is invalid
	set := func(x []float64) bool {
		p := make([]float64, len(x))
		for i := range x {
			p[i] = x[i] * errs[i]
		}
		return ev.SetParameters(p[:nLin], p[nLin:]) == nil
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if !set(x) {
				return 1e300
			}
			chisq, err := lk.currentChisq()
			if err != nil {
				return 1e300
			}
			return chisq
		},
		Grad: func(grad, x []float64) {
			for i := range grad {
				grad[i] = 0
			}
			if !set(x) {
				return
			}
			r, err := lk.weightedResiduals()
			if err != nil {
				return
			}
			lin, err := ev.LinearParameterDerivative()
			if err != nil {
				return
			}
			jac, err := ev.NonlinearParameterDerivative()
			if err != nil {
				return
			}
			kw := lk.weightedRows(stackRows(lin, jac))
			// d(chisq)/dp = -2 K W (data-model), then scaled into x units
			for k := range grad {
				row := kw.RawRowView(k)
				s := 0.0
				for i, v := range row {
					s += v * r[i]
				}
				grad[k] = -2 * s * errs[k]
			}
		},
	}

	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   mf.config.DChisqThreshold,
			Iterations: 2,
		},
	}
	if mf.config.useIteration {
		settings.MajorIterations = mf.config.IterationMax
	} else {
		settings.MajorIterations = hardIterationCap
	}
	if !mf.config.useDChisq {
		settings.Converger = &optimize.FunctionConverge{Absolute: 0, Iterations: settings.MajorIterations + 1}
	}

	opt, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if opt == nil {
		res.fail(StatusNumericalFailure, err)
		return
	}

	// Leave the model at the best point found
	if !set(opt.X) {
		res.fail(StatusNumericalFailure, fmt.Errorf("minimizer ended on invalid parameters: %w", ErrNonFinite))
		return
	}
	res.Iterations = opt.MajorIterations
	res.Chisq = opt.F
	res.Objective = opt.F / 2

	switch {
	case errors.Is(err, optimize.ErrLinesearcherFailure) || errors.Is(err, optimize.ErrNoProgress):
		// Line search stalls when chisq is down at rounding level
		res.fail(StatusPoorConvergence, err)
	case opt.Status == optimize.FunctionConvergence, opt.Status == optimize.GradientThreshold,
		opt.Status == optimize.FunctionThreshold, opt.Status == optimize.Success,
		opt.Status == optimize.StepConvergence, opt.Status == optimize.MethodConverge:
		res.Status = StatusConverged
	case opt.Status == optimize.IterationLimit, opt.Status == optimize.FunctionEvaluationLimit,
		opt.Status == optimize.GradientEvaluationLimit:
		res.Status = StatusMaxIterations
	default:
		if err == nil {
			err = fmt.Errorf("optimizer status %s", opt.Status)
		}
		res.fail(StatusNumericalFailure, err)
		return
	}

	fitter := Fitter{config: mf.config}
	cov, err := fitter.covariance(lk)
	if err != nil {
		if res.Status == StatusConverged {
			res.fail(StatusPoorConvergence, err)
		}
		return
	}
	res.Covariance = cov
}
