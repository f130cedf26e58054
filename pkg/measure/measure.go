// Package measure runs the model fits over detected sources: a point source fit, and
// optionally a small galaxy (Sersic) fit, setting flag bits for everything that went
// wrong along the way.
package measure

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/model"
	"github.com/abworrall/multifit/pkg/multifit"
	"github.com/abworrall/multifit/pkg/psf"
)

var ErrNoExposures = errors.New("measure: no exposures")

var measurementFlags = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "multifit_measurement_flags_total",
	Help: "Flag bits set on source measurements.",
}, []string{"flag"})

// Measure fits one source. Exposures are only read. The error is for bad config or
// no exposures; anything that goes wrong with the source itself ends up in the flags.
func Measure(exposures []*exposure.Exposure, src Source, cfg Config) (*Measurement, error) {
	if len(exposures) == 0 {
		return nil, ErrNoExposures
	}
	fitter, err := multifit.NewFitter(cfg.Fitter)
	if err != nil {
		return nil, err
	}

	meas := &Measurement{SourceID: src.ID}
	ref := exposures[0]

	// Size checks apply to both fits
	if r := src.MomentRadius(ref.WCS); r > cfg.MaxInitRadius {
		meas.Flags |= FailInitTooLarge
	} else if r < cfg.MinInitRadius {
		meas.Flags |= FailInitTooSmall
	}

	if !src.Center.IsFinite() {
		meas.Flags |= FailInitPsNaN
	}
	if !meas.Flags.Has(FailInitPs) {
		meas.Flags |= measurePointSource(exposures, src, cfg, fitter, meas)
	}

	if cfg.DoSmallGalaxy && !meas.Flags.Has(FailInitTooLarge|FailInitTooSmall) {
		meas.Flags |= measureSmallGalaxy(exposures, src, cfg, fitter, meas)
	}

	for _, name := range meas.Flags.Names() {
		measurementFlags.WithLabelValues(name).Inc()
	}
	if cfg.Verbosity > 0 {
		log.Printf("measure: %s\n", meas)
	}
	return meas, nil
}

func initialFlux(src Source) float64 {
	if src.PsfFlux > 0 && !math.IsInf(src.PsfFlux, 0) {
		return src.PsfFlux
	}
	return 1
}

func fit(exposures []*exposure.Exposure, m *model.Model, cfg Config, fitter *multifit.Fitter) (*multifit.Result, error) {
	ev := multifit.NewEvaluator(m, cfg.Fitter.NMinPix)
	ev.Verbosity = cfg.Verbosity
	if err := ev.SetExposureList(exposures); err != nil {
		return nil, err
	}
	return fitter.Apply(ev), nil
}

func measurePointSource(exposures []*exposure.Exposure, src Source, cfg Config, fitter *multifit.Fitter, meas *Measurement) Flags {
	m := model.NewPointSource(initialFlux(src), src.Center)
	res, err := fit(exposures, m, cfg, fitter)
	if err != nil {
		if cfg.Verbosity > 0 {
			log.Printf("measure: src%d point source: %v\n", src.ID, err)
		}
		return FailFitPsUnknown
	}

	ps := &PointSourcePhotometry{
		Flux:       res.LinearParameters[0],
		Center:     emath.Vec2{res.NonlinearParameters[0], res.NonlinearParameters[1]},
		Chisq:      res.Chisq,
		Iterations: res.Iterations,
		Status:     res.Status,
		FluxErr:    math.NaN(),
		CenterErr:  emath.Vec2{math.NaN(), math.NaN()},
	}
	if errs := res.ParameterErrors(); errs != nil {
		ps.FluxErr = errs[0]
		ps.CenterErr = emath.Vec2{errs[1], errs[2]}
	}
	meas.PointSource = ps

	switch res.Status {
	case multifit.StatusMaxIterations:
		return PsMaxIterations
	case multifit.StatusPoorConvergence:
		return PsPoorConvergence
	case multifit.StatusConverged:
		return 0
	}
	return FailFitPsUnknown
}

// deconvolvedMoments takes the PSF (in sky coords) off the source moments.
func deconvolvedMoments(src Source, ref *exposure.Exposure) emath.Mat2 {
	psfSky := ref.WCS.PixelToSkyLinear().Congruent(psf.Moments(ref.PSF))
	return src.Moments.Sub(psfSky)
}

func measureSmallGalaxy(exposures []*exposure.Exposure, src Source, cfg Config, fitter *multifit.Fitter, meas *Measurement) Flags {
	if !src.Center.IsFinite() || !src.Moments.IsFinite() {
		return FailInitSgNaN
	}
	ref := exposures[0]
	e, err := model.EllipseFromCovariance(deconvolvedMoments(src, ref))
	if err != nil {
		return FailInitSgMoments
	}

	// Start from the point source answer when there is one
	center, flux := src.Center, initialFlux(src)
	if ps := meas.PointSource; ps != nil && !meas.Flags.Has(FailPs) {
		center = ps.Center
		if ps.Flux > 0 {
			flux = ps.Flux
		}
	}

	m, err := model.NewSmallGalaxy(flux, center, e, cfg.SersicIndex)
	if errors.Is(err, model.ErrSersicIndex) {
		return FailFitSgSersic
	} else if err != nil {
		return FailInitSgMoments
	}

	res, err := fit(exposures, m, cfg, fitter)
	if err != nil {
		if cfg.Verbosity > 0 {
			log.Printf("measure: src%d small galaxy: %v\n", src.ID, err)
		}
		return FailFitSgUnknown
	}

	nl := res.NonlinearParameters
	sg := &SmallGalaxyPhotometry{
		Flux:        res.LinearParameters[0],
		FluxErr:     math.NaN(),
		Center:      emath.Vec2{nl[0], nl[1]},
		Ellipse:     model.Ellipse{E1: nl[2], E2: nl[3], R: nl[4]},
		SersicIndex: cfg.SersicIndex,
		Chisq:       res.Chisq,
		Iterations:  res.Iterations,
		Status:      res.Status,
	}
	if res.Covariance != nil {
		n := res.Covariance.SymmetricDim()
		sg.Covariance = make([]float64, 0, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				sg.Covariance = append(sg.Covariance, res.Covariance.At(i, j))
			}
		}
		sg.FluxErr = math.Sqrt(res.Covariance.At(0, 0))
	}
	meas.SmallGalaxy = sg

	var flags Flags
	switch res.Status {
	case multifit.StatusMaxIterations:
		flags = SgMaxIterations
	case multifit.StatusPoorConvergence:
		flags = SgPoorConvergence
	case multifit.StatusConverged:
	default:
		return FailFitSgUnknown
	}

	if r := sg.Ellipse.R / ref.WCS.PixelScale(); !(r >= cfg.InnerSersicRadius && r <= cfg.OuterSersicRadius) {
		flags |= FailFitSgRadius
	}
	return flags
}

type measureJob struct {
	index int
	src   Source

	meas *Measurement
	err  error
}

// MeasureAll fans the sources out over cfg.Workers goroutines, each fitting with its
// own models and evaluators. Results come back in source order.
func MeasureAll(exposures []*exposure.Exposure, sources []Source, cfg Config) ([]*Measurement, error) {
	if len(exposures) == 0 {
		return nil, ErrNoExposures
	}
	if _, err := multifit.NewFitter(cfg.Fitter); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	jobsChan := make(chan measureJob, len(sources))
	resultsChan := make(chan measureJob, len(sources))

	nWorkers := max(cfg.Workers, 1)
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.meas, job.err = Measure(exposures, job.src, cfg)
				resultsChan <- job
			}
		}()
	}

	for i, src := range sources {
		jobsChan <- measureJob{index: i, src: src}
	}
	close(jobsChan)

	wg.Wait()
	close(resultsChan)

	out := make([]*Measurement, len(sources))
	for job := range resultsChan {
		if job.err != nil {
			return nil, fmt.Errorf("src%d: %w", job.src.ID, job.err)
		}
		out[job.index] = job.meas
	}
	return out, nil
}
