package multifit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// evaluatorPixels tracks pixSum per exposure list
	evaluatorPixels = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multifit_evaluator_pixels",
		Help:    "Total accepted pixels per exposure list",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})

	// exposuresTotal counts exposures offered to evaluators, by outcome
	exposuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multifit_exposures_total",
		Help: "Exposures offered to evaluators by outcome",
	}, []string{"outcome"})

	// productComputes counts evaluator level recomputes by product
	productComputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multifit_product_computes_total",
		Help: "Model image and derivative recomputes by product",
	}, []string{"product"})

	// fitIterations tracks iterations per fit
	fitIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multifit_fit_iterations",
		Help:    "Iterations per fit",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100, 1000},
	}, []string{"fitter"})

	// fitStatus counts finished fits by terminal status
	fitStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multifit_fit_status_total",
		Help: "Finished fits by terminal status",
	}, []string{"fitter", "status"})

	// fitDuration tracks wall time per fit
	fitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multifit_fit_duration_seconds",
		Help:    "Fit duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"fitter"})
)
