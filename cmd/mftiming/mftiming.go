package main

import (
	"flag"
	"log"
	"time"

	"github.com/codahale/hdrhistogram"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/model"
	"github.com/abworrall/multifit/pkg/multifit"
	"github.com/abworrall/multifit/pkg/synth"
)

var (
	fVerbosity  int
	fExposures  int
	fRepeats    int
	fSize       int
	fGalaxy     bool
	fNoise      bool
	fIterations int
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.IntVar(&fExposures, "n", 10, "how many exposures in the stack")
	flag.IntVar(&fRepeats, "repeats", 20, "how many times to run each timed step")
	flag.IntVar(&fSize, "size", 64, "width and height of each exposure, in pixels")
	flag.BoolVar(&fGalaxy, "galaxy", false, "time a small galaxy model instead of a point source")
	flag.BoolVar(&fNoise, "noise", true, "add gaussian noise to the exposures")
	flag.IntVar(&fIterations, "iterations", 5, "max fitter iterations")
	flag.Parse()

	log.Printf("mftiming starting\n")
}

func makeModel() *model.Model {
	center := emath.Vec2{35, 65}
	if !fGalaxy {
		return model.NewPointSource(34.45, center)
	}
	m, err := model.NewSmallGalaxy(34.45, center, model.Ellipse{E1: 0.15, E2: -0.1, R: 3e-4}, 1)
	if err != nil {
		log.Fatal(err)
	}
	return m
}

// timeIt runs f fRepeats times, and logs latency percentiles across the calls.
func timeIt(name string, f func() error) {
	// Microseconds, from 1us to 10 minutes
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	for i := 0; i < fRepeats; i++ {
		tStart := time.Now()
		if err := f(); err != nil {
			log.Fatalf("%s: %v\n", name, err)
		}
		if err := h.RecordValue(int64(time.Since(tStart) / time.Microsecond)); err != nil {
			log.Printf("%s: %v\n", name, err)
		}
	}

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	log.Printf("%-28s n=%d p50=%s p90=%s p99=%s max=%s\n", name, h.TotalCount(),
		us(h.ValueAtQuantile(50)), us(h.ValueAtQuantile(90)), us(h.ValueAtQuantile(99)), us(h.Max()))
}

func main() {
	opts := synth.DefaultOptions()
	opts.Width, opts.Height = fSize, fSize
	opts.Noise = fNoise

	truth := makeModel()
	exposures, err := synth.Stack(truth, fExposures, opts)
	if err != nil {
		log.Fatal(err)
	}

	m := truth.Clone()
	ev := multifit.NewEvaluator(m, 0)
	ev.Verbosity = fVerbosity

	timeIt("SetExposureList", func() error {
		return ev.SetExposureList(exposures)
	})
	log.Printf("%d projections, %d pixels\n", ev.ProjectionCount(), ev.PixelCount())

	timeIt("ModelImage", func() error {
		ev.InvalidateAll()
		_, err := ev.ModelImage()
		return err
	})
	timeIt("LinearParameterDerivative", func() error {
		ev.InvalidateAll()
		_, err := ev.LinearParameterDerivative()
		return err
	})
	timeIt("NonlinearParameterDerivative", func() error {
		ev.InvalidateAll()
		_, err := ev.NonlinearParameterDerivative()
		return err
	})

	cfg := multifit.NewConfig()
	cfg.Verbosity = fVerbosity
	cfg.IterationMax = fIterations
	if err := cfg.Finalize(); err != nil {
		log.Fatal(err)
	}
	fitter, err := multifit.NewFitter(cfg)
	if err != nil {
		log.Fatal(err)
	}

	// Each fit starts from the same perturbed guess
	start := truth.Clone()
	nonlinear := start.NonlinearParameters()
	nonlinear[0] += 5e-5
	nonlinear[1] -= 3e-5
	if err := start.SetNonlinearParameters(nonlinear); err != nil {
		log.Fatal(err)
	}
	if err := start.SetLinearParameters([]float64{0.8 * 34.45}); err != nil {
		log.Fatal(err)
	}

	var res *multifit.Result
	timeIt("Fitter.Apply", func() error {
		fm := start.Clone()
		fev := multifit.NewEvaluator(fm, 0)
		if err := fev.SetExposureList(exposures); err != nil {
			return err
		}
		res = fitter.Apply(fev)
		return nil
	})
	log.Printf("last fit: %s\n", res)
}
