package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abworrall/multifit/pkg/archive"
	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/expio"
	"github.com/abworrall/multifit/pkg/exposure"
	"github.com/abworrall/multifit/pkg/footprint"
	"github.com/abworrall/multifit/pkg/measure"
	"github.com/abworrall/multifit/pkg/model"
	"github.com/abworrall/multifit/pkg/prior"
	"github.com/abworrall/multifit/pkg/psf"
	"github.com/abworrall/multifit/pkg/wcs"
)

var (
	fVerbosity       int
	fConfigFilename  string
	fSourcesFilename string
	fOutputFilename  string
	fResidualBase    string
	fWorkers         int
	fNoSmallGalaxy   bool
	fMetricsAddr     string

	fGain      float64
	fReadNoise float64
	fPSFSigma  float64
	fPixScale  float64
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.StringVar(&fConfigFilename, "config", "", "yaml config file (optional)")
	flag.StringVar(&fSourcesFilename, "sources", "sources.yaml", "yaml list of sources to measure")
	flag.StringVar(&fOutputFilename, "o", "measurements.yaml", "name of output archive")
	flag.StringVar(&fResidualBase, "residuals", "", "if set, write residuals of the first exposure to <this>.png and <this>.hdr")
	flag.IntVar(&fWorkers, "workers", 0, "how many sources to fit at once (overrides config)")
	flag.BoolVar(&fNoSmallGalaxy, "nosg", false, "only fit point sources")
	flag.StringVar(&fMetricsAddr, "metrics", "", "serve prometheus metrics on this addr, e.g. :2112")

	flag.Float64Var(&fGain, "gain", 1, "TIFF only: electrons per count")
	flag.Float64Var(&fReadNoise, "readnoise", 0, "TIFF only: read noise, in electrons")
	flag.Float64Var(&fPSFSigma, "psfsigma", 2, "TIFF only: gaussian PSF sigma, in pixels")
	flag.Float64Var(&fPixScale, "pixscale", 1, "TIFF only: sky units per pixel, sky origin at pixel (0,0)")
	flag.Parse()

	log.Printf("multifit starting\n")
}

func main() {
	cfg := measure.NewConfig()
	if fConfigFilename != "" {
		var err error
		if cfg, err = measure.LoadConfig(fConfigFilename); err != nil {
			log.Fatal(err)
		}
	}

	// Override the config file with command line args, if relevant
	if fVerbosity > 0 {
		cfg.Verbosity = fVerbosity
		cfg.Fitter.Verbosity = fVerbosity
	}
	if fWorkers > 0 {
		cfg.Workers = fWorkers
	}
	if fNoSmallGalaxy {
		cfg.DoSmallGalaxy = false
	}
	if err := cfg.Finalize(); err != nil {
		log.Fatal(err)
	}

	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	if fMetricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Fatal(http.ListenAndServe(fMetricsAddr, nil))
		}()
	}

	loader := expio.Loader{Verbosity: cfg.Verbosity}
	p, err := psf.Create("DoubleGaussian", 19, 19, fPSFSigma)
	if err != nil {
		log.Fatal(err)
	}
	w, err := wcs.New(emath.Vec2{0, 0}, emath.Vec2{0, 0}, emath.Diag2(fPixScale, fPixScale))
	if err != nil {
		log.Fatal(err)
	}
	loader.TIFF = expio.TIFFOptions{Gain: fGain, ReadNoise: fReadNoise, PSF: p, WCS: w}

	if err := loader.LoadFilesAndDirs(flag.Args()...); err != nil {
		log.Fatal(err)
	}
	if len(loader.Exposures) == 0 {
		log.Fatalf("no exposures found in %v\n", flag.Args())
	}
	ref := loader.Exposures[0]

	sources, err := measure.LoadSources(fSourcesFilename, ref.WCS)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%d exposures, %d sources\n", len(loader.Exposures), len(sources))

	measurements, err := measure.MeasureAll(loader.Exposures, sources, cfg)
	if err != nil {
		log.Fatalf("MeasureAll failed, err: %v\n", err)
	}

	nFlagged := 0
	for _, m := range measurements {
		if m.Flags != 0 {
			nFlagged++
		}
		if cfg.Verbosity > 0 {
			log.Printf("%s\n", m)
		}
	}
	log.Printf("%d measurements, %d flagged\n", len(measurements), nFlagged)

	if err := writeArchive(fOutputFilename, measurements); err != nil {
		log.Fatal(err)
	}
	log.Printf("archive written '%s'\n", fOutputFilename)

	if fResidualBase != "" {
		resid, err := residuals(ref, measurements)
		if err != nil {
			log.Fatal(err)
		}
		if err := resid.ToImg("residuals", fResidualBase+".png"); err != nil {
			log.Fatal(err)
		}
		if err := expio.WriteHDR(fResidualBase+".hdr", resid); err != nil {
			log.Fatal(err)
		}
		log.Printf("residuals written '%s.{png,hdr}', %s\n", fResidualBase, resid.Stats())
	}

	if fMetricsAddr != "" {
		log.Printf("serving metrics on %s, ^C to exit\n", fMetricsAddr)
		select {}
	}
}

func writeArchive(filename string, measurements []*measure.Measurement) error {
	out := archive.NewOutputArchive()
	for _, m := range measurements {
		if _, err := out.Put(m); err != nil {
			return err
		}
	}
	buf := bytes.Buffer{}
	if err := out.Encode(&buf); err != nil {
		return err
	}

	// Read it back through the registry, so a file we can't load never gets written
	reg := archive.NewRegistry()
	if err := prior.RegisterFactories(reg); err != nil {
		return err
	}
	if err := measure.RegisterFactories(reg); err != nil {
		return err
	}
	in, err := archive.Decode(bytes.NewReader(buf.Bytes()), reg)
	if err != nil {
		return fmt.Errorf("archive check: %w", err)
	}
	for _, id := range in.IDs() {
		if _, err := in.Get(id); err != nil {
			return fmt.Errorf("archive check, id %d: %w", id, err)
		}
	}

	return os.WriteFile(filename, buf.Bytes(), 0644)
}

// residuals subtracts the fitted point sources from the first exposure's image.
func residuals(exp *exposure.Exposure, measurements []*measure.Measurement) (*emath.FloatGrid, error) {
	resid := exp.Image.Copy()
	fp := footprint.NewBox(exp.Bounds())

	for _, m := range measurements {
		ps := m.PointSource
		if ps == nil || m.Flags.Has(measure.FailFitPs) {
			continue
		}
		img, err := model.NewPointSource(ps.Flux, ps.Center).MakeProjection(exp.PSF, exp.WCS, fp).ModelImage()
		if err != nil {
			return nil, err
		}
		fp.ForEachPixel(func(i, x, y int) {
			lx, ly := x-exp.XY0.X, y-exp.XY0.Y
			resid.Set(lx, ly, resid.Get(lx, ly)-img[i])
		})
	}

	return resid, nil
}
