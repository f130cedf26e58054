package measure

import (
	"fmt"

	"github.com/abworrall/multifit/pkg/archive"
	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/model"
	"github.com/abworrall/multifit/pkg/multifit"
)

type PointSourcePhotometry struct {
	Flux, FluxErr float64
	Center        emath.Vec2
	CenterErr     emath.Vec2
	Chisq         float64
	Iterations    int
	Status        multifit.Status
}

func (p *PointSourcePhotometry) String() string {
	return fmt.Sprintf("ps[flux=%.6g+-%.2g, center=%s, %s in %d]", p.Flux, p.FluxErr, p.Center, p.Status, p.Iterations)
}

type SmallGalaxyPhotometry struct {
	Flux, FluxErr float64
	Center        emath.Vec2
	Ellipse       model.Ellipse
	SersicIndex   float64

	// Over [flux, x, y, e1, e2, r], row-major; nil if the fit didn't give one
	Covariance []float64

	Chisq      float64
	Iterations int
	Status     multifit.Status
}

func (p *SmallGalaxyPhotometry) String() string {
	return fmt.Sprintf("sg[flux=%.6g+-%.2g, center=%s, %s, n=%g, %s in %d]", p.Flux, p.FluxErr, p.Center, p.Ellipse,
		p.SersicIndex, p.Status, p.Iterations)
}

// A Measurement is everything measured for one source. Either photometry may be nil,
// if that fit wasn't attempted.
type Measurement struct {
	SourceID int64
	Flags    Flags

	PointSource *PointSourcePhotometry
	SmallGalaxy *SmallGalaxyPhotometry
}

func (m *Measurement) String() string {
	s := fmt.Sprintf("measurement[src%d, flags=%s", m.SourceID, m.Flags)
	if m.PointSource != nil {
		s += ", " + m.PointSource.String()
	}
	if m.SmallGalaxy != nil {
		s += ", " + m.SmallGalaxy.String()
	}
	return s + "]"
}

const (
	pointSourceName = "PointSourceModelPhotometry"
	smallGalaxyName = "SmallGalaxyModelPhotometry"
	measurementName = "MultifitMeasurement"
)

func (p *PointSourcePhotometry) PersistenceName() string { return pointSourceName }

func (p *PointSourcePhotometry) Write(h *archive.OutputHandle) error {
	c := h.AddCatalog(
		archive.Field{Name: "flux"}, archive.Field{Name: "fluxErr"},
		archive.Field{Name: "center", Doc: "sky"}, archive.Field{Name: "centerErr"},
		archive.Field{Name: "chisq"}, archive.Field{Name: "iterations"}, archive.Field{Name: "status"},
	)
	return c.Add(archive.Record{
		"flux":       p.Flux,
		"fluxErr":    p.FluxErr,
		"center":     p.Center[:],
		"centerErr":  p.CenterErr[:],
		"chisq":      p.Chisq,
		"iterations": p.Iterations,
		"status":     int(p.Status),
	})
}

func readPointSource(h *archive.InputHandle) (archive.Persistable, error) {
	rec, err := onlyRecord(h)
	if err != nil {
		return nil, err
	}
	p := &PointSourcePhotometry{}
	rd := recordReader{rec: rec}
	p.Flux = rd.float("flux")
	p.FluxErr = rd.float("fluxErr")
	p.Center = rd.vec2("center")
	p.CenterErr = rd.vec2("centerErr")
	p.Chisq = rd.float("chisq")
	p.Iterations = rd.int("iterations")
	p.Status = multifit.Status(rd.int("status"))
	return p, rd.err
}

func (p *SmallGalaxyPhotometry) PersistenceName() string { return smallGalaxyName }

func (p *SmallGalaxyPhotometry) Write(h *archive.OutputHandle) error {
	c := h.AddCatalog(
		archive.Field{Name: "flux"}, archive.Field{Name: "fluxErr"},
		archive.Field{Name: "center", Doc: "sky"},
		archive.Field{Name: "ellipse", Doc: "e1, e2, r"}, archive.Field{Name: "sersicIndex"},
		archive.Field{Name: "covariance", Doc: "flux, x, y, e1, e2, r; row-major"},
		archive.Field{Name: "chisq"}, archive.Field{Name: "iterations"}, archive.Field{Name: "status"},
	)
	cov := p.Covariance
	if cov == nil {
		cov = []float64{}
	}
	return c.Add(archive.Record{
		"flux":        p.Flux,
		"fluxErr":     p.FluxErr,
		"center":      p.Center[:],
		"ellipse":     []float64{p.Ellipse.E1, p.Ellipse.E2, p.Ellipse.R},
		"sersicIndex": p.SersicIndex,
		"covariance":  cov,
		"chisq":       p.Chisq,
		"iterations":  p.Iterations,
		"status":      int(p.Status),
	})
}

func readSmallGalaxy(h *archive.InputHandle) (archive.Persistable, error) {
	rec, err := onlyRecord(h)
	if err != nil {
		return nil, err
	}
	p := &SmallGalaxyPhotometry{}
	rd := recordReader{rec: rec}
	p.Flux = rd.float("flux")
	p.FluxErr = rd.float("fluxErr")
	p.Center = rd.vec2("center")
	if e := rd.floats("ellipse", 3); e != nil {
		p.Ellipse = model.Ellipse{E1: e[0], E2: e[1], R: e[2]}
	}
	p.SersicIndex = rd.float("sersicIndex")
	if cov := rd.floats("covariance", -1); len(cov) > 0 {
		p.Covariance = cov
	}
	p.Chisq = rd.float("chisq")
	p.Iterations = rd.int("iterations")
	p.Status = multifit.Status(rd.int("status"))
	return p, rd.err
}

func (m *Measurement) PersistenceName() string { return measurementName }

func (m *Measurement) Write(h *archive.OutputHandle) error {
	ps, sg := 0, 0
	var err error
	if m.PointSource != nil {
		if ps, err = h.Put(m.PointSource); err != nil {
			return err
		}
	}
	if m.SmallGalaxy != nil {
		if sg, err = h.Put(m.SmallGalaxy); err != nil {
			return err
		}
	}
	c := h.AddCatalog(
		archive.Field{Name: "sourceId"}, archive.Field{Name: "flags"},
		archive.Field{Name: "pointSource", Doc: "archive id"}, archive.Field{Name: "smallGalaxy", Doc: "archive id"},
	)
	return c.Add(archive.Record{
		"sourceId":    m.SourceID,
		"flags":       int(m.Flags),
		"pointSource": ps,
		"smallGalaxy": sg,
	})
}

func readMeasurement(h *archive.InputHandle) (archive.Persistable, error) {
	rec, err := onlyRecord(h)
	if err != nil {
		return nil, err
	}
	rd := recordReader{rec: rec}
	m := &Measurement{
		SourceID: int64(rd.int("sourceId")),
		Flags:    Flags(rd.int("flags")),
	}
	psID, sgID := rd.int("pointSource"), rd.int("smallGalaxy")
	if rd.err != nil {
		return nil, rd.err
	}

	if obj, err := h.Get(psID); err != nil {
		return nil, err
	} else if obj != nil {
		ps, ok := obj.(*PointSourcePhotometry)
		if !ok {
			return nil, fmt.Errorf("id %d is a %T: %w", psID, obj, archive.ErrField)
		}
		m.PointSource = ps
	}
	if obj, err := h.Get(sgID); err != nil {
		return nil, err
	} else if obj != nil {
		sg, ok := obj.(*SmallGalaxyPhotometry)
		if !ok {
			return nil, fmt.Errorf("id %d is a %T: %w", sgID, obj, archive.ErrField)
		}
		m.SmallGalaxy = sg
	}
	return m, nil
}

func RegisterFactories(reg *archive.Registry) error {
	for name, f := range map[string]archive.FactoryFunc{
		pointSourceName: readPointSource,
		smallGalaxyName: readSmallGalaxy,
		measurementName: readMeasurement,
	} {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

func onlyRecord(h *archive.InputHandle) (archive.Record, error) {
	c, err := h.Catalog(0)
	if err != nil {
		return nil, err
	}
	if c.Len() != 1 {
		return nil, fmt.Errorf("%d records: %w", c.Len(), archive.ErrCatalog)
	}
	return c.Records[0], nil
}

// recordReader keeps the first error, so a run of reads can be checked once.
type recordReader struct {
	rec archive.Record
	err error
}

func (rd *recordReader) float(name string) float64 {
	if rd.err != nil {
		return 0
	}
	v, err := rd.rec.Float(name)
	rd.err = err
	return v
}

func (rd *recordReader) int(name string) int {
	if rd.err != nil {
		return 0
	}
	v, err := rd.rec.Int(name)
	rd.err = err
	return v
}

// floats wants exactly n values, or any number if n < 0.
func (rd *recordReader) floats(name string, n int) []float64 {
	if rd.err != nil {
		return nil
	}
	v, err := rd.rec.Floats(name)
	if err == nil && n >= 0 && len(v) != n {
		err = fmt.Errorf("%q has %d values, want %d: %w", name, len(v), n, archive.ErrField)
	}
	rd.err = err
	if err != nil {
		return nil
	}
	return v
}

func (rd *recordReader) vec2(name string) emath.Vec2 {
	v := rd.floats(name, 2)
	if v == nil {
		return emath.Vec2{}
	}
	return emath.Vec2{v[0], v[1]}
}
