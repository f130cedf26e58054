package prior

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/multifit/pkg/archive"
)

const (
	mixtureName      = "Mixture"
	mixturePriorName = "MixturePrior"
)

func (m *Mixture) PersistenceName() string { return mixtureName }

// Write puts one record per component; sigma is flattened row-major.
func (m *Mixture) Write(h *archive.OutputHandle) error {
	c := h.AddCatalog(
		archive.Field{Name: "weight"},
		archive.Field{Name: "mu"},
		archive.Field{Name: "sigma", Doc: "row-major, dim*dim"},
	)
	for _, comp := range m.components {
		sigma := make([]float64, 0, m.dim*m.dim)
		for i := 0; i < m.dim; i++ {
			for j := 0; j < m.dim; j++ {
				sigma = append(sigma, comp.Sigma.At(i, j))
			}
		}
		if err := c.Add(archive.Record{"weight": comp.Weight, "mu": comp.Mu, "sigma": sigma}); err != nil {
			return err
		}
	}
	return nil
}

func readMixture(h *archive.InputHandle) (archive.Persistable, error) {
	c, err := h.Catalog(0)
	if err != nil {
		return nil, err
	}
	comps := []Component{}
	dim := 0
	for i, rec := range c.Records {
		w, err := rec.Float("weight")
		if err != nil {
			return nil, err
		}
		mu, err := rec.Floats("mu")
		if err != nil {
			return nil, err
		}
		flat, err := rec.Floats("sigma")
		if err != nil {
			return nil, err
		}
		if i == 0 {
			dim = len(mu)
		}
		if len(mu) != dim || len(flat) != dim*dim {
			return nil, fmt.Errorf("component %d: %w", i, ErrDimension)
		}
		sigma := mat.NewSymDense(dim, nil)
		for a := 0; a < dim; a++ {
			for b := a; b < dim; b++ {
				sigma.SetSym(a, b, flat[a*dim+b])
			}
		}
		comps = append(comps, Component{Weight: w, Mu: mu, Sigma: sigma})
	}
	return NewMixture(dim, comps)
}

func (p *MixturePrior) PersistenceName() string { return mixturePriorName }

func (p *MixturePrior) Write(h *archive.OutputHandle) error {
	id, err := h.Put(p.mixture)
	if err != nil {
		return err
	}
	c := h.AddCatalog(archive.Field{Name: "mixture"}, archive.Field{Name: "indices"})
	return c.Add(archive.Record{"mixture": id, "indices": p.indices})
}

func readMixturePrior(h *archive.InputHandle) (archive.Persistable, error) {
	c, err := h.Catalog(0)
	if err != nil {
		return nil, err
	}
	if c.Len() != 1 {
		return nil, fmt.Errorf("%d records: %w", c.Len(), archive.ErrCatalog)
	}
	id, err := c.Records[0].Int("mixture")
	if err != nil {
		return nil, err
	}
	indices, err := c.Records[0].Ints("indices")
	if err != nil {
		return nil, err
	}
	obj, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	m, ok := obj.(*Mixture)
	if !ok {
		return nil, fmt.Errorf("id %d is a %T, not a mixture: %w", id, obj, archive.ErrField)
	}
	return NewMixturePrior(m, indices...)
}

func RegisterFactories(reg *archive.Registry) error {
	if err := reg.Register(mixtureName, archive.FactoryFunc(readMixture)); err != nil {
		return err
	}
	return reg.Register(mixturePriorName, archive.FactoryFunc(readMixturePrior))
}
