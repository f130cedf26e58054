package model

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var ErrSersicIndex = errors.New("model: unsupported sersic index")

const (
	MinSersicIndex = 0.5
	MaxSersicIndex = 6.0

	sersicComponents = 8
	sersicGridPoints = 200
)

// A gaussian of covariance scale^2 * ellipse covariance, carrying `weight` of the flux.
type profileComponent struct {
	weight float64
	scale  float64
}

var (
	sersicMu    sync.Mutex
	sersicCache = map[float64][]profileComponent{}
)

// SersicB is the b_n that makes r=1 the half-light radius (Ciotti & Bertin expansion).
func SersicB(n float64) float64 {
	return 2*n - 1.0/3.0 + 4.0/(405.0*n) + 46.0/(25515.0*n*n)
}

// sersicMixture approximates exp(-b_n (rho^(1/n) - 1)) by a non-negative sum of
// circular gaussians of fixed, log-spaced widths. Weights sum to 1. Results are
// cached, and safe to share between goroutines.
func sersicMixture(n float64) ([]profileComponent, error) {
	if math.IsNaN(n) || n < MinSersicIndex || n > MaxSersicIndex {
		return nil, fmt.Errorf("sersic n=%g: %w", n, ErrSersicIndex)
	}

	sersicMu.Lock()
	defer sersicMu.Unlock()
	if comps, exists := sersicCache[n]; exists {
		return comps, nil
	}

	comps, err := fitSersicMixture(n)
	if err != nil {
		return nil, err
	}
	sersicCache[n] = comps
	return comps, nil
}

func fitSersicMixture(n float64) ([]profileComponent, error) {
	bn := SersicB(n)

	// Big n has a narrow core and broad wings
	smin, smax := 0.05/n, 1.0+1.5*n
	rhoMax := 3.0 + 1.5*n

	scales := make([]float64, sersicComponents)
	for k := range scales {
		scales[k] = smin * math.Pow(smax/smin, float64(k)/float64(sersicComponents-1))
	}

	// Fit surface brightness, weighted by rho so the fit cares about flux, not the core
	rhos := make([]float64, sersicGridPoints)
	target := mat.NewVecDense(sersicGridPoints, nil)
	for i := range rhos {
		rho := rhoMax * (float64(i) + 0.5) / float64(sersicGridPoints)
		rhos[i] = rho
		target.SetVec(i, math.Sqrt(rho)*math.Exp(-bn*(math.Pow(rho, 1/n)-1)))
	}

	active := make([]bool, sersicComponents)
	for k := range active {
		active[k] = true
	}

	// Poor man's NNLS: solve, drop the most negative coeff, repeat
	for {
		idx := []int{}
		for k, a := range active {
			if a {
				idx = append(idx, k)
			}
		}
		if len(idx) == 0 {
			return nil, fmt.Errorf("sersic n=%g: no non-negative fit: %w", n, ErrSersicIndex)
		}

		design := mat.NewDense(sersicGridPoints, len(idx), nil)
		for i, rho := range rhos {
			for j, k := range idx {
				s := scales[k]
				design.Set(i, j, math.Sqrt(rho)*math.Exp(-rho*rho/(2*s*s)))
			}
		}

		var coeffs mat.VecDense
		if err := coeffs.SolveVec(design, target); err != nil {
			// Near-singular still gives a usable least squares answer
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, fmt.Errorf("sersic n=%g: %v: %w", n, err, ErrSersicIndex)
			}
		}

		worst, worstVal := -1, 0.0
		for j := range idx {
			if c := coeffs.AtVec(j); c < worstVal {
				worst, worstVal = idx[j], c
			}
		}
		if worst >= 0 {
			active[worst] = false
			continue
		}

		// Peak height c of a gaussian with sigma s holds 2 pi s^2 c of flux
		comps := []profileComponent{}
		tot := 0.0
		for j, k := range idx {
			w := coeffs.AtVec(j) * 2 * math.Pi * scales[k] * scales[k]
			if w <= 0 {
				continue
			}
			comps = append(comps, profileComponent{weight: w, scale: scales[k]})
			tot += w
		}
		if tot <= 0 {
			return nil, fmt.Errorf("sersic n=%g: zero flux fit: %w", n, ErrSersicIndex)
		}
		for i := range comps {
			comps[i].weight /= tot
		}
		return comps, nil
	}
}
