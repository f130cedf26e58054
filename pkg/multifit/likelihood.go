package multifit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Likelihood is the least-squares view of an evaluator: weighted data, weighted model
// matrix, chi-square. Dimensions are (data, amplitude, nonlinear, fixed).
type Likelihood struct {
	ev      *Evaluator
	weights []float64 // 1/sigma per pixel
	wdata   []float64
}

func NewLikelihood(ev *Evaluator) (*Likelihood, error) {
	if ev.PixelCount() == 0 {
		return nil, ErrNoData
	}
	variance := ev.Variance()
	data := ev.Data()
	l := Likelihood{
		ev:      ev,
		weights: make([]float64, len(variance)),
		wdata:   make([]float64, len(variance)),
	}
	for i, v := range variance {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("pixel %d variance %g: %w", i, v, ErrBadVariance)
		}
		l.weights[i] = 1 / math.Sqrt(v)
		l.wdata[i] = data[i] * l.weights[i]
	}
	return &l, nil
}

func (l *Likelihood) DataDim() int      { return l.ev.PixelCount() }
func (l *Likelihood) AmplitudeDim() int { return l.ev.LinearParameterSize() }
func (l *Likelihood) NonlinearDim() int { return l.ev.NonlinearParameterSize() }
func (l *Likelihood) FixedDim() int     { return l.ev.Model().FixedParameterSize() }
func (l *Likelihood) Fixed() []float64  { return l.ev.Model().FixedParameters() }

func (l *Likelihood) Data() []float64           { return l.wdata }
func (l *Likelihood) UnweightedData() []float64 { return l.ev.Data() }
func (l *Likelihood) Weights() []float64        { return l.weights }
func (l *Likelihood) Variance() []float64       { return l.ev.Variance() }

// Model is the current (unweighted) model image.
func (l *Likelihood) Model() ([]float64, error) { return l.ev.ModelImage() }

// ComputeModelMatrix sets the nonlinear parameters and returns the pixSum x nLinear
// matrix mapping amplitudes to model pixels, optionally scaled by 1/sigma.
func (l *Likelihood) ComputeModelMatrix(nonlinear []float64, doApplyWeights bool) (*mat.Dense, error) {
	if err := l.ev.SetParameters(nil, nonlinear); err != nil {
		return nil, err
	}
	lin, err := l.ev.LinearParameterDerivative()
	if err != nil {
		return nil, err
	}
	out := mat.DenseCopyOf(lin.T())
	if doApplyWeights {
		for i, w := range l.weights {
			floats.Scale(w, out.RawRowView(i))
		}
	}
	return out, nil
}

// Chisq puts the amplitudes into the model and returns sum(((data-model)/sigma)^2).
func (l *Likelihood) Chisq(amplitudes []float64) (float64, error) {
	if err := l.ev.SetParameters(amplitudes, nil); err != nil {
		return 0, err
	}
	return l.currentChisq()
}

func (l *Likelihood) currentChisq() (float64, error) {
	img, err := l.ev.ModelImage()
	if err != nil {
		return 0, err
	}
	data := l.ev.Data()
	chisq := 0.0
	for i, m := range img {
		r := (data[i] - m) * l.weights[i]
		chisq += r * r
	}
	if math.IsNaN(chisq) || math.IsInf(chisq, 0) {
		return 0, ErrNonFinite
	}
	return chisq, nil
}

// weightedResiduals is (data-model)/sigma for the current parameters.
func (l *Likelihood) weightedResiduals() ([]float64, error) {
	img, err := l.ev.ModelImage()
	if err != nil {
		return nil, err
	}
	data := l.ev.Data()
	r := make([]float64, len(img))
	for i, m := range img {
		r[i] = (data[i] - m) * l.weights[i]
	}
	return r, nil
}

// weightedRows scales each column (pixel) of an nParam x pixSum matrix by 1/sigma.
func (l *Likelihood) weightedRows(m *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		floats.Mul(out.RawRowView(i), l.weights)
	}
	return out
}

// AmplitudeQuadratic writes chi^2/2 as a function of the amplitudes a, at the current
// nonlinear parameters, as r0/2 + g.a + a.F.a/2.
func (l *Likelihood) AmplitudeQuadratic() (r0 float64, gradient *mat.VecDense, fisher *mat.SymDense, err error) {
	lin, err := l.ev.LinearParameterDerivative()
	if err != nil {
		return 0, nil, nil, err
	}
	aw := l.weightedRows(lin)
	n, _ := aw.Dims()

	fisher = mat.NewSymDense(n, nil)
	fisher.SymOuterK(1, aw)

	gradient = mat.NewVecDense(n, nil)
	gradient.MulVec(aw, mat.NewVecDense(len(l.wdata), l.wdata))
	gradient.ScaleVec(-1, gradient)

	return floats.Dot(l.wdata, l.wdata), gradient, fisher, nil
}
