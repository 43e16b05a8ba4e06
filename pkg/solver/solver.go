// Nonlinear least-squares solvers. A Problem carries the samples, the
// free parameters with their bounds, and the model to evaluate; solvers
// return the best values they found.
package solver

import (
	"math"

	"github.com/pkg/errors"
)

var (
	ErrNoSamples    = errors.New("problem has no samples")
	ErrNoParameters = errors.New("problem has no free parameters")
)

// A free fit parameter
type Parameter struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
}

// Evaluates the model at every x for the given parameter values, in the
// order of Problem.Params
type ModelFunc func(x []float64, values []float64) ([]float64, error)

type Problem struct {
	X      []float64
	Y      []float64
	Params []Parameter
	Model  ModelFunc
}

type Result struct {
	Values     []float64
	Iterations int
	Chisqr     float64
	Converged  bool
}

type Solver interface {
	Solve(p *Problem) (*Result, error)
}

// Validate checks the problem is well formed
func (p *Problem) Validate() error {
	if len(p.X) == 0 {
		return ErrNoSamples
	}
	if len(p.X) != len(p.Y) {
		return errors.Errorf("x and y differ in length: %d != %d", len(p.X), len(p.Y))
	}
	if len(p.Params) == 0 {
		return ErrNoParameters
	}
	for _, par := range p.Params {
		if math.IsNaN(par.Value) || math.IsInf(par.Value, 0) {
			return errors.Errorf("parameter %s has no finite initial value", par.Name)
		}
		if par.Min > par.Max {
			return errors.Errorf("parameter %s has min %g > max %g", par.Name, par.Min, par.Max)
		}
	}
	if p.Model == nil {
		return errors.New("problem has no model")
	}
	return nil
}

// Residuals returns model - y for the given values
func (p *Problem) Residuals(values []float64) ([]float64, error) {
	m, err := p.Model(p.X, values)
	if err != nil {
		return nil, err
	}
	if len(m) != len(p.Y) {
		return nil, errors.Errorf("model returned %d samples, want %d", len(m), len(p.Y))
	}
	r := make([]float64, len(m))
	for i := range m {
		r[i] = m[i] - p.Y[i]
	}
	return r, nil
}

func chisqr(r []float64) float64 {
	var s float64
	for _, v := range r {
		s += v * v
	}
	return s
}
