package solver

import (
	"math"

	"github.com/pkg/errors"
)

const (
	lambdaStart = 1e-3
	lambdaLimit = 1e16
	// forward difference step relative to the parameter
	diffStep = 1.4901161193847656e-08
)

// Levenberg-Marquardt with bound constraints handled by the MINUIT
// variable transforms: the solver works on unbounded internal values.
type LevenbergMarquardt struct {
	MaxIterations int
	Tolerance     float64
}

func NewLevenbergMarquardt(maxIterations int, tolerance float64) *LevenbergMarquardt {
	return &LevenbergMarquardt{MaxIterations: maxIterations, Tolerance: tolerance}
}

type bound struct {
	min, max float64
}

func (b bound) clamp(v float64) float64 {
	return math.Min(math.Max(v, b.min), b.max)
}

func (b bound) internal(v float64) float64 {
	v = b.clamp(v)
	lo, hi := !math.IsInf(b.min, -1), !math.IsInf(b.max, 1)
	switch {
	case lo && hi:
		if b.max == b.min {
			return 0
		}
		return math.Asin(2*(v-b.min)/(b.max-b.min) - 1)
	case lo:
		d := v - b.min + 1
		return math.Sqrt(d*d - 1)
	case hi:
		d := b.max - v + 1
		return math.Sqrt(d*d - 1)
	}
	return v
}

func (b bound) external(u float64) float64 {
	lo, hi := !math.IsInf(b.min, -1), !math.IsInf(b.max, 1)
	switch {
	case lo && hi:
		return b.min + (math.Sin(u)+1)*(b.max-b.min)/2
	case lo:
		return b.min - 1 + math.Sqrt(u*u+1)
	case hi:
		return b.max + 1 - math.Sqrt(u*u+1)
	}
	return u
}

func (s *LevenbergMarquardt) Solve(p *Problem) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fit problem")
	}

	n := len(p.Params)
	bounds := make([]bound, n)
	u := make([]float64, n)
	for i, par := range p.Params {
		bounds[i] = bound{par.Min, par.Max}
		u[i] = bounds[i].internal(par.Value)
	}

	external := func(u []float64) []float64 {
		v := make([]float64, n)
		for i := range u {
			v[i] = bounds[i].external(u[i])
		}
		return v
	}
	residuals := func(u []float64) ([]float64, float64, error) {
		r, err := p.Residuals(external(u))
		if err != nil {
			return nil, 0, err
		}
		return r, chisqr(r), nil
	}

	r, chi, err := residuals(u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to evaluate model")
	}

	res := &Result{}
	lambda := lambdaStart
	for it := 0; it < s.MaxIterations && !res.Converged; it++ {
		res.Iterations = it + 1

		jac, err := s.jacobian(residuals, u, r)
		if err != nil {
			return nil, err
		}
		a, g := normal(jac, r)

		improved := false
		for lambda < lambdaLimit {
			m := make([][]float64, n)
			for i := range a {
				m[i] = append([]float64(nil), a[i]...)
				m[i][i] += lambda * math.Max(a[i][i], 1e-12)
			}
			step, err := gauss(m, g)
			if err != nil {
				lambda *= 10
				continue
			}

			next := make([]float64, n)
			for i := range u {
				next[i] = u[i] + step[i]
			}
			nr, nchi, err := residuals(next)
			if err != nil || math.IsNaN(nchi) || nchi >= chi {
				lambda *= 10
				continue
			}

			if chi-nchi <= s.Tolerance*chi {
				res.Converged = true
			}
			u, r, chi = next, nr, nchi
			lambda = math.Max(lambda/10, 1e-12)
			improved = true
			break
		}
		// no step reduces chi-square any further
		if !improved || chi == 0 {
			res.Converged = true
		}
	}

	res.Values = external(u)
	res.Chisqr = chi
	return res, nil
}

func (s *LevenbergMarquardt) jacobian(
	residuals func([]float64) ([]float64, float64, error),
	u, r []float64,
) ([][]float64, error) {
	jac := make([][]float64, len(u))
	for j := range u {
		h := diffStep * math.Max(math.Abs(u[j]), 1)
		shifted := append([]float64(nil), u...)
		shifted[j] += h
		rj, _, err := residuals(shifted)
		if err != nil {
			return nil, errors.Wrap(err, "failed to evaluate jacobian")
		}
		col := make([]float64, len(r))
		for i := range r {
			col[i] = (rj[i] - r[i]) / h
		}
		jac[j] = col
	}
	return jac, nil
}

// normal returns J^T J and -J^T r; jac is stored by column
func normal(jac [][]float64, r []float64) ([][]float64, []float64) {
	n := len(jac)
	a := make([][]float64, n)
	g := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			var sum float64
			for k := range r {
				sum += jac[i][k] * jac[j][k]
			}
			a[i][j], a[j][i] = sum, sum
		}
		var sum float64
		for k := range r {
			sum += jac[i][k] * r[k]
		}
		g[i] = -sum
	}
	return a, g
}

// gauss solves m x = b with partial pivoting. m is modified.
func gauss(m [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	x := append([]float64(nil), b...)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if m[pivot][col] == 0 {
			return nil, errors.New("singular matrix")
		}
		m[col], m[pivot] = m[pivot], m[col]
		x[col], x[pivot] = x[pivot], x[col]

		for row := col + 1; row < n; row++ {
			f := m[row][col] / m[col][col]
			for k := col; k < n; k++ {
				m[row][k] -= f * m[col][k]
			}
			x[row] -= f * x[col]
		}
	}
	for row := n - 1; row >= 0; row-- {
		for k := row + 1; k < n; k++ {
			x[row] -= m[row][k] * x[k]
		}
		x[row] /= m[row][row]
	}
	return x, nil
}
