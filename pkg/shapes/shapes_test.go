package shapes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrates the shape numerically over center +- 60 fwhm
func area(s Shape, v Values) float64 {
	const n = 120001
	lo := v["center"] - 60*v["fwhm"]
	hi := v["center"] + 60*v["fwhm"]
	dx := (hi - lo) / (n - 1)
	var sum float64
	for i := 0; i < n; i++ {
		sum += s.At(lo+float64(i)*dx, v)
	}
	return sum * dx
}

type shapeTester struct {
	shape Shape
	// relative tolerance on the integrated area
	tol float64
}

func (s *shapeTester) runTest(t *testing.T, name string) {
	v := s.shape.Defaults()
	v["amplitude"] = 3
	v["center"] = 10
	v["fwhm"] = 1.2

	got := area(s.shape, v)
	assert.InEpsilon(t, 3, got, s.tol, "[%s] area does not match amplitude", name)
	assert.Greater(t, s.shape.At(10, v), 0.0, "[%s] peak must be positive at center", name)
}

var shapeTests = map[string]*shapeTester{
	"pseudo-voigt": {shape: PseudoVoigt, tol: 0.01},
	"voigt":        {shape: Voigt, tol: 0.01},
}

func TestShapeArea(t *testing.T) {
	for name, cfg := range shapeTests {
		cfg.runTest(t, name)
	}
}

func TestAliasTable(t *testing.T) {
	for _, s := range Shapes {
		for _, a := range []Alias{Area, FWHM, Position} {
			_, ok := s.Param(a)
			assert.True(t, ok, "%s must map %s", s, a)
		}
		for _, a := range s.Aliases() {
			param, _ := s.Param(a)
			_, ok := s.Defaults()[param]
			assert.True(t, ok, "%s alias %s maps to undeclared parameter %s", s, a, param)
		}
	}

	name, ok := Gelius.Param(Gamma)
	assert.True(t, ok)
	assert.Equal(t, "fwhm_l", name)

	_, ok = PseudoVoigt.Param(Beta)
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	s, err := Parse("pseudovoigt")
	require.NoError(t, err)
	assert.Equal(t, PseudoVoigt, s)

	_, err = Parse("triangle")
	assert.Error(t, err)

	a, err := ParseAlias("FWHM")
	require.NoError(t, err)
	assert.Equal(t, FWHM, a)
}

func TestFromGeometry(t *testing.T) {
	for _, s := range Shapes {
		fwhm, ar, err := s.FromGeometry(5, math.Pi/4, 2)
		require.NoError(t, err, "shape %s", s)
		assert.InDelta(t, 2, fwhm, 1e-12)

		v := s.Defaults()
		v["amplitude"] = ar
		v["center"] = 5
		v["fwhm"] = fwhm
		assert.InDelta(t, 2, s.At(5, v), 1e-9, "shape %s must reach the drawn height", s)
	}

	_, _, err := PseudoVoigt.FromGeometry(5, -math.Pi/4, 2)
	assert.Error(t, err)
}

func TestFaddeevaLimit(t *testing.T) {
	// w(iy) is real and equals exp(y^2) erfc(y)
	for _, y := range []float64{0.1, 1, 3, 10} {
		w := faddeeva(complex(0, y))
		want := math.Exp(y*y) * math.Erfc(y)
		assert.InEpsilon(t, want, real(w), 1e-3, "y = %g", y)
	}
}
