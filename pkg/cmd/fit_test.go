package cmd

import (
	"testing"

	"github.com/gxps"
	"github.com/gxps/pkg/processing"
	"github.com/gxps/pkg/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peakFlagTester struct {
	flag  string
	name  string
	shape shapes.Shape
	args  gxps.PeakArgs
	fails bool
}

func (p *peakFlagTester) runTest(t *testing.T, name string) {
	pname, shape, args, err := parsePeakFlag(p.flag)
	if p.fails {
		assert.Error(t, err, "[%s] expected an error", name)
		return
	}
	require.NoError(t, err, "[%s] failed to parse", name)
	assert.Equal(t, p.name, pname, "[%s] wrong name", name)
	assert.Equal(t, p.shape, shape, "[%s] wrong shape", name)
	assert.Equal(t, p.args, args, "[%s] wrong args", name)
}

var peakFlagTests = map[string]*peakFlagTester{
	"named": {
		flag:  "A:PseudoVoigt:932.6:1000:1.2",
		name:  "A",
		shape: shapes.PseudoVoigt,
		args:  gxps.PeakArgs{Position: 932.6, Area: 1000, FWHM: 1.2},
	},
	"unnamed": {
		flag:  ":voigt:10:1:0.5",
		shape: shapes.Voigt,
		args:  gxps.PeakArgs{Position: 10, Area: 1, FWHM: 0.5},
	},
	"short":         {flag: "A:Voigt:10", fails: true},
	"unknown-shape": {flag: "A:Lorentz:10:1:1", fails: true},
	"bad-number":    {flag: "A:Voigt:ten:1:1", fails: true},
}

func TestParsePeakFlag(t *testing.T) {
	for name, cfg := range peakFlagTests {
		cfg.runTest(t, name)
	}
}

func TestApplySet(t *testing.T) {
	s, err := gxps.NewModeledSpectrum(gxps.SpectrumArgs{
		Energy:    processing.Linspace(0, 20, 81),
		Intensity: make([]float64, 81),
	}, gxps.DefaultProcessingOptions(), gxps.DefaultFitOptions())
	require.NoError(t, err)
	for _, name := range []string{"A", "B"} {
		_, err := s.AddPeak(name, shapes.PseudoVoigt, gxps.PeakArgs{Position: 10, Area: 4, FWHM: 1})
		require.NoError(t, err)
	}

	require.NoError(t, applySet(s, "B.area=A*0.5"))
	require.NoError(t, applySet(s, "a.FWHM=>0.5 <3"))
	require.NoError(t, applySet(s, "A.position=9.5"))

	a, _ := s.Peak("A")
	b, _ := s.Peak("B")
	assert.Equal(t, 2.0, b.Area())
	c, err := a.Constraints(shapes.FWHM)
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.Min)
	assert.Equal(t, 3.0, c.Max)
	assert.Equal(t, 9.5, a.Position())

	for _, set := range []string{"B.area", "Barea=1", "C.area=1", "A.tail=1", "A.area=A"} {
		assert.Error(t, applySet(s, set), set)
	}
}
