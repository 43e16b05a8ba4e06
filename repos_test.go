package gxps

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/gxps/pkg/processing"
	"github.com/gxps/pkg/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepo(t *testing.T) *ProjectRepo {
	repo := NewProjectRepo(DatabaseLocation(filepath.Join(t.TempDir(), "projects.db")))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testProject(t *testing.T) (*SpectrumContainer, []*ModeledSpectrum) {
	c := NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions())

	survey, err := c.AddSpectrum(linspaceArgs(0, 10, 21, func(x float64) float64 { return 10 - x }))
	require.NoError(t, err)
	require.NoError(t, survey.SetMeta(MetaNotes, "survey"))

	args := linspaceArgs(925, 960, 141, func(x float64) float64 { return 100 + x/10 })
	args.Meta = map[MetaKey]string{MetaPassEnergy: "20"}
	cu, err := c.AddSpectrum(args)
	require.NoError(t, err)
	require.NoError(t, cu.SetEnergyCalibration(-0.5))
	require.NoError(t, cu.SetBackgroundType(processing.BackgroundShirley))
	require.NoError(t, cu.SetBackgroundBounds([]float64{927, 940}))
	require.NoError(t, cu.SetNormalizationDivisor(50))

	a, err := cu.AddPeak("A", shapes.PseudoVoigt, PeakArgs{Position: 932.6, Area: 100, FWHM: 1.2, Label: "2p3/2"})
	require.NoError(t, err)
	ac, err := a.Constraints(shapes.FWHM)
	require.NoError(t, err)
	ac.Min, ac.Max = 0.5, 3
	require.NoError(t, a.SetConstraints(shapes.FWHM, ac))

	b, err := cu.AddPeak("B", shapes.DoniachSunjic, PeakArgs{Position: 952.5, Area: 50, FWHM: 1.2})
	require.NoError(t, err)
	require.NoError(t, setExpr(b, shapes.Area, "A / 2"))
	require.NoError(t, setExpr(b, shapes.FWHM, "A"))

	return c, []*ModeledSpectrum{cu}
}

func TestProjectRoundTrip(t *testing.T) {
	repo := testRepo(t)
	saved, active := testProject(t)
	require.NoError(t, repo.Save("cu-foil", saved, active))

	c := NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions())
	q := new(recorder)
	c.RegisterQueue(q)
	loaded, err := repo.Load("cu-foil", c)
	require.NoError(t, err)
	require.Equal(t, saved.Len(), c.Len())
	require.Len(t, loaded, 1)
	assert.Same(t, c.Spectra()[1], loaded[0])
	assert.Len(t, q.events, 1, "one notification for the whole project")

	for i, want := range saved.Spectra() {
		got := c.Spectra()[i]
		assert.Equal(t, want.RawEnergy(), got.RawEnergy())
		assert.Equal(t, want.RawIntensity(), got.RawIntensity())
		assert.Equal(t, want.Name(), got.Name())
		assert.Equal(t, want.Notes(), got.Notes())
		assert.Equal(t, want.MetaKeys(), got.MetaKeys())
		assert.Equal(t, want.BackgroundType(), got.BackgroundType())
		assert.InDeltaSlice(t, want.BackgroundBounds(), got.BackgroundBounds(), 1e-9)
		assert.InDeltaSlice(t, want.Background(), got.Background(), 1e-9)
		assert.Equal(t, want.EnergyCalibration(), got.EnergyCalibration())
		assert.Equal(t, want.NormalizationType(), got.NormalizationType())
		assert.Equal(t, want.NormalizationDivisor(), got.NormalizationDivisor())
		require.Len(t, got.Peaks(), len(want.Peaks()))

		for j, wp := range want.Peaks() {
			gp := got.Peaks()[j]
			assert.Equal(t, wp.Name(), gp.Name())
			assert.Equal(t, wp.Label(), gp.Label())
			assert.Equal(t, wp.Shape(), gp.Shape())
			for _, alias := range wp.Shape().Aliases() {
				wc, err := wp.Constraints(alias)
				require.NoError(t, err)
				gc, err := gp.Constraints(alias)
				require.NoError(t, err)
				assert.Equal(t, wc, gc, "%s.%s", wp.Name(), alias)
			}
		}
	}

	// the expressions follow the restored peaks
	cu := c.Spectra()[1]
	a, _ := cu.Peak("A")
	b, _ := cu.Peak("B")
	ac, err := a.Constraints(shapes.Area)
	require.NoError(t, err)
	ac.Value = 80
	require.NoError(t, a.SetConstraints(shapes.Area, ac))
	assert.Equal(t, 40.0, b.Area())
}

func TestProjectSaveReplaces(t *testing.T) {
	repo := testRepo(t)
	saved, active := testProject(t)
	require.NoError(t, repo.Save("cu-foil", saved, active))

	// warm the cache, the next save must invalidate it
	_, err := repo.Load("cu-foil", NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions()))
	require.NoError(t, err)

	require.NoError(t, saved.Remove(saved.Spectra()[0]))
	require.NoError(t, repo.Save("cu-foil", saved, nil))

	c := NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions())
	loaded, err := repo.Load("cu-foil", c)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, loaded)

	projects, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestProjectListAndDelete(t *testing.T) {
	repo := testRepo(t)
	c := NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions())
	for _, name := range []string{"cu-foil", "cu_oxide", "gold", "cuprite"} {
		require.NoError(t, repo.Save(name, c, nil))
	}

	names := func(patterns ...string) []string {
		projects, err := repo.List(patterns...)
		require.NoError(t, err)
		var out []string
		for _, p := range projects {
			out = append(out, p.Name)
			assert.Equal(t, Version, p.Version)
		}
		return out
	}
	assert.Equal(t, []string{"cu-foil", "cu_oxide", "cuprite", "gold"}, names())
	assert.Equal(t, []string{"cu-foil", "cu_oxide", "cuprite"}, names("cu*"))
	assert.Equal(t, []string{"cu_oxide"}, names("cu_*"), "underscore is literal")
	assert.Equal(t, []string{"cu-foil", "gold"}, names("cu-????", "g*"))
	assert.Empty(t, names("silver"))

	require.NoError(t, repo.Delete("gold"))
	assert.ErrorIs(t, repo.Delete("gold"), ErrUnknownProject)
	assert.Equal(t, []string{"cu-foil", "cu_oxide", "cuprite"}, names())

	_, err := repo.Load("gold", c)
	assert.ErrorIs(t, err, ErrUnknownProject)
	assert.ErrorIs(t, repo.Save("", c, nil), ErrValidation)
}

func TestInMemoryRepo(t *testing.T) {
	repo := NewProjectRepo(INMEMORY_DATABASE)
	defer repo.Close()

	saved, active := testProject(t)
	require.NoError(t, repo.Save("scratch", saved, active))

	c := NewSpectrumContainer(DefaultProcessingOptions(), DefaultFitOptions())
	_, err := repo.Load("scratch", c)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestConstraintRecord(t *testing.T) {
	c := Constraint{Value: 2, Vary: true, Min: 0, Max: math.Inf(1)}
	r := newConstraintRecord(c)
	assert.Nil(t, r.Max)
	require.NotNil(t, r.Min)
	assert.Equal(t, c, r.constraint())
}
