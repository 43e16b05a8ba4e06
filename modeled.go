package gxps

import (
	"regexp"
	"slices"
	"strings"

	"github.com/gxps/pkg/shapes"
	"github.com/gxps/pkg/solver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicatePeak = errors.Wrap(ErrValidation, "peak name already taken")
	ErrUnknownPeak   = errors.Wrap(ErrValidation, "no such peak")
)

// Attribute names carried by fit change events
const (
	AttrPeaks = "peaks"
	AttrFit   = "fit"
)

var peakName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Settings of the built-in solver
type FitOptions struct {
	MaxIterations int
	Tolerance     float64
}

func DefaultFitOptions() FitOptions {
	return FitOptions{MaxIterations: 200, Tolerance: 1e-10}
}

// The line drawn by the user to place a peak: the opening angle (radians)
// between the flank and the vertical, and the height above the background
type Geometry struct {
	Angle  float64
	Height float64
}

type PeakArgs struct {
	Position float64
	Area     float64
	FWHM     float64
	// when set, area and fwhm are derived from it
	Geometry *Geometry
	Label    string
}

// A ModeledSpectrum is a spectrum with a peak model fitted to it. All its
// peaks share one parameter pool.
type ModeledSpectrum struct {
	*Spectrum

	peaks  []*Peak
	pool   *paramPool
	fit    FitOptions
	solver solver.Solver
}

func NewModeledSpectrum(args SpectrumArgs, opts ProcessingOptions, fit FitOptions) (*ModeledSpectrum, error) {
	s, err := newSpectrum(args, opts)
	if err != nil {
		return nil, err
	}
	m := &ModeledSpectrum{Spectrum: s, pool: newParamPool(), fit: fit}
	s.Observable = newObservable(m, CHANGED_SPECTRUM, CHANGED_SPECTRUM_META, CHANGED_FIT)
	return m, nil
}

// SetSolver replaces the built-in Levenberg-Marquardt solver. A nil solver
// restores it.
func (m *ModeledSpectrum) SetSolver(s solver.Solver) {
	m.solver = s
}

func (m *ModeledSpectrum) Peaks() []*Peak {
	return slices.Clone(m.peaks)
}

// Peak looks a peak up by name, ignoring case
func (m *ModeledSpectrum) Peak(name string) (*Peak, bool) {
	for _, p := range m.peaks {
		if strings.EqualFold(p.name, name) {
			return p, true
		}
	}
	return nil, false
}

// ParamNames returns the prefixed names of every parameter in the pool
func (m *ModeledSpectrum) ParamNames() []string {
	return m.pool.names()
}

// NextPeakName returns the first free name of A..Z, AA..ZZ
func (m *ModeledSpectrum) NextPeakName() string {
	return nextPeakName(func(name string) bool {
		_, ok := m.Peak(name)
		return ok
	})
}

func nextPeakName(taken func(string) bool) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for _, c := range letters {
		if name := string(c); !taken(name) {
			return name
		}
	}
	for _, a := range letters {
		for _, b := range letters {
			if name := string(a) + string(b); !taken(name) {
				return name
			}
		}
	}
	return ""
}

// AddPeak creates a peak with the given shape. Position, area and fwhm
// come from args; other parameters start at the shape defaults.
func (m *ModeledSpectrum) AddPeak(name string, shape shapes.Shape, args PeakArgs) (*Peak, error) {
	if !peakName.MatchString(name) {
		return nil, errors.Wrapf(ErrValidation, "invalid peak name %q", name)
	}
	if _, ok := m.Peak(name); ok {
		return nil, errors.Wrapf(ErrDuplicatePeak, "%q", name)
	}
	if !shape.Valid() {
		return nil, errors.Wrapf(ErrValidation, "unknown peak shape %q", shape)
	}

	fwhm, area := args.FWHM, args.Area
	if args.Geometry != nil {
		var err error
		fwhm, area, err = shape.FromGeometry(args.Position, args.Geometry.Angle, args.Geometry.Height)
		if err != nil {
			return nil, errors.Wrap(ErrValidation, err.Error())
		}
	}
	if !finite(args.Position) {
		return nil, errors.Wrapf(ErrValidation, "peak position %g", args.Position)
	}
	if !finite(fwhm) || fwhm <= 0 {
		return nil, errors.Wrapf(ErrValidation, "peak fwhm %g", fwhm)
	}
	if !finite(area) || area < 0 {
		return nil, errors.Wrapf(ErrValidation, "peak area %g", area)
	}

	p := &Peak{name: name, label: args.Label, spectrum: m}
	p.Observable = newObservable(p, CHANGED_PEAK, CHANGED_PEAK_META)
	if err := p.initParams(shape); err != nil {
		return nil, err
	}
	for alias, v := range map[shapes.Alias]float64{
		shapes.Area:     area,
		shapes.FWHM:     fwhm,
		shapes.Position: args.Position,
	} {
		par, _ := p.param(alias)
		par.value = par.clamp(v)
	}
	for _, q := range m.Queues() {
		p.RegisterQueue(q)
	}

	m.peaks = append(m.peaks, p)
	m.notify(CHANGED_FIT, Properties{PropAttr: AttrPeaks, PropValue: name})
	return p, nil
}

// RemovePeak drops a peak and its parameters. Expressions of other peaks
// referencing it are frozen at their current value.
func (m *ModeledSpectrum) RemovePeak(name string) error {
	p, ok := m.Peak(name)
	if !ok {
		return errors.Wrapf(ErrUnknownPeak, "%q", name)
	}
	m.removePeak(p)
	m.notify(CHANGED_FIT, Properties{PropAttr: AttrPeaks, PropValue: p.name})
	return nil
}

// ClearPeaks removes every peak with a single notification
func (m *ModeledSpectrum) ClearPeaks() {
	if len(m.peaks) == 0 {
		return
	}
	for _, p := range slices.Clone(m.peaks) {
		m.removePeak(p)
	}
	m.notify(CHANGED_FIT, Properties{PropAttr: AttrPeaks})
}

func (m *ModeledSpectrum) removePeak(p *Peak) {
	m.releaseReferences(p, "")
	p.dropParams()
	m.peaks = slices.DeleteFunc(m.peaks, func(other *Peak) bool { return other == p })
	p.UnregisterAllQueues()
}

// releaseReferences freezes the expressions of other peaks that reference
// target through an alias the given shape lacks. An empty shape releases
// every reference.
func (m *ModeledSpectrum) releaseReferences(target *Peak, shape shapes.Shape) {
	for _, other := range m.peaks {
		if other == target {
			continue
		}
		for _, par := range other.params {
			if par.expr == nil || !par.expr.references(target) {
				continue
			}
			stale := shape == ""
			for _, r := range par.expr.refs {
				if _, ok := shape.Param(r.alias); r.peak == target && !ok {
					stale = true
				}
			}
			if !stale {
				continue
			}

			v, err := par.resolve()
			if err != nil {
				v = par.value
			}
			log.Warn().Msgf("Dropping expression %q of %s: it references %s", par.expr.source, par.name, target.name)
			par.expr = nil
			par.value = par.clamp(v)
		}
	}
}

// Model returns the sum of every peak on the displayed energy
func (m *ModeledSpectrum) Model() []float64 {
	out, err := m.eval(m.Energy())
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to evaluate the model of %s", m.Name())
		return make([]float64, m.Len())
	}
	return out
}

func (m *ModeledSpectrum) eval(x []float64) ([]float64, error) {
	// zero baseline
	out := make([]float64, len(x))
	for _, p := range m.peaks {
		y, err := p.Eval(x)
		if err != nil {
			return nil, errors.Wrapf(err, "peak %s", p.name)
		}
		for i := range out {
			out[i] += y[i]
		}
	}
	return out, nil
}

// Residual returns intensity minus background minus model, all displayed
func (m *ModeledSpectrum) Residual() []float64 {
	y := m.target()
	for i, v := range m.Model() {
		y[i] -= v
	}
	return y
}

func (m *ModeledSpectrum) target() []float64 {
	y := m.Intensity()
	for i, b := range m.Background() {
		y[i] -= b
	}
	return y
}

// DoFit fits the free parameters to intensity minus background. Values are
// updated in place; a fit that does not converge keeps its best values and
// is only logged.
func (m *ModeledSpectrum) DoFit() error {
	var free []*param
	for _, name := range m.pool.names() {
		par, _ := m.pool.get(name)
		if par.vary && par.expr == nil {
			free = append(free, par)
		}
	}
	if len(free) == 0 {
		log.Info().Msgf("Nothing to fit in %s", m.Name())
		m.notify(CHANGED_FIT, Properties{PropAttr: AttrFit})
		return nil
	}

	saved := make([]float64, len(free))
	params := make([]solver.Parameter, len(free))
	for i, par := range free {
		saved[i] = par.value
		params[i] = solver.Parameter{Name: par.name, Value: par.value, Min: par.min, Max: par.max}
	}

	problem := &solver.Problem{
		X:      m.Energy(),
		Y:      m.target(),
		Params: params,
		Model: func(x, values []float64) ([]float64, error) {
			for i, par := range free {
				par.value = values[i]
			}
			return m.eval(x)
		},
	}

	sv := m.solver
	if sv == nil {
		sv = solver.NewLevenbergMarquardt(m.fit.MaxIterations, m.fit.Tolerance)
	}
	res, err := sv.Solve(problem)
	if err == nil && (res == nil || len(res.Values) != len(free)) {
		err = errors.Errorf("solver returned %d values for %d parameters", resultLen(res), len(free))
	}
	if err != nil {
		for i, par := range free {
			par.value = saved[i]
		}
		return errors.Wrapf(err, "failed to fit %s", m.Name())
	}

	for i, par := range free {
		par.value = par.clamp(res.Values[i])
	}
	if !res.Converged {
		log.Warn().Msgf("Fit of %s did not converge after %d iterations (chi-square %g)",
			m.Name(), res.Iterations, res.Chisqr)
	} else {
		log.Debug().Msgf("Fit of %s converged after %d iterations (chi-square %g)",
			m.Name(), res.Iterations, res.Chisqr)
	}
	m.notify(CHANGED_FIT, Properties{PropAttr: AttrFit})
	return nil
}

func resultLen(res *solver.Result) int {
	if res == nil {
		return 0
	}
	return len(res.Values)
}
