package gxps

import (
	"math"
	"sort"
	"strings"

	"github.com/gxps/pkg/shapes"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Attribute names carried by peak change events
const (
	AttrShape = "shape"
	AttrLabel = "label"
)

// A fit parameter in the pool of a spectrum. Peaks hold handles to their
// own parameters; the pool maps the prefixed real names to the same
// handles.
type param struct {
	name     string
	value    float64
	min, max float64
	vary     bool
	// when set, the value follows the expression and is never fitted
	expr *expression
}

func (p *param) resolve() (float64, error) {
	if p.expr != nil {
		return p.expr.eval()
	}
	return p.value, nil
}

func (p *param) clamp(v float64) float64 {
	return math.Min(math.Max(v, p.min), p.max)
}

type paramPool struct {
	params map[string]*param
}

func newParamPool() *paramPool {
	return &paramPool{params: make(map[string]*param)}
}

func (pp *paramPool) add(p *param) error {
	if _, ok := pp.params[p.name]; ok {
		return errors.Errorf("parameter %s already in the pool", p.name)
	}
	pp.params[p.name] = p
	return nil
}

func (pp *paramPool) remove(name string) {
	delete(pp.params, name)
}

func (pp *paramPool) get(name string) (*param, bool) {
	p, ok := pp.params[name]
	return p, ok
}

func (pp *paramPool) names() []string {
	names := make([]string, 0, len(pp.params))
	for name := range pp.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// The user-facing state of one alias
type Constraint struct {
	Value float64
	Vary  bool
	Min   float64
	Max   float64
	// empty when the value is free
	Expr string
}

// A Peak is one line shape of the model of a spectrum. Its parameters are
// addressed by shape-independent aliases.
type Peak struct {
	*Observable

	name     string
	label    string
	shape    shapes.Shape
	spectrum *ModeledSpectrum
	// handles by real parameter name, e.g. "fwhm_l"
	params map[string]*param
}

func (p *Peak) Name() string {
	return p.name
}

func (p *Peak) Label() string {
	return p.label
}

func (p *Peak) SetLabel(label string) {
	if label == p.label {
		return
	}
	p.label = label
	p.notify(CHANGED_PEAK_META, Properties{PropAttr: AttrLabel, PropValue: label})
}

func (p *Peak) Shape() shapes.Shape {
	return p.shape
}

// Spectrum the peak belongs to
func (p *Peak) Spectrum() *ModeledSpectrum {
	return p.spectrum
}

func (p *Peak) param(alias shapes.Alias) (*param, bool) {
	name, ok := p.shape.Param(alias)
	if !ok {
		return nil, false
	}
	par, ok := p.params[name]
	return par, ok
}

// initParams creates the parameters of shape with their defaults and puts
// them into the pool
func (p *Peak) initParams(shape shapes.Shape) error {
	params := make(map[string]*param)
	for _, spec := range shape.Params() {
		par := &param{
			name:  p.name + "_" + spec.Name,
			value: spec.Default,
			min:   spec.Min,
			max:   spec.Max,
			vary:  true,
		}
		if err := p.spectrum.pool.add(par); err != nil {
			for _, added := range params {
				p.spectrum.pool.remove(added.name)
			}
			return err
		}
		params[spec.Name] = par
	}
	p.shape = shape
	p.params = params
	return nil
}

func (p *Peak) dropParams() {
	for _, par := range p.params {
		p.spectrum.pool.remove(par.name)
	}
	p.params = nil
}

// Value returns the current value of an alias, NaN if the shape lacks it
// or its expression cannot be evaluated
func (p *Peak) Value(alias shapes.Alias) float64 {
	par, ok := p.param(alias)
	if !ok {
		return math.NaN()
	}
	v, err := par.resolve()
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to evaluate %s", par.name)
		return math.NaN()
	}
	return v
}

func (p *Peak) Area() float64 {
	return p.Value(shapes.Area)
}

func (p *Peak) FWHM() float64 {
	return p.Value(shapes.FWHM)
}

func (p *Peak) Position() float64 {
	return p.Value(shapes.Position)
}

// values resolves every real parameter
func (p *Peak) values() (shapes.Values, error) {
	v := make(shapes.Values, len(p.params))
	for name, par := range p.params {
		x, err := par.resolve()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to evaluate %s", par.name)
		}
		v[name] = x
	}
	return v, nil
}

// Eval evaluates the peak at every x
func (p *Peak) Eval(x []float64) ([]float64, error) {
	v, err := p.values()
	if err != nil {
		return nil, err
	}
	return p.shape.Eval(x, v), nil
}

// Model evaluates the peak on the displayed energy of its spectrum
func (p *Peak) Model() ([]float64, error) {
	return p.Eval(p.spectrum.Energy())
}

func (p *Peak) Constraints(alias shapes.Alias) (Constraint, error) {
	par, ok := p.param(alias)
	if !ok {
		return Constraint{}, errors.Wrapf(ErrValidation, "shape %s has no %s", p.shape, alias)
	}
	c := Constraint{Vary: par.vary, Min: par.min, Max: par.max}
	c.Value, _ = par.resolve()
	if par.expr != nil {
		c.Expr = par.expr.source
	}
	return c, nil
}

// SetConstraints replaces the constraint of an alias. With an expression
// only the expression is applied; it must bind and evaluate or nothing
// changes. Without one, value, vary and bounds apply, and the value is
// clamped into the bounds.
func (p *Peak) SetConstraints(alias shapes.Alias, c Constraint) error {
	par, ok := p.param(alias)
	if !ok {
		return errors.Wrapf(ErrValidation, "shape %s has no %s", p.shape, alias)
	}

	if src := strings.TrimSpace(c.Expr); src != "" {
		if err := p.setExpression(par, alias, src); err != nil {
			return err
		}
	} else {
		if err := setFree(par, c); err != nil {
			return err
		}
	}

	p.notify(CHANGED_PEAK, Properties{PropAttr: string(alias)})
	return nil
}

func (p *Peak) setExpression(par *param, alias shapes.Alias, src string) error {
	expr, err := p.spectrum.compileExpression(src, p, alias)
	if err != nil {
		return err
	}
	if _, err := expr.eval(); err != nil {
		return errors.Wrapf(ErrValidation, "cannot evaluate %q: %v", src, err)
	}
	par.expr = expr
	return nil
}

func setFree(par *param, c Constraint) error {
	if math.IsNaN(c.Value) || math.IsNaN(c.Min) || math.IsNaN(c.Max) {
		return errors.Wrapf(ErrValidation, "%s: NaN in constraint", par.name)
	}
	if c.Min > c.Max {
		return errors.Wrapf(ErrValidation, "%s: min %g > max %g", par.name, c.Min, c.Max)
	}
	par.expr = nil
	par.min, par.max = c.Min, c.Max
	par.vary = c.Vary
	par.value = par.clamp(c.Value)
	return nil
}

// SetShape swaps the line shape. The constraints of every alias both shapes
// share carry over; those failing under the new shape are dropped with a
// warning.
func (p *Peak) SetShape(shape shapes.Shape) error {
	if !shape.Valid() {
		return errors.Wrapf(ErrValidation, "unknown peak shape %q", shape)
	}
	if shape == p.shape {
		return nil
	}

	captured := make(map[shapes.Alias]Constraint)
	for _, alias := range p.shape.Aliases() {
		if c, err := p.Constraints(alias); err == nil {
			captured[alias] = c
		}
	}

	old := p.params
	oldShape := p.shape
	p.dropParams()
	if err := p.initParams(shape); err != nil {
		// put the old handles back, initParams already freed their names
		for _, par := range old {
			if perr := p.spectrum.pool.add(par); perr != nil {
				panic(errors.Wrapf(perr, "failed to restore parameters of %s", p.name))
			}
		}
		p.params, p.shape = old, oldShape
		return err
	}

	var exprs []shapes.Alias
	for _, alias := range shape.Aliases() {
		c, ok := captured[alias]
		if !ok {
			continue
		}
		par, _ := p.param(alias)
		if err := setFree(par, c); err != nil {
			log.Warn().Err(err).Msgf("Dropping %s constraint of %s", alias, p.name)
		}
		if c.Expr != "" {
			exprs = append(exprs, alias)
		}
	}
	// expressions last, they may reference aliases restored above
	for _, alias := range exprs {
		par, _ := p.param(alias)
		if err := p.setExpression(par, alias, captured[alias].Expr); err != nil {
			log.Warn().Err(err).Msgf("Dropping %s expression of %s", alias, p.name)
		}
	}

	p.spectrum.releaseReferences(p, shape)
	p.notify(CHANGED_PEAK, Properties{PropAttr: AttrShape, PropValue: shape})
	return nil
}
