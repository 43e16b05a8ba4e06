package gxps

import (
	"math"
	"strconv"
	"strings"

	"github.com/gxps/pkg/solver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Filter values from a slice
func Filter[T any](s []T, fn func(T) bool) []T {
	var r []T
	for _, t := range s {
		if fn(t) {
			r = append(r, t)
		}
	}
	return r
}

// What a user typed into a peak parameter field. Only the set fields
// change the constraint.
type ConstraintEntry struct {
	Value *float64
	Min   *float64
	Max   *float64
	// bounds given, either may be unbounded
	Bounds bool
	Expr   string
}

// ParseConstraintEntry reads "12.5" (a value), "> 1 < 4" (bounds, a missing
// side is unbounded) or anything else as an expression.
func ParseConstraintEntry(entry string) ConstraintEntry {
	entry = strings.TrimSpace(entry)

	if strings.ContainsAny(entry, "<>") {
		e := ConstraintEntry{Bounds: true}
		e.Min = boundAfter(entry, ">")
		e.Max = boundAfter(entry, "<")
		return e
	}
	if v, err := strconv.ParseFloat(entry, 64); err == nil {
		return ConstraintEntry{Value: &v}
	}
	return ConstraintEntry{Expr: entry}
}

func boundAfter(entry, sep string) *float64 {
	_, rest, ok := strings.Cut(entry, sep)
	if !ok {
		return nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	return &v
}

// Apply returns c with the entry applied. A plain value drops any
// expression.
func (e ConstraintEntry) Apply(c Constraint) Constraint {
	switch {
	case e.Bounds:
		c.Min, c.Max = math.Inf(-1), math.Inf(1)
		if e.Min != nil {
			c.Min = *e.Min
		}
		if e.Max != nil {
			c.Max = *e.Max
		}
	case e.Value != nil:
		c.Value = *e.Value
		c.Expr = ""
	default:
		c.Expr = e.Expr
	}
	return c
}

// LoadSolver starts the solver plugin configured in the settings. Without
// one, the built-in solver is returned and the stop function does nothing.
func LoadSolver(conf *Configuration) (solver.Solver, func(), error) {
	fit := conf.Fit()
	if conf.Settings.Fit.Plugin == "" {
		return solver.NewLevenbergMarquardt(fit.MaxIterations, fit.Tolerance), func() {}, nil
	}

	s, stop, err := solver.Load(conf.Settings.Fit.Plugin)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load the solver plugin")
	}
	log.Debug().Msgf("Using solver plugin %s", conf.Settings.Fit.Plugin)
	return s, stop, nil
}
