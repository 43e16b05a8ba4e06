package gxps

import (
	"math"
	"testing"

	"github.com/gxps/pkg/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entryTester struct {
	entry string
	want  Constraint
}

var entryBase = Constraint{Value: 2, Vary: true, Min: 0, Max: 10, Expr: "A * 2"}

func (e *entryTester) runTest(t *testing.T, name string) {
	got := ParseConstraintEntry(e.entry).Apply(entryBase)
	assert.Equal(t, e.want, got, "[%s] wrong constraint", name)
}

var entryTests = map[string]*entryTester{
	"value": {
		entry: " 12.5 ",
		want:  Constraint{Value: 12.5, Vary: true, Min: 0, Max: 10},
	},
	"bounds": {
		entry: "> 1 < 4",
		want:  Constraint{Value: 2, Vary: true, Min: 1, Max: 4, Expr: "A * 2"},
	},
	"lower-bound": {
		entry: ">0.5",
		want:  Constraint{Value: 2, Vary: true, Min: 0.5, Max: math.Inf(1), Expr: "A * 2"},
	},
	"upper-bound": {
		entry: "<3",
		want:  Constraint{Value: 2, Vary: true, Min: math.Inf(-1), Max: 3, Expr: "A * 2"},
	},
	"expression": {
		entry: "B / 2",
		want:  Constraint{Value: 2, Vary: true, Min: 0, Max: 10, Expr: "B / 2"},
	},
}

func TestConstraintEntry(t *testing.T) {
	for name, cfg := range entryTests {
		cfg.runTest(t, name)
	}
}

func TestFilter(t *testing.T) {
	even := Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)
	assert.Empty(t, Filter([]string{"a"}, func(string) bool { return false }))
}

func TestLoadBuiltinSolver(t *testing.T) {
	conf := &Configuration{Settings: DefaultSettings()}
	s, stop, err := LoadSolver(conf)
	require.NoError(t, err)
	defer stop()
	assert.IsType(t, &solver.LevenbergMarquardt{}, s)

	conf.Settings.Fit.Plugin = "/nonexistent/gxps-solver"
	_, _, err = LoadSolver(conf)
	assert.Error(t, err)
}
