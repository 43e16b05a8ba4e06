// Functions working on raw energy/intensity arrays: grid preparation,
// backgrounds and normalization helpers. Nothing in here knows about
// spectra or events.
package processing

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotIncreasing  = errors.New("energy not increasing")
	ErrNotEquidistant = errors.New("energy not evenly spaced")
	ErrDegenerate     = errors.New("region integral is zero")
	ErrLength         = errors.New("energy and intensity differ in length")
	ErrGridSize       = errors.New("resampled grid too large")
)

const (
	// absolute and relative tolerances when comparing spacings
	spacingAtol = 1e-8
	spacingRtol = 1e-5
	// resampling may grow a spectrum at most this many times
	maxGridGrowth = 100
)

type BackgroundType string

const (
	BackgroundNone     BackgroundType = "none"
	BackgroundLinear   BackgroundType = "linear"
	BackgroundShirley  BackgroundType = "shirley"
	BackgroundTougaard BackgroundType = "tougaard"
)

// Parameters for the iterative Shirley background
type ShirleyOptions struct {
	Tolerance     float64
	MaxIterations int
}

func DefaultShirleyOptions() ShirleyOptions {
	return ShirleyOptions{Tolerance: 1e-5, MaxIterations: 20}
}

func isClose(a, b float64) bool {
	return math.Abs(a-b) <= spacingAtol+spacingRtol*math.Abs(b)
}

// IsEquidistant reports whether every spacing matches the first one
func IsEquidistant(energy []float64) bool {
	if len(energy) < 3 {
		return true
	}
	first := energy[1] - energy[0]
	for i := 2; i < len(energy); i++ {
		if !isClose(energy[i]-energy[i-1], first) {
			return false
		}
	}
	return true
}

// MakeIncreasing sorts energy ascending and reorders intensity the same way.
// The inputs are not modified.
func MakeIncreasing(energy, intensity []float64) ([]float64, []float64) {
	idx := make([]int, len(energy))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return energy[idx[a]] < energy[idx[b]]
	})

	e := make([]float64, len(energy))
	in := make([]float64, len(intensity))
	for i, j := range idx {
		e[i] = energy[j]
		in[i] = intensity[j]
	}
	return e, in
}

// MakeEquidistant resamples increasing (energy, intensity) onto an evenly
// spaced grid with linear interpolation. The smallest gap above the
// tolerance is the target spacing so duplicated energies do not produce
// a near-zero step. Grids more than maxGridGrowth times longer than the
// input are rejected with ErrGridSize.
func MakeEquidistant(energy, intensity []float64) ([]float64, []float64, error) {
	if IsEquidistant(energy) {
		return energy, intensity, nil
	}

	gap := math.Inf(1)
	for i := 1; i < len(energy); i++ {
		if d := energy[i] - energy[i-1]; d > spacingAtol && d < gap {
			gap = d
		}
	}
	lo, hi := energy[0], energy[len(energy)-1]
	if math.IsInf(gap, 1) || hi <= lo {
		return energy, intensity, nil
	}

	limit := maxGridGrowth * len(energy)
	steps := math.Round((hi - lo) / gap)
	if steps+1 > float64(limit) {
		return nil, nil, errors.Wrapf(ErrGridSize, "spacing %g over [%g, %g] needs more than %d samples",
			gap, lo, hi, limit)
	}
	grid := Linspace(lo, hi, int(steps)+1)
	return grid, Interp(grid, energy, intensity), nil
}

// Linspace returns n evenly spaced values over [start, stop]
func Linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	switch n {
	case 0:
		return out
	case 1:
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Interp evaluates the piecewise linear interpolant of (xp, fp) at x.
// xp must be increasing; values outside are clamped to the edges.
func Interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	n := len(xp)
	for i, v := range x {
		switch {
		case v <= xp[0]:
			out[i] = fp[0]
		case v >= xp[n-1]:
			out[i] = fp[n-1]
		default:
			j := sort.SearchFloat64s(xp, v)
			if xp[j] == v {
				out[i] = fp[j]
				continue
			}
			x0, x1 := xp[j-1], xp[j]
			out[i] = fp[j-1] + (fp[j]-fp[j-1])*(v-x0)/(x1-x0)
		}
	}
	return out
}

// Linear returns the straight line between the first and last intensity
func Linear(energy, intensity []float64) []float64 {
	return Linspace(intensity[0], intensity[len(intensity)-1], len(energy))
}

// Shirley computes the iterative Shirley background of one region. The
// region is processed with descending energy and returned in the input
// order. Hitting the iteration cap is not an error: the last estimate is
// returned and a warning logged.
func Shirley(energy, intensity []float64, opts ShirleyOptions) ([]float64, error) {
	n := len(energy)
	if n != len(intensity) {
		return nil, ErrLength
	}
	if n < 2 {
		return append([]float64(nil), intensity...), nil
	}
	if energy[n-1] <= energy[0] {
		return nil, ErrNotIncreasing
	}
	if !IsEquidistant(energy) {
		return nil, ErrNotEquidistant
	}

	y := reversed(intensity)
	spacing := (energy[n-1] - energy[0]) / float64(n-1)
	first, floor := y[0], y[n-1]
	step := first - floor

	norm := math.Abs(first)
	if norm == 0 {
		norm = 1
	}

	background := make([]float64, n)
	for i := range background {
		background[i] = floor
	}

	integral := make([]float64, n)
	converged := false
	for it := 0; it < opts.MaxIterations; it++ {
		// running trapezoid from each point to the end of the region
		integral[n-1] = 0
		for i := n - 2; i >= 0; i-- {
			a := y[i] - background[i]
			b := y[i+1] - background[i+1]
			integral[i] = integral[i+1] + spacing*(a+b)/2
		}

		var scale float64
		if step != 0 {
			if integral[0] == 0 {
				return nil, ErrDegenerate
			}
			scale = step / integral[0]
		}

		var change float64
		for i := range background {
			next := floor + scale*integral[i]
			d := (next - background[i]) / norm
			change += d * d
			background[i] = next
		}
		if math.Sqrt(change) < opts.Tolerance {
			converged = true
			break
		}
	}

	if !converged {
		log.Warn().Msgf("shirley: max iterations (%d) exceeded before convergence", opts.MaxIterations)
	}
	return reversed(background), nil
}

func reversed(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[len(v)-1-i] = x
	}
	return out
}

// Background computes the background for the whole spectrum. Samples
// outside every region keep their intensity. Bounds are lower/upper pairs
// on the same energy scale as energy; an empty list means the full range.
func Background(kind BackgroundType, bounds, energy, intensity []float64, opts ShirleyOptions) ([]float64, error) {
	background := append([]float64(nil), intensity...)

	switch kind {
	case BackgroundNone:
		return background, nil
	case BackgroundLinear, BackgroundShirley:
	case BackgroundTougaard:
		return nil, errors.New("tougaard background not implemented")
	default:
		return nil, errors.Errorf("unknown background type %q", kind)
	}

	if len(bounds)%2 != 0 {
		return nil, errors.Errorf("odd number of background bounds (%d)", len(bounds))
	}
	if len(bounds) == 0 && len(energy) > 0 {
		bounds = []float64{energy[0], energy[len(energy)-1]}
	}

	for i := 0; i < len(bounds); i += 2 {
		i1 := sort.SearchFloat64s(energy, bounds[i])
		i2 := sort.SearchFloat64s(energy, bounds[i+1])
		if i1 > i2 {
			i1, i2 = i2, i1
		}
		// the upper bound sample belongs to the region
		if i2 < len(energy) && energy[i2] == math.Max(bounds[i], bounds[i+1]) {
			i2++
		}
		if i2-i1 < 2 {
			continue
		}

		e, y := energy[i1:i2], intensity[i1:i2]
		var (
			region []float64
			err    error
		)
		if kind == BackgroundShirley {
			region, err = Shirley(e, y, opts)
			if errors.Is(err, ErrDegenerate) {
				log.Warn().Msgf("shirley: skipping region [%g, %g]: %v", e[0], e[len(e)-1], err)
				continue
			}
			if err != nil {
				return nil, errors.Wrapf(err, "failed to compute shirley background in [%g, %g]", e[0], e[len(e)-1])
			}
		} else {
			region = Linear(e, y)
		}
		copy(background[i1:i2], region)
	}
	return background, nil
}

// Plateau returns the mean intensity of the flat stretch at one edge of
// the spectrum. Walking inward from the edge, the plateau ends at the first
// sample deviating from the edge value by more than fraction times the
// intensity span. If no sample deviates, only the edge sample is used.
func Plateau(intensity []float64, fromHigh bool, fraction float64) float64 {
	n := len(intensity)
	if n == 0 {
		return 0
	}

	lo, hi := intensity[0], intensity[0]
	for _, v := range intensity {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	limit := fraction * (hi - lo)

	idx := func(k int) int {
		if fromHigh {
			return n - 1 - k
		}
		return k
	}

	edge := intensity[idx(0)]
	for k := 1; k < n; k++ {
		if math.Abs(intensity[idx(k)]-edge) > limit {
			var sum float64
			for j := 0; j < k; j++ {
				sum += intensity[idx(j)]
			}
			return sum / float64(k)
		}
	}
	return edge
}

// Max returns the largest value
func Max(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
