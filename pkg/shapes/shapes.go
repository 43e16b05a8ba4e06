// Peak line shapes. Every shape takes the independent variable and a set
// of named real parameters, and declares which real parameter backs each
// shape-independent alias.
package shapes

import (
	"math"
	"math/cmplx"
	"strings"

	"github.com/pkg/errors"
)

type Shape string

const (
	PseudoVoigt         Shape = "PseudoVoigt"
	Voigt               Shape = "Voigt"
	DoniachSunjic       Shape = "DoniachSunjic"
	TailedDoniachSunjic Shape = "TailedDoniachSunjic"
	Gelius              Shape = "Gelius"
)

// Shape-independent parameter names
type Alias string

const (
	Area     Alias = "area"
	FWHM     Alias = "fwhm"
	Position Alias = "position"
	Alpha    Alias = "alpha"
	Beta     Alias = "beta"
	Gamma    Alias = "gamma"
)

// Aliases in display order
var Aliases = []Alias{Area, FWHM, Position, Alpha, Beta, Gamma}

const (
	tiny = 1e-5
)

var (
	s2    = math.Sqrt2
	s2pi  = math.Sqrt(2 * math.Pi)
	sln2  = math.Sqrt(math.Ln2)
	s2ln2 = math.Sqrt(2 * math.Ln2)
)

// Default bounds and value of a real parameter
type ParamSpec struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
}

// Values of the real parameters of one peak, by real name
type Values map[string]float64

type definition struct {
	params  []ParamSpec
	aliases map[Alias]string
	eval    func(x float64, v Values) float64
}

var definitions = map[Shape]definition{
	PseudoVoigt: {
		params: []ParamSpec{
			{"amplitude", 1, 0, math.Inf(1)},
			{"center", 0, math.Inf(-1), math.Inf(1)},
			{"fwhm", 1, 0, math.Inf(1)},
			{"fraction", 0.5, 0, 1},
		},
		aliases: map[Alias]string{Area: "amplitude", FWHM: "fwhm", Position: "center", Alpha: "fraction"},
		eval: func(x float64, v Values) float64 {
			return glSum(x, v["amplitude"], v["center"], v["fwhm"], v["fraction"])
		},
	},
	Voigt: {
		params: []ParamSpec{
			{"amplitude", 1, 0, math.Inf(1)},
			{"center", 0, math.Inf(-1), math.Inf(1)},
			{"fwhm", 1, 0, math.Inf(1)},
			{"fwhm_l", 0.5, 0, math.Inf(1)},
		},
		aliases: map[Alias]string{Area: "amplitude", FWHM: "fwhm", Position: "center", Alpha: "fwhm_l"},
		eval: func(x float64, v Values) float64 {
			return voigt(x, v["amplitude"], v["center"], v["fwhm"], v["fwhm_l"])
		},
	},
	DoniachSunjic: {
		params: []ParamSpec{
			{"amplitude", 1, 0, math.Inf(1)},
			{"center", 0, math.Inf(-1), math.Inf(1)},
			{"fwhm", 1, 0, math.Inf(1)},
			{"asym", 0.5, 0, 0.99},
		},
		aliases: map[Alias]string{Area: "amplitude", FWHM: "fwhm", Position: "center", Alpha: "asym"},
		eval: func(x float64, v Values) float64 {
			return centeredDS(x, v["amplitude"], v["center"], v["fwhm"], v["asym"])
		},
	},
	TailedDoniachSunjic: {
		params: []ParamSpec{
			{"amplitude", 1, 0, math.Inf(1)},
			{"center", 0, math.Inf(-1), math.Inf(1)},
			{"fwhm", 1, 0, math.Inf(1)},
			{"asym", 0.5, 0, 0.99},
			{"tail", 1, 0, math.Inf(1)},
		},
		aliases: map[Alias]string{Area: "amplitude", FWHM: "fwhm", Position: "center", Alpha: "asym", Beta: "tail"},
		eval: func(x float64, v Values) float64 {
			return tailedDS(x, v["amplitude"], v["center"], v["fwhm"], v["asym"], v["tail"])
		},
	},
	Gelius: {
		params: []ParamSpec{
			{"amplitude", 1, 0, math.Inf(1)},
			{"center", 0, math.Inf(-1), math.Inf(1)},
			{"fwhm", 1, 0, math.Inf(1)},
			{"a", 0.5, 0, math.Inf(1)},
			{"b", 0.5, 0, math.Inf(1)},
			{"fwhm_l", 0.5, 0, math.Inf(1)},
		},
		aliases: map[Alias]string{
			Area: "amplitude", FWHM: "fwhm", Position: "center",
			Alpha: "a", Beta: "b", Gamma: "fwhm_l",
		},
		eval: func(x float64, v Values) float64 {
			return gelius(x, v["amplitude"], v["center"], v["fwhm"], v["a"], v["b"], v["fwhm_l"])
		},
	},
}

// All shapes in display order
var Shapes = []Shape{PseudoVoigt, Voigt, DoniachSunjic, TailedDoniachSunjic, Gelius}

// Parse resolves a shape name case-insensitively
func Parse(name string) (Shape, error) {
	for _, s := range Shapes {
		if strings.EqualFold(string(s), name) {
			return s, nil
		}
	}
	return "", errors.Errorf("unknown peak shape %q", name)
}

func ParseAlias(name string) (Alias, error) {
	for _, a := range Aliases {
		if strings.EqualFold(string(a), name) {
			return a, nil
		}
	}
	return "", errors.Errorf("unknown peak parameter %q", name)
}

func (s Shape) Valid() bool {
	_, ok := definitions[s]
	return ok
}

// Params returns the real parameters of the shape
func (s Shape) Params() []ParamSpec {
	return append([]ParamSpec(nil), definitions[s].params...)
}

// Param returns the real parameter backing an alias, if the shape has one
func (s Shape) Param(a Alias) (string, bool) {
	name, ok := definitions[s].aliases[a]
	return name, ok
}

// Aliases returns the aliases the shape supports, in display order
func (s Shape) Aliases() []Alias {
	var out []Alias
	for _, a := range Aliases {
		if _, ok := definitions[s].aliases[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Defaults returns the default values of every real parameter
func (s Shape) Defaults() Values {
	v := make(Values)
	for _, p := range definitions[s].params {
		v[p.Name] = p.Default
	}
	return v
}

// Eval evaluates the shape at every x
func (s Shape) Eval(x []float64, v Values) []float64 {
	fn := definitions[s].eval
	out := make([]float64, len(x))
	for i, xi := range x {
		out[i] = fn(xi, v)
	}
	return out
}

// At evaluates the shape at a single point
func (s Shape) At(x float64, v Values) float64 {
	return definitions[s].eval(x, v)
}

// FromGeometry converts a drawn peak (position, opening angle in radians,
// height) into fwhm and area. The area is the height divided by the peak
// value of a unit-area peak of the same width.
func (s Shape) FromGeometry(position, angle, height float64) (fwhm, area float64, err error) {
	if !s.Valid() {
		return 0, 0, errors.Errorf("unknown peak shape %q", s)
	}
	fwhm = math.Tan(angle) * height
	if fwhm <= 0 || math.IsNaN(fwhm) || math.IsInf(fwhm, 0) {
		return 0, 0, errors.Errorf("invalid peak geometry: angle %g, height %g", angle, height)
	}

	// shapes are affine in the amplitude
	v := s.Defaults()
	v["center"] = position
	v["fwhm"] = fwhm
	v["amplitude"] = 0
	base := s.At(position, v)
	v["amplitude"] = 1
	unit := s.At(position, v) - base
	if unit <= 0 || math.IsNaN(unit) {
		return 0, 0, errors.Errorf("invalid peak geometry for shape %s", s)
	}
	return fwhm, (height - base) / unit, nil
}

func gaussian(x, amplitude, center, fwhm float64) float64 {
	sigma := math.Max(tiny, fwhm/(2*s2ln2))
	arg := center - x
	return amplitude / (s2pi * sigma) * math.Exp(-arg*arg/(2*sigma*sigma))
}

func lorentzian(x, amplitude, center, fwhm float64) float64 {
	gamma := math.Max(tiny, fwhm/2)
	arg := center - x
	return amplitude / (gamma * math.Pi) * gamma * gamma / (arg*arg + gamma*gamma)
}

func glSum(x, amplitude, center, fwhm, fraction float64) float64 {
	g := gaussian(x, amplitude, center, fwhm)
	l := lorentzian(x, amplitude, center, fwhm)
	return (1-fraction)*g + fraction*l
}

// Gaussian fwhm and Lorentzian fwhmL
func voigt(x, amplitude, center, fwhm, fwhmL float64) float64 {
	sigma := math.Max(tiny, fwhm/(2*s2ln2))
	gamma := math.Max(tiny, fwhmL/2)
	z := complex(center-x, gamma) / complex(sigma*s2, 0)
	return amplitude * real(faddeeva(z)) / (sigma * s2pi)
}

// Humlicek's W4 rational approximation of the Faddeeva function, valid
// for imag(z) >= 0.
func faddeeva(z complex128) complex128 {
	x, y := real(z), imag(z)
	t := complex(y, -x)
	s := math.Abs(x) + y

	switch {
	case s >= 15:
		return t * 0.5641896 / (0.5 + t*t)
	case s >= 5.5:
		u := t * t
		return t * (1.410474 + u*0.5641896) / (0.75 + u*(3+u))
	case y >= 0.195*math.Abs(x)-0.176:
		return (16.4955 + t*(20.20933+t*(11.96482+t*(3.778987+t*0.5642236)))) /
			(16.4955 + t*(38.82363+t*(39.27121+t*(21.69274+t*(6.699398+t)))))
	}

	u := t * t
	num := t * (36183.31 - u*(3321.9905-u*(1540.787-u*(219.0313-u*(35.76683-u*(1.320522-u*0.56419))))))
	den := 32066.6 - u*(24322.84-u*(9022.228-u*(2186.181-u*(364.2191-u*(61.57037-u*(1.841439-u))))))
	return cmplx.Exp(u) - num/den
}

func pureDS(x, amplitude, center, fwhm, asym float64) float64 {
	sigma := math.Max(fwhm/2, tiny)
	arg := center - x
	am1 := 1 - asym
	return amplitude / math.Pi * math.Gamma(am1) /
		math.Pow(arg*arg+sigma*sigma, am1/2) *
		math.Cos(math.Pi*asym/2+am1*math.Atan(arg/sigma))
}

// shift that moves the Doniach-Sunjic maximum onto center
func dsShift(fwhm, asym float64) float64 {
	return fwhm / (2 * math.Tan(math.Pi/(2-asym)))
}

func centeredDS(x, amplitude, center, fwhm, asym float64) float64 {
	return pureDS(x, amplitude, center+dsShift(fwhm, asym), fwhm, asym)
}

func asymmTail(x, center, fwhm, tail float64) float64 {
	arg := (center - x) / fwhm
	return math.Exp(-math.Max(arg, 0) * tail)
}

func tailedDS(x, amplitude, center, fwhm, asym, tail float64) float64 {
	center += dsShift(fwhm, asym)
	return pureDS(x, amplitude, center, fwhm, asym) * asymmTail(x, center, fwhm, tail)
}

func gelius(x, amplitude, center, fwhm, a, b, fwhmL float64) float64 {
	arg := center - x
	below := 0.0
	if x <= center {
		below = 1
	}
	q := 2 * sln2 * arg / (fwhm - a*2*sln2*arg)
	aw := math.Exp(-q * q)
	w := b * (0.7 + 0.3/(a+0.01))
	v := voigt(x, amplitude, center, fwhm, fwhmL)
	g := gaussian(x, amplitude, center, fwhm)
	return v + below*(w*(aw-g))
}
