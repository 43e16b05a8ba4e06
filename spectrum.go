package gxps

import (
	"math"
	"slices"
	"sort"

	"github.com/gxps/pkg/processing"
	"github.com/pkg/errors"
)

var (
	ErrValidation     = errors.New("invalid value")
	ErrNotImplemented = errors.Wrap(ErrValidation, "not implemented")
)

// Metadata keys of a spectrum
type MetaKey string

const (
	MetaName       MetaKey = "name"
	MetaNotes      MetaKey = "notes"
	MetaFilename   MetaKey = "filename"
	MetaPassEnergy MetaKey = "pass_energy"
	MetaSweeps     MetaKey = "sweeps"
	MetaDwellTime  MetaKey = "dwelltime"
	MetaEISRegion  MetaKey = "eis_region"
)

type NormType string

const (
	NormNone       NormType = "none"
	NormManual     NormType = "manual"
	NormHighest    NormType = "highest"
	NormHighEnergy NormType = "high_energy"
	NormLowEnergy  NormType = "low_energy"
)

// Attribute names carried by spectrum change events
const (
	AttrBackgroundType   = "background_type"
	AttrBackgroundBounds = "background_bounds"
	AttrCalibration      = "energy_calibration"
	AttrNormType         = "normalization_type"
	AttrNormDivisor      = "normalization_divisor"
)

// How derived arrays are computed
type ProcessingOptions struct {
	Shirley processing.ShirleyOptions
	// share of the intensity span that ends an edge plateau
	PlateauFraction float64
}

func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		Shirley:         processing.DefaultShirleyOptions(),
		PlateauFraction: 0.05,
	}
}

// Arguments to construct a spectrum, as produced by the file parsers
type SpectrumArgs struct {
	Energy    []float64
	Intensity []float64
	Name      string
	Filename  string
	Notes     string
	// acquisition parameters and other metadata
	Meta map[MetaKey]string
}

// A Spectrum holds one measured energy/intensity curve. The samples are
// fixed at construction; background, calibration and normalization are
// applied on top and change the displayed arrays only.
type Spectrum struct {
	*Observable

	energy    []float64
	intensity []float64
	meta      map[MetaKey]string

	backgroundType processing.BackgroundType
	// relative to the raw energy
	bounds     []float64
	background []float64

	calibration float64
	normType    NormType
	divisor     float64

	opts ProcessingOptions
}

func NewSpectrum(args SpectrumArgs, opts ProcessingOptions) (*Spectrum, error) {
	s, err := newSpectrum(args, opts)
	if err != nil {
		return nil, err
	}
	s.Observable = newObservable(s, CHANGED_SPECTRUM, CHANGED_SPECTRUM_META)
	return s, nil
}

func newSpectrum(args SpectrumArgs, opts ProcessingOptions) (*Spectrum, error) {
	if len(args.Energy) != len(args.Intensity) {
		return nil, errors.Wrapf(ErrValidation, "energy (%d) and intensity (%d) differ in length",
			len(args.Energy), len(args.Intensity))
	}
	if len(args.Energy) < 2 {
		return nil, errors.Wrap(ErrValidation, "a spectrum needs at least two samples")
	}
	for i := range args.Energy {
		if !finite(args.Energy[i]) || !finite(args.Intensity[i]) {
			return nil, errors.Wrapf(ErrValidation, "non-finite sample at index %d", i)
		}
	}

	energy, intensity := processing.MakeIncreasing(args.Energy, args.Intensity)
	energy, intensity, err := processing.MakeEquidistant(energy, intensity)
	if err != nil {
		return nil, errors.Wrapf(ErrValidation, "%v", err)
	}
	for i := 1; i < len(energy); i++ {
		if energy[i] <= energy[i-1] {
			return nil, errors.Wrap(ErrValidation, "energy has repeated samples")
		}
	}

	s := &Spectrum{
		energy:         energy,
		intensity:      intensity,
		meta:           make(map[MetaKey]string),
		backgroundType: processing.BackgroundNone,
		background:     slices.Clone(intensity),
		normType:       NormNone,
		divisor:        1,
		opts:           opts,
	}
	for k, v := range args.Meta {
		s.meta[k] = v
	}
	s.meta[MetaName] = args.Name
	s.meta[MetaFilename] = args.Filename
	s.meta[MetaNotes] = args.Notes
	return s, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s *Spectrum) Len() int {
	return len(s.energy)
}

func (s *Spectrum) Name() string {
	return s.meta[MetaName]
}

func (s *Spectrum) Filename() string {
	return s.meta[MetaFilename]
}

func (s *Spectrum) Notes() string {
	return s.meta[MetaNotes]
}

func (s *Spectrum) Meta(key MetaKey) (string, bool) {
	v, ok := s.meta[key]
	return v, ok
}

// MetaKeys returns the set metadata keys, sorted
func (s *Spectrum) MetaKeys() []MetaKey {
	keys := make([]MetaKey, 0, len(s.meta))
	for k := range s.meta {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SetMeta changes a metadata field. The filename is read-only.
func (s *Spectrum) SetMeta(key MetaKey, value string) error {
	if key == MetaFilename {
		return errors.Wrap(ErrValidation, "filename is read-only")
	}
	if key == "" {
		return errors.Wrap(ErrValidation, "empty metadata key")
	}
	if old, ok := s.meta[key]; ok && old == value {
		return nil
	}
	s.meta[key] = value
	s.notify(CHANGED_SPECTRUM_META, Properties{PropAttr: string(key), PropValue: value})
	return nil
}

// Energy returns the displayed energy: raw energy plus calibration
func (s *Spectrum) Energy() []float64 {
	out := make([]float64, len(s.energy))
	for i, e := range s.energy {
		out[i] = e + s.calibration
	}
	return out
}

func (s *Spectrum) RawEnergy() []float64 {
	return slices.Clone(s.energy)
}

// Intensity returns the displayed intensity: raw intensity over the
// normalization divisor
func (s *Spectrum) Intensity() []float64 {
	return s.scaled(s.intensity)
}

func (s *Spectrum) RawIntensity() []float64 {
	return slices.Clone(s.intensity)
}

// Background returns the background on the displayed intensity scale
func (s *Spectrum) Background() []float64 {
	return s.scaled(s.background)
}

func (s *Spectrum) RawBackground() []float64 {
	return slices.Clone(s.background)
}

func (s *Spectrum) scaled(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, y := range v {
		out[i] = y / s.divisor
	}
	return out
}

// BackgroundAt interpolates the displayed background at a displayed energy
func (s *Spectrum) BackgroundAt(energy float64) float64 {
	return processing.Interp([]float64{energy}, s.Energy(), s.Background())[0]
}

func (s *Spectrum) BackgroundType() processing.BackgroundType {
	return s.backgroundType
}

func (s *Spectrum) SetBackgroundType(kind processing.BackgroundType) error {
	switch kind {
	case processing.BackgroundNone, processing.BackgroundLinear, processing.BackgroundShirley:
	case processing.BackgroundTougaard:
		return errors.Wrapf(ErrNotImplemented, "background %s", kind)
	default:
		return errors.Wrapf(ErrValidation, "unknown background type %q", kind)
	}

	bg, err := processing.Background(kind, s.bounds, s.energy, s.intensity, s.opts.Shirley)
	if err != nil {
		return err
	}
	s.backgroundType = kind
	s.background = bg
	s.notify(CHANGED_SPECTRUM, Properties{PropAttr: AttrBackgroundType, PropValue: kind})
	return nil
}

// BackgroundBounds returns the lower/upper pairs on the displayed energy
func (s *Spectrum) BackgroundBounds() []float64 {
	out := make([]float64, len(s.bounds))
	for i, b := range s.bounds {
		out[i] = b + s.calibration
	}
	return out
}

// SetBackgroundBounds takes lower/upper pairs on the displayed energy
func (s *Spectrum) SetBackgroundBounds(bounds []float64) error {
	if len(bounds)%2 != 0 {
		return errors.Wrapf(ErrValidation, "background bounds come in pairs, got %d values", len(bounds))
	}

	lo, hi := s.energy[0]+s.calibration, s.energy[len(s.energy)-1]+s.calibration
	raw := make([]float64, len(bounds))
	for i, b := range bounds {
		if !finite(b) || b < lo || b > hi {
			return errors.Wrapf(ErrValidation, "background bound %g outside [%g, %g]", b, lo, hi)
		}
		raw[i] = b - s.calibration
	}

	bg, err := processing.Background(s.backgroundType, raw, s.energy, s.intensity, s.opts.Shirley)
	if err != nil {
		return err
	}
	s.bounds = raw
	s.background = bg
	s.notify(CHANGED_SPECTRUM, Properties{PropAttr: AttrBackgroundBounds, PropValue: s.BackgroundBounds()})
	return nil
}

func (s *Spectrum) EnergyCalibration() float64 {
	return s.calibration
}

// SetEnergyCalibration shifts the displayed energy. The background and its
// bounds move along.
func (s *Spectrum) SetEnergyCalibration(calibration float64) error {
	if !finite(calibration) {
		return errors.Wrapf(ErrValidation, "energy calibration %g", calibration)
	}
	s.calibration = calibration
	s.notify(CHANGED_SPECTRUM, Properties{PropAttr: AttrCalibration, PropValue: calibration})
	return nil
}

func (s *Spectrum) NormalizationType() NormType {
	return s.normType
}

func (s *Spectrum) NormalizationDivisor() float64 {
	return s.divisor
}

// SetNormalizationType recomputes the divisor from the raw intensity.
// Manual normalization keeps the current divisor.
func (s *Spectrum) SetNormalizationType(norm NormType) error {
	var divisor float64
	switch norm {
	case NormNone:
		divisor = 1
	case NormManual:
		divisor = s.divisor
	case NormHighest:
		divisor = processing.Max(s.intensity)
	case NormHighEnergy:
		divisor = processing.Plateau(s.intensity, true, s.opts.PlateauFraction)
	case NormLowEnergy:
		divisor = processing.Plateau(s.intensity, false, s.opts.PlateauFraction)
	default:
		return errors.Wrapf(ErrValidation, "unknown normalization type %q", norm)
	}
	if !finite(divisor) || divisor == 0 {
		return errors.Wrapf(ErrValidation, "normalization %s yields divisor %g", norm, divisor)
	}

	s.normType = norm
	s.divisor = divisor
	s.notify(CHANGED_SPECTRUM, Properties{PropAttr: AttrNormType, PropValue: norm})
	return nil
}

// SetNormalizationDivisor switches to manual normalization
func (s *Spectrum) SetNormalizationDivisor(divisor float64) error {
	if !finite(divisor) || divisor <= 0 {
		return errors.Wrapf(ErrValidation, "normalization divisor %g", divisor)
	}
	s.normType = NormManual
	s.divisor = divisor
	s.notify(CHANGED_SPECTRUM, Properties{PropAttr: AttrNormDivisor, PropValue: divisor})
	return nil
}
