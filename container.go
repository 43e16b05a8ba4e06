package gxps

import (
	"slices"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateSpectrum = errors.New("spectrum already in the container")
	ErrUnknownSpectrum   = errors.New("spectrum not in the container")
)

const AttrSpectra = "spectra"

// SpectrumContainer is the ordered set of spectra of a project. Spectra
// added to it feed the container's queues.
type SpectrumContainer struct {
	*Observable

	spectra []*ModeledSpectrum
	opts    ProcessingOptions
	fit     FitOptions
}

func NewSpectrumContainer(opts ProcessingOptions, fit FitOptions) *SpectrumContainer {
	c := &SpectrumContainer{opts: opts, fit: fit}
	c.Observable = newObservable(c, CHANGED_SPECTRA)
	return c
}

func (c *SpectrumContainer) Spectra() []*ModeledSpectrum {
	return slices.Clone(c.spectra)
}

func (c *SpectrumContainer) Len() int {
	return len(c.spectra)
}

// Index returns the position of s, -1 if absent
func (c *SpectrumContainer) Index(s *ModeledSpectrum) int {
	return slices.Index(c.spectra, s)
}

// AddSpectrum builds a spectrum from args and appends it
func (c *SpectrumContainer) AddSpectrum(args SpectrumArgs) (*ModeledSpectrum, error) {
	s, err := NewModeledSpectrum(args, c.opts, c.fit)
	if err != nil {
		return nil, err
	}
	if err := c.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Add appends spectra, all or none. Each spectrum and its peaks are
// registered on the container's queues.
func (c *SpectrumContainer) Add(spectra ...*ModeledSpectrum) error {
	for i, s := range spectra {
		if c.Index(s) >= 0 || slices.Index(spectra[:i], s) >= 0 {
			return errors.Wrapf(ErrDuplicateSpectrum, "%q", s.Name())
		}
	}
	if len(spectra) == 0 {
		return nil
	}

	for _, s := range spectra {
		for _, q := range c.Queues() {
			s.RegisterQueue(q)
			for _, p := range s.peaks {
				p.RegisterQueue(q)
			}
		}
		c.spectra = append(c.spectra, s)
	}
	c.notify(CHANGED_SPECTRA, Properties{PropAttr: AttrSpectra})
	return nil
}

// Remove takes spectra out of the container, all or none
func (c *SpectrumContainer) Remove(spectra ...*ModeledSpectrum) error {
	for _, s := range spectra {
		if c.Index(s) < 0 {
			return errors.Wrapf(ErrUnknownSpectrum, "%q", s.Name())
		}
	}
	if len(spectra) == 0 {
		return nil
	}

	for _, s := range spectra {
		c.detach(s)
	}
	c.notify(CHANGED_SPECTRA, Properties{PropAttr: AttrSpectra})
	return nil
}

func (c *SpectrumContainer) Clear() {
	if len(c.spectra) == 0 {
		return
	}
	for _, s := range slices.Clone(c.spectra) {
		c.detach(s)
	}
	c.notify(CHANGED_SPECTRA, Properties{PropAttr: AttrSpectra})
}

func (c *SpectrumContainer) detach(s *ModeledSpectrum) {
	c.spectra = slices.DeleteFunc(c.spectra, func(other *ModeledSpectrum) bool { return other == s })
	for _, q := range c.Queues() {
		s.UnregisterQueue(q)
		for _, p := range s.peaks {
			p.UnregisterQueue(q)
		}
	}
}

// NextPeakName returns the first name not taken by any peak of any spectrum
func (c *SpectrumContainer) NextPeakName() string {
	return nextPeakName(func(name string) bool {
		for _, s := range c.spectra {
			if _, ok := s.Peak(name); ok {
				return true
			}
		}
		return false
	})
}
