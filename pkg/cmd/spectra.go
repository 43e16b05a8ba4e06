package cmd

import (
	"fmt"
	"io"

	"github.com/gxps"
	"github.com/gxps/pkg/processing"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Spectrum processing options shared by the commands
type ProcessingFlags struct {
	Background  string
	Bounds      []float64
	Calibration float64
	Norm        string
}

func (f *ProcessingFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.Background, "background", "", "Background type (none, linear, shirley)")
	flags.Float64SliceVar(&f.Bounds, "bounds", nil, "Background region bounds, lower/upper pairs")
	flags.Float64Var(&f.Calibration, "calibration", 0, "Energy calibration offset")
	flags.StringVar(&f.Norm, "norm", "", "Normalization (none, highest, high_energy, low_energy)")
}

func (f *ProcessingFlags) apply(cmd *cobra.Command, s *gxps.ModeledSpectrum) error {
	flags := cmd.Flags()
	if flags.Changed("calibration") {
		if err := s.SetEnergyCalibration(f.Calibration); err != nil {
			return err
		}
	}
	if f.Background != "" {
		if err := s.SetBackgroundType(processing.BackgroundType(f.Background)); err != nil {
			return err
		}
	}
	if flags.Changed("bounds") {
		if err := s.SetBackgroundBounds(f.Bounds); err != nil {
			return err
		}
	}
	if f.Norm != "" {
		if err := s.SetNormalizationType(gxps.NormType(f.Norm)); err != nil {
			return err
		}
	}
	return nil
}

// loadFiles parses every file into a new container.
// Directories are replaced by the spectrum files they contain.
func loadFiles(conf *gxps.Configuration, fs afero.Fs, paths []string) (*gxps.SpectrumContainer, error) {
	files, err := gxps.ExpandSpectrumFiles(fs, paths)
	if err != nil {
		return nil, err
	}
	c := gxps.NewSpectrumContainer(conf.Processing(), conf.Fit())
	for _, fpath := range files {
		parsed, err := gxps.ParseSpectrumFile(fs, fpath)
		if err != nil {
			return nil, err
		}
		for _, args := range parsed {
			if _, err := c.AddSpectrum(args); err != nil {
				return nil, errors.Wrapf(err, "invalid spectrum in %s", fpath)
			}
		}
	}
	return c, nil
}

func spectrumCommands(conf *gxps.Configuration) []*cobra.Command {
	inspect := &cobra.Command{
		Use:     "inspect PATH...",
		Short:   "Summarize the spectra in files",
		GroupID: "spectra",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadFiles(conf, afero.NewOsFs(), args)
			if err != nil {
				return err
			}
			printSpectra(cmd.OutOrStdout(), c.Spectra())
			return nil
		},
	}

	var (
		pf    ProcessingFlags
		index int
	)
	background := &cobra.Command{
		Use:     "background FILE",
		Short:   "Print energy, intensity and background columns of a spectrum",
		GroupID: "spectra",
		Example: `
		$ gxps background --background shirley --bounds 280,295 C1s.xy
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadFiles(conf, afero.NewOsFs(), args)
			if err != nil {
				return err
			}
			s, err := spectrumAt(c, index)
			if err != nil {
				return err
			}
			if err := pf.apply(cmd, s); err != nil {
				return err
			}
			printColumns(cmd.OutOrStdout(), s)
			return nil
		},
	}
	pf.register(background)
	background.Flags().IntVar(&index, "spectrum", 0, "Index of the spectrum in the file")

	return []*cobra.Command{inspect, background}
}

func spectrumAt(c *gxps.SpectrumContainer, i int) (*gxps.ModeledSpectrum, error) {
	spectra := c.Spectra()
	if i < 0 || i >= len(spectra) {
		return nil, errors.Errorf("spectrum %d out of range, %d available", i, len(spectra))
	}
	return spectra[i], nil
}

func printSpectra(w io.Writer, spectra []*gxps.ModeledSpectrum) {
	fmt.Fprintf(w, "%-4s | %-8s | %-20s | %-8s | %-22s | %s\n", "#", "Key", "Name", "Samples", "Energy", "Notes")
	for i, s := range spectra {
		e := s.Energy()
		key, _ := s.Meta(gxps.MetaKeyID)
		fmt.Fprintf(w, "%-4d | %-8s | %-20s | %-8d | %9.3f - %-10.3f | %s\n",
			i, key, s.Name(), s.Len(), e[0], e[len(e)-1], s.Notes())
	}
}

func printColumns(w io.Writer, s *gxps.ModeledSpectrum) {
	energy, intensity, background := s.Energy(), s.Intensity(), s.Background()
	fmt.Fprintf(w, "# energy\tintensity\tbackground\n")
	for i := range energy {
		fmt.Fprintf(w, "%.6f\t%.6g\t%.6g\n", energy[i], intensity[i], background[i])
	}
}
