package cmd

import (
	"strconv"
	"strings"

	"github.com/gxps"
	"github.com/gxps/pkg/shapes"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type FitFlags struct {
	ProcessingFlags

	Spectrum int
	Peaks    []string
	Sets     []string
	DryRun   bool
}

// parsePeakFlag reads NAME:SHAPE:POSITION:AREA:FWHM. An empty name takes
// the next free one.
func parsePeakFlag(flag string) (string, shapes.Shape, gxps.PeakArgs, error) {
	var args gxps.PeakArgs

	fields := strings.Split(flag, ":")
	if len(fields) != 5 {
		return "", "", args, errors.Errorf("invalid peak %q, expected NAME:SHAPE:POSITION:AREA:FWHM", flag)
	}
	shape, err := shapes.Parse(fields[1])
	if err != nil {
		return "", "", args, err
	}

	values := make([]float64, 3)
	for i, field := range fields[2:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return "", "", args, errors.Wrapf(err, "invalid peak %q", flag)
		}
		values[i] = v
	}
	args.Position, args.Area, args.FWHM = values[0], values[1], values[2]
	return fields[0], shape, args, nil
}

// applySet reads PEAK.ALIAS=ENTRY and updates the constraint
func applySet(s *gxps.ModeledSpectrum, set string) error {
	target, entry, ok := strings.Cut(set, "=")
	if !ok {
		return errors.Errorf("invalid constraint %q, expected PEAK.PARAM=ENTRY", set)
	}
	name, aliasName, ok := strings.Cut(target, ".")
	if !ok {
		return errors.Errorf("invalid constraint target %q", target)
	}

	p, ok := s.Peak(name)
	if !ok {
		return errors.Wrapf(gxps.ErrUnknownPeak, "%q", name)
	}
	alias, err := shapes.ParseAlias(aliasName)
	if err != nil {
		return err
	}
	c, err := p.Constraints(alias)
	if err != nil {
		return err
	}
	return p.SetConstraints(alias, gxps.ParseConstraintEntry(entry).Apply(c))
}

func fitCommand(conf *gxps.Configuration) *cobra.Command {
	var f FitFlags

	com := &cobra.Command{
		Use:     "fit PROJECT",
		Short:   "Add peaks to a spectrum of a project and fit them",
		GroupID: "projects",
		Example: `
		$ gxps fit cu-foil --spectrum 1 --background shirley --bounds 925,960 \
			--peak A:PseudoVoigt:932.6:1000:1.2 --peak B:PseudoVoigt:952.5:500:1.2 \
			--set B.area=A*0.5 --set A.fwhm=">0.5 <3"
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := openRepo(conf)
			defer repo.Close()

			bus, err := conf.NewBus()
			if err != nil {
				return err
			}
			bus.Subscribe(func(l *gxps.EventList) {
				log.Info().Msgf("Fit changed: %s", strings.Join(l.Attrs(), ", "))
			}, gxps.CHANGED_FIT, 0)

			c := gxps.NewSpectrumContainer(conf.Processing(), conf.Fit())
			c.RegisterQueue(bus)
			active, err := repo.Load(args[0], c)
			if err != nil {
				return err
			}
			s, err := spectrumAt(c, f.Spectrum)
			if err != nil {
				return err
			}

			sv, stop, err := gxps.LoadSolver(conf)
			if err != nil {
				return err
			}
			defer stop()
			s.SetSolver(sv)

			// every edit lands as one notification
			err = bus.Accumulate(func() error {
				if err := f.apply(cmd, s); err != nil {
					return err
				}
				for _, flag := range f.Peaks {
					name, shape, pargs, err := parsePeakFlag(flag)
					if err != nil {
						return err
					}
					if name == "" {
						name = c.NextPeakName()
					}
					if _, err := s.AddPeak(name, shape, pargs); err != nil {
						return err
					}
				}
				for _, set := range f.Sets {
					if err := applySet(s, set); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			if err := s.DoFit(); err != nil {
				return err
			}
			printPeaks(cmd.OutOrStdout(), s)

			if f.DryRun {
				return nil
			}
			return repo.Save(args[0], c, active)
		},
	}

	f.register(com)
	flags := com.Flags()
	flags.IntVar(&f.Spectrum, "spectrum", 0, "Index of the spectrum in the project")
	flags.StringArrayVar(&f.Peaks, "peak", nil, "Peak to add, NAME:SHAPE:POSITION:AREA:FWHM")
	flags.StringArrayVar(&f.Sets, "set", nil, "Constraint, PEAK.PARAM=VALUE, PEAK.PARAM='>MIN <MAX' or PEAK.PARAM=EXPR")
	flags.BoolVar(&f.DryRun, "dry-run", false, "Print the fit without saving it")

	return com
}
