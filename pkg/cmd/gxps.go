package cmd

import (
	"os"

	"github.com/gxps"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const unset = "-"

type Flags struct {
	Paths  gxps.StandardPaths
	Config string
}

func Run() error {
	// filled in before any command runs
	conf := new(gxps.Configuration)
	var f Flags

	com := &cobra.Command{
		Use:          "gxps",
		Short:        "XPS spectrum processing and peak fitting",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. bind the paths. Overrides defaults.
			gxps.BindStandardPaths(&f.Paths)
			// 2. load and validate the settings
			c, err := gxps.LoadSettings(f.Config, &f.Paths)
			if err != nil {
				return err
			}
			*conf = *c

			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(conf.LogLevel())
			return nil
		},
	}

	// This set of flags propagates
	fl := com.PersistentFlags()

	stdpaths := &f.Paths
	pathFlags := pflag.NewFlagSet("Standard Paths", pflag.ExitOnError)
	pathFlags.StringVar(&stdpaths.GXPS_APPNAME, "stdpath.app", unset, "App name")
	pathFlags.StringVar(&stdpaths.CONFIG_HOME, "stdpath.config", unset, "Configuration directory")
	pathFlags.StringVar(&stdpaths.STATE_HOME, "stdpath.state", unset, "State directory")
	pathFlags.StringVar(&stdpaths.DATA_HOME, "stdpath.data", unset, "Data directory")
	fl.AddFlagSet(pathFlags)

	cfgFlags := pflag.NewFlagSet("Configuration", pflag.ExitOnError)
	cfgFlags.StringVar(&f.Config, "config", "", "Path to the settings file")
	fl.AddFlagSet(cfgFlags)

	com.AddGroup(
		&cobra.Group{ID: "spectra", Title: "Spectra"},
		&cobra.Group{ID: "projects", Title: "Projects"},
	)
	com.AddCommand(spectrumCommands(conf)...)
	com.AddCommand(projectCommand(conf), fitCommand(conf))

	return com.Execute()
}
