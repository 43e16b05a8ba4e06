package cmd

import (
	"fmt"
	"io"
	"math"

	"github.com/gxps"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func openRepo(conf *gxps.Configuration) *gxps.ProjectRepo {
	return gxps.NewProjectRepo(gxps.DatabaseLocation(conf.Database()))
}

func projectCommand(conf *gxps.Configuration) *cobra.Command {
	var repo *gxps.ProjectRepo
	projs := &cobra.Command{
		Use:     "project",
		Short:   "Manage saved projects",
		GroupID: "projects",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			repo = openRepo(conf)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return repo.Close()
		},
	}

	imp := &cobra.Command{
		Use:   "import NAME PATH...",
		Short: "Create or replace a project from spectrum files",
		Example: `
		$ gxps project import cu-foil survey.xy Cu2p.txt
		$ gxps project import cu-foil ./measurements
		`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadFiles(conf, afero.NewOsFs(), args[1:])
			if err != nil {
				return err
			}
			if err := repo.Save(args[0], c, c.Spectra()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %q saved with %d spectra\n", args[0], c.Len())
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list [pattern]...",
		Short: "List projects, optionally matching glob patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := repo.List(args...)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-20s | %-8s | %-20s\n", "Name", "Version", "Updated")
			for _, p := range projects {
				fmt.Fprintf(w, "%-20s | %-8s | %-20s\n", p.Name, p.Version, p.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Print the spectra and peaks of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := gxps.NewSpectrumContainer(conf.Processing(), conf.Fit())
			if _, err := repo.Load(args[0], c); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printSpectra(w, c.Spectra())
			for i, s := range c.Spectra() {
				if len(s.Peaks()) == 0 {
					continue
				}
				fmt.Fprintf(w, "\nSpectrum %d (%s)\n", i, s.Name())
				printPeaks(w, s)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete NAME...",
		Short: "Delete projects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if err := repo.Delete(name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	projs.AddCommand(imp, list, show, del)
	return projs
}

func printPeaks(w io.Writer, s *gxps.ModeledSpectrum) {
	fmt.Fprintf(w, "%-6s | %-20s | %-10s | %-12s | %-12s | %-24s | %s\n",
		"Peak", "Shape", "Param", "Value", "Vary", "Bounds", "Expr")
	for _, p := range s.Peaks() {
		for _, alias := range p.Shape().Aliases() {
			c, err := p.Constraints(alias)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%-6s | %-20s | %-10s | %-12.5g | %-12t | %-24s | %s\n",
				p.Name(), p.Shape(), alias, c.Value, c.Vary, formatBounds(c.Min, c.Max), c.Expr)
		}
	}
}

func formatBounds(min, max float64) string {
	if math.IsInf(min, -1) && math.IsInf(max, 1) {
		return "-"
	}
	return fmt.Sprintf("[%g, %g]", min, max)
}
