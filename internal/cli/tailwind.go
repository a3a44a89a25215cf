package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgepackages/forge/internal/tailwind"
	"github.com/forgepackages/forge/internal/toolchain"
)

func newTailwindCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tailwind",
		Short: "Built-in Tailwind CSS commands",
	}
	cmd.AddCommand(newTailwindCompileCmd(app), newTailwindUpdateCmd(app))
	return cmd
}

func newTailwindCompileCmd(app *App) *cobra.Command {
	var watch, minify bool
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the project's Tailwind CSS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			tw := tailwind.New(s.project.TmpDir, app.logger())

			needsUpdate, err := tw.NeedsUpdate()
			if err != nil {
				return err
			}
			if !tw.IsInstalled() || needsUpdate {
				pinned, err := tw.VersionFromConfig()
				if err != nil {
					return err
				}
				if pinned != "" {
					s.ui().Step("Installing Tailwind standalone %s...", pinned)
				} else {
					s.ui().Step("Installing Tailwind standalone...")
				}
				version, err := tw.Install(cmd.Context(), pinned)
				if err != nil {
					return err
				}
				s.ui().Success("Tailwind %s installed", version)
			}

			_, err = s.runner.Run(cmd.Context(), toolchain.Cmd{
				Name:  tw.StandalonePath,
				Args:  tw.CompileArgs(s.project.AppDir, watch, minify),
				Dir:   filepath.Dir(s.project.AppDir),
				Check: true,
			})
			return err
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Recompile when sources change")
	cmd.Flags().BoolVar(&minify, "minify", false, "Minify the output")
	return cmd
}

func newTailwindUpdateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Install the latest Tailwind standalone and pin it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			tw := tailwind.New(s.project.TmpDir, app.logger())
			s.ui().Step("Installing Tailwind standalone...")
			version, err := tw.Install(cmd.Context(), "")
			if err != nil {
				return err
			}
			s.ui().Success("Tailwind %s installed", version)
			return nil
		},
	}
}
