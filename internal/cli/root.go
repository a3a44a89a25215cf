package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "forge",
		Short:         "Local development, database and deployment tooling for Django projects",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SuggestionsMinimumDistance = 2
	cmd.SetIn(app.Stdin)
	cmd.SetOut(app.Stdout)
	cmd.SetErr(app.Stderr)
	cmd.AddCommand(
		newWorkCmd(app),
		newDBCmd(app),
		newTailwindCmd(app),
		newHerokuCmd(app),
		newDjangoCmd(app),
		newFormatCmd(app),
		newTestCmd(app),
		newPreDeployCmd(app),
		newServeCmd(app),
		newPreCommitCmd(app),
		newShellCmd(app),
		newVersionCmd(app),
	)
	return cmd
}

// Run executes the command line in args and returns the exit status.
func Run(ctx context.Context, app *App, args []string) int {
	root := newRootCmd(app)
	root.SetArgs(args)
	return app.ExitCode(root.ExecuteContext(ctx))
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the forge version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
}
