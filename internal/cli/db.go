package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgepackages/forge/internal/backup"
	"github.com/forgepackages/forge/internal/database"
)

func newDBCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the local Postgres database container",
	}
	cmd.AddCommand(
		newDBStartCmd(app),
		newDBStopCmd(app),
		newDBResetCmd(app),
		newDBLogsCmd(app),
		newDBPullCmd(app),
		newDBWaitCmd(app),
		newDBConnectedCmd(app),
	)
	return cmd
}

// withContainer runs fn against the project's database container.
func withContainer(ctx context.Context, app *App, fn func(*session, *database.Container) error) error {
	s, err := app.session()
	if err != nil {
		return err
	}
	c, closeFn, err := s.container(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(s, c)
}

func newDBStartCmd(app *App) *cobra.Command {
	var logs bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the database container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), app, func(s *session, c *database.Container) error {
				if err := c.Start(cmd.Context()); err != nil {
					return err
				}
				desc := c.Descriptor()
				s.ui().Success("Database %s running on port %s", desc.Name, desc.HostPort)
				if logs {
					return followLogs(cmd.Context(), app, c)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&logs, "logs", false, "Follow the container logs after starting")
	return cmd
}

func newDBStopCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the database container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), app, func(s *session, c *database.Container) error {
				if err := c.Stop(cmd.Context()); err != nil {
					return err
				}
				s.ui().Success("Database stopped")
				return nil
			})
		},
	}
}

func newDBResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the local development database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), app, func(s *session, c *database.Container) error {
				if err := c.Reset(cmd.Context(), true); err != nil {
					return err
				}
				s.ui().Success("Local development database reset")
				return nil
			})
		},
	}
}

func newDBLogsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Follow the database container logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), app, func(_ *session, c *database.Container) error {
				return followLogs(cmd.Context(), app, c)
			})
		},
	}
}

func followLogs(ctx context.Context, app *App, c *database.Container) error {
	err := c.Logs(ctx, app.Stdout, app.Stderr)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func newDBPullCmd(app *App) *cobra.Command {
	var (
		capture     bool
		anonymize   bool
		noAnonymize bool
		yes         bool
	)
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Import the latest Heroku backup into the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := backup.Options{Capture: capture, AssumeYes: yes}
			switch {
			case cmd.Flags().Changed("anonymize") && cmd.Flags().Changed("no-anonymize"):
				return errors.New("--anonymize and --no-anonymize are mutually exclusive")
			case cmd.Flags().Changed("anonymize"):
				opts.Anonymize = &anonymize
			case cmd.Flags().Changed("no-anonymize"):
				v := !noAnonymize
				opts.Anonymize = &v
			}

			s, err := app.session()
			if err != nil {
				return err
			}
			if err := s.project.RequireRepo(); err != nil {
				return err
			}
			dj, err := s.django()
			if err != nil {
				return err
			}
			target := &lazyContainer{s: s}
			defer target.Close()
			pipeline := &backup.Pipeline{
				Django:    dj,
				Source:    s.heroku(),
				Target:    target,
				UI:        s.ui(),
				HTTP:      &http.Client{},
				Workspace: s.project.Workspace(),
				Log:       app.logger(),
			}
			return pipeline.Run(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&capture, "backup", false, "Capture a fresh Heroku backup first")
	cmd.Flags().BoolVar(&anonymize, "anonymize", false, "Anonymize data during import (default when anonymizedump is installed)")
	cmd.Flags().BoolVar(&noAnonymize, "no-anonymize", false, "Import production data without anonymizing it")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// lazyContainer connects to Docker on first use, so an import fails on its
// own checks before it needs the daemon.
type lazyContainer struct {
	s       *session
	c       *database.Container
	closeFn func() error
}

func (l *lazyContainer) container(ctx context.Context) (*database.Container, error) {
	if l.c != nil {
		return l.c, nil
	}
	c, closeFn, err := l.s.container(ctx)
	if err != nil {
		return nil, err
	}
	l.c, l.closeFn = c, closeFn
	return c, nil
}

func (l *lazyContainer) Start(ctx context.Context) error {
	c, err := l.container(ctx)
	if err != nil {
		return err
	}
	return c.Start(ctx)
}

func (l *lazyContainer) RestoreDump(ctx context.Context, artifact database.Artifact) error {
	c, err := l.container(ctx)
	if err != nil {
		return err
	}
	return c.RestoreDump(ctx, artifact)
}

func (l *lazyContainer) Close() error {
	if l.closeFn == nil {
		return nil
	}
	return l.closeFn()
}

func newDBWaitCmd(app *App) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the database accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			return database.Wait(cmd.Context(), s.project.Config.DatabaseURL, interval, app.Stdout)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between connection attempts")
	return cmd
}

func newDBConnectedCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "connected",
		Short: "Exit non-zero unless the database accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			if err := database.Connected(cmd.Context(), s.project.Config.DatabaseURL); err != nil {
				app.logger().Debug("database unavailable", "error", err)
				fmt.Fprintln(app.Stderr, "Database unavailable")
				return exit("db connected", 1)
			}
			fmt.Fprintln(app.Stdout, "Database available")
			return nil
		},
	}
}
