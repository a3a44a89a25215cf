package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgepackages/forge/internal/database"
	"github.com/forgepackages/forge/internal/toolchain"
)

const preCommitHook = "#!/bin/sh\nforge pre-commit"

func newDjangoCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:                "django [manage.py args...]",
		Short:              "Pass commands to Django manage.py",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			dj, err := s.django()
			if err != nil {
				return err
			}
			return dj.Pipe(cmd.Context(), app.Stdin, args...)
		},
	}
}

func newFormatCmd(app *App) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format Python code with black and isort",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			return runFormat(cmd.Context(), s, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Report files that would change without writing them")
	return cmd
}

func runFormat(ctx context.Context, s *session, check bool) error {
	target := s.project.AppDir
	if rel, err := filepath.Rel(s.app.Dir, target); err == nil {
		target = rel
	}

	s.ui().Step("Formatting with black")
	blackArgs := []string{"--extend-exclude", "migrations"}
	if check {
		blackArgs = append(blackArgs, "--check")
	}
	if _, err := s.runner.Run(ctx, toolchain.Cmd{Name: "black", Args: append(blackArgs, target), Check: true}); err != nil {
		return err
	}
	s.ui().Println()

	s.ui().Step("Formatting with isort")
	isortArgs := []string{"--profile", "black", "--src", target}
	if check {
		isortArgs = append(isortArgs, "--check")
	}
	_, err := s.runner.Run(ctx, toolchain.Cmd{Name: "isort", Args: append(isortArgs, target), Check: true})
	return err
}

func newTestCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:                "test [pytest args...]",
		Short:              "Run tests with pytest",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			return runTests(cmd.Context(), s, args)
		},
	}
}

func runTests(ctx context.Context, s *session, args []string) error {
	env := map[string]string{"PYTHONPATH": s.project.AppDir}
	if !s.project.Env.Has("DJANGO_SETTINGS_MODULE") {
		env["DJANGO_SETTINGS_MODULE"] = "settings"
	}
	_, err := s.runner.Run(ctx, toolchain.Cmd{Name: "pytest", Args: args, Env: env, Check: true})
	return err
}

func newPreDeployCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pre-deploy",
		Short: "Pre-deploy checks for the release process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			dj, err := s.django()
			if err != nil {
				return err
			}
			s.ui().Step("Running Django system checks")
			if err := dj.Check(cmd.Context(), "--deploy", "--fail-level", "WARNING"); err != nil {
				return err
			}
			s.ui().Println()
			s.ui().Step("Running Django migrations")
			_, err = dj.Manage(cmd.Context(), true, "migrate")
			return err
		},
	}
}

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a production server using gunicorn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			if !s.project.UserFileExists("wsgi.py") {
				return fmt.Errorf("wsgi.py not found in %s", s.project.AppDir)
			}
			_, err = s.runner.Run(cmd.Context(), toolchain.Cmd{
				Name:  "gunicorn",
				Args:  []string{"wsgi:application", "--log-file", "-"},
				Env:   map[string]string{"PYTHONPATH": s.project.AppDir},
				Check: true,
			})
			return err
		},
	}
}

func newPreCommitCmd(app *App) *cobra.Command {
	var install bool
	cmd := &cobra.Command{
		Use:   "pre-commit",
		Short: "Git pre-commit checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			if install {
				return installPreCommitHook(s)
			}
			return runPreCommit(cmd.Context(), s)
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "Install the git pre-commit hook")
	return cmd
}

func installPreCommitHook(s *session) error {
	if err := s.project.RequireRepo(); err != nil {
		return err
	}
	hook := filepath.Join(s.project.RepoRoot, ".git", "hooks", "pre-commit")
	if _, err := os.Stat(hook); err == nil {
		s.ui().Println("pre-commit hook already exists")
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat pre-commit hook: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(hook), 0o755); err != nil {
		return fmt.Errorf("create hooks directory: %w", err)
	}
	if err := os.WriteFile(hook, []byte(preCommitHook), 0o755); err != nil {
		return fmt.Errorf("write pre-commit hook: %w", err)
	}
	s.ui().Println("pre-commit hook installed")
	return nil
}

func runPreCommit(ctx context.Context, s *session) error {
	u := s.ui()
	u.Step("Checking formatting")
	if err := runFormat(ctx, s, true); err != nil {
		return err
	}

	dj, err := s.django()
	if err != nil {
		return err
	}
	u.Println()
	u.Step("Checking database connection")
	if err := database.Connected(ctx, s.project.Config.DatabaseURL); err != nil {
		s.app.logger().Debug("database unavailable", "error", err)
		u.Println()
		u.Step("Running Django checks (without database)")
		if err := dj.Check(ctx); err != nil {
			return err
		}
	} else {
		u.Println()
		u.Step("Running Django checks")
		if err := dj.Check(ctx, "--database", "default"); err != nil {
			return err
		}
		u.Println()
		u.Step("Checking Django migrations")
		if _, err := dj.Manage(ctx, true, "migrate", "--check"); err != nil {
			return err
		}
	}

	u.Println()
	u.Step("Running tests")
	return runTests(ctx, s, nil)
}

func newShellCmd(app *App) *cobra.Command {
	var onHeroku bool
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Open a Python/Django shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session()
			if err != nil {
				return err
			}
			if onHeroku {
				return s.heroku().Exec(cmd.Context(), app.Stdin, "python app/manage.py shell")
			}
			dj, err := s.django()
			if err != nil {
				return err
			}
			return dj.Pipe(cmd.Context(), app.Stdin, "shell")
		},
	}
	cmd.Flags().BoolVar(&onHeroku, "heroku", false, "Open the shell on the production app")
	return cmd
}
