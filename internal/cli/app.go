// Package cli wires forge's commands onto the project, database, backup,
// supervisor and tailwind packages.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/forgepackages/forge/internal/database"
	"github.com/forgepackages/forge/internal/docker"
	"github.com/forgepackages/forge/internal/heroku"
	"github.com/forgepackages/forge/internal/project"
	"github.com/forgepackages/forge/internal/toolchain"
	"github.com/forgepackages/forge/internal/ui"
)

// App carries the process-level dependencies every command shares.
type App struct {
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Dir     string
	Log     *slog.Logger
	Version string
	// Self is the forge executable, re-invoked by supervised processes.
	Self string
	// Env replaces the process environment when set.
	Env map[string]string

	ui *ui.UI
}

// NewApp returns an App bound to the current process.
func NewApp(log *slog.Logger, version string) (*App, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	self, err := os.Executable()
	if err != nil {
		self = "forge"
	}
	return &App{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Dir:     dir,
		Log:     log,
		Version: version,
		Self:    self,
	}, nil
}

// UI returns the operator-facing output.
func (a *App) UI() *ui.UI {
	if a.ui == nil {
		a.ui = ui.New(a.Stdout, a.Stderr, a.Stdin)
	}
	return a.ui
}

func (a *App) logger() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

// session is the resolved context of one command invocation.
type session struct {
	app     *App
	project *project.Project
	runner  *toolchain.Runner
}

func (a *App) session() (*session, error) {
	p, err := project.Load(a.Dir, project.WithProcessEnv(a.Env), project.WithLogger(a.logger()))
	if err != nil {
		return nil, err
	}
	return &session{app: a, project: p, runner: p.Runner(a.Stdout, a.Stderr)}, nil
}

func (s *session) ui() *ui.UI {
	return s.app.UI()
}

func (s *session) django() (toolchain.Django, error) {
	return s.project.Django(s.runner)
}

func (s *session) heroku() *heroku.CLI {
	return heroku.New(s.runner, s.project.Config.HerokuApp)
}

// container connects to Docker and returns the project's database manager.
// The returned close function releases the Docker client.
func (s *session) container(ctx context.Context) (*database.Container, func() error, error) {
	if err := s.project.RequireRepo(); err != nil {
		return nil, nil, err
	}
	client, err := docker.New(s.project.Config.DockerHost, s.app.logger())
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	dataDir, err := s.project.Workspace().Ensure("pgdata")
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	desc := database.NewDescriptor(s.project.ProjectName(), dataDir, s.project.Config)
	return database.New(client, desc, s.app.Stdout, s.app.logger()), client.Close, nil
}

// exit ends a command with code without printing anything further.
func exit(command string, code int) error {
	return &toolchain.ExitError{Command: command, Code: code}
}

// ExitCode reports err to the operator and returns the process exit status.
// A bare *toolchain.ExitError means the child already reported its failure.
func (a *App) ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *toolchain.ExitError
	if errors.As(err, &exitErr) {
		if err != error(exitErr) {
			a.UI().Error("%v", err)
		}
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	a.UI().Error("%v", err)
	return 1
}
