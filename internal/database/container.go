// Package database manages the project's local Postgres container: its
// lifecycle, database resets and staged restores of production dumps.
package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/forgepackages/forge/internal/docker"
	"github.com/forgepackages/forge/internal/toolchain"
	"github.com/forgepackages/forge/pkg/config"
)

// Runtime is the subset of the container engine the manager drives.
type Runtime interface {
	Run(ctx context.Context, spec docker.RunSpec) error
	Stop(ctx context.Context, name string) error
	Logs(ctx context.Context, name string, stdout, stderr io.Writer) error
	Exec(ctx context.Context, name string, req docker.ExecRequest) (docker.ExecResult, error)
}

// Descriptor identifies the project's database container.
type Descriptor struct {
	Name     string
	HostPort string
	Database string
	User     string
	Password string
	Version  string
	DataDir  string
}

// NewDescriptor derives the descriptor for a project from its configuration.
func NewDescriptor(projectName, dataDir string, cfg config.ForgeConfig) Descriptor {
	return Descriptor{
		Name:     projectName + "-postgres",
		HostPort: cfg.Database.HostPort(),
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Version:  cfg.PostgresVersion,
		DataDir:  dataDir,
	}
}

// Image is the postgres image reference for the descriptor's version.
func (d Descriptor) Image() string {
	return "postgres:" + d.Version
}

// ImportDatabase is the side database a dump is restored into before it is
// renamed over the canonical one.
func (d Descriptor) ImportDatabase() string {
	return d.Database + "_import"
}

// Container manages one project database container.
type Container struct {
	rt   Runtime
	desc Descriptor
	log  *slog.Logger
	out  io.Writer
}

// New returns a manager for desc backed by rt. Restore diagnostics that are not
// filtered out are written to out.
func New(rt Runtime, desc Descriptor, out io.Writer, log *slog.Logger) *Container {
	if log == nil {
		log = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Container{rt: rt, desc: desc, log: log, out: out}
}

// Descriptor returns the container's descriptor.
func (c *Container) Descriptor() Descriptor {
	return c.desc
}

// Start launches the container detached. An already running container is success.
func (c *Container) Start(ctx context.Context) error {
	ports := nat.PortMap{
		nat.Port("5432/tcp"): []nat.PortBinding{{HostPort: c.desc.HostPort}},
	}
	err := c.rt.Run(ctx, docker.RunSpec{
		Name:  c.desc.Name,
		Image: c.desc.Image(),
		Env: []string{
			"POSTGRES_USER=" + c.desc.User,
			"POSTGRES_PASSWORD=" + c.desc.Password,
		},
		Binds:      []string{c.desc.DataDir + ":/var/lib/postgresql/data"},
		Ports:      ports,
		AutoRemove: true,
	})
	if errors.Is(err, docker.ErrConflict) {
		c.log.Debug("database container already running", "container", c.desc.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start database container: %w", err)
	}
	c.log.Info("database container started", "container", c.desc.Name, "port", c.desc.HostPort)
	return nil
}

// Stop stops the container. A container that does not exist is success.
func (c *Container) Stop(ctx context.Context) error {
	err := c.rt.Stop(ctx, c.desc.Name)
	if errors.Is(err, docker.ErrNotFound) {
		c.log.Debug("database container not running", "container", c.desc.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop database container: %w", err)
	}
	return nil
}

// Logs follows the container output until ctx is done.
func (c *Container) Logs(ctx context.Context, stdout, stderr io.Writer) error {
	if err := c.rt.Logs(ctx, c.desc.Name, stdout, stderr); err != nil {
		return fmt.Errorf("database logs: %w", err)
	}
	return nil
}

// Output is the captured result of a command run inside the container.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Execute runs argv in the container and captures its output. A non-zero exit
// is reported in Output, not as an error.
func (c *Container) Execute(ctx context.Context, argv []string, stdin io.Reader) (Output, error) {
	var stdout, stderr bytes.Buffer
	res, err := c.rt.Exec(ctx, c.desc.Name, docker.ExecRequest{
		Cmd:    argv,
		Stdin:  stdin,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return Output{}, fmt.Errorf("exec %s: %w", argv[0], err)
	}
	return Output{ExitCode: res.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (c *Container) mustExecute(ctx context.Context, argv []string, stdin io.Reader) (Output, error) {
	out, err := c.Execute(ctx, argv, stdin)
	if err != nil {
		return out, err
	}
	if out.ExitCode != 0 {
		return out, execFailure(argv, out)
	}
	return out, nil
}

// Reset drops the project database, ignoring a database that does not exist,
// and recreates it when create is set.
func (c *Container) Reset(ctx context.Context, create bool) error {
	out, err := c.Execute(ctx, []string{"dropdb", c.desc.Database, "--force", "-U", c.desc.User}, nil)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		if !strings.Contains(out.Stdout, "does not exist") && !strings.Contains(out.Stderr, "does not exist") {
			return execFailure([]string{"dropdb"}, out)
		}
		c.log.Debug("database did not exist", "database", c.desc.Database)
	}
	if !create {
		return nil
	}
	_, err = c.mustExecute(ctx, []string{"createdb", c.desc.Database, "-U", c.desc.User}, nil)
	return err
}

func execFailure(argv []string, out Output) error {
	err := error(&toolchain.ExitError{Command: argv[0], Code: out.ExitCode})
	if msg := strings.TrimSpace(out.Stderr); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}
