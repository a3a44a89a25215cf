// Package heroku drives the Heroku CLI for backups, app metadata and app setup.
package heroku

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/forgepackages/forge/internal/toolchain"
)

// ErrNoBackups is returned when the app has no database backups to import.
var ErrNoBackups = errors.New("No backups found. Run with --backup to make a new backup now.")

// Buildpack identifiers suggested for a forge project.
const (
	ForgeBuildpack  = "forgepackages/forge"
	NodeBuildpack   = "heroku/nodejs"
	PoetryBuildpack = "https://github.com/moneymeets/python-poetry-buildpack.git"
	PythonBuildpack = "heroku/python"
)

// Backup is one entry of the pg:backups listing.
type Backup struct {
	ID string
	// Lines is the listing excerpt (header, separator and latest entry).
	Lines []string
}

// CLI wraps the heroku executable. When App is set every command targets it
// explicitly; otherwise the CLI resolves the app from the git remote.
type CLI struct {
	Runner *toolchain.Runner
	App    string
	Bin    string
}

// New returns a CLI bound to runner.
func New(runner *toolchain.Runner, app string) *CLI {
	return &CLI{Runner: runner, App: app, Bin: "heroku"}
}

func (h *CLI) cmd(args ...string) toolchain.Cmd {
	if h.App != "" {
		args = append(args, "--app", h.App)
	}
	return toolchain.Cmd{Name: h.bin(), Args: args, Check: true}
}

// Run executes an arbitrary heroku command with inherited output.
func (h *CLI) Run(ctx context.Context, args ...string) error {
	_, err := h.Runner.Run(ctx, h.cmd(args...))
	return err
}

func (h *CLI) output(ctx context.Context, args ...string) (string, error) {
	return h.Runner.Output(ctx, h.cmd(args...))
}

// CaptureBackup creates a fresh database backup.
func (h *CLI) CaptureBackup(ctx context.Context) error {
	return h.Run(ctx, "pg:backups:capture")
}

// LatestBackup lists backups and returns the most recent one.
func (h *CLI) LatestBackup(ctx context.Context) (Backup, error) {
	out, err := h.output(ctx, "pg:backups")
	if err != nil {
		return Backup{}, fmt.Errorf("list backups: %w", err)
	}
	return ParseBackups(out)
}

// ParseBackups extracts the latest backup from `heroku pg:backups` output.
func ParseBackups(out string) (Backup, error) {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return Backup{}, ErrNoBackups
	}
	end := 4
	if len(lines) < end {
		end = len(lines)
	}
	excerpt := lines[1:end]
	for _, line := range excerpt {
		if strings.HasPrefix(strings.TrimSpace(line), "No backups") {
			return Backup{}, ErrNoBackups
		}
	}
	last := strings.TrimSpace(excerpt[len(excerpt)-1])
	if len(excerpt) < 3 || last == "" {
		return Backup{}, ErrNoBackups
	}
	return Backup{ID: strings.Fields(last)[0], Lines: excerpt}, nil
}

// BackupURL returns a signed download URL for backup id.
func (h *CLI) BackupURL(ctx context.Context, id string) (string, error) {
	url, err := h.output(ctx, "pg:backups:url", id)
	if err != nil {
		return "", fmt.Errorf("backup url: %w", err)
	}
	return url, nil
}

// AppName resolves the name of the app the CLI is targeting.
func (h *CLI) AppName(ctx context.Context) (string, error) {
	out, err := h.output(ctx, "apps:info", "--json")
	if err != nil {
		return "", fmt.Errorf("app info: %w", err)
	}
	var info struct {
		App struct {
			Name string `json:"name"`
		} `json:"app"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return "", fmt.Errorf("decode app info: %w", err)
	}
	if info.App.Name == "" {
		return "", fmt.Errorf("app info did not include a name")
	}
	return info.App.Name, nil
}

// CreateApp creates an app, optionally owned by team.
func (h *CLI) CreateApp(ctx context.Context, name, team string) error {
	args := []string{"apps:create", name}
	if team != "" {
		args = append(args, "--team", team)
	}
	_, err := h.Runner.Run(ctx, toolchain.Cmd{Name: h.bin(), Args: args, Check: true})
	return err
}

// ClearBuildpacks removes every buildpack from the app.
func (h *CLI) ClearBuildpacks(ctx context.Context) error {
	return h.Run(ctx, "buildpacks:clear")
}

// SetBuildpack sets buildpack at the 1-based index.
func (h *CLI) SetBuildpack(ctx context.Context, buildpack string, index int) error {
	return h.Run(ctx, "buildpacks:set", buildpack, "--index", strconv.Itoa(index))
}

// AddAddon provisions an add-on plan such as heroku-postgresql:hobby-dev.
func (h *CLI) AddAddon(ctx context.Context, plan string) error {
	return h.Run(ctx, "addons:create", plan)
}

// ConfigSet sets config vars, given as KEY=VALUE pairs.
func (h *CLI) ConfigSet(ctx context.Context, pairs ...string) error {
	return h.Run(ctx, append([]string{"config:set"}, pairs...)...)
}

// EnableLab enables a Heroku Labs feature.
func (h *CLI) EnableLab(ctx context.Context, feature string) error {
	return h.Run(ctx, "labs:enable", feature)
}

// Exec runs a one-off dyno command, attached to stdin.
func (h *CLI) Exec(ctx context.Context, stdin io.Reader, command ...string) error {
	c := h.cmd(append([]string{"run"}, command...)...)
	c.Stdin = stdin
	_, err := h.Runner.Run(ctx, c)
	return err
}

func (h *CLI) bin() string {
	if h.Bin == "" {
		return "heroku"
	}
	return h.Bin
}

// SuggestedBuildpacks returns the buildpacks a project needs, in order.
// repoFileExists reports whether a file exists at the repository root.
func SuggestedBuildpacks(repoFileExists func(name string) bool) []string {
	buildpacks := []string{ForgeBuildpack}
	if repoFileExists("package.json") {
		buildpacks = append(buildpacks, NodeBuildpack)
	}
	if repoFileExists("poetry.lock") {
		buildpacks = append(buildpacks, PoetryBuildpack)
	}
	return append(buildpacks, PythonBuildpack)
}
