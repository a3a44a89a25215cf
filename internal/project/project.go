// Package project resolves the context every forge command runs in: the
// repository root, the Django application directory, the .forge working
// directory and the layered environment.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/joho/godotenv"

	"github.com/forgepackages/forge/internal/toolchain"
	"github.com/forgepackages/forge/internal/workspace"
	"github.com/forgepackages/forge/pkg/config"
)

// ErrNotRepository is returned by operations that need a version-controlled project.
var ErrNotRepository = errors.New("Not in a git repository")

const (
	tmpDirName = ".forge"
	envFile    = ".env"
)

// Project is the resolved context of one CLI invocation. It is not mutated
// after Load returns, except through SetEnvKey which persists to disk.
type Project struct {
	Dir      string
	RepoRoot string
	AppDir   string
	TmpDir   string
	Env      config.Env
	Config   config.ForgeConfig

	workspace *workspace.Manager
	log       *slog.Logger
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	processEnv map[string]string
	log        *slog.Logger
}

// WithProcessEnv replaces the process environment snapshot (tests).
func WithProcessEnv(env map[string]string) Option {
	return func(o *loadOptions) { o.processEnv = env }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(o *loadOptions) { o.log = log }
}

// Load resolves the project context for dir.
func Load(dir string, opts ...Option) (*Project, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.processEnv == nil {
		o.processEnv = config.ProcessMap()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	p := &Project{Dir: abs, log: o.log}

	root, err := repositoryRoot(abs)
	if err != nil {
		return nil, err
	}
	p.RepoRoot = root
	if root == "" {
		// Deployment hosts have no checkout.
		o.log.Debug("no git repository found", "dir", abs)
	}

	p.AppDir = abs
	if info, err := os.Stat(filepath.Join(abs, "app")); err == nil && info.IsDir() {
		p.AppDir = filepath.Join(abs, "app")
	}

	tmpBase := abs
	if root != "" {
		tmpBase = root
	}
	ws, err := workspace.New(filepath.Join(tmpBase, tmpDirName))
	if err != nil {
		return nil, err
	}
	p.workspace = ws
	p.TmpDir = ws.Root()

	fileEnv, err := p.readDotenv()
	if err != nil {
		return nil, err
	}
	p.Env = config.NewEnv(o.processEnv).WithFallback(fileEnv)
	cfg, err := config.LoadForgeConfig(p.Env)
	if err != nil {
		return nil, err
	}
	p.Config = cfg
	return p, nil
}

// Workspace exposes the .forge directory manager.
func (p *Project) Workspace() *workspace.Manager {
	return p.workspace
}

// RequireRepo fails when the project is not inside a repository.
func (p *Project) RequireRepo() error {
	if p.RepoRoot == "" {
		return ErrNotRepository
	}
	return nil
}

// ProjectName is the repository directory name, used to derive container names.
func (p *Project) ProjectName() string {
	if p.RepoRoot == "" {
		return filepath.Base(p.Dir)
	}
	return filepath.Base(p.RepoRoot)
}

// DotenvPath returns the location of the project's .env file.
func (p *Project) DotenvPath() string {
	if p.RepoRoot == "" {
		return ""
	}
	return filepath.Join(p.RepoRoot, envFile)
}

// UserFileExists reports whether name exists inside the application directory.
func (p *Project) UserFileExists(name string) bool {
	_, err := os.Stat(filepath.Join(p.AppDir, name))
	return err == nil
}

// ManagePy locates the project's manage.py.
func (p *Project) ManagePy() (string, error) {
	path := filepath.Join(p.AppDir, "manage.py")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("manage.py not found in %s", p.AppDir)
	}
	return path, nil
}

// Runner returns a toolchain runner whose children inherit the project environment.
func (p *Project) Runner(stdout, stderr io.Writer) *toolchain.Runner {
	return toolchain.NewRunner(p.Env.Environ(), stdout, stderr, p.log)
}

// Django returns the manage.py helper bound to runner.
func (p *Project) Django(runner *toolchain.Runner) (toolchain.Django, error) {
	managePy, err := p.ManagePy()
	if err != nil {
		return toolchain.Django{}, err
	}
	return toolchain.Django{
		Runner:   runner,
		Python:   p.Config.Python,
		ManagePy: managePy,
		Env:      p.DjangoEnv(),
	}, nil
}

// DjangoEnv is the environment overlay every manage.py invocation receives.
func (p *Project) DjangoEnv() map[string]string {
	return map[string]string{
		"PYTHONPATH":       p.AppDir,
		"PYTHONUNBUFFERED": "true",
	}
}

// PackageScripts returns the "scripts" of the repository's package.json, if any.
func (p *Project) PackageScripts() (map[string]string, error) {
	if p.RepoRoot == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(p.RepoRoot, "package.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read package.json: %w", err)
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	return pkg.Scripts, nil
}

// RepoFileExists reports whether name exists at the repository root.
func (p *Project) RepoFileExists(name string) bool {
	if p.RepoRoot == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(p.RepoRoot, name))
	return err == nil
}

func (p *Project) readDotenv() (map[string]string, error) {
	path := p.DotenvPath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

func repositoryRoot(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("open git repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return "", nil
		}
		return "", fmt.Errorf("open git worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}
