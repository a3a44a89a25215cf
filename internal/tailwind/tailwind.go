// Package tailwind installs and runs the Tailwind CSS standalone compiler,
// keeping the installed version in step with the project's pin.
package tailwind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DefaultBaseURL is where standalone releases are downloaded from.
const DefaultBaseURL = "https://github.com/tailwindlabs/tailwindcss/releases"

// ErrUnsupportedPlatform is returned when no standalone build exists for the host.
var ErrUnsupportedPlatform = errors.New("Unsupported platform for Tailwind standalone")

var versionPin = regexp.MustCompile(`const FORGE_TAILWIND_VERSION = "(.*)"`)

// Tailwind manages the standalone binary inside a project's .forge directory.
type Tailwind struct {
	StandalonePath string
	VersionFile    string
	ConfigPath     string

	baseURL string
	http    *http.Client
	goos    string
	goarch  string
	log     *slog.Logger
}

// Option customises a Tailwind.
type Option func(*Tailwind)

// WithBaseURL overrides the release download location.
func WithBaseURL(u string) Option {
	return func(t *Tailwind) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tailwind) { t.http = c }
}

// WithPlatform overrides the detected operating system and architecture.
func WithPlatform(goos, goarch string) Option {
	return func(t *Tailwind) { t.goos, t.goarch = goos, goarch }
}

// New returns a Tailwind rooted at tmpDir. The project's tailwind.config.js is
// expected next to tmpDir.
func New(tmpDir string, log *slog.Logger, opts ...Option) *Tailwind {
	if log == nil {
		log = slog.Default()
	}
	t := &Tailwind{
		StandalonePath: filepath.Join(tmpDir, "tailwind"),
		VersionFile:    filepath.Join(tmpDir, "tailwind.version"),
		ConfigPath:     filepath.Join(filepath.Dir(tmpDir), "tailwind.config.js"),
		baseURL:        DefaultBaseURL,
		http:           http.DefaultClient,
		goos:           runtime.GOOS,
		goarch:         runtime.GOARCH,
		log:            log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsInstalled reports whether the standalone binary is present.
func (t *Tailwind) IsInstalled() bool {
	_, err := os.Stat(t.StandalonePath)
	return err == nil
}

// NeedsUpdate reports whether the installed version differs from the pin.
func (t *Tailwind) NeedsUpdate() (bool, error) {
	data, err := os.ReadFile(t.VersionFile)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read tailwind version: %w", err)
	}
	pinned, err := t.VersionFromConfig()
	if err != nil {
		return false, err
	}
	return !sameVersion(strings.TrimSpace(string(data)), pinned), nil
}

// VersionFromConfig returns the version pinned in tailwind.config.js, or "".
func (t *Tailwind) VersionFromConfig() (string, error) {
	data, err := os.ReadFile(t.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read tailwind config: %w", err)
	}
	if m := versionPin.FindSubmatch(data); m != nil {
		return string(m[1]), nil
	}
	return "", nil
}

// SetVersionInConfig pins version in tailwind.config.js, replacing an existing
// pin or prepending one.
func (t *Tailwind) SetVersionInConfig(version string) error {
	data, err := os.ReadFile(t.ConfigPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read tailwind config: %w", err)
	}
	line := fmt.Sprintf("const FORGE_TAILWIND_VERSION = %q", version)
	var updated string
	if versionPin.Match(data) {
		updated = versionPin.ReplaceAllLiteralString(string(data), line)
	} else {
		updated = line + "\n\n" + string(data)
	}
	if err := os.WriteFile(t.ConfigPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write tailwind config: %w", err)
	}
	return nil
}

// Install downloads the standalone binary for version, or the latest release
// when version is empty, and records the installed version. It returns the
// installed version without a "v" prefix.
func (t *Tailwind) Install(ctx context.Context, version string) (string, error) {
	slug, err := PlatformSlug(t.goos, t.goarch)
	if err != nil {
		return "", err
	}

	var url string
	if version != "" {
		v, err := semver.NewVersion(version)
		if err != nil {
			return "", fmt.Errorf("invalid tailwind version %q: %w", version, err)
		}
		version = v.String()
		url = fmt.Sprintf("%s/download/v%s/tailwindcss-%s", t.baseURL, version, slug)
	} else {
		url = fmt.Sprintf("%s/latest/download/tailwindcss-%s", t.baseURL, slug)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build tailwind request: %w", err)
	}
	t.log.Debug("downloading tailwind", "url", url)
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download tailwind: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download tailwind: unexpected status %s", resp.Status)
	}

	if version == "" {
		// The latest link redirects to .../download/vX.Y.Z/<asset>.
		version, err = versionFromReleaseURL(resp.Request.URL.Path)
		if err != nil {
			return "", err
		}
	}

	if err := writeExecutable(t.StandalonePath, resp.Body); err != nil {
		return "", err
	}
	if err := os.WriteFile(t.VersionFile, []byte(version), 0o644); err != nil {
		return "", fmt.Errorf("write tailwind version: %w", err)
	}
	if err := t.SetVersionInConfig(version); err != nil {
		return "", err
	}
	t.log.Info("tailwind installed", "version", version)
	return version, nil
}

// CompileArgs returns the compiler arguments for a project whose Django app
// lives in appDir. They are relative to the parent of appDir, which must be
// the working directory.
func (t *Tailwind) CompileArgs(appDir string, watch, minify bool) []string {
	args := []string{
		"-i", filepath.Join(appDir, "static", "src", "tailwind.css"),
		"-o", filepath.Join(appDir, "static", "dist", "tailwind.css"),
		"--content", strings.Join([]string{
			"./app/**/*.{html,js}",
			"./{.venv,.heroku/python}/lib/python*/site-packages/forge*/**/*.{html,js}",
		}, ","),
	}
	if watch {
		args = append(args, "--watch")
	}
	if minify {
		args = append(args, "--minify")
	}
	return args
}

// PlatformSlug maps an operating system and architecture to a release asset suffix.
func PlatformSlug(goos, goarch string) (string, error) {
	switch {
	case goos == "windows":
		return "windows-x64.exe", nil
	case goos == "linux" && goarch == "arm64":
		return "linux-arm64", nil
	case goos == "linux":
		return "linux-x64", nil
	case goos == "darwin" && goarch == "arm64":
		return "macos-arm64", nil
	case goos == "darwin":
		return "macos-x64", nil
	default:
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
}

func versionFromReleaseURL(p string) (string, error) {
	dir := path.Base(path.Dir(p))
	v, err := semver.NewVersion(dir)
	if err != nil {
		return "", fmt.Errorf("resolve latest tailwind version from %s: %w", p, err)
	}
	return v.String(), nil
}

func sameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.TrimPrefix(a, "v") == strings.TrimPrefix(b, "v")
	}
	return va.Equal(vb)
}

func writeExecutable(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tailwind-*")
	if err != nil {
		return fmt.Errorf("create tailwind binary: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write tailwind binary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tailwind binary: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return fmt.Errorf("chmod tailwind binary: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("install tailwind binary: %w", err)
	}
	return nil
}
