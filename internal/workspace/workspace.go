package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns the per-repository working directory (".forge") that holds the
// container data volume, downloaded tool binaries and transient backup artifacts.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (m *Manager) Root() string {
	return m.root
}

// Path joins name onto the workspace root without touching the filesystem.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.root, name)
}

// Ensure creates (if needed) a persistent directory under the root and returns it.
// Existing contents are preserved.
func (m *Manager) Ensure(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := filepath.Join(m.root, identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes a path inside the workspace root.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Ensure we only remove paths within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}
