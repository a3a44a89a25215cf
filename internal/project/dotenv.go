package project

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/forgepackages/forge/pkg/config"
)

// SetEnvKey writes key=value into the repository .env file, replacing an
// existing assignment in place or appending one, and updates p.Env so the rest
// of the invocation sees the new value. Other lines and comments are kept.
func (p *Project) SetEnvKey(key, value string) error {
	if err := p.RequireRepo(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("env key cannot be empty")
	}
	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	line = strings.TrimSpace(line)

	path := p.DotenvPath()
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var out bytes.Buffer
	replaced := false
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		current := scanner.Text()
		if !replaced && assignsKey(current, key) {
			out.WriteString(line)
			replaced = true
		} else {
			out.WriteString(current)
		}
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	if !replaced {
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := os.WriteFile(path, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	p.Env = p.Env.With(key, value)
	cfg, err := config.LoadForgeConfig(p.Env)
	if err != nil {
		return err
	}
	p.Config = cfg
	return nil
}

func assignsKey(line, key string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "export ")
	name, _, ok := strings.Cut(trimmed, "=")
	return ok && strings.TrimSpace(name) == key
}
