package config

import (
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// GetString retrieves a process environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	return Process().GetString(key, fallback)
}

// Env is an immutable view over layered environment variables. Earlier layers
// take precedence, so the process environment shadows values from a .env file.
type Env struct {
	layers []map[string]string
}

// Process returns an Env backed by a snapshot of the current process environment.
func Process() Env {
	return NewEnv(ProcessMap())
}

// ProcessMap snapshots the process environment as a map.
func ProcessMap() map[string]string {
	return environMap(os.Environ())
}

// NewEnv builds an Env from layers ordered by precedence (highest first).
func NewEnv(layers ...map[string]string) Env {
	copied := make([]map[string]string, 0, len(layers))
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		m := make(map[string]string, len(layer))
		for k, v := range layer {
			m[k] = v
		}
		copied = append(copied, m)
	}
	return Env{layers: copied}
}

// WithFallback returns a new Env with the given layer appended at the lowest precedence.
func (e Env) WithFallback(layer map[string]string) Env {
	layers := append(append([]map[string]string{}, e.layers...), layer)
	return NewEnv(layers...)
}

// With returns a new Env where key is set to value, overriding every layer.
func (e Env) With(key, value string) Env {
	layers := append([]map[string]string{{key: value}}, e.layers...)
	return NewEnv(layers...)
}

// Lookup returns the highest-precedence value for key.
func (e Env) Lookup(key string) (string, bool) {
	for _, layer := range e.layers {
		if v, ok := layer[key]; ok {
			return v, true
		}
	}
	return "", false
}

// Has reports whether key is set in any layer.
func (e Env) Has(key string) bool {
	_, ok := e.Lookup(key)
	return ok
}

// GetString retrieves a variable or returns a fallback when unset.
func (e Env) GetString(key, fallback string) string {
	if value, ok := e.Lookup(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves a variable as integer or returns fallback.
func (e Env) GetInt(key string, fallback int) int {
	if value, ok := e.Lookup(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves a variable as bool or returns fallback.
func (e Env) GetBool(key string, fallback bool) bool {
	if value, ok := e.Lookup(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// Environ flattens the layers into KEY=VALUE pairs suitable for exec.Cmd.Env.
func (e Env) Environ() []string {
	merged := map[string]string{}
	for i := len(e.layers) - 1; i >= 0; i-- {
		for k, v := range e.layers[i] {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
