// Package toolchain runs the external tools forge orchestrates (python,
// heroku, stripe, git, formatters) with an explicit environment.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// interruptGrace is how long a cancelled child gets to exit after an
// interrupt before it is killed.
const interruptGrace = 5 * time.Second

// ExitError reports a child process that exited with a non-zero status. The CLI
// propagates Code as its own exit status.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Cmd describes one external tool invocation as an explicit argument vector.
type Cmd struct {
	Name   string
	Args   []string
	Env    map[string]string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Check turns a non-zero exit into an *ExitError.
	Check bool
}

// String renders the command for logs.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result captures the outcome of a finished command.
type Result struct {
	ExitCode int
}

// Runner executes commands on top of a base environment.
type Runner struct {
	base   []string
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger
}

// NewRunner returns a Runner whose children inherit base (KEY=VALUE pairs) and
// write to stdout/stderr unless a Cmd overrides them.
func NewRunner(base []string, stdout, stderr io.Writer, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Runner{base: append([]string(nil), base...), stdout: stdout, stderr: stderr, log: log}
}

// Environ merges overlay on top of the base environment. Overlay keys win.
func (r *Runner) Environ(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return append([]string(nil), r.base...)
	}
	out := make([]string, 0, len(r.base)+len(overlay))
	for _, kv := range r.base {
		k, _, _ := strings.Cut(kv, "=")
		if _, replaced := overlay[k]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

// Run executes c and waits for it. A non-zero exit is reported through
// Result.ExitCode, and additionally as *ExitError when c.Check is set. Failing
// to start the process at all is always an error.
func (r *Runner) Run(ctx context.Context, c Cmd) (Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return Result{}, fmt.Errorf("command name cannot be empty")
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = r.Environ(c.Env)
	cmd.Dir = c.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = interruptGrace
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = r.stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = r.stderr
	}

	r.log.Debug("running command", "command", c.String(), "dir", c.Dir)
	err := cmd.Run()
	if err == nil {
		return Result{}, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return Result{}, fmt.Errorf("run %s: %w", c.Name, err)
	}
	code := exitErr.ExitCode()
	if code < 0 {
		// Killed by a signal.
		code = 1
	}
	r.log.Debug("command exited", "command", c.String(), "exit_code", code)
	if c.Check {
		return Result{ExitCode: code}, &ExitError{Command: c.Name, Code: code}
	}
	return Result{ExitCode: code}, nil
}

// Output runs c with Check set and returns its trimmed stdout. Stderr is
// included in the error when the command fails.
func (r *Runner) Output(ctx context.Context, c Cmd) (string, error) {
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.Check = true
	if _, err := r.Run(ctx, c); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}
