package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// Django invokes the project's manage.py with the application directory on PYTHONPATH.
type Django struct {
	Runner   *Runner
	Python   string
	ManagePy string
	Env      map[string]string
}

// Argv returns the full argument vector for a manage.py invocation.
func (d Django) Argv(args ...string) []string {
	python := d.Python
	if python == "" {
		python = "python"
	}
	return append([]string{python, d.ManagePy}, args...)
}

// Cmd builds a manage.py command.
func (d Django) Cmd(args ...string) Cmd {
	argv := d.Argv(args...)
	return Cmd{Name: argv[0], Args: argv[1:], Env: d.Env}
}

// Manage runs manage.py with args, optionally enforcing a zero exit.
func (d Django) Manage(ctx context.Context, check bool, args ...string) (Result, error) {
	c := d.Cmd(args...)
	c.Check = check
	return d.Runner.Run(ctx, c)
}

// Check runs the Django system checks and fails when they do not pass.
func (d Django) Check(ctx context.Context, args ...string) error {
	_, err := d.Manage(ctx, true, append([]string{"check"}, args...)...)
	return err
}

// HasCommand reports whether manage.py knows a management command, by listing
// the available commands rather than invoking the command itself.
func (d Django) HasCommand(ctx context.Context, name string) (bool, error) {
	var out bytes.Buffer
	c := d.Cmd("help", "--commands")
	c.Stdout = &out
	c.Stderr = io.Discard
	res, err := d.Runner.Run(ctx, c)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("list management commands: exit status %d", res.ExitCode)
	}
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == name {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Pipe runs manage.py with stdin connected to r and fails on a non-zero exit.
func (d Django) Pipe(ctx context.Context, r io.Reader, args ...string) error {
	c := d.Cmd(args...)
	c.Stdin = r
	c.Check = true
	_, err := d.Runner.Run(ctx, c)
	return err
}
