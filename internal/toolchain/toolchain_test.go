package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test; it is re-executed as a child process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := helperArgs(os.Args)
	if len(args) == 0 {
		os.Exit(0)
	}
	switch args[0] {
	case "exit":
		code, _ := strconv.Atoi(args[1])
		fmt.Fprintln(os.Stderr, "failing on purpose")
		os.Exit(code)
	case "env":
		fmt.Print(os.Getenv(args[1]))
	case "cat":
		_, _ = io.Copy(os.Stdout, os.Stdin)
	case "help":
		fmt.Println("Available subcommands:")
		fmt.Println("    check\n    migrate\n    anonymizedump\n    runserver")
	}
	os.Exit(0)
}

// helperArgs returns the arguments following -test.run, skipping a "--" separator.
func helperArgs(argv []string) []string {
	for i, a := range argv {
		if strings.HasPrefix(a, "-test.run=") {
			rest := argv[i+1:]
			if len(rest) > 0 && rest[0] == "--" {
				rest = rest[1:]
			}
			return rest
		}
	}
	return nil
}

func helperRunner(t *testing.T, stdout io.Writer) *Runner {
	t.Helper()
	base := append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FORGE_SAMPLE=base")
	return NewRunner(base, stdout, io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func helperCmd(args ...string) Cmd {
	return Cmd{Name: os.Args[0], Args: append([]string{"-test.run=TestHelperProcess", "--"}, args...)}
}

func TestRunReportsExitCode(t *testing.T) {
	r := helperRunner(t, io.Discard)

	res, err := r.Run(context.Background(), helperCmd("exit", "3"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	c := helperCmd("exit", "4")
	c.Check = true
	_, err = r.Run(context.Background(), c)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 4, exitErr.Code)
}

func TestRunMissingExecutable(t *testing.T) {
	r := helperRunner(t, io.Discard)
	_, err := r.Run(context.Background(), Cmd{Name: "forge-definitely-missing-binary"})
	require.Error(t, err)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestEnvironOverlayWins(t *testing.T) {
	var out bytes.Buffer
	r := helperRunner(t, &out)
	c := helperCmd("env", "FORGE_SAMPLE")
	c.Env = map[string]string{"FORGE_SAMPLE": "overlay"}
	_, err := r.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "overlay", out.String())

	environ := r.Environ(map[string]string{"FORGE_SAMPLE": "x"})
	count := 0
	for _, kv := range environ {
		if strings.HasPrefix(kv, "FORGE_SAMPLE=") {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestOutputCapturesStdoutAndStdin(t *testing.T) {
	r := helperRunner(t, io.Discard)
	c := helperCmd("cat")
	c.Stdin = strings.NewReader("  b001  \n")
	out, err := r.Output(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "b001", out)

	_, err = r.Output(context.Background(), helperCmd("exit", "1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing on purpose")
}

func TestDjangoHasCommand(t *testing.T) {
	r := helperRunner(t, io.Discard)
	d := Django{Runner: r, Python: os.Args[0], ManagePy: "-test.run=TestHelperProcess", Env: map[string]string{"PYTHONPATH": "/app"}}

	assert.Equal(t, []string{os.Args[0], "-test.run=TestHelperProcess", "check"}, d.Argv("check"))

	ok, err := d.HasCommand(context.Background(), "anonymizedump")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.HasCommand(context.Background(), "anonymize")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDjangoCheckPropagatesExit(t *testing.T) {
	r := helperRunner(t, io.Discard)
	d := Django{Runner: r, Python: os.Args[0], ManagePy: "-test.run=TestHelperProcess"}
	err := d.Check(context.Background())
	require.NoError(t, err, "helper treats unknown verbs as success")

	_, err = d.Manage(context.Background(), true, "exit", "2")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}

func TestDjangoPipeStreamsStdin(t *testing.T) {
	var out bytes.Buffer
	r := helperRunner(t, &out)
	d := Django{Runner: r, Python: os.Args[0], ManagePy: "-test.run=TestHelperProcess"}

	require.NoError(t, d.Pipe(context.Background(), strings.NewReader("PGDMP"), "cat"))
	assert.Equal(t, "PGDMP", out.String())

	err := d.Pipe(context.Background(), strings.NewReader("PGDMP"), "exit", "2")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
}
