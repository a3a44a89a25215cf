package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test; the supervisor tests re-exec the test
// binary to obtain children with controllable behavior.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	switch args[0] {
	case "echo":
		for _, a := range args[1:] {
			fmt.Println(a)
		}
		os.Exit(0)
	case "partial":
		fmt.Print("no trailing newline")
		os.Exit(0)
	case "exit":
		code, _ := strconv.Atoi(args[1])
		fmt.Fprintln(os.Stderr, "exiting with", code)
		os.Exit(code)
	case "env":
		fmt.Println(os.Getenv(args[1]))
		os.Exit(0)
	case "spawn":
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		child := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", "sleep")
		if err := child.Start(); err != nil {
			os.Exit(3)
		}
		fmt.Println("spawned", child.Process.Pid)
		<-c
		_ = child.Wait()
		fmt.Println("grandchild exited")
		os.Exit(0)
	case "sleep":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "wait":
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		fmt.Println("waiting")
		select {
		case <-c:
			fmt.Println("interrupted")
			os.Exit(0)
		case <-time.After(30 * time.Second):
			os.Exit(9)
		}
	}
	os.Exit(2)
}

func helper(args ...string) []string {
	return append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSupervisor(out io.Writer) *Supervisor {
	base := append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FORGE_SAMPLE=base")
	s := New(out, base, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.KillTimeout = 2 * time.Second
	return s
}

func TestRunAllSucceed(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "web", Steps: [][]string{helper("echo", "hello")}}))
	require.NoError(t, s.Add(Process{Name: "tailwind", Steps: [][]string{helper("partial")}}))

	code, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	text := out.String()
	assert.Regexp(t, regexp.MustCompile(`(?m)^\d\d:\d\d:\d\d web      \| hello$`), text)
	assert.Regexp(t, regexp.MustCompile(`(?m)^\d\d:\d\d:\d\d tailwind \| no trailing newline$`), text)
	assert.Regexp(t, regexp.MustCompile(`(?m)^\d\d:\d\d:\d\d system   \| web stopped \(rc=0\)$`), text)
}

func TestFailureStopsOtherProcesses(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "postgres", Steps: [][]string{helper("wait")}}))
	require.NoError(t, s.Add(Process{Name: "django", Steps: [][]string{helper("echo", "booting"), helper("exit", "3")}}))

	start := time.Now()
	code, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Less(t, time.Since(start), 20*time.Second, "waiting child was stopped, not left to time out")
	assert.Contains(t, out.String(), "django stopped (rc=3)")
	assert.Contains(t, out.String(), "postgres stopped")
}

func TestSuccessfulExitDoesNotStopOthers(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "quick", Steps: [][]string{helper("echo", "done")}}))
	require.NoError(t, s.Add(Process{Name: "slow", Steps: [][]string{helper("echo", "first"), helper("echo", "second")}}))

	code, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "| second")
}

func TestFailingStepSkipsRemainingSteps(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "django", Steps: [][]string{
		helper("echo", "migrating"),
		helper("exit", "4"),
		helper("echo", "never"),
	}}))

	code, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.Contains(t, out.String(), "exiting with 4")
	assert.NotContains(t, out.String(), "never")
}

func TestInterruptReturns130(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "postgres", Steps: [][]string{helper("wait")}}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool {
			return regexp.MustCompile(`postgres \| waiting`).MatchString(out.String())
		}, 10*time.Second, 10*time.Millisecond)
		cancel()
	}()

	code, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, InterruptedExitCode, code)
	assert.Contains(t, out.String(), "interrupted")
}

func TestProcessEnvOverlay(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "a", Steps: [][]string{helper("env", "FORGE_SAMPLE")}, Env: map[string]string{"FORGE_SAMPLE": "overlay"}}))
	require.NoError(t, s.Add(Process{Name: "b", Steps: [][]string{helper("env", "FORGE_SAMPLE")}}))

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, `(?m)a +\| overlay$`, out.String())
	assert.Regexp(t, `(?m)b +\| base$`, out.String())
}

func TestAddValidation(t *testing.T) {
	s := newSupervisor(io.Discard)
	require.NoError(t, s.Add(Process{Name: "django", Steps: [][]string{{"true"}}}))
	assert.Error(t, s.Add(Process{Name: "django", Steps: [][]string{{"true"}}}))
	assert.Error(t, s.Add(Process{Name: "", Steps: [][]string{{"true"}}}))
	assert.Error(t, s.Add(Process{Name: "empty"}))
	assert.Error(t, s.Add(Process{Name: "blank", Steps: [][]string{{}}}))
}

func TestStartFailureIsAnError(t *testing.T) {
	s := newSupervisor(io.Discard)
	require.NoError(t, s.Add(Process{Name: "ngrok", Steps: [][]string{{"forge-test-missing-binary"}}}))
	code, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, code)
}
