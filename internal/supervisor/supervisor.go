// Package supervisor runs the local development processes side by side,
// multiplexing their output and stopping the session when one of them fails.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/forgepackages/forge/internal/toolchain"
)

// DefaultKillTimeout is how long a child gets to exit after an interrupt
// before it is killed.
const DefaultKillTimeout = 5 * time.Second

// InterruptedExitCode is returned when the session is interrupted without any
// process having failed.
const InterruptedExitCode = 130

// Process is one supervised child. Steps run in order; a failing step ends
// the process with that step's exit code.
type Process struct {
	Name  string
	Steps [][]string
	Env   map[string]string
	Dir   string
}

// Supervisor owns a set of processes for one session.
type Supervisor struct {
	KillTimeout time.Duration

	log     *slog.Logger
	out     *output
	env     *toolchain.Runner
	procs   []Process
	started bool
}

// New returns a Supervisor writing prefixed output to out. Children inherit
// base (KEY=VALUE pairs) overlaid with each process's Env.
func New(out io.Writer, base []string, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		KillTimeout: DefaultKillTimeout,
		log:         log,
		out:         newOutput(out, time.Now),
		env:         toolchain.NewRunner(base, nil, nil, log),
	}
}

// Add registers a process. Names must be unique within the session.
func (s *Supervisor) Add(p Process) error {
	if s.started {
		return errors.New("supervisor already running")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("process name cannot be empty")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("process %s has no command", p.Name)
	}
	for _, step := range p.Steps {
		if len(step) == 0 {
			return fmt.Errorf("process %s has an empty step", p.Name)
		}
	}
	for _, existing := range s.procs {
		if existing.Name == p.Name {
			return fmt.Errorf("process %s already added", p.Name)
		}
	}
	s.procs = append(s.procs, p)
	return nil
}

// Run starts every process and blocks until all have exited. The first
// process to exit non-zero stops the others, and its exit code is returned.
// Cancelling ctx stops everything and yields InterruptedExitCode.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	if len(s.procs) == 0 {
		return 0, errors.New("no processes to run")
	}
	s.started = true
	log := s.log.With("session", uuid.NewString())

	names := make([]string, 0, len(s.procs)+1)
	for _, p := range s.procs {
		names = append(names, p.Name)
	}
	s.out.setNames(append(names, systemName))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.procs {
		g.Go(func() error {
			code, err := s.runProcess(gctx, i, p)
			if err != nil {
				return err
			}
			if code != 0 && gctx.Err() == nil {
				log.Info("process failed", "process", p.Name, "exit_code", code)
				return &toolchain.ExitError{Command: p.Name, Code: code}
			}
			return nil
		})
	}

	err := g.Wait()
	var exitErr *toolchain.ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code, nil
	case err != nil:
		return 1, err
	case ctx.Err() != nil:
		return InterruptedExitCode, nil
	default:
		return 0, nil
	}
}

func (s *Supervisor) runProcess(ctx context.Context, index int, p Process) (int, error) {
	w := s.out.writer(p.Name, index)
	defer w.flush()

	for _, step := range p.Steps {
		if ctx.Err() != nil {
			return 0, nil
		}
		cmd := exec.CommandContext(ctx, step[0], step[1:]...)
		cmd.Env = s.env.Environ(p.Env)
		cmd.Dir = p.Dir
		cmd.Stdout = w
		cmd.Stderr = w
		setProcessGroup(cmd)
		var killTimer *time.Timer
		cmd.Cancel = func() error {
			killTimer = time.AfterFunc(s.KillTimeout, func() {
				if err := killGroup(cmd); err != nil {
					s.log.Debug("kill process group", "process", p.Name, "error", err)
				}
			})
			return interruptGroup(cmd)
		}
		// The group kill fires first; WaitDelay only releases our pipes.
		cmd.WaitDelay = s.KillTimeout + time.Second

		if err := cmd.Start(); err != nil {
			s.out.system("%s failed to start: %v", p.Name, err)
			return 0, fmt.Errorf("start %s: %w", p.Name, err)
		}
		s.out.system("%s started (pid=%d)", p.Name, cmd.Process.Pid)

		err := cmd.Wait()
		if killTimer != nil {
			// Stragglers that outlived the group leader.
			killTimer.Stop()
			if err := killGroup(cmd); err != nil {
				s.log.Debug("kill process group", "process", p.Name, "error", err)
			}
		}
		w.flush()
		code := exitCode(err)
		s.out.system("%s stopped (rc=%d)", p.Name, code)
		if err != nil && code == 0 {
			return 0, fmt.Errorf("wait %s: %w", p.Name, err)
		}
		if code != 0 {
			return code, nil
		}
	}
	return 0, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Terminated by a signal.
		return 1
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	return 1
}
