// Package ui renders the colored, labeled status lines and prompts that forge
// shows to the operator. Structured diagnostics go through slog instead.
package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ErrNotInteractive is returned by prompts when stdin is not a terminal.
var ErrNotInteractive = errors.New("ui: confirmation required but stdin is not a terminal")

// UI writes styled output and reads answers from the operator.
type UI struct {
	out         io.Writer
	errOut      io.Writer
	in          *bufio.Reader
	interactive bool

	bold    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

// New constructs a UI. Colors follow the capabilities of out.
func New(out, errOut io.Writer, in io.Reader) *UI {
	r := lipgloss.NewRenderer(out)
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &UI{
		out:         out,
		errOut:      errOut,
		in:          bufio.NewReader(in),
		interactive: interactive,
		bold:        r.NewStyle().Bold(true),
		success:     r.NewStyle().Foreground(lipgloss.Color("2")),
		warning:     r.NewStyle().Foreground(lipgloss.Color("3")),
		failure:     r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// SetInteractive overrides terminal detection.
func (u *UI) SetInteractive(v bool) {
	u.interactive = v
}

// Step announces the start of a pipeline step.
func (u *UI) Step(format string, args ...any) {
	fmt.Fprintln(u.out, u.bold.Render(fmt.Sprintf(format, args...)))
}

// Success reports a completed operation.
func (u *UI) Success(format string, args ...any) {
	fmt.Fprintln(u.out, u.success.Render(fmt.Sprintf(format, args...)))
}

// Warn reports a notice the operator should read.
func (u *UI) Warn(format string, args ...any) {
	fmt.Fprintln(u.out, u.warning.Render(fmt.Sprintf(format, args...)))
}

// Error reports a fatal condition on the error stream.
func (u *UI) Error(format string, args ...any) {
	fmt.Fprintln(u.errOut, u.failure.Render(fmt.Sprintf(format, args...)))
}

// Println writes an unstyled line.
func (u *UI) Println(args ...any) {
	fmt.Fprintln(u.out, args...)
}

// Emphasis returns s rendered bold, for use inside other messages.
func (u *UI) Emphasis(s string) string {
	return u.bold.Render(s)
}

// Confirm asks a yes/no question, defaulting to no.
func (u *UI) Confirm(question string) (bool, error) {
	if !u.interactive {
		return false, ErrNotInteractive
	}
	fmt.Fprintf(u.out, "%s [y/N]: ", question)
	line, err := u.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Prompt asks for free text, returning def when the answer is empty.
func (u *UI) Prompt(question, def string) (string, error) {
	if !u.interactive {
		return "", ErrNotInteractive
	}
	if def != "" {
		fmt.Fprintf(u.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(u.out, "%s: ", question)
	}
	line, err := u.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read answer: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}
