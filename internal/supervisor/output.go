package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const systemName = "system"

var palette = []lipgloss.Color{"6", "3", "2", "5", "4", "1", "14", "11", "10", "13", "12", "9"}

// output serialises prefixed lines from every child onto one writer.
type output struct {
	mu       sync.Mutex
	out      io.Writer
	now      func() time.Time
	renderer *lipgloss.Renderer
	width    int
}

func newOutput(out io.Writer, now func() time.Time) *output {
	return &output{out: out, now: now, renderer: lipgloss.NewRenderer(out)}
}

func (o *output) setNames(names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range names {
		if len(n) > o.width {
			o.width = len(n)
		}
	}
}

func (o *output) line(name string, style lipgloss.Style, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prefix := fmt.Sprintf("%s %-*s | ", o.now().Format("15:04:05"), o.width, name)
	fmt.Fprintln(o.out, style.Render(prefix)+text)
}

func (o *output) system(format string, args ...any) {
	o.line(systemName, o.renderer.NewStyle(), fmt.Sprintf(format, args...))
}

func (o *output) writer(name string, index int) *lineWriter {
	return &lineWriter{
		out:   o,
		name:  name,
		style: o.renderer.NewStyle().Foreground(palette[index%len(palette)]),
	}
}

// lineWriter buffers partial lines from one child.
type lineWriter struct {
	mu    sync.Mutex
	out   *output
	name  string
	style lipgloss.Style
	buf   bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.out.line(w.name, w.style, strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.out.line(w.name, w.style, w.buf.String())
	w.buf.Reset()
}
