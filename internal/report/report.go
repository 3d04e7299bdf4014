// Package report formats pipeline outcomes as one-line status messages.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/wpm/altwatch/internal/pipeline"
)

// Line returns the status line for the outcome of processing path.
// A nil outcome is reported as UNKNOWN.
func Line(path string, o *pipeline.Outcome) string {
	tag, msg := parts(path, o)
	return fmt.Sprintf("[%s] %s", tag, msg)
}

func parts(path string, o *pipeline.Outcome) (string, string) {
	base := filepath.Base(path)
	if o == nil {
		return "UNKNOWN", fmt.Sprintf("%s: Refer to logs for more details.", base)
	}

	status := strings.ToUpper(string(o.Status))
	if status == "" {
		status = "UNKNOWN"
	}

	switch o.Status {
	case pipeline.StatusManual:
		return status, fmt.Sprintf("%s: %s", base, orDefault(o.Notes, "Prompt ready for manual processing."))
	case pipeline.StatusOK:
		return status, fmt.Sprintf("%s: Alt text logged to %s.", base, orDefault(o.DocPath, "unknown location"))
	default:
		return status, fmt.Sprintf("%s: %s", base, orDefault(o.Notes, "Refer to logs for more details."))
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Reporter writes status lines to an output stream.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	styled bool
	styles map[pipeline.Status]lipgloss.Style
	other  lipgloss.Style
}

// New creates a Reporter writing to out. Tags are coloured when out is a
// terminal that supports colour.
func New(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}

	styled := false
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		styled = termenv.NewOutput(f).Profile != termenv.Ascii
	}

	return &Reporter{
		out:    out,
		styled: styled,
		styles: map[pipeline.Status]lipgloss.Style{
			pipeline.StatusOK:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			pipeline.StatusManual: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
			pipeline.StatusError:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		},
		other: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
	}
}

// Report writes the status line for the outcome of processing path.
func (r *Reporter) Report(path string, o *pipeline.Outcome) {
	tag, msg := parts(path, o)

	label := "[" + tag + "]"
	if r.styled {
		style := r.other
		if o != nil {
			if s, ok := r.styles[o.Status]; ok {
				style = s
			}
		}
		label = style.Render(label)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", label, msg)
}
