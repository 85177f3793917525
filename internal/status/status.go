// Package status renders a job's event stream for people: a redrawn
// progress line on terminals, plain lines everywhere else, and a summary
// of the final result.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

const defaultWidth = 80

// Renderer writes human-readable progress for one job. Observe is safe to
// use as an orchestrator subscriber.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	tty     bool
	width   int
	verbose bool

	lineOpen bool    // a progress line is on screen without a newline
	lastStep float64 // last printed step in plain mode
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithVerbose prints every stage item, not just errors and coverage.
func WithVerbose(v bool) Option {
	return func(r *Renderer) { r.verbose = v }
}

// WithTTY forces terminal mode on or off.
func WithTTY(tty bool, width int) Option {
	return func(r *Renderer) {
		r.tty = tty
		if width > 0 {
			r.width = width
		}
	}
}

// NewRenderer creates a Renderer writing to out. Terminal mode is detected
// when out is a terminal.
func NewRenderer(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{out: out, width: defaultWidth, lastStep: -1}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe renders one event.
func (r *Renderer) Observe(ev orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case orchestrator.KindProgress:
		r.progress(ev)
	case orchestrator.KindStageItem:
		if line := r.itemLine(ev); line != "" {
			r.println(line)
		}
	case orchestrator.KindError, orchestrator.KindTerminal:
		r.println(FormatEvent(ev))
	}
}

func (r *Renderer) progress(ev orchestrator.Event) {
	p := ev.Progress
	if p == nil {
		return
	}
	if r.tty {
		line := fmt.Sprintf("[%5.1f%%] %s", p.Percent, ev.Stage)
		if p.Message != "" {
			line += ": " + p.Message
		}
		r.redraw(line)
		return
	}
	// Plain output prints at most one line per 10% step.
	step := float64(int(p.Percent/10) * 10)
	if step <= r.lastStep {
		return
	}
	r.lastStep = step
	fmt.Fprintf(r.out, "progress %3.0f%% (%s)\n", step, ev.Stage)
}

func (r *Renderer) itemLine(ev orchestrator.Event) string {
	it := ev.Item
	if it == nil {
		return ""
	}
	// The overall coverage snapshot is always shown.
	if it.Kind == orchestrator.ItemCoverageSnapshot && it.Ref == "" {
		return FormatEvent(ev)
	}
	if !r.verbose {
		return ""
	}
	return FormatEvent(ev)
}

func (r *Renderer) redraw(line string) {
	if r.width > 1 && len(line) > r.width-1 {
		line = line[:r.width-1]
	}
	fmt.Fprintf(r.out, "\r%-*s", r.width-1, line)
	r.lineOpen = true
}

func (r *Renderer) println(line string) {
	if r.lineOpen {
		fmt.Fprintf(r.out, "\r%s\r", strings.Repeat(" ", r.width-1))
		r.lineOpen = false
	}
	fmt.Fprintln(r.out, line)
}

// FormatEvent renders a non-progress event as a single line.
func FormatEvent(ev orchestrator.Event) string {
	switch ev.Kind {
	case orchestrator.KindProgress:
		if ev.Progress == nil {
			return "progress"
		}
		return fmt.Sprintf("progress %5.1f%% %s", ev.Progress.Percent, ev.Stage)
	case orchestrator.KindStageItem:
		return formatItem(ev.Stage, ev.Item)
	case orchestrator.KindError:
		if ev.Error == nil {
			return fmt.Sprintf("  ! %s", ev.Stage)
		}
		suffix := ""
		if !ev.Error.CanContinue {
			suffix = " (fatal)"
		}
		return fmt.Sprintf("  ! %s: %s%s", ev.Stage, ev.Error.Cause, suffix)
	case orchestrator.KindTerminal:
		return formatTerminal(ev.Terminal)
	default:
		return string(ev.Kind)
	}
}

func formatItem(stage orchestrator.StageID, it *orchestrator.Item) string {
	if it == nil {
		return fmt.Sprintf("  + %s", stage)
	}
	switch {
	case it.Coverage != nil && it.Ref == "":
		c := it.Coverage
		return fmt.Sprintf("coverage %.1f%% (%d/%d units)", c.Percent, c.Covered, c.Total)
	case it.Coverage != nil:
		return fmt.Sprintf("  ~ %s %.1f%%", it.Ref, it.Coverage.Percent)
	case it.Metric != nil:
		m := it.Metric
		if m.Unit != "" {
			return fmt.Sprintf("  # %-22s %g %s", m.Name, m.Value, m.Unit)
		}
		return fmt.Sprintf("  # %-22s %g", m.Name, m.Value)
	default:
		return fmt.Sprintf("  + %-15s %s", it.Kind, it.Ref)
	}
}

func formatTerminal(t *orchestrator.TerminalPayload) string {
	if t == nil {
		return "job finished"
	}
	switch {
	case t.Cause == nil:
		return "job " + string(t.Kind)
	case t.Cause.Stage != "":
		return fmt.Sprintf("job %s: %s: %s", t.Kind, t.Cause.Stage, t.Cause.Message)
	default:
		return fmt.Sprintf("job %s: %s", t.Kind, t.Cause.Message)
	}
}

// PrintSummary writes a per-stage table and the headline figures of res.
func PrintSummary(w io.Writer, res *orchestrator.Result) {
	if res == nil {
		fmt.Fprintln(w, "No result.")
		return
	}
	if res.Partial {
		fmt.Fprintln(w, "Partial result (job cancelled)")
	}
	for _, s := range res.Stages {
		fmt.Fprintf(w, "  %-22s [%s] items=%d errors=%d\n", s.Stage, s.Status, s.Items, s.Errors)
	}
	fmt.Fprintf(w, "Files analyzed:  %d\n", res.FilesAnalyzed)
	fmt.Fprintf(w, "Tests generated: %d\n", res.TestsGenerated)
	if res.Coverage != nil {
		line := fmt.Sprintf("Coverage:        %.1f%% (%d/%d)", res.Coverage.Percent, res.Coverage.Covered, res.Coverage.Total)
		if res.CoverageTarget > 0 {
			verdict := "missed"
			if res.TargetMet {
				verdict = "met"
			}
			line += fmt.Sprintf(", target %.1f%% %s", res.CoverageTarget, verdict)
		}
		fmt.Fprintln(w, line)
	}
	if res.Usage != nil {
		fmt.Fprintf(w, "Usage:           %d in / %d out tokens, $%.4f\n", res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CostUSD)
	}
	fmt.Fprintf(w, "Elapsed:         %s\n", res.Elapsed.Round(time.Millisecond))
	for _, a := range res.Artifacts {
		fmt.Fprintf(w, "  -> %s\n", a)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", e.Stage, e.Message)
	}
}
