// Package output provides rendering for CLI command output.
//
// A Renderer adapts each command's output to where it is going: styled text
// on an interactive terminal, markdown when piped into scripts or agents,
// and json or csv when asked for explicitly. Commands pick the channel once
// via EffectiveMode and render through the shared helpers.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
)

// Mode selects the output format for a renderer.
type Mode string

// Supported output modes.
const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeJSON     Mode = "json"
	ModeMarkdown Mode = "markdown"
	ModeCSV      Mode = "csv"
)

// Renderer writes command output in the configured mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	styles *Styles
}

// NewRenderer creates a renderer, detecting terminal capabilities of out.
// An empty mode behaves like ModeAuto.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	return NewRendererWithTTY(out, errOut, detectTTY(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit TTY state.
// Tests use this to force text or markdown behavior regardless of where
// output actually goes.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  isTTY,
		styles: NewStyles(isTTY),
	}
}

// detectTTY reports whether w is an interactive terminal with color support.
func detectTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	o := termenv.NewOutput(f)
	if o.EnvNoColor() {
		return false
	}
	return o.ColorProfile() != termenv.Ascii
}

// Mode returns the configured output mode.
func (r *Renderer) Mode() Mode {
	return r.mode
}

// EffectiveMode resolves ModeAuto to a concrete mode: text on a terminal,
// markdown everywhere else.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// IsTTY reports whether output goes to an interactive terminal.
func (r *Renderer) IsTTY() bool {
	return r.isTTY
}

// Writer returns the underlying output writer for direct encoding.
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// ErrWriter returns the underlying error writer.
func (r *Renderer) ErrWriter() io.Writer {
	return r.errOut
}

// Styles returns the style set matching the renderer's terminal state.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

// Println writes a line to the output writer.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted output to the output writer.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// JSON writes v as indented JSON to the output writer.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Header writes a styled section header. Level 1 is the page title,
// level 2 a section, deeper levels render bold.
func (r *Renderer) Header(level int, text string) {
	switch level {
	case 1:
		r.Println(r.styles.Header1.Render(text))
	case 2:
		r.Println(r.styles.Header2.Render(text))
	default:
		r.Println(r.styles.Bold.Render(text))
	}
}

// StatusLine writes a status-prefixed line: an icon, the subject, and an
// optional muted detail.
func (r *Renderer) StatusLine(name, status, detail string) {
	var icon string
	switch status {
	case "success", "completed":
		icon = r.styles.StatusSuccess.String()
	case "failed", "error":
		icon = r.styles.StatusFailed.String()
	case "skipped":
		icon = r.styles.StatusSkipped.String()
	default:
		icon = " "
	}

	line := fmt.Sprintf("  %s %s", icon, name)
	if detail != "" {
		line += " " + r.styles.Muted.Render(detail)
	}
	r.Println(line)
}

// Success writes a checkmarked success message.
func (r *Renderer) Success(msg string) {
	r.Printf("%s %s\n", r.styles.StatusSuccess.String(), r.styles.Success.Render(msg))
}

// Warning writes a highlighted warning message.
func (r *Renderer) Warning(msg string) {
	r.Printf("%s %s\n", r.styles.Warning.Render("!"), msg)
}

// Muted writes a de-emphasized message.
func (r *Renderer) Muted(msg string) {
	r.Println(r.styles.Muted.Render(msg))
}

// PipelineLine writes one pipeline entry in an ordered listing: position,
// name, the input it reads, and its upstream dependencies.
func (r *Renderer) PipelineLine(index int, name, input string, deps []string) {
	line := fmt.Sprintf("%3d. %s", index, r.styles.PipelinePath.Render(name))
	if input != "" {
		line += fmt.Sprintf(" [%s]", input)
	}
	if len(deps) > 0 {
		line += " " + r.styles.Muted.Render("<- "+strings.Join(deps, ", "))
	}
	r.Println(line)
}

// Table renders headers and rows in the effective mode: a bordered table
// for text, pipe-delimited rows for markdown, raw lines for csv.
func (r *Renderer) Table(headers []string, rows [][]string) {
	switch r.EffectiveMode() {
	case ModeCSV:
		r.Println(strings.Join(escapeCSVRow(headers), ","))
		for _, row := range rows {
			r.Println(strings.Join(escapeCSVRow(row), ","))
		}
	case ModeMarkdown:
		r.Printf("| %s |\n", strings.Join(headers, " | "))
		seps := make([]string, len(headers))
		for i := range seps {
			seps[i] = "---"
		}
		r.Printf("| %s |\n", strings.Join(seps, " | "))
		for _, row := range rows {
			r.Printf("| %s |\n", strings.Join(row, " | "))
		}
	default:
		t := table.NewWriter()
		t.SetOutputMirror(r.out)
		t.SetStyle(table.StyleLight)
		header := make(table.Row, len(headers))
		for i, h := range headers {
			header[i] = h
		}
		t.AppendHeader(header)
		for _, row := range rows {
			tr := make(table.Row, len(row))
			for i, c := range row {
				tr[i] = c
			}
			t.AppendRow(tr)
		}
		t.Render()
	}
}

func escapeCSVRow(cells []string) []string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		if strings.ContainsAny(c, ",\"\n") {
			c = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
		escaped[i] = c
	}
	return escaped
}
