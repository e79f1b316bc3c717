// Package output renders command results as tables, markdown, JSON or YAML
// depending on the configured mode and whether stdout is a terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// OutputMode selects how results are written.
type OutputMode string

// Output modes.
const (
	ModeAuto     OutputMode = "auto"
	ModeText     OutputMode = "text"
	ModeMarkdown OutputMode = "markdown"
	ModeJSON     OutputMode = "json"
	ModeYAML     OutputMode = "yaml"
)

// Mode parses an output format, defaulting to auto.
func Mode(s string) OutputMode {
	switch OutputMode(s) {
	case ModeText, ModeMarkdown, ModeJSON, ModeYAML:
		return OutputMode(s)
	default:
		return ModeAuto
	}
}

// Renderer writes results to a pair of streams.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   OutputMode
	isTTY  bool
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return NewRendererWithTTY(out, errOut, tty, mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	return &Renderer{out: out, errOut: errOut, mode: mode, isTTY: isTTY}
}

// Out returns the result stream.
func (r *Renderer) Out() io.Writer { return r.out }

// Effective resolves auto: terminals get text, pipes get markdown.
func (r *Renderer) Effective() OutputMode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// Structured reports whether results should be encoded rather than drawn.
func (r *Renderer) Structured() bool {
	m := r.Effective()
	return m == ModeJSON || m == ModeYAML
}

// Table draws rows under headers. Structured modes encode data instead, so
// callers pass the machine-readable form alongside the cells.
func (r *Renderer) Table(headers []string, rows [][]string, data any) error {
	switch r.Effective() {
	case ModeJSON, ModeYAML:
		return r.Encode(data)
	}

	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.out, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, row := range rows {
		cells := make(table.Row, len(row))
		for i, c := range row {
			cells[i] = c
		}
		t.AppendRow(cells)
	}

	if r.Effective() == ModeMarkdown {
		t.RenderMarkdown()
		return nil
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

// Encode writes v as JSON, or as YAML in yaml mode.
func (r *Renderer) Encode(v any) error {
	return Write(r.out, r.Effective(), v)
}

// Write encodes v to w. Modes other than yaml produce indented JSON.
func Write(w io.Writer, mode OutputMode, v any) error {
	if mode == ModeYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Println writes a line of text to the result stream.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Warn writes a line to the error stream.
func (r *Renderer) Warn(format string, a ...any) {
	_, _ = fmt.Fprintf(r.errOut, format+"\n", a...)
}
