// Package output renders command results either as tab-aligned human
// text or as indented JSON. Command handlers pick the renderer with For;
// handlers that print a Table in human mode and a different value in
// JSON mode branch on the output mode themselves.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// Renderer writes a command result to w. Result is whatever shape a
// command handler produced: a struct, a slice of rows, or a plain
// string are all valid; it is marshaled with encoding/json in JSON mode
// and type-switched in human mode by callers that know the concrete
// shape (see Table for the common case).
type Renderer interface {
	Render(w io.Writer, result any) error
}

// JSONRenderer writes result as indent-2 JSON followed by a newline.
type JSONRenderer struct{}

func (JSONRenderer) Render(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// HumanRenderer writes result using its fmt.Stringer implementation if
// it has one, falling back to "%v\n" otherwise. Table results should
// implement Stringer themselves via Table.String.
type HumanRenderer struct{}

func (HumanRenderer) Render(w io.Writer, result any) error {
	if s, ok := result.(fmt.Stringer); ok {
		_, err := fmt.Fprintln(w, s.String())
		return err
	}
	_, err := fmt.Fprintf(w, "%v\n", result)
	return err
}

// For selects the renderer for a --json flag value.
func For(jsonMode bool) Renderer {
	if jsonMode {
		return JSONRenderer{}
	}
	return HumanRenderer{}
}

// Table is a tab-aligned row renderer for human mode: Headers, then one
// row per Rows entry, columns separated by a tab and aligned via
// text/tabwriter the way the reference stack's own `ls` commands format
// output.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (t Table) String() string {
	var buf []byte
	w := tabwriter.NewWriter(sliceWriter{&buf}, 0, 4, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(w, joinTab(t.Headers))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(w, joinTab(row))
	}
	_ = w.Flush()
	out := string(buf)
	return trimTrailingNewline(out)
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s[:len(s)-1]
	}
	return s
}

func joinTab(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "\t"
		}
		out += c
	}
	return out
}

type sliceWriter struct{ buf *[]byte }

func (s sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}
