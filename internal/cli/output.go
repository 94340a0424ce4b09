package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"spot-hedger/internal/models"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{
		writer:       w,
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(w),
	}
}

// isTerminal checks if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// ColorEnabled reports whether output is coloured.
func (o *Output) ColorEnabled() bool {
	return o.colorEnabled
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.writer
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(color.New(color.Faint), format, args...)
}

func (o *Output) colored(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(c, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(c *color.Color, text string) string {
	if o.colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(text)
}

// Red returns red text.
func (o *Output) Red(text string) string {
	return o.paint(color.New(color.FgRed), text)
}

// Green returns green text.
func (o *Output) Green(text string) string {
	return o.paint(color.New(color.FgGreen), text)
}

// Yellow returns yellow text.
func (o *Output) Yellow(text string) string {
	return o.paint(color.New(color.FgYellow), text)
}

// Urgency returns an urgency label coloured by how pressing it is.
func (o *Output) Urgency(u models.Urgency) string {
	switch u {
	case models.UrgencyCritical:
		return o.paint(color.New(color.FgRed, color.Bold), u.String())
	case models.UrgencyHigh:
		return o.Red(u.String())
	case models.UrgencyMedium:
		return o.Yellow(u.String())
	}
	return u.String()
}

// Signed colours a value by sign.
func (o *Output) Signed(value float64, text string) string {
	switch {
	case value > 0:
		return o.Green(text)
	case value < 0:
		return o.Red(text)
	}
	return text
}

// Table buffers rows and prints them as aligned columns. Columns whose
// cells are all numbers (money, percentages, Greeks) are right-aligned.
type Table struct {
	output  *Output
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{output: output, headers: headers}
}

// AddRow adds a row; cells beyond the header count are ignored.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

type column struct {
	width   int
	numeric bool
}

func (t *Table) layout() []column {
	cols := make([]column, len(t.headers))
	for i, h := range t.headers {
		cols[i] = column{width: visibleLen(h), numeric: len(t.rows) > 0}
	}
	for _, row := range t.rows {
		for i := range cols {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if w := visibleLen(cell); w > cols[i].width {
				cols[i].width = w
			}
			if cell != "" && !numericCell(cell) {
				cols[i].numeric = false
			}
		}
	}
	return cols
}

// Render writes the header, a rule and every row.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	cols := t.layout()

	bold := color.New(color.Bold)
	head := make([]string, len(cols))
	rule := make([]string, len(cols))
	for i, c := range cols {
		head[i] = t.output.paint(bold, align(t.headers[i], c))
		rule[i] = strings.Repeat("─", c.width)
	}
	t.writeLine(head)
	t.output.Println(t.output.paint(color.New(color.Faint), strings.Join(rule, "──")))

	for _, row := range t.rows {
		line := make([]string, len(cols))
		for i, c := range cols {
			if i < len(row) {
				line[i] = align(row[i], c)
			} else {
				line[i] = strings.Repeat(" ", c.width)
			}
		}
		t.writeLine(line)
	}
}

func (t *Table) writeLine(cells []string) {
	t.output.Println(strings.TrimRight(strings.Join(cells, "  "), " "))
}

func align(cell string, c column) string {
	pad := c.width - visibleLen(cell)
	if pad <= 0 {
		return cell
	}
	if c.numeric {
		return strings.Repeat(" ", pad) + cell
	}
	return cell + strings.Repeat(" ", pad)
}

// numericCell reports whether cell reads as a number once currency signs,
// grouping and percent are removed.
func numericCell(cell string) bool {
	plain := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', '%', '+':
			return -1
		}
		return r
	}, stripANSI(cell))
	_, err := strconv.ParseFloat(strings.TrimSpace(plain), 64)
	return err == nil
}

func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// visibleLen is the printed width of s, ignoring ANSI escapes.
func visibleLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}
