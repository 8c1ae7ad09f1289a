// Package output renders CLI messages and tables.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI writes prefixed, colored messages. Info and Success go to Out;
// warnings and errors go to ErrOut.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout and stderr.
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	blue   = color.New(color.FgHiBlue).SprintFunc()
)

var (
	infoPrefix    = blue("i")
	successPrefix = green("✓")
	warningPrefix = yellow("⚠")
	errorPrefix   = red("✗")
	verbosePrefix = blue("  →")
)

func Cyan(s string) string   { return cyan(s) }
func Green(s string) string  { return green(s) }
func Yellow(s string) string { return yellow(s) }
func Red(s string) string    { return red(s) }

// StatusColor colors a claim status: green for published or merged work,
// yellow while a claim is in flight, red for failures.
func StatusColor(status string) string {
	switch status {
	case "open", "merged", "success":
		return green(status)
	case "pending", "in_progress", "testing", "retrying":
		return yellow(status)
	case "closed":
		return cyan(status)
	case "failed", "abandoned":
		return red(status)
	}
	return status
}

// SeverityColor formats a 0-1 severity, red for the worst findings.
func SeverityColor(severity float64) string {
	s := fmt.Sprintf("%.2f", severity)
	switch {
	case severity >= 0.7:
		return red(s)
	case severity >= 0.4:
		return yellow(s)
	}
	return s
}

// HealthColor colors a 0-100 debt score.
func HealthColor(score int) string {
	s := fmt.Sprintf("%d", score)
	switch {
	case score >= 80:
		return green(s)
	case score >= 50:
		return yellow(s)
	}
	return red(s)
}

func emit(w io.Writer, prefix, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { emit(u.Out, infoPrefix, format, a) }
func (u *UI) Success(format string, a ...any) { emit(u.Out, successPrefix, format, a) }
func (u *UI) Warning(format string, a ...any) { emit(u.ErrOut, warningPrefix, format, a) }
func (u *UI) Error(format string, a ...any)   { emit(u.ErrOut, errorPrefix, format, a) }

// VerboseLog prints only with --verbose.
func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		emit(u.Out, verbosePrefix, format, a)
	}
}

// DryRunMsg warns about a skipped side effect, only with --dry-run.
func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table returns a borderless, left-aligned table writing to Out.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
