package commands

import (
	"fmt"
	"io"

	"playground/internal/diag"
	"playground/internal/safeio"

	"github.com/fatih/color"
)

var (
	headerColor  = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	infoColor    = color.New(color.FgCyan)
	pathColor    = color.New(color.Faint)
)

func severityColor(sev diag.Severity) *color.Color {
	switch sev {
	case diag.SeverityError:
		return errorColor
	case diag.SeverityWarning:
		return warningColor
	case diag.SeverityInfo:
		return infoColor
	default:
		return nil
	}
}

func printDiagnostics(w io.Writer, events []diag.Event) {
	for _, e := range events {
		line := e.String()
		if c := severityColor(e.Severity); c != nil {
			c.Fprintln(w, line)
		} else {
			fmt.Fprintln(w, line)
		}
	}
}

func printSkipped(w io.Writer, skipped []safeio.Skipped) {
	for _, s := range skipped {
		pathColor.Fprintf(w, "skipped %s: %s\n", s.Path, s.Reason)
	}
}

func printSummary(w io.Writer, events []diag.Event) {
	errs := diag.Count(events, diag.SeverityError)
	warns := diag.Count(events, diag.SeverityWarning)
	if errs == 0 && warns == 0 {
		successColor.Fprintln(w, "no problems found")
		return
	}
	c := warningColor
	if errs > 0 {
		c = errorColor
	}
	c.Fprintf(w, "%d error(s), %d warning(s)\n", errs, warns)
}
