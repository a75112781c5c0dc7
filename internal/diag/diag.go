// Package diag defines the diagnostic events produced by the build pipeline
// and by code running in the sandbox.
package diag

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityLog     Severity = "log"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity maps console method names and severity names onto a
// Severity. Unknown values are treated as plain log output.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError
	case "warn", "warning":
		return SeverityWarning
	case "info":
		return SeverityInfo
	default:
		return SeverityLog
	}
}

type Origin string

const (
	// OriginStatic marks diagnostics found before execution (syntax errors,
	// manifest problems). They block document synthesis.
	OriginStatic Origin = "static"
	// OriginDynamic marks diagnostics reported by code running in the sandbox.
	OriginDynamic Origin = "dynamic"
)

// Event is a single diagnostic. Line and Column are 1-based; zero means the
// location is unknown.
type Event struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Column     int      `json:"column,omitempty"`
	Stack      string   `json:"stack,omitempty"`
	Generation uint64   `json:"generation"`
	Origin     Origin   `json:"origin"`
}

func (e Event) HasLocation() bool {
	return e.File != "" && e.Line > 0
}

func (e Event) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	if loc == "" {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, loc, e.Message)
}

// Static builds a static error diagnostic.
func Static(file string, line, column int, format string, args ...any) Event {
	return Event{
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
		File:     file,
		Line:     line,
		Column:   column,
		Origin:   OriginStatic,
	}
}

// HasErrors reports whether any event has error severity.
func HasErrors(events []Event) bool {
	for _, e := range events {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the number of events with the given severity.
func Count(events []Event, sev Severity) int {
	n := 0
	for _, e := range events {
		if e.Severity == sev {
			n++
		}
	}
	return n
}
