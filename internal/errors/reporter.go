package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel represents the severity of an error
type ErrorLevel string

const (
	Error   ErrorLevel = "error"
	Warning ErrorLevel = "warning"
	Note    ErrorLevel = "note"
	Help    ErrorLevel = "help"
)

// Location ties a diagnostic to the IR: the instruction's source marker, the
// block being built and the opcode involved. Script-level diagnostics carry a
// line and column instead.
type Location struct {
	Marker string
	Block  int // -1 when unknown
	Opcode string
	Line   int
	Column int
}

// NoBlock is the Location.Block value for diagnostics outside any block.
const NoBlock = -1

// CompilerError represents a structured diagnostic. Contract violations are
// raised as *CompilerError panics and recovered at the unit boundary.
type CompilerError struct {
	Level    ErrorLevel
	Code     string
	Message  string
	Location Location
	Notes    []string
	HelpText string
}

func (e *CompilerError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s[%s]: %s", e.Level, e.Code, e.Message)
	if loc := e.Location.describe(); loc != "" {
		sb.WriteString(" (")
		sb.WriteString(loc)
		sb.WriteString(")")
	}
	return sb.String()
}

func (l Location) describe() string {
	var parts []string
	if l.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d:%d", l.Line, l.Column))
	}
	if l.Opcode != "" {
		parts = append(parts, "op "+l.Opcode)
	}
	if l.Block >= 0 {
		parts = append(parts, fmt.Sprintf("block B%d", l.Block))
	}
	if l.Marker != "" {
		parts = append(parts, "at "+l.Marker)
	}
	return strings.Join(parts, ", ")
}

// ErrorReporter renders diagnostics for a terminal
type ErrorReporter struct {
	unit string
}

// NewErrorReporter creates a reporter for diagnostics of the named unit
func NewErrorReporter(unit string) *ErrorReporter {
	return &ErrorReporter{unit: unit}
}

// FormatError formats a diagnostic with rustc-like styling
func (er *ErrorReporter) FormatError(err *CompilerError) string {
	var result strings.Builder

	levelColor := er.getLevelColor(err.Level)
	dim := color.New(color.Faint).SprintFunc()

	if err.Code != "" {
		result.WriteString(fmt.Sprintf("%s[%s]: %s\n",
			levelColor(string(err.Level)), err.Code, err.Message))
	} else {
		result.WriteString(fmt.Sprintf("%s: %s\n",
			levelColor(string(err.Level)), err.Message))
	}

	indent := "   "
	location := er.unit
	if loc := err.Location.describe(); loc != "" {
		location = fmt.Sprintf("%s: %s", er.unit, loc)
	}
	result.WriteString(fmt.Sprintf("%s %s %s\n", indent, dim("-->"), location))

	for _, note := range err.Notes {
		noteColor := color.New(color.FgBlue).SprintFunc()
		result.WriteString(fmt.Sprintf("%s %s %s %s\n",
			indent, dim("│"), noteColor("note:"), note))
	}

	if err.HelpText != "" {
		helpColor := color.New(color.FgGreen).SprintFunc()
		result.WriteString(fmt.Sprintf("%s %s %s %s\n",
			indent, dim("│"), helpColor("help:"), err.HelpText))
	}

	result.WriteString("\n")
	return result.String()
}

// getLevelColor returns the appropriate color function for an error level
func (er *ErrorReporter) getLevelColor(level ErrorLevel) func(...interface{}) string {
	switch level {
	case Error:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	case Help:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}
