package lsp

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"tracejit/internal/asm"
	"tracejit/internal/config"
	"tracejit/internal/errors"
	"tracejit/internal/ir"
)

const diagnosticSource = "tracejit"

// Analysis is the outcome of building one script for the editor.
type Analysis struct {
	Script      *asm.Script
	Result      *asm.Result
	Diagnostics []protocol.Diagnostic
}

// Analyze parses and replays content and collects every diagnostic: the
// syntax error, a contract violation that stopped the build, warnings, and
// checker failures of the finished unit. Diagnostics is nil for a clean
// script.
func Analyze(path, content string, opts config.Options) *Analysis {
	a := &Analysis{}

	script, err := asm.Parse(path, []byte(content))
	if err != nil {
		a.Diagnostics = ConvertErrors([]error{err}, 1)
		return a
	}
	a.Script = script
	unitLine := script.Unit.Pos.Line

	res, err := asm.Replay(script, opts)
	if err != nil {
		a.Diagnostics = ConvertErrors([]error{err}, unitLine)
		return a
	}
	a.Result = res

	for _, w := range res.Warnings {
		a.Diagnostics = append(a.Diagnostics, ConvertError(w, unitLine))
	}

	blockLines := make(map[int]int)
	for _, sb := range script.Unit.Blocks {
		if blk, ok := res.Blocks[sb.Name]; ok {
			blockLines[blk.ID()] = sb.Pos.Line
		}
	}
	for _, err := range ir.Check(res.Unit) {
		line := unitLine
		if ce, ok := errors.As(err); ok {
			if l, ok := blockLines[ce.Location.Block]; ok {
				line = l
			}
		}
		a.Diagnostics = append(a.Diagnostics, ConvertError(err, line))
	}
	return a
}

// ConvertErrors transforms build errors into LSP diagnostics. Errors that
// carry no line are reported on fallbackLine.
func ConvertErrors(errs []error, fallbackLine int) []protocol.Diagnostic {
	var diagnostics []protocol.Diagnostic
	for _, err := range errs {
		diagnostics = append(diagnostics, ConvertError(err, fallbackLine))
	}
	return diagnostics
}

// ConvertError transforms a single error into an LSP diagnostic.
func ConvertError(err error, fallbackLine int) protocol.Diagnostic {
	ce, ok := errors.As(err)
	if !ok {
		return protocol.Diagnostic{
			Range:    lineRange(fallbackLine, 1),
			Severity: ptrSeverity(protocol.DiagnosticSeverityError),
			Source:   ptrString(diagnosticSource),
			Message:  err.Error(),
		}
	}

	line, column := ce.Location.Line, ce.Location.Column
	if line <= 0 {
		line, column = fallbackLine, 1
	}

	severity := protocol.DiagnosticSeverityError
	if ce.Level == errors.Warning {
		severity = protocol.DiagnosticSeverityWarning
	}

	message := ce.Message
	for _, note := range ce.Notes {
		message += "\nnote: " + note
	}
	if ce.HelpText != "" {
		message += "\nhelp: " + ce.HelpText
	}

	return protocol.Diagnostic{
		Range:    lineRange(line, column),
		Severity: ptrSeverity(severity),
		Code:     &protocol.IntegerOrString{Value: ce.Code},
		Source:   ptrString(diagnosticSource),
		Message:  message,
	}
}

// lineRange spans from a 1-based line and column to the end of the line.
func lineRange(line, column int) protocol.Range {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}
	return protocol.Range{
		Start: protocol.Position{Line: uint32(line - 1), Character: uint32(column - 1)},
		End:   protocol.Position{Line: uint32(line), Character: 0},
	}
}

func ptrSeverity(s protocol.DiagnosticSeverity) *protocol.DiagnosticSeverity {
	return &s
}

func ptrString(s string) *string {
	return &s
}
