package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// DiagnosticBuilder provides a fluent interface for creating diagnostics
type DiagnosticBuilder struct {
	err CompilerError
}

// NewDiagnostic creates a new error builder
func NewDiagnostic(code, message string) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		err: CompilerError{
			Level:    Error,
			Code:     code,
			Message:  message,
			Location: Location{Block: NoBlock},
		},
	}
}

// NewWarning creates a new warning builder
func NewWarning(code, message string) *DiagnosticBuilder {
	b := NewDiagnostic(code, message)
	b.err.Level = Warning
	return b
}

// AtBlock records the block being built
func (b *DiagnosticBuilder) AtBlock(id int) *DiagnosticBuilder {
	b.err.Location.Block = id
	return b
}

// AtMarker records the source marker of the offending instruction
func (b *DiagnosticBuilder) AtMarker(marker fmt.Stringer) *DiagnosticBuilder {
	b.err.Location.Marker = marker.String()
	return b
}

// ForOpcode records the opcode involved
func (b *DiagnosticBuilder) ForOpcode(op fmt.Stringer) *DiagnosticBuilder {
	b.err.Location.Opcode = op.String()
	return b
}

// AtLine records a script position
func (b *DiagnosticBuilder) AtLine(line, column int) *DiagnosticBuilder {
	b.err.Location.Line = line
	b.err.Location.Column = column
	return b
}

// WithNote adds a note to the error
func (b *DiagnosticBuilder) WithNote(note string) *DiagnosticBuilder {
	b.err.Notes = append(b.err.Notes, note)
	return b
}

// WithHelp sets the help text
func (b *DiagnosticBuilder) WithHelp(help string) *DiagnosticBuilder {
	b.err.HelpText = help
	return b
}

// Build returns the constructed diagnostic
func (b *DiagnosticBuilder) Build() *CompilerError {
	err := b.err
	return &err
}

// Raise aborts the current unit with the diagnostic. Callers at the unit
// boundary recover it with Recover.
func (b *DiagnosticBuilder) Raise() {
	panic(b.Build())
}

// Recover converts a contract-violation panic into an error stored in *errp.
// Any other panic is re-raised. Use as: defer errors.Recover(&err).
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if ce, ok := r.(*CompilerError); ok {
		*errp = ce
		return
	}
	panic(r)
}

// As reports whether err, or the cause it wraps, is a *CompilerError.
func As(err error) (*CompilerError, bool) {
	ce, ok := pkgerrors.Cause(err).(*CompilerError)
	return ce, ok
}
