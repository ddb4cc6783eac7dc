package asm

import (
	"os"

	"github.com/alecthomas/participle/v2"
	pkgerrors "github.com/pkg/errors"

	"tracejit/internal/errors"
)

var parser = participle.MustBuild[Script](
	participle.Lexer(Lexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(3),
)

// Parse parses an IR script. Syntax errors are returned as
// *errors.CompilerError carrying the line and column.
func Parse(filename string, src []byte) (*Script, error) {
	script, err := parser.ParseBytes(filename, src)
	if err != nil {
		var pe participle.Error
		if pkgerrors.As(err, &pe) {
			pos := pe.Position()
			return nil, errors.NewDiagnostic(errors.ErrorScriptSyntax, pe.Message()).
				AtLine(pos.Line, pos.Column).Build()
		}
		return nil, errors.NewDiagnostic(errors.ErrorScriptSyntax, err.Error()).Build()
	}
	return script, nil
}

// ParseFile reads and parses the script at path.
func ParseFile(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read script %s", path)
	}
	return Parse(path, src)
}
