package asm

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Lexer tokenizes IR scripts.
var Lexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Comment", Pattern: `//[^\n]*`, Action: nil},

		// Block parameters and instruction results
		{Name: "Value", Pattern: `%[a-zA-Z0-9_]+`, Action: nil},

		// Keywords, opcodes, type and block names
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`, Action: nil},

		{Name: "Arrow", Pattern: `->`, Action: nil},

		{Name: "Integer", Pattern: `-?(0x[0-9a-fA-F]+|[0-9]+)`, Action: nil},

		{Name: "Punctuation", Pattern: `[{}\[\]()<>=,|@:.]`, Action: nil},

		{Name: "Whitespace", Pattern: `[ \t\r\n]+`, Action: nil},
	},
})
