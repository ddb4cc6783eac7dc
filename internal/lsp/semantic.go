package lsp

import (
	"github.com/alecthomas/participle/v2/lexer"

	"tracejit/internal/asm"
	"tracejit/internal/ir"
)

// SemanticToken represents a single LSP semantic token entry
// Line and StartChar are 0-based positions
// TokenType is an index into SemanticTokenTypes
// TokenModifiers is a bitmask based on SemanticTokenModifiers
type SemanticToken struct {
	Line           uint32
	StartChar      uint32
	Length         uint32
	TokenType      int
	TokenModifiers int
}

var keywords = map[string]bool{
	"unit": true, "block": true, "sp": true, "prof": true, "next": true,
	"main": true, "exit": true, "catch": true,
	"true": true, "false": true, "null": true,
}

var symbols = asm.Lexer.Symbols()

// lexScript returns the significant tokens of content. Lexing stops at the
// first invalid character; everything before it is still highlighted.
func lexScript(path, content string) []lexer.Token {
	lex, err := asm.Lexer.LexString(path, content)
	if err != nil {
		return nil
	}
	var out []lexer.Token
	for {
		tok, err := lex.Next()
		if err != nil || tok.EOF() {
			return out
		}
		if tok.Type == symbols["Whitespace"] || tok.Type == symbols["Comment"] {
			continue
		}
		out = append(out, tok)
	}
}

func collectSemanticTokens(path, content string) []SemanticToken {
	toks := lexScript(path, content)

	var tokens []SemanticToken
	for i, tok := range toks {
		prev := ""
		if i > 0 {
			prev = toks[i-1].Value
		}

		switch tok.Type {
		case symbols["Value"]:
			mods := 0
			if isDefinition(toks, i) {
				mods = modifierMask("declaration")
			}
			tokens = append(tokens, makeToken(tok, "variable", mods))
		case symbols["Integer"]:
			tokens = append(tokens, makeToken(tok, "number", 0))
		case symbols["Arrow"]:
			tokens = append(tokens, makeToken(tok, "operator", 0))
		case symbols["Ident"]:
			if kind, mods := classifyIdent(tok.Value, prev); kind != "" {
				tokens = append(tokens, makeToken(tok, kind, mods))
			}
		}
	}
	return tokens
}

func classifyIdent(name, prev string) (string, int) {
	switch prev {
	case "block":
		return "namespace", modifierMask("declaration")
	case "->", "next":
		return "namespace", 0
	case ".":
		return "macro", 0
	case "[":
		return "property", 0
	case "call":
		return "function", modifierMask("defaultLibrary")
	}
	if keywords[name] {
		return "keyword", 0
	}
	if _, ok := ir.OpcodeByName(name); ok {
		return "function", 0
	}
	if _, ok := ir.ParseType(name); ok {
		return "type", 0
	}
	return "", 0
}

// isDefinition reports whether the value at i is one of the results listed
// before an "=".
func isDefinition(toks []lexer.Token, i int) bool {
	for j := i + 1; j < len(toks); j++ {
		switch {
		case toks[j].Value == "=":
			return true
		case toks[j].Value == "," || toks[j].Type == symbols["Value"]:
		default:
			return false
		}
	}
	return false
}

// tokenAt returns the significant token covering the 0-based position.
func tokenAt(toks []lexer.Token, line, char uint32) (lexer.Token, bool) {
	for _, tok := range toks {
		if uint32(tok.Pos.Line-1) != line {
			continue
		}
		start := uint32(tok.Pos.Column - 1)
		if char >= start && char < start+uint32(len(tok.Value)) {
			return tok, true
		}
	}
	return lexer.Token{}, false
}

func makeToken(tok lexer.Token, tokenType string, mods int) SemanticToken {
	return SemanticToken{
		Line:           uint32(tok.Pos.Line - 1),   // LSP uses 0-based line numbers
		StartChar:      uint32(tok.Pos.Column - 1), // LSP uses 0-based column numbers
		Length:         uint32(len(tok.Value)),
		TokenType:      tokenTypeIndex(tokenType),
		TokenModifiers: mods,
	}
}

func tokenTypeIndex(name string) int {
	for i, t := range SemanticTokenTypes {
		if t == name {
			return i
		}
	}
	return 0
}

func modifierMask(name string) int {
	for i, m := range SemanticTokenModifiers {
		if m == name {
			return 1 << i
		}
	}
	return 0
}
