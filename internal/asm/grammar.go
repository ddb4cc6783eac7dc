package asm

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Script is one IR script. It describes a single unit:
//
//	unit 1 @ 0 sp 0 {
//	  block entry {
//	    CheckLoc<Int>[loc 0]
//	    %x = LdLoc[loc 0]
//	    Jmp(%x) -> loop
//	  }
//	  block loop @ 4 prof 10 next exit { ... }
//	}
type Script struct {
	Pos  lexer.Position
	Unit *Unit `@@`
}

type Unit struct {
	Pos    lexer.Position
	Func   int64    `"unit" @Integer`
	Offset int64    `"@" @Integer`
	Sp     int64    `[ "sp" @Integer ]`
	Blocks []*Block `"{" @@+ "}"`
}

type Block struct {
	Pos        lexer.Position
	Name       string       `"block" @Ident`
	Kind       string       `[ ":" @( "main" | "exit" | "catch" ) ]`
	Offset     *int64       `[ "@" @Integer ]`
	Prof       *int64       `[ "prof" @Integer ]`
	Next       string       `[ "next" @Ident ]`
	Statements []*Statement `"{" @@* "}"`
}

type Statement struct {
	Pos       lexer.Position
	Directive *Directive `  @@`
	Instr     *Instr     `| @@`
}

// Directive drives the builder directly instead of emitting an
// instruction, e.g. .boundary() or .guardfail(exit).
type Directive struct {
	Pos  lexer.Position
	Name string   `"." @Ident "("`
	Args []string `[ @( Ident | Integer | Value ) { "," @( Ident | Integer | Value ) } ] ")"`
}

type Instr struct {
	Pos   lexer.Position
	Dsts  []string   `[ @Value { "," @Value } "=" ]`
	Op    string     `@Ident`
	Type  *TypeExpr  `[ "<" @@ ">" ]`
	Extra *Extra     `[ "[" @@ "]" ]`
	Args  []*Operand `[ "(" [ @@ { "," @@ } ] ")" ]`
	Taken string     `[ "->" @Ident ]`
}

type TypeExpr struct {
	Names []string `@Ident { "|" @Ident }`
}

// Extra is an instruction immediate: [loc 0], [stk -1], [sp 3] or
// [call name].
type Extra struct {
	Kind string `@( "loc" | "stk" | "sp" | "call" )`
	Arg  string `@( Integer | Ident )`
}

type Operand struct {
	Pos   lexer.Position
	Value string `  @Value`
	Int   *int64 `| @Integer`
	Bool  string `| @( "true" | "false" )`
	Null  bool   `| @"null"`
}
