package ir

import (
	"fmt"
	"strings"
)

// Printer provides pretty-printing for IR
type Printer struct {
	indent int
	output strings.Builder
}

// NewPrinter creates a new IR printer
func NewPrinter() *Printer {
	return &Printer{indent: 0}
}

// Print returns the string representation of a unit. Blocks are printed in
// reverse post order followed by any laid-out blocks that are unreachable.
func Print(u *Unit) string {
	p := NewPrinter()
	p.printUnit(u)
	return p.output.String()
}

// Helper methods

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

func (p *Printer) printUnit(u *Unit) {
	p.writeLine("UNIT %s (entry %s, %d blocks, %d values, %d instrs)",
		u.initialSK, u.entry, len(u.blocks), u.NumValues(), u.NumInstrs())

	reachable := Reachable(u)
	for _, b := range RPO(u) {
		p.printBlock(b)
	}
	for _, b := range u.Layout() {
		if !reachable[b] {
			p.writeLine("; unreachable")
			p.printBlock(b)
		}
	}
}

func (p *Printer) printBlock(b *Block) {
	var attrs []string
	if b.kind != BlockMain {
		attrs = append(attrs, b.kind.String())
	}
	attrs = append(attrs, b.sk.String())
	if b.profCount != 1 {
		attrs = append(attrs, fmt.Sprintf("prof %d", b.profCount))
	}
	p.writeLine("%s [%s]:", b, strings.Join(attrs, ", "))

	p.indent++
	for _, inst := range b.instrs {
		p.writeLine("%s", inst)
	}
	if b.next != nil && !(b.Back() != nil && b.Back().op.IsTerminal()) {
		p.writeLine("-> next %s", b.next)
	}
	p.indent--
}
