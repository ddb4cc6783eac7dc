package ir

import (
	"fmt"

	"tracejit/internal/errors"
)

// Check validates the structural invariants of the reachable part of u and
// returns every violation found. A nil result means the unit is well formed.
func Check(u *Unit) []error {
	c := &checker{
		unit:     u,
		dom:      Dominators(u),
		producer: make(map[*Value]*Instr),
		position: make(map[*Instr]int),
	}
	c.checkBlocks()
	c.checkOperands()
	return c.errs
}

type checker struct {
	unit     *Unit
	dom      *DomTree
	producer map[*Value]*Instr
	position map[*Instr]int
	errs     []error
}

func (c *checker) report(code string, b *Block, inst *Instr, format string, args ...any) {
	d := errors.NewDiagnostic(code, fmt.Sprintf(format, args...)).AtBlock(b.id)
	if inst != nil {
		d = d.ForOpcode(inst.op).AtMarker(inst.marker)
	}
	c.errs = append(c.errs, d.Build())
}

func (c *checker) checkBlocks() {
	for _, b := range RPO(c.unit) {
		for n, inst := range b.instrs {
			c.position[inst] = n
			if inst.block != b {
				c.report(errors.ErrorMultipleProducers, b, inst,
					"instruction %d is listed in %s but owned by %v", inst.id, b, inst.block)
			}
			if inst.IsBlockEnd() && n != len(b.instrs)-1 {
				c.report(errors.ErrorTerminatorPlacement, b, inst,
					"%s must be the last instruction of its block", inst.op)
			}
			if inst.op == DefLabel && n != 0 {
				c.report(errors.ErrorTerminatorPlacement, b, inst,
					"DefLabel must be the first instruction of its block")
			}
			for _, d := range inst.dsts {
				if prev, ok := c.producer[d]; ok {
					c.report(errors.ErrorMultipleProducers, b, inst,
						"%s is also produced by instruction %d", d, prev.id)
					continue
				}
				if d.inst != inst {
					c.report(errors.ErrorMultipleProducers, b, inst,
						"%s does not name this instruction as its producer", d)
				}
				c.producer[d] = inst
			}
		}
		if back := b.Back(); (back == nil || !back.op.IsTerminal()) && b.next == nil {
			c.report(errors.ErrorTerminatorPlacement, b, b.Back(),
				"%s falls off its end without a next edge", b)
		}
		c.checkEdges(b)
	}
}

// checkEdges verifies that every edge into a labeled block supplies exactly
// one value per block parameter. Only Jmp carries values.
func (c *checker) checkEdges(b *Block) {
	for _, inst := range b.instrs {
		if inst.taken == nil {
			continue
		}
		want := 0
		if label := inst.taken.Label(); label != nil {
			want = len(label.dsts)
		}
		got := 0
		if inst.op == Jmp {
			got = len(inst.srcs)
		}
		if got != want {
			c.report(errors.ErrorLabelArity, b, inst,
				"edge to %s passes %d values, label defines %d", inst.taken, got, want)
		}
	}
	if b.next != nil && !(b.Back() != nil && b.Back().op.IsTerminal()) {
		if label := b.next.Label(); label != nil && len(label.dsts) > 0 {
			c.report(errors.ErrorLabelArity, b, nil,
				"fallthrough to %s cannot pass %d block parameters", b.next, len(label.dsts))
		}
	}
}

func (c *checker) checkOperands() {
	for _, b := range RPO(c.unit) {
		for _, inst := range b.instrs {
			for n, src := range inst.srcs {
				if src.isConst {
					c.checkType(b, inst, n, src)
					continue
				}
				def, ok := c.producer[src]
				if !ok {
					c.report(errors.ErrorDominance, b, inst,
						"operand %d (%s) has no reachable producer", n, src)
					continue
				}
				if !c.defDominates(def, inst) {
					c.report(errors.ErrorDominance, b, inst,
						"operand %d (%s) does not dominate its use", n, src)
				}
				c.checkType(b, inst, n, src)
			}
		}
	}
}

func (c *checker) defDominates(def, use *Instr) bool {
	if def.block == use.block {
		return c.position[def] < c.position[use]
	}
	return c.dom.Dominates(def.block, use.block)
}

func (c *checker) checkType(b *Block, inst *Instr, n int, src *Value) {
	want := inst.op.SrcType(n)
	if want == Bottom {
		return
	}
	if !src.typ.SubtypeOf(want) {
		c.report(errors.ErrorOperandType, b, inst,
			"operand %d has type %s, %s accepts %s", n, src.typ, inst.op, want)
	}
}
