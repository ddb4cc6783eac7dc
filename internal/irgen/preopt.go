package irgen

import (
	"tracejit/internal/guard"
	"tracejit/internal/ir"
)

type outcome uint8

const (
	// keep links the instruction as is.
	keep outcome = iota
	// replaced means an existing value already holds the result. A nil
	// value stands for an instruction without a result that is redundant.
	replaced
	// elided drops an instruction that produces nothing and does nothing.
	elided
	// rewritten hands a different instruction back to the loop.
	rewritten
)

type preoptResult struct {
	outcome outcome
	value   *ir.Value
	inst    *ir.Instr
}

func keepInst() preoptResult               { return preoptResult{outcome: keep} }
func elide() preoptResult                  { return preoptResult{outcome: elided} }
func replaceWith(v *ir.Value) preoptResult { return preoptResult{outcome: replaced, value: v} }
func rewriteTo(inst *ir.Instr) preoptResult {
	return preoptResult{outcome: rewritten, inst: inst}
}

func needs(t ir.Type) guard.TypeConstraint {
	return guard.TypeConstraint{Category: guard.CategoryFor(t)}
}

func fits(known, want ir.Type) bool {
	return known != ir.Bottom && known.SubtypeOf(want)
}

// preOptimize consults the frame state about inst. It runs before the
// simplifier and may remove work the frame state already proves.
func (b *Builder) preOptimize(inst *ir.Instr) preoptResult {
	switch inst.Op() {
	case ir.CheckType:
		src := inst.Src(0)
		if fits(src.Type(), inst.TypeParam()) {
			b.ConstrainValue(src, needs(inst.TypeParam()))
			return replaceWith(src)
		}

	case ir.AssertType:
		src := inst.Src(0)
		if fits(src.Type(), inst.TypeParam()) {
			return replaceWith(src)
		}

	case ir.CheckLoc:
		id := inst.Local()
		if fits(b.fs.LocalType(id), inst.TypeParam()) {
			b.ConstrainLocal(id, needs(inst.TypeParam()))
			return replaceWith(b.fs.LocalValue(id))
		}
		if v := b.fs.LocalValue(id); v != nil {
			return rewriteTo(b.unit.Gen(ir.CheckType, inst.Marker(), v, inst.TypeParam(), inst.Taken()))
		}

	case ir.CheckStk:
		off := inst.Offset()
		if fits(b.fs.StackType(off), inst.TypeParam()) {
			b.ConstrainStack(off, needs(inst.TypeParam()))
			return replaceWith(b.fs.StackValue(off))
		}
		if v := b.fs.StackValue(off); v != nil {
			return rewriteTo(b.unit.Gen(ir.CheckType, inst.Marker(), v, inst.TypeParam(), inst.Taken()))
		}

	case ir.AssertLoc:
		id := inst.Local()
		if fits(b.fs.LocalType(id), inst.TypeParam()) {
			return elide()
		}
		if v := b.fs.LocalValue(id); v != nil {
			return rewriteTo(b.unit.Gen(ir.AssertType, inst.Marker(), v, inst.TypeParam()))
		}

	case ir.AssertStk:
		off := inst.Offset()
		if fits(b.fs.StackType(off), inst.TypeParam()) {
			return elide()
		}
		if v := b.fs.StackValue(off); v != nil {
			return rewriteTo(b.unit.Gen(ir.AssertType, inst.Marker(), v, inst.TypeParam()))
		}

	case ir.CastStk, ir.CoerceStk:
		if fits(b.fs.StackType(inst.Offset()), inst.TypeParam()) {
			return elide()
		}

	case ir.HintLoc:
		// A hint the frame state already satisfies tells it nothing.
		id := inst.Local()
		if fits(b.fs.LocalType(id), inst.TypeParam()) || fits(b.fs.PredictedLocal(id), inst.TypeParam()) {
			return elide()
		}

	case ir.LdCtx:
		if ctx := b.fs.Ctx(); ctx != nil {
			return replaceWith(ctx)
		}

	case ir.CheckCtxThis:
		if b.fs.CtxIsThis() {
			return elide()
		}

	case ir.LdLoc:
		id := inst.Local()
		if v := b.fs.LocalValue(id); v != nil && v.Type().SubtypeOf(inst.TypeParam()) {
			return replaceWith(v)
		}
		return b.narrowLoad(inst, b.fs.LocalType(id))

	case ir.LdStk:
		off := inst.Offset()
		if v := b.fs.StackValue(off); v != nil && v.Type().SubtypeOf(inst.TypeParam()) {
			return replaceWith(v)
		}
		return b.narrowLoad(inst, b.fs.StackType(off))

	case ir.StLoc:
		if b.fs.LocalValue(inst.Local()) == inst.Src(0) {
			return elide()
		}

	case ir.StStk:
		if b.fs.StackValue(inst.Offset()) == inst.Src(0) {
			return elide()
		}
	}
	return keepInst()
}

// narrowLoad tightens a load's type parameter by what the frame state
// knows about the slot. A contradiction leaves the load alone.
func (b *Builder) narrowLoad(inst *ir.Instr, known ir.Type) preoptResult {
	t := inst.TypeParam().And(known)
	if t != ir.Bottom && t != inst.TypeParam() {
		inst.SetTypeParam(t)
	}
	return keepInst()
}
