package irgen

import (
	"tracejit/internal/guard"
	"tracejit/internal/ir"
)

// SetConstrainGuards turns guard constraint tracking on or off.
func (b *Builder) SetConstrainGuards(on bool) { b.constrainGuards = on }

// ShouldConstrainGuards reports whether constraint tracking is on.
func (b *Builder) ShouldConstrainGuards() bool { return b.constrainGuards }

// Guards returns the constraints recorded in the current pass.
func (b *Builder) Guards() *guard.Constraints { return b.guards }

// ConstrainGuard records that code relies on the guard inst checking at
// least tc. It reports whether the requirement changed.
func (b *Builder) ConstrainGuard(inst *ir.Instr, tc guard.TypeConstraint) bool {
	if !b.constrainGuards || inst == nil || !inst.IsGuard() {
		return false
	}
	changed := b.guards.Record(guard.GuardTarget(inst.ID()), tc)
	if changed {
		log.Debugf("constrain guard %d (%s) to %s", inst.ID(), inst.Op(), tc)
	}
	return changed
}

// ConstrainValue records that code relies on the type of v at precision tc,
// tracing v back to the guards that established its type.
func (b *Builder) ConstrainValue(v *ir.Value, tc guard.TypeConstraint) bool {
	if !b.constrainGuards || tc.Category == guard.Generic {
		return false
	}
	return b.constrainValue(v, tc, make(map[*ir.Value]bool))
}

func (b *Builder) constrainValue(v *ir.Value, tc guard.TypeConstraint, seen map[*ir.Value]bool) bool {
	for v != nil && !v.IsConst() && !seen[v] {
		seen[v] = true
		inst := v.Inst()
		if inst == nil {
			return false
		}
		switch {
		case inst.IsGuard():
			return b.ConstrainGuard(inst, tc)
		case inst.Op() == ir.AssertType:
			if guard.Fits(inst.TypeParam(), tc) {
				return false
			}
			v = inst.Src(0)
		case inst.Op().IsPassthrough():
			v = inst.Src(0)
		case inst.Op() == ir.LdLoc, inst.Op() == ir.LdStk:
			return b.ConstrainGuard(b.typeSrcs[v.ID()], tc)
		case inst.Op() == ir.DefLabel:
			return b.constrainIncoming(inst, v, tc, seen)
		default:
			return false
		}
	}
	return false
}

// constrainIncoming constrains the values every known Jmp passes for the
// block parameter v.
func (b *Builder) constrainIncoming(label *ir.Instr, v *ir.Value, tc guard.TypeConstraint, seen map[*ir.Value]bool) bool {
	param := -1
	for n, d := range label.Dsts() {
		if d == v {
			param = n
		}
	}
	target := label.Block()
	if target == nil || param < 0 {
		return false
	}
	if tc.Stronger(b.paramDemands[v]) {
		b.paramDemands[v] = tc
	}
	changed := false
	for _, blk := range b.unit.Blocks() {
		back := blk.Back()
		if back == nil || back.Op() != ir.Jmp || back.Taken() != target || param >= back.NumSrcs() {
			continue
		}
		if b.constrainValue(back.Src(param), tc, seen) {
			changed = true
		}
	}
	return changed
}

// constrainOutgoing applies the demands already placed on the target's
// block parameters to the values jmp passes for them.
func (b *Builder) constrainOutgoing(jmp *ir.Instr) {
	target := jmp.Taken()
	if !b.constrainGuards || target == nil {
		return
	}
	label := target.Label()
	if label == nil {
		return
	}
	for n, param := range label.Dsts() {
		tc, ok := b.paramDemands[param]
		if !ok || n >= jmp.NumSrcs() {
			continue
		}
		b.constrainValue(jmp.Src(n), tc, map[*ir.Value]bool{param: true})
	}
}

// ConstrainLocal records that code relies on the type of local id at
// precision tc.
func (b *Builder) ConstrainLocal(id uint32, tc guard.TypeConstraint) bool {
	if !b.constrainGuards || tc.Category == guard.Generic {
		return false
	}
	changed := b.guards.Record(guard.LocalTarget(id), tc)
	if b.ConstrainGuard(b.fs.LocalTypeSrc(id), tc) {
		changed = true
	}
	return changed
}

// ConstrainStack records that code relies on the type of the stack slot at
// offset at precision tc.
func (b *Builder) ConstrainStack(offset int32, tc guard.TypeConstraint) bool {
	if !b.constrainGuards || tc.Category == guard.Generic {
		return false
	}
	changed := b.guards.Record(guard.StackTarget(offset), tc)
	if b.ConstrainGuard(b.fs.StackTypeSrc(offset), tc) {
		changed = true
	}
	return changed
}

// typeSource returns the guard whose check established v's type, if any.
func (b *Builder) typeSource(v *ir.Value) *ir.Instr {
	for v != nil && !v.IsConst() {
		inst := v.Inst()
		if inst == nil {
			return nil
		}
		switch {
		case inst.IsGuard():
			return inst
		case inst.Op().IsPassthrough():
			v = inst.Src(0)
		case inst.Op() == ir.LdLoc, inst.Op() == ir.LdStk:
			return b.typeSrcs[v.ID()]
		default:
			return nil
		}
	}
	return nil
}

// TypeMightRelax reports whether the type of v could still be weakened by
// guard relaxation. With a nil value it reports whether relaxation is
// possible at all. Guards no longer relax once the second pass runs.
func (b *Builder) TypeMightRelax(v *ir.Value) bool {
	if !b.constrainGuards || b.pass == Second {
		return false
	}
	if v == nil {
		return true
	}
	src := b.typeSource(v)
	if src == nil {
		return false
	}
	tc := b.guards.Current(guard.GuardTarget(src.ID()))
	return guard.Relax(src.TypeParam(), tc) != src.TypeParam()
}

// LocalValue returns the value known to be in local id, or nil.
func (b *Builder) LocalValue(id uint32, tc guard.TypeConstraint) *ir.Value {
	b.ConstrainLocal(id, tc)
	return b.fs.LocalValue(id)
}

// LocalType returns the known type of local id, recording that the caller
// relies on it at precision tc.
func (b *Builder) LocalType(id uint32, tc guard.TypeConstraint) ir.Type {
	b.ConstrainLocal(id, tc)
	return b.fs.LocalType(id)
}

// StackValue returns the value known to be at offset, or nil.
func (b *Builder) StackValue(offset int32, tc guard.TypeConstraint) *ir.Value {
	b.ConstrainStack(offset, tc)
	return b.fs.StackValue(offset)
}

// StackType returns the known type at offset, recording that the caller
// relies on it at precision tc.
func (b *Builder) StackType(offset int32, tc guard.TypeConstraint) ir.Type {
	b.ConstrainStack(offset, tc)
	return b.fs.StackType(offset)
}

// PredictedInnerType returns the predicted type of local id. Predictions
// are not guaranteed and constrain nothing.
func (b *Builder) PredictedInnerType(id uint32) ir.Type {
	return b.fs.PredictedLocal(id)
}

// PredictedStackInnerType returns the predicted type at offset.
func (b *Builder) PredictedStackInnerType(offset int32) ir.Type {
	return b.fs.PredictedStack(offset)
}
