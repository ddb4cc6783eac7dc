package irgen

import (
	"fmt"

	"tracejit/internal/errors"
	"tracejit/internal/guard"
	"tracejit/internal/ir"
)

// Reoptimize runs the second pass. Guards are first relaxed to what the
// first pass found was relied upon, then every reachable block is emptied
// and its instructions are re-emitted through the optimization pipeline in
// reverse post-order, with frame state rebuilt from scratch.
func (b *Builder) Reoptimize() {
	if n := len(b.contexts); n > 0 {
		errors.NewDiagnostic(errors.ErrorContextLeak,
			fmt.Sprintf("reoptimize with %d emission contexts pushed", n)).
			AtBlock(b.curBlock.ID()).Raise()
	}
	log.Infof("reoptimizing %s", b.unit.Entry().SrcKey())

	if b.constrainGuards {
		b.relaxGuards(b.guards.Clone())
	}

	b.pass = Second
	b.guards.Reset()
	b.typeSrcs = make(map[int]*ir.Instr)
	b.paramDemands = make(map[*ir.Value]guard.TypeConstraint)
	b.ResetOffsetMapping()
	b.ResetGuardFailBlock()
	b.fs.Clear()

	preds := ir.Preds(b.unit)
	processed := make(map[*ir.Block]bool)
	for _, blk := range ir.RPO(b.unit) {
		hasUnprocPred := false
		for _, p := range preds[blk] {
			if !processed[p] {
				hasUnprocPred = true
				break
			}
		}
		if !b.fs.HasStateFor(blk) {
			log.Debugf("second pass skips %s", blk)
			continue
		}
		b.enterBlock(blk, hasUnprocPred)

		for _, inst := range blk.TakeInstrs() {
			b.curMarker = inst.Marker()
			b.reoptimizeInst(inst)
		}
		b.fs.FinishBlock(blk)
		processed[blk] = true
	}
	ir.ReflowTypes(b.unit)
}

// reoptimizeInst re-emits one instruction of the first pass. A result that
// optimizes to another value keeps its identity as a Mov of that value.
func (b *Builder) reoptimizeInst(inst *ir.Instr) {
	if inst.Op() == ir.DefLabel {
		b.appendInstruction(inst)
		return
	}
	dst := inst.Dst()
	v := b.optimizeInst(inst, CloneNo, true)
	if dst == nil || v == dst {
		return
	}
	if v == nil {
		errors.NewDiagnostic(errors.ErrorDominance,
			fmt.Sprintf("%s lost its result in the second pass", inst.Op())).
			AtBlock(b.curBlock.ID()).ForOpcode(inst.Op()).AtMarker(inst.Marker()).Raise()
	}
	b.unit.ReplaceWithMov(inst, v)
	b.appendInstruction(inst)
}

// relaxGuards weakens every guard to the type its recorded constraint
// needs. Loads typed by a relaxed guard are widened to match.
func (b *Builder) relaxGuards(prior *guard.Constraints) {
	relaxed := make(map[*ir.Instr]bool)
	for _, blk := range b.unit.Blocks() {
		for _, inst := range blk.Instrs() {
			if !inst.IsGuard() || inst.TypeParam() == ir.Bottom {
				continue
			}
			tc := prior.Current(guard.GuardTarget(inst.ID()))
			t := guard.Relax(inst.TypeParam(), tc)
			if t == inst.TypeParam() {
				continue
			}
			log.Debugf("relax %s #%d from %s to %s", inst.Op(), inst.ID(), inst.TypeParam(), t)
			inst.SetTypeParam(t)
			relaxed[inst] = true
		}
	}
	for _, blk := range b.unit.Blocks() {
		for _, inst := range blk.Instrs() {
			if inst.Op() != ir.LdLoc && inst.Op() != ir.LdStk {
				continue
			}
			src := b.typeSrcs[inst.Dst().ID()]
			if src == nil || !relaxed[src] {
				continue
			}
			inst.SetTypeParam(inst.TypeParam().Or(src.TypeParam()))
		}
	}
}
