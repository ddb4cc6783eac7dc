package irgen

import (
	"fmt"

	"tracejit/internal/errors"
	"tracejit/internal/ir"
)

// MakeBlock creates a main block for the bytecode position sk. It is not
// placed in the layout until AppendBlock.
func (b *Builder) MakeBlock(sk ir.SrcKey, profCount uint64) *ir.Block {
	return b.unit.DefBlock(ir.BlockMain, sk, profCount)
}

// AppendBlock adds blk to the end of the layout.
func (b *Builder) AppendBlock(blk *ir.Block) {
	b.unit.AppendToLayout(blk)
}

// HasBlock reports whether a block is registered for sk.
func (b *Builder) HasBlock(sk ir.SrcKey) bool {
	_, ok := b.offsetToBlock[sk]
	return ok
}

// BlockAt returns the block registered for sk, or nil.
func (b *Builder) BlockAt(sk ir.SrcKey) *ir.Block {
	return b.offsetToBlock[sk]
}

// SetBlock registers blk as the block for sk, replacing any earlier one.
func (b *Builder) SetBlock(sk ir.SrcKey, blk *ir.Block) {
	b.offsetToBlock[sk] = blk
}

// ResetOffsetMapping forgets every registered block.
func (b *Builder) ResetOffsetMapping() {
	b.offsetToBlock = make(map[ir.SrcKey]*ir.Block)
}

// SetGuardFailBlock makes every guard emitted without a target exit to blk
// instead of a fresh exit block.
func (b *Builder) SetGuardFailBlock(blk *ir.Block) { b.guardFailBlock = blk }

// ResetGuardFailBlock goes back to fresh exit blocks per guard.
func (b *Builder) ResetGuardFailBlock() { b.guardFailBlock = nil }

// GuardFailBlock returns the shared guard-fail block, or nil.
func (b *Builder) GuardFailBlock() *ir.Block { return b.guardFailBlock }

// CanStartBlock reports whether emission can move to blk: some processed
// predecessor handed it state, or the current block falls into it.
func (b *Builder) CanStartBlock(blk *ir.Block) bool {
	return b.fs.HasStateFor(blk) || b.fallsInto(blk)
}

func (b *Builder) fallsInto(blk *ir.Block) bool {
	cur := b.curBlock
	if cur == nil || cur == blk || cur.Next() != blk {
		return false
	}
	back := cur.Back()
	return back == nil || !back.Op().IsTerminal()
}

// StartBlock moves emission to blk. It returns false, leaving the builder
// where it was, when blk is unreachable from anything processed so far.
// hasUnprocPred says whether some predecessor of blk is not processed yet,
// in which case no slot knowledge survives into blk.
func (b *Builder) StartBlock(blk *ir.Block, hasUnprocPred bool) bool {
	if !b.CanStartBlock(blk) {
		log.Debugf("cannot start %s", blk)
		return false
	}
	if blk == b.curBlock {
		return true
	}
	b.fs.FinishBlock(b.curBlock)
	b.enterBlock(blk, hasUnprocPred)
	return true
}

// MustStartBlock is StartBlock for callers that know blk is reachable.
func (b *Builder) MustStartBlock(blk *ir.Block, hasUnprocPred bool) {
	if !b.StartBlock(blk, hasUnprocPred) {
		errors.NewDiagnostic(errors.ErrorUnreachableBlock,
			fmt.Sprintf("%s has no processed predecessor", blk)).
			AtBlock(blk.ID()).AtMarker(b.curMarker).Raise()
	}
}

// enterBlock switches emission to blk, whose state must be available.
func (b *Builder) enterBlock(blk *ir.Block, hasUnprocPred bool) {
	if !b.fs.StartBlock(blk, hasUnprocPred) {
		errors.NewDiagnostic(errors.ErrorUnreachableBlock,
			fmt.Sprintf("no frame state for %s", blk)).
			AtBlock(blk.ID()).Raise()
	}
	b.curBlock = blk
	b.exnStack = ExnStackState{SpLevel: b.fs.SpLevelAtBlockStart()}
	b.catch = DefaultCatch()
}
