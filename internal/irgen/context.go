package irgen

import (
	"fmt"

	"tracejit/internal/errors"
	"tracejit/internal/ir"
)

// savedContext is what pushBlock stashes and popBlock restores.
type savedContext struct {
	block    *ir.Block
	marker   ir.BCMarker
	exnStack ExnStackState
	catch    CatchPolicy
}

// ExnStackState is what catch blocks assume about the evaluation stack.
type ExnStackState struct {
	// SpLevel is the stack depth a catch block unwinds to.
	SpLevel int32
	// Synced is set once ExceptionStackBoundary ran in the current block.
	Synced bool
}

// CatchPolicy says how a catch block is built for a throwing instruction
// emitted without one. The zero value is the default policy.
type CatchPolicy struct {
	create func(b *Builder) *ir.Block
}

// DefaultCatch builds a catch block that unwinds to the exception stack
// state of the current block.
func DefaultCatch() CatchPolicy { return CatchPolicy{} }

// CustomCatch builds catch blocks with create. create runs with the builder
// positioned where the throwing instruction is being emitted.
func CustomCatch(create func(b *Builder) *ir.Block) CatchPolicy {
	return CatchPolicy{create: create}
}

// IsDefault reports whether p is the default policy.
func (p CatchPolicy) IsDefault() bool { return p.create == nil }

// SetCatchCreator sets the policy for the current block. Starting another
// block restores the default.
func (b *Builder) SetCatchCreator(p CatchPolicy) { b.catch = p }

// ExceptionStackBoundary records that the stack is synced at the current
// depth, so catch blocks from here on unwind to it.
func (b *Builder) ExceptionStackBoundary() {
	b.exnStack = ExnStackState{SpLevel: b.fs.SpLevel(), Synced: true}
}

// ExceptionStackState returns the stack state catch blocks currently
// assume.
func (b *Builder) ExceptionStackState() ExnStackState { return b.exnStack }

func (b *Builder) catchBlock(marker ir.BCMarker) *ir.Block {
	if !b.catch.IsDefault() {
		blk := b.catch.create(b)
		if blk == nil {
			errors.NewDiagnostic(errors.ErrorBadArgument, "catch creator returned no block").
				AtBlock(b.curBlock.ID()).AtMarker(marker).Raise()
		}
		return blk
	}

	sp := b.exnStack.SpLevel
	catch := b.unit.DefBlock(ir.BlockCatch, marker.SK, 0)
	b.WithBlock(marker, catch, func() {
		b.Gen(ir.BeginCatch)
		b.Gen(ir.EndCatch, ir.SpOffset{Offset: sp})
	})
	b.unit.AppendToLayout(catch)
	return catch
}

// PushBlock makes blk the emission target until the matching PopBlock.
// The frame state of the current block is kept aside meanwhile.
func (b *Builder) PushBlock(marker ir.BCMarker, blk *ir.Block) {
	b.contexts = append(b.contexts, savedContext{
		block:    b.curBlock,
		marker:   b.curMarker,
		exnStack: b.exnStack,
		catch:    b.catch,
	})
	b.fs.PauseBlock(blk)
	b.curBlock = blk
	if marker.Valid() {
		b.curMarker = marker
	}
	b.exnStack = ExnStackState{SpLevel: b.fs.SpLevel()}
	b.catch = DefaultCatch()
}

// PopBlock returns to the block that was current before the matching
// PushBlock.
func (b *Builder) PopBlock() {
	n := len(b.contexts)
	if n == 0 {
		errors.NewDiagnostic(errors.ErrorUnbalancedContext, "PopBlock without a matching PushBlock").
			AtBlock(b.curBlock.ID()).AtMarker(b.curMarker).Raise()
	}
	top := b.contexts[n-1]
	b.contexts = b.contexts[:n-1]
	b.fs.FinishBlock(b.curBlock)
	b.fs.ResumeBlock()
	b.curBlock = top.block
	b.curMarker = top.marker
	b.exnStack = top.exnStack
	b.catch = top.catch
}

// WithBlock runs fn with blk as the emission target.
func (b *Builder) WithBlock(marker ir.BCMarker, blk *ir.Block, fn func()) {
	b.PushBlock(marker, blk)
	defer b.PopBlock()
	fn()
}

// Depth returns the number of pushed emission contexts.
func (b *Builder) Depth() int { return len(b.contexts) }

// Finish closes the current pass. Every pushed context must have been
// popped. Block parameter types are recomputed for the finished graph.
func (b *Builder) Finish() {
	if n := len(b.contexts); n > 0 {
		errors.NewDiagnostic(errors.ErrorContextLeak,
			fmt.Sprintf("%d emission contexts still pushed", n)).
			AtBlock(b.curBlock.ID()).AtMarker(b.curMarker).Raise()
	}
	b.fs.FinishBlock(b.curBlock)
	ir.ReflowTypes(b.unit)
}

// Translate runs fn against the builder and finishes the pass. A contract
// violation raised inside is returned as an error; the unit must not be
// used after one.
func (b *Builder) Translate(fn func(b *Builder)) (err error) {
	defer errors.Recover(&err)
	fn(b)
	b.Finish()
	return nil
}
