package irgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracejit/internal/config"
	"tracejit/internal/errors"
	"tracejit/internal/guard"
	"tracejit/internal/ir"
)

func newBuilder(t *testing.T, opts config.Options) *Builder {
	t.Helper()
	unit := ir.NewUnit(ir.SrcKey{Func: 1})
	return New(unit, ir.NewMarker(ir.SrcKey{Func: 1}, 0, 0), opts)
}

func loc(id uint32) ir.LocalID     { return ir.LocalID{ID: id} }
func stk(off int32) ir.StackOffset { return ir.StackOffset{Offset: off} }

// requireViolation runs fn inside Translate and checks the error code.
func requireViolation(t *testing.T, b *Builder, code string, fn func(b *Builder)) {
	t.Helper()
	err := b.Translate(fn)
	require.Error(t, err)
	ce, ok := errors.As(err)
	require.True(t, ok, "expected a compiler error, got %v", err)
	assert.Equal(t, code, ce.Code)
}

func TestRedundantCheckLocReturnsKnownValue(t *testing.T) {
	b := newBuilder(t, config.Default())
	entry := b.CurBlock()

	v := b.Gen(ir.LdLoc, loc(1), ir.Int)
	b.Gen(ir.StLoc, loc(0), v)
	before := entry.Len()

	got := b.Gen(ir.CheckLoc, loc(0), ir.Int)
	assert.Same(t, v, got)
	assert.Equal(t, before, entry.Len(), "no instruction should be appended")
}

func TestCheckLocOnUnknownLocalGuards(t *testing.T) {
	b := newBuilder(t, config.Default())
	entry := b.CurBlock()

	assert.Nil(t, b.Gen(ir.CheckLoc, loc(0), ir.Int))
	guardInst := entry.Back()
	require.Equal(t, ir.CheckLoc, guardInst.Op())

	exit := guardInst.Taken()
	require.NotNil(t, exit, "guard needs a failure target")
	assert.Equal(t, ir.BlockExit, exit.Kind())
	assert.Equal(t, ir.ReqRetranslate, exit.Back().Op())
	assert.Same(t, entry, b.CurBlock(), "emission returns to the guarded block")

	x := b.Gen(ir.LdLoc, loc(0))
	assert.Equal(t, ir.Int, x.Type(), "load should see the guarded type")
	assert.Equal(t, 0, b.Depth())
}

func TestCheckLocOnKnownValueBecomesCheckType(t *testing.T) {
	b := newBuilder(t, config.Default())
	v := b.Gen(ir.LdLoc, loc(1))
	b.Gen(ir.StLoc, loc(0), v)

	refined := b.Gen(ir.CheckLoc, loc(0), ir.Int)
	require.NotNil(t, refined)
	assert.Equal(t, ir.CheckType, refined.Inst().Op())
	assert.Same(t, v, refined.Inst().Src(0))
	assert.Equal(t, ir.Int, b.FS().LocalType(0))
}

func TestPreOptimizeBound(t *testing.T) {
	opts := config.Default()
	opts.PreOptimizeBound = 1
	b := newBuilder(t, opts)

	v := b.Gen(ir.LdLoc, loc(1))
	b.Gen(ir.StLoc, loc(0), v)
	refined := b.Gen(ir.CheckLoc, loc(0), ir.Int)

	require.NotNil(t, refined)
	assert.Equal(t, ir.CheckType, refined.Inst().Op())
	require.Len(t, b.Warnings(), 1)
	assert.Equal(t, errors.WarningRewriteBound, b.Warnings()[0].Code)

	b = newBuilder(t, config.Default())
	v = b.Gen(ir.LdLoc, loc(1))
	b.Gen(ir.StLoc, loc(0), v)
	b.Gen(ir.CheckLoc, loc(0), ir.Int)
	assert.Empty(t, b.Warnings())
}

func TestSimplifierRunsOnEmission(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	entry := b.CurBlock()

	assert.Same(t, u.Cns(5), b.Gen(ir.AddInt, u.Cns(2), u.Cns(3)))
	assert.True(t, entry.Empty())

	target := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 4}, 1)
	assert.Nil(t, b.Gen(ir.JmpNZero, u.CnsBool(true), target))
	require.Equal(t, 1, entry.Len())
	assert.Equal(t, ir.Jmp, entry.Back().Op())
	assert.Same(t, target, entry.Back().Taken())

	opts := config.Default()
	opts.Simplify = false
	b = newBuilder(t, opts)
	sum := b.Gen(ir.AddInt, b.Unit().Cns(2), b.Unit().Cns(3))
	assert.False(t, sum.IsConst())
}

func TestRedundantContextAndStores(t *testing.T) {
	b := newBuilder(t, config.Default())
	entry := b.CurBlock()

	ctx := b.Gen(ir.LdCtx)
	b.Gen(ir.CheckCtxThis, ctx)
	n := entry.Len()

	assert.Same(t, ctx, b.Gen(ir.LdCtx))
	assert.Nil(t, b.Gen(ir.CheckCtxThis, ctx))
	assert.Equal(t, n, entry.Len())

	v := b.Gen(ir.LdLoc, loc(2))
	b.Gen(ir.StLoc, loc(3), v)
	n = entry.Len()
	b.Gen(ir.StLoc, loc(3), v)
	assert.Equal(t, n, entry.Len(), "storing the value already there is dropped")
}

func TestSharedGuardFailBlock(t *testing.T) {
	b := newBuilder(t, config.Default())
	shared := b.Unit().DefBlock(ir.BlockExit, ir.SrcKey{Func: 1}, 0)
	b.SetGuardFailBlock(shared)

	b.Gen(ir.CheckLoc, loc(0), ir.Int)
	b.Gen(ir.CheckStk, stk(0), ir.Dbl)
	for _, inst := range b.CurBlock().Instrs() {
		assert.Same(t, shared, inst.Taken())
	}

	b.ResetGuardFailBlock()
	b.Gen(ir.CheckLoc, loc(1), ir.Int)
	assert.NotSame(t, shared, b.CurBlock().Back().Taken())
}

func TestContextStackBalance(t *testing.T) {
	b := newBuilder(t, config.Default())
	entry := b.CurBlock()
	marker := b.CurMarker()
	side := b.Unit().DefBlock(ir.BlockExit, ir.SrcKey{Func: 1, Offset: 9}, 0)
	sideMarker := ir.NewMarker(ir.SrcKey{Func: 1, Offset: 9}, 0, 0)

	b.PushBlock(sideMarker, side)
	assert.Same(t, side, b.CurBlock())
	assert.Equal(t, sideMarker, b.CurMarker())
	assert.Equal(t, 1, b.Depth())
	b.Gen(ir.Halt)
	b.PopBlock()

	assert.Same(t, entry, b.CurBlock())
	assert.Equal(t, marker, b.CurMarker())
	assert.Equal(t, 0, b.Depth())
	assert.True(t, entry.Empty())
	assert.Equal(t, ir.Halt, side.Back().Op())

	other := b.Unit().DefBlock(ir.BlockExit, ir.SrcKey{Func: 1}, 0)
	b.WithBlock(sideMarker, other, func() {
		assert.Equal(t, 1, b.Depth())
		b.Gen(ir.ReqRetranslate)
	})
	assert.Equal(t, 0, b.Depth())
	assert.Same(t, entry, b.CurBlock())
}

func TestContextViolations(t *testing.T) {
	t.Run("pop without push", func(t *testing.T) {
		b := newBuilder(t, config.Default())
		requireViolation(t, b, errors.ErrorUnbalancedContext, func(b *Builder) {
			b.PopBlock()
		})
	})

	t.Run("push without pop", func(t *testing.T) {
		b := newBuilder(t, config.Default())
		side := b.Unit().DefBlock(ir.BlockExit, ir.SrcKey{}, 0)
		requireViolation(t, b, errors.ErrorContextLeak, func(b *Builder) {
			b.PushBlock(b.CurMarker(), side)
		})
	})

	t.Run("emit after terminal", func(t *testing.T) {
		b := newBuilder(t, config.Default())
		requireViolation(t, b, errors.ErrorBlockTerminated, func(b *Builder) {
			b.Gen(ir.Halt)
			b.Gen(ir.LdLoc, loc(0))
		})
	})

	t.Run("unreachable block", func(t *testing.T) {
		b := newBuilder(t, config.Default())
		orphan := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 7}, 1)
		requireViolation(t, b, errors.ErrorUnreachableBlock, func(b *Builder) {
			b.MustStartBlock(orphan, false)
		})
	})
}

func TestTranslateSucceeds(t *testing.T) {
	b := newBuilder(t, config.Default())
	err := b.Translate(func(b *Builder) {
		x := b.Gen(ir.LdLoc, loc(0), ir.Int)
		b.Gen(ir.StLoc, loc(1), b.Gen(ir.AddInt, x, b.Unit().Cns(1)))
		b.Gen(ir.Halt)
	})
	require.NoError(t, err)
	assert.Empty(t, ir.Check(b.Unit()))
}

func TestStartBlockRequiresReachability(t *testing.T) {
	b := newBuilder(t, config.Default())
	entry := b.CurBlock()
	blk := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 3}, 1)

	assert.False(t, b.CanStartBlock(blk))
	assert.False(t, b.StartBlock(blk, false))
	assert.Same(t, entry, b.CurBlock(), "a failed start leaves the builder in place")

	entry.SetNext(blk)
	assert.True(t, b.CanStartBlock(blk), "fallthrough makes the block reachable")
	assert.True(t, b.StartBlock(blk, false))
	assert.Same(t, blk, b.CurBlock())

	taken := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 5}, 1)
	assert.False(t, b.CanStartBlock(taken))
	b.Gen(ir.Jmp, taken)
	assert.True(t, b.CanStartBlock(taken), "a processed jump hands over state")
	assert.True(t, b.StartBlock(taken, false))
}

func TestBlockMapping(t *testing.T) {
	b := newBuilder(t, config.Default())
	sk := ir.SrcKey{Func: 1, Offset: 12}
	assert.False(t, b.HasBlock(sk))

	blk := b.MakeBlock(sk, 3)
	b.SetBlock(sk, blk)
	assert.True(t, b.HasBlock(sk))
	assert.Same(t, blk, b.BlockAt(sk))
	assert.Equal(t, uint64(3), blk.ProfCount())

	b.ResetOffsetMapping()
	assert.False(t, b.HasBlock(sk))
	assert.Nil(t, b.BlockAt(sk))
}

func TestStateFlowsAcrossBlocks(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	v := b.Gen(ir.LdLoc, loc(1))
	b.Gen(ir.StLoc, loc(0), v)

	taken := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 2}, 1)
	next := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 3}, 1)
	b.CurBlock().SetNext(next)
	b.Gen(ir.JmpZero, b.Gen(ir.LdLoc, loc(5), ir.Int), taken)

	require.True(t, b.StartBlock(next, false))
	assert.Same(t, v, b.FS().LocalValue(0))
	require.True(t, b.StartBlock(taken, false))
	assert.Same(t, v, b.FS().LocalValue(0))

	b.Gen(ir.StLoc, loc(0), u.Cns(1))
	assert.Same(t, u.Cns(1), b.FS().LocalValue(0))
}

func TestCountingLoop(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	header := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 1}, 10)
	body := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 2}, 10)
	exit := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 3}, 1)
	for _, blk := range []*ir.Block{header, body, exit} {
		b.AppendBlock(blk)
	}

	err := b.Translate(func(b *Builder) {
		b.Gen(ir.Jmp, header, u.Cns(0))

		require.True(t, b.StartBlock(header, true))
		i := b.DefLabel(1)[0]
		header.SetNext(body)
		b.Gen(ir.JmpZero, b.Gen(ir.LtInt, i, u.Cns(10)), exit)

		require.True(t, b.StartBlock(body, false))
		b.Gen(ir.Jmp, header, b.Gen(ir.AddInt, i, u.Cns(1)))

		require.True(t, b.StartBlock(exit, false))
		b.Gen(ir.Halt)
	})
	require.NoError(t, err)

	assert.Empty(t, ir.Check(u))
	assert.Equal(t, ir.Int, header.Label().Dst().Type())
}

func TestCatchBlocks(t *testing.T) {
	b := newBuilder(t, config.Default())
	x := b.Gen(ir.LdLoc, loc(0), ir.Int)
	y := b.Gen(ir.LdLoc, loc(1), ir.Int)
	assert.Equal(t, int32(0), b.ExceptionStackState().SpLevel)

	b.Gen(ir.SyncStack, ir.SpOffset{Offset: 3})
	div := b.Gen(ir.DivInt, x, y).Inst()
	catch := div.Taken()
	require.NotNil(t, catch)
	assert.Equal(t, ir.BlockCatch, catch.Kind())
	assert.Equal(t, ir.BeginCatch, catch.Front().Op())
	assert.Equal(t, ir.SpOffset{Offset: 0}, catch.Back().Extra(),
		"without a boundary catch blocks unwind to the block-start depth")

	b.ExceptionStackBoundary()
	assert.True(t, b.ExceptionStackState().Synced)
	div = b.Gen(ir.DivInt, y, x).Inst()
	assert.Equal(t, ir.SpOffset{Offset: 3}, div.Taken().Back().Extra())

	custom := b.Unit().DefBlock(ir.BlockCatch, ir.SrcKey{Func: 1}, 0)
	calls := 0
	b.SetCatchCreator(CustomCatch(func(*Builder) *ir.Block {
		calls++
		return custom
	}))
	div = b.Gen(ir.DivInt, x, x).Inst()
	assert.Same(t, custom, div.Taken())
	assert.Equal(t, 1, calls)
}

func TestGuardConstraints(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()

	b.Gen(ir.CheckLoc, loc(0), ir.Int)
	guardInst := b.CurBlock().Back()
	x := b.Gen(ir.LdLoc, loc(0))
	target := guard.GuardTarget(guardInst.ID())

	assert.True(t, b.TypeMightRelax(x), "nothing relies on the guard yet")
	assert.Equal(t, guard.Generic, b.Guards().Current(target).Category)

	b.Gen(ir.StLoc, loc(1), b.Gen(ir.AddInt, x, u.Cns(1)))
	assert.Equal(t, guard.Specific, b.Guards().Current(target).Category)
	assert.False(t, b.TypeMightRelax(x))

	countness := guard.TypeConstraint{Category: guard.Countness}
	assert.False(t, b.ConstrainGuard(guardInst, countness), "constraints never weaken")
	assert.Equal(t, guard.Specific, b.Guards().Current(target).Category)

	b.SetConstrainGuards(false)
	assert.False(t, b.ShouldConstrainGuards())
	assert.False(t, b.TypeMightRelax(nil))
}

func TestConstraintsFollowBlockParameters(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	join := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 1}, 1)

	b.Gen(ir.CheckStk, stk(0), ir.Int)
	guardInst := b.CurBlock().Back()
	b.Gen(ir.Jmp, join, b.Gen(ir.LdStk, stk(0)))

	require.True(t, b.StartBlock(join, false))
	p := b.DefLabel(1)[0]
	b.Gen(ir.StLoc, loc(0), b.Gen(ir.AddInt, p, u.Cns(2)))

	assert.Equal(t, guard.Specific, b.Guards().Current(guard.GuardTarget(guardInst.ID())).Category)
}

func TestPredictions(t *testing.T) {
	b := newBuilder(t, config.Default())
	b.FS().SetPredictedLocal(0, ir.Int)
	b.FS().SetPredictedStack(1, ir.Dbl)

	assert.Equal(t, ir.Int, b.PredictedInnerType(0))
	assert.Equal(t, ir.Dbl, b.PredictedStackInnerType(1))
	assert.Equal(t, 0, b.Guards().Len(), "predictions constrain nothing")
}

func TestRedundantStackCoercions(t *testing.T) {
	for _, op := range []ir.Opcode{ir.CastStk, ir.CoerceStk} {
		t.Run(op.String(), func(t *testing.T) {
			b := newBuilder(t, config.Default())
			entry := b.CurBlock()

			b.Gen(op, stk(1), ir.Int)
			require.Equal(t, 1, entry.Len())
			assert.Equal(t, op, entry.Back().Op())
			require.NotNil(t, entry.Back().Taken(), "a coercion can throw")
			assert.Equal(t, ir.BlockCatch, entry.Back().Taken().Kind())
			assert.Equal(t, ir.Int, b.FS().StackType(1))

			b.Gen(op, stk(1), ir.Int)
			assert.Equal(t, 1, entry.Len(), "coercing to a type the slot already has is dropped")
		})
	}
}

func TestLocalHints(t *testing.T) {
	b := newBuilder(t, config.Default())
	entry := b.CurBlock()

	b.Gen(ir.HintLoc, loc(0), ir.Int)
	require.Equal(t, 1, entry.Len())
	assert.Equal(t, ir.Int, b.FS().PredictedLocal(0))
	assert.Equal(t, ir.Cell, b.FS().LocalType(0), "a hint does not refine the known type")

	b.Gen(ir.HintLoc, loc(0), ir.Int)
	assert.Equal(t, 1, entry.Len(), "a hint the prediction already satisfies is dropped")

	b.Gen(ir.StLoc, loc(1), b.Unit().Cns(3))
	n := entry.Len()
	b.Gen(ir.HintLoc, loc(1), ir.Int)
	assert.Equal(t, n, entry.Len(), "a hint on a local of known type is dropped")
	assert.Equal(t, 0, b.Guards().Len(), "hints constrain nothing")
}
