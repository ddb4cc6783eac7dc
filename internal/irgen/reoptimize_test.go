package irgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracejit/internal/config"
	"tracejit/internal/guard"
	"tracejit/internal/ir"
)

func guardsOf(blk *ir.Block) map[int]ir.Type {
	out := make(map[int]ir.Type)
	for _, inst := range blk.Instrs() {
		if inst.IsGuard() {
			out[inst.ID()] = inst.TypeParam()
		}
	}
	return out
}

func TestReoptimizeRelaxesGuards(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	entry := b.CurBlock()

	err := b.Translate(func(b *Builder) {
		b.Gen(ir.CheckLoc, loc(0), ir.Int)
		b.Gen(ir.CheckLoc, loc(1), ir.Int)
		b.Gen(ir.CheckStk, stk(0), ir.CountedStr)

		x := b.Gen(ir.LdLoc, loc(0))
		b.Gen(ir.StLoc, loc(2), b.Gen(ir.AddInt, x, u.Cns(1)))
		b.StackType(0, guard.TypeConstraint{Category: guard.Countness})
		b.Gen(ir.Halt)
	})
	require.NoError(t, err)
	first := guardsOf(entry)
	require.Len(t, first, 3)

	b.Reoptimize()
	assert.Equal(t, Second, b.Pass())

	second := guardsOf(entry)
	assert.Len(t, second, 2, "the unused local guard is dropped")
	for id, t2 := range second {
		t1, ok := first[id]
		require.True(t, ok, "second pass must not invent guards")
		assert.True(t, t1.SubtypeOf(t2), "guard %d got stronger: %s -> %s", id, t1, t2)
	}

	var stkGuard, locGuard *ir.Instr
	for _, inst := range entry.Instrs() {
		switch inst.Op() {
		case ir.CheckStk:
			stkGuard = inst
		case ir.CheckLoc:
			locGuard = inst
		}
	}
	require.NotNil(t, stkGuard)
	require.NotNil(t, locGuard)
	assert.Equal(t, ir.Counted, stkGuard.TypeParam())
	assert.Equal(t, ir.Int, locGuard.TypeParam())
	assert.Equal(t, uint32(0), locGuard.Local())

	assert.Empty(t, ir.Check(u))
}

func TestReoptimizeWithoutConstraintsKeepsGuards(t *testing.T) {
	opts := config.Default()
	opts.ConstrainGuards = false
	b := newBuilder(t, opts)
	entry := b.CurBlock()

	require.NoError(t, b.Translate(func(b *Builder) {
		b.Gen(ir.CheckLoc, loc(0), ir.Int)
		b.Gen(ir.CheckStk, stk(1), ir.Dbl)
		b.Gen(ir.Halt)
	}))
	first := guardsOf(entry)

	b.Reoptimize()
	assert.Equal(t, first, guardsOf(entry))
	assert.Equal(t, 0, b.Guards().Len())
}

func TestReoptimizeKeepsResultIdentity(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	entry := b.CurBlock()

	var checked *ir.Value
	require.NoError(t, b.Translate(func(b *Builder) {
		v := b.Gen(ir.LdLoc, loc(1))
		checked = b.Gen(ir.CheckType, v, ir.Int)
		b.Gen(ir.StStk, stk(0), checked)
		b.Gen(ir.Halt)
	}))
	require.Equal(t, ir.CheckType, checked.Inst().Op())

	// Nothing relied on the Int, so the check goes away but the value it
	// produced stays defined.
	b.Reoptimize()
	assert.Equal(t, ir.Mov, checked.Inst().Op())
	assert.Same(t, entry, checked.Inst().Block())
	assert.Equal(t, ir.Cell, checked.Type())
	assert.Empty(t, ir.Check(u))
}

func TestReoptimizeLoop(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	header := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 1}, 10)
	body := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 2}, 10)
	exit := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 3}, 1)

	require.NoError(t, b.Translate(func(b *Builder) {
		b.Gen(ir.CheckLoc, loc(0), ir.Int)
		b.Gen(ir.Jmp, header, b.Gen(ir.LdLoc, loc(0)))

		b.MustStartBlock(header, true)
		i := b.DefLabel(1)[0]
		header.SetNext(body)
		b.Gen(ir.JmpNZero, b.Gen(ir.GtInt, i, u.Cns(100)), exit)

		b.MustStartBlock(body, false)
		b.Gen(ir.Jmp, header, b.Gen(ir.MulInt, i, u.Cns(2)))

		b.MustStartBlock(exit, false)
		b.Gen(ir.Halt)
	}))
	require.Empty(t, ir.Check(u))

	b.Reoptimize()
	assert.Empty(t, ir.Check(u))
	assert.Equal(t, ir.Int, header.Label().Dst().Type())
	assert.Equal(t, ir.Shl, body.Instrs()[0].Op(), "multiplication by two is still a shift")

	var kept bool
	for _, inst := range u.Entry().Instrs() {
		kept = kept || inst.Op() == ir.CheckLoc
	}
	assert.True(t, kept, "the loop relies on the entry guard")
}

func TestReoptimizeKeepsGuardsFeedingBackEdges(t *testing.T) {
	b := newBuilder(t, config.Default())
	u := b.Unit()
	header := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 1}, 10)
	body := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 2}, 10)
	exit := b.MakeBlock(ir.SrcKey{Func: 1, Offset: 3}, 1)

	var checked *ir.Value
	require.NoError(t, b.Translate(func(b *Builder) {
		b.Gen(ir.Jmp, header, u.Cns(0))

		b.MustStartBlock(header, true)
		i := b.DefLabel(1)[0]
		header.SetNext(body)
		b.Gen(ir.JmpNZero, b.Gen(ir.GtInt, i, u.Cns(100)), exit)

		// The only Int flowing in over the back edge comes from this check,
		// linked after the header already relied on the parameter.
		b.MustStartBlock(body, false)
		checked = b.Gen(ir.CheckType, b.Gen(ir.LdLoc, loc(5)), ir.Int)
		b.Gen(ir.Jmp, header, checked)

		b.MustStartBlock(exit, false)
		b.Gen(ir.Halt)
	}))
	require.Empty(t, ir.Check(u))

	check := checked.Inst()
	assert.Equal(t, guard.Specific, b.Guards().Current(guard.GuardTarget(check.ID())).Category)

	b.Reoptimize()
	assert.Equal(t, ir.CheckType, check.Op(), "the back-edge guard must survive relaxation")
	assert.Equal(t, ir.Int, check.TypeParam())
	assert.Equal(t, ir.Int, header.Label().Dst().Type())
	assert.Empty(t, ir.Check(u))
}
