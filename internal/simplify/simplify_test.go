package simplify

import (
	"testing"

	"tracejit/internal/ir"
)

func newContext() (*Context, ir.BCMarker) {
	return &Context{Unit: ir.NewUnit(ir.SrcKey{})}, ir.DummyMarker()
}

func TestNewPipeline(t *testing.T) {
	p := NewPipeline()

	if len(p.Rules()) == 0 {
		t.Fatal("Pipeline should have rules")
	}
	if _, ok := p.Rules()[0].(*CopyPropagation); !ok {
		t.Error("copy propagation should run first")
	}
	for _, r := range p.Rules() {
		if r.Name() == "" || r.Description() == "" {
			t.Errorf("rule %T is missing a name or description", r)
		}
	}
}

func TestConstantFolding(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit
	p := NewPipeline()

	tests := []struct {
		op   ir.Opcode
		l, r int64
		want *ir.Value
	}{
		{ir.AddInt, 2, 3, u.Cns(5)},
		{ir.SubInt, 2, 3, u.Cns(-1)},
		{ir.MulInt, 6, 7, u.Cns(42)},
		{ir.DivInt, 9, 2, u.Cns(4)},
		{ir.LtInt, 1, 2, u.CnsBool(true)},
		{ir.GtInt, 1, 2, u.CnsBool(false)},
		{ir.EqInt, 4, 4, u.CnsBool(true)},
	}

	for _, tt := range tests {
		inst := u.Gen(tt.op, m, u.Cns(tt.l), u.Cns(tt.r))
		res := p.Simplify(ctx, inst)
		if res.Dst != tt.want {
			t.Errorf("%s %d, %d folded to %v, want %v", tt.op, tt.l, tt.r, res.Dst, tt.want)
		}
	}
}

func TestDivisionThatTrapsIsNotFolded(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit

	res := NewPipeline().Simplify(ctx, u.Gen(ir.DivInt, m, u.Cns(1), u.Cns(0)))
	if res.Changed() {
		t.Errorf("division by zero must stay, got %+v", res)
	}
}

func TestIdentities(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit
	p := NewPipeline()
	x := u.Gen(ir.LdLoc, m, ir.LocalID{ID: 0}, ir.Int).Dst()

	cases := []struct {
		inst *ir.Instr
		want *ir.Value
	}{
		{u.Gen(ir.AddInt, m, x, u.Cns(0)), x},
		{u.Gen(ir.AddInt, m, u.Cns(0), x), x},
		{u.Gen(ir.SubInt, m, x, x), u.Cns(0)},
		{u.Gen(ir.MulInt, m, x, u.Cns(1)), x},
		{u.Gen(ir.MulInt, m, u.Cns(0), x), u.Cns(0)},
		{u.Gen(ir.DivInt, m, x, u.Cns(1)), x},
		{u.Gen(ir.EqInt, m, x, x), u.CnsBool(true)},
		{u.Gen(ir.LtInt, m, x, x), u.CnsBool(false)},
	}

	for _, c := range cases {
		if got := p.Simplify(ctx, c.inst).Dst; got != c.want {
			t.Errorf("%s simplified to %v, want %v", c.inst, got, c.want)
		}
	}
}

func TestStrengthReduction(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit
	x := u.Gen(ir.LdLoc, m, ir.LocalID{ID: 0}, ir.Int).Dst()

	res := NewPipeline().Simplify(ctx, u.Gen(ir.MulInt, m, u.Cns(8), x))
	if len(res.Instrs) != 1 {
		t.Fatalf("expected one extra instruction, got %d", len(res.Instrs))
	}
	shl := res.Instrs[0]
	if shl.Op() != ir.Shl || shl.Src(0) != x || shl.Src(1) != u.Cns(3) {
		t.Errorf("unexpected rewrite %s", shl)
	}
	if res.Dst != shl.Dst() {
		t.Error("result should be the shift's value")
	}

	res = NewPipeline().Simplify(ctx, u.Gen(ir.MulInt, m, x, u.Cns(6)))
	if res.Changed() {
		t.Error("6 is not a power of two")
	}
}

func TestCopyPropagation(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit
	x := u.Gen(ir.LdLoc, m, ir.LocalID{ID: 0}, ir.Int).Dst()
	mov1 := u.Gen(ir.Mov, m, x)
	mov2 := u.Gen(ir.Mov, m, mov1.Dst())

	add := u.Gen(ir.AddInt, m, mov2.Dst(), u.Cns(2))
	res := NewPipeline().Simplify(ctx, add)
	if res.Changed() {
		t.Errorf("nothing to fold, got %+v", res)
	}
	if add.Src(0) != x {
		t.Errorf("operand should be the original value, got %s", add.Src(0))
	}

	if got := NewPipeline().Simplify(ctx, mov2).Dst; got != x {
		t.Errorf("Mov should simplify to its source, got %v", got)
	}
}

func TestBranchFolding(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit
	target := u.DefBlock(ir.BlockMain, ir.SrcKey{Offset: 1}, 1)
	p := NewPipeline()

	res := p.Simplify(ctx, u.Gen(ir.JmpNZero, m, u.CnsBool(true), target))
	if !res.Drop || len(res.Instrs) != 1 || res.Instrs[0].Op() != ir.Jmp || res.Instrs[0].Taken() != target {
		t.Errorf("taken branch should become a Jmp, got %+v", res)
	}

	res = p.Simplify(ctx, u.Gen(ir.JmpNZero, m, u.Cns(0), target))
	if !res.Drop || len(res.Instrs) != 0 {
		t.Errorf("untaken branch should fall through, got %+v", res)
	}

	res = p.Simplify(ctx, u.Gen(ir.JmpZero, m, u.Cns(0), target))
	if !res.Drop || len(res.Instrs) != 1 {
		t.Errorf("JmpZero on 0 is taken, got %+v", res)
	}
}

func TestConversionRespectsRelaxation(t *testing.T) {
	ctx, m := newContext()
	u := ctx.Unit
	x := u.Gen(ir.LdLoc, m, ir.LocalID{ID: 0}, ir.Int).Dst()
	p := NewPipeline()

	if got := p.Simplify(ctx, u.Gen(ir.ConvCellToInt, m, x)).Dst; got != x {
		t.Errorf("conversion of an Int should be dropped, got %v", got)
	}

	ctx.MightRelax = func(*ir.Value) bool { return true }
	if res := p.Simplify(ctx, u.Gen(ir.ConvCellToInt, m, x)); res.Changed() {
		t.Error("conversion must stay while the type might relax")
	}

	if got := p.Simplify(ctx, u.Gen(ir.ConvCellToInt, m, u.CnsBool(true))).Dst; got != u.Cns(1) {
		t.Errorf("true converts to 1, got %v", got)
	}
}
