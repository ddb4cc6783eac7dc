package simplify

import (
	"math"
	"math/bits"

	"tracejit/internal/ir"
)

// canonical follows Mov chains back to the original value.
func canonical(v *ir.Value) *ir.Value {
	for {
		inst := v.Inst()
		if inst == nil || inst.Op() != ir.Mov {
			return v
		}
		v = inst.Src(0)
	}
}

// CopyPropagation replaces operands defined by Mov with the moved value
type CopyPropagation struct{}

func (cp *CopyPropagation) Name() string {
	return "Copy Propagation"
}

func (cp *CopyPropagation) Description() string {
	return "Replaces copies with the value they copy"
}

// Apply rewrites operands in place. It only fires for Mov itself, whose
// result is the copied value.
func (cp *CopyPropagation) Apply(ctx *Context, inst *ir.Instr) (Result, bool) {
	for n, src := range inst.Srcs() {
		if c := canonical(src); c != src {
			inst.SetSrc(n, c)
		}
	}
	if inst.Op() == ir.Mov {
		return Result{Dst: inst.Src(0)}, true
	}
	return Result{}, false
}

// ConstantFolding evaluates integer operations on constants
type ConstantFolding struct{}

func (cf *ConstantFolding) Name() string {
	return "Constant Folding"
}

func (cf *ConstantFolding) Description() string {
	return "Evaluates integer arithmetic and comparisons on constants"
}

func (cf *ConstantFolding) Apply(ctx *Context, inst *ir.Instr) (Result, bool) {
	if inst.NumSrcs() != 2 {
		return Result{}, false
	}
	left, right := inst.Src(0), inst.Src(1)
	if !left.IsConst() || !right.IsConst() || left.Type() != ir.Int || right.Type() != ir.Int {
		return Result{}, false
	}

	result := cf.computeBinaryOp(inst.Op(), left.IntVal(), right.IntVal())
	switch r := result.(type) {
	case int64:
		return Result{Dst: ctx.Unit.Cns(r)}, true
	case bool:
		return Result{Dst: ctx.Unit.CnsBool(r)}, true
	}
	return Result{}, false
}

// computeBinaryOp returns an int64, a bool, or nil when the operation cannot
// be folded (it would trap at runtime, or it is not foldable).
func (cf *ConstantFolding) computeBinaryOp(op ir.Opcode, left, right int64) interface{} {
	switch op {
	case ir.AddInt:
		return left + right
	case ir.SubInt:
		return left - right
	case ir.MulInt:
		return left * right
	case ir.DivInt:
		if right != 0 && !(left == math.MinInt64 && right == -1) {
			return left / right
		}
	case ir.Shl:
		if right >= 0 && right < 64 {
			return left << uint(right)
		}
	case ir.LtInt:
		return left < right
	case ir.GtInt:
		return left > right
	case ir.EqInt:
		return left == right
	}

	return nil // Cannot fold
}

// AlgebraicIdentities removes operations whose result is already known
type AlgebraicIdentities struct{}

func (ai *AlgebraicIdentities) Name() string {
	return "Algebraic Identities"
}

func (ai *AlgebraicIdentities) Description() string {
	return "Applies x+0, x-0, x*1, x*0, x/1, x-x and self-comparison identities"
}

func isCns(v *ir.Value, val int64) bool {
	return v.IsConst() && v.Type() == ir.Int && v.IntVal() == val
}

func (ai *AlgebraicIdentities) Apply(ctx *Context, inst *ir.Instr) (Result, bool) {
	if inst.NumSrcs() != 2 {
		return Result{}, false
	}
	left, right := inst.Src(0), inst.Src(1)
	same := left == right

	switch inst.Op() {
	case ir.AddInt:
		if isCns(right, 0) {
			return Result{Dst: left}, true
		}
		if isCns(left, 0) {
			return Result{Dst: right}, true
		}
	case ir.SubInt:
		if isCns(right, 0) {
			return Result{Dst: left}, true
		}
		if same {
			return Result{Dst: ctx.Unit.Cns(0)}, true
		}
	case ir.MulInt:
		if isCns(right, 1) {
			return Result{Dst: left}, true
		}
		if isCns(left, 1) {
			return Result{Dst: right}, true
		}
		if isCns(left, 0) || isCns(right, 0) {
			return Result{Dst: ctx.Unit.Cns(0)}, true
		}
	case ir.DivInt:
		if isCns(right, 1) {
			return Result{Dst: left}, true
		}
	case ir.Shl:
		if isCns(right, 0) {
			return Result{Dst: left}, true
		}
	case ir.EqInt:
		if same {
			return Result{Dst: ctx.Unit.CnsBool(true)}, true
		}
	case ir.LtInt, ir.GtInt:
		if same {
			return Result{Dst: ctx.Unit.CnsBool(false)}, true
		}
	}
	return Result{}, false
}

// StrengthReduction replaces multiplication by a power of two with a shift
type StrengthReduction struct{}

func (sr *StrengthReduction) Name() string {
	return "Strength Reduction"
}

func (sr *StrengthReduction) Description() string {
	return "Rewrites x * 2^k as x << k"
}

func powerOfTwo(v *ir.Value) (int, bool) {
	if !v.IsConst() || v.Type() != ir.Int || v.IntVal() <= 1 {
		return 0, false
	}
	u := uint64(v.IntVal())
	if u&(u-1) != 0 {
		return 0, false
	}
	return bits.TrailingZeros64(u), true
}

func (sr *StrengthReduction) Apply(ctx *Context, inst *ir.Instr) (Result, bool) {
	if inst.Op() != ir.MulInt {
		return Result{}, false
	}
	x, k := inst.Src(0), inst.Src(1)
	shift, ok := powerOfTwo(k)
	if !ok {
		x, k = k, x
		if shift, ok = powerOfTwo(k); !ok {
			return Result{}, false
		}
	}
	shl := ctx.Unit.Gen(ir.Shl, inst.Marker(), x, ctx.Unit.Cns(int64(shift)))
	return Result{Dst: shl.Dst(), Instrs: []*ir.Instr{shl}}, true
}

// BranchFolding resolves conditional branches on constants
type BranchFolding struct{}

func (bf *BranchFolding) Name() string {
	return "Branch Folding"
}

func (bf *BranchFolding) Description() string {
	return "Turns conditional branches on constants into jumps or fallthrough"
}

func (bf *BranchFolding) Apply(ctx *Context, inst *ir.Instr) (Result, bool) {
	op := inst.Op()
	if op != ir.JmpZero && op != ir.JmpNZero {
		return Result{}, false
	}
	cond := inst.Src(0)
	if !cond.IsConst() {
		return Result{}, false
	}
	taken := (cond.IntVal() != 0) == (op == ir.JmpNZero)
	if !taken {
		return Result{Drop: true}, true
	}
	jmp := ctx.Unit.Gen(ir.Jmp, inst.Marker(), inst.Taken())
	return Result{Instrs: []*ir.Instr{jmp}, Drop: true}, true
}

// ConversionElimination removes conversions of values that already have the
// target type
type ConversionElimination struct{}

func (ce *ConversionElimination) Name() string {
	return "Conversion Elimination"
}

func (ce *ConversionElimination) Description() string {
	return "Removes ConvCellToInt on Int values and folds it on constants"
}

func (ce *ConversionElimination) Apply(ctx *Context, inst *ir.Instr) (Result, bool) {
	if inst.Op() != ir.ConvCellToInt {
		return Result{}, false
	}
	src := inst.Src(0)
	if src.IsConst() {
		switch {
		case src.Type() == ir.Int:
			return Result{Dst: src}, true
		case src.Type() == ir.Bool:
			return Result{Dst: ctx.Unit.Cns(src.IntVal())}, true
		case src.Type().SubtypeOf(ir.Null):
			return Result{Dst: ctx.Unit.Cns(0)}, true
		}
		return Result{}, false
	}
	if src.Type().SubtypeOf(ir.Int) && !ctx.mightRelax(src) {
		return Result{Dst: src}, true
	}
	return Result{}, false
}
