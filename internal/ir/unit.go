package ir

import (
	"fmt"

	"tracejit/internal/errors"
)

// Unit owns every block, instruction and value of one compilation unit.
type Unit struct {
	entry    *Block
	blocks   []*Block
	layout   []*Block
	inLayout map[*Block]bool

	values      []*Value
	instCounter int
	constants   map[constKey]*Value
	initialSK   SrcKey
}

type constKey struct {
	typ Type
	val int64
}

// NewUnit creates a unit with an empty entry block.
func NewUnit(sk SrcKey) *Unit {
	u := &Unit{
		inLayout:  make(map[*Block]bool),
		constants: make(map[constKey]*Value),
		initialSK: sk,
	}
	u.entry = u.DefBlock(BlockMain, sk, 1)
	u.AppendToLayout(u.entry)
	return u
}

func (u *Unit) Entry() *Block { return u.entry }

// Blocks returns every block ever defined, in creation order.
func (u *Unit) Blocks() []*Block { return u.blocks }

// Layout returns the blocks registered for layout, in registration order.
func (u *Unit) Layout() []*Block { return u.layout }

func (u *Unit) NumValues() int { return len(u.values) }

func (u *Unit) NumInstrs() int { return u.instCounter }

// DefBlock creates a new block that is not yet reachable from anywhere.
func (u *Unit) DefBlock(kind BlockKind, sk SrcKey, profCount uint64) *Block {
	b := &Block{
		id:        len(u.blocks),
		kind:      kind,
		sk:        sk,
		profCount: profCount,
	}
	u.blocks = append(u.blocks, b)
	return b
}

// AppendToLayout registers b in the unit's layout order. Registering a block
// twice is a no-op.
func (u *Unit) AppendToLayout(b *Block) {
	if u.inLayout[b] {
		return
	}
	u.inLayout[b] = true
	u.layout = append(u.layout, b)
}

func (u *Unit) newValue(t Type, inst *Instr) *Value {
	v := &Value{id: len(u.values), typ: t, inst: inst}
	u.values = append(u.values, v)
	return v
}

func (u *Unit) cns(t Type, val int64) *Value {
	key := constKey{typ: t, val: val}
	if v, ok := u.constants[key]; ok {
		return v
	}
	v := u.newValue(t, nil)
	v.isConst = true
	v.constVal = val
	u.constants[key] = v
	return v
}

// Cns returns the canonical integer constant.
func (u *Unit) Cns(val int64) *Value { return u.cns(Int, val) }

// CnsBool returns the canonical boolean constant.
func (u *Unit) CnsBool(b bool) *Value {
	if b {
		return u.cns(Bool, 1)
	}
	return u.cns(Bool, 0)
}

// CnsNull returns the canonical null constant.
func (u *Unit) CnsNull() *Value { return u.cns(InitNull, 0) }

// Gen constructs an instruction without placing it in a block. Arguments
// are interpreted by type: *Value and []*Value are operands, *Block is the
// taken target, Type is the type parameter and Extra is the immediate.
func (u *Unit) Gen(op Opcode, marker BCMarker, args ...any) *Instr {
	inst := &Instr{id: u.nextInstID(), op: op, marker: marker}
	for _, arg := range args {
		switch a := arg.(type) {
		case *Value:
			inst.srcs = append(inst.srcs, a)
		case []*Value:
			inst.srcs = append(inst.srcs, a...)
		case *Block:
			inst.taken = a
		case Type:
			inst.typeParam = a
		case Extra:
			inst.extra = a
		default:
			errors.NewDiagnostic(errors.ErrorBadArgument,
				fmt.Sprintf("unexpected argument of type %T", arg)).
				ForOpcode(op).AtMarker(marker).Raise()
		}
	}
	u.validate(inst)
	if op.HasDst() && op != DefLabel {
		inst.dsts = []*Value{u.newValue(Bottom, inst)}
		inst.dsts[0].typ = inst.dstType()
	}
	return inst
}

func (u *Unit) validate(inst *Instr) {
	op := inst.op
	if n := op.NumSrcs(); n >= 0 && n != len(inst.srcs) {
		errors.NewDiagnostic(errors.ErrorOperandCount,
			fmt.Sprintf("%s expects %d operands, got %d", op, n, len(inst.srcs))).
			ForOpcode(op).AtMarker(inst.marker).Raise()
	}
	for _, s := range inst.srcs {
		if s == nil {
			errors.NewDiagnostic(errors.ErrorBadArgument, "nil operand").
				ForOpcode(op).AtMarker(inst.marker).Raise()
		}
	}
	want := opTable[op].extra
	switch {
	case want == eNone && inst.extra != nil:
		errors.NewDiagnostic(errors.ErrorBadArgument,
			fmt.Sprintf("%s takes no immediate, got %s", op, inst.extra)).
			ForOpcode(op).AtMarker(inst.marker).Raise()
	case want != eNone && (inst.extra == nil || inst.extra.kind() != want):
		errors.NewDiagnostic(errors.ErrorBadArgument,
			fmt.Sprintf("%s is missing its immediate", op)).
			ForOpcode(op).AtMarker(inst.marker).Raise()
	}
	if op == Jmp && inst.taken == nil {
		errors.NewDiagnostic(errors.ErrorBadArgument, "Jmp needs a target").
			ForOpcode(op).AtMarker(inst.marker).Raise()
	}
	if op.IsBranch() && inst.taken == nil {
		errors.NewDiagnostic(errors.ErrorBadArgument,
			fmt.Sprintf("%s needs a taken target", op)).
			ForOpcode(op).AtMarker(inst.marker).Raise()
	}
	if (op == LdLoc || op == LdStk) && inst.typeParam == Bottom {
		inst.typeParam = Cell
	}
}

// DefLabel constructs a label defining n block parameters. Their types start
// as Cell and are narrowed by ReflowTypes.
func (u *Unit) DefLabel(n int, marker BCMarker) *Instr {
	inst := &Instr{id: u.nextInstID(), op: DefLabel, marker: marker}
	for i := 0; i < n; i++ {
		inst.dsts = append(inst.dsts, u.newValue(Cell, inst))
	}
	return inst
}

// Clone copies inst with fresh result values. The copy is in no block.
func (u *Unit) Clone(inst *Instr) *Instr {
	c := &Instr{
		id:        u.nextInstID(),
		op:        inst.op,
		typeParam: inst.typeParam,
		extra:     inst.extra,
		srcs:      append([]*Value(nil), inst.srcs...),
		marker:    inst.marker,
		taken:     inst.taken,
	}
	for _, d := range inst.dsts {
		nd := u.newValue(d.typ, c)
		nd.predicted = d.predicted
		c.dsts = append(c.dsts, nd)
	}
	return c
}

// ReplaceWithMov turns inst into a copy of src, keeping inst's result value
// so existing uses stay valid.
func (u *Unit) ReplaceWithMov(inst *Instr, src *Value) {
	dst := inst.Dst()
	inst.op = Mov
	inst.typeParam = Bottom
	inst.extra = nil
	inst.taken = nil
	inst.srcs = []*Value{src}
	if dst != nil {
		inst.dsts = []*Value{dst}
		dst.typ = src.typ
	}
}

func (u *Unit) nextInstID() int {
	id := u.instCounter
	u.instCounter++
	return id
}
