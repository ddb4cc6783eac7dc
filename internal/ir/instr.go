package ir

import (
	"fmt"
	"strings"
)

// Value is an SSA value. It is produced by exactly one instruction, or it is
// a graph-level constant owned by the Unit.
type Value struct {
	id        int
	typ       Type
	predicted Type
	inst      *Instr
	constVal  int64
	isConst   bool
}

func (v *Value) ID() int { return v.id }

func (v *Value) Type() Type { return v.typ }

// Predicted is the profiled type of the value, or the static type when no
// prediction was recorded.
func (v *Value) Predicted() Type {
	if v.predicted == Bottom {
		return v.typ
	}
	return v.predicted
}

func (v *Value) SetPredicted(t Type) { v.predicted = t }

// Inst returns the producing instruction, or nil for constants.
func (v *Value) Inst() *Instr { return v.inst }

func (v *Value) IsConst() bool { return v.isConst }

// IntVal returns the constant payload. Booleans are 0 or 1.
func (v *Value) IntVal() int64 { return v.constVal }

func (v *Value) String() string {
	if v.isConst {
		switch {
		case v.typ == Bool && v.constVal != 0:
			return "true"
		case v.typ == Bool:
			return "false"
		case v.typ.SubtypeOf(Null):
			return "null"
		}
		return fmt.Sprintf("%d", v.constVal)
	}
	return fmt.Sprintf("t%d:%s", v.id, v.typ)
}

// Extra is opcode-specific immediate data.
type Extra interface {
	String() string
	kind() extraKind
}

// LocalID names a local variable slot.
type LocalID struct{ ID uint32 }

// StackOffset names an eval-stack slot relative to the current stack top.
type StackOffset struct{ Offset int32 }

// SpOffset is an absolute stack depth.
type SpOffset struct{ Offset int32 }

// CallTarget names the builtin a CallBuiltin invokes.
type CallTarget struct{ Name string }

func (l LocalID) String() string     { return fmt.Sprintf("L%d", l.ID) }
func (s StackOffset) String() string { return fmt.Sprintf("S%d", s.Offset) }
func (s SpOffset) String() string    { return fmt.Sprintf("sp%d", s.Offset) }
func (c CallTarget) String() string  { return c.Name }

func (LocalID) kind() extraKind     { return eLocal }
func (StackOffset) kind() extraKind { return eStack }
func (SpOffset) kind() extraKind    { return eSpOffset }
func (CallTarget) kind() extraKind  { return eCallTarget }

// Instr is a single IR instruction. It belongs to at most one block at a time.
type Instr struct {
	id        int
	op        Opcode
	typeParam Type
	extra     Extra
	srcs      []*Value
	dsts      []*Value
	marker    BCMarker
	block     *Block
	taken     *Block
}

func (i *Instr) ID() int                { return i.id }
func (i *Instr) Op() Opcode             { return i.op }
func (i *Instr) TypeParam() Type        { return i.typeParam }
func (i *Instr) Extra() Extra           { return i.extra }
func (i *Instr) Marker() BCMarker       { return i.marker }
func (i *Instr) Block() *Block          { return i.block }
func (i *Instr) Taken() *Block          { return i.taken }
func (i *Instr) Srcs() []*Value         { return i.srcs }
func (i *Instr) NumSrcs() int           { return len(i.srcs) }
func (i *Instr) Src(n int) *Value       { return i.srcs[n] }
func (i *Instr) Dsts() []*Value         { return i.dsts }
func (i *Instr) IsBlockEnd() bool       { return i.op.IsBlockEnd() }
func (i *Instr) CanThrow() bool         { return i.op.CanThrow() }
func (i *Instr) IsGuard() bool          { return i.op.IsGuard() }
func (i *Instr) SetMarker(m BCMarker)   { i.marker = m }
func (i *Instr) SetTaken(b *Block)      { i.taken = b }
func (i *Instr) SetSrc(n int, v *Value) { i.srcs[n] = v }

// Dst returns the single result, or nil when the instruction has none.
func (i *Instr) Dst() *Value {
	if len(i.dsts) == 0 {
		return nil
	}
	return i.dsts[0]
}

// Local returns the local slot for instructions carrying a LocalID.
func (i *Instr) Local() uint32 {
	return i.extra.(LocalID).ID
}

// Offset returns the stack offset for instructions carrying a StackOffset.
func (i *Instr) Offset() int32 {
	return i.extra.(StackOffset).Offset
}

// SetTypeParam changes the type parameter and recomputes the result type.
func (i *Instr) SetTypeParam(t Type) {
	i.typeParam = t
	if d := i.Dst(); d != nil {
		d.typ = i.dstType()
	}
}

func (i *Instr) dstType() Type {
	info := opTable[i.op]
	switch info.dst {
	case dFixed:
		return info.dstType
	case dParam:
		return i.typeParam
	case dParamAndSrc:
		return i.typeParam.And(i.srcs[0].typ)
	case dSrc:
		return i.srcs[0].typ
	}
	return Bottom
}

func (i *Instr) String() string {
	var sb strings.Builder
	if len(i.dsts) > 0 {
		for n, d := range i.dsts {
			if n > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.String())
		}
		sb.WriteString(" = ")
	}
	sb.WriteString(i.op.String())
	if i.typeParam != Bottom {
		fmt.Fprintf(&sb, "<%s>", i.typeParam)
	}
	if i.extra != nil {
		fmt.Fprintf(&sb, " [%s]", i.extra)
	}
	for n, s := range i.srcs {
		if n == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(s.String())
	}
	if i.taken != nil {
		fmt.Fprintf(&sb, " -> B%d", i.taken.id)
	}
	return sb.String()
}

// BlockKind hints at where a block will be laid out.
type BlockKind uint8

const (
	BlockMain BlockKind = iota
	BlockExit
	BlockCatch
)

func (k BlockKind) String() string {
	switch k {
	case BlockExit:
		return "exit"
	case BlockCatch:
		return "catch"
	}
	return "main"
}

// Block is an ordered list of instructions with at most one block-ending
// instruction, which must be last. A block has a next edge (fallthrough of a
// conditional branch) and the taken edges of its instructions.
type Block struct {
	id        int
	kind      BlockKind
	sk        SrcKey
	profCount uint64
	instrs    []*Instr
	next      *Block
}

func (b *Block) ID() int             { return b.id }
func (b *Block) Kind() BlockKind     { return b.kind }
func (b *Block) SrcKey() SrcKey      { return b.sk }
func (b *Block) ProfCount() uint64   { return b.profCount }
func (b *Block) Instrs() []*Instr    { return b.instrs }
func (b *Block) Len() int            { return len(b.instrs) }
func (b *Block) Empty() bool         { return len(b.instrs) == 0 }
func (b *Block) Next() *Block        { return b.next }
func (b *Block) SetNext(next *Block) { b.next = next }

// Back returns the last instruction, or nil for an empty block.
func (b *Block) Back() *Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	return b.instrs[len(b.instrs)-1]
}

// Front returns the first instruction, or nil for an empty block.
func (b *Block) Front() *Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	return b.instrs[0]
}

// Terminated reports whether the block already ends in a block-end
// instruction.
func (b *Block) Terminated() bool {
	back := b.Back()
	return back != nil && back.IsBlockEnd()
}

// Label returns the DefLabel at the head of the block, if any.
func (b *Block) Label() *Instr {
	if f := b.Front(); f != nil && f.op == DefLabel {
		return f
	}
	return nil
}

// Push appends inst to the block, moving ownership of inst to b.
func (b *Block) Push(inst *Instr) {
	inst.block = b
	b.instrs = append(b.instrs, inst)
}

// InsertBefore places inst immediately before pos, which must be in b.
func (b *Block) InsertBefore(pos, inst *Instr) {
	for n, cur := range b.instrs {
		if cur == pos {
			inst.block = b
			b.instrs = append(b.instrs[:n+1], b.instrs[n:]...)
			b.instrs[n] = inst
			return
		}
	}
	b.Push(inst)
}

// TakeInstrs detaches and returns every instruction in the block.
func (b *Block) TakeInstrs() []*Instr {
	out := b.instrs
	b.instrs = nil
	for _, inst := range out {
		inst.block = nil
	}
	return out
}

// Succs returns the distinct successors of the block: taken edges of its
// instructions in order, then the next edge unless the block ends in a
// terminal.
func (b *Block) Succs() []*Block {
	var out []*Block
	seen := make(map[*Block]bool)
	add := func(s *Block) {
		if s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, inst := range b.instrs {
		add(inst.taken)
	}
	if back := b.Back(); back == nil || !back.op.IsTerminal() {
		add(b.next)
	}
	return out
}

func (b *Block) String() string {
	return fmt.Sprintf("B%d", b.id)
}
