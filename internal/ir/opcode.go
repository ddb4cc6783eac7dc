package ir

// Opcode identifies an IR operation. The static table below describes each
// opcode's operands, result and control-flow behavior.
type Opcode uint8

const (
	DefLabel Opcode = iota
	Jmp
	JmpZero
	JmpNZero
	Halt
	ReqRetranslate
	BeginCatch
	EndCatch
	Mov
	AddInt
	SubInt
	MulInt
	Shl
	DivInt
	LtInt
	GtInt
	EqInt
	ConvCellToInt
	CallBuiltin
	LdLoc
	StLoc
	LdStk
	StStk
	CheckType
	AssertType
	CheckLoc
	AssertLoc
	HintLoc
	CheckStk
	AssertStk
	CastStk
	CoerceStk
	LdCtx
	CheckCtxThis
	SyncStack

	numOpcodes
)

type opFlag uint16

const (
	// fTerminal instructions end their block and have no fallthrough.
	fTerminal opFlag = 1 << iota
	// fBranch instructions end their block with a taken edge and a next edge.
	fBranch
	// fGuard instructions side-exit to their taken block on failure.
	fGuard
	// fCanThrow instructions unwind to a catch block.
	fCanThrow
	fPure
	// fPassthrough instructions produce a copy of src 0, possibly refined.
	fPassthrough
	fModStack
	fVariadic
)

type dstKind uint8

const (
	dNone dstKind = iota
	// dFixed produces opInfo.dstType.
	dFixed
	// dParam produces the instruction's type parameter.
	dParam
	// dParamAndSrc produces the meet of the type parameter and src 0.
	dParamAndSrc
	// dSrc produces src 0's type.
	dSrc
	// dMulti produces one value per block parameter.
	dMulti
)

type extraKind uint8

const (
	eNone extraKind = iota
	eLocal
	eStack
	eSpOffset
	eCallTarget
)

type opInfo struct {
	name     string
	srcTypes []Type
	dst      dstKind
	dstType  Type
	extra    extraKind
	flags    opFlag
}

var opTable = [numOpcodes]opInfo{
	DefLabel:       {name: "DefLabel", dst: dMulti},
	Jmp:            {name: "Jmp", srcTypes: []Type{Top}, flags: fTerminal | fVariadic},
	JmpZero:        {name: "JmpZero", srcTypes: []Type{Bool | Int}, flags: fBranch},
	JmpNZero:       {name: "JmpNZero", srcTypes: []Type{Bool | Int}, flags: fBranch},
	Halt:           {name: "Halt", flags: fTerminal},
	ReqRetranslate: {name: "ReqRetranslate", flags: fTerminal},
	BeginCatch:     {name: "BeginCatch"},
	EndCatch:       {name: "EndCatch", extra: eSpOffset, flags: fTerminal | fModStack},
	Mov:            {name: "Mov", srcTypes: []Type{Top}, dst: dSrc, flags: fPure | fPassthrough},
	AddInt:         {name: "AddInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Int, flags: fPure},
	SubInt:         {name: "SubInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Int, flags: fPure},
	MulInt:         {name: "MulInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Int, flags: fPure},
	Shl:            {name: "Shl", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Int, flags: fPure},
	DivInt:         {name: "DivInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Int, flags: fCanThrow},
	LtInt:          {name: "LtInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Bool, flags: fPure},
	GtInt:          {name: "GtInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Bool, flags: fPure},
	EqInt:          {name: "EqInt", srcTypes: []Type{Int, Int}, dst: dFixed, dstType: Bool, flags: fPure},
	ConvCellToInt:  {name: "ConvCellToInt", srcTypes: []Type{Cell}, dst: dFixed, dstType: Int, flags: fCanThrow},
	CallBuiltin:    {name: "CallBuiltin", srcTypes: []Type{Cell}, dst: dFixed, dstType: Cell, extra: eCallTarget, flags: fCanThrow | fVariadic},
	LdLoc:          {name: "LdLoc", dst: dParam, extra: eLocal},
	StLoc:          {name: "StLoc", srcTypes: []Type{Cell}, extra: eLocal},
	LdStk:          {name: "LdStk", dst: dParam, extra: eStack},
	StStk:          {name: "StStk", srcTypes: []Type{Cell}, extra: eStack, flags: fModStack},
	CheckType:      {name: "CheckType", srcTypes: []Type{Cell}, dst: dParamAndSrc, flags: fGuard | fPassthrough},
	AssertType:     {name: "AssertType", srcTypes: []Type{Cell}, dst: dParamAndSrc, flags: fPassthrough},
	CheckLoc:       {name: "CheckLoc", extra: eLocal, flags: fGuard},
	AssertLoc:      {name: "AssertLoc", extra: eLocal},
	HintLoc:        {name: "HintLoc", extra: eLocal},
	CheckStk:       {name: "CheckStk", extra: eStack, flags: fGuard},
	AssertStk:      {name: "AssertStk", extra: eStack},
	CastStk:        {name: "CastStk", extra: eStack, flags: fCanThrow | fModStack},
	CoerceStk:      {name: "CoerceStk", extra: eStack, flags: fCanThrow | fModStack},
	LdCtx:          {name: "LdCtx", dst: dFixed, dstType: Ctx},
	CheckCtxThis:   {name: "CheckCtxThis", srcTypes: []Type{Ctx}, flags: fGuard},
	SyncStack:      {name: "SyncStack", extra: eSpOffset, flags: fModStack},
}

func (op Opcode) String() string {
	if op >= numOpcodes {
		return "Opcode(?)"
	}
	return opTable[op].name
}

// OpcodeByName resolves an opcode from its printed name.
func OpcodeByName(name string) (Opcode, bool) {
	for op := Opcode(0); op < numOpcodes; op++ {
		if opTable[op].name == name {
			return op, true
		}
	}
	return 0, false
}

// Opcodes returns every opcode in table order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, numOpcodes)
	for op := Opcode(0); op < numOpcodes; op++ {
		ops = append(ops, op)
	}
	return ops
}

func (op Opcode) has(f opFlag) bool { return opTable[op].flags&f != 0 }

func (op Opcode) IsTerminal() bool    { return op.has(fTerminal) }
func (op Opcode) IsBranch() bool      { return op.has(fBranch) }
func (op Opcode) IsBlockEnd() bool    { return op.has(fTerminal | fBranch) }
func (op Opcode) IsGuard() bool       { return op.has(fGuard) }
func (op Opcode) CanThrow() bool      { return op.has(fCanThrow) }
func (op Opcode) IsPure() bool        { return op.has(fPure) }
func (op Opcode) IsPassthrough() bool { return op.has(fPassthrough) }
func (op Opcode) ModifiesStack() bool { return op.has(fModStack) }
func (op Opcode) IsVariadic() bool    { return op.has(fVariadic) }

// HasDst reports whether the opcode produces at least one value.
func (op Opcode) HasDst() bool { return opTable[op].dst != dNone }

// NumSrcs returns the fixed operand count, or -1 for variadic opcodes.
func (op Opcode) NumSrcs() int {
	if op.IsVariadic() {
		return -1
	}
	return len(opTable[op].srcTypes)
}

// SrcType returns the type accepted for operand i.
func (op Opcode) SrcType(i int) Type {
	types := opTable[op].srcTypes
	if len(types) == 0 {
		return Bottom
	}
	if i >= len(types) {
		return types[len(types)-1]
	}
	return types[i]
}
