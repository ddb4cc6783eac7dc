package ir

// This file describes the side effects of instructions on frame state:
// which locals and stack slots they read or write and whether they can leave
// the block other than through their result.

import "fmt"

// EffectKind classifies one effect of an instruction
type EffectKind uint8

const (
	PureEffect EffectKind = iota
	LocalRead
	LocalWrite
	// AllLocalsWrite may clobber any local, as calls into the runtime do.
	AllLocalsWrite
	StackRead
	StackWrite
	// StackSync moves the stack pointer to an absolute depth.
	StackSync
	ThrowEffect
	ExitEffect
)

var effectNames = [...]string{
	PureEffect:     "pure",
	LocalRead:      "ld-loc",
	LocalWrite:     "st-loc",
	AllLocalsWrite: "st-all-locs",
	StackRead:      "ld-stk",
	StackWrite:     "st-stk",
	StackSync:      "sync-sp",
	ThrowEffect:    "throw",
	ExitEffect:     "exit",
}

func (k EffectKind) String() string {
	if int(k) < len(effectNames) {
		return effectNames[k]
	}
	return "unknown"
}

func (e Effect) String() string {
	switch e.Kind {
	case LocalRead, LocalWrite, StackRead, StackWrite, StackSync:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Slot)
	}
	return e.Kind.String()
}

// Effect is a single side effect. Slot is the local id or stack offset the
// effect applies to, when the kind names one.
type Effect struct {
	Kind EffectKind
	Slot int64
}

// Effects returns the side effects of inst. Pure instructions return a
// single PureEffect.
func (i *Instr) Effects() []Effect {
	var effects []Effect
	switch i.op {
	case LdLoc, CheckLoc, AssertLoc:
		effects = append(effects, Effect{Kind: LocalRead, Slot: int64(i.Local())})
	case StLoc:
		effects = append(effects, Effect{Kind: LocalWrite, Slot: int64(i.Local())})
	case LdStk, CheckStk, AssertStk:
		effects = append(effects, Effect{Kind: StackRead, Slot: int64(i.Offset())})
	case CallBuiltin:
		effects = append(effects, Effect{Kind: AllLocalsWrite})
	}
	if i.op.ModifiesStack() {
		switch x := i.extra.(type) {
		case StackOffset:
			effects = append(effects, Effect{Kind: StackWrite, Slot: int64(x.Offset)})
		case SpOffset:
			effects = append(effects, Effect{Kind: StackSync, Slot: int64(x.Offset)})
		}
	}
	if i.op.IsGuard() {
		effects = append(effects, Effect{Kind: ExitEffect})
	}
	if i.op.CanThrow() {
		effects = append(effects, Effect{Kind: ThrowEffect})
	}
	if len(effects) == 0 {
		effects = append(effects, Effect{Kind: PureEffect})
	}
	return effects
}

// HasSideEffects reports whether removing inst, when its result is unused,
// would change behavior.
func (i *Instr) HasSideEffects() bool {
	if i.op.IsBlockEnd() || i.op == DefLabel || i.op == BeginCatch {
		return true
	}
	for _, e := range i.Effects() {
		switch e.Kind {
		case PureEffect, LocalRead, StackRead:
		default:
			return true
		}
	}
	return false
}
