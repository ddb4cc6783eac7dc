// Package frame tracks what is known about the interpreter frame while IR is
// being built: the value and type bound to each local and stack slot, the
// stack depth and the context pointer. State is saved per block so that a
// block can only be started once a predecessor has handed state to it.
package frame

import (
	"tracejit/internal/ir"
)

// Slot is what is known about one local or stack slot.
type Slot struct {
	// Value is the SSA value currently held in the slot, nil if unknown.
	Value *ir.Value
	Type  ir.Type
	// Predicted is the profiled type, never wider than Type.
	Predicted ir.Type
	// TypeSrc is the guard that established Type, if any.
	TypeSrc *ir.Instr
}

func unknownSlot() Slot {
	return Slot{Type: ir.Cell, Predicted: ir.Cell}
}

// state is a snapshot of the frame at one program point.
type state struct {
	locals    map[uint32]Slot
	stack     map[int32]Slot
	spLevel   int32
	spAtStart int32
	ctx       *ir.Value
	ctxIsThis bool
}

func newState(spLevel int32) *state {
	return &state{
		locals:    make(map[uint32]Slot),
		stack:     make(map[int32]Slot),
		spLevel:   spLevel,
		spAtStart: spLevel,
	}
}

func (s *state) clone() *state {
	out := &state{
		locals:    make(map[uint32]Slot, len(s.locals)),
		stack:     make(map[int32]Slot, len(s.stack)),
		spLevel:   s.spLevel,
		spAtStart: s.spAtStart,
		ctx:       s.ctx,
		ctxIsThis: s.ctxIsThis,
	}
	for id, slot := range s.locals {
		out.locals[id] = slot
	}
	for off, slot := range s.stack {
		out.stack[off] = slot
	}
	return out
}

// merge folds other into s as at a control-flow join. Values survive only
// when both sides agree; types widen to their join.
func (s *state) merge(other *state) {
	s.locals = mergeSlots(s.locals, other.locals)
	s.stack = mergeSlots(s.stack, other.stack)
	if s.ctx != other.ctx {
		s.ctx = nil
	}
	s.ctxIsThis = s.ctxIsThis && other.ctxIsThis
	if other.spLevel != s.spLevel {
		log.Warningf("merging frames with stack depths %d and %d", s.spLevel, other.spLevel)
	}
}

func mergeSlots[K comparable](a, b map[K]Slot) map[K]Slot {
	out := make(map[K]Slot, len(a))
	for k, sa := range a {
		sb, ok := b[k]
		if !ok {
			continue
		}
		m := Slot{
			Type:      sa.Type.Or(sb.Type),
			Predicted: sa.Predicted.Or(sb.Predicted),
		}
		if sa.Value == sb.Value {
			m.Value = sa.Value
		}
		if sa.TypeSrc == sb.TypeSrc {
			m.TypeSrc = sa.TypeSrc
		}
		if m.Type != ir.Cell || m.Value != nil {
			out[k] = m
		}
	}
	return out
}

// forget drops everything that may differ on an edge that has not been
// processed yet. The stack depth is a property of the bytecode location and
// survives.
func (s *state) forget() {
	s.locals = make(map[uint32]Slot)
	s.stack = make(map[int32]Slot)
	s.ctx = nil
	s.ctxIsThis = false
}
