package frame

import (
	"github.com/tliron/commonlog"

	"tracejit/internal/ir"
)

var log = commonlog.GetLogger("tracejit.frame")

// Manager owns the frame state of one compilation unit: the state of the
// block being built, the snapshots handed to blocks not yet started and the
// states of blocks paused by the builder's emission stack.
type Manager struct {
	cur    *state
	block  *ir.Block
	saved  map[*ir.Block]*state
	paused []pausedBlock

	entry   *ir.Block
	entrySp int32
}

type pausedBlock struct {
	block *ir.Block
	state *state
}

// NewManager returns a manager whose entry block starts with an empty frame
// at stack depth spLevel.
func NewManager(entry *ir.Block, spLevel int32) *Manager {
	m := &Manager{entry: entry, entrySp: spLevel}
	m.Clear()
	return m
}

// Clear forgets every snapshot and paused block. Only the entry block has
// state afterwards, as at the start of a pass.
func (m *Manager) Clear() {
	m.saved = map[*ir.Block]*state{m.entry: newState(m.entrySp)}
	m.paused = nil
	m.cur = nil
	m.block = nil
}

// HasStateFor reports whether some processed predecessor has handed state
// to b.
func (m *Manager) HasStateFor(b *ir.Block) bool {
	_, ok := m.saved[b]
	return ok
}

// StartBlock makes b the current block, restoring the state its
// predecessors handed to it. With hasUnprocPred set, some predecessor has
// not been seen yet, so slot knowledge is dropped.
func (m *Manager) StartBlock(b *ir.Block, hasUnprocPred bool) bool {
	saved, ok := m.saved[b]
	if !ok {
		return false
	}
	m.cur = saved.clone()
	if hasUnprocPred {
		m.cur.forget()
	}
	m.cur.spAtStart = m.cur.spLevel
	m.block = b
	log.Debugf("start %s sp=%d unprocessed=%v", b, m.cur.spLevel, hasUnprocPred)
	return true
}

// FinishBlock hands the current state to b's fallthrough successor.
func (m *Manager) FinishBlock(b *ir.Block) {
	if m.cur == nil {
		return
	}
	if back := b.Back(); back != nil && back.Op().IsTerminal() {
		return
	}
	if next := b.Next(); next != nil {
		m.save(next)
	}
}

// PauseBlock stashes the current block and switches to b. If a predecessor
// already handed state to b it is used, otherwise b inherits a copy of the
// current state.
func (m *Manager) PauseBlock(b *ir.Block) {
	m.paused = append(m.paused, pausedBlock{block: m.block, state: m.cur})
	if saved, ok := m.saved[b]; ok {
		m.cur = saved.clone()
	} else if m.cur != nil {
		m.cur = m.cur.clone()
	} else {
		m.cur = newState(m.entrySp)
	}
	m.cur.spAtStart = m.cur.spLevel
	m.block = b
}

// ResumeBlock restores the block stashed by the matching PauseBlock.
func (m *Manager) ResumeBlock() {
	n := len(m.paused) - 1
	p := m.paused[n]
	m.paused = m.paused[:n]
	m.cur = p.state
	m.block = p.block
}

func (m *Manager) save(b *ir.Block) {
	if existing, ok := m.saved[b]; ok {
		existing.merge(m.cur)
		return
	}
	m.saved[b] = m.cur.clone()
}

// Update applies the effects of inst, which was just linked into the
// current block. Taken edges receive the state from before the
// instruction's own refinements, since a failed guard refines nothing.
func (m *Manager) Update(inst *ir.Instr) {
	if m.cur == nil {
		return
	}
	if t := inst.Taken(); t != nil {
		m.save(t)
	}
	s := m.cur

	switch inst.Op() {
	case ir.LdLoc:
		slot := m.local(inst.Local())
		if slot.Value == nil {
			slot.Value = inst.Dst()
			slot.Type = slot.Type.And(inst.Dst().Type())
		}
		s.locals[inst.Local()] = slot
	case ir.StLoc:
		src := inst.Src(0)
		s.locals[inst.Local()] = Slot{Value: src, Type: src.Type(), Predicted: src.Predicted()}
	case ir.CheckLoc, ir.AssertLoc:
		slot := m.local(inst.Local())
		slot.refine(inst)
		s.locals[inst.Local()] = slot
	case ir.LdStk:
		slot := m.stack(inst.Offset())
		if slot.Value == nil {
			slot.Value = inst.Dst()
			slot.Type = slot.Type.And(inst.Dst().Type())
		}
		s.stack[inst.Offset()] = slot
	case ir.StStk:
		src := inst.Src(0)
		s.stack[inst.Offset()] = Slot{Value: src, Type: src.Type(), Predicted: src.Predicted()}
	case ir.CheckStk, ir.AssertStk:
		slot := m.stack(inst.Offset())
		slot.refine(inst)
		s.stack[inst.Offset()] = slot
	case ir.CastStk, ir.CoerceStk:
		t := inst.TypeParam()
		s.stack[inst.Offset()] = Slot{Type: t, Predicted: t}
	case ir.HintLoc:
		m.SetPredictedLocal(inst.Local(), inst.TypeParam())
	case ir.CheckType, ir.AssertType:
		m.refineValue(inst.Src(0), inst)
	case ir.LdCtx:
		s.ctx = inst.Dst()
	case ir.CheckCtxThis:
		s.ctxIsThis = true
	case ir.SyncStack:
		s.spLevel = inst.Extra().(ir.SpOffset).Offset
	case ir.CallBuiltin:
		s.locals = make(map[uint32]Slot)
	}

	if inst.Op().IsBranch() {
		m.FinishBlock(inst.Block())
	}
}

func (s *Slot) refine(inst *ir.Instr) {
	t := s.Type.And(inst.TypeParam())
	s.Type = t
	s.Predicted = s.Predicted.And(t)
	if s.Predicted == ir.Bottom {
		s.Predicted = t
	}
	if inst.IsGuard() {
		s.TypeSrc = inst
	}
	if s.Value != nil && !s.Value.Type().SubtypeOf(t) {
		// The slot still holds the old value, which is not typed as
		// precisely as the slot now is.
		s.Value = nil
	}
}

// refineValue replaces every slot holding old with the refined result of
// inst.
func (m *Manager) refineValue(old *ir.Value, inst *ir.Instr) {
	dst := inst.Dst()
	if dst == nil {
		return
	}
	refined := func(slot Slot) Slot {
		slot.Value = dst
		slot.Type = slot.Type.And(dst.Type())
		slot.Predicted = slot.Predicted.And(slot.Type)
		if slot.Predicted == ir.Bottom {
			slot.Predicted = slot.Type
		}
		if inst.IsGuard() {
			slot.TypeSrc = inst
		}
		return slot
	}
	for id, slot := range m.cur.locals {
		if slot.Value == old {
			m.cur.locals[id] = refined(slot)
		}
	}
	for off, slot := range m.cur.stack {
		if slot.Value == old {
			m.cur.stack[off] = refined(slot)
		}
	}
}

func (m *Manager) local(id uint32) Slot {
	if slot, ok := m.cur.locals[id]; ok {
		return slot
	}
	return unknownSlot()
}

func (m *Manager) stack(off int32) Slot {
	if slot, ok := m.cur.stack[off]; ok {
		return slot
	}
	return unknownSlot()
}

// Local returns what is known about local id.
func (m *Manager) Local(id uint32) Slot { return m.local(id) }

// Stack returns what is known about the stack slot at off.
func (m *Manager) Stack(off int32) Slot { return m.stack(off) }

func (m *Manager) LocalValue(id uint32) *ir.Value   { return m.local(id).Value }
func (m *Manager) LocalType(id uint32) ir.Type      { return m.local(id).Type }
func (m *Manager) LocalTypeSrc(id uint32) *ir.Instr { return m.local(id).TypeSrc }
func (m *Manager) PredictedLocal(id uint32) ir.Type { return m.local(id).Predicted }
func (m *Manager) StackValue(off int32) *ir.Value   { return m.stack(off).Value }
func (m *Manager) StackType(off int32) ir.Type      { return m.stack(off).Type }
func (m *Manager) StackTypeSrc(off int32) *ir.Instr { return m.stack(off).TypeSrc }
func (m *Manager) PredictedStack(off int32) ir.Type { return m.stack(off).Predicted }

// SetPredictedLocal records a profiled type for local id. Predictions
// outside the known type are ignored.
func (m *Manager) SetPredictedLocal(id uint32, t ir.Type) {
	slot := m.local(id)
	if p := slot.Type.And(t); p != ir.Bottom {
		slot.Predicted = p
		m.cur.locals[id] = slot
	}
}

// SetPredictedStack records a profiled type for the stack slot at off.
func (m *Manager) SetPredictedStack(off int32, t ir.Type) {
	slot := m.stack(off)
	if p := slot.Type.And(t); p != ir.Bottom {
		slot.Predicted = p
		m.cur.stack[off] = slot
	}
}

// Ctx returns the context pointer if it has been loaded.
func (m *Manager) Ctx() *ir.Value { return m.cur.ctx }

// CtxIsThis reports whether the context is known to be an object.
func (m *Manager) CtxIsThis() bool { return m.cur.ctxIsThis }

// SpLevel is the current stack depth.
func (m *Manager) SpLevel() int32 { return m.cur.spLevel }

// SpLevelAtBlockStart is the stack depth when the current block started.
func (m *Manager) SpLevelAtBlockStart() int32 { return m.cur.spAtStart }

// CurBlock is the block whose state is current.
func (m *Manager) CurBlock() *ir.Block { return m.block }
