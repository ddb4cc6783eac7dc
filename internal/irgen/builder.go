// Package irgen builds IR for one compilation unit. Every instruction the
// front end requests goes through pre-optimization against the current
// frame state, then the algebraic simplifier, and is only linked into the
// current block if neither eliminated it.
//
// The builder also reconstructs control flow (which blocks may be started,
// where guard failures go), keeps a stack of emission contexts so side exits
// and catch blocks can be generated out of line, and records how much type
// precision each guard has to provide so that a second pass can relax it.
package irgen

import (
	"fmt"

	"github.com/tliron/commonlog"

	"tracejit/internal/config"
	"tracejit/internal/errors"
	"tracejit/internal/frame"
	"tracejit/internal/guard"
	"tracejit/internal/ir"
	"tracejit/internal/simplify"
)

var log = commonlog.GetLogger("tracejit.irgen")

// FrameState is the frame-state service the builder consults and updates.
// frame.Manager implements it.
type FrameState interface {
	HasStateFor(b *ir.Block) bool
	StartBlock(b *ir.Block, hasUnprocPred bool) bool
	FinishBlock(b *ir.Block)
	PauseBlock(b *ir.Block)
	ResumeBlock()
	Update(inst *ir.Instr)
	Clear()

	LocalValue(id uint32) *ir.Value
	LocalType(id uint32) ir.Type
	LocalTypeSrc(id uint32) *ir.Instr
	PredictedLocal(id uint32) ir.Type
	SetPredictedLocal(id uint32, t ir.Type)
	StackValue(off int32) *ir.Value
	StackType(off int32) ir.Type
	StackTypeSrc(off int32) *ir.Instr
	PredictedStack(off int32) ir.Type
	SetPredictedStack(off int32, t ir.Type)
	Ctx() *ir.Value
	CtxIsThis() bool
	SpLevel() int32
	SpLevelAtBlockStart() int32
}

// Pass says which optimization sweep the builder is running. The second
// pass re-emits the graph built by the first, with guards relaxed to the
// constraints the first pass collected.
type Pass uint8

const (
	First Pass = iota
	Second
)

func (p Pass) String() string {
	if p == Second {
		return "second"
	}
	return "first"
}

// CloneFlag says whether optimizeInst may mutate the instruction it is
// given or must work on a copy.
type CloneFlag bool

const (
	CloneNo  CloneFlag = false
	CloneYes CloneFlag = true
)

// Builder owns all state of one pass over one unit. It is not safe for
// concurrent use; independent units use independent builders.
type Builder struct {
	unit       *ir.Unit
	fs         FrameState
	opts       config.Options
	simplifier *simplify.Pipeline
	pass       Pass

	curBlock  *ir.Block
	curMarker ir.BCMarker
	exnStack  ExnStackState
	catch     CatchPolicy
	contexts  []savedContext

	guardFailBlock *ir.Block
	offsetToBlock  map[ir.SrcKey]*ir.Block

	constrainGuards bool
	guards          *guard.Constraints
	// typeSrcs maps a loaded value's id to the guard that typed the slot it
	// was loaded from.
	typeSrcs map[int]*ir.Instr
	// paramDemands holds the strongest constraint placed on each block
	// parameter, replayed onto Jmps linked after it was recorded.
	paramDemands map[*ir.Value]guard.TypeConstraint

	warnings []*errors.CompilerError
}

// New returns a builder positioned at the start of the unit's entry block.
func New(unit *ir.Unit, marker ir.BCMarker, opts config.Options) *Builder {
	return NewWithFrameState(unit, marker, opts, frame.NewManager(unit.Entry(), marker.SpOff))
}

// NewWithFrameState is New with a caller-provided frame-state service.
func NewWithFrameState(unit *ir.Unit, marker ir.BCMarker, opts config.Options, fs FrameState) *Builder {
	b := &Builder{
		unit:            unit,
		fs:              fs,
		opts:            opts,
		simplifier:      simplify.NewPipeline(),
		curMarker:       marker,
		offsetToBlock:   make(map[ir.SrcKey]*ir.Block),
		constrainGuards: opts.ConstrainGuards,
		guards:          guard.New(),
		typeSrcs:        make(map[int]*ir.Instr),
		paramDemands:    make(map[*ir.Value]guard.TypeConstraint),
	}
	if b.opts.PreOptimizeBound < 1 {
		b.opts.PreOptimizeBound = config.DefaultPreOptimizeBound
	}
	b.enterBlock(unit.Entry(), false)
	return b
}

func (b *Builder) Unit() *ir.Unit          { return b.unit }
func (b *Builder) FS() FrameState          { return b.fs }
func (b *Builder) Options() config.Options { return b.opts }
func (b *Builder) Pass() Pass              { return b.pass }
func (b *Builder) CurMarker() ir.BCMarker  { return b.curMarker }
func (b *Builder) CurBlock() *ir.Block     { return b.curBlock }

// SetCurMarker sets the marker attached to instructions emitted without
// one.
func (b *Builder) SetCurMarker(m ir.BCMarker) {
	if !m.Valid() {
		errors.NewDiagnostic(errors.ErrorBadArgument, "current marker must be valid").
			AtBlock(b.curBlock.ID()).Raise()
	}
	b.curMarker = m
}

// Warnings returns the non-fatal diagnostics produced so far.
func (b *Builder) Warnings() []*errors.CompilerError { return b.warnings }

func (b *Builder) warn(d *errors.DiagnosticBuilder) {
	w := d.Build()
	log.Warningf("%s", w.Error())
	b.warnings = append(b.warnings, w)
}

// Gen constructs an instruction at the current marker and emits it. It
// returns the instruction's result after optimization, which may be an
// existing value, or nil if the opcode produces none.
func (b *Builder) Gen(op ir.Opcode, args ...any) *ir.Value {
	return b.GenAt(op, ir.BCMarker{}, args...)
}

// GenAt is Gen with an explicit marker. An invalid marker inherits the
// current one.
func (b *Builder) GenAt(op ir.Opcode, marker ir.BCMarker, args ...any) *ir.Value {
	if !marker.Valid() {
		marker = b.curMarker
	}
	inst := b.unit.Gen(op, marker, args...)
	return b.optimizeInst(inst, CloneNo, true)
}

// DefLabel starts the current block with a label defining n block
// parameters and returns them.
func (b *Builder) DefLabel(n int) []*ir.Value {
	if !b.curBlock.Empty() {
		errors.NewDiagnostic(errors.ErrorTerminatorPlacement,
			"DefLabel must be the first instruction of its block").
			AtBlock(b.curBlock.ID()).ForOpcode(ir.DefLabel).AtMarker(b.curMarker).Raise()
	}
	label := b.unit.DefLabel(n, b.curMarker)
	b.appendInstruction(label)
	return label.Dsts()
}

// Emit runs an instruction the caller constructed through the optimization
// pipeline. With CloneYes the caller's instruction is left untouched.
func (b *Builder) Emit(inst *ir.Instr, clone CloneFlag) *ir.Value {
	return b.optimizeInst(inst, clone, true)
}

func (b *Builder) optimizeInst(inst *ir.Instr, clone CloneFlag, doSimplify bool) *ir.Value {
	if clone == CloneYes {
		inst = b.unit.Clone(inst)
	}
	if !inst.Marker().Valid() {
		inst.SetMarker(b.curMarker)
	}

	iterations := 0
preopt:
	for {
		if iterations == b.opts.PreOptimizeBound {
			b.warn(errors.NewWarning(errors.WarningRewriteBound,
				fmt.Sprintf("stopped pre-optimizing after %d rewrites", iterations)).
				AtBlock(b.curBlock.ID()).ForOpcode(inst.Op()).AtMarker(inst.Marker()))
			break
		}
		iterations++

		res := b.preOptimize(inst)
		switch res.outcome {
		case keep:
			break preopt
		case replaced:
			return res.value
		case elided:
			return nil
		case rewritten:
			log.Debugf("pre-optimize rewrote %s to %s", inst.Op(), res.inst.Op())
			inst = res.inst
		}
	}

	if doSimplify && b.opts.Simplify {
		ctx := &simplify.Context{Unit: b.unit, MightRelax: b.TypeMightRelax}
		res := b.simplifier.Simplify(ctx, inst)
		var extraDst *ir.Value
		for _, extra := range res.Instrs {
			v := b.optimizeInst(extra, CloneNo, false)
			if res.Dst != nil && extra.Dst() == res.Dst {
				extraDst = v
			}
		}
		if res.Dst != nil {
			if extraDst != nil {
				return extraDst
			}
			return res.Dst
		}
		if res.Drop {
			return nil
		}
	}

	b.appendInstruction(inst)
	return inst.Dst()
}

// appendInstruction links inst at the end of the current block, giving
// guards a failure target and throwing instructions a catch block first.
func (b *Builder) appendInstruction(inst *ir.Instr) {
	cur := b.curBlock
	if cur.Terminated() {
		errors.NewDiagnostic(errors.ErrorBlockTerminated,
			fmt.Sprintf("%s already ends in %s", cur, cur.Back().Op())).
			AtBlock(cur.ID()).ForOpcode(inst.Op()).AtMarker(inst.Marker()).Raise()
	}

	if inst.IsGuard() && inst.Taken() == nil {
		inst.SetTaken(b.guardFailTarget(inst.Marker()))
	}
	if inst.CanThrow() && inst.Taken() == nil {
		inst.SetTaken(b.catchBlock(inst.Marker()))
	}

	// Consumers demand the precision their operand types name.
	for n, src := range inst.Srcs() {
		if want := inst.Op().SrcType(n); want != ir.Bottom {
			b.ConstrainValue(src, guard.TypeConstraint{Category: guard.CategoryFor(want)})
		}
	}

	if inst.Op() == ir.Jmp {
		b.constrainOutgoing(inst)
	}

	switch inst.Op() {
	case ir.LdLoc:
		if src := b.fs.LocalTypeSrc(inst.Local()); src != nil {
			b.typeSrcs[inst.Dst().ID()] = src
		}
	case ir.LdStk:
		if src := b.fs.StackTypeSrc(inst.Offset()); src != nil {
			b.typeSrcs[inst.Dst().ID()] = src
		}
	}

	cur.Push(inst)
	b.fs.Update(inst)
}

// guardFailTarget returns where a failing guard goes: the guard-fail block
// if one is set, otherwise a fresh exit block requesting a retranslation.
func (b *Builder) guardFailTarget(marker ir.BCMarker) *ir.Block {
	if b.guardFailBlock != nil {
		return b.guardFailBlock
	}
	exit := b.unit.DefBlock(ir.BlockExit, marker.SK, 0)
	b.WithBlock(marker, exit, func() {
		b.Gen(ir.ReqRetranslate)
	})
	b.unit.AppendToLayout(exit)
	return exit
}
