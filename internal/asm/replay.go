// Package asm reads IR scripts and replays them through the IR builder.
// Scripts are the textual front end of the tools: every instruction in a
// script is emitted with the builder's optimizations applied, so the unit
// that comes out is what the builder made of the script, not a copy of it.
package asm

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/tliron/commonlog"

	"tracejit/internal/config"
	"tracejit/internal/errors"
	"tracejit/internal/guard"
	"tracejit/internal/ir"
	"tracejit/internal/irgen"
)

var log = commonlog.GetLogger("tracejit.asm")

// Result is the outcome of replaying a script.
type Result struct {
	Unit    *ir.Unit
	Builder *irgen.Builder
	// Values maps script value names to what the builder produced for them.
	Values map[string]*ir.Value
	// Blocks maps script block names to unit blocks.
	Blocks   map[string]*ir.Block
	Warnings []*errors.CompilerError
}

// Replay builds the unit script describes. A contract violation anywhere in
// the build is returned as a *errors.CompilerError.
func Replay(script *Script, opts config.Options) (res *Result, err error) {
	defer errors.Recover(&err)

	r := newReplayer(script, opts)
	if err := r.builder.Translate(func(*irgen.Builder) { r.run() }); err != nil {
		return nil, err
	}
	if opts.Reoptimize {
		r.builder.Reoptimize()
	}
	return &Result{
		Unit:     r.unit,
		Builder:  r.builder,
		Values:   r.values,
		Blocks:   r.blocks,
		Warnings: append(r.warnings, r.builder.Warnings()...),
	}, nil
}

type replayer struct {
	script  *Script
	unit    *ir.Unit
	builder *irgen.Builder

	blocks   map[string]*ir.Block
	order    map[string]int
	values   map[string]*ir.Value
	warnings []*errors.CompilerError
}

func newReplayer(script *Script, opts config.Options) *replayer {
	su := script.Unit
	sk := ir.SrcKey{Func: uint32(su.Func), Offset: int32(su.Offset)}
	r := &replayer{
		script: script,
		unit:   ir.NewUnit(sk),
		blocks: make(map[string]*ir.Block),
		order:  make(map[string]int),
		values: make(map[string]*ir.Value),
	}
	marker := ir.NewMarker(sk, 0, int32(su.Sp))
	r.builder = irgen.New(r.unit, marker, opts)

	for n, sb := range su.Blocks {
		if _, dup := r.blocks[sb.Name]; dup {
			errors.NewDiagnostic(errors.ErrorBadArgument,
				fmt.Sprintf("block %s is defined twice", sb.Name)).
				AtLine(sb.Pos.Line, sb.Pos.Column).Raise()
		}
		kind := blockKind(sb)
		var blk *ir.Block
		switch {
		case n == 0:
			if kind != ir.BlockMain {
				errors.NewDiagnostic(errors.ErrorBadArgument, "the first block must be a main block").
					AtLine(sb.Pos.Line, sb.Pos.Column).Raise()
			}
			blk = r.unit.Entry()
		case kind == ir.BlockMain:
			blk = r.builder.MakeBlock(r.srcKey(sb), profCount(sb))
			r.builder.AppendBlock(blk)
		default:
			blk = r.unit.DefBlock(kind, r.srcKey(sb), profCount(sb))
			r.unit.AppendToLayout(blk)
		}
		if kind == ir.BlockMain && sb.Offset != nil {
			r.registerOffset(sb, blk)
		}
		r.blocks[sb.Name] = blk
		r.order[sb.Name] = n
	}
	for _, sb := range su.Blocks {
		if sb.Next != "" {
			r.blocks[sb.Name].SetNext(r.block(sb.Next, sb.Pos))
		}
	}
	return r
}

// registerOffset maps the block's bytecode offset to blk. Two main blocks
// may not start at the same offset.
func (r *replayer) registerOffset(sb *Block, blk *ir.Block) {
	sk := r.srcKey(sb)
	if r.builder.HasBlock(sk) {
		errors.NewDiagnostic(errors.ErrorBadArgument,
			fmt.Sprintf("block %s starts at offset %d, which already has a block", sb.Name, sk.Offset)).
			AtLine(sb.Pos.Line, sb.Pos.Column).Raise()
	}
	r.builder.SetBlock(sk, blk)
}

func profCount(sb *Block) uint64 {
	if sb.Prof == nil {
		return 1
	}
	return uint64(*sb.Prof)
}

func blockKind(sb *Block) ir.BlockKind {
	switch sb.Kind {
	case "exit":
		return ir.BlockExit
	case "catch":
		return ir.BlockCatch
	}
	return ir.BlockMain
}

func (r *replayer) srcKey(sb *Block) ir.SrcKey {
	su := r.script.Unit
	sk := ir.SrcKey{Func: uint32(su.Func), Offset: int32(su.Offset)}
	if sb.Offset != nil {
		sk.Offset = int32(*sb.Offset)
	}
	return sk
}

func (r *replayer) block(name string, pos lexer.Position) *ir.Block {
	blk, ok := r.blocks[name]
	if !ok {
		errors.NewDiagnostic(errors.ErrorUndefinedBlock, fmt.Sprintf("undefined block %s", name)).
			AtLine(pos.Line, pos.Column).Raise()
	}
	return blk
}

// hasUnprocessedPred reports whether some block at or after sb in the
// script jumps or falls into sb.
func (r *replayer) hasUnprocessedPred(sb *Block) bool {
	at := r.order[sb.Name]
	for n, pred := range r.script.Unit.Blocks {
		if n < at {
			continue
		}
		if pred.Next == sb.Name {
			return true
		}
		for _, st := range pred.Statements {
			if st.Instr != nil && st.Instr.Taken == sb.Name {
				return true
			}
		}
	}
	return false
}

func (r *replayer) run() {
	b := r.builder
	for n, sb := range r.script.Unit.Blocks {
		blk := r.blocks[sb.Name]
		if n > 0 {
			if !b.StartBlock(blk, r.hasUnprocessedPred(sb)) {
				w := errors.NewWarning(errors.WarningUnreachableBlock,
					fmt.Sprintf("block %s is unreachable and was skipped", sb.Name)).
					AtBlock(blk.ID()).AtLine(sb.Pos.Line, sb.Pos.Column).Build()
				log.Warningf("%s", w.Error())
				r.warnings = append(r.warnings, w)
				continue
			}
			b.SetCurMarker(ir.NewMarker(blk.SrcKey(), 0, b.FS().SpLevelAtBlockStart()))
		}
		log.Debugf("replaying block %s as %s", sb.Name, blk)
		for _, st := range sb.Statements {
			r.statement(st)
		}
	}
}

// statement replays one statement. Violations raised while doing so get
// the statement's position attached.
func (r *replayer) statement(st *Statement) {
	defer func() {
		if p := recover(); p != nil {
			if ce, ok := p.(*errors.CompilerError); ok && ce.Location.Line == 0 {
				ce.Location.Line = st.Pos.Line
				ce.Location.Column = st.Pos.Column
			}
			panic(p)
		}
	}()
	if st.Directive != nil {
		r.directive(st.Directive)
		return
	}
	r.instr(st.Instr)
}

func (r *replayer) instr(in *Instr) {
	b := r.builder
	op, ok := ir.OpcodeByName(in.Op)
	if !ok {
		errors.NewDiagnostic(errors.ErrorUnknownName, fmt.Sprintf("unknown opcode %s", in.Op)).
			AtLine(in.Pos.Line, in.Pos.Column).Raise()
	}

	if op == ir.DefLabel {
		r.bind(in, b.DefLabel(len(in.Dsts)))
		return
	}
	if len(in.Dsts) > 1 || (len(in.Dsts) == 1 && !op.HasDst()) {
		errors.NewDiagnostic(errors.ErrorOperandCount,
			fmt.Sprintf("%s cannot define %d values", op, len(in.Dsts))).
			ForOpcode(op).AtLine(in.Pos.Line, in.Pos.Column).Raise()
	}

	var args []any
	for _, o := range in.Args {
		args = append(args, r.operand(o))
	}
	if in.Type != nil {
		args = append(args, r.typeParam(in))
	}
	if in.Extra != nil {
		args = append(args, r.extra(in))
	}
	if in.Taken != "" {
		args = append(args, r.block(in.Taken, in.Pos))
	}

	v := b.Gen(op, args...)
	if len(in.Dsts) == 1 {
		r.bind(in, []*ir.Value{v})
	}
}

func (r *replayer) bind(in *Instr, vals []*ir.Value) {
	for n, name := range in.Dsts {
		if _, dup := r.values[name]; dup {
			errors.NewDiagnostic(errors.ErrorMultipleProducers, fmt.Sprintf("%s is defined twice", name)).
				AtLine(in.Pos.Line, in.Pos.Column).Raise()
		}
		r.values[name] = vals[n]
	}
}

func (r *replayer) value(name string, pos lexer.Position) *ir.Value {
	v, ok := r.values[name]
	if !ok || v == nil {
		errors.NewDiagnostic(errors.ErrorUndefinedValue, fmt.Sprintf("undefined value %s", name)).
			AtLine(pos.Line, pos.Column).Raise()
	}
	return v
}

func (r *replayer) operand(o *Operand) *ir.Value {
	switch {
	case o.Value != "":
		return r.value(o.Value, o.Pos)
	case o.Int != nil:
		return r.unit.Cns(*o.Int)
	case o.Bool != "":
		return r.unit.CnsBool(o.Bool == "true")
	}
	return r.unit.CnsNull()
}

func (r *replayer) typeParam(in *Instr) ir.Type {
	var t ir.Type
	for _, name := range in.Type.Names {
		part, ok := ir.ParseType(name)
		if !ok {
			errors.NewDiagnostic(errors.ErrorUnknownName, fmt.Sprintf("unknown type %s", name)).
				AtLine(in.Pos.Line, in.Pos.Column).Raise()
		}
		t = t.Or(part)
	}
	return t
}

func (r *replayer) extra(in *Instr) ir.Extra {
	e := in.Extra
	if e.Kind == "call" {
		return ir.CallTarget{Name: e.Arg}
	}
	n, err := strconv.ParseInt(e.Arg, 0, 32)
	if err != nil {
		errors.NewDiagnostic(errors.ErrorBadArgument,
			fmt.Sprintf("[%s] needs an integer, got %s", e.Kind, e.Arg)).
			AtLine(in.Pos.Line, in.Pos.Column).Raise()
	}
	switch e.Kind {
	case "loc":
		if n < 0 {
			errors.NewDiagnostic(errors.ErrorBadArgument, "local ids are not negative").
				AtLine(in.Pos.Line, in.Pos.Column).Raise()
		}
		return ir.LocalID{ID: uint32(n)}
	case "stk":
		return ir.StackOffset{Offset: int32(n)}
	}
	return ir.SpOffset{Offset: int32(n)}
}

func (r *replayer) directive(d *Directive) {
	b := r.builder
	bad := func(format string, args ...any) {
		errors.NewDiagnostic(errors.ErrorBadArgument, fmt.Sprintf(format, args...)).
			AtLine(d.Pos.Line, d.Pos.Column).Raise()
	}
	want := func(n int) {
		if len(d.Args) != n {
			bad(".%s takes %d arguments, got %d", d.Name, n, len(d.Args))
		}
	}

	switch d.Name {
	case "boundary":
		want(0)
		b.ExceptionStackBoundary()
	case "guardfail":
		if len(d.Args) == 0 {
			b.ResetGuardFailBlock()
			return
		}
		want(1)
		b.SetGuardFailBlock(r.block(d.Args[0], d.Pos))
	case "catch":
		if len(d.Args) == 0 {
			b.SetCatchCreator(irgen.DefaultCatch())
			return
		}
		want(1)
		target := r.block(d.Args[0], d.Pos)
		b.SetCatchCreator(irgen.CustomCatch(func(*irgen.Builder) *ir.Block { return target }))
	case "constrain":
		want(3)
		tc := r.constraint(d.Args[2], bad)
		switch d.Args[0] {
		case "loc":
			b.ConstrainLocal(uint32(r.slot(d.Args[1], bad)), tc)
		case "stk":
			b.ConstrainStack(int32(r.slot(d.Args[1], bad)), tc)
		case "value":
			b.ConstrainValue(r.value(d.Args[1], d.Pos), tc)
		default:
			bad("cannot constrain %s", d.Args[0])
		}
	case "predict":
		want(3)
		t, ok := ir.ParseType(d.Args[2])
		if !ok {
			errors.NewDiagnostic(errors.ErrorUnknownName, fmt.Sprintf("unknown type %s", d.Args[2])).
				AtLine(d.Pos.Line, d.Pos.Column).Raise()
		}
		switch d.Args[0] {
		case "loc":
			b.FS().SetPredictedLocal(uint32(r.slot(d.Args[1], bad)), t)
		case "stk":
			b.FS().SetPredictedStack(int32(r.slot(d.Args[1], bad)), t)
		default:
			bad("cannot predict %s", d.Args[0])
		}
	default:
		errors.NewDiagnostic(errors.ErrorUnknownName, fmt.Sprintf("unknown directive .%s", d.Name)).
			AtLine(d.Pos.Line, d.Pos.Column).Raise()
	}
}

func (r *replayer) slot(arg string, bad func(string, ...any)) int64 {
	n, err := strconv.ParseInt(arg, 0, 32)
	if err != nil {
		bad("expected a slot number, got %s", arg)
	}
	return n
}

func (r *replayer) constraint(name string, bad func(string, ...any)) guard.TypeConstraint {
	for c := guard.Generic; c <= guard.Specific; c++ {
		if c.String() == name {
			return guard.TypeConstraint{Category: c}
		}
	}
	bad("unknown constraint %s", name)
	return guard.TypeConstraint{}
}
