// Package simplify implements the state-independent algebraic simplifier run
// on every instruction the builder emits: copy propagation, constant
// folding, algebraic identities, strength reduction and folding of branches
// on constants. It looks only at the instruction and its operands, never at
// frame state.
package simplify

import (
	"github.com/tliron/commonlog"

	"tracejit/internal/ir"
)

var log = commonlog.GetLogger("tracejit.simplify")

// Result describes what simplification decided for an instruction.
//
// A non-nil Dst replaces the instruction's result. Instrs are new
// instructions to link before the replacement, in order. Drop means the
// instruction must not be linked even though it has no replacement value.
// The zero Result keeps the instruction unchanged.
type Result struct {
	Dst    *ir.Value
	Instrs []*ir.Instr
	Drop   bool
}

// Changed reports whether the result replaces or removes the instruction.
func (r Result) Changed() bool {
	return r.Dst != nil || r.Drop || len(r.Instrs) > 0
}

// Context is what rules may consult besides the instruction itself.
type Context struct {
	Unit *ir.Unit
	// MightRelax reports whether the type of a value may still be widened
	// by guard relaxation, in which case rules must not rely on it.
	MightRelax func(*ir.Value) bool
}

func (c *Context) mightRelax(v *ir.Value) bool {
	if c.MightRelax == nil {
		return false
	}
	return c.MightRelax(v)
}

// Rule represents a single simplification
type Rule interface {
	Name() string
	// Apply returns the result and whether the rule fired
	Apply(ctx *Context, inst *ir.Instr) (Result, bool)
	Description() string
}

// Pipeline manages the sequence of simplification rules
type Pipeline struct {
	rules []Rule
}

// NewPipeline creates a new pipeline with the default rules
func NewPipeline() *Pipeline {
	pipeline := &Pipeline{}

	// Copy propagation rewrites operands in place and must run first so
	// the other rules see canonical operands.
	pipeline.AddRule(&CopyPropagation{})
	pipeline.AddRule(&ConstantFolding{})
	pipeline.AddRule(&AlgebraicIdentities{})
	pipeline.AddRule(&StrengthReduction{})
	pipeline.AddRule(&BranchFolding{})
	pipeline.AddRule(&ConversionElimination{})

	return pipeline
}

// AddRule adds a rule to the end of the pipeline
func (p *Pipeline) AddRule(rule Rule) {
	p.rules = append(p.rules, rule)
}

// Rules returns the rules in the order they run
func (p *Pipeline) Rules() []Rule {
	return p.rules
}

// Simplify runs the rules over inst and returns the first result that
// changes it.
func (p *Pipeline) Simplify(ctx *Context, inst *ir.Instr) Result {
	for _, rule := range p.rules {
		if res, ok := rule.Apply(ctx, inst); ok {
			log.Debugf("%s: %s", rule.Name(), inst)
			return res
		}
	}
	return Result{}
}
