// Package guard tracks how much type precision consuming code has demanded
// of each guarded value, so guards can later be relaxed to the weakest check
// that still justifies every optimization that relied on them.
package guard

import (
	"fmt"

	"tracejit/internal/ir"
)

// Category is a rung on the precision ladder. Higher categories demand more
// of the guarded type.
type Category uint8

const (
	// Generic needs nothing from the type; the guard can be dropped.
	Generic Category = iota
	// Countness needs to know whether the value is reference counted.
	Countness
	// Specific needs the exact type the guard checked.
	Specific
)

func (c Category) String() string {
	switch c {
	case Generic:
		return "Generic"
	case Countness:
		return "Countness"
	case Specific:
		return "Specific"
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// TypeConstraint is the precision some code requires of a value.
type TypeConstraint struct {
	Category Category
}

func (tc TypeConstraint) String() string { return tc.Category.String() }

// Stronger reports whether tc demands more than other.
func (tc TypeConstraint) Stronger(other TypeConstraint) bool {
	return tc.Category > other.Category
}

// CategoryFor returns the weakest category that still tells t apart from
// Cell, which is what code relying on a check for t needs.
func CategoryFor(t ir.Type) Category {
	switch {
	case ir.Cell.SubtypeOf(t):
		return Generic
	case t == ir.Uncounted || t == ir.Counted:
		return Countness
	}
	return Specific
}

// Relax returns the weakest type a guard for t can check while still
// satisfying tc.
func Relax(t ir.Type, tc TypeConstraint) ir.Type {
	switch tc.Category {
	case Generic:
		return ir.Cell
	case Countness:
		if t.SubtypeOf(ir.Uncounted) {
			return ir.Uncounted
		}
		if t.SubtypeOf(ir.Counted) {
			return ir.Counted
		}
	}
	return t
}

// Fits reports whether knowing a value has type t is enough for tc without
// consulting any guard.
func Fits(t ir.Type, tc TypeConstraint) bool {
	switch tc.Category {
	case Generic:
		return true
	case Countness:
		return t.SubtypeOf(ir.Uncounted) || t.SubtypeOf(ir.Counted)
	}
	return t.IsSpecific()
}

type targetKind uint8

const (
	guardTarget targetKind = iota
	localTarget
	stackTarget
)

// Target is a stable handle for something constraints attach to: a guard
// instruction, a local slot or a stack slot.
type Target struct {
	kind targetKind
	id   int64
}

func GuardTarget(instID int) Target   { return Target{kind: guardTarget, id: int64(instID)} }
func LocalTarget(id uint32) Target    { return Target{kind: localTarget, id: int64(id)} }
func StackTarget(offset int32) Target { return Target{kind: stackTarget, id: int64(offset)} }
func (t Target) IsGuard() bool        { return t.kind == guardTarget }
func (t Target) InstID() int          { return int(t.id) }

func (t Target) String() string {
	switch t.kind {
	case localTarget:
		return fmt.Sprintf("L%d", t.id)
	case stackTarget:
		return fmt.Sprintf("S%d", t.id)
	}
	return fmt.Sprintf("guard#%d", t.id)
}

// Constraints maps targets to the strongest constraint recorded for them.
// Entries only ever widen; Reset starts a new pass.
type Constraints struct {
	byTarget map[Target]TypeConstraint
	order    []Target
}

// New returns an empty constraint set.
func New() *Constraints {
	return &Constraints{byTarget: make(map[Target]TypeConstraint)}
}

// Record merges tc into the requirement for target and reports whether the
// stored requirement changed.
func (c *Constraints) Record(target Target, tc TypeConstraint) bool {
	cur, ok := c.byTarget[target]
	if ok && !tc.Stronger(cur) {
		return false
	}
	if !ok {
		c.order = append(c.order, target)
		if tc.Category == Generic {
			c.byTarget[target] = tc
			return false
		}
	}
	c.byTarget[target] = tc
	return true
}

// Current returns the requirement recorded for target, Generic if none.
func (c *Constraints) Current(target Target) TypeConstraint {
	return c.byTarget[target]
}

// Len returns the number of targets with a recorded requirement.
func (c *Constraints) Len() int { return len(c.order) }

// Each calls fn for every target in the order it was first recorded.
func (c *Constraints) Each(fn func(Target, TypeConstraint)) {
	for _, t := range c.order {
		fn(t, c.byTarget[t])
	}
}

// Reset forgets every requirement.
func (c *Constraints) Reset() {
	c.byTarget = make(map[Target]TypeConstraint)
	c.order = nil
}

// Clone returns an independent copy.
func (c *Constraints) Clone() *Constraints {
	out := &Constraints{
		byTarget: make(map[Target]TypeConstraint, len(c.byTarget)),
		order:    append([]Target(nil), c.order...),
	}
	for t, tc := range c.byTarget {
		out.byTarget[t] = tc
	}
	return out
}
