package ir

import (
	"strings"
)

// Type is a set of runtime data types, represented as a bitset so that
// subtyping is set inclusion. Bottom is the empty set.
type Type uint32

const (
	Bottom     Type = 0
	Uninit     Type = 1 << 0
	InitNull   Type = 1 << 1
	Bool       Type = 1 << 2
	Int        Type = 1 << 3
	Dbl        Type = 1 << 4
	StaticStr  Type = 1 << 5
	CountedStr Type = 1 << 6
	Arr        Type = 1 << 7
	Obj        Type = 1 << 8

	// Ctx is the type of the frame's context pointer. It is not a Cell.
	Ctx Type = 1 << 9

	Null      = Uninit | InitNull
	Str       = StaticStr | CountedStr
	Uncounted = Null | Bool | Int | Dbl | StaticStr
	Counted   = CountedStr | Arr | Obj
	Cell      = Uncounted | Counted
	Top       = Cell | Ctx
)

var typeNames = []struct {
	t    Type
	name string
}{
	{Top, "Top"},
	{Cell, "Cell"},
	{Uncounted, "Uncounted"},
	{Counted, "Counted"},
	{Null, "Null"},
	{Str, "Str"},
	{Uninit, "Uninit"},
	{InitNull, "InitNull"},
	{Bool, "Bool"},
	{Int, "Int"},
	{Dbl, "Dbl"},
	{StaticStr, "StaticStr"},
	{CountedStr, "CountedStr"},
	{Arr, "Arr"},
	{Obj, "Obj"},
	{Ctx, "Ctx"},
}

// SubtypeOf reports whether every value of t is also a value of u.
func (t Type) SubtypeOf(u Type) bool { return t&^u == 0 }

// Maybe reports whether t and u share at least one value.
func (t Type) Maybe(u Type) bool { return t&u != 0 }

// And returns the meet of t and u.
func (t Type) And(u Type) Type { return t & u }

// Or returns the join of t and u.
func (t Type) Or(u Type) Type { return t | u }

// Sub removes u from t.
func (t Type) Sub(u Type) Type { return t &^ u }

func (t Type) IsBottom() bool { return t == Bottom }

// IsSpecific reports whether t names exactly one primitive data type.
func (t Type) IsSpecific() bool { return t != 0 && t&(t-1) == 0 }

func (t Type) String() string {
	if t == Bottom {
		return "Bottom"
	}
	var parts []string
	rest := t
	for _, tn := range typeNames {
		if rest == 0 {
			break
		}
		if tn.t&rest == tn.t {
			parts = append(parts, tn.name)
			rest &^= tn.t
		}
	}
	return strings.Join(parts, "|")
}

// ParseType resolves a type name as printed by Type.String. Unions are
// written with "|".
func ParseType(s string) (Type, bool) {
	var t Type
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "Bottom" {
			continue
		}
		found := false
		for _, tn := range typeNames {
			if tn.name == part {
				t |= tn.t
				found = true
				break
			}
		}
		if !found {
			return Bottom, false
		}
	}
	return t, true
}
