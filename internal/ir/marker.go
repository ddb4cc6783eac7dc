package ir

import "fmt"

// SrcKey identifies a bytecode location: a function and an offset into its
// bytecode.
type SrcKey struct {
	Func   uint32
	Offset int32
}

func (sk SrcKey) String() string {
	return fmt.Sprintf("f%d@%d", sk.Func, sk.Offset)
}

// BCMarker is the source-position tag attached to every instruction. It
// records where in the bytecode the instruction came from, how deeply the
// function is inlined, and the stack depth the interpreter would see there.
type BCMarker struct {
	SK      SrcKey
	Depth   int
	SpOff   int32
	present bool
}

// NewMarker returns a valid marker.
func NewMarker(sk SrcKey, depth int, spOff int32) BCMarker {
	return BCMarker{SK: sk, Depth: depth, SpOff: spOff, present: true}
}

// DummyMarker is a valid marker that points nowhere in particular. Tests and
// synthesized code use it.
func DummyMarker() BCMarker {
	return BCMarker{SK: SrcKey{Offset: -1}, present: true}
}

// Valid reports whether the marker was set. The zero BCMarker means "inherit
// the builder's current marker".
func (m BCMarker) Valid() bool { return m.present }

func (m BCMarker) String() string {
	if !m.present {
		return "<no marker>"
	}
	return fmt.Sprintf("%s d%d sp%d", m.SK, m.Depth, m.SpOff)
}
