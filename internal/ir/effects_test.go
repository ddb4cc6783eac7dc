package ir

import "testing"

func TestEffects(t *testing.T) {
	u := NewUnit(SrcKey{})
	m := DummyMarker()
	exit := u.DefBlock(BlockExit, SrcKey{}, 0)

	tests := []struct {
		inst *Instr
		want string
		side bool
	}{
		{u.Gen(AddInt, m, u.Cns(1), u.Cns(2)), "pure", false},
		{u.Gen(LdLoc, m, LocalID{ID: 2}), "ld-loc(2)", false},
		{u.Gen(StStk, m, StackOffset{Offset: 1}, u.Cns(1)), "st-stk(1)", true},
		{u.Gen(CheckLoc, m, LocalID{ID: 0}, Int, exit), "ld-loc(0) exit", true},
		{u.Gen(CastStk, m, StackOffset{Offset: 1}, Int), "st-stk(1) throw", true},
		{u.Gen(SyncStack, m, SpOffset{Offset: 3}), "sync-sp(3)", true},
		{u.Gen(EndCatch, m, SpOffset{Offset: 2}), "sync-sp(2)", true},
	}
	for _, tt := range tests {
		var got string
		for n, e := range tt.inst.Effects() {
			if n > 0 {
				got += " "
			}
			got += e.String()
		}
		if got != tt.want {
			t.Errorf("%s effects = %q, want %q", tt.inst.Op(), got, tt.want)
		}
		if tt.inst.HasSideEffects() != tt.side {
			t.Errorf("%s HasSideEffects = %v, want %v", tt.inst.Op(), !tt.side, tt.side)
		}
	}
}
