package ir

// Preds maps every reachable block to its predecessors, in the order the
// edges were found walking blocks in reverse post order.
func Preds(u *Unit) map[*Block][]*Block {
	preds := make(map[*Block][]*Block)
	for _, b := range RPO(u) {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// RPO returns the blocks reachable from the entry in reverse post order.
func RPO(u *Unit) []*Block {
	var post []*Block
	visited := make(map[*Block]bool)
	var visit func(b *Block)
	visit = func(b *Block) {
		visited[b] = true
		for _, s := range b.Succs() {
			if !visited[s] {
				visit(s)
			}
		}
		post = append(post, b)
	}
	visit(u.entry)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// Reachable returns the set of blocks reachable from the entry.
func Reachable(u *Unit) map[*Block]bool {
	reachable := make(map[*Block]bool)
	for _, b := range RPO(u) {
		reachable[b] = true
	}
	return reachable
}

// DomTree holds immediate dominators of the reachable blocks.
type DomTree struct {
	idom  map[*Block]*Block
	order map[*Block]int
}

// Dominators computes immediate dominators with the iterative algorithm of
// Cooper, Harvey and Kennedy.
func Dominators(u *Unit) *DomTree {
	rpo := RPO(u)
	preds := Preds(u)
	dt := &DomTree{
		idom:  make(map[*Block]*Block, len(rpo)),
		order: make(map[*Block]int, len(rpo)),
	}
	for i, b := range rpo {
		dt.order[b] = i
	}
	dt.idom[u.entry] = u.entry

	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var newIdom *Block
			for _, p := range preds[b] {
				if dt.idom[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = dt.intersect(p, newIdom)
				}
			}
			if newIdom != nil && dt.idom[b] != newIdom {
				dt.idom[b] = newIdom
				changed = true
			}
		}
	}
	return dt
}

func (dt *DomTree) intersect(a, b *Block) *Block {
	for a != b {
		for dt.order[a] > dt.order[b] {
			a = dt.idom[a]
		}
		for dt.order[b] > dt.order[a] {
			b = dt.idom[b]
		}
	}
	return a
}

// Idom returns the immediate dominator of b. The entry is its own idom;
// unreachable blocks have none.
func (dt *DomTree) Idom(b *Block) *Block { return dt.idom[b] }

// Dominates reports whether a dominates b. Every block dominates itself.
func (dt *DomTree) Dominates(a, b *Block) bool {
	if _, ok := dt.idom[b]; !ok {
		return false
	}
	for {
		if a == b {
			return true
		}
		next := dt.idom[b]
		if next == b {
			return false
		}
		b = next
	}
}

// ReflowTypes recomputes result types after block parameters change. Label
// parameters get the join of the values passed on every incoming Jmp, and
// every instruction whose result depends on its operands is retyped. Loops
// feed labels from later blocks, so this iterates to a fixed point.
func ReflowTypes(u *Unit) {
	rpo := RPO(u)
	incomingTypes := func() map[*Instr][]Type {
		incoming := make(map[*Instr][]Type)
		for _, b := range rpo {
			back := b.Back()
			if back == nil || back.op != Jmp {
				continue
			}
			label := back.taken.Label()
			if label == nil {
				continue
			}
			types := incoming[label]
			if types == nil {
				types = make([]Type, len(label.dsts))
			}
			for n, s := range back.srcs {
				if n < len(types) {
					types[n] = types[n].Or(s.typ)
				}
			}
			incoming[label] = types
		}
		return incoming
	}

	// Labels start optimistic and only grow.
	for label := range incomingTypes() {
		for _, d := range label.dsts {
			d.typ = Bottom
		}
	}
	for changed := true; changed; {
		changed = false
		incoming := incomingTypes()

		for _, b := range rpo {
			for _, inst := range b.instrs {
				if inst.op == DefLabel {
					types, ok := incoming[inst]
					if !ok {
						continue
					}
					for n, d := range inst.dsts {
						if d.typ != types[n] {
							d.typ = types[n]
							changed = true
						}
					}
					continue
				}
				d := inst.Dst()
				if d == nil {
					continue
				}
				if t := inst.dstType(); t != d.typ {
					d.typ = t
					changed = true
				}
			}
		}
	}
}
