package regalloc

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/bitset"
)

type moveKind byte

const (
	moveStore moveKind = iota
	moveReg
	moveSwap
	moveLoad
)

// move is one step of the correction code between two assignments.
type move struct {
	kind  moveKind
	class api.RegClass
	// v is the moved variable. Swaps exchange whole registers and carry no variable.
	v int
	// src and dst are hardware numbers. A store only uses src, a load only dst.
	src, dst int
	size     byte
}

func (m move) String() string {
	switch m.kind {
	case moveStore:
		return fmt.Sprintf("store %s%d -> slot(v%d)", m.class, m.src, m.v)
	case moveLoad:
		return fmt.Sprintf("load slot(v%d) -> %s%d", m.v, m.class, m.dst)
	case moveSwap:
		return fmt.Sprintf("swap %s%d <-> %s%d", m.class, m.src, m.class, m.dst)
	}
	return fmt.Sprintf("mov %s%d -> %s%d", m.class, m.src, m.class, m.dst)
}

// location is where a variable lives at an interval boundary: a register or its stack slot.
type location struct {
	reg   int
	stack bool
}

// transitionMoves returns the moves turning the locations of vars in from into their locations in to.
// from may be nil at function entry, where only physical variables have a value, in their own register.
// Stores come first, then the register permutation, then loads.
func (a *allocator) transitionMoves(c api.RegClass, from, to *interval, vars *bitset.Set) []move {
	cv := &a.vars.classes[c]
	var stores, regs, loads []move
	vars.Range(func(v int) {
		var src location
		switch {
		case from == nil:
			if !cv.isPhysical(v) {
				return
			}
			src.reg = v
		case from.spill.Has(v):
			src.stack = true
		default:
			r, ok := from.reg(v)
			if !ok {
				panic(fmt.Sprintf("BUG: %s has no location", cv.regs[v]))
			}
			src.reg = r
		}
		var dst location
		if to.spill.Has(v) {
			dst.stack = true
		} else {
			r, ok := to.reg(v)
			if !ok {
				panic(fmt.Sprintf("BUG: %s has no location", cv.regs[v]))
			}
			dst.reg = r
		}
		m := move{class: c, v: v, src: src.reg, dst: dst.reg, size: cv.size[v]}
		switch {
		case src.stack && dst.stack:
		case dst.stack:
			m.kind = moveStore
			stores = append(stores, m)
		case src.stack:
			m.kind = moveLoad
			loads = append(loads, m)
		case src.reg != dst.reg:
			m.kind = moveReg
			regs = append(regs, m)
		}
	})
	ret := stores
	ret = append(ret, sequenceParallelMoves(regs)...)
	return append(ret, loads...)
}

// sequenceParallelMoves orders a set of register-to-register moves with distinct sources and distinct
// destinations so that no source is overwritten before it is read. The move graph is split into
// strongly connected components. Components come out of Tarjan's algorithm in reverse topological
// order, so a chain is emitted from its sink end. A component with more than one register is a
// cycle and becomes a sequence of swaps.
func sequenceParallelMoves(moves []move) []move {
	if len(moves) == 0 {
		return nil
	}
	var out [api.MaxPhysicalRegs]int
	for i := range out {
		out[i] = -1
	}
	adj := make([][]int, api.MaxPhysicalRegs)
	for i, m := range moves {
		if out[m.src] >= 0 {
			panic(fmt.Sprintf("BUG: %s%d is the source of two moves", m.class, m.src))
		}
		out[m.src] = i
		adj[m.src] = append(adj[m.src], m.dst)
	}

	ret := make([]move, 0, len(moves)+1)
	for _, scc := range stronglyConnectedComponents(api.MaxPhysicalRegs, adj) {
		if len(scc) == 1 {
			if i := out[scc[0]]; i >= 0 {
				ret = append(ret, moves[i])
			}
			continue
		}
		// Walk the cycle from one register and swap it with every other register in turn.
		first := moves[out[scc[0]]]
		size := first.size
		for r := first.dst; r != first.src; r = moves[out[r]].dst {
			if s := moves[out[r]].size; s > size {
				size = s
			}
		}
		for r := first.dst; r != first.src; r = moves[out[r]].dst {
			ret = append(ret, move{kind: moveSwap, class: first.class, v: -1, src: first.src, dst: r, size: size})
		}
	}
	return ret
}

// stronglyConnectedComponents returns the strongly connected components of the graph on n nodes
// in reverse topological order. It is Tarjan's algorithm with an explicit call stack.
func stronglyConnectedComponents(n int, adj [][]int) [][]int {
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	type frame struct{ v, next int }
	var (
		stack []int
		calls []frame
		sccs  [][]int
		next  int
	)
	visit := func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		calls = append(calls, frame{v: v})
	}
	for root := 0; root < n; root++ {
		if index[root] >= 0 {
			continue
		}
		visit(root)
		for len(calls) > 0 {
			top := len(calls) - 1
			v := calls[top].v
			if calls[top].next < len(adj[v]) {
				w := adj[v][calls[top].next]
				calls[top].next++
				if index[w] < 0 {
					visit(w)
				} else if onStack[w] && index[w] < low[v] {
					low[v] = index[w]
				}
				continue
			}
			calls = calls[:top]
			if top > 0 {
				if p := calls[top-1].v; low[v] < low[p] {
					low[p] = low[v]
				}
			}
			if low[v] == index[v] {
				var scc []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				sccs = append(sccs, scc)
			}
		}
	}
	return sccs
}
