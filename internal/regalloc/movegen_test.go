package regalloc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/bitset"
)

func TestStronglyConnectedComponents(t *testing.T) {
	for _, tc := range []struct {
		name string
		n    int
		adj  [][]int
		exp  [][]int
	}{
		{name: "single", n: 1, adj: [][]int{nil}, exp: [][]int{{0}}},
		{
			name: "chain",
			// 0 -> 1 -> 2
			n: 3, adj: [][]int{{1}, {2}, nil},
			exp: [][]int{{2}, {1}, {0}},
		},
		{
			name: "cycle with tail",
			// 0 -> 1 -> 2 -> 1, 2 -> 3
			n: 4, adj: [][]int{{1}, {2}, {1, 3}, nil},
			exp: [][]int{{3}, {2, 1}, {0}},
		},
		{
			name: "two cycles",
			// 0 <-> 1, 2 <-> 3
			n: 4, adj: [][]int{{1}, {0}, {3}, {2}},
			exp: [][]int{{1, 0}, {3, 2}},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, stronglyConnectedComponents(tc.n, tc.adj))
		})
	}
}

func TestStronglyConnectedComponents_longChain(t *testing.T) {
	const n = 1 << 16
	adj := make([][]int, n)
	for i := 0; i < n-1; i++ {
		adj[i] = []int{i + 1}
	}
	sccs := stronglyConnectedComponents(n, adj)
	require.Len(t, sccs, n)
	require.Equal(t, []int{n - 1}, sccs[0])
	require.Equal(t, []int{0}, sccs[n-1])
}

func TestSequenceParallelMoves(t *testing.T) {
	mv := func(src, dst int) move { return move{kind: moveReg, class: api.RegClassGP, src: src, dst: dst, size: 8} }
	for _, tc := range []struct {
		name  string
		moves []move
		exp   []move
	}{
		{name: "none"},
		{
			name:  "chain is emitted from its end",
			moves: []move{mv(0, 1), mv(1, 2)},
			exp:   []move{mv(1, 2), mv(0, 1)},
		},
		{
			name:  "swap",
			moves: []move{mv(0, 1), mv(1, 0)},
			exp:   []move{{kind: moveSwap, class: api.RegClassGP, v: -1, src: 1, dst: 0, size: 8}},
		},
		{
			name:  "three cycle",
			moves: []move{mv(0, 1), mv(1, 2), mv(2, 0)},
			exp: []move{
				{kind: moveSwap, class: api.RegClassGP, v: -1, src: 2, dst: 0, size: 8},
				{kind: moveSwap, class: api.RegClassGP, v: -1, src: 2, dst: 1, size: 8},
			},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, sequenceParallelMoves(tc.moves))
		})
	}
}

// moveState is where every variable is: a register holding it, and whether its slot holds it.
type moveState struct {
	regs  [api.MaxPhysicalRegs]int
	slots map[int]bool
}

func (s *moveState) apply(t *testing.T, m move) {
	switch m.kind {
	case moveStore:
		require.Equal(t, m.v, s.regs[m.src], "%v", m)
		s.slots[m.v] = true
	case moveLoad:
		require.True(t, s.slots[m.v], "%v", m)
		s.regs[m.dst] = m.v
	case moveReg:
		require.Equal(t, m.v, s.regs[m.src], "%v", m)
		s.regs[m.dst] = s.regs[m.src]
	case moveSwap:
		s.regs[m.src], s.regs[m.dst] = s.regs[m.dst], s.regs[m.src]
	}
}

func TestTransitionMoves_random(t *testing.T) {
	p := testPlatform(api.FullMask(16), 0)
	rnd := rand.New(rand.NewSource(0x5eed))
	for iter := 0; iter < 2000; iter++ {
		a := &allocator{platform: &p}
		a.vars.init(&p)
		cv := &a.vars.classes[api.RegClassGP]
		n := 1 + rnd.Intn(24)
		for i := 0; i < n; i++ {
			cv.declare(sym(i), 8)
		}
		cv.finish()

		// Random injective placements with some variables on the stack.
		place := func() *interval {
			iv := &interval{}
			perm := rnd.Perm(api.MaxPhysicalRegs)
			next := 0
			for i := 0; i < n; i++ {
				v := cv.numPhys + i
				iv.live.Add(v)
				if next == len(perm) || rnd.Intn(4) == 0 {
					iv.spill.Add(v)
					continue
				}
				iv.assign = append(iv.assign, varReg{v: v, r: perm[next]})
				next++
			}
			return iv
		}
		from, to := place(), place()
		var vars bitset.Set
		for i := 0; i < n; i++ {
			if rnd.Intn(5) != 0 {
				vars.Add(cv.numPhys + i)
			}
		}

		s := moveState{slots: map[int]bool{}}
		for i := range s.regs {
			s.regs[i] = -1
		}
		for _, vr := range from.assign {
			s.regs[vr.r] = vr.v
		}
		from.spill.Range(func(v int) { s.slots[v] = true })

		for _, m := range a.transitionMoves(api.RegClassGP, from, to, &vars) {
			s.apply(t, m)
		}
		vars.Range(func(v int) {
			if to.spill.Has(v) {
				require.True(t, s.slots[v], "iteration %d: v%d not stored", iter, v)
				return
			}
			reg, ok := to.reg(v)
			require.True(t, ok)
			require.Equal(t, v, s.regs[reg], "iteration %d: v%d not in %d", iter, v, reg)
		})
	}
}
