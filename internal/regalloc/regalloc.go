// Package regalloc lowers an instruction stream mixing physical and symbolic registers into one
// using physical registers only.
//
// The allocator works per register class on intervals: ranges of a basic block over which the live
// set, the constraints and the stack residency of variables are constant. Spills are chosen per
// interval, registers are handed out by a linear scan in reverse postorder, and correction code is
// generated wherever two adjacent intervals disagree on a variable's location.
package regalloc

import (
	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/cfg"
	"github.com/vapoursynth/jitasm/internal/jitapi"
)

// allocator holds the state of one compilation.
type allocator struct {
	instrs   []api.Instr
	platform *api.Platform
	g        *cfg.Graph
	vars     variableManager
	// blocks is indexed by cfg.BlockID. Split blocks have no entry.
	blocks       []blockInfo
	intervalPool jitapi.Pool[interval]
	// used are the registers assigned anywhere in the function.
	used  [api.NumRegClasses]api.RegMask
	frame frame
	// prolog is the index of the prolog marker, -1 if there is none.
	prolog int

	headCode map[cfg.BlockID][]api.Instr
	stubs    []stub
}

func (a *allocator) init(instrs []api.Instr, p *api.Platform) {
	a.instrs = append(a.instrs[:0], instrs...)
	a.platform = p
	a.g = nil
	a.blocks = nil
	a.intervalPool = jitapi.NewPool[interval](resetInterval)
	a.used = [api.NumRegClasses]api.RegMask{}
	a.prolog = -1
}

// analyze computes liveness and intervals, then decides spills and assignments of every class.
func (a *allocator) analyze() error {
	g := a.g
	a.blocks = make([]blockInfo, g.NumLayoutBlocks())
	for _, id := range g.ReversePostOrder {
		if err := a.collectUses(g.Block(id)); err != nil {
			return err
		}
	}
	for c := api.RegClass(0); c < api.NumRegClasses; c++ {
		a.solveLiveness(c)
		for _, id := range g.ReversePostOrder {
			b := g.Block(id)
			a.computeLocalLiveness(b, c)
			a.buildIntervals(b, c)
		}
	}
	for c := api.RegClass(0); c < api.NumRegClasses; c++ {
		if err := a.identifySpills(c); err != nil {
			return err
		}
	}
	a.vars.layoutSlots()
	if a.vars.spillBytes > 0 && a.prolog < 0 {
		i, id := a.firstSpillSite()
		return &api.Error{
			Kind: api.KindMalformedPseudoInstruction, Instr: i, Block: int(id),
			Vars: a.vars.spilledRegs(), Msg: "spill slots need a prolog",
		}
	}
	for c := api.RegClass(0); c < api.NumRegClasses; c++ {
		if err := a.assignRegisters(c); err != nil {
			return err
		}
	}
	a.frame.layout(a.platform, a.used, a.vars.spillBytes)
	return nil
}

// firstSpillSite returns the first instruction, in stream order, at which a variable needing a
// spill slot lives on the stack.
func (a *allocator) firstSpillSite() (int, cfg.BlockID) {
	at, in := -1, cfg.BlockID(-1)
	for c := range a.vars.classes {
		cv := &a.vars.classes[c]
		for _, id := range a.g.ReversePostOrder {
			b := a.g.Block(id)
			for _, iv := range a.blocks[id].lt[c].intervals {
				i := b.Begin + iv.begin
				if at >= 0 && i >= at {
					break
				}
				slot := false
				iv.spill.Range(func(v int) { slot = slot || cv.slot[v] >= 0 })
				if slot {
					at, in = i, id
					break
				}
			}
		}
	}
	return at, in
}
