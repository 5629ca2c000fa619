package regalloc

import (
	"fmt"
	"sort"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/cfg"
	"github.com/vapoursynth/jitasm/internal/jitapi"
)

type assignCandidate struct {
	v           int
	mask        api.RegMask
	constrained bool
	used        bool
	prevReg     int
}

// assignRegisters runs the linear scan for class c over every interval in reverse postorder.
func (a *allocator) assignRegisters(c api.RegClass) error {
	for _, id := range a.g.ReversePostOrder {
		lt := &a.blocks[id].lt[c]
		for k, iv := range lt.intervals {
			prev := a.prevInterval(c, id, k)
			if err := a.assignInterval(c, id, iv, prev, id == a.g.Entry && k == 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignInterval hands out registers to the variables of iv living in registers.
// Without a previous interval (function entry) physical variables start in their own register.
func (a *allocator) assignInterval(c api.RegClass, id cfg.BlockID, iv, prev *interval, entry bool) error {
	cv := &a.vars.classes[c]
	avail := cv.available

	var cands []assignCandidate
	iv.live.Range(func(v int) {
		if iv.spill.Has(v) {
			return
		}
		x := assignCandidate{v: v, mask: avail, used: iv.used.Has(v), prevReg: -1}
		if m, ok := iv.constraint(v); ok {
			x.mask, x.constrained = m&avail, true
		}
		if prev != nil {
			if r, ok := prev.reg(v); ok {
				x.prevReg = r
			}
		} else if entry && cv.isPhysical(v) {
			x.prevReg = v
		}
		cands = append(cands, x)
	})
	sort.SliceStable(cands, func(i, j int) bool {
		x, y := &cands[i], &cands[j]
		if x.constrained != y.constrained {
			return x.constrained
		}
		if x.constrained {
			if x.used != y.used {
				return x.used
			}
			if nx, ny := x.mask.Count(), y.mask.Count(); nx != ny {
				return nx < ny
			}
		}
		if px, py := cv.isPhysical(x.v), cv.isPhysical(y.v); px != py {
			return px
		}
		if hx, hy := x.prevReg >= 0, y.prevReg >= 0; hx != hy {
			return hx
		}
		return x.v < y.v
	})

	b := a.g.Block(id)
	free := avail
	var deferred []assignCandidate
	iv.assign = iv.assign[:0]
	for _, x := range cands {
		regs := x.mask & free
		if regs == 0 {
			if !x.constrained && !x.used {
				deferred = append(deferred, x)
				continue
			}
			kind := api.KindRegisterPressureExceeded
			if x.constrained {
				kind = api.KindUnsatisfiableConstraint
			}
			return &api.Error{
				Kind: kind, Instr: b.Begin + iv.begin, Block: int(id), Class: c,
				Vars: []api.Reg{cv.regs[x.v]},
				Msg:  fmt.Sprintf("no register left in %v", x.mask),
			}
		}
		r := pickRegister(regs, x, cv)
		free = free.Remove(r)
		iv.assign = append(iv.assign, varReg{v: x.v, r: r})
	}
	for _, x := range deferred {
		regs := x.mask & free
		if regs == 0 {
			return &api.Error{
				Kind: api.KindRegisterPressureExceeded, Instr: b.Begin + iv.begin, Block: int(id), Class: c,
				Vars: []api.Reg{cv.regs[x.v]},
				Msg:  fmt.Sprintf("no register left for a live-through variable in %v", x.mask),
			}
		}
		r := pickRegister(regs, x, cv)
		free = free.Remove(r)
		iv.assign = append(iv.assign, varReg{v: x.v, r: r})
	}
	sort.Slice(iv.assign, func(i, j int) bool { return iv.assign[i].v < iv.assign[j].v })

	for _, vr := range iv.assign {
		a.used[c] = a.used[c].Add(vr.r)
	}
	if jitapi.RegAllocLoggingEnabled {
		fmt.Printf("assign blk%d %s\n", id, iv.format(cv))
	}
	return nil
}

// pickRegister keeps the previous register if possible, then a physical variable's own register,
// then the lowest candidate.
func pickRegister(regs api.RegMask, x assignCandidate, cv *classVars) int {
	if x.prevReg >= 0 && regs.Has(x.prevReg) {
		return x.prevReg
	}
	if cv.isPhysical(x.v) && regs.Has(x.v) {
		return x.v
	}
	return regs.Lowest()
}
