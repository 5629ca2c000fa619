package regalloc

import (
	"github.com/nikandfor/errors"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/bitset"
)

// validate checks the allocation of every interval and that the liveness solution is a fixed point.
func (a *allocator) validate() error {
	for c := api.RegClass(0); c < api.NumRegClasses; c++ {
		cv := &a.vars.classes[c]
		for _, id := range a.g.ReversePostOrder {
			lt := &a.blocks[id].lt[c]
			for k, iv := range lt.intervals {
				if err := a.validateInterval(cv, iv); err != nil {
					return errors.Wrap(err, "%v blk%d interval %d", c, id, k)
				}
			}
		}
		if err := a.validateLiveness(c); err != nil {
			return errors.Wrap(err, "%v", c)
		}
	}
	return nil
}

func (a *allocator) validateInterval(cv *classVars, iv *interval) error {
	if n := iv.live.Len() - iv.spill.Len(); n > cv.available.Count() {
		return errors.New("%d variables in registers, %d available", n, cv.available.Count())
	}
	var taken api.RegMask
	for _, vr := range iv.assign {
		switch {
		case !iv.live.Has(vr.v) || iv.spill.Has(vr.v):
			return errors.New("%s assigned but not live in a register", cv.regs[vr.v])
		case !cv.available.Has(vr.r):
			return errors.New("%s assigned to unavailable %d", cv.regs[vr.v], vr.r)
		case taken.Has(vr.r):
			return errors.New("%s assigned to taken %d", cv.regs[vr.v], vr.r)
		}
		if m, ok := iv.constraint(vr.v); ok && !m.Has(vr.r) {
			return errors.New("%s assigned to %d outside %v", cv.regs[vr.v], vr.r, m)
		}
		taken = taken.Add(vr.r)
	}
	var err error
	iv.live.Range(func(v int) {
		if err != nil {
			return
		}
		_, inReg := iv.reg(v)
		switch {
		case iv.spill.Has(v) && iv.used.Has(v):
			err = errors.New("%s accessed while spilled", cv.regs[v])
		case !iv.spill.Has(v) && !inReg:
			err = errors.New("%s has no location", cv.regs[v])
		}
	})
	return err
}

// validateLiveness solves liveness once more and compares, then checks the block equations.
func (a *allocator) validateLiveness(c api.RegClass) error {
	before := make([]bitset.Set, len(a.blocks))
	for _, id := range a.g.ReversePostOrder {
		before[id] = a.blocks[id].lt[c].liveIn.Clone()
	}
	a.solveLiveness(c)
	var want bitset.Set
	for _, id := range a.g.ReversePostOrder {
		lt := &a.blocks[id].lt[c]
		if !lt.liveIn.Equal(&before[id]) {
			return errors.New("blk%d live-in changed from %v to %v", id, before[id], lt.liveIn)
		}
		want.Assign(&lt.liveOut)
		want.Subtract(&lt.kill)
		want.Union(&lt.gen)
		if !want.Equal(&lt.liveIn) {
			return errors.New("blk%d live-in %v, want %v", id, lt.liveIn, want)
		}
	}
	return nil
}
