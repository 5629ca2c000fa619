package regalloc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/bitset"
	"github.com/vapoursynth/jitasm/internal/cfg"
)

// interval is a maximal range [begin, end) of block-local offsets over which the live set,
// the register constraints and the stack residency do not change. Every variable of live
// keeps one location, a register from assign or its stack slot, for the whole interval.
type interval struct {
	begin, end int
	// live are the variables needing a location, liveIn the ones holding a value on entry.
	live, liveIn bitset.Set
	// used are the variables accessed in a register, stack the ones declared in memory.
	used, stack bitset.Set
	spill       bitset.Set
	constraints []varMask
	// assign is sorted by variable.
	assign []varReg
}

type varMask struct {
	v    int
	mask api.RegMask
}

type varReg struct {
	v, r int
}

func resetInterval(iv *interval) {
	iv.begin, iv.end = 0, 0
	iv.live.Reset()
	iv.liveIn.Reset()
	iv.used.Reset()
	iv.stack.Reset()
	iv.spill.Reset()
	iv.constraints = iv.constraints[:0]
	iv.assign = iv.assign[:0]
}

// reg returns the register assigned to v.
func (iv *interval) reg(v int) (int, bool) {
	i := sort.Search(len(iv.assign), func(i int) bool { return iv.assign[i].v >= v })
	if i < len(iv.assign) && iv.assign[i].v == v {
		return iv.assign[i].r, true
	}
	return -1, false
}

// constraint returns the register constraint of v in this interval.
func (iv *interval) constraint(v int) (api.RegMask, bool) {
	for _, c := range iv.constraints {
		if c.v == v {
			return c.mask, true
		}
	}
	return 0, false
}

// inRegister returns true if v is live in a register throughout the interval.
func (iv *interval) inRegister(v int) bool {
	return iv.live.Has(v) && !iv.spill.Has(v)
}

func (iv *interval) format(cv *classVars) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d,%d) live=%v in=%v used=%v", iv.begin, iv.end, iv.live, iv.liveIn, iv.used)
	if !iv.spill.Empty() {
		fmt.Fprintf(&b, " spill=%v", iv.spill)
	}
	for _, c := range iv.constraints {
		fmt.Fprintf(&b, " %s%v", cv.regs[c.v], c.mask)
	}
	for _, a := range iv.assign {
		fmt.Fprintf(&b, " %s=%d", cv.regs[a.v], a.r)
	}
	return b.String()
}

func (a *allocator) newInterval(begin int) *interval {
	iv := a.intervalPool.Allocate()
	iv.begin, iv.end = begin, begin
	return iv
}

// buildIntervals partitions b into intervals for class c.
func (a *allocator) buildIntervals(b *cfg.Block, c api.RegClass) {
	lt := &a.blocks[b.ID].lt[c]
	lt.intervals = lt.intervals[:0]
	n := b.Len()
	if n == 0 {
		iv := a.newInterval(0)
		iv.live.Assign(&lt.liveOut)
		iv.live.Union(&lt.liveIn)
		iv.liveIn.Assign(&lt.liveIn)
		lt.intervals = append(lt.intervals, iv)
		return
	}

	var cur *interval
	prevConstrained, prevStack := false, false
	for off := 0; off < n; off++ {
		constrained, stack := false, false
		for _, u := range lt.points[off] {
			constrained = constrained || u.mask != 0
			stack = stack || u.stack
		}
		if cur == nil || constrained || prevConstrained || prevStack || !lt.liveAt[off].Equal(&cur.live) {
			cur = a.newInterval(off)
			cur.live.Assign(&lt.liveAt[off])
			cur.liveIn.Assign(&lt.liveInAt[off])
			lt.intervals = append(lt.intervals, cur)
		}
		cur.end = off + 1
		prevConstrained, prevStack = constrained, stack
	}
	for _, iv := range lt.intervals {
		lt.fillUses(iv)
	}
}

// fillUses recomputes the accesses recorded in iv.
func (lt *lifetime) fillUses(iv *interval) {
	iv.used.Reset()
	iv.stack.Reset()
	iv.constraints = iv.constraints[:0]
	for off := iv.begin; off < iv.end; off++ {
		for _, u := range lt.points[off] {
			if u.stack {
				iv.stack.Add(u.v)
			} else {
				iv.used.Add(u.v)
			}
			if u.mask != 0 {
				iv.constraints = append(iv.constraints, varMask{v: u.v, mask: u.mask})
			}
		}
	}
}

// splitInterval cuts the k-th interval of lt at offset at. The tail keeps the live set and starts
// with no spills; it is examined again by the spill pass.
func (a *allocator) splitInterval(lt *lifetime, k, at int) {
	iv := lt.intervals[k]
	if at <= iv.begin || at >= iv.end {
		panic(fmt.Sprintf("BUG: split of [%d,%d) at %d", iv.begin, iv.end, at))
	}
	tail := a.newInterval(at)
	tail.end = iv.end
	iv.end = at
	tail.live.Assign(&iv.live)
	tail.liveIn.Assign(&lt.liveInAt[at])
	lt.fillUses(iv)
	lt.fillUses(tail)

	lt.intervals = append(lt.intervals, nil)
	copy(lt.intervals[k+2:], lt.intervals[k+1:])
	lt.intervals[k+1] = tail
}

// prevInterval returns the interval preceding the k-th interval of block id in allocation order:
// the previous interval of the block, or the last interval of its depth-first parent.
func (a *allocator) prevInterval(c api.RegClass, id cfg.BlockID, k int) *interval {
	lt := &a.blocks[id].lt[c]
	if k > 0 {
		return lt.intervals[k-1]
	}
	p := a.g.Block(id).Parent
	if p == cfg.InvalidBlock {
		return nil
	}
	pivs := a.blocks[p].lt[c].intervals
	return pivs[len(pivs)-1]
}

func (a *allocator) headInterval(c api.RegClass, id cfg.BlockID) *interval {
	return a.blocks[id].lt[c].intervals[0]
}

func (a *allocator) tailInterval(c api.RegClass, id cfg.BlockID) *interval {
	ivs := a.blocks[id].lt[c].intervals
	return ivs[len(ivs)-1]
}
