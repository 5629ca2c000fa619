package regalloc

import (
	"fmt"
	"math"
	"sort"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/jitapi"
)

// keepBonus is added to the cost of a variable that was in a register in the preceding interval.
const keepBonus = 4

const (
	costMin   = math.MinInt64
	costNever = math.MaxInt64
)

type spillCandidate struct {
	v    int
	cost int64
}

// identifySpills decides, interval by interval, which variables of class c live on the stack so that
// no more variables need registers than the class has available.
func (a *allocator) identifySpills(c api.RegClass) error {
	cv := &a.vars.classes[c]
	avail := cv.available.Count()
	var cands []spillCandidate
	for _, id := range a.g.ReversePostOrder {
		b := a.g.Block(id)
		lt := &a.blocks[id].lt[c]
		for k := 0; k < len(lt.intervals); k++ {
			iv := lt.intervals[k]

			// A variable declared in memory must be on the stack where it is declared.
			if !iv.stack.Empty() {
				at := -1
				iv.stack.Range(func(v int) {
					if off := lt.stackUse(v, iv.begin, iv.end); off > iv.begin && (at < 0 || off < at) {
						at = off
					}
				})
				if at > 0 {
					a.splitInterval(lt, k, at)
				} else {
					iv.stack.Range(func(v int) {
						iv.spill.Add(v)
						cv.spilled[v] = true
					})
				}
			}

			excess := iv.live.Len() - iv.spill.Len() - avail
			if excess <= 0 {
				continue
			}

			prev := a.prevInterval(c, id, k)
			entryHead := id == a.g.Entry && k == 0
			cands = cands[:0]
			iv.live.Range(func(v int) {
				if iv.spill.Has(v) {
					return
				}
				cost := cv.cost[v]
				switch {
				case lt.usedAt(v, iv.begin):
					cost = costNever
				case entryHead && cv.isPhysical(v) && iv.liveIn.Has(v):
					cost = costNever
				case prev != nil && prev.live.Has(v) && prev.spill.Has(v):
					cost = costMin
				case prev != nil && prev.inRegister(v):
					cost += keepBonus
				}
				if cost != costNever {
					cands = append(cands, spillCandidate{v: v, cost: cost})
				}
			})
			if len(cands) < excess {
				var vs []int
				iv.live.Range(func(v int) {
					if !iv.spill.Has(v) {
						vs = append(vs, v)
					}
				})
				return &api.Error{
					Kind: api.KindRegisterPressureExceeded, Instr: b.Begin + iv.begin, Block: int(id),
					Class: c, Vars: cv.regsOf(vs),
					Msg: fmt.Sprintf("%d variables need registers, %d available", len(vs), avail),
				}
			}
			sort.SliceStable(cands, func(i, j int) bool {
				if cands[i].cost != cands[j].cost {
					return cands[i].cost < cands[j].cost
				}
				return cands[i].v < cands[j].v
			})

			at := -1
			for _, cand := range cands[:excess] {
				iv.spill.Add(cand.v)
				cv.spilled[cand.v] = true
				if off := lt.firstUse(cand.v, iv.begin, iv.end); off > iv.begin && (at < 0 || off < at) {
					at = off
				}
			}
			if jitapi.RegAllocLoggingEnabled {
				fmt.Printf("spill blk%d %s: %v\n", id, iv.format(cv), cands[:excess])
			}
			// The reload gets its own interval.
			if at > 0 {
				a.splitInterval(lt, k, at)
			}
		}
	}
	return nil
}
