package regalloc

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/bitset"
	"github.com/vapoursynth/jitasm/internal/cfg"
)

type useKind byte

const (
	useRead useKind = 1 << iota
	useWrite
)

func (k useKind) String() string {
	switch k {
	case useRead:
		return "r"
	case useWrite:
		return "w"
	case useRead | useWrite:
		return "rw"
	}
	return "-"
}

// Spill cost weights per access.
const (
	readWeight  = 2
	writeWeight = 3
)

// usePoint is an access to a variable at a block-local instruction offset.
type usePoint struct {
	offset int
	kind   useKind
	// mask is the register constraint at this access, 0 if none.
	mask api.RegMask
	// stack marks the declaration of a variable living in memory.
	stack bool
}

type varUse struct {
	v int
	usePoint
}

// lifetime is the liveness of one register class in one block.
type lifetime struct {
	gen, kill       bitset.Set
	liveIn, liveOut bitset.Set
	// dirty is set when liveOut must be recomputed from the successors.
	dirty bool
	// uses lists the accesses of each variable ordered by offset.
	uses map[int][]usePoint
	// points lists the accesses at each offset.
	points [][]varUse
	// liveAt is the set of variables needing a location while the instruction at an offset executes:
	// the variables live before it and the ones it writes. liveInAt holds only the former.
	liveAt, liveInAt []bitset.Set
	intervals        []*interval
}

type blockInfo struct {
	lt [api.NumRegClasses]lifetime
}

// collectUses records the accesses of every instruction of b, the homes of declared variables and the spill costs.
func (a *allocator) collectUses(b *cfg.Block) error {
	bi := &a.blocks[b.ID]
	n := b.Len()
	for c := range bi.lt {
		lt := &bi.lt[c]
		lt.uses = map[int][]usePoint{}
		lt.points = make([][]varUse, n)
		lt.dirty = true
	}
	freq := cfg.LoopFrequency(b.LoopDepth)

	for off := 0; off < n; off++ {
		i := b.Begin + off
		in := &a.instrs[i]
		var err error
		switch in.Op {
		case api.OpProlog, api.OpEpilog:
		case api.OpDeclareRegArg:
			v, phys := in.Operands[0].Reg, in.Operands[1].Reg
			err = a.addUse(bi, i, off, v, useWrite, api.MaskOf(int(phys.ID)), false, freq)
			if err == nil && in.Operands[2].Kind == api.OperandMem {
				a.setHome(v, in.Operands[2])
			}
		case api.OpDeclareStackArg:
			v := in.Operands[0].Reg
			err = a.addUse(bi, i, off, v, useWrite, 0, true, freq)
			if err == nil {
				a.setHome(v, in.Operands[1])
			}
		case api.OpDeclareResultReg:
			v, phys := in.Operands[0].Reg, in.Operands[1].Reg
			err = a.addUse(bi, i, off, v, useRead, api.MaskOf(int(phys.ID)), false, freq)
		default:
			for k := 0; k < api.MaxOperands && err == nil; k++ {
				op := &in.Operands[k]
				switch op.Kind {
				case api.OperandReg:
					var kind useKind
					if op.IsRead() || !op.IsWrite() {
						kind |= useRead
					}
					if op.IsWrite() {
						kind |= useWrite
						if op.Reg.Class == api.RegClassGP && op.Size != 0 && op.Size < 4 {
							// Partial writes keep the upper bits.
							kind |= useRead
						}
					}
					err = a.addUse(bi, i, off, op.Reg, kind, op.Constraint, false, freq)
				case api.OperandMem:
					if op.Reg.Valid() {
						err = a.addUse(bi, i, off, op.Reg, useRead, 0, false, freq)
					}
					if err == nil && op.Index.Valid() {
						err = a.addUse(bi, i, off, op.Index, useRead, 0, false, freq)
					}
				}
			}
		}
		if err != nil {
			return err
		}
	}

	for c := range bi.lt {
		lt := &bi.lt[c]
		lt.gen.Reset()
		lt.kill.Reset()
		for off := range lt.points {
			for _, u := range lt.points[off] {
				if _, seen := lt.uses[u.v]; !seen {
					if u.kind&useRead != 0 {
						lt.gen.Add(u.v)
					} else {
						lt.kill.Add(u.v)
					}
				}
				lt.uses[u.v] = append(lt.uses[u.v], u.usePoint)
			}
		}
	}
	return nil
}

func (a *allocator) setHome(r api.Reg, home api.Operand) {
	cv := &a.vars.classes[r.Class]
	if v, ok := cv.lookup(r); ok {
		cv.home[v] = home
	}
}

// addUse merges an access of r into the use points at off.
func (a *allocator) addUse(bi *blockInfo, i, off int, r api.Reg, kind useKind, mask api.RegMask, stack bool, freq int64) error {
	cv := &a.vars.classes[r.Class]
	v, tracked := cv.lookup(r)
	if !tracked {
		return nil
	}
	if mask == 0 && cv.isPhysical(v) {
		mask = api.MaskOf(v)
	}
	if kind&useRead != 0 {
		cv.cost[v] += readWeight * freq
	}
	if kind&useWrite != 0 {
		cv.cost[v] += writeWeight * freq
	}

	lt := &bi.lt[r.Class]
	pts := lt.points[off]
	for k := range pts {
		if pts[k].v != v {
			continue
		}
		p := &pts[k]
		p.kind |= kind
		p.stack = p.stack || stack
		switch {
		case p.mask == 0:
			p.mask = mask
		case mask != 0:
			if p.mask&mask == 0 {
				return &api.Error{
					Kind: api.KindUnsatisfiableConstraint, Instr: i, Block: int(a.g.BlockOf(i)),
					Class: r.Class, Vars: []api.Reg{r},
					Msg: fmt.Sprintf("constraints %v and %v are disjoint", p.mask, mask),
				}
			}
			p.mask &= mask
		}
		return nil
	}
	lt.points[off] = append(pts, varUse{v: v, usePoint: usePoint{offset: off, kind: kind, mask: mask, stack: stack}})
	return nil
}

// solveLiveness computes live-in and live-out of every reachable block for class c with a worklist
// seeded in postorder. A block's live-out is recomputed only when a successor's live-in changed.
func (a *allocator) solveLiveness(c api.RegClass) {
	g := a.g
	work := append([]cfg.BlockID(nil), g.PostOrder...)
	var inWork bitset.Set
	for _, id := range work {
		inWork.Add(int(id))
		lt := &a.blocks[id].lt[c]
		lt.dirty = true
	}
	var next bitset.Set
	for len(work) > 0 {
		id := work[0]
		work = work[1:]
		inWork.Remove(int(id))
		lt := &a.blocks[id].lt[c]
		if lt.dirty {
			lt.liveOut.Reset()
			for _, s := range g.Block(id).Successors() {
				lt.liveOut.Union(&a.blocks[s].lt[c].liveIn)
			}
			lt.dirty = false
		}
		next.Assign(&lt.liveOut)
		next.Subtract(&lt.kill)
		next.Union(&lt.gen)
		if next.Equal(&lt.liveIn) {
			continue
		}
		lt.liveIn.Assign(&next)
		for _, p := range g.Block(id).Preds {
			if g.Block(p).Dead {
				continue
			}
			a.blocks[p].lt[c].dirty = true
			if !inWork.Has(int(p)) {
				inWork.Add(int(p))
				work = append(work, p)
			}
		}
	}
}

// computeLocalLiveness walks b backwards from its live-out and records the live sets at every offset.
func (a *allocator) computeLocalLiveness(b *cfg.Block, c api.RegClass) {
	lt := &a.blocks[b.ID].lt[c]
	n := b.Len()
	lt.liveAt = make([]bitset.Set, n)
	lt.liveInAt = make([]bitset.Set, n)
	live := lt.liveOut.Clone()
	for off := n - 1; off >= 0; off-- {
		at := live.Clone()
		for _, u := range lt.points[off] {
			at.Add(u.v)
			if u.kind&useRead == 0 {
				live.Remove(u.v)
			}
		}
		for _, u := range lt.points[off] {
			if u.kind&useRead != 0 {
				live.Add(u.v)
			}
		}
		lt.liveAt[off] = at
		lt.liveInAt[off] = live.Clone()
	}
}

// firstUse returns the offset of the first register access of v in [from, to), or -1.
func (lt *lifetime) firstUse(v, from, to int) int {
	for _, u := range lt.uses[v] {
		if u.offset >= to {
			break
		}
		if u.offset >= from && !u.stack {
			return u.offset
		}
	}
	return -1
}

// stackUse returns the offset of the memory declaration of v in [from, to), or -1.
func (lt *lifetime) stackUse(v, from, to int) int {
	for _, u := range lt.uses[v] {
		if u.offset >= to {
			break
		}
		if u.offset >= from && u.stack {
			return u.offset
		}
	}
	return -1
}

// usedAt returns true if v is accessed in a register at off.
func (lt *lifetime) usedAt(v, off int) bool {
	if off >= len(lt.points) {
		return false
	}
	for _, u := range lt.points[off] {
		if u.v == v {
			return !u.stack
		}
	}
	return false
}
