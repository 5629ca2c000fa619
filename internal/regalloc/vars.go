package regalloc

import (
	"fmt"
	"sort"

	"github.com/vapoursynth/jitasm/api"
)

// classVars is the variable table of one register class.
//
// Variables are dense indexes: index i < numPhys is the physical register i, larger indexes are
// the symbolic registers of the stream in order of first appearance.
type classVars struct {
	class     api.RegClass
	numPhys   int
	available api.RegMask
	symbolic  map[api.RegID]int
	// regs maps a variable back to the register of the input stream.
	regs []api.Reg
	// size is the widest access seen, in bytes.
	size []byte
	cost []int64
	// spilled is set if the variable lives on the stack in any interval.
	spilled []bool
	// home is the stack location declared for the variable, if any.
	home []api.Operand
	// slot is the frame offset assigned to a spilled variable without home, -1 otherwise.
	slot []int
}

func (cv *classVars) init(class api.RegClass, info *api.ClassInfo, defaultSize byte) {
	cv.class = class
	cv.numPhys = info.NumRegs
	cv.available = info.Available
	cv.symbolic = map[api.RegID]int{}
	cv.regs = cv.regs[:0]
	for i := 0; i < info.NumRegs; i++ {
		cv.regs = append(cv.regs, api.Reg{Class: class, ID: api.RegID(i)})
	}
	cv.size = make([]byte, info.NumRegs)
	for i := range cv.size {
		cv.size[i] = defaultSize
	}
}

// lookup returns the variable of r and whether the allocator tracks it at all.
// Physical registers outside the available set, such as the stack pointer, are left alone.
func (cv *classVars) lookup(r api.Reg) (int, bool) {
	if r.IsPhysical() {
		id := int(r.ID)
		return id, cv.available.Has(id)
	}
	v, ok := cv.symbolic[r.ID]
	return v, ok
}

// declare registers r if it is symbolic and returns its variable.
func (cv *classVars) declare(r api.Reg, defaultSize byte) int {
	if v, ok := cv.symbolic[r.ID]; ok {
		return v
	}
	v := len(cv.regs)
	cv.symbolic[r.ID] = v
	cv.regs = append(cv.regs, r)
	cv.size = append(cv.size, defaultSize)
	return v
}

func (cv *classVars) numVars() int { return len(cv.regs) }

func (cv *classVars) isPhysical(v int) bool { return v < cv.numPhys }

func (cv *classVars) finish() {
	n := cv.numVars()
	cv.cost = make([]int64, n)
	cv.spilled = make([]bool, n)
	cv.home = make([]api.Operand, n)
	cv.slot = make([]int, n)
	for i := range cv.slot {
		cv.slot[i] = -1
	}
}

func (cv *classVars) widen(v int, size byte) {
	if cv.class == api.RegClassXMM && size > cv.size[v] {
		cv.size[v] = size
	}
}

func (cv *classVars) regsOf(vs []int) []api.Reg {
	ret := make([]api.Reg, len(vs))
	for i, v := range vs {
		ret[i] = cv.regs[v]
	}
	return ret
}

// variableManager owns the per-class variable tables and the spill slot layout.
type variableManager struct {
	classes [api.NumRegClasses]classVars
	// spillBytes is the size of the packed spill slot area.
	spillBytes int
}

func (m *variableManager) init(p *api.Platform) {
	m.classes[api.RegClassGP].init(api.RegClassGP, &p.Classes[api.RegClassGP], byte(p.PointerSize))
	m.classes[api.RegClassMMX].init(api.RegClassMMX, &p.Classes[api.RegClassMMX], 8)
	m.classes[api.RegClassXMM].init(api.RegClassXMM, &p.Classes[api.RegClassXMM], 16)
	m.spillBytes = 0
}

// layoutSlots assigns frame offsets to every spilled variable that has no declared home.
// Larger slots come first so every slot is aligned to its own size relative to the area start.
func (m *variableManager) layoutSlots() {
	type slotReq struct {
		class api.RegClass
		v     int
		size  int
	}
	var reqs []slotReq
	for c := range m.classes {
		cv := &m.classes[c]
		for v, spilled := range cv.spilled {
			if spilled && cv.home[v].Kind == api.OperandNone {
				reqs = append(reqs, slotReq{class: api.RegClass(c), v: v, size: int(cv.size[v])})
			}
		}
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].size != reqs[j].size {
			return reqs[i].size > reqs[j].size
		}
		if reqs[i].class != reqs[j].class {
			return reqs[i].class < reqs[j].class
		}
		return reqs[i].v < reqs[j].v
	})
	off := 0
	for _, r := range reqs {
		m.classes[r.class].slot[r.v] = off
		off += r.size
	}
	m.spillBytes = off
}

// spilledRegs lists the input registers of every spilled variable.
func (m *variableManager) spilledRegs() (ret []api.Reg) {
	for c := range m.classes {
		cv := &m.classes[c]
		for v, spilled := range cv.spilled {
			if spilled {
				ret = append(ret, cv.regs[v])
			}
		}
	}
	return
}

func (m *variableManager) String() string {
	var s string
	for c := range m.classes {
		cv := &m.classes[c]
		for v := range cv.regs {
			if cv.spilled[v] {
				s += fmt.Sprintf("%s: size=%d cost=%d slot=%d home=%v\n", cv.regs[v], cv.size[v], cv.cost[v], cv.slot[v], cv.home[v])
			}
		}
	}
	return s
}
