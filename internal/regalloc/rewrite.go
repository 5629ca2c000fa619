package regalloc

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/cfg"
	"github.com/vapoursynth/jitasm/internal/jitapi"
)

// stub is the code of a split edge. It is placed after all blocks and jumps to target.
type stub struct {
	id     cfg.BlockID
	target cfg.BlockID
	code   []api.Instr
}

type fixup struct {
	at     int
	target cfg.BlockID
}

// edgeCode returns the instructions moving the variables live into to from their locations at the
// end of from.
func (a *allocator) edgeCode(from, to cfg.BlockID) []api.Instr {
	var code []api.Instr
	for c := api.RegClass(0); c < api.NumRegClasses; c++ {
		head := a.headInterval(c, to)
		code = a.lowerMoves(code, a.transitionMoves(c, a.tailInterval(c, from), head, &head.liveIn))
	}
	return code
}

// entryCode moves the physical registers live into the function to their first assignment.
func (a *allocator) entryCode() []api.Instr {
	var code []api.Instr
	for c := api.RegClass(0); c < api.NumRegClasses; c++ {
		head := a.headInterval(c, a.g.Entry)
		code = a.lowerMoves(code, a.transitionMoves(c, nil, head, &head.liveIn))
	}
	return code
}

// placeBranchEdges decides where the code of every taken conditional edge goes: the head of the
// target if the edge is its only way in, a new block otherwise.
func (a *allocator) placeBranchEdges() {
	g := a.g
	a.headCode = map[cfg.BlockID][]api.Instr{}
	a.stubs = a.stubs[:0]
	for id := cfg.BlockID(0); id < g.Exit; id++ {
		b := g.Block(id)
		if b.Dead || b.Len() == 0 || !a.instrs[b.End-1].IsConditionalJump() {
			continue
		}
		t := b.Succs[1]
		code := a.edgeCode(id, t)
		if len(code) == 0 {
			continue
		}
		if len(g.Block(t).Preds) == 1 && t != g.Entry {
			a.headCode[t] = code
			continue
		}
		split := g.SplitEdge(id, 1)
		a.stubs = append(a.stubs, stub{id: split, target: t, code: code})
	}
}

// rewrite emits the final stream: live blocks in layout order with declarations dropped, frame
// markers expanded, registers substituted and correction code inserted, followed by the split edges.
func (a *allocator) rewrite() []api.Instr {
	g := a.g
	a.placeBranchEdges()

	labelPos := make([]int, len(g.Blocks))
	for i := range labelPos {
		labelPos[i] = -1
	}
	out := make([]api.Instr, 0, len(a.instrs)+len(a.instrs)/2)
	var fixups []fixup

	for id := cfg.BlockID(0); id < g.Exit; id++ {
		b := g.Block(id)
		if b.Dead {
			continue
		}
		if id == g.Entry {
			out = append(out, a.entryCode()...)
		}
		labelPos[id] = len(out)
		out = append(out, a.headCode[id]...)

		var (
			cur    [api.NumRegClasses]*interval
			cursor [api.NumRegClasses]int
		)
		for off := 0; off < b.Len(); off++ {
			in := a.instrs[b.Begin+off]
			// Nothing may touch a callee-saved register before the prolog has saved it,
			// and declared homes are addressed through the frame it sets up.
			if in.Op == api.OpProlog {
				out = a.frame.prolog(out)
			}
			for c := api.RegClass(0); c < api.NumRegClasses; c++ {
				ivs := a.blocks[id].lt[c].intervals
				k := cursor[c]
				for ivs[k].end <= off {
					k++
				}
				cursor[c], cur[c] = k, ivs[k]
				if k > 0 && ivs[k].begin == off {
					out = a.lowerMoves(out, a.transitionMoves(c, ivs[k-1], ivs[k], &ivs[k].liveIn))
				}
			}

			switch in.Op {
			case api.OpDeclareRegArg, api.OpDeclareStackArg, api.OpDeclareResultReg, api.OpProlog:
				continue
			case api.OpEpilog:
				out = a.frame.epilog(out)
				continue
			}
			a.substitute(&in, &cur)
			switch {
			case in.Op == api.OpJmp:
				out = append(out, a.edgeCode(id, b.Succs[0])...)
				fixups = append(fixups, fixup{at: len(out), target: b.Succs[0]})
				out = append(out, in)
			case in.IsConditionalJump():
				fixups = append(fixups, fixup{at: len(out), target: g.Block(id).Succs[1]})
				out = append(out, in)
				out = append(out, a.edgeCode(id, b.Succs[0])...)
			default:
				out = append(out, in)
			}
		}
		if b.Len() == 0 || !a.instrs[b.End-1].IsJump() && !a.instrs[b.End-1].IsReturn() {
			out = append(out, a.edgeCode(id, b.Succs[0])...)
		}
	}

	if len(a.stubs) > 0 {
		if n := len(out); n > 0 && fallsThrough(&out[n-1]) {
			fixups = append(fixups, fixup{at: len(out), target: g.Exit})
			out = append(out, newInstr(api.OpJmp))
		}
		for _, s := range a.stubs {
			labelPos[s.id] = len(out)
			out = append(out, s.code...)
			fixups = append(fixups, fixup{at: len(out), target: s.target})
			out = append(out, newInstr(api.OpJmp))
		}
	}
	labelPos[g.Exit] = len(out)
	for _, f := range fixups {
		if f.target == g.Exit {
			out = append(out, newInstr(api.OpNop))
			break
		}
	}

	for _, f := range fixups {
		pos := labelPos[f.target]
		if pos < 0 {
			panic(fmt.Sprintf("BUG: jump at %d into dropped block %d", f.at, f.target))
		}
		out[f.at].Target = pos
	}
	if jitapi.PrintRewritten {
		for i := range out {
			fmt.Printf("%4d %v\n", i, out[i])
		}
	}
	return out
}

func fallsThrough(in *api.Instr) bool { return in.Op != api.OpJmp && !in.IsReturn() }

// substitute replaces every tracked register of in by the register assigned in the current interval.
func (a *allocator) substitute(in *api.Instr, cur *[api.NumRegClasses]*interval) {
	for k := range in.Operands {
		op := &in.Operands[k]
		switch op.Kind {
		case api.OperandReg:
			op.Reg = a.assigned(op.Reg, cur)
			op.Constraint = 0
		case api.OperandMem:
			if op.Reg.Valid() {
				op.Reg = a.assigned(op.Reg, cur)
			}
			if op.Index.Valid() {
				op.Index = a.assigned(op.Index, cur)
			}
		}
	}
}

func (a *allocator) assigned(r api.Reg, cur *[api.NumRegClasses]*interval) api.Reg {
	cv := &a.vars.classes[r.Class]
	v, tracked := cv.lookup(r)
	if !tracked {
		return r
	}
	phys, ok := cur[r.Class].reg(v)
	if !ok {
		panic(fmt.Sprintf("BUG: %s accessed without a register", r))
	}
	return api.Reg{Class: r.Class, ID: api.RegID(phys)}
}

// skip emits the stream of a function that needs no allocation: declarations are dropped,
// frame markers expanded and jump targets moved accordingly.
func (a *allocator) skip() []api.Instr {
	var used [api.NumRegClasses]api.RegMask
	for i := range a.instrs {
		in := &a.instrs[i]
		if in.IsPseudo() {
			continue
		}
		for k := range in.Operands {
			op := &in.Operands[k]
			switch op.Kind {
			case api.OperandReg:
				used[op.Reg.Class] = used[op.Reg.Class].Add(int(op.Reg.ID))
			case api.OperandMem:
				for _, r := range [...]api.Reg{op.Reg, op.Index} {
					if r.Valid() {
						used[api.RegClassGP] = used[api.RegClassGP].Add(int(r.ID))
					}
				}
			}
		}
	}
	a.used = used
	a.frame.layout(a.platform, used, 0)

	newIndex := make([]int, len(a.instrs)+1)
	out := make([]api.Instr, 0, len(a.instrs))
	var jumps []int
	for i := range a.instrs {
		newIndex[i] = len(out)
		in := a.instrs[i]
		switch in.Op {
		case api.OpDeclareRegArg, api.OpDeclareStackArg, api.OpDeclareResultReg:
			continue
		case api.OpProlog:
			out = a.frame.prolog(out)
			continue
		case api.OpEpilog:
			out = a.frame.epilog(out)
			continue
		}
		if in.IsJump() {
			jumps = append(jumps, len(out))
		}
		out = append(out, in)
	}
	newIndex[len(a.instrs)] = len(out)
	for _, j := range jumps {
		out[j].Target = newIndex[out[j].Target]
	}
	return out
}
