package regalloc

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
)

// frame is the stack layout behind the frame pointer:
//
//	[fp]                          caller's frame pointer
//	[fp - savedGPBytes, fp)       callee-saved general purpose registers
//	[fp - areaTop - spillBytes]   spill slots, larger first
//	below, 16-byte aligned        callee-saved XMM registers
//
// size is what the prolog subtracts from the stack pointer after pushing the saved registers.
type frame struct {
	ptr, sp, fp  int
	savedGP      []int
	savedXMM     []int
	savedGPBytes int
	areaTop      int
	xmmBase      int
	size         int
}

func alignUp(n, a int) int { return (n + a - 1) &^ (a - 1) }

// layout computes the frame from the registers used across the function and the spill area size.
func (f *frame) layout(p *api.Platform, used [api.NumRegClasses]api.RegMask, spillBytes int) {
	f.ptr, f.sp, f.fp = p.PointerSize, p.StackPointer, p.FramePointer
	f.savedGP, f.savedXMM = f.savedGP[:0], f.savedXMM[:0]
	gp := used[api.RegClassGP] & p.Classes[api.RegClassGP].CalleeSaved
	gp.Range(func(r int) {
		if r != f.fp && r != f.sp {
			f.savedGP = append(f.savedGP, r)
		}
	})
	(used[api.RegClassXMM] & p.Classes[api.RegClassXMM].CalleeSaved).Range(func(r int) {
		f.savedXMM = append(f.savedXMM, r)
	})

	f.savedGPBytes = len(f.savedGP) * f.ptr
	f.areaTop = alignUp(f.savedGPBytes, 16)
	f.xmmBase = alignUp(spillBytes, 16)
	f.size = 0
	if spillBytes > 0 || len(f.savedXMM) > 0 {
		f.size = alignUp(f.areaTop+f.xmmBase+16*len(f.savedXMM), 16) - f.savedGPBytes
	}
}

// needed returns true if the function touches anything the prolog has to set up.
func (f *frame) needed() bool { return f.size > 0 || len(f.savedGP) > 0 }

func (f *frame) slotDisp(off, size int) int64 { return -int64(f.areaTop + off + size) }

func (f *frame) xmmDisp(i int) int64 { return -int64(f.areaTop + f.xmmBase + 16*(i+1)) }

func (f *frame) fpReg() api.Reg { return api.GP(f.fp) }

func (f *frame) spReg() api.Reg { return api.GP(f.sp) }

func (f *frame) prolog(out []api.Instr) []api.Instr {
	ptr := byte(f.ptr)
	out = append(out,
		newInstr(api.OpPush, api.NewReg(f.fpReg(), ptr).WithFlags(api.FlagRead)),
		newInstr(api.OpMov, api.NewReg(f.fpReg(), ptr).WithFlags(api.FlagWrite), api.NewReg(f.spReg(), ptr).WithFlags(api.FlagRead)),
	)
	for _, r := range f.savedGP {
		out = append(out, newInstr(api.OpPush, api.NewReg(api.GP(r), ptr).WithFlags(api.FlagRead)))
	}
	if f.size > 0 {
		out = append(out, newInstr(api.OpSub, api.NewReg(f.spReg(), ptr).WithFlags(api.FlagRead|api.FlagWrite), api.NewImm(int64(f.size), 4)))
	}
	for i, r := range f.savedXMM {
		out = append(out, newInstr(api.OpMovDQU,
			api.NewMem(16, f.fpReg(), api.NoReg, 0, f.xmmDisp(i)).WithFlags(api.FlagWrite),
			api.NewReg(api.XMM(r), 16).WithFlags(api.FlagRead)))
	}
	return out
}

func (f *frame) epilog(out []api.Instr) []api.Instr {
	ptr := byte(f.ptr)
	for i, r := range f.savedXMM {
		out = append(out, newInstr(api.OpMovDQU,
			api.NewReg(api.XMM(r), 16).WithFlags(api.FlagWrite),
			api.NewMem(16, f.fpReg(), api.NoReg, 0, f.xmmDisp(i))))
	}
	if f.size > 0 {
		out = append(out, newInstr(api.OpLea,
			api.NewReg(f.spReg(), ptr).WithFlags(api.FlagWrite),
			api.NewMem(0, f.fpReg(), api.NoReg, 0, -int64(f.savedGPBytes))))
	}
	for i := len(f.savedGP) - 1; i >= 0; i-- {
		out = append(out, newInstr(api.OpPop, api.NewReg(api.GP(f.savedGP[i]), ptr).WithFlags(api.FlagWrite)))
	}
	return append(out, newInstr(api.OpPop, api.NewReg(f.fpReg(), ptr).WithFlags(api.FlagWrite)))
}

func newInstr(op api.Opcode, ops ...api.Operand) api.Instr {
	in := api.Instr{Op: op}
	for i := range in.Operands {
		in.Operands[i].Reg, in.Operands[i].Index = api.NoReg, api.NoReg
	}
	copy(in.Operands[:], ops)
	return in
}

// slot returns the memory operand holding v of class c while it is spilled.
func (a *allocator) slot(c api.RegClass, v int) api.Operand {
	cv := &a.vars.classes[c]
	if home := cv.home[v]; home.Kind == api.OperandMem {
		home.Size = cv.size[v]
		return home
	}
	off := cv.slot[v]
	if off < 0 {
		panic(fmt.Sprintf("BUG: %s spilled without a slot", cv.regs[v]))
	}
	size := int(cv.size[v])
	return api.NewMem(cv.size[v], a.frame.fpReg(), api.NoReg, 0, a.frame.slotDisp(off, size))
}

// lowerMoves appends the instructions performing moves.
func (a *allocator) lowerMoves(out []api.Instr, moves []move) []api.Instr {
	ptr := byte(a.platform.PointerSize)
	for _, m := range moves {
		switch m.kind {
		case moveStore:
			slot := a.slot(m.class, m.v).WithFlags(api.FlagWrite)
			out = append(out, newInstr(storeOp(m.class, m.size), slot, a.physOperand(m.class, m.src, m.size, ptr).WithFlags(api.FlagRead)))
		case moveLoad:
			slot := a.slot(m.class, m.v).WithFlags(api.FlagRead)
			out = append(out, newInstr(storeOp(m.class, m.size), a.physOperand(m.class, m.dst, m.size, ptr).WithFlags(api.FlagWrite), slot))
		case moveReg:
			src := a.physOperand(m.class, m.src, m.size, ptr).WithFlags(api.FlagRead)
			dst := a.physOperand(m.class, m.dst, m.size, ptr).WithFlags(api.FlagWrite)
			out = append(out, newInstr(regMoveOp(m.class, m.size), dst, src))
		case moveSwap:
			out = a.lowerSwap(out, m, ptr)
		}
	}
	return out
}

func (a *allocator) lowerSwap(out []api.Instr, m move, ptr byte) []api.Instr {
	x := a.physOperand(m.class, m.src, m.size, ptr).WithFlags(api.FlagRead | api.FlagWrite)
	y := a.physOperand(m.class, m.dst, m.size, ptr).WithFlags(api.FlagRead | api.FlagWrite)
	switch {
	case m.class == api.RegClassGP:
		return append(out, newInstr(api.OpXchg, x, y))
	case m.class == api.RegClassXMM && m.size > 16:
		// vxorps dst, src1, src2
		return append(out,
			newInstr(api.OpVXorPS, x, x, y),
			newInstr(api.OpVXorPS, y, y, x),
			newInstr(api.OpVXorPS, x, x, y),
		)
	}
	op := api.OpPXor
	if m.class == api.RegClassXMM {
		op = api.OpXorPS
	}
	return append(out, newInstr(op, x, y), newInstr(op, y, x), newInstr(op, x, y))
}

func (a *allocator) physOperand(c api.RegClass, r int, size, ptr byte) api.Operand {
	switch c {
	case api.RegClassGP:
		size = ptr
	case api.RegClassMMX:
		size = 8
	default:
		if size < 16 {
			size = 16
		}
	}
	return api.NewReg(api.Reg{Class: c, ID: api.RegID(r)}, size)
}

// storeOp is the memory move of a class. SIMD slots and homes are not assumed to be aligned.
func storeOp(c api.RegClass, size byte) api.Opcode {
	switch {
	case c == api.RegClassGP:
		return api.OpMov
	case c == api.RegClassMMX:
		return api.OpMovQ
	case size > 16:
		return api.OpVMovDQU
	}
	return api.OpMovDQU
}

func regMoveOp(c api.RegClass, size byte) api.Opcode {
	switch {
	case c == api.RegClassGP:
		return api.OpMov
	case c == api.RegClassMMX:
		return api.OpMovQ
	case size > 16:
		return api.OpVMovDQA
	}
	return api.OpMovDQA
}
