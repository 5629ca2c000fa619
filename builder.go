package jitasm

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
)

// IDAllocator hands out the symbolic registers of one stream. The zero value is ready to use.
type IDAllocator struct {
	next [api.NumRegClasses]api.RegID
}

// New returns a fresh symbolic register of class c.
func (a *IDAllocator) New(c api.RegClass) api.Reg {
	id := api.SymbolicBase + a.next[c]
	a.next[c]++
	return api.Reg{Class: c, ID: id}
}

// Count returns the number of registers handed out for class c.
func (a *IDAllocator) Count(c api.RegClass) int { return int(a.next[c]) }

// Label names a position in the stream. It is bound once with Builder.Bind.
type Label int

type labelRef struct {
	at    int
	label Label
}

// Builder appends instructions to a stream and resolves the branch labels.
type Builder struct {
	platform api.Platform
	ids      IDAllocator
	instrs   []api.Instr
	// labels holds the bound position of each label, -1 until bound.
	labels []int
	refs   []labelRef
	err    error
}

// Program is a built stream ready for Compile.
type Program struct {
	Instrs []api.Instr
	// IDs counts the symbolic registers per class.
	IDs IDAllocator
}

// NewBuilder returns a Builder emitting code for p.
func NewBuilder(p api.Platform) *Builder {
	return &Builder{platform: p}
}

// NewGP returns a general purpose variable.
func (b *Builder) NewGP() api.Reg { return b.ids.New(api.RegClassGP) }

// NewMMX returns a 64-bit SIMD variable.
func (b *Builder) NewMMX() api.Reg { return b.ids.New(api.RegClassMMX) }

// NewXMM returns a 128-bit SIMD variable. It is widened to 256 bits by any 32 byte access.
func (b *Builder) NewXMM() api.Reg { return b.ids.New(api.RegClassXMM) }

// Reg returns a register operand of the natural width of r's class.
func (b *Builder) Reg(r api.Reg) api.Operand {
	switch r.Class {
	case api.RegClassGP:
		return api.NewReg(r, byte(b.platform.PointerSize))
	case api.RegClassMMX:
		return api.NewReg(r, 8)
	}
	return api.NewReg(r, 16)
}

// Ptr returns a pointer sized memory operand at [base+disp].
func (b *Builder) Ptr(base api.Reg, disp int64) api.Operand {
	return api.NewMem(byte(b.platform.PointerSize), base, api.NoReg, 0, disp)
}

// Mem returns a memory operand of size bytes at [base+disp].
func Mem(size byte, base api.Reg, disp int64) api.Operand {
	return api.NewMem(size, base, api.NoReg, 0, disp)
}

// MemIndex returns a memory operand of size bytes at [base+index*scale+disp].
func MemIndex(size byte, base, index api.Reg, scale byte, disp int64) api.Operand {
	return api.NewMem(size, base, index, scale, disp)
}

// Imm returns a 32-bit immediate.
func Imm(v int64) api.Operand { return api.NewImm(v, 4) }

// NewLabel returns an unbound label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Bind places l before the next emitted instruction.
func (b *Builder) Bind(l Label) {
	switch {
	case int(l) < 0 || int(l) >= len(b.labels):
		b.fail(fmt.Sprintf("unknown label %d", l))
	case b.labels[l] >= 0:
		b.fail(fmt.Sprintf("label %d bound twice", l))
	default:
		b.labels[l] = len(b.instrs)
	}
}

func (b *Builder) fail(msg string) {
	if b.err == nil {
		b.err = &api.Error{Kind: api.KindLabelOutOfRange, Instr: len(b.instrs), Block: -1, Msg: msg}
	}
}

// Len returns the number of emitted instructions.
func (b *Builder) Len() int { return len(b.instrs) }

// Emit appends an instruction. Register operands must carry their access flags.
func (b *Builder) Emit(op api.Opcode, ops ...api.Operand) {
	in := api.Instr{Op: op}
	for i := range in.Operands {
		in.Operands[i] = api.Operand{Reg: api.NoReg, Index: api.NoReg}
	}
	copy(in.Operands[:], ops)
	b.instrs = append(b.instrs, in)
}

func (b *Builder) emitBranch(op api.Opcode, cond api.Cond, l Label, ops ...api.Operand) {
	b.refs = append(b.refs, labelRef{at: len(b.instrs), label: l})
	b.Emit(op, ops...)
	b.instrs[len(b.instrs)-1].Cond = cond
}

// access sets the flags of register operands. Memory operands only read their address registers.
func access(op api.Operand, f api.OperandFlags) api.Operand {
	if op.Kind == api.OperandReg {
		return op.WithFlags(f)
	}
	return op
}

const (
	read      = api.FlagRead
	write     = api.FlagWrite
	readWrite = api.FlagRead | api.FlagWrite
)

func (b *Builder) unary(op api.Opcode, dst api.Operand, f api.OperandFlags) {
	b.Emit(op, access(dst, f))
}

func (b *Builder) binary(op api.Opcode, dst, src api.Operand, df api.OperandFlags) {
	b.Emit(op, access(dst, df), access(src, read))
}

func (b *Builder) Mov(dst, src api.Operand)  { b.binary(api.OpMov, dst, src, write) }
func (b *Builder) Lea(dst, src api.Operand)  { b.binary(api.OpLea, dst, src, write) }
func (b *Builder) Add(dst, src api.Operand)  { b.binary(api.OpAdd, dst, src, readWrite) }
func (b *Builder) Sub(dst, src api.Operand)  { b.binary(api.OpSub, dst, src, readWrite) }
func (b *Builder) And(dst, src api.Operand)  { b.binary(api.OpAnd, dst, src, readWrite) }
func (b *Builder) Or(dst, src api.Operand)   { b.binary(api.OpOr, dst, src, readWrite) }
func (b *Builder) Xor(dst, src api.Operand)  { b.binary(api.OpXor, dst, src, readWrite) }
func (b *Builder) IMul(dst, src api.Operand) { b.binary(api.OpIMul, dst, src, readWrite) }
func (b *Builder) Cmp(x, y api.Operand)      { b.binary(api.OpCmp, x, y, read) }
func (b *Builder) Test(x, y api.Operand)     { b.binary(api.OpTest, x, y, read) }

func (b *Builder) Xchg(x, y api.Operand) {
	b.Emit(api.OpXchg, access(x, readWrite), access(y, readWrite))
}

func (b *Builder) Push(src api.Operand) { b.unary(api.OpPush, src, read) }
func (b *Builder) Pop(dst api.Operand)  { b.unary(api.OpPop, dst, write) }
func (b *Builder) Inc(dst api.Operand)  { b.unary(api.OpInc, dst, readWrite) }
func (b *Builder) Dec(dst api.Operand)  { b.unary(api.OpDec, dst, readWrite) }
func (b *Builder) Neg(dst api.Operand)  { b.unary(api.OpNeg, dst, readWrite) }
func (b *Builder) Not(dst api.Operand)  { b.unary(api.OpNot, dst, readWrite) }

// Shl shifts dst left. A register count is pinned to CL.
func (b *Builder) Shl(dst, count api.Operand) { b.shift(api.OpShl, dst, count) }

// Shr shifts dst right logically. A register count is pinned to CL.
func (b *Builder) Shr(dst, count api.Operand) { b.shift(api.OpShr, dst, count) }

func (b *Builder) shift(op api.Opcode, dst, count api.Operand) {
	if count.Kind == api.OperandReg {
		count.Size = 1
		count = count.WithConstraint(api.MaskOf(api.RegCX))
	}
	b.binary(op, dst, count, readWrite)
}

func (b *Builder) MovQ(dst, src api.Operand)    { b.binary(api.OpMovQ, dst, src, write) }
func (b *Builder) PAddQ(dst, src api.Operand)   { b.binary(api.OpPAddQ, dst, src, readWrite) }
func (b *Builder) PXor(dst, src api.Operand)    { b.binary(api.OpPXor, dst, src, readWrite) }
func (b *Builder) MovDQA(dst, src api.Operand)  { b.binary(api.OpMovDQA, dst, src, write) }
func (b *Builder) MovDQU(dst, src api.Operand)  { b.binary(api.OpMovDQU, dst, src, write) }
func (b *Builder) PAddD(dst, src api.Operand)   { b.binary(api.OpPAddD, dst, src, readWrite) }
func (b *Builder) AddPS(dst, src api.Operand)   { b.binary(api.OpAddPS, dst, src, readWrite) }
func (b *Builder) MulPS(dst, src api.Operand)   { b.binary(api.OpMulPS, dst, src, readWrite) }
func (b *Builder) XorPS(dst, src api.Operand)   { b.binary(api.OpXorPS, dst, src, readWrite) }
func (b *Builder) VMovDQA(dst, src api.Operand) { b.binary(api.OpVMovDQA, dst, src, write) }
func (b *Builder) VMovDQU(dst, src api.Operand) { b.binary(api.OpVMovDQU, dst, src, write) }

// VXorPS computes dst = x ^ y.
func (b *Builder) VXorPS(dst, x, y api.Operand) {
	b.Emit(api.OpVXorPS, access(dst, write), access(x, read), access(y, read))
}

// Jmp jumps to l.
func (b *Builder) Jmp(l Label) { b.emitBranch(api.OpJmp, 0, l) }

// J jumps to l if cond holds on the flags.
func (b *Builder) J(cond api.Cond, l Label) { b.emitBranch(api.OpJcc, cond, l) }

// Loop decrements counter and jumps to l unless it became zero. The counter lives in CX.
func (b *Builder) Loop(counter api.Reg, l Label) {
	op := b.Reg(counter).WithFlags(readWrite | api.FlagDummy).WithConstraint(api.MaskOf(api.RegCX))
	b.emitBranch(api.OpLoop, 0, l, op)
}

func (b *Builder) Ret() { b.Emit(api.OpRet) }
func (b *Builder) UD2() { b.Emit(api.OpUD2) }
func (b *Builder) Nop() { b.Emit(api.OpNop) }

// Prolog marks where the frame is set up and the callee-saved registers are stored.
func (b *Builder) Prolog() { b.Emit(api.OpProlog) }

// Epilog marks where the frame is torn down. It must follow a Prolog.
func (b *Builder) Epilog() { b.Emit(api.OpEpilog) }

// DeclareRegArg states that v arrives in the physical register phys.
func (b *Builder) DeclareRegArg(v, phys api.Reg) {
	b.Emit(api.OpDeclareRegArg, access(b.Reg(v), write), b.Reg(phys))
}

// DeclareRegArgHome is DeclareRegArg with a stack home v is spilled to instead of a fresh slot.
func (b *Builder) DeclareRegArgHome(v, phys api.Reg, home api.Operand) {
	b.Emit(api.OpDeclareRegArg, access(b.Reg(v), write), b.Reg(phys), home)
}

// DeclareStackArg states that v arrives in memory at home.
func (b *Builder) DeclareStackArg(v api.Reg, home api.Operand) {
	b.Emit(api.OpDeclareStackArg, access(b.Reg(v), write), home)
}

// DeclareResultReg requires v to be in phys at this point.
func (b *Builder) DeclareResultReg(v, phys api.Reg) {
	b.Emit(api.OpDeclareResultReg, access(b.Reg(v), read), b.Reg(phys))
}

// DeclareResult is DeclareResultReg with the platform's result register of v's class.
func (b *Builder) DeclareResult(v api.Reg) {
	b.DeclareResultReg(v, api.Reg{Class: v.Class, ID: api.RegID(b.platform.ResultRegs[v.Class])})
}

// Build resolves the labels and returns the stream. A label bound after the last instruction
// gets a trailing nop to land on.
func (b *Builder) Build() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	instrs := append([]api.Instr(nil), b.instrs...)
	for _, pos := range b.labels {
		if pos == len(instrs) {
			instrs = append(instrs, api.Instr{Op: api.OpNop})
			for i := range instrs[len(instrs)-1].Operands {
				instrs[len(instrs)-1].Operands[i] = api.Operand{Reg: api.NoReg, Index: api.NoReg}
			}
			break
		}
	}
	for _, ref := range b.refs {
		pos := -1
		if int(ref.label) >= 0 && int(ref.label) < len(b.labels) {
			pos = b.labels[ref.label]
		}
		if pos < 0 {
			return nil, &api.Error{
				Kind: api.KindLabelOutOfRange, Instr: ref.at, Block: -1,
				Msg: fmt.Sprintf("label %d is not bound", ref.label),
			}
		}
		instrs[ref.at].Target = pos
	}
	return &Program{Instrs: instrs, IDs: b.ids}, nil
}
