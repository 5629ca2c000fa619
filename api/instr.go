package api

import (
	"fmt"
	"strings"
)

// OperandKind classifies an Operand.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandMem
	OperandImm
)

// OperandFlags describe how an instruction accesses a register operand.
type OperandFlags byte

const (
	// FlagRead marks an operand whose value is consumed.
	FlagRead OperandFlags = 1 << iota
	// FlagWrite marks an operand whose value is produced.
	FlagWrite
	// FlagDummy marks an implicit operand: it takes part in allocation but is not encoded.
	FlagDummy
)

// Operand is one operand slot of an Instr.
type Operand struct {
	Kind  OperandKind
	Flags OperandFlags
	// Size is the access width in bytes.
	Size byte
	// Reg is the register of a register operand, or the base of a memory operand.
	Reg Reg
	// Index and Scale are used by memory operands only.
	Index Reg
	Scale byte
	// Disp is the displacement of a memory operand or the value of an immediate.
	Disp int64
	// Constraint restricts the physical registers a register operand may be assigned to. Zero means any.
	Constraint RegMask
}

// NewReg returns a register operand.
func NewReg(r Reg, size byte) Operand {
	return Operand{Kind: OperandReg, Reg: r, Size: size, Index: NoReg}
}

// NewMem returns a memory operand addressing [base + index*scale + disp].
func NewMem(size byte, base, index Reg, scale byte, disp int64) Operand {
	return Operand{Kind: OperandMem, Size: size, Reg: base, Index: index, Scale: scale, Disp: disp}
}

// NewImm returns an immediate operand.
func NewImm(v int64, size byte) Operand {
	return Operand{Kind: OperandImm, Size: size, Reg: NoReg, Index: NoReg, Disp: v}
}

// WithFlags returns a copy of the operand with the given access flags.
func (o Operand) WithFlags(f OperandFlags) Operand {
	o.Flags = f
	return o
}

// WithConstraint returns a copy of the operand restricted to the given registers.
func (o Operand) WithConstraint(m RegMask) Operand {
	o.Constraint = m
	return o
}

// IsRead returns true if the operand is read.
func (o *Operand) IsRead() bool { return o.Flags&FlagRead != 0 }

// IsWrite returns true if the operand is written.
func (o *Operand) IsWrite() bool { return o.Flags&FlagWrite != 0 }

// IsDummy returns true if the operand is implicit.
func (o *Operand) IsDummy() bool { return o.Flags&FlagDummy != 0 }

// String implements fmt.Stringer.
func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return o.Reg.String()
	case OperandImm:
		return fmt.Sprintf("$%d", o.Disp)
	case OperandMem:
		var b strings.Builder
		fmt.Fprintf(&b, "m%d[", o.Size*8)
		sep := ""
		if o.Reg.Valid() {
			b.WriteString(o.Reg.String())
			sep = "+"
		}
		if o.Index.Valid() {
			fmt.Fprintf(&b, "%s%s*%d", sep, o.Index, o.Scale)
		}
		if o.Disp != 0 || sep == "" {
			fmt.Fprintf(&b, "%+d", o.Disp)
		}
		b.WriteByte(']')
		return b.String()
	}
	return "_"
}

// MaxOperands is the number of operand slots of an Instr.
const MaxOperands = 6

// Instr is a single instruction of a stream.
type Instr struct {
	Op       Opcode
	Cond     Cond
	Operands [MaxOperands]Operand
	// Target is the index of the branch destination in the same stream. Only meaningful if IsJump.
	Target int
}

// NumOperands returns the number of leading non-empty operand slots.
func (i *Instr) NumOperands() int {
	for n := range i.Operands {
		if i.Operands[n].Kind == OperandNone {
			return n
		}
	}
	return MaxOperands
}

// IsJump returns true for instructions transferring control to Target.
func (i *Instr) IsJump() bool {
	switch i.Op {
	case OpJmp, OpJcc, OpLoop:
		return true
	}
	return false
}

// IsConditionalJump returns true for jumps that may fall through.
func (i *Instr) IsConditionalJump() bool { return i.Op == OpJcc || i.Op == OpLoop }

// IsReturn returns true for instructions after which control leaves the function.
func (i *Instr) IsReturn() bool { return i.Op == OpRet || i.Op == OpUD2 }

// IsPseudo returns true for markers that never reach the encoder.
func (i *Instr) IsPseudo() bool {
	switch i.Op {
	case OpDeclareRegArg, OpDeclareStackArg, OpDeclareResultReg, OpProlog, OpEpilog:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (i Instr) String() string {
	var b strings.Builder
	b.WriteString(i.Op.String())
	if i.Op == OpJcc {
		b.WriteString(i.Cond.String())
	}
	if i.IsJump() {
		fmt.Fprintf(&b, " @%d", i.Target)
		return b.String()
	}
	for n := 0; n < i.NumOperands(); n++ {
		if n == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(i.Operands[n].String())
	}
	return b.String()
}

// Opcode is an instruction mnemonic.
type Opcode uint16

const (
	OpInvalid Opcode = iota

	// OpDeclareRegArg(var, phys[, home]) declares that var arrives in phys. The optional memory operand is its stack home.
	OpDeclareRegArg
	// OpDeclareStackArg(var, home) declares that var arrives in memory at home.
	OpDeclareStackArg
	// OpDeclareResultReg(var, phys) requires var to be in phys at this point.
	OpDeclareResultReg
	// OpProlog and OpEpilog mark where frame setup and teardown are generated.
	OpProlog
	OpEpilog

	OpNop
	OpJmp
	OpJcc
	OpLoop
	OpRet
	OpUD2

	OpMov
	OpLea
	OpXchg
	OpPush
	OpPop
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpCmp
	OpTest
	OpIMul
	OpInc
	OpDec
	OpNeg
	OpNot
	OpShl
	OpShr

	// MMX.
	OpMovQ
	OpPAddQ
	OpPXor

	// SSE.
	OpMovDQA
	OpMovDQU
	OpPAddD
	OpAddPS
	OpMulPS
	OpXorPS

	// AVX.
	OpVMovDQA
	OpVMovDQU
	OpVXorPS

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpInvalid:          "invalid",
	OpDeclareRegArg:    "declare_reg_arg",
	OpDeclareStackArg:  "declare_stack_arg",
	OpDeclareResultReg: "declare_result_reg",
	OpProlog:           "prolog",
	OpEpilog:           "epilog",
	OpNop:              "nop",
	OpJmp:              "jmp",
	OpJcc:              "j",
	OpLoop:             "loop",
	OpRet:              "ret",
	OpUD2:              "ud2",
	OpMov:              "mov",
	OpLea:              "lea",
	OpXchg:             "xchg",
	OpPush:             "push",
	OpPop:              "pop",
	OpAdd:              "add",
	OpSub:              "sub",
	OpAnd:              "and",
	OpOr:               "or",
	OpXor:              "xor",
	OpCmp:              "cmp",
	OpTest:             "test",
	OpIMul:             "imul",
	OpInc:              "inc",
	OpDec:              "dec",
	OpNeg:              "neg",
	OpNot:              "not",
	OpShl:              "shl",
	OpShr:              "shr",
	OpMovQ:             "movq",
	OpPAddQ:            "paddq",
	OpPXor:             "pxor",
	OpMovDQA:           "movdqa",
	OpMovDQU:           "movdqu",
	OpPAddD:            "paddd",
	OpAddPS:            "addps",
	OpMulPS:            "mulps",
	OpXorPS:            "xorps",
	OpVMovDQA:          "vmovdqa",
	OpVMovDQU:          "vmovdqu",
	OpVXorPS:           "vxorps",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < numOpcodes {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op(%d)", uint16(o))
}

// Cond is the condition of OpJcc.
type Cond byte

const (
	CondE Cond = iota
	CondNE
	CondL
	CondGE
	CondLE
	CondG
	CondB
	CondAE
	CondBE
	CondA
	CondS
	CondNS
)

var condNames = [...]string{"e", "ne", "l", "ge", "le", "g", "b", "ae", "be", "a", "s", "ns"}

// String implements fmt.Stringer.
func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", byte(c))
}
