// Package amd64 encodes allocated instruction streams into x86-64 machine code.
package amd64

import (
	"github.com/nikandfor/errors"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/asm/golang_asm"
)

// Encode assembles a stream over physical registers. offsets[i] is the position of instrs[i] in code.
// Jumps may target len(instrs), the end of the code.
func Encode(instrs []api.Instr) (code []byte, offsets []int, err error) {
	a, err := golang_asm.NewAssembler("amd64")
	if err != nil {
		return nil, nil, err
	}

	progs := make([]*obj.Prog, len(instrs))
	waiting := map[int][]*obj.Prog{}
	for i := range instrs {
		in := &instrs[i]
		if w, ok := waiting[i]; ok {
			a.SetJumpTargetOnNext(w...)
			delete(waiting, i)
		}
		p := a.NewProg()
		if err := encodeInstr(p, in); err != nil {
			return nil, nil, errors.Wrap(err, "instruction %d (%v)", i, in)
		}
		progs[i] = p
		a.AddInstruction(p)

		if !in.IsJump() {
			continue
		}
		switch t := in.Target; {
		case t < 0 || t > len(instrs):
			return nil, nil, errors.New("instruction %d: target %d out of range", i, t)
		case t <= i:
			p.To.SetTarget(progs[t])
		default:
			waiting[t] = append(waiting[t], p)
		}
	}
	if w, ok := waiting[len(instrs)]; ok {
		a.SetJumpTargetOnNext(w...)
		end := a.NewProg()
		end.As = obj.ANOP
		a.AddInstruction(end)
	}

	offsets = make([]int, len(progs))
	a.AddOnGenerateCallBack(func(code []byte) error {
		for i, p := range progs {
			off := int(p.Pc)
			if off > len(code) || i > 0 && off < offsets[i-1] {
				return errors.New("instruction %d: offset %d out of order in %d bytes", i, off, len(code))
			}
			offsets[i] = off
		}
		return nil
	})
	if code, err = a.Assemble(); err != nil {
		return nil, nil, err
	}
	return code, offsets, nil
}

// gpOps lists the general purpose opcodes by operand size: 1, 2, 4 and 8 bytes.
var gpOps = map[api.Opcode][4]obj.As{
	api.OpMov:  {x86.AMOVB, x86.AMOVW, x86.AMOVL, x86.AMOVQ},
	api.OpLea:  {0, x86.ALEAW, x86.ALEAL, x86.ALEAQ},
	api.OpXchg: {x86.AXCHGB, x86.AXCHGW, x86.AXCHGL, x86.AXCHGQ},
	api.OpPush: {0, x86.APUSHW, 0, x86.APUSHQ},
	api.OpPop:  {0, x86.APOPW, 0, x86.APOPQ},
	api.OpAdd:  {x86.AADDB, x86.AADDW, x86.AADDL, x86.AADDQ},
	api.OpSub:  {x86.ASUBB, x86.ASUBW, x86.ASUBL, x86.ASUBQ},
	api.OpAnd:  {x86.AANDB, x86.AANDW, x86.AANDL, x86.AANDQ},
	api.OpOr:   {x86.AORB, x86.AORW, x86.AORL, x86.AORQ},
	api.OpXor:  {x86.AXORB, x86.AXORW, x86.AXORL, x86.AXORQ},
	api.OpCmp:  {x86.ACMPB, x86.ACMPW, x86.ACMPL, x86.ACMPQ},
	api.OpTest: {x86.ATESTB, x86.ATESTW, x86.ATESTL, x86.ATESTQ},
	api.OpIMul: {0, x86.AIMULW, x86.AIMULL, x86.AIMULQ},
	api.OpInc:  {x86.AINCB, x86.AINCW, x86.AINCL, x86.AINCQ},
	api.OpDec:  {x86.ADECB, x86.ADECW, x86.ADECL, x86.ADECQ},
	api.OpNeg:  {x86.ANEGB, x86.ANEGW, x86.ANEGL, x86.ANEGQ},
	api.OpNot:  {x86.ANOTB, x86.ANOTW, x86.ANOTL, x86.ANOTQ},
	api.OpShl:  {x86.ASHLB, x86.ASHLW, x86.ASHLL, x86.ASHLQ},
	api.OpShr:  {x86.ASHRB, x86.ASHRW, x86.ASHRL, x86.ASHRQ},
}

var vecOps = map[api.Opcode]obj.As{
	api.OpMovQ:    x86.AMOVQ,
	api.OpPAddQ:   x86.APADDQ,
	api.OpPXor:    x86.APXOR,
	api.OpMovDQA:  x86.AMOVO,
	api.OpMovDQU:  x86.AMOVOU,
	api.OpPAddD:   x86.APADDL,
	api.OpAddPS:   x86.AADDPS,
	api.OpMulPS:   x86.AMULPS,
	api.OpXorPS:   x86.AXORPS,
	api.OpVMovDQA: x86.AVMOVDQA,
	api.OpVMovDQU: x86.AVMOVDQU,
	api.OpVXorPS:  x86.AVXORPS,
}

var condJumps = [...]obj.As{
	api.CondE:  x86.AJEQ,
	api.CondNE: x86.AJNE,
	api.CondL:  x86.AJLT,
	api.CondGE: x86.AJGE,
	api.CondLE: x86.AJLE,
	api.CondG:  x86.AJGT,
	api.CondB:  x86.AJCS,
	api.CondAE: x86.AJCC,
	api.CondBE: x86.AJLS,
	api.CondA:  x86.AJHI,
	api.CondS:  x86.AJMI,
	api.CondNS: x86.AJPL,
}

func encodeInstr(p *obj.Prog, in *api.Instr) error {
	switch in.Op {
	case api.OpNop:
		p.As = obj.ANOP
		return nil
	case api.OpRet:
		p.As = obj.ARET
		return nil
	case api.OpUD2:
		p.As = x86.AUD2
		return nil
	case api.OpJmp, api.OpLoop:
		p.As = obj.AJMP
		if in.Op == api.OpLoop {
			p.As = x86.ALOOP
		}
		p.To.Type = obj.TYPE_BRANCH
		return nil
	case api.OpJcc:
		if int(in.Cond) >= len(condJumps) {
			return errors.New("unknown condition %v", in.Cond)
		}
		p.As = condJumps[in.Cond]
		p.To.Type = obj.TYPE_BRANCH
		return nil
	}

	var ops []*api.Operand
	for k := 0; k < in.NumOperands(); k++ {
		if op := &in.Operands[k]; !op.IsDummy() {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return errors.New("%v without operands", in.Op)
	}

	if sized, ok := gpOps[in.Op]; ok {
		p.As = sized[sizeIndex(ops[0].Size)]
	} else if as, ok := vecOps[in.Op]; ok {
		p.As = as
	}
	if p.As == 0 {
		return errors.New("%v of size %d is not encodable", in.Op, ops[0].Size)
	}

	var err error
	switch {
	case in.Op == api.OpPush:
		p.From, err = addr(ops[0])
	case len(ops) == 1:
		p.To, err = addr(ops[0])
	case in.Op == api.OpCmp:
		// CMP keeps the Intel operand order.
		if p.From, err = addr(ops[0]); err == nil {
			p.To, err = addr(ops[1])
		}
	case len(ops) == 2:
		if p.To, err = addr(ops[0]); err == nil {
			p.From, err = addr(ops[1])
		}
	case len(ops) == 3:
		var src1 obj.Addr
		if src1, err = addr(ops[1]); err == nil && src1.Type != obj.TYPE_REG {
			err = errors.New("second source of %v must be a register", in.Op)
		}
		if err == nil {
			p.Reg = src1.Reg
			if p.To, err = addr(ops[0]); err == nil {
				p.From, err = addr(ops[2])
			}
		}
	default:
		err = errors.New("%v with %d operands", in.Op, len(ops))
	}
	return err
}

func sizeIndex(size byte) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	return 3
}

func addr(op *api.Operand) (a obj.Addr, err error) {
	switch op.Kind {
	case api.OperandReg:
		a.Type = obj.TYPE_REG
		a.Reg, err = reg(op.Reg, op.Size)
	case api.OperandMem:
		a.Type = obj.TYPE_MEM
		a.Offset = op.Disp
		if op.Reg.Valid() {
			if a.Reg, err = reg(op.Reg, 8); err != nil {
				return
			}
		}
		if op.Index.Valid() {
			if a.Index, err = reg(op.Index, 8); err != nil {
				return
			}
			a.Scale = int16(op.Scale)
			if a.Scale == 0 {
				a.Scale = 1
			}
		}
	case api.OperandImm:
		a.Type = obj.TYPE_CONST
		a.Offset = op.Disp
	default:
		err = errors.New("empty operand")
	}
	return
}

func reg(r api.Reg, size byte) (int16, error) {
	if !r.IsPhysical() {
		return 0, errors.New("%v is not a physical register", r)
	}
	id := int16(r.ID)
	switch r.Class {
	case api.RegClassGP:
		return x86.REG_AX + id, nil
	case api.RegClassMMX:
		if id >= 8 {
			return 0, errors.New("%v does not exist", r)
		}
		return x86.REG_M0 + id, nil
	case api.RegClassXMM:
		if size > 16 {
			return x86.REG_Y0 + id, nil
		}
		return x86.REG_X0 + id, nil
	}
	return 0, errors.New("%v: unknown register class", r)
}
