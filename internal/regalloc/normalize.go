package regalloc

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
)

// normalize validates the operands of the stream, densifies the symbolic register ids of every class
// and reports whether the stream needs allocation at all.
func (a *allocator) normalize() (needed bool, err error) {
	a.vars.init(a.platform)
	ptr := byte(a.platform.PointerSize)
	a.prolog = -1
	epilog := -1
	for i := range a.instrs {
		in := &a.instrs[i]
		if in.IsPseudo() {
			violation, err := a.checkPseudo(i, in)
			if err != nil {
				return false, err
			}
			needed = needed || violation
			switch {
			case in.Op == api.OpProlog:
				if a.prolog >= 0 {
					return false, a.malformed(i, "more than one prolog")
				}
				a.prolog = i
			case in.Op == api.OpEpilog && epilog < 0:
				epilog = i
			}
		}
		for k := 0; k < api.MaxOperands; k++ {
			op := &in.Operands[k]
			switch op.Kind {
			case api.OperandReg:
				if err := a.checkReg(i, op.Reg); err != nil {
					return false, err
				}
				cv := &a.vars.classes[op.Reg.Class]
				if op.Reg.IsSymbolic() {
					cv.widen(cv.declare(op.Reg, defaultSize(op.Reg.Class, ptr)), op.Size)
					needed = true
				} else {
					if v, ok := cv.lookup(op.Reg); ok {
						cv.widen(v, op.Size)
					}
					if op.Constraint != 0 && !op.Constraint.Has(int(op.Reg.ID)) {
						needed = true
					}
				}
				if op.Constraint != 0 && !op.Constraint.Within(cv.numPhys) {
					return false, a.invalid(i, op.Reg.Class, "constraint %v outside the register file", op.Constraint)
				}
			case api.OperandMem:
				for _, r := range [...]api.Reg{op.Reg, op.Index} {
					if !r.Valid() {
						continue
					}
					if r.Class != api.RegClassGP {
						return false, a.invalid(i, r.Class, "memory operand addressed by %v", r)
					}
					if err := a.checkReg(i, r); err != nil {
						return false, err
					}
					if r.IsSymbolic() {
						a.vars.classes[api.RegClassGP].declare(r, ptr)
						needed = true
					}
				}
			}
		}
	}
	if epilog >= 0 && a.prolog < 0 {
		return false, a.malformed(epilog, "epilog without prolog")
	}
	for c := range a.vars.classes {
		a.vars.classes[c].finish()
	}
	return needed, nil
}

func defaultSize(c api.RegClass, ptr byte) byte {
	switch c {
	case api.RegClassGP:
		return ptr
	case api.RegClassMMX:
		return 8
	}
	return 16
}

func (a *allocator) checkReg(i int, r api.Reg) error {
	if r.Class >= api.NumRegClasses {
		return a.invalid(i, r.Class, "unknown register class")
	}
	if r.IsPhysical() && int(r.ID) >= a.platform.Classes[r.Class].NumRegs {
		return a.invalid(i, r.Class, "%v does not exist on %s", r, a.platform.Name)
	}
	return nil
}

// checkPseudo validates the operand shapes of a marker. violation is set if the marker
// makes allocation necessary even without symbolic registers.
func (a *allocator) checkPseudo(i int, in *api.Instr) (violation bool, err error) {
	ops := &in.Operands
	nops := in.NumOperands()
	switch in.Op {
	case api.OpProlog, api.OpEpilog:
		if nops != 0 {
			return false, a.malformed(i, "%v takes no operands", in.Op)
		}
		return false, nil
	case api.OpDeclareRegArg, api.OpDeclareResultReg:
		if nops < 2 || ops[0].Kind != api.OperandReg || ops[1].Kind != api.OperandReg {
			return false, a.malformed(i, "%v wants a variable and a physical register", in.Op)
		}
		v, phys := ops[0].Reg, ops[1].Reg
		if v.Class != phys.Class || !phys.IsPhysical() {
			return false, a.malformed(i, "%v: %v cannot be declared in %v", in.Op, v, phys)
		}
		if err := a.checkReg(i, phys); err != nil {
			return false, err
		}
		info := &a.platform.Classes[phys.Class]
		if !info.Available.Has(int(phys.ID)) {
			return false, a.malformed(i, "%v: %v is not allocatable", in.Op, phys)
		}
		if v.IsPhysical() && !info.Available.Has(int(v.ID)) {
			return false, a.malformed(i, "%v: %v is not allocatable", in.Op, v)
		}
		switch {
		case in.Op == api.OpDeclareRegArg && nops == 3:
			if ops[2].Kind != api.OperandMem || !fixedAddress(&ops[2]) {
				return false, a.malformed(i, "%v: home must be a memory operand on physical registers", in.Op)
			}
		case nops != 2:
			return false, a.malformed(i, "%v: too many operands", in.Op)
		}
		return v != phys, nil
	case api.OpDeclareStackArg:
		if nops != 2 || ops[0].Kind != api.OperandReg || ops[1].Kind != api.OperandMem || !fixedAddress(&ops[1]) {
			return false, a.malformed(i, "%v wants a variable and a memory operand", in.Op)
		}
		if v := ops[0].Reg; v.IsPhysical() && !a.platform.Classes[v.Class].Available.Has(int(v.ID)) {
			return false, a.malformed(i, "%v: %v is not allocatable", in.Op, v)
		}
		return true, nil
	}
	return false, nil
}

// fixedAddress returns true if the memory operand does not depend on allocation.
func fixedAddress(op *api.Operand) bool {
	return !op.Reg.IsSymbolic() && !op.Index.IsSymbolic()
}

func (a *allocator) malformed(i int, format string, args ...interface{}) error {
	return &api.Error{Kind: api.KindMalformedPseudoInstruction, Instr: i, Block: a.blockIndexOf(i), Msg: fmt.Sprintf(format, args...)}
}

func (a *allocator) invalid(i int, c api.RegClass, format string, args ...interface{}) error {
	return &api.Error{Kind: api.KindInvalidOperand, Instr: i, Block: a.blockIndexOf(i), Class: c, Msg: fmt.Sprintf(format, args...)}
}

// blockIndexOf returns the block of instruction i once the graph exists, -1 before.
func (a *allocator) blockIndexOf(i int) int {
	if a.g == nil || i < 0 || i >= len(a.instrs) {
		return -1
	}
	return int(a.g.BlockOf(i))
}
