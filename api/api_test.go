package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegMask(t *testing.T) {
	m := MaskOf(RegAX, RegBX, RegR15)
	require.True(t, m.Has(RegBX))
	require.False(t, m.Has(RegCX))
	require.False(t, m.Has(-1))
	require.False(t, m.Has(MaxPhysicalRegs))
	require.Equal(t, 3, m.Count())
	require.Equal(t, RegAX, m.Lowest())
	require.Equal(t, -1, RegMask(0).Lowest())
	require.Equal(t, "{0,3,15}", m.String())
	require.Equal(t, MaskOf(RegAX, RegR15), m.Remove(RegBX))
	require.True(t, m.Within(16))
	require.False(t, m.Within(8))
	require.Equal(t, RegMask(0xff), FullMask(8))
	require.Panics(t, func() { m.Add(MaxPhysicalRegs) })

	var ids []int
	m.Range(func(id int) { ids = append(ids, id) })
	require.Equal(t, []int{0, 3, 15}, ids)
}

func TestReg_String(t *testing.T) {
	require.Equal(t, "gp3", GP(RegBX).String())
	require.Equal(t, "xmm6", XMM(6).String())
	require.Equal(t, "mmx2", MM(2).String())
	require.Equal(t, "v16:gp", Reg{Class: RegClassGP, ID: SymbolicBase}.String())
	require.Equal(t, "noreg", NoReg.String())
	require.True(t, Reg{Class: RegClassXMM, ID: SymbolicBase + 4}.IsSymbolic())
	require.False(t, NoReg.IsSymbolic())
}

func TestInstr_String(t *testing.T) {
	in := Instr{Op: OpMov}
	for i := range in.Operands {
		in.Operands[i] = Operand{Reg: NoReg, Index: NoReg}
	}
	in.Operands[0] = NewMem(8, GP(RegBP), GP(RegSI), 8, -16)
	in.Operands[1] = NewImm(7, 4)
	require.Equal(t, "mov m64[gp5+gp6*8-16], $7", in.String())
	require.Equal(t, 2, in.NumOperands())

	jcc := Instr{Op: OpJcc, Cond: CondAE, Target: 3}
	require.Equal(t, "jae @3", jcc.String())
	require.True(t, jcc.IsConditionalJump())
	require.False(t, jcc.IsReturn())
	require.True(t, (&Instr{Op: OpUD2}).IsReturn())
	require.True(t, (&Instr{Op: OpEpilog}).IsPseudo())
}

func TestError(t *testing.T) {
	err := &Error{
		Kind: KindRegisterPressureExceeded, Instr: 4, Block: 1, Class: RegClassXMM,
		Vars: []Reg{{Class: RegClassXMM, ID: SymbolicBase}}, Msg: "17 live, 16 registers",
	}
	require.Equal(t, "register pressure exceeded at instruction 4 in block 1 (xmm: v16:xmm): 17 live, 16 registers", err.Error())

	wrapped := fmt.Errorf("compile: %w", err)
	require.True(t, errors.Is(wrapped, ErrRegisterPressureExceeded))
	require.False(t, errors.Is(wrapped, ErrLabelOutOfRange))
	var actual *Error
	require.True(t, errors.As(wrapped, &actual))
	require.Equal(t, 4, actual.Instr)
}

func TestPlatform_Validate(t *testing.T) {
	p := Platform{Name: "tiny", PointerSize: 8}
	for c := range p.Classes {
		p.Classes[c] = ClassInfo{NumRegs: 8, Available: FullMask(8)}
	}
	require.NoError(t, p.Validate())

	p.Classes[RegClassXMM].CalleeSaved = MaskOf(9)
	err := p.Validate()
	require.True(t, errors.Is(err, ErrInvalidOperand))
}
