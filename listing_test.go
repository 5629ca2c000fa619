package jitasm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/abi"
)

func TestFormatInstr(t *testing.T) {
	b := NewBuilder(abi.AMD64SysV())
	v := b.NewGP()
	top := b.NewLabel()
	b.Bind(top)
	b.Mov(b.Reg(api.GP(api.RegAX)), Imm(1))
	b.Mov(b.Reg(v), b.Ptr(api.GP(api.RegBP), -8))
	b.Lea(b.Reg(api.GP(api.RegCX)), MemIndex(0, api.GP(api.RegSI), api.GP(api.RegDI), 4, 0))
	b.VXorPS(api.NewReg(api.XMM(1), 32), api.NewReg(api.XMM(1), 32), api.NewReg(api.XMM(2), 32))
	b.Shl(b.Reg(api.GP(api.RegDX)), b.Reg(api.GP(api.RegCX)))
	b.Loop(v, top)
	prog, err := b.Build()
	require.NoError(t, err)

	var actual []string
	for i := range prog.Instrs {
		actual = append(actual, FormatInstr(&prog.Instrs[i]))
	}
	require.Equal(t, []string{
		"mov AX, $1",
		"mov v16:gp, m64[BP-8]",
		"lea CX, m0[SI+DI*4]",
		"vxorps Y1, Y1, Y2",
		"shl DX, CL",
		"loop @0",
	}, actual)
}

func TestFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Format(&buf, []api.Instr{{Op: api.OpNop}, {Op: api.OpRet}}))
	require.Equal(t, "   0  nop\n   1  ret\n", buf.String())
}
