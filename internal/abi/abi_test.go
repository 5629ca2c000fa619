package abi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vapoursynth/jitasm/api"
)

func TestRegName(t *testing.T) {
	for _, tc := range []struct {
		r    api.Reg
		size byte
		exp  string
	}{
		{r: api.GP(api.RegAX), size: 8, exp: "AX"},
		{r: api.GP(api.RegR9), size: 8, exp: "R9"},
		{r: api.GP(api.RegCX), size: 1, exp: "CL"},
		{r: api.MM(3), size: 8, exp: "M3"},
		{r: api.XMM(7), size: 16, exp: "X7"},
		{r: api.XMM(7), size: 32, exp: "Y7"},
		{r: api.Reg{Class: api.RegClassGP, ID: api.SymbolicBase + 2}, size: 8, exp: "v18:gp"},
	} {
		require.Equal(t, tc.exp, RegName(tc.r, tc.size))
	}
}

func TestPlatforms(t *testing.T) {
	require.Equal(t, []string{NameAMD64SysV, NameAMD64Windows, NameX86}, Names())
	for _, name := range Names() {
		p, ok := ByName(name)
		require.True(t, ok)
		require.Equal(t, name, p.Name)
		require.NoError(t, p.Validate())
		gp := p.Classes[api.RegClassGP]
		require.False(t, gp.Available.Has(p.StackPointer))
		require.False(t, gp.Available.Has(p.FramePointer))
	}
	_, ok := ByName("riscv")
	require.False(t, ok)

	require.Equal(t, 14, AMD64SysV().Classes[api.RegClassGP].Available.Count())
	require.Equal(t, 6, X86().Classes[api.RegClassGP].Available.Count())
	require.Equal(t, api.MaskOf(6, 7, 8, 9, 10, 11, 12, 13, 14, 15), AMD64Windows().Classes[api.RegClassXMM].CalleeSaved)
}
