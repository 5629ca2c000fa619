package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/abi"
)

func TestVariableManager_layoutSlots(t *testing.T) {
	p := abi.AMD64SysV()
	var m variableManager
	m.init(&p)
	gp, xmm := &m.classes[api.RegClassGP], &m.classes[api.RegClassXMM]
	for i := 0; i < 3; i++ {
		gp.declare(sym(i), 8)
	}
	for i := 0; i < 3; i++ {
		xmm.widen(xmm.declare(xsym(i), 16), byte(16<<(i%2)))
	}
	for c := range m.classes {
		m.classes[c].finish()
	}
	for _, v := range []int{16, 18} {
		gp.spilled[v] = true
	}
	for _, v := range []int{16, 17, 18} {
		xmm.spilled[v] = true
	}
	// A variable with a declared home needs no slot.
	gp.spilled[17] = true
	gp.home[17] = api.NewMem(8, api.GP(api.RegBP), api.NoReg, 0, 16)

	m.layoutSlots()
	require.Equal(t, 32+16+16+8+8, m.spillBytes)
	require.Equal(t, 0, xmm.slot[17])
	require.Equal(t, 32, xmm.slot[16])
	require.Equal(t, 48, xmm.slot[18])
	require.Equal(t, 64, gp.slot[16])
	require.Equal(t, 72, gp.slot[18])
	require.Equal(t, -1, gp.slot[17])

	type span struct{ lo, hi int }
	var spans []span
	for c := range m.classes {
		cv := &m.classes[c]
		for v, off := range cv.slot {
			if off < 0 {
				continue
			}
			size := int(cv.size[v])
			require.Zero(t, off%size, "%s misaligned", cv.regs[v])
			for _, s := range spans {
				require.True(t, off+size <= s.lo || off >= s.hi, "%s overlaps", cv.regs[v])
			}
			spans = append(spans, span{off, off + size})
		}
	}
}

func TestFrame_layout(t *testing.T) {
	for _, tc := range []struct {
		name       string
		platform   api.Platform
		used       [api.NumRegClasses]api.RegMask
		spillBytes int
		expSavedGP []int
		expXMM     []int
		expSize    int
		expProlog  []string
		expEpilog  []string
	}{
		{
			name:      "empty",
			platform:  abi.AMD64SysV(),
			expProlog: []string{"push gp5", "mov gp5, gp4"},
			expEpilog: []string{"pop gp5"},
		},
		{
			name:     "saved registers and spills",
			platform: abi.AMD64SysV(),
			used: [api.NumRegClasses]api.RegMask{
				api.RegClassGP: api.MaskOf(api.RegAX, api.RegBX, api.RegBP, api.RegR12),
			},
			spillBytes: 24,
			expSavedGP: []int{api.RegBX, api.RegR12},
			// 16 bytes of saved registers, 32 bytes of slots.
			expSize: 48 - 16,
			expProlog: []string{
				"push gp5", "mov gp5, gp4", "push gp3", "push gp12", "sub gp4, $32",
			},
			expEpilog: []string{"lea gp4, m0[gp5-16]", "pop gp12", "pop gp3", "pop gp5"},
		},
		{
			name:     "windows vector registers",
			platform: abi.AMD64Windows(),
			used: [api.NumRegClasses]api.RegMask{
				api.RegClassGP:  api.MaskOf(api.RegSI),
				api.RegClassXMM: api.MaskOf(0, 6),
			},
			spillBytes: 8,
			expSavedGP: []int{api.RegSI},
			expXMM:     []int{6},
			// areaTop 16, slots 16, one saved vector register.
			expSize: 48 - 8,
			expProlog: []string{
				"push gp5", "mov gp5, gp4", "push gp6", "sub gp4, $40", "movdqu m128[gp5-48], xmm6",
			},
			expEpilog: []string{"movdqu xmm6, m128[gp5-48]", "lea gp4, m0[gp5-8]", "pop gp6", "pop gp5"},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var f frame
			f.layout(&tc.platform, tc.used, tc.spillBytes)
			require.Equal(t, len(tc.expSavedGP), len(f.savedGP))
			if len(tc.expSavedGP) > 0 {
				require.Equal(t, tc.expSavedGP, f.savedGP)
			}
			if len(tc.expXMM) > 0 {
				require.Equal(t, tc.expXMM, f.savedXMM)
			}
			require.Equal(t, tc.expSize, f.size)
			require.Equal(t, tc.expProlog, listing(f.prolog(nil)))
			require.Equal(t, tc.expEpilog, listing(f.epilog(nil)))
		})
	}
}

func TestLowerMoves(t *testing.T) {
	p := abi.AMD64SysV()
	a := &allocator{platform: &p}
	a.vars.init(&p)
	xmm := &a.vars.classes[api.RegClassXMM]
	y := xmm.declare(xsym(0), 16)
	xmm.widen(y, 32)
	for c := range a.vars.classes {
		a.vars.classes[c].finish()
	}
	xmm.spilled[y] = true
	a.vars.layoutSlots()
	a.frame.layout(&p, [api.NumRegClasses]api.RegMask{}, a.vars.spillBytes)

	out := a.lowerMoves(nil, []move{
		{kind: moveSwap, class: api.RegClassGP, v: -1, src: 0, dst: 1, size: 8},
		{kind: moveSwap, class: api.RegClassMMX, v: -1, src: 2, dst: 3, size: 8},
		{kind: moveSwap, class: api.RegClassXMM, v: -1, src: 4, dst: 5, size: 16},
		{kind: moveReg, class: api.RegClassXMM, v: y, src: 1, dst: 2, size: 32},
		{kind: moveStore, class: api.RegClassXMM, v: y, src: 2, size: 32},
		{kind: moveLoad, class: api.RegClassXMM, v: y, dst: 3, size: 32},
	})
	require.Equal(t, []string{
		"xchg gp0, gp1",
		"pxor mmx2, mmx3", "pxor mmx3, mmx2", "pxor mmx2, mmx3",
		"xorps xmm4, xmm5", "xorps xmm5, xmm4", "xorps xmm4, xmm5",
		"vmovdqa xmm2, xmm1",
		"vmovdqu m256[gp5-32], xmm2",
		"vmovdqu xmm3, m256[gp5-32]",
	}, listing(out))
	require.Equal(t, byte(32), out[len(out)-1].Operands[0].Size)
}
