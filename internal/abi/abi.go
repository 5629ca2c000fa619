// Package abi describes the register environments code can be allocated for.
package abi

import (
	"fmt"
	"sort"

	"github.com/mmcloughlin/avo/reg"

	"github.com/vapoursynth/jitasm/api"
)

const (
	// NameAMD64SysV is the System V x86-64 calling convention (Linux, macOS).
	NameAMD64SysV = "amd64-sysv"
	// NameAMD64Windows is the Microsoft x64 calling convention.
	NameAMD64Windows = "amd64-windows"
	// NameX86 is the 32-bit cdecl calling convention.
	NameX86 = "x86"
)

var gpRegs = [...]reg.GPPhysical{
	reg.RAX, reg.RCX, reg.RDX, reg.RBX, reg.RSP, reg.RBP, reg.RSI, reg.RDI,
	reg.R8, reg.R9, reg.R10, reg.R11, reg.R12, reg.R13, reg.R14, reg.R15,
}

var vecRegs = [...]reg.VecPhysical{
	reg.X0, reg.X1, reg.X2, reg.X3, reg.X4, reg.X5, reg.X6, reg.X7,
	reg.X8, reg.X9, reg.X10, reg.X11, reg.X12, reg.X13, reg.X14, reg.X15,
}

// RegName returns the assembler name of a physical register accessed with the given width in bytes.
// Symbolic registers keep their api form.
func RegName(r api.Reg, size byte) string {
	if !r.IsPhysical() {
		return r.String()
	}
	switch r.Class {
	case api.RegClassGP:
		g := gpRegs[r.ID]
		switch size {
		case 1:
			return g.As8().Asm()
		case 2:
			return g.As16().Asm()
		case 4:
			return g.As32().Asm()
		}
		return g.As64().Asm()
	case api.RegClassMMX:
		return fmt.Sprintf("M%d", r.ID)
	case api.RegClassXMM:
		if size == 32 {
			return vecRegs[r.ID].AsY().Asm()
		}
		return vecRegs[r.ID].AsX().Asm()
	}
	return r.String()
}

var platforms = map[string]func() api.Platform{
	NameAMD64SysV:    AMD64SysV,
	NameAMD64Windows: AMD64Windows,
	NameX86:          X86,
}

// ByName returns the platform registered under name.
func ByName(name string) (api.Platform, bool) {
	f, ok := platforms[name]
	if !ok {
		return api.Platform{}, false
	}
	return f(), true
}

// Names returns the known platform names, sorted.
func Names() []string {
	ret := make([]string, 0, len(platforms))
	for n := range platforms {
		ret = append(ret, n)
	}
	sort.Strings(ret)
	return ret
}

// gpAvailable is every general purpose register but the stack and frame pointers.
func gpAvailable(n int) api.RegMask {
	return api.FullMask(n).Remove(api.RegSP).Remove(api.RegBP)
}

var results = [api.NumRegClasses]int{api.RegAX, 0, 0}

// AMD64SysV returns the System V x86-64 register environment.
func AMD64SysV() api.Platform {
	return api.Platform{
		Name:        NameAMD64SysV,
		PointerSize: 8,
		Classes: [api.NumRegClasses]api.ClassInfo{
			api.RegClassGP: {
				NumRegs:     16,
				Available:   gpAvailable(16),
				CalleeSaved: api.MaskOf(api.RegBX, api.RegBP, api.RegR12, api.RegR13, api.RegR14, api.RegR15),
			},
			api.RegClassMMX: {NumRegs: 8, Available: api.FullMask(8)},
			api.RegClassXMM: {NumRegs: 16, Available: api.FullMask(16)},
		},
		StackPointer: api.RegSP,
		FramePointer: api.RegBP,
		ResultRegs:   results,
	}
}

// AMD64Windows returns the Microsoft x64 register environment, where XMM6-XMM15 are callee-saved.
func AMD64Windows() api.Platform {
	p := AMD64SysV()
	p.Name = NameAMD64Windows
	p.Classes[api.RegClassGP].CalleeSaved = api.MaskOf(api.RegBX, api.RegBP, api.RegSI, api.RegDI,
		api.RegR12, api.RegR13, api.RegR14, api.RegR15)
	p.Classes[api.RegClassXMM].CalleeSaved = api.FullMask(16) &^ api.FullMask(6)
	return p
}

// X86 returns the 32-bit register environment.
func X86() api.Platform {
	return api.Platform{
		Name:        NameX86,
		PointerSize: 4,
		Classes: [api.NumRegClasses]api.ClassInfo{
			api.RegClassGP: {
				NumRegs:     8,
				Available:   gpAvailable(8),
				CalleeSaved: api.MaskOf(api.RegBX, api.RegBP, api.RegSI, api.RegDI),
			},
			api.RegClassMMX: {NumRegs: 8, Available: api.FullMask(8)},
			api.RegClassXMM: {NumRegs: 8, Available: api.FullMask(8)},
		},
		StackPointer: api.RegSP,
		FramePointer: api.RegBP,
		ResultRegs:   results,
	}
}
