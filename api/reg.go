// Package api includes the types shared by instruction stream producers and the register allocator.
package api

import (
	"fmt"
	"math/bits"
	"strings"
)

// RegClass is a family of interchangeable registers. Variables of different classes never share registers.
type RegClass byte

const (
	// RegClassGP is the general purpose integer register file.
	RegClassGP RegClass = iota
	// RegClassMMX is the 64-bit SIMD register file.
	RegClassMMX
	// RegClassXMM is the 128/256-bit SIMD register file. 256-bit values use the YMM view of the same registers.
	RegClassXMM

	// NumRegClasses is the number of register classes.
	NumRegClasses
)

// String implements fmt.Stringer.
func (c RegClass) String() string {
	switch c {
	case RegClassGP:
		return "gp"
	case RegClassMMX:
		return "mmx"
	case RegClassXMM:
		return "xmm"
	}
	return fmt.Sprintf("class(%d)", byte(c))
}

// RegID identifies a register within its class.
type RegID uint32

const (
	// SymbolicBase is the first symbolic register id. Ids below it denote physical registers.
	SymbolicBase RegID = 16
	// MaxPhysicalRegs is the largest physical register file size of any class.
	MaxPhysicalRegs = int(SymbolicBase)
	// InvalidRegID is never assigned to a register.
	InvalidRegID RegID = 1<<32 - 1
)

// Reg is a register of a class, either physical or symbolic.
type Reg struct {
	Class RegClass
	ID    RegID
}

// NoReg is used for absent memory base or index registers.
var NoReg = Reg{ID: InvalidRegID}

// GP returns the physical general purpose register with the given hardware number.
func GP(id int) Reg { return Reg{Class: RegClassGP, ID: RegID(id)} }

// MM returns the physical MMX register with the given hardware number.
func MM(id int) Reg { return Reg{Class: RegClassMMX, ID: RegID(id)} }

// XMM returns the physical XMM register with the given hardware number.
func XMM(id int) Reg { return Reg{Class: RegClassXMM, ID: RegID(id)} }

// Hardware numbers of the general purpose registers.
const (
	RegAX = iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
)

// Valid returns true if the register is not NoReg.
func (r Reg) Valid() bool { return r.ID != InvalidRegID }

// IsPhysical returns true if the register denotes a hardware register.
func (r Reg) IsPhysical() bool { return r.ID < SymbolicBase }

// IsSymbolic returns true if the register is a symbolic variable to be allocated.
func (r Reg) IsSymbolic() bool { return r.Valid() && r.ID >= SymbolicBase }

// String implements fmt.Stringer.
func (r Reg) String() string {
	switch {
	case !r.Valid():
		return "noreg"
	case r.IsPhysical():
		return fmt.Sprintf("%s%d", r.Class, r.ID)
	default:
		return fmt.Sprintf("v%d:%s", r.ID, r.Class)
	}
}

// RegMask is a set of physical registers of one class, bit i standing for hardware number i.
type RegMask uint32

// MaskOf returns a mask holding the given hardware numbers.
func MaskOf(ids ...int) (m RegMask) {
	for _, id := range ids {
		m = m.Add(id)
	}
	return
}

// FullMask returns the mask of the first n registers.
func FullMask(n int) RegMask {
	if n >= 32 {
		return ^RegMask(0)
	}
	return RegMask(1)<<uint(n) - 1
}

func checkID(id int) {
	if id < 0 || id >= MaxPhysicalRegs {
		panic(fmt.Sprintf("BUG: physical register id %d out of range", id))
	}
}

// Has returns true if id is in the mask.
func (m RegMask) Has(id int) bool {
	return id >= 0 && id < MaxPhysicalRegs && m&(1<<uint(id)) != 0
}

// Add returns the mask with id added.
func (m RegMask) Add(id int) RegMask {
	checkID(id)
	return m | 1<<uint(id)
}

// Remove returns the mask with id removed.
func (m RegMask) Remove(id int) RegMask {
	checkID(id)
	return m &^ (1 << uint(id))
}

// Count returns the number of registers in the mask.
func (m RegMask) Count() int { return bits.OnesCount32(uint32(m)) }

// Lowest returns the lowest register in the mask, or -1 if empty.
func (m RegMask) Lowest() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros32(uint32(m))
}

// Within returns true if every register in the mask exists in a register file of size n.
func (m RegMask) Within(n int) bool { return m&^FullMask(n) == 0 }

// Range calls f for each register in ascending order.
func (m RegMask) Range(f func(id int)) {
	for v := uint32(m); v != 0; v &= v - 1 {
		f(bits.TrailingZeros32(v))
	}
}

// String implements fmt.Stringer.
func (m RegMask) String() string {
	var ids []string
	m.Range(func(id int) { ids = append(ids, fmt.Sprint(id)) })
	return "{" + strings.Join(ids, ",") + "}"
}
