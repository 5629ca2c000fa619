package api

// ClassInfo describes the register file of one class on a platform.
type ClassInfo struct {
	// NumRegs is the number of physical registers, 8 or 16.
	NumRegs int
	// Available are the registers the allocator may hand out.
	Available RegMask
	// CalleeSaved are the registers the prolog must preserve if they are used.
	CalleeSaved RegMask
}

// Platform is the register environment code is allocated for.
type Platform struct {
	Name string
	// PointerSize is 4 or 8.
	PointerSize int
	Classes     [NumRegClasses]ClassInfo
	// StackPointer and FramePointer are general purpose hardware numbers. They are never allocated.
	StackPointer, FramePointer int
	// ResultRegs is the register each class returns values in.
	ResultRegs [NumRegClasses]int
}

// Validate returns an error if a mask does not fit its register file.
func (p *Platform) Validate() error {
	for c := RegClass(0); c < NumRegClasses; c++ {
		info := &p.Classes[c]
		if info.NumRegs <= 0 || info.NumRegs > MaxPhysicalRegs ||
			!info.Available.Within(info.NumRegs) || !info.CalleeSaved.Within(info.NumRegs) {
			return &Error{Kind: KindInvalidOperand, Instr: -1, Block: -1, Class: c, Msg: "register file of " + p.Name}
		}
	}
	return nil
}
