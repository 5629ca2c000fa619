package api

import (
	"fmt"
	"strings"
)

// ErrorKind classifies an Error.
type ErrorKind byte

const (
	// KindLabelOutOfRange is reported when a branch target lies outside the instruction stream.
	KindLabelOutOfRange ErrorKind = iota + 1
	// KindUnsatisfiableConstraint is reported when register constraints at one instruction cannot all hold.
	KindUnsatisfiableConstraint
	// KindRegisterPressureExceeded is reported when more variables must be in registers than the class provides.
	KindRegisterPressureExceeded
	// KindMalformedPseudoInstruction is reported for declaration or frame markers with unexpected operands.
	KindMalformedPseudoInstruction
	// KindInvalidOperand is reported for operands that cannot exist on the target platform.
	KindInvalidOperand
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindLabelOutOfRange:
		return "label out of range"
	case KindUnsatisfiableConstraint:
		return "unsatisfiable constraint"
	case KindRegisterPressureExceeded:
		return "register pressure exceeded"
	case KindMalformedPseudoInstruction:
		return "malformed pseudo instruction"
	case KindInvalidOperand:
		return "invalid operand"
	}
	return fmt.Sprintf("error kind(%d)", byte(k))
}

// Error is returned by the allocator for malformed or unallocatable input.
type Error struct {
	Kind ErrorKind
	// Instr is the index of the originating instruction in the input stream, or -1.
	Instr int
	// Block is the index of the basic block containing Instr, or -1.
	Block int
	Class RegClass
	// Vars lists the variables involved, if any.
	Vars []Reg
	Msg  string
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrLabelOutOfRange            = &Error{Kind: KindLabelOutOfRange, Instr: -1, Block: -1}
	ErrUnsatisfiableConstraint    = &Error{Kind: KindUnsatisfiableConstraint, Instr: -1, Block: -1}
	ErrRegisterPressureExceeded   = &Error{Kind: KindRegisterPressureExceeded, Instr: -1, Block: -1}
	ErrMalformedPseudoInstruction = &Error{Kind: KindMalformedPseudoInstruction, Instr: -1, Block: -1}
	ErrInvalidOperand             = &Error{Kind: KindInvalidOperand, Instr: -1, Block: -1}
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Instr >= 0 {
		fmt.Fprintf(&b, " at instruction %d", e.Instr)
	}
	if e.Block >= 0 {
		fmt.Fprintf(&b, " in block %d", e.Block)
	}
	if len(e.Vars) > 0 {
		vs := make([]string, len(e.Vars))
		for i, v := range e.Vars {
			vs[i] = v.String()
		}
		fmt.Fprintf(&b, " (%s: %s)", e.Class, strings.Join(vs, " "))
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Is allows errors.Is to match an Error against the sentinel of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
