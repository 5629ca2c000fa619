package jitasm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/abi"
)

// FormatInstr renders in with assembler register names. Symbolic registers keep their v<id>:<class> form.
func FormatInstr(in *api.Instr) string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	if in.Op == api.OpJcc {
		b.WriteString(in.Cond.String())
	}
	if in.IsJump() {
		fmt.Fprintf(&b, " @%d", in.Target)
		return b.String()
	}
	sep := " "
	for k := 0; k < in.NumOperands(); k++ {
		op := &in.Operands[k]
		if op.IsDummy() {
			continue
		}
		b.WriteString(sep)
		sep = ", "
		formatOperand(&b, op)
	}
	return b.String()
}

func formatOperand(b *strings.Builder, op *api.Operand) {
	switch op.Kind {
	case api.OperandReg:
		b.WriteString(abi.RegName(op.Reg, op.Size))
	case api.OperandImm:
		fmt.Fprintf(b, "$%d", op.Disp)
	case api.OperandMem:
		fmt.Fprintf(b, "m%d[", int(op.Size)*8)
		sep := ""
		if op.Reg.Valid() {
			b.WriteString(abi.RegName(op.Reg, 8))
			sep = "+"
		}
		if op.Index.Valid() {
			fmt.Fprintf(b, "%s%s*%d", sep, abi.RegName(op.Index, 8), op.Scale)
		}
		if op.Disp != 0 || sep == "" {
			fmt.Fprintf(b, "%+d", op.Disp)
		}
		b.WriteByte(']')
	}
}

// Format writes instrs to w, one numbered instruction per line.
func Format(w io.Writer, instrs []api.Instr) error {
	bw := bufio.NewWriter(w)
	for i := range instrs {
		fmt.Fprintf(bw, "%4d  %s\n", i, FormatInstr(&instrs[i]))
	}
	return bw.Flush()
}
