// Package jitasm lowers instruction streams over symbolic registers into streams over the physical
// registers of a platform, and encodes them into machine code.
//
// A stream is built with a Builder, compiled with Compile, and optionally encoded by a Function:
//
//	b := jitasm.NewBuilder(config.Platform())
//	x := b.NewGP()
//	b.Prolog()
//	b.Mov(b.Reg(x), jitasm.Imm(1))
//	...
//	prog, err := b.Build()
//	compiled, err := jitasm.Compile(ctx, config, prog)
package jitasm

import (
	"context"

	"github.com/nikandfor/errors"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/regalloc"
)

// Compiled is a stream over physical registers.
type Compiled struct {
	Instrs []api.Instr
	// UsedRegs are the physical registers referenced per class.
	UsedRegs [api.NumRegClasses]api.RegMask
	// FrameSize is the stack space reserved by the prolog below the saved registers.
	FrameSize int
	// Spilled lists the variables living on the stack somewhere in the stream.
	Spilled []api.Reg
	// Skipped is true if the stream had nothing to allocate.
	Skipped bool
}

// Compile allocates the registers of prog for the platform of config. prog is not modified.
//
// Allocation failures are *api.Error values and match the api.Err* sentinels with errors.Is.
// The span carried by ctx, if any, receives the trace of the compilation.
func Compile(ctx context.Context, config CompilerConfig, prog *Program) (*Compiled, error) {
	c, ok := config.(*compilerConfig)
	if !ok {
		return nil, errors.New("unsupported config %T", config)
	}
	if c.platformErr != nil {
		return nil, c.platformErr
	}
	res, err := regalloc.Compile(ctx, prog.Instrs, c.platform, regalloc.Options{Validate: c.validate, Graph: c.graph})
	if err != nil {
		return nil, err
	}
	return &Compiled{
		Instrs:    res.Instrs,
		UsedRegs:  res.UsedRegs,
		FrameSize: res.FrameSize,
		Spilled:   res.Spilled,
		Skipped:   res.Skipped,
	}, nil
}
