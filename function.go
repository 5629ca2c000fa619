package jitasm

import (
	"context"
	"sync"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/vapoursynth/jitasm/internal/asm/amd64"
)

// Function compiles and encodes a program on first use. It is safe for concurrent use. The program
// is compiled at most once and encoded at most once: later calls return the memoized results or errors.
type Function struct {
	config CompilerConfig
	prog   *Program

	mux sync.Mutex

	compileDone bool
	compiled    *Compiled
	compileErr  error

	encodeDone bool
	code       []byte
	offsets    []int
	encodeErr  error
}

// NewFunction returns a Function for prog. prog must not be modified afterwards.
func NewFunction(config CompilerConfig, prog *Program) *Function {
	return &Function{config: config, prog: prog}
}

// Compiled returns the allocated stream. It does not need an encoder for the platform.
func (f *Function) Compiled(ctx context.Context) (*Compiled, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.compile(ctx)
}

// Code returns the machine code and the offset of every compiled instruction in it.
func (f *Function) Code(ctx context.Context) (code []byte, offsets []int, err error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if err = f.encode(ctx); err != nil {
		return nil, nil, err
	}
	return f.code, f.offsets, nil
}

func (f *Function) compile(ctx context.Context) (*Compiled, error) {
	if !f.compileDone {
		f.compileDone = true
		f.compiled, f.compileErr = Compile(ctx, f.config, f.prog)
	}
	if f.compileErr != nil {
		return nil, f.compileErr
	}
	return f.compiled, nil
}

func (f *Function) encode(ctx context.Context) (err error) {
	if f.encodeDone {
		return f.encodeErr
	}
	f.encodeDone = true

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "jitasm: function", "instrs", len(f.prog.Instrs))
	defer tr.Finish("err", &err)
	defer func() { f.encodeErr = err }()

	compiled, err := f.compile(ctx)
	if err != nil {
		return err
	}
	if p := f.config.Platform(); p.PointerSize != 8 {
		return errors.New("no encoder for platform %s", p.Name)
	}
	if f.code, f.offsets, err = amd64.Encode(compiled.Instrs); err != nil {
		return errors.Wrap(err, "encode")
	}
	tr.Printw("encoded", "bytes", len(f.code))
	return nil
}
