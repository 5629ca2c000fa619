// Package golang_asm wraps the golang-asm builder for assembling one function at a time.
package golang_asm

import (
	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/nikandfor/errors"
)

// Assembler collects obj.Prog for a single function.
type Assembler struct {
	b *goasm.Builder
	// setBranchTargetOnNext holds forward branches whose destination is the next added instruction.
	setBranchTargetOnNext []*obj.Prog
	// onGenerateCallbacks are called after the native code is generated.
	onGenerateCallbacks []func(code []byte) error
}

// NewAssembler returns an Assembler for the golang-asm architecture name, e.g. "amd64".
func NewAssembler(arch string) (*Assembler, error) {
	b, err := goasm.NewBuilder(arch, 1024)
	if err != nil {
		return nil, errors.Wrap(err, "new %s builder", arch)
	}
	return &Assembler{b: b}, nil
}

// NewProg allocates an instruction. It is not part of the function until AddInstruction.
func (a *Assembler) NewProg() *obj.Prog {
	return a.b.NewProg()
}

// AddInstruction appends p and resolves the branches waiting for it.
func (a *Assembler) AddInstruction(p *obj.Prog) {
	a.b.AddInstruction(p)
	for _, br := range a.setBranchTargetOnNext {
		br.To.SetTarget(p)
	}
	a.setBranchTargetOnNext = a.setBranchTargetOnNext[:0]
}

// SetJumpTargetOnNext makes the next added instruction the destination of branches.
func (a *Assembler) SetJumpTargetOnNext(branches ...*obj.Prog) {
	a.setBranchTargetOnNext = append(a.setBranchTargetOnNext, branches...)
}

// PendingBranches returns true if some branch waits for an instruction that was never added.
func (a *Assembler) PendingBranches() bool {
	return len(a.setBranchTargetOnNext) > 0
}

// AddOnGenerateCallBack registers cb to run on the generated code.
func (a *Assembler) AddOnGenerateCallBack(cb func(code []byte) error) {
	a.onGenerateCallbacks = append(a.onGenerateCallbacks, cb)
}

// Assemble generates the code. Prog.Pc of every added instruction holds its offset afterwards.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.PendingBranches() {
		return nil, errors.New("%d branches without destination", len(a.setBranchTargetOnNext))
	}
	code := a.b.Assemble()
	for _, cb := range a.onGenerateCallbacks {
		if err := cb(code); err != nil {
			return nil, err
		}
	}
	return code, nil
}
