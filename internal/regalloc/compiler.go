package regalloc

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/cfg"
	"github.com/vapoursynth/jitasm/internal/jitapi"
)

// State is the phase a Compiler is in.
type State byte

const (
	StateIdle State = iota
	StateNormalizing
	// StateSkip is entered when the stream has no symbolic registers and no constraint
	// violations. Only the frame markers are expanded.
	StateSkip
	StateAnalyzing
	StateRewriting
	StateDone
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNormalizing:
		return "normalizing"
	case StateSkip:
		return "skip"
	case StateAnalyzing:
		return "analyzing"
	case StateRewriting:
		return "rewriting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

// Options tune a compilation.
type Options struct {
	// Validate checks the allocation after it is computed: the register pressure bound,
	// the consistency of every assignment and the stability of the liveness solution.
	Validate bool
	// Graph, if set, receives the annotated control flow graph in Graphviz format.
	Graph io.Writer
}

// Result is the output of a successful compilation.
type Result struct {
	// Instrs references physical registers only.
	Instrs []api.Instr
	// UsedRegs are the registers referenced per class.
	UsedRegs [api.NumRegClasses]api.RegMask
	// FrameSize is what the prolog subtracts from the stack pointer.
	FrameSize int
	// Spilled lists the input registers living on the stack somewhere in the function.
	Spilled []api.Reg
	// Skipped is true if the stream needed no allocation.
	Skipped bool
}

// Compiler runs one compilation. Done and Failed are terminal.
type Compiler struct {
	platform api.Platform
	opts     Options
	state    State
	err      error
	a        allocator
}

// NewCompiler returns a Compiler in the Idle state.
func NewCompiler(p api.Platform, opts Options) *Compiler {
	return &Compiler{platform: p, opts: opts}
}

// State returns the current state.
func (c *Compiler) State() State { return c.state }

// Err returns the error the compilation failed with.
func (c *Compiler) Err() error { return c.err }

// Compile is a shortcut for NewCompiler(p, opts).Compile(ctx, instrs).
func Compile(ctx context.Context, instrs []api.Instr, p api.Platform, opts Options) (*Result, error) {
	return NewCompiler(p, opts).Compile(ctx, instrs)
}

// Compile allocates registers for instrs. instrs is not modified.
func (c *Compiler) Compile(ctx context.Context, instrs []api.Instr) (res *Result, err error) {
	if c.state != StateIdle {
		return nil, errors.New("compiler is %v", c.state)
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "regalloc: compile", "instrs", len(instrs), "platform", c.platform.Name)
	defer tr.Finish("err", &err)

	defer func() {
		if err != nil {
			c.state, c.err = StateFailed, err
		}
	}()

	if err = c.platform.Validate(); err != nil {
		return nil, errors.Wrap(err, "platform")
	}
	a := &c.a
	a.init(instrs, &c.platform)

	c.state = StateNormalizing
	if a.g, err = cfg.Build(a.instrs); err != nil {
		return nil, errors.Wrap(err, "build cfg")
	}
	needed, err := a.normalize()
	if err != nil {
		return nil, errors.Wrap(err, "normalize")
	}
	tr.Printw("normalized", "blocks", len(a.g.Blocks), "allocate", needed,
		"gp", a.vars.classes[api.RegClassGP].numVars(),
		"mmx", a.vars.classes[api.RegClassMMX].numVars(),
		"xmm", a.vars.classes[api.RegClassXMM].numVars())

	if !needed {
		c.state = StateSkip
		res = &Result{Instrs: a.skip(), UsedRegs: a.used, FrameSize: a.frame.size, Skipped: true}
		c.state = StateDone
		return res, nil
	}

	c.state = StateAnalyzing
	if err = c.analyze(ctx); err != nil {
		return nil, err
	}

	c.state = StateRewriting
	res = &Result{
		Instrs:    a.rewrite(),
		UsedRegs:  a.used,
		FrameSize: a.frame.size,
		Spilled:   a.vars.spilledRegs(),
	}
	tr.Printw("rewritten", "instrs", len(res.Instrs), "frame", res.FrameSize, "spilled", len(res.Spilled))

	if c.opts.Graph != nil {
		if err = c.WriteGraph(c.opts.Graph); err != nil {
			return nil, errors.Wrap(err, "write graph")
		}
	}
	c.state = StateDone
	return res, nil
}

func (c *Compiler) analyze(ctx context.Context) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "regalloc: analyze")
	defer tr.Finish("err", &err)

	a := &c.a
	if err = a.analyze(); err != nil {
		return errors.Wrap(err, "analyze")
	}
	if jitapi.PrintRegisterAllocated {
		fmt.Print(a.vars.String())
	}
	if dump := tr.If("regalloc_intervals"); dump || jitapi.PrintIntervals {
		for _, id := range a.g.ReversePostOrder {
			for cl := api.RegClass(0); cl < api.NumRegClasses; cl++ {
				for _, iv := range a.blocks[id].lt[cl].intervals {
					if jitapi.PrintIntervals {
						fmt.Printf("[%d] %s: %s\n", id, cl, iv.format(&a.vars.classes[cl]))
					}
					if dump {
						tr.Printw("interval", "block", id, "class", cl, "iv", iv.format(&a.vars.classes[cl]))
					}
				}
			}
		}
	}
	tr.Printw("analyzed", "intervals", a.intervalPool.Allocated(), "spill_bytes", a.vars.spillBytes,
		"gp", a.used[api.RegClassGP], "mmx", a.used[api.RegClassMMX], "xmm", a.used[api.RegClassXMM])

	if c.opts.Validate || jitapi.RegAllocValidationEnabled {
		if err = a.validate(); err != nil {
			return errors.Wrap(err, "validate")
		}
	}
	return nil
}

// WriteGraph writes the control flow graph of the last compilation in Graphviz format,
// each block annotated with its live-in and live-out variables per class.
func (c *Compiler) WriteGraph(w io.Writer) error {
	a := &c.a
	if a.g == nil {
		return errors.New("no graph: compiler is %v", c.state)
	}
	return a.g.WriteDot(w, func(id cfg.BlockID) string {
		if int(id) >= len(a.blocks) || a.g.Block(id).Dead {
			return ""
		}
		var lines []string
		for cl := api.RegClass(0); cl < api.NumRegClasses; cl++ {
			lt := &a.blocks[id].lt[cl]
			if lt.liveIn.Empty() && lt.liveOut.Empty() {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s in=%s out=%s", cl,
				a.formatVars(cl, lt.liveIn.Slice()), a.formatVars(cl, lt.liveOut.Slice())))
		}
		return strings.Join(lines, "\\l")
	})
}

func (a *allocator) formatVars(c api.RegClass, vs []int) string {
	cv := &a.vars.classes[c]
	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = cv.regs[v].String()
	}
	return "{" + strings.Join(s, " ") + "}"
}
