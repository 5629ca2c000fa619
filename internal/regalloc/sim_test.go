package regalloc

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vapoursynth/jitasm/api"
)

// programGen builds random structured programs over general purpose variables: straight code,
// conditionals with and without else branches, and counted loops closed by OpLoop.
type programGen struct {
	rnd      *rand.Rand
	instrs   []api.Instr
	vars     int
	counters int
}

func randomProgram(seed int64, vars, depth int) []api.Instr {
	g := &programGen{rnd: rand.New(rand.NewSource(seed)), vars: vars}
	g.emit(ins(api.OpProlog))
	for i := 0; i < vars; i++ {
		g.emit(ins(api.OpMov, w(sym(i)), imm(g.rnd.Int63n(100))))
	}
	for n := 1 + g.rnd.Intn(4); n > 0; n-- {
		g.segment(depth)
	}
	for i := 0; i < vars; i++ {
		g.emit(ins(api.OpTest, r(sym(i))))
	}
	g.emit(ins(api.OpEpilog))
	g.emit(ins(api.OpRet))
	return g.instrs
}

func (g *programGen) emit(in api.Instr) int {
	g.instrs = append(g.instrs, in)
	return len(g.instrs) - 1
}

func (g *programGen) v() api.Reg { return sym(g.rnd.Intn(g.vars)) }

func (g *programGen) straight(n int) {
	for ; n > 0; n-- {
		switch g.rnd.Intn(5) {
		case 0:
			g.emit(ins(api.OpMov, w(g.v()), imm(g.rnd.Int63n(100))))
		case 1:
			g.emit(ins(api.OpMov, w(g.v()), r(g.v())))
		case 2:
			g.emit(ins(api.OpAdd, rw(g.v()), r(g.v())))
		case 3:
			g.emit(ins(api.OpXchg, rw(g.v()), rw(g.v())))
		case 4:
			g.emit(ins(api.OpTest, r(g.v())))
		}
	}
}

func (g *programGen) segment(depth int) {
	k := g.rnd.Intn(4)
	switch {
	case depth == 0 || k == 0:
		g.straight(1 + g.rnd.Intn(4))
	case k == 1:
		jcc := g.emit(jccOn(g.v(), -1))
		g.segment(depth - 1)
		g.instrs[jcc].Target = len(g.instrs)
	case k == 2:
		jcc := g.emit(jccOn(g.v(), -1))
		g.segment(depth - 1)
		jmp := g.emit(jmpTo(-1))
		g.instrs[jcc].Target = len(g.instrs)
		g.segment(depth - 1)
		g.instrs[jmp].Target = len(g.instrs)
	default:
		counter := sym(g.vars + g.counters)
		g.counters++
		g.emit(ins(api.OpMov, w(counter), imm(1+g.rnd.Int63n(3))))
		head := len(g.instrs)
		g.segment(depth - 1)
		g.emit(loopOn(counter, head))
	}
}

// machine interprets the instructions used by the generated programs and the code the allocator
// inserts. Test records the value of its operand.
type machine struct {
	regs map[api.Reg]int64
	// vec holds MMX and XMM registers as two 128-bit lanes, each modeled by one value.
	vec   map[api.Reg][2]int64
	mem   map[int64]int64
	trace []int64
}

func isVector(op *api.Operand) bool {
	return op.Kind == api.OperandReg && op.Reg.Class != api.RegClassGP
}

// lanes is the number of lanes an access of op touches: the upper lane only at 32 bytes.
func lanes(op *api.Operand) int {
	if op.Size > 16 {
		return 2
	}
	return 1
}

// vread reads a vector operand. An immediate stands for a vector with distinct lanes.
func (m *machine) vread(op *api.Operand) [2]int64 {
	switch op.Kind {
	case api.OperandReg:
		return m.vec[op.Reg]
	case api.OperandMem:
		a := m.addr(op)
		return [2]int64{m.mem[a], m.mem[a+16]}
	}
	return [2]int64{op.Disp, op.Disp*1000 + 7}
}

// vwrite writes the lanes covered by the size of op and leaves the others alone.
func (m *machine) vwrite(op *api.Operand, v [2]int64) {
	n := lanes(op)
	if op.Kind == api.OperandMem {
		a := m.addr(op)
		for i := 0; i < n; i++ {
			m.mem[a+16*int64(i)] = v[i]
		}
		return
	}
	cur := m.vec[op.Reg]
	copy(cur[:n], v[:n])
	m.vec[op.Reg] = cur
}

func (m *machine) vxor(dst *api.Operand, x, y [2]int64) {
	m.vwrite(dst, [2]int64{x[0] ^ y[0], x[1] ^ y[1]})
}

func (m *machine) addr(op *api.Operand) int64 {
	a := op.Disp
	if op.Reg.Valid() {
		a += m.regs[op.Reg]
	}
	if op.Index.Valid() {
		a += m.regs[op.Index] * int64(op.Scale)
	}
	return a
}

func (m *machine) read(op *api.Operand) int64 {
	switch op.Kind {
	case api.OperandReg:
		return m.regs[op.Reg]
	case api.OperandMem:
		return m.mem[m.addr(op)]
	}
	return op.Disp
}

func (m *machine) write(op *api.Operand, v int64) {
	if op.Kind == api.OperandMem {
		m.mem[m.addr(op)] = v
		return
	}
	m.regs[op.Reg] = v
}

func simulate(t *testing.T, instrs []api.Instr, p *api.Platform) []int64 {
	m := &machine{regs: map[api.Reg]int64{}, vec: map[api.Reg][2]int64{}, mem: map[int64]int64{}}
	sp := api.GP(p.StackPointer)
	m.regs[sp] = 1 << 20
	for pc, steps := 0, 0; ; steps++ {
		require.Less(t, steps, 1_000_000, "runaway program")
		require.Less(t, pc, len(instrs), "fell off the end")
		in := &instrs[pc]
		ops := &in.Operands
		pc++
		switch in.Op {
		case api.OpProlog, api.OpEpilog, api.OpDeclareRegArg, api.OpDeclareStackArg, api.OpDeclareResultReg, api.OpNop:
		case api.OpMov:
			if isVector(&ops[0]) {
				m.vwrite(&ops[0], m.vread(&ops[1]))
				break
			}
			m.write(&ops[0], m.read(&ops[1]))
		case api.OpMovQ, api.OpMovDQA, api.OpMovDQU, api.OpVMovDQA, api.OpVMovDQU:
			m.vwrite(&ops[0], m.vread(&ops[1]))
		case api.OpPXor, api.OpXorPS:
			m.vxor(&ops[0], m.vread(&ops[0]), m.vread(&ops[1]))
		case api.OpVXorPS:
			m.vxor(&ops[0], m.vread(&ops[1]), m.vread(&ops[2]))
		case api.OpLea:
			m.write(&ops[0], m.addr(&ops[1]))
		case api.OpAdd:
			m.write(&ops[0], m.read(&ops[0])+m.read(&ops[1]))
		case api.OpSub:
			m.write(&ops[0], m.read(&ops[0])-m.read(&ops[1]))
		case api.OpXchg:
			x, y := m.read(&ops[0]), m.read(&ops[1])
			m.write(&ops[0], y)
			m.write(&ops[1], x)
		case api.OpPush:
			m.regs[sp] -= 8
			m.mem[m.regs[sp]] = m.read(&ops[0])
		case api.OpPop:
			v := m.mem[m.regs[sp]]
			m.regs[sp] += 8
			m.write(&ops[0], v)
		case api.OpTest:
			if !isVector(&ops[0]) {
				m.trace = append(m.trace, m.read(&ops[0]))
				break
			}
			for k := 0; k < in.NumOperands(); k++ {
				v := m.vread(&ops[k])
				m.trace = append(m.trace, v[:lanes(&ops[k])]...)
			}
		case api.OpJmp:
			pc = in.Target
		case api.OpJcc:
			if m.read(&ops[0])&1 != 0 {
				pc = in.Target
			}
		case api.OpLoop:
			n := m.read(&ops[0]) - 1
			m.write(&ops[0], n)
			if n != 0 {
				pc = in.Target
			}
		case api.OpRet:
			return m.trace
		default:
			t.Fatalf("unexpected %v at %d", in, pc-1)
		}
	}
}

func requirePhysical(t *testing.T, instrs []api.Instr) {
	for i := range instrs {
		in := &instrs[i]
		require.False(t, in.IsPseudo(), "%d: %v", i, in)
		for k := range in.Operands {
			op := &in.Operands[k]
			if op.Kind == api.OperandReg || op.Kind == api.OperandMem {
				require.False(t, op.Reg.IsSymbolic(), "%d: %v", i, in)
				require.False(t, op.Index.IsSymbolic(), "%d: %v", i, in)
			}
		}
	}
}

func TestCompile_simulation(t *testing.T) {
	for _, tc := range []struct {
		name     string
		platform api.Platform
	}{
		{name: "two registers", platform: testPlatform(api.MaskOf(0, 1), 0)},
		{name: "three registers", platform: testPlatform(api.MaskOf(0, 1, 2), api.MaskOf(2))},
		{
			name: "fourteen registers",
			platform: testPlatform(api.FullMask(16).Remove(api.RegSP).Remove(api.RegBP),
				api.MaskOf(api.RegBX, api.RegR12, api.RegR13, api.RegR14, api.RegR15)),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			for seed := int64(0); seed < 300; seed++ {
				instrs := randomProgram(seed, 2+int(seed%7), 3)
				exp := simulate(t, instrs, &tc.platform)

				res, err := Compile(context.Background(), instrs, tc.platform, Options{Validate: true})
				require.NoError(t, err, "seed %d", seed)
				requirePhysical(t, res.Instrs)
				require.Equal(t, exp, simulate(t, res.Instrs, &tc.platform), "seed %d", seed)
			}
		})
	}
}

func vr(x api.Reg, size byte) api.Operand { return api.NewReg(x, size).WithFlags(api.FlagRead) }
func vw(x api.Reg, size byte) api.Operand { return api.NewReg(x, size).WithFlags(api.FlagWrite) }

func countOps(instrs []api.Instr, op api.Opcode) (n int) {
	for i := range instrs {
		if instrs[i].Op == op {
			n++
		}
	}
	return
}

func TestCompile_vectors(t *testing.T) {
	a, b, d := xsym(0), xsym(1), xsym(2)
	m0, m1 := api.Reg{Class: api.RegClassMMX, ID: api.SymbolicBase}, api.Reg{Class: api.RegClassMMX, ID: api.SymbolicBase + 1}
	sizes := map[api.Reg]int{a: 32, b: 16, d: 32}
	for _, tc := range []struct {
		name   string
		instrs []api.Instr
		expect func(t *testing.T, c *Compiler, res *Result)
	}{
		{
			name: "physical ymm relocated around a pinned variable",
			instrs: []api.Instr{
				ins(api.OpProlog),
				ins(api.OpMov, vw(api.XMM(0), 32), imm(1)),
				ins(api.OpMov, vw(b, 16).WithConstraint(api.MaskOf(0)), imm(2)),
				ins(api.OpTest, vr(b, 16).WithConstraint(api.MaskOf(0))),
				ins(api.OpTest, vr(api.XMM(0), 32)),
				ins(api.OpEpilog),
				ins(api.OpRet),
			},
			expect: func(t *testing.T, c *Compiler, res *Result) {
				require.Equal(t, byte(32), c.a.vars.classes[api.RegClassXMM].size[0])
				// Only the 256-bit register is moved.
				for _, op := range []api.Opcode{api.OpMovDQA, api.OpMovDQU, api.OpXorPS} {
					require.Zero(t, countOps(res.Instrs, op), "%v", listing(res.Instrs))
				}
			},
		},
		{
			name: "mixed widths under pressure",
			instrs: []api.Instr{
				ins(api.OpProlog),
				ins(api.OpMov, vw(a, 32), imm(1)),
				ins(api.OpMov, vw(b, 16), imm(2)),
				ins(api.OpMov, vw(d, 32), imm(3)),
				ins(api.OpTest, vr(a, 32)),
				ins(api.OpTest, vr(b, 16)),
				ins(api.OpTest, vr(d, 32)),
				ins(api.OpEpilog),
				ins(api.OpRet),
			},
			expect: func(t *testing.T, c *Compiler, res *Result) {
				require.NotEmpty(t, res.Spilled)
				exp := 0
				for _, r := range res.Spilled {
					exp += sizes[r]
				}
				require.Equal(t, exp, c.a.vars.spillBytes)
				for i := range res.Instrs {
					in := &res.Instrs[i]
					switch in.Op {
					case api.OpVMovDQU, api.OpVMovDQA:
						require.Equal(t, byte(32), in.Operands[0].Size, "%d: %v", i, in)
						require.Equal(t, byte(32), in.Operands[1].Size, "%d: %v", i, in)
					case api.OpMovDQU, api.OpMovDQA:
						require.Equal(t, byte(16), in.Operands[0].Size, "%d: %v", i, in)
						require.Equal(t, byte(16), in.Operands[1].Size, "%d: %v", i, in)
					}
				}
			},
		},
		{
			name: "swap cycle of mixed widths",
			instrs: []api.Instr{
				ins(api.OpMov, vw(a, 32).WithConstraint(api.MaskOf(0)), imm(1)),
				ins(api.OpMov, vw(b, 16).WithConstraint(api.MaskOf(1)), imm(2)),
				ins(api.OpTest, vr(a, 32).WithConstraint(api.MaskOf(1)), vr(b, 16).WithConstraint(api.MaskOf(0))),
				ins(api.OpRet),
			},
			expect: func(t *testing.T, c *Compiler, res *Result) {
				require.Equal(t, 3, countOps(res.Instrs, api.OpVXorPS), "%v", listing(res.Instrs))
				require.Zero(t, countOps(res.Instrs, api.OpXorPS))
			},
		},
		{
			name: "mmx swap",
			instrs: []api.Instr{
				ins(api.OpMov, vw(m0, 8).WithConstraint(api.MaskOf(0)), imm(1)),
				ins(api.OpMov, vw(m1, 8).WithConstraint(api.MaskOf(1)), imm(2)),
				ins(api.OpTest, vr(m0, 8).WithConstraint(api.MaskOf(1)), vr(m1, 8).WithConstraint(api.MaskOf(0))),
				ins(api.OpRet),
			},
			expect: func(t *testing.T, c *Compiler, res *Result) {
				require.Equal(t, 3, countOps(res.Instrs, api.OpPXor), "%v", listing(res.Instrs))
			},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p := testPlatform(api.MaskOf(0, 1), 0)
			p.Classes[api.RegClassMMX].Available = api.MaskOf(0, 1)
			p.Classes[api.RegClassXMM].Available = api.MaskOf(0, 1)
			exp := simulate(t, tc.instrs, &p)

			c := NewCompiler(p, Options{Validate: true})
			res, err := c.Compile(context.Background(), tc.instrs)
			require.NoError(t, err)
			requirePhysical(t, res.Instrs)
			require.Equal(t, exp, simulate(t, res.Instrs, &p), "%v", listing(res.Instrs))
			tc.expect(t, c, res)
		})
	}
}
