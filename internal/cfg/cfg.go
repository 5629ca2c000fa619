// Package cfg builds the control flow graph of an instruction stream and computes
// the depth-first numbering, immediate dominators and loop nesting of its blocks.
package cfg

import (
	"fmt"

	"github.com/vapoursynth/jitasm/api"
	"github.com/vapoursynth/jitasm/internal/jitapi"
)

// BlockID indexes Graph.Blocks.
type BlockID int32

// InvalidBlock is the absent block.
const InvalidBlock BlockID = -1

// Block is a maximal straight-line range [Begin, End) of the instruction stream.
type Block struct {
	ID         BlockID
	Begin, End int
	// Succs holds NumSuccs successors. For a conditional branch Succs[0] is the fallthrough and Succs[1] the target.
	Succs    [2]BlockID
	NumSuccs int
	Preds    []BlockID

	// PreOrder and PostOrder are the depth-first numbers from the entry, -1 if unreachable.
	PreOrder, PostOrder int
	// Parent is the depth-first tree parent.
	Parent BlockID
	// IDom is the immediate dominator, InvalidBlock for the entry and unreachable blocks.
	IDom      BlockID
	LoopDepth int
	// LoopHeader is true if some backedge targets this block.
	LoopHeader bool
	// Dead is true if the block is unreachable from the entry.
	Dead bool
	// Split is true for blocks introduced by SplitEdge. They hold no instructions of the stream.
	Split bool
}

// Len returns the number of instructions in the block.
func (b *Block) Len() int { return b.End - b.Begin }

// Successors returns the successor slice.
func (b *Block) Successors() []BlockID { return b.Succs[:b.NumSuccs] }

func (b *Block) addSucc(s BlockID) {
	b.Succs[b.NumSuccs] = s
	b.NumSuccs++
}

// Graph is an arena of blocks. Blocks refer to each other by BlockID only.
type Graph struct {
	Blocks []Block
	Entry  BlockID
	// Exit is the empty block every return flows into. It is always the last block of the stream layout.
	Exit BlockID
	// PostOrder and ReversePostOrder list the reachable blocks.
	PostOrder, ReversePostOrder []BlockID

	blockOf []BlockID
	// numLayout is the number of blocks created by Build, the rest come from SplitEdge.
	numLayout int
}

// Build partitions instrs into basic blocks and computes the dominator tree and loop nesting.
func Build(instrs []api.Instr) (*Graph, error) {
	n := len(instrs)
	leader := make([]bool, n+1)
	leader[0] = true
	// bad is the first branch leaving the stream. It is reported once its block is known.
	bad := -1
	for i := range instrs {
		in := &instrs[i]
		switch {
		case in.IsJump():
			if in.Target < 0 || in.Target >= n {
				if bad < 0 {
					bad = i
				}
			} else {
				leader[in.Target] = true
			}
			leader[i+1] = true
		case in.IsReturn():
			leader[i+1] = true
		}
	}

	g := &Graph{blockOf: make([]BlockID, n)}
	for i := 0; i < n || i == 0; i++ {
		if leader[i] {
			g.Blocks = append(g.Blocks, Block{ID: BlockID(len(g.Blocks)), Begin: i, End: i})
		}
		if i < n {
			cur := &g.Blocks[len(g.Blocks)-1]
			cur.End = i + 1
			g.blockOf[i] = cur.ID
		}
	}
	if bad >= 0 {
		return nil, &api.Error{
			Kind: api.KindLabelOutOfRange, Instr: bad, Block: int(g.blockOf[bad]),
			Msg: fmt.Sprintf("target %d outside [0, %d)", instrs[bad].Target, n),
		}
	}
	g.Entry = 0
	g.Exit = BlockID(len(g.Blocks))
	g.Blocks = append(g.Blocks, Block{ID: g.Exit, Begin: n, End: n})
	g.numLayout = len(g.Blocks)

	for id := range g.Blocks[:g.Exit] {
		b := &g.Blocks[id]
		next := g.Exit
		if b.End < n {
			next = g.blockOf[b.End]
		}
		if b.Len() == 0 {
			b.addSucc(next)
			continue
		}
		last := &instrs[b.End-1]
		switch {
		case last.IsConditionalJump():
			b.addSucc(next)
			b.addSucc(g.blockOf[last.Target])
		case last.IsJump():
			b.addSucc(g.blockOf[last.Target])
		case last.IsReturn():
			b.addSucc(g.Exit)
		default:
			b.addSucc(next)
		}
	}
	g.linkPreds()
	g.analyze()

	if jitapi.CFGLoggingEnabled {
		fmt.Println(g.String())
	}
	return g, nil
}

func (g *Graph) linkPreds() {
	for id := range g.Blocks {
		g.Blocks[id].Preds = g.Blocks[id].Preds[:0]
	}
	for id := range g.Blocks {
		b := &g.Blocks[id]
		for _, s := range b.Successors() {
			g.Blocks[s].Preds = append(g.Blocks[s].Preds, b.ID)
		}
	}
}

// analyze computes the depth-first numbering, dominators and loops.
func (g *Graph) analyze() {
	g.depthFirstSearch()
	g.calculateDominators()
	g.detectLoops()
}

// Block returns the block with the given id.
func (g *Graph) Block(id BlockID) *Block { return &g.Blocks[id] }

// BlockOf returns the block containing the instruction at index i.
func (g *Graph) BlockOf(i int) BlockID { return g.blockOf[i] }

// NumLayoutBlocks returns the number of blocks in stream order, the exit block included.
// Blocks with larger ids were introduced by SplitEdge.
func (g *Graph) NumLayoutBlocks() int { return g.numLayout }

// SplitEdge inserts an empty block on the edge from -> from.Succs[succIndex] and returns it.
// The dominator tree is not updated: the new block is meant for code placement only.
func (g *Graph) SplitEdge(from BlockID, succIndex int) BlockID {
	to := g.Blocks[from].Succs[succIndex]
	id := BlockID(len(g.Blocks))
	f, t := &g.Blocks[from], &g.Blocks[to]
	g.Blocks = append(g.Blocks, Block{
		ID: id, Begin: t.Begin, End: t.Begin, Split: true,
		Succs: [2]BlockID{to, InvalidBlock}, NumSuccs: 1,
		Preds:     []BlockID{from},
		PreOrder:  -1, PostOrder: -1,
		Parent:    from,
		IDom:      from,
		LoopDepth: min(f.LoopDepth, t.LoopDepth),
	})
	g.Blocks[from].Succs[succIndex] = id
	preds := g.Blocks[to].Preds
	for i, p := range preds {
		if p == from {
			preds[i] = id
			break
		}
	}
	return id
}

// String implements fmt.Stringer.
func (g *Graph) String() string {
	var s string
	for id := range g.Blocks {
		b := &g.Blocks[id]
		s += fmt.Sprintf("blk%d [%d,%d) succs=%v preds=%v idom=%d depth=%d dead=%v\n",
			b.ID, b.Begin, b.End, b.Successors(), b.Preds, b.IDom, b.LoopDepth, b.Dead)
	}
	return s
}
