package cfg

import "github.com/vapoursynth/jitasm/internal/bitset"

// loopFrequency is the estimated execution count of a block by loop depth.
var loopFrequency = [...]int64{1, 8, 64, 512, 4096}

// LoopFrequency returns the execution weight used for blocks nested depth loops deep.
func LoopFrequency(depth int) int64 {
	if depth >= len(loopFrequency) {
		depth = len(loopFrequency) - 1
	}
	return loopFrequency[depth]
}

// detectLoops finds backedges u->w where w dominates u and increments the loop depth of
// every block of the natural loop of w. Loops sharing a header are merged first.
func (g *Graph) detectLoops() {
	bodies := map[BlockID]*bitset.Set{}
	var headers []BlockID
	var work []BlockID
	for _, u := range g.ReversePostOrder {
		ub := &g.Blocks[u]
		for _, w := range ub.Successors() {
			wb := &g.Blocks[w]
			if wb.PreOrder > ub.PreOrder || !g.Dominates(w, u) {
				continue
			}
			body, ok := bodies[w]
			if !ok {
				body = &bitset.Set{}
				body.Add(int(w))
				bodies[w] = body
				headers = append(headers, w)
				wb.LoopHeader = true
			}
			// Walk backwards from the tail until the header.
			work = append(work[:0], u)
			for len(work) > 0 {
				x := work[len(work)-1]
				work = work[:len(work)-1]
				if body.Has(int(x)) {
					continue
				}
				body.Add(int(x))
				for _, p := range g.Blocks[x].Preds {
					if !g.Blocks[p].Dead && !body.Has(int(p)) {
						work = append(work, p)
					}
				}
			}
		}
	}
	for _, h := range headers {
		bodies[h].Range(func(id int) {
			g.Blocks[id].LoopDepth++
		})
	}
}
