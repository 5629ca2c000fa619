package cfg

// depthFirstSearch numbers the reachable blocks in preorder and postorder and records the tree parents.
// Blocks not reached from the entry are marked dead.
func (g *Graph) depthFirstSearch() {
	for id := range g.Blocks {
		b := &g.Blocks[id]
		b.PreOrder, b.PostOrder = -1, -1
		b.Parent, b.IDom = InvalidBlock, InvalidBlock
		b.LoopDepth, b.LoopHeader = 0, false
	}
	g.PostOrder = g.PostOrder[:0]

	type blockAndIndex struct {
		b    BlockID
		next int
	}
	pre := 0
	g.Blocks[g.Entry].PreOrder = pre
	pre++
	stack := []blockAndIndex{{b: g.Entry}}
	for len(stack) > 0 {
		tail := len(stack) - 1
		cur := stack[tail]
		blk := &g.Blocks[cur.b]
		if cur.next < blk.NumSuccs {
			stack[tail].next++
			succ := &g.Blocks[blk.Succs[cur.next]]
			if succ.PreOrder < 0 {
				succ.PreOrder = pre
				pre++
				succ.Parent = cur.b
				stack = append(stack, blockAndIndex{b: succ.ID})
			}
			continue
		}
		stack = stack[:tail]
		blk.PostOrder = len(g.PostOrder)
		g.PostOrder = append(g.PostOrder, cur.b)
	}

	g.ReversePostOrder = g.ReversePostOrder[:0]
	for i := len(g.PostOrder) - 1; i >= 0; i-- {
		g.ReversePostOrder = append(g.ReversePostOrder, g.PostOrder[i])
	}
	for id := range g.Blocks {
		g.Blocks[id].Dead = g.Blocks[id].PreOrder < 0
	}
}

// calculateDominators computes immediate dominators with the Lengauer-Tarjan algorithm
// (the simple variant with path compression). Every step is iterative so deep graphs
// do not grow the goroutine stack.
//
// All arrays are indexed by preorder number.
func (g *Graph) calculateDominators() {
	n := len(g.PostOrder)
	if n == 0 {
		return
	}
	vertex := make([]BlockID, n)
	for id := range g.Blocks {
		if p := g.Blocks[id].PreOrder; p >= 0 {
			vertex[p] = BlockID(id)
		}
	}

	const none = -1
	parent := make([]int, n)
	semi := make([]int, n)
	ancestor := make([]int, n)
	label := make([]int, n)
	idom := make([]int, n)
	bucket := make([][]int, n)
	for v := 0; v < n; v++ {
		semi[v], label[v], ancestor[v] = v, v, none
		if p := g.Blocks[vertex[v]].Parent; p != InvalidBlock {
			parent[v] = g.Blocks[p].PreOrder
		} else {
			parent[v] = none
		}
	}

	var path []int
	compress := func(v int) {
		path = path[:0]
		for x := v; ancestor[ancestor[x]] != none; x = ancestor[x] {
			path = append(path, x)
		}
		for i := len(path) - 1; i >= 0; i-- {
			x := path[i]
			a := ancestor[x]
			if semi[label[a]] < semi[label[x]] {
				label[x] = label[a]
			}
			ancestor[x] = ancestor[a]
		}
	}
	eval := func(v int) int {
		if ancestor[v] == none {
			return v
		}
		compress(v)
		return label[v]
	}

	for w := n - 1; w >= 1; w-- {
		for _, pred := range g.Blocks[vertex[w]].Preds {
			v := g.Blocks[pred].PreOrder
			if v < 0 {
				continue
			}
			if u := eval(v); semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}
		bucket[semi[w]] = append(bucket[semi[w]], w)
		p := parent[w]
		ancestor[w] = p
		for _, v := range bucket[p] {
			if u := eval(v); semi[u] < semi[v] {
				idom[v] = u
			} else {
				idom[v] = p
			}
		}
		bucket[p] = bucket[p][:0]
	}
	for w := 1; w < n; w++ {
		if idom[w] != semi[w] {
			idom[w] = idom[idom[w]]
		}
	}

	for w := 1; w < n; w++ {
		g.Blocks[vertex[w]].IDom = vertex[idom[w]]
	}
}

// Dominates returns true if every path from the entry to b passes through a. A block dominates itself.
func (g *Graph) Dominates(a, b BlockID) bool {
	if g.Blocks[a].Dead || g.Blocks[b].Dead {
		return false
	}
	for x := b; x != InvalidBlock; x = g.Blocks[x].IDom {
		if x == a {
			return true
		}
	}
	return false
}
