package cfg

import (
	"bufio"
	"fmt"
	"io"
)

// WriteDot writes the graph in Graphviz format. annotate, if non-nil, returns extra label lines for a block.
func (g *Graph) WriteDot(w io.Writer, annotate func(BlockID) string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph cfg {")
	fmt.Fprintln(bw, "\tnode [shape=box fontname=monospace];")
	for id := range g.Blocks {
		b := &g.Blocks[id]
		label := fmt.Sprintf("blk%d [%d,%d)\\ldepth=%d", b.ID, b.Begin, b.End, b.LoopDepth)
		switch {
		case b.ID == g.Entry:
			label += " entry"
		case b.ID == g.Exit:
			label += " exit"
		}
		if annotate != nil {
			if extra := annotate(b.ID); extra != "" {
				label += "\\l" + extra
			}
		}
		style := ""
		if b.Dead {
			style = " style=dashed"
		}
		fmt.Fprintf(bw, "\tblk%d [label=\"%s\\l\"%s];\n", b.ID, label, style)
	}
	for id := range g.Blocks {
		b := &g.Blocks[id]
		for i, s := range b.Successors() {
			attr := ""
			if b.NumSuccs == 2 && i == 1 {
				attr = " [label=\"taken\"]"
			}
			fmt.Fprintf(bw, "\tblk%d -> blk%d%s;\n", b.ID, s, attr)
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
