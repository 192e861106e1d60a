package dual

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

// Levels is the instance hierarchy below a root cell, one slice of cell
// names per depth. A cell appears at the first depth it is reached.
type Levels struct {
	Root   string
	Levels [][]string
}

// HierarchyLevels walks the active instances breadth first from root.
func HierarchyLevels(root *model.Descriptor) Levels {
	visited := map[*model.Descriptor]bool{root: true}
	frontier := []*model.Descriptor{root}
	var levels [][]string

	for len(frontier) > 0 {
		var next []*model.Descriptor
		for _, d := range frontier {
			for _, m := range d.Masters() {
				if visited[m] {
					continue
				}
				visited[m] = true
				next = append(next, m)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Slice(next, func(i, j int) bool { return next[i].Cell < next[j].Cell })
		names := make([]string, len(next))
		for i, d := range next {
			names[i] = d.Cell
		}
		levels = append(levels, names)
		frontier = next
	}

	return Levels{Root: root.Cell, Levels: levels}
}

// Cells returns every cell in top-down order, root first.
func (l Levels) Cells() []string {
	out := []string{l.Root}
	for _, level := range l.Levels {
		out = append(out, level...)
	}
	return out
}

func (l Levels) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s\n", l.Root))
	for i, level := range l.Levels {
		b.WriteString(fmt.Sprintf("    level %d (%d): %s\n", i+1, len(level), strings.Join(level, ", ")))
	}
	return b.String()
}
