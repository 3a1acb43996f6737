package depgraph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/srcpkg/srcpkg"
)

// Levels groups order into batches suitable for concurrent building: every
// package in a batch depends only on packages in earlier batches, so a
// caller can build a whole batch with a bounded worker pool and move to the
// next only once it finishes. This mirrors the level-by-level parallel
// scheduling the teacher's batch package builds using a gonum directed
// graph and topo.TarjanSCC for cycle detection; here gonum's SCC finder
// doubles as a second, independent cycle check alongside TopoSort's DFS.
func (g *Graph) Levels(order []string) ([][]string, error) {
	ids := make(map[string]int64, len(order))
	names := make([]string, len(order))
	for i, full := range order {
		ids[full] = int64(i)
		names[i] = full
	}

	dg := simple.NewDirectedGraph()
	for _, id := range ids {
		dg.AddNode(simple.Node(id))
	}
	for _, full := range order {
		for _, dep := range g.Metas[full].Depends {
			depID, ok := ids[dep]
			if !ok {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(depID), simple.Node(ids[full])))
		}
	}

	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) > 1 {
			return nil, srcpkg.New(srcpkg.KindCycle, "dependency cycle among %d packages", len(scc))
		}
	}

	level := make([]int, len(order))
	for i, full := range order {
		max := -1
		for _, dep := range g.Metas[full].Depends {
			if depIdx, ok := ids[dep]; ok && level[depIdx] > max {
				max = level[depIdx]
			}
		}
		level[i] = max + 1
	}

	var levels [][]string
	for i, full := range order {
		l := level[i]
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], full)
	}
	for _, batch := range levels {
		sort.Strings(batch)
	}
	return levels, nil
}
