// Package depgraph resolves a package's transitive dependency set and
// orders it for building (spec.md §4.5): three-color depth-first search,
// sibling recipes loaded concurrently, cycles rejected outright.
package depgraph

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/recipe"
)

// color is a node's DFS visitation state.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// Graph is every recipe reachable from a set of roots, keyed by full name
// ("category/name").
type Graph struct {
	Tree  string
	Metas map[string]recipe.Meta
}

// Resolve loads roots and every package they transitively depend on,
// fetching sibling recipes concurrently via errgroup since recipe parsing
// is pure I/O with no shared mutable state until results are merged.
func Resolve(ctx context.Context, tree string, roots []string) (*Graph, error) {
	g := &Graph{Tree: tree, Metas: map[string]recipe.Meta{}}

	seen := map[string]bool{}
	frontier := append([]string(nil), roots...)

	for len(frontier) > 0 {
		var next []string
		metas := make([]recipe.Meta, len(frontier))
		errs := make([]error, len(frontier))

		eg, egctx := errgroup.WithContext(ctx)
		for i, full := range frontier {
			i, full := i, full
			eg.Go(func() error {
				if err := egctx.Err(); err != nil {
					return err
				}
				m, _, err := recipe.Load(tree, full)
				if err != nil {
					errs[i] = err
					return nil
				}
				metas[i] = m
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		for i, full := range frontier {
			if errs[i] != nil {
				return nil, errs[i]
			}
			if seen[full] {
				continue
			}
			seen[full] = true
			g.Metas[full] = metas[i]
			for _, dep := range metas[i].Depends {
				if !seen[dep] {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	return g, nil
}

// TopoSort orders the graph's packages so that every dependency precedes
// its dependents, using the same three-color DFS as the original
// prototype's topo_sort(). A cycle produces a srcpkg.KindCycle error naming
// the offending package.
func (g *Graph) TopoSort(roots []string) ([]string, error) {
	colors := map[string]color{}
	var order []string

	// Visit deterministically regardless of map iteration order.
	sortedRoots := append([]string(nil), roots...)
	sort.Strings(sortedRoots)

	var visit func(full string) error
	visit = func(full string) error {
		switch colors[full] {
		case black:
			return nil
		case gray:
			return srcpkg.New(srcpkg.KindCycle, "dependency cycle detected at %s", full)
		}
		colors[full] = gray

		m, ok := g.Metas[full]
		if !ok {
			return srcpkg.New(srcpkg.KindNotFound, "dependency %s not found in resolved graph", full)
		}
		deps := append([]string(nil), m.Depends...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		colors[full] = black
		order = append(order, full)
		return nil
	}

	for _, r := range sortedRoots {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ResolveAndOrder is the common entry point: resolve roots' transitive
// closure, then topologically order the whole graph.
func ResolveAndOrder(ctx context.Context, tree string, roots []string) (*Graph, []string, error) {
	g, err := Resolve(ctx, tree, roots)
	if err != nil {
		return nil, nil, err
	}
	order, err := g.TopoSort(roots)
	if err != nil {
		return nil, nil, err
	}
	return g, order, nil
}
