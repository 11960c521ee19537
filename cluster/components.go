package cluster

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Edge connects two adjacent geometries by primary key.
type Edge struct {
	Start int64
	End   int64
}

// Components groups ids into the connected components of the undirected graph
// formed by edges. Ids without edges form singleton components, edge ends that
// are not in ids are added as nodes. Members are sorted and components are
// ordered by their smallest member, so the result is deterministic.
func Components(ids []int64, edges []Edge) [][]int64 {
	g := simple.NewUndirectedGraph()

	addNode := func(id int64) {
		if g.Node(id) == nil {
			g.AddNode(simple.Node(id))
		}
	}

	for _, id := range ids {
		addNode(id)
	}

	for _, e := range edges {
		addNode(e.Start)
		addNode(e.End)
		if e.Start == e.End {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(e.Start), simple.Node(e.End)))
	}

	components := topo.ConnectedComponents(g)

	groups := make([][]int64, 0, len(components))
	for _, c := range components {
		members := make([]int64, len(c))
		for i, n := range c {
			members[i] = n.ID()
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		groups = append(groups, members)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}
