package outlierrejection

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/dronefleet/swarmloc/logging"
	"github.com/dronefleet/swarmloc/loopclosure"
)

// GraphStats counts the pair tests made while building a consistency graph.
type GraphStats struct {
	Pairs      int
	Compared   int
	Consistent int
	Failed     int
}

// BuildConsistencyGraph tests every pair of edges and links the consistent ones. Node ids are
// indices into edges. Pairs whose odometry cannot be queried are logged and left unlinked.
func BuildConsistencyGraph(
	edges []*loopclosure.Edge,
	checker *ConsistencyChecker,
	sink Sink,
	logger logging.Logger,
) (*simple.UndirectedGraph, GraphStats) {
	g := simple.NewUndirectedGraph()
	for i := range edges {
		g.AddNode(simple.Node(i))
	}
	var stats GraphStats
	for i := 0; i < len(edges); i++ {
		for j := i + 1; j < len(edges); j++ {
			stats.Pairs++
			res, err := checker.Check(edges[i], edges[j])
			if err != nil {
				stats.Failed++
				logger.Debugw("skipping loop edge pair", "first", edges[i].ID(), "second", edges[j].ID(), "error", err)
				continue
			}
			if !res.Compared {
				continue
			}
			stats.Compared++
			if sink != nil {
				sink.RecordPairError(res.First, res.Second, res.SquaredMahalanobis)
			}
			if res.Consistent {
				stats.Consistent++
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}
	return g, stats
}

// MaxCliqueHeuristic returns a large clique of g found greedily: every vertex that could still
// beat the best clique so far seeds a clique, which grows by repeatedly taking the
// highest degree candidate adjacent to all members. Ties go to the lowest id. A graph with nodes
// but no edges yields a single vertex.
func MaxCliqueHeuristic(g graph.Undirected) []int64 {
	nodes := graph.NodesOf(g.Nodes())
	ids := make([]int64, len(nodes))
	degree := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
		degree[n.ID()] = g.From(n.ID()).Len()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var best []int64
	for _, v := range ids {
		if len(best) > 0 && degree[v] < len(best) {
			continue
		}
		var candidates []int64
		for _, u := range graph.NodesOf(g.From(v)) {
			if degree[u.ID()] >= len(best) {
				candidates = append(candidates, u.ID())
			}
		}
		clique := []int64{v}
		for len(candidates) > 0 {
			pick := 0
			for k, u := range candidates {
				if degree[u] > degree[candidates[pick]] ||
					(degree[u] == degree[candidates[pick]] && u < candidates[pick]) {
					pick = k
				}
			}
			u := candidates[pick]
			clique = append(clique, u)
			next := candidates[:0:0]
			for _, w := range candidates {
				if w != u && g.HasEdgeBetween(u, w) && degree[w] >= len(best) {
					next = append(next, w)
				}
			}
			candidates = next
		}
		if len(clique) > len(best) {
			best = clique
		}
	}
	return best
}

// MaxCliqueExact returns a maximum clique of g, in ascending id order. Among cliques of equal size
// the one with the lexicographically smallest ids wins.
func MaxCliqueExact(g graph.Undirected) []int64 {
	var best []int64
	for _, clique := range topo.BronKerbosch(g) {
		ids := make([]int64, len(clique))
		for i, n := range clique {
			ids[i] = n.ID()
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) > len(best) || (len(ids) == len(best) && lexLess(ids, best)) {
			best = ids
		}
	}
	return best
}

func lexLess(a, b []int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// IsClique returns whether every pair of ids is linked in g.
func IsClique(g graph.Undirected, ids []int64) bool {
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			if !g.HasEdgeBetween(ids[i], ids[j]) {
				return false
			}
		}
	}
	return true
}
