package outlierrejection

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/dronefleet/swarmloc/logging"
	"github.com/dronefleet/swarmloc/loopclosure"
)

// Rejector selects the mutually consistent loop edges of a pool.
type Rejector struct {
	cfg     Config
	checker *ConsistencyChecker
	sink    Sink
	logger  logging.Logger
}

// Option configures a Rejector.
type Option func(*Rejector)

// WithSink sends diagnostics to sink. Which records are sent is controlled by the debug flags of
// the config.
func WithSink(sink Sink) Option {
	return func(r *Rejector) {
		r.sink = sink
	}
}

// NewRejector returns a rejector reading odometry from egoMotion.
func NewRejector(cfg Config, egoMotion EgoMotion, logger logging.Logger, opts ...Option) (*Rejector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CliqueMethod == "" {
		cfg.CliqueMethod = CliqueHeuristic
	}
	r := &Rejector{
		cfg:     cfg,
		checker: NewConsistencyChecker(egoMotion, cfg.Threshold()),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Checker returns the pair checker used by the rejector.
func (r *Rejector) Checker() *ConsistencyChecker {
	return r.checker
}

type dronePair struct {
	a, b int
}

// RejectOutliers returns the edges that survive. Edges are grouped per drone for intra-robot loops
// and per unordered drone pair for inter-robot loops; each group keeps its maximum consistent
// clique and the survivors of all groups are concatenated, intra groups first, each in ascending
// key order. With PCM disabled every edge is returned unchanged.
func (r *Rejector) RejectOutliers(edges []*loopclosure.Edge) []*loopclosure.Edge {
	if !r.cfg.EnablePCM {
		return append([]*loopclosure.Edge(nil), edges...)
	}
	start := time.Now()

	intra := map[int][]*loopclosure.Edge{}
	inter := map[dronePair][]*loopclosure.Edge{}
	for _, e := range edges {
		if !e.IsInterLoop() {
			intra[e.DroneA()] = append(intra[e.DroneA()], e)
			continue
		}
		key := dronePair{min(e.DroneA(), e.DroneB()), max(e.DroneA(), e.DroneB())}
		inter[key] = append(inter[key], e)
	}

	intraKeys := lo.Keys(intra)
	sort.Ints(intraKeys)
	interKeys := lo.Keys(inter)
	sort.Slice(interKeys, func(i, j int) bool {
		if interKeys[i].a != interKeys[j].a {
			return interKeys[i].a < interKeys[j].a
		}
		return interKeys[i].b < interKeys[j].b
	})

	var good []*loopclosure.Edge
	for _, id := range intraKeys {
		kept := r.rejectGroup(intra[id])
		r.logger.Debugw("intra loop group", "drone", id, "edges", len(intra[id]), "kept", len(kept))
		good = append(good, kept...)
	}
	for _, key := range interKeys {
		kept := r.rejectGroup(inter[key])
		r.logger.Debugw("inter loop group", "drone_a", key.a, "drone_b", key.b, "edges", len(inter[key]), "kept", len(kept))
		good = append(good, kept...)
	}

	if r.sink != nil {
		gated := gatedSink{sink: r.sink, goodEdges: r.cfg.DebugWritePCMGood}
		for _, e := range good {
			gated.RecordGoodEdge(e.ID())
		}
	}
	r.logger.Infow("outlier rejection done",
		"edges", len(edges), "good", len(good),
		"intra_groups", len(intraKeys), "inter_groups", len(interKeys),
		"duration", time.Since(start))
	return good
}

func (r *Rejector) rejectGroup(group []*loopclosure.Edge) []*loopclosure.Edge {
	var sink Sink
	if r.sink != nil && r.cfg.DebugWritePCMErrors {
		sink = gatedSink{sink: r.sink, errors: true}
	}
	g, stats := BuildConsistencyGraph(group, r.checker, sink, r.logger)
	if stats.Failed > 0 {
		r.logger.Warnw("loop edge pairs could not be checked", "failed", stats.Failed, "pairs", stats.Pairs)
	}

	var clique []int64
	switch r.cfg.CliqueMethod {
	case CliqueExact:
		clique = MaxCliqueExact(g)
	case CliqueHeuristic:
		clique = MaxCliqueHeuristic(g)
	default:
		clique = MaxCliqueHeuristic(g)
	}
	return lo.Map(clique, func(idx int64, _ int) *loopclosure.Edge { return group[idx] })
}
