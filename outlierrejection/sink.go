package outlierrejection

// Sink receives diagnostics from outlier rejection for offline inspection.
type Sink interface {
	// RecordPairError is called with the squared Mahalanobis distance of every compared pair.
	RecordPairError(first, second int64, squaredMahalanobis float64)
	// RecordGoodEdge is called for every edge kept.
	RecordGoodEdge(id int64)
}

// NopSink discards everything.
type NopSink struct{}

// RecordPairError does nothing.
func (NopSink) RecordPairError(int64, int64, float64) {}

// RecordGoodEdge does nothing.
func (NopSink) RecordGoodEdge(int64) {}

// gatedSink forwards only the record kinds enabled in the config.
type gatedSink struct {
	sink      Sink
	errors    bool
	goodEdges bool
}

func (g gatedSink) RecordPairError(first, second int64, smd float64) {
	if g.errors {
		g.sink.RecordPairError(first, second, smd)
	}
}

func (g gatedSink) RecordGoodEdge(id int64) {
	if g.goodEdges {
		g.sink.RecordGoodEdge(id)
	}
}
