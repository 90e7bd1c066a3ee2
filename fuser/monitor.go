package fuser

import (
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// CostMonitor keeps a window of recent normalized costs.
type CostMonitor struct {
	mu     sync.Mutex
	window int
	costs  []float64
}

// NewCostMonitor returns a monitor over the last window costs.
func NewCostMonitor(window int) *CostMonitor {
	if window < 2 {
		window = 2
	}
	return &CostMonitor{window: window}
}

// Add records a cost, dropping the oldest once the window is full.
func (m *CostMonitor) Add(cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, cost)
	if len(m.costs) > m.window {
		m.costs = m.costs[len(m.costs)-m.window:]
	}
}

// Len returns the number of costs held.
func (m *CostMonitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.costs)
}

func (m *CostMonitor) snapshot() stats.Float64Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(stats.Float64Data(nil), m.costs...)
}

// Mean returns the mean cost of the window.
func (m *CostMonitor) Mean() (float64, error) {
	return stats.Mean(m.snapshot())
}

// Median returns the median cost of the window.
func (m *CostMonitor) Median() (float64, error) {
	return stats.Median(m.snapshot())
}

// Trend returns the least squares slope of cost per solve over the window.
func (m *CostMonitor) Trend() (float64, error) {
	data := m.snapshot()
	if len(data) < 2 {
		return 0, errors.New("need at least two costs for a trend")
	}
	series := make(stats.Series, len(data))
	for i, c := range data {
		series[i] = stats.Coordinate{X: float64(i), Y: c}
	}
	fit, err := stats.LinearRegression(series)
	if err != nil {
		return 0, err
	}
	first, last := fit[0], fit[len(fit)-1]
	return (last.Y - first.Y) / (last.X - first.X), nil
}

// Stale reports whether the window is full, its median cost is above threshold and the cost is
// not decreasing.
func (m *CostMonitor) Stale(threshold float64) bool {
	if m.Len() < m.window {
		return false
	}
	median, err := m.Median()
	if err != nil || median <= threshold {
		return false
	}
	trend, err := m.Trend()
	return err == nil && trend >= 0
}
