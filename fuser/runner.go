package fuser

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/logging"
)

// Runner drives a Fuser from a background goroutine, solving on a fixed period. Ticks may be
// added from any goroutine; they are serialized with the solves.
type Runner struct {
	mu      sync.Mutex
	fuser   *Fuser
	monitor *CostMonitor
	logger  logging.Logger
	clock   clock.Clock
	period  time.Duration

	staleThreshold float64
	stale          bool

	loopMu  sync.Mutex
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// ErrRunnerStarted is returned by Start while a solve loop is running.
var ErrRunnerStarted = errors.New("runner already started")

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = clk
	}
}

// WithCostMonitor records every solve cost in monitor and warns once its window turns stale above
// threshold.
func WithCostMonitor(monitor *CostMonitor, threshold float64) RunnerOption {
	return func(r *Runner) {
		r.monitor = monitor
		r.staleThreshold = threshold
	}
}

// NewRunner returns a stopped runner solving every cfg.SolvePeriodMs.
func NewRunner(f *Fuser, logger logging.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		fuser:  f,
		logger: logger,
		clock:  clock.New(),
		period: time.Duration(f.cfg.SolvePeriodMs) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the solve loop. It runs until ctx is done or Stop is called, and must be stopped
// before it can start again.
func (r *Runner) Start(ctx context.Context) error {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.cancel != nil {
		return ErrRunnerStarted
	}
	ctx, r.cancel = context.WithCancel(ctx)
	// The ticker must exist once Start returns.
	ticker := r.clock.Ticker(r.period)
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Solve(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the solve loop and waits for it to exit.
func (r *Runner) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.workers.Wait()
}

// AddTick forwards to Fuser.AddTick.
func (r *Runner) AddTick(
	distances [][]float64,
	positions, velocities []r3.Vector,
	orientations []quat.Number,
	ids []int,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fuser.AddTick(distances, positions, velocities, orientations, ids)
}

// Solve runs one solve now and returns the normalized cost.
func (r *Runner) Solve(ctx context.Context) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.fuser.SolveCount()
	start := r.clock.Now()
	cost := r.fuser.Solve(ctx)
	if r.fuser.SolveCount() == before {
		return cost
	}
	r.logger.Debugw("solved", "cost", cost, "elapsed", r.clock.Since(start), "state", r.fuser.State())
	if r.monitor != nil {
		r.monitor.Add(cost)
		stale := r.monitor.Stale(r.staleThreshold)
		if stale && !r.stale {
			median, _ := r.monitor.Median()
			r.logger.Warnw("swarm cost is not improving", "median_cost", median, "threshold", r.staleThreshold)
		}
		r.stale = stale
	}
	return cost
}

// State returns the fuser phase.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fuser.State()
}

// Estimate returns the last exported estimate.
func (r *Runner) Estimate() Estimate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fuser.Estimate()
}
