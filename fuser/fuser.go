// Package fuser estimates the position, velocity and orientation of every drone in a swarm in the
// odometry frame of one estimating drone, from inter-drone distances and each drone's own
// odometry. The unknowns are the (x, y, z, yaw) offsets of every other drone's odometry frame,
// solved over a sliding window of keyframes.
package fuser

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/logging"
	"github.com/dronefleet/swarmloc/solver"
)

// State is the phase of the fuser.
type State int

const (
	// Collecting means too few keyframes have been buffered to solve.
	Collecting State = iota
	// Initializing means no accepted solution covers every observed drone yet.
	Initializing
	// Tracking means the fuser refines the current solution on each new keyframe.
	Tracking
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Initializing:
		return "initializing"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EstimateCallback receives the latest estimate keyed by drone id, in the estimating drone's frame.
type EstimateCallback func(positions, velocities map[int]r3.Vector, orientations map[int]quat.Number)

// Estimate is one exported snapshot of the swarm.
type Estimate struct {
	Positions    map[int]r3.Vector
	Velocities   map[int]r3.Vector
	Orientations map[int]quat.Number
}

// Option configures a Fuser.
type Option func(*Fuser)

// WithEstimateCallback registers cb to run after every exported estimate.
func WithEstimateCallback(cb EstimateCallback) Option {
	return func(f *Fuser) {
		f.callback = cb
	}
}

// Fuser maintains the keyframe buffer and the swarm state. It is not safe for concurrent use; see
// Runner for a serialized wrapper.
type Fuser struct {
	cfg    Config
	method solver.Method
	logger logging.Logger

	index     *IDIndex
	z         StateVector
	keyframes *keyframeRing

	hasNewKeyframe bool
	initialized    bool
	// solvedDrones is the number of slots covered by the accepted solution.
	solvedDrones int
	cost         float64
	solveCount   int
	lastSummary  solver.Summary
	estimate     Estimate

	rand     *rand.Rand
	callback EstimateCallback
	report   rate.Sometimes
}

// NewFuser returns a fuser estimating in the frame of cfg.SelfID.
func NewFuser(cfg Config, logger logging.Logger, opts ...Option) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fuser config")
	}
	method, err := solver.ParseMethod(cfg.SolverMethod)
	if err != nil {
		return nil, err
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	f := &Fuser{
		cfg:       cfg,
		method:    method,
		logger:    logger,
		index:     NewIDIndex(cfg.SelfID, cfg.MaxDrones),
		z:         NewStateVector(cfg.MaxDrones),
		keyframes: newKeyframeRing(cfg.KeyframeCapacity),
		rand:      rand.New(rand.NewSource(seed)),
		report:    rate.Sometimes{Every: 10},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// SetEstimateCallback replaces the estimate callback.
func (f *Fuser) SetEstimateCallback(cb EstimateCallback) {
	f.callback = cb
}

// AddTick offers one synchronized observation. It returns whether the tick was kept as a keyframe.
// Ticks that are not kept still refresh the exported estimate once a solution exists.
func (f *Fuser) AddTick(
	distances [][]float64,
	positions, velocities []r3.Vector,
	orientations []quat.Number,
	ids []int,
) (bool, error) {
	kf, err := NewKeyframe(distances, positions, velocities, orientations, ids)
	if err != nil {
		return false, err
	}
	if !f.isKeyframe(kf) {
		if f.solveCount > 0 {
			f.export(kf)
		}
		return false, nil
	}

	unseen := 0
	for _, id := range kf.IDs {
		if _, ok := f.index.Slot(id); !ok {
			unseen++
		}
	}
	if f.index.Len()+unseen > f.cfg.MaxDrones {
		return false, errors.Wrapf(ErrTooManyDrones, "%d known and %d new drones with %d slots",
			f.index.Len(), unseen, f.cfg.MaxDrones)
	}
	for _, id := range kf.IDs {
		if _, err := f.index.Assign(id); err != nil {
			return false, err
		}
	}
	f.keyframes.push(kf)
	f.hasNewKeyframe = true
	f.logger.Debugw("added keyframe", "drones", kf.Len(), "keyframes", f.keyframes.len())
	return true, nil
}

// isKeyframe keeps a tick when it sees at least two drones including the estimating one, and it
// is the first keyframe, sees more drones than the previous keyframe, or the estimating drone
// moved far enough since then.
func (f *Fuser) isKeyframe(kf *Keyframe) bool {
	if kf.Len() < 2 {
		return false
	}
	self := kf.IndexOf(f.cfg.SelfID)
	if self < 0 {
		return false
	}
	last := f.keyframes.latest()
	if last == nil {
		return true
	}
	if kf.Len() > last.Len() {
		return true
	}
	lastSelf := last.Positions[last.IndexOf(f.cfg.SelfID)]
	return kf.Positions[self].Sub(lastSelf).Norm() > f.cfg.MinAcceptKeyframeMovement
}

// Solve refines the swarm state when a new keyframe arrived and returns the normalized cost, the
// final solver cost divided by the number of keyframes used. While collecting, or when no
// keyframe arrived since the last solve, it returns the previous cost without doing work. A failed
// solve leaves the state untouched.
func (f *Fuser) Solve(ctx context.Context) float64 {
	if !f.hasNewKeyframe || f.keyframes.len() < f.cfg.MinFrameNumber {
		return f.cost
	}
	// A failed attempt waits for the next keyframe.
	f.hasNewKeyframe = false
	drones := f.index.Len()
	if !f.initialized || drones > f.solvedDrones {
		if !f.solveWithMultipleInit(ctx, drones) {
			f.logger.Infow("initialization not accepted yet", "drones", drones, "keyframes", f.keyframes.len())
			return f.cost
		}
		f.initialized = true
		f.solvedDrones = drones
		f.logger.Infow("swarm initialized", "drones", drones, "cost", f.cost)
	} else {
		trial := f.z.Clone()
		summary, frames, err := f.solveOnce(ctx, trial)
		if err != nil || !summary.Usable() {
			f.logger.Warnw("swarm solve failed", "error", err, "termination", summary.Termination)
			return f.cost
		}
		copy(f.z, trial)
		f.cost = summary.FinalCost / float64(frames)
	}

	f.solveCount++
	summary := f.lastSummary
	f.report.Do(func() {
		f.logger.Infow("swarm solve", "report", summary.BriefReport(), "cost", f.cost, "solves", f.solveCount)
	})
	f.export(f.keyframes.latest())
	return f.cost
}

// solveWithMultipleInit restarts the solve from random values of the drones not covered by the
// current solution. A trial is accepted when its cost beats the bound, which then tightens to that
// cost. It stops at the first accepted trial from attempt init_min_attempts on.
func (f *Fuser) solveWithMultipleInit(ctx context.Context, drones int) bool {
	bound := float64(drones*drones) * f.cfg.ExpectedCostPerDroneSquared
	first := f.solvedDrones
	if first < 1 {
		first = 1
	}
	accepted := false
	for attempt := 1; attempt <= f.cfg.InitMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		trial := f.z.Clone()
		for slot := first; slot < drones; slot++ {
			trial.Set(slot, r3.Vector{
				X: f.uniform(f.cfg.InitPositionBound),
				Y: f.uniform(f.cfg.InitPositionBound),
				Z: f.uniform(f.cfg.InitPositionBound),
			}, f.rand.Float64()*2*math.Pi)
		}
		summary, frames, err := f.solveOnce(ctx, trial)
		if err != nil || !summary.Usable() {
			f.logger.Debugw("initialization attempt failed", "attempt", attempt, "error", err)
			continue
		}
		f.logger.Debugw("initialization attempt", "attempt", attempt, "cost", summary.FinalCost, "bound", bound)
		if summary.FinalCost >= bound {
			continue
		}
		copy(f.z, trial)
		bound = summary.FinalCost
		f.cost = summary.FinalCost / float64(frames)
		accepted = true
		if attempt >= f.cfg.InitMinAttempts {
			return true
		}
	}
	return accepted
}

func (f *Fuser) uniform(bound float64) float64 {
	return (2*f.rand.Float64() - 1) * bound
}

// solveOnce optimizes z in place over the newest keyframes and returns the number of keyframes
// used.
func (f *Fuser) solveOnce(ctx context.Context, z StateVector) (solver.Summary, int, error) {
	window := f.keyframes.last(f.cfg.MaxFrameNumber)
	problem := solver.NewProblem(len(z))
	for _, kf := range window {
		residual, err := NewDistanceResidual(kf, f.index)
		if err != nil {
			return solver.Summary{}, 0, err
		}
		if err := problem.AddResidualBlock(residual); err != nil {
			return solver.Summary{}, 0, err
		}
	}
	opts := solver.DefaultOptions()
	opts.Method = f.method
	opts.MaxIterations = f.cfg.MaxIterations
	opts.NumThreads = f.cfg.ThreadNum
	summary, err := solver.Solve(ctx, problem, z, opts)
	z.WrapYaws()
	f.lastSummary = summary
	return summary, len(window), err
}

// export publishes the estimate of every solved drone in kf.
func (f *Fuser) export(kf *Keyframe) {
	est := Estimate{
		Positions:    make(map[int]r3.Vector, kf.Len()),
		Velocities:   make(map[int]r3.Vector, kf.Len()),
		Orientations: make(map[int]quat.Number, kf.Len()),
	}
	for i, id := range kf.IDs {
		slot, ok := f.index.Slot(id)
		if !ok || slot >= f.solvedDrones {
			continue
		}
		est.Positions[id] = EstimatePosition(slot, f.z, kf.Positions[i])
		est.Velocities[id] = EstimateVelocity(slot, f.z, kf.Velocities[i])
		est.Orientations[id] = EstimateOrientation(slot, f.z, kf.Orientations[i])
	}
	f.estimate = est
	if f.callback != nil {
		f.callback(est.Positions, est.Velocities, est.Orientations)
	}
}

// State returns the current phase.
func (f *Fuser) State() State {
	switch {
	case f.keyframes.len() < f.cfg.MinFrameNumber:
		return Collecting
	case !f.initialized || f.index.Len() > f.solvedDrones:
		return Initializing
	default:
		return Tracking
	}
}

// Cost returns the last normalized cost.
func (f *Fuser) Cost() float64 {
	return f.cost
}

// LastSummary returns the summary of the most recent solver run.
func (f *Fuser) LastSummary() solver.Summary {
	return f.lastSummary
}

// Estimate returns the last exported estimate.
func (f *Fuser) Estimate() Estimate {
	return f.estimate
}

// KeyframeCount returns the number of buffered keyframes.
func (f *Fuser) KeyframeCount() int {
	return f.keyframes.len()
}

// DroneIDs returns the ids that own a state slot, in slot order.
func (f *Fuser) DroneIDs() []int {
	return f.index.IDs()
}

// StateVector returns a copy of the unknowns.
func (f *Fuser) StateVector() StateVector {
	return f.z.Clone()
}

// RelativeFrame returns the yaw and translation of drone id's odometry frame in the estimating
// drone's frame. It reports false until a solution covers the drone.
func (f *Fuser) RelativeFrame(id int) (float64, r3.Vector, bool) {
	slot, ok := f.index.Slot(id)
	if !ok || slot >= f.solvedDrones {
		return 0, r3.Vector{}, false
	}
	return f.z.Yaw(slot), f.z.Translation(slot), true
}

// SolveCount returns the number of solves that produced an estimate.
func (f *Fuser) SolveCount() int {
	return f.solveCount
}
