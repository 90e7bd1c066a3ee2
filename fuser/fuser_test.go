package fuser

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/logging"
	"github.com/dronefleet/swarmloc/spatialmath"
	"github.com/dronefleet/swarmloc/testutils"
)

func addSimTick(t *testing.T, f *Fuser, tick testutils.Tick) bool {
	t.Helper()
	ok, err := f.AddTick(tick.Distances, tick.Positions, tick.Velocities, tick.Orientations, tick.IDs)
	test.That(t, err, test.ShouldBeNil)
	return ok
}

// recoveryConfig makes multi-start acceptance strict enough that only the exact solution of
// noiseless ticks passes.
func recoveryConfig() Config {
	cfg := testConfig()
	cfg.SelfID = 0
	cfg.MaxDrones = 3
	cfg.InitPositionBound = 10
	cfg.InitMinAttempts = 1
	cfg.InitMaxAttempts = 40
	cfg.ExpectedCostPerDroneSquared = 1e-6
	return cfg
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.SelfID = -1
	cfg.MaxFrameNumber = 0
	cfg.MaxDrones = 1
	cfg.SolverMethod = "newton"
	cfg.InitMinAttempts = 20
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, multierr.Errors(err), test.ShouldHaveLength, 5)

	_, err = NewFuser(cfg, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestThreeDronesAtEqualDistance(t *testing.T) {
	for _, method := range []string{"levenberg_marquardt", "bfgs"} {
		t.Run(method, func(t *testing.T) {
			cfg := testConfig()
			cfg.SelfID = 1
			cfg.MinFrameNumber = 1
			cfg.MaxDrones = 4
			cfg.SolverMethod = method

			var calls int
			var positions map[int]r3.Vector
			f := newTestFuser(t, cfg, WithEstimateCallback(func(p, _ map[int]r3.Vector, _ map[int]quat.Number) {
				calls++
				positions = p
			}))

			tick := func() bool {
				ok, err := f.AddTick(uniformTick(r3.Vector{}, 5, 1, 2, 3))
				test.That(t, err, test.ShouldBeNil)
				return ok
			}
			test.That(t, tick(), test.ShouldBeTrue)
			test.That(t, f.State(), test.ShouldEqual, Initializing)

			cost := f.Solve(context.Background())
			bound := 9 * cfg.ExpectedCostPerDroneSquared
			test.That(t, cost, test.ShouldBeLessThan, bound)
			test.That(t, f.State(), test.ShouldEqual, Tracking)
			test.That(t, calls, test.ShouldEqual, 1)
			test.That(t, positions, test.ShouldHaveLength, 3)
			if method == "levenberg_marquardt" {
				test.That(t, positions[2].Sub(positions[1]).Norm(), test.ShouldAlmostEqual, 5, 1e-3)
				test.That(t, positions[3].Sub(positions[1]).Norm(), test.ShouldAlmostEqual, 5, 1e-3)
				test.That(t, positions[2].Sub(positions[3]).Norm(), test.ShouldAlmostEqual, 5, 1e-3)
			}

			// No new keyframe: solving again changes nothing.
			state := f.StateVector()
			test.That(t, f.Solve(context.Background()), test.ShouldEqual, cost)
			test.That(t, f.StateVector(), test.ShouldResemble, state)
			test.That(t, calls, test.ShouldEqual, 1)

			// A repeated tick is not a keyframe but still refreshes the estimate.
			test.That(t, tick(), test.ShouldBeFalse)
			test.That(t, calls, test.ShouldEqual, 2)
			test.That(t, f.Solve(context.Background()), test.ShouldEqual, cost)
		})
	}
}

func TestCollectingUntilMinFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MinFrameNumber = 3
	var calls int
	f := newTestFuser(t, cfg, WithEstimateCallback(func(_, _ map[int]r3.Vector, _ map[int]quat.Number) {
		calls++
	}))

	for i := 0; i < 2; i++ {
		ok, err := f.AddTick(uniformTick(r3.Vector{X: float64(i)}, 2, 0, 1))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, f.Solve(context.Background()), test.ShouldEqual, 0)
		test.That(t, f.State(), test.ShouldEqual, Collecting)
	}
	test.That(t, calls, test.ShouldEqual, 0)
	test.That(t, f.Estimate().Positions, test.ShouldBeEmpty)

	// Non-keyframe ticks export nothing before the first solve.
	ok, err := f.AddTick(uniformTick(r3.Vector{X: 1}, 2, 0, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, calls, test.ShouldEqual, 0)

	ok, err = f.AddTick(uniformTick(r3.Vector{X: 2}, 2, 0, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.State(), test.ShouldEqual, Initializing)
}

func TestKeyframeEviction(t *testing.T) {
	cfg := testConfig()
	cfg.KeyframeCapacity = 4
	cfg.MaxFrameNumber = 3
	cfg.MinFrameNumber = 2
	f := newTestFuser(t, cfg)
	for i := 0; i < 6; i++ {
		ok, err := f.AddTick(uniformTick(r3.Vector{X: float64(i)}, 2, 0, 1))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ok, test.ShouldBeTrue)
	}
	test.That(t, f.KeyframeCount(), test.ShouldEqual, 4)
	window := f.keyframes.last(cfg.MaxFrameNumber)
	test.That(t, window, test.ShouldHaveLength, 3)
	test.That(t, window[0].Positions[0].X, test.ShouldEqual, 3)
	test.That(t, window[2].Positions[0].X, test.ShouldEqual, 5)
}

func angleDiff(a, b float64) float64 {
	return math.Abs(math.Remainder(a-b, 2*math.Pi))
}

func TestMovingSwarmRecovery(t *testing.T) {
	swarm := testutils.NewCircleSwarm(3)
	cfg := recoveryConfig()
	f := newTestFuser(t, cfg)

	const last = 39.
	for ts := 0.; ts <= last; ts++ {
		test.That(t, addSimTick(t, f, swarm.TickAt(ts, nil)), test.ShouldBeTrue)
		f.Solve(context.Background())
	}
	test.That(t, f.State(), test.ShouldEqual, Tracking)
	test.That(t, f.Cost(), test.ShouldBeLessThan, 1e-6)

	for other := 1; other < 3; other++ {
		yaw, translation, ok := f.RelativeFrame(other)
		test.That(t, ok, test.ShouldBeTrue)
		wantYaw, wantTranslation := swarm.RelativeFrame(0, other)
		test.That(t, angleDiff(yaw, wantYaw), test.ShouldBeLessThan, 1e-3)
		test.That(t, translation.Sub(wantTranslation).Norm(), test.ShouldBeLessThan, 1e-3)
	}

	// Drone 0 flies with its odometry frame at the world origin, so world ground truth is
	// directly comparable with the estimate.
	est := f.Estimate()
	test.That(t, est.Positions, test.ShouldHaveLength, 3)
	for _, d := range swarm.Drones {
		want := d.WorldPose(last)
		test.That(t, est.Positions[d.ID].Sub(want.Position).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, est.Velocities[d.ID].Sub(d.WorldVelocity(last)).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, spatialmath.QuaternionAlmostEqual(est.Orientations[d.ID], want.Orientation, 1e-3), test.ShouldBeTrue)
	}
}

func TestReinitializeOnNewDrone(t *testing.T) {
	swarm := testutils.NewCircleSwarm(3)
	cfg := recoveryConfig()
	cfg.MinFrameNumber = 8
	f := newTestFuser(t, cfg)
	ctx := context.Background()

	ts := 0.
	for ; ts < 12; ts++ {
		addSimTick(t, f, swarm.TickAt(ts, []int{0, 1}))
		f.Solve(ctx)
	}
	test.That(t, f.State(), test.ShouldEqual, Tracking)
	test.That(t, f.DroneIDs(), test.ShouldResemble, []int{0, 1})
	_, _, ok := f.RelativeFrame(2)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, f.Estimate().Positions, test.ShouldHaveLength, 2)
	solvedYaw, solvedTranslation, ok := f.RelativeFrame(1)
	test.That(t, ok, test.ShouldBeTrue)

	test.That(t, addSimTick(t, f, swarm.TickAt(ts, nil)), test.ShouldBeTrue)
	test.That(t, f.State(), test.ShouldEqual, Initializing)
	// Slots already solved keep their values until the next solve.
	yaw, translation, _ := f.RelativeFrame(1)
	test.That(t, yaw, test.ShouldEqual, solvedYaw)
	test.That(t, translation, test.ShouldResemble, solvedTranslation)

	// Let the new drone collect a few keyframes before the multi-start runs.
	for ts++; ts < 20; ts++ {
		addSimTick(t, f, swarm.TickAt(ts, nil))
	}
	for ; ts < 30; ts++ {
		addSimTick(t, f, swarm.TickAt(ts, nil))
		f.Solve(ctx)
	}
	test.That(t, f.State(), test.ShouldEqual, Tracking)
	test.That(t, f.Cost(), test.ShouldBeLessThan, 1e-6)

	final := swarm.TickAt(ts-1, nil)
	est := f.Estimate().Positions
	test.That(t, est, test.ShouldHaveLength, 3)
	for i, a := range final.IDs {
		for j, b := range final.IDs {
			if i < j {
				test.That(t, est[a].Sub(est[b]).Norm(), test.ShouldAlmostEqual, final.Distances[i][j], 1e-3)
			}
		}
	}
}

func TestFailedSolveWaitsForKeyframe(t *testing.T) {
	cfg := testConfig()
	cfg.MinFrameNumber = 1
	cfg.MaxDrones = 3
	f := newTestFuser(t, cfg)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := f.AddTick(uniformTick(r3.Vector{}, 3, 0, 1, 2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	before := f.StateVector()
	test.That(t, f.Solve(canceled), test.ShouldEqual, 0)
	test.That(t, f.State(), test.ShouldEqual, Initializing)

	// The same keyframes are not solved again.
	test.That(t, f.Solve(context.Background()), test.ShouldEqual, 0)
	test.That(t, f.State(), test.ShouldEqual, Initializing)
	test.That(t, f.StateVector(), test.ShouldResemble, before)
	test.That(t, f.SolveCount(), test.ShouldEqual, 0)

	ok, err = f.AddTick(uniformTick(r3.Vector{X: 1}, 3, 0, 1, 2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	f.Solve(context.Background())
	test.That(t, f.State(), test.ShouldEqual, Tracking)
	test.That(t, f.SolveCount(), test.ShouldEqual, 1)

	solved, cost := f.StateVector(), f.Cost()
	ok, err = f.AddTick(uniformTick(r3.Vector{X: 2}, 3, 0, 1, 2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	for _, ctx := range []context.Context{canceled, context.Background()} {
		test.That(t, f.Solve(ctx), test.ShouldEqual, cost)
		test.That(t, f.StateVector(), test.ShouldResemble, solved)
		test.That(t, f.SolveCount(), test.ShouldEqual, 1)
	}
}

func TestInitializationAttempts(t *testing.T) {
	for _, tc := range []struct {
		name     string
		min, max int
	}{
		{"stops after minimum", 4, 12},
		{"minimum equals maximum", 6, 6},
		{"no minimum", 0, 8},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MinFrameNumber = 1
			cfg.MaxDrones = 3
			cfg.InitMinAttempts = tc.min
			cfg.InitMaxAttempts = tc.max
			logger, logs := logging.NewObservedTestLogger(t)
			f, err := NewFuser(cfg, logger)
			test.That(t, err, test.ShouldBeNil)

			_, err = f.AddTick(uniformTick(r3.Vector{}, 3, 0, 1, 2))
			test.That(t, err, test.ShouldBeNil)
			f.Solve(context.Background())
			test.That(t, f.State(), test.ShouldEqual, Tracking)

			entries := logs.FilterMessage("initialization attempt").All()
			attempts := len(entries) + logs.FilterMessage("initialization attempt failed").Len()
			stop := -1
			for i, entry := range entries {
				fields := entry.ContextMap()
				attempt, ok := fields["attempt"].(int64)
				test.That(t, ok, test.ShouldBeTrue)
				trialCost, ok := fields["cost"].(float64)
				test.That(t, ok, test.ShouldBeTrue)
				bound, ok := fields["bound"].(float64)
				test.That(t, ok, test.ShouldBeTrue)
				if trialCost < bound && int(attempt) >= tc.min {
					stop = i
					break
				}
			}
			if stop < 0 {
				test.That(t, attempts, test.ShouldEqual, tc.max)
				return
			}
			// The first accepted trial from the minimum on ends the search.
			test.That(t, stop, test.ShouldEqual, len(entries)-1)
			test.That(t, entries[stop].ContextMap()["attempt"], test.ShouldEqual, int64(attempts))
			test.That(t, attempts, test.ShouldBeGreaterThanOrEqualTo, tc.min)
		})
	}
}
