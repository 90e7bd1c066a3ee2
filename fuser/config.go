package fuser

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/dronefleet/swarmloc/solver"
)

// Config holds the fuser settings.
type Config struct {
	// SelfID is the id of the estimating drone. Its odometry frame is the estimation frame.
	SelfID int `json:"self_id"`
	// MaxFrameNumber is the size of the sliding solve window in keyframes.
	MaxFrameNumber int `json:"max_frame_number"`
	// MinFrameNumber is the number of keyframes needed before the first solve.
	MinFrameNumber int `json:"min_frame_number"`
	// KeyframeCapacity bounds the keyframe buffer; the oldest keyframe is dropped beyond it.
	KeyframeCapacity int `json:"keyframe_capacity"`
	// MinAcceptKeyframeMovement is the self displacement that admits a new keyframe.
	MinAcceptKeyframeMovement float64 `json:"min_accept_keyframe_movement"`

	ThreadNum     int    `json:"thread_num"`
	MaxIterations int    `json:"max_iterations"`
	SolverMethod  string `json:"solver_method"`

	// MaxDrones is the number of state vector slots, self included.
	MaxDrones int `json:"max_drones"`

	InitPositionBound float64 `json:"init_position_bound"`
	InitMinAttempts   int     `json:"init_min_attempts"`
	InitMaxAttempts   int     `json:"init_max_attempts"`
	// ExpectedCostPerDroneSquared scales the multi-start acceptance bound, drones² × this value.
	ExpectedCostPerDroneSquared float64 `json:"expected_cost_per_drone_sq"`
	// RandomSeed seeds the multi-start sampler. Zero seeds from the clock.
	RandomSeed int64 `json:"random_seed"`

	// SolvePeriodMs is how often a Runner solves.
	SolvePeriodMs int `json:"solve_period_ms"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxFrameNumber:              20,
		MinFrameNumber:              10,
		KeyframeCapacity:            1000,
		MinAcceptKeyframeMovement:   0.2,
		ThreadNum:                   4,
		MaxIterations:               200,
		SolverMethod:                string(solver.LevenbergMarquardt),
		MaxDrones:                   100,
		InitPositionBound:           30,
		InitMinAttempts:             5,
		InitMaxAttempts:             10,
		ExpectedCostPerDroneSquared: 0.1,
		SolvePeriodMs:               100,
	}
}

// Validate returns every problem with the config.
func (c Config) Validate() error {
	var errs error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = multierr.Append(errs, errors.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.SelfID < 0 {
		errs = multierr.Append(errs, errors.Errorf("self_id must not be negative, got %d", c.SelfID))
	}
	positive("max_frame_number", c.MaxFrameNumber)
	positive("min_frame_number", c.MinFrameNumber)
	positive("keyframe_capacity", c.KeyframeCapacity)
	positive("thread_num", c.ThreadNum)
	positive("max_iterations", c.MaxIterations)
	positive("init_max_attempts", c.InitMaxAttempts)
	positive("solve_period_ms", c.SolvePeriodMs)
	if c.MinFrameNumber > c.KeyframeCapacity {
		errs = multierr.Append(errs, errors.Errorf(
			"min_frame_number (%d) exceeds keyframe_capacity (%d)", c.MinFrameNumber, c.KeyframeCapacity))
	}
	if c.MaxFrameNumber > c.KeyframeCapacity {
		errs = multierr.Append(errs, errors.Errorf(
			"max_frame_number (%d) exceeds keyframe_capacity (%d)", c.MaxFrameNumber, c.KeyframeCapacity))
	}
	if c.MaxDrones < 2 {
		errs = multierr.Append(errs, errors.Errorf("max_drones must be at least 2, got %d", c.MaxDrones))
	}
	if c.MinAcceptKeyframeMovement < 0 {
		errs = multierr.Append(errs, errors.Errorf(
			"min_accept_keyframe_movement must not be negative, got %v", c.MinAcceptKeyframeMovement))
	}
	if c.InitPositionBound <= 0 {
		errs = multierr.Append(errs, errors.Errorf("init_position_bound must be positive, got %v", c.InitPositionBound))
	}
	if c.InitMinAttempts < 0 || c.InitMinAttempts > c.InitMaxAttempts {
		errs = multierr.Append(errs, errors.Errorf(
			"init_min_attempts must be in [0, init_max_attempts], got %d", c.InitMinAttempts))
	}
	if c.ExpectedCostPerDroneSquared <= 0 {
		errs = multierr.Append(errs, errors.Errorf(
			"expected_cost_per_drone_sq must be positive, got %v", c.ExpectedCostPerDroneSquared))
	}
	if _, err := solver.ParseMethod(c.SolverMethod); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
