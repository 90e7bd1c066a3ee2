// Package trajectory stores per-drone ego-motion histories and answers relative pose queries
// between timestamps.
package trajectory

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dronefleet/swarmloc/spatialmath"
)

var (
	// ErrOutOfRange is returned when a timestamp lies outside the recorded samples.
	ErrOutOfRange = errors.New("timestamp outside of trajectory")
	// ErrNotMonotonic is returned when a sample does not advance the trajectory in time.
	ErrNotMonotonic = errors.New("trajectory timestamps must be strictly increasing")
	// ErrUnknownDrone is returned when no trajectory is stored for a drone.
	ErrUnknownDrone = errors.New("no trajectory for drone")
)

// Sample is one ego-motion estimate. StepCovariance is the uncertainty accumulated since the
// previous sample; it is ignored on the first sample.
type Sample struct {
	TS             int64
	Pose           spatialmath.Pose
	StepCovariance *mat.SymDense
}

// Trajectory is an append-only, time-ordered pose history of one drone. A single writer may
// append while readers query.
type Trajectory struct {
	mu      sync.RWMutex
	droneID int
	samples []Sample
}

// New returns an empty trajectory for a drone.
func New(droneID int) *Trajectory {
	return &Trajectory{droneID: droneID}
}

// DroneID returns the drone this trajectory belongs to.
func (t *Trajectory) DroneID() int {
	return t.droneID
}

// Append adds a sample at the end of the trajectory.
func (t *Trajectory) Append(s Sample) error {
	if s.StepCovariance == nil {
		s.StepCovariance = mat.NewSymDense(spatialmath.PoseDOF, nil)
	} else if err := spatialmath.CheckCovariance(s.StepCovariance); err != nil {
		return errors.Wrapf(err, "sample at %d", s.TS)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.samples); n > 0 && s.TS <= t.samples[n-1].TS {
		return errors.Wrapf(ErrNotMonotonic, "drone %d: %d after %d", t.droneID, s.TS, t.samples[n-1].TS)
	}
	t.samples = append(t.samples, s)
	return nil
}

// Len returns the number of samples.
func (t *Trajectory) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Snapshot returns a copy of the samples recorded so far.
func (t *Trajectory) Snapshot() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Sample(nil), t.samples...)
}

// Span returns the first and last timestamps. ok is false for an empty trajectory.
func (t *Trajectory) Span() (first, last int64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.samples) == 0 {
		return 0, 0, false
	}
	return t.samples[0].TS, t.samples[len(t.samples)-1].TS, true
}

// PoseAt returns the pose at ts, interpolating between the neighbouring samples.
func (t *Trajectory) PoseAt(ts int64) (spatialmath.Pose, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.poseAtLocked(ts)
}

func (t *Trajectory) poseAtLocked(ts int64) (spatialmath.Pose, error) {
	n := len(t.samples)
	if n == 0 || ts < t.samples[0].TS || ts > t.samples[n-1].TS {
		return spatialmath.Pose{}, errors.Wrapf(ErrOutOfRange, "drone %d at %d", t.droneID, ts)
	}
	// First sample at or after ts.
	i := sort.Search(n, func(k int) bool { return t.samples[k].TS >= ts })
	if t.samples[i].TS == ts {
		return t.samples[i].Pose, nil
	}
	prev, next := t.samples[i-1], t.samples[i]
	by := float64(ts-prev.TS) / float64(next.TS-prev.TS)
	return spatialmath.Interpolate(prev.Pose, next.Pose, by), nil
}

// RelativePoseByTS returns pose(from)⁻¹·pose(to) and the covariance accumulated over the interval.
// Partially covered steps contribute in proportion to the covered time. The covariance does not
// depend on the order of from and to.
func (t *Trajectory) RelativePoseByTS(from, to int64) (spatialmath.Pose, *mat.SymDense, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pFrom, err := t.poseAtLocked(from)
	if err != nil {
		return spatialmath.Pose{}, nil, err
	}
	pTo, err := t.poseAtLocked(to)
	if err != nil {
		return spatialmath.Pose{}, nil, err
	}

	lo, hi := from, to
	if lo > hi {
		lo, hi = hi, lo
	}
	cov := mat.NewSymDense(spatialmath.PoseDOF, nil)
	start := sort.Search(len(t.samples), func(k int) bool { return t.samples[k].TS > lo })
	for k := max(start, 1); k < len(t.samples); k++ {
		segStart, segEnd := t.samples[k-1].TS, t.samples[k].TS
		if segStart >= hi {
			break
		}
		covered := min(hi, segEnd) - max(lo, segStart)
		if covered <= 0 {
			continue
		}
		frac := float64(covered) / float64(segEnd-segStart)
		var step mat.SymDense
		step.ScaleSym(frac, t.samples[k].StepCovariance)
		cov.AddSym(cov, &step)
	}
	return spatialmath.PoseBetween(pFrom, pTo), cov, nil
}
