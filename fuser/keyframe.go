package fuser

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/spatialmath"
)

var (
	// ErrMismatchedLengths is returned when the arrays of a tick disagree on the drone count.
	ErrMismatchedLengths = errors.New("tick arrays have mismatched lengths")
	// ErrDuplicateID is returned when a drone appears twice in one tick.
	ErrDuplicateID = errors.New("duplicate drone id in tick")
	// ErrTooManyDrones is returned when more drones are observed than the state vector has slots.
	ErrTooManyDrones = errors.New("drone count exceeds max_drones")
)

// Keyframe is one synchronized tick: the distance matrix between the observed drones and each
// drone's pose and velocity in its own odometry frame. Index i of every slice refers to IDs[i].
type Keyframe struct {
	IDs          []int
	Distances    [][]float64
	Positions    []r3.Vector
	Velocities   []r3.Vector
	Orientations []quat.Number
}

// NewKeyframe validates a tick and copies it. Distances must be a square matrix over the ids.
func NewKeyframe(
	distances [][]float64,
	positions, velocities []r3.Vector,
	orientations []quat.Number,
	ids []int,
) (*Keyframe, error) {
	n := len(ids)
	if len(positions) != n || len(velocities) != n || len(orientations) != n || len(distances) != n {
		return nil, errors.Wrapf(ErrMismatchedLengths,
			"%d ids, %d positions, %d velocities, %d orientations, %d distance rows",
			n, len(positions), len(velocities), len(orientations), len(distances))
	}
	seen := make(map[int]bool, n)
	for _, id := range ids {
		if seen[id] {
			return nil, errors.Wrapf(ErrDuplicateID, "drone %d", id)
		}
		seen[id] = true
	}

	kf := &Keyframe{
		IDs:          append([]int(nil), ids...),
		Distances:    make([][]float64, n),
		Positions:    append([]r3.Vector(nil), positions...),
		Velocities:   append([]r3.Vector(nil), velocities...),
		Orientations: make([]quat.Number, n),
	}
	for i, row := range distances {
		if len(row) != n {
			return nil, errors.Wrapf(ErrMismatchedLengths, "distance row %d has %d entries, want %d", i, len(row), n)
		}
		kf.Distances[i] = append([]float64(nil), row...)
	}
	for i, q := range orientations {
		kf.Orientations[i] = spatialmath.Normalize(q)
	}
	return kf, nil
}

// Len returns the number of drones in the keyframe.
func (kf *Keyframe) Len() int {
	return len(kf.IDs)
}

// IndexOf returns the position of drone id in the keyframe, or -1.
func (kf *Keyframe) IndexOf(id int) int {
	for i, other := range kf.IDs {
		if other == id {
			return i
		}
	}
	return -1
}

// Distance returns the measured distance between keyframe entries i and j. The upper triangle is
// preferred; the lower one fills in when the upper entry is unobserved.
func (kf *Keyframe) Distance(i, j int) (float64, bool) {
	if i > j {
		i, j = j, i
	}
	if d := kf.Distances[i][j]; observed(d) {
		return d, true
	}
	if d := kf.Distances[j][i]; observed(d) {
		return d, true
	}
	return 0, false
}

func observed(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// keyframeRing holds the most recent keyframes up to a fixed capacity.
type keyframeRing struct {
	frames []*Keyframe
	start  int
	size   int
}

func newKeyframeRing(capacity int) *keyframeRing {
	return &keyframeRing{frames: make([]*Keyframe, capacity)}
}

// push appends kf, dropping the oldest keyframe when full.
func (r *keyframeRing) push(kf *Keyframe) {
	if r.size < len(r.frames) {
		r.frames[(r.start+r.size)%len(r.frames)] = kf
		r.size++
		return
	}
	r.frames[r.start] = kf
	r.start = (r.start + 1) % len(r.frames)
}

func (r *keyframeRing) len() int {
	return r.size
}

// at returns the i-th oldest keyframe.
func (r *keyframeRing) at(i int) *Keyframe {
	return r.frames[(r.start+i)%len(r.frames)]
}

func (r *keyframeRing) latest() *Keyframe {
	if r.size == 0 {
		return nil
	}
	return r.at(r.size - 1)
}

// last returns the newest n keyframes, oldest first.
func (r *keyframeRing) last(n int) []*Keyframe {
	if n > r.size {
		n = r.size
	}
	out := make([]*Keyframe, n)
	for i := range out {
		out[i] = r.at(r.size - n + i)
	}
	return out
}
