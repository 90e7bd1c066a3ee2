// Package loopclosure defines relative pose measurements between two drone poses, and the pool
// that collects them from the swarm.
package loopclosure

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dronefleet/swarmloc/spatialmath"
)

// Edge is an immutable loop closure: the pose of drone B at TSB expressed in the frame of drone A
// at TSA, with its uncertainty.
type Edge struct {
	id            int64
	droneA        int
	droneB        int
	tsA           int64
	tsB           int64
	relativePose  spatialmath.Pose
	covariance    *mat.SymDense
	residualCount int
}

// NewEdge validates and returns a loop edge. The covariance is copied.
func NewEdge(
	id int64,
	droneA, droneB int,
	tsA, tsB int64,
	relativePose spatialmath.Pose,
	covariance mat.Symmetric,
	residualCount int,
) (*Edge, error) {
	if err := spatialmath.CheckCovariance(covariance); err != nil {
		return nil, errors.Wrapf(err, "loop edge %d", id)
	}
	if residualCount < 0 {
		return nil, errors.Errorf("loop edge %d: negative residual count %d", id, residualCount)
	}
	cov := mat.NewSymDense(spatialmath.PoseDOF, nil)
	cov.CopySym(covariance)
	return &Edge{
		id:            id,
		droneA:        droneA,
		droneB:        droneB,
		tsA:           tsA,
		tsB:           tsB,
		relativePose:  spatialmath.NewPose(relativePose.Position, relativePose.Orientation),
		covariance:    cov,
		residualCount: residualCount,
	}, nil
}

// ID returns the unique edge id.
func (e *Edge) ID() int64 { return e.id }

// DroneA returns the drone the measurement is expressed from.
func (e *Edge) DroneA() int { return e.droneA }

// DroneB returns the observed drone.
func (e *Edge) DroneB() int { return e.droneB }

// TSA returns the timestamp of the pose on drone A.
func (e *Edge) TSA() int64 { return e.tsA }

// TSB returns the timestamp of the pose on drone B.
func (e *Edge) TSB() int64 { return e.tsB }

// RelativePose returns the measured pose of B in A.
func (e *Edge) RelativePose() spatialmath.Pose { return e.relativePose }

// Covariance returns a copy of the measurement covariance.
func (e *Edge) Covariance() *mat.SymDense {
	cov := mat.NewSymDense(spatialmath.PoseDOF, nil)
	cov.CopySym(e.covariance)
	return cov
}

// CovarianceView returns the covariance without copying. Callers must not modify it.
func (e *Edge) CovarianceView() mat.Symmetric { return e.covariance }

// ResidualCount returns the number of feature matches that supported the measurement.
func (e *Edge) ResidualCount() int { return e.residualCount }

// IsInterLoop returns whether the edge links two different drones.
func (e *Edge) IsInterLoop() bool { return e.droneA != e.droneB }

func (e *Edge) String() string {
	return fmt.Sprintf("edge %d: drone %d@%d -> drone %d@%d", e.id, e.droneA, e.tsA, e.droneB, e.tsB)
}

// RobotPairRelation describes how the drone pairs of two edges line up.
type RobotPairRelation int

const (
	// RobotPairNone means the edges do not link the same pair of drones.
	RobotPairNone RobotPairRelation = iota
	// RobotPairSameDirection means both edges go from the same drone to the same drone.
	RobotPairSameDirection
	// RobotPairReversed means the edges link the same drones in opposite directions.
	RobotPairReversed
)

func (r RobotPairRelation) String() string {
	switch r {
	case RobotPairNone:
		return "none"
	case RobotPairSameDirection:
		return "same_direction"
	case RobotPairReversed:
		return "reversed"
	default:
		return fmt.Sprintf("RobotPairRelation(%d)", int(r))
	}
}

// RelationTo returns how e's drone pair relates to other's. Intra-robot edges of the same drone
// are in the same direction.
func (e *Edge) RelationTo(other *Edge) RobotPairRelation {
	switch {
	case e.droneA == other.droneA && e.droneB == other.droneB:
		return RobotPairSameDirection
	case e.droneA == other.droneB && e.droneB == other.droneA:
		return RobotPairReversed
	default:
		return RobotPairNone
	}
}
