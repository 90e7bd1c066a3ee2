package outlierrejection

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dronefleet/swarmloc/loopclosure"
	"github.com/dronefleet/swarmloc/spatialmath"
)

// EgoMotion answers relative pose queries over a drone's own odometry.
type EgoMotion interface {
	RelativePoseByTS(droneID int, from, to int64) (spatialmath.Pose, *mat.SymDense, error)
}

// PairResult is the outcome of testing two edges against each other. First always holds the
// smaller edge id.
type PairResult struct {
	First, Second      int64
	Relation           loopclosure.RobotPairRelation
	Compared           bool
	SquaredMahalanobis float64
	Consistent         bool
}

// ConsistencyChecker tests whether two loop edges agree with each other given the odometry that
// connects their endpoints.
type ConsistencyChecker struct {
	egoMotion EgoMotion
	threshold float64
}

// NewConsistencyChecker returns a checker gating at the given squared Mahalanobis threshold.
func NewConsistencyChecker(egoMotion EgoMotion, threshold float64) *ConsistencyChecker {
	return &ConsistencyChecker{egoMotion: egoMotion, threshold: threshold}
}

// Threshold returns the gate.
func (c *ConsistencyChecker) Threshold() float64 {
	return c.threshold
}

// Check computes the consistency of e1 and e2. The pair is put in edge id order first, so the
// result does not depend on argument order. Edges that do not link the same drones are not
// compared and are reported inconsistent without error.
func (c *ConsistencyChecker) Check(e1, e2 *loopclosure.Edge) (PairResult, error) {
	if e1.ID() > e2.ID() {
		e1, e2 = e2, e1
	}
	res := PairResult{
		First:    e1.ID(),
		Second:   e2.ID(),
		Relation: e2.RelationTo(e1),
	}

	var p2 spatialmath.Pose
	var fromA, toA, fromB, toB int64
	switch res.Relation {
	case loopclosure.RobotPairNone:
		return res, nil
	case loopclosure.RobotPairSameDirection:
		p2 = e2.RelativePose()
		fromA, toA = e1.TSA(), e2.TSA()
		fromB, toB = e1.TSB(), e2.TSB()
	case loopclosure.RobotPairReversed:
		p2 = spatialmath.PoseInverse(e2.RelativePose())
		fromA, toA = e1.TSA(), e2.TSB()
		fromB, toB = e1.TSB(), e2.TSA()
	default:
		return res, errors.Errorf("unhandled robot pair relation %v", res.Relation)
	}

	odomA, covA, err := c.egoMotion.RelativePoseByTS(e1.DroneA(), fromA, toA)
	if err != nil {
		return res, errors.Wrapf(err, "odometry of drone %d between edges %d and %d", e1.DroneA(), e1.ID(), e2.ID())
	}
	odomB, covB, err := c.egoMotion.RelativePoseByTS(e1.DroneB(), fromB, toB)
	if err != nil {
		return res, errors.Wrapf(err, "odometry of drone %d between edges %d and %d", e1.DroneB(), e1.ID(), e2.ID())
	}

	// odomA · p2 · odomB⁻¹ · p1⁻¹ is the identity for a consistent pair.
	loop := spatialmath.Compose(
		spatialmath.Compose(odomA, p2),
		spatialmath.Compose(spatialmath.PoseInverse(odomB), spatialmath.PoseInverse(e1.RelativePose())),
	)
	cov := spatialmath.SumCovariances(e1.CovarianceView(), e2.CovarianceView(), covA, covB)

	res.Compared = true
	res.SquaredMahalanobis = spatialmath.SquaredMahalanobisDistance(spatialmath.LogMap(loop), cov)
	res.Consistent = res.SquaredMahalanobis < c.threshold
	return res, nil
}
