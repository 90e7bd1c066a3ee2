package fuser

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

type distanceObservation struct {
	i, j     int
	distance float64
}

// DistanceResidual compares the measured distances of one keyframe with the distances between
// the drones' estimated positions. It has one residual per observed pair.
type DistanceResidual struct {
	kf    *Keyframe
	slots []int
	// column is the offset of each keyframe entry's unknowns in params, or -1 for the estimating
	// drone, which has none.
	column       []int
	params       []int
	observations []distanceObservation
}

// NewDistanceResidual builds the residual of kf. Every drone in kf must already own a slot.
func NewDistanceResidual(kf *Keyframe, index *IDIndex) (*DistanceResidual, error) {
	r := &DistanceResidual{
		kf:     kf,
		slots:  make([]int, kf.Len()),
		column: make([]int, kf.Len()),
	}
	for i, id := range kf.IDs {
		slot, ok := index.Slot(id)
		if !ok {
			return nil, errors.Errorf("drone %d has no state slot", id)
		}
		r.slots[i] = slot
		if slot == 0 {
			r.column[i] = -1
			continue
		}
		r.column[i] = len(r.params)
		for k := 0; k < StateSize; k++ {
			r.params = append(r.params, StateSize*slot+k)
		}
	}
	for i := 0; i < kf.Len(); i++ {
		for j := i + 1; j < kf.Len(); j++ {
			if d, ok := kf.Distance(i, j); ok {
				r.observations = append(r.observations, distanceObservation{i: i, j: j, distance: d})
			}
		}
	}
	return r, nil
}

// NumResiduals returns the number of observed pairs.
func (r *DistanceResidual) NumResiduals() int {
	return len(r.observations)
}

// Parameters returns the state vector indices of every non-self drone in the keyframe.
func (r *DistanceResidual) Parameters() []int {
	return r.params
}

// Evaluate writes predicted minus measured distance for each observed pair.
func (r *DistanceResidual) Evaluate(params, residuals, jacobian []float64) error {
	if len(residuals) != len(r.observations) {
		return errors.Errorf("expected %d residuals, got %d", len(r.observations), len(residuals))
	}
	z := StateVector(params)
	estimated := make([]r3.Vector, r.kf.Len())
	for i, slot := range r.slots {
		estimated[i] = EstimatePosition(slot, z, r.kf.Positions[i])
	}
	if jacobian != nil {
		for k := range jacobian {
			jacobian[k] = 0
		}
	}
	cols := len(r.params)
	for n, obs := range r.observations {
		delta := estimated[obs.i].Sub(estimated[obs.j])
		predicted := delta.Norm()
		residuals[n] = predicted - obs.distance
		if jacobian == nil || predicted == 0 {
			continue
		}
		u := delta.Mul(1 / predicted)
		row := jacobian[n*cols : (n+1)*cols]
		r.addPositionDerivative(row, obs.i, z, u)
		r.addPositionDerivative(row, obs.j, z, u.Mul(-1))
	}
	return nil
}

// addPositionDerivative adds g·∂p/∂(x, y, z, yaw) for keyframe entry i to row.
func (r *DistanceResidual) addPositionDerivative(row []float64, i int, z StateVector, g r3.Vector) {
	col := r.column[i]
	if col < 0 {
		return
	}
	yaw := z.Yaw(r.slots[i])
	c, s := math.Cos(yaw), math.Sin(yaw)
	p := r.kf.Positions[i]
	row[col] += g.X
	row[col+1] += g.Y
	row[col+2] += g.Z
	row[col+3] += g.X*(-s*p.X-c*p.Y) + g.Y*(c*p.X-s*p.Y)
}
