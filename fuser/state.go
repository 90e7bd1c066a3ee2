package fuser

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/spatialmath"
)

// StateSize is the number of unknowns per drone slot: x, y, z and yaw.
const StateSize = 4

// IDIndex maps drone ids to state vector slots. The estimating drone always owns slot 0 and slots
// are never reassigned.
type IDIndex struct {
	slots    map[int]int
	ids      []int
	capacity int
}

// NewIDIndex returns an index with selfID in slot 0 and room for capacity drones.
func NewIDIndex(selfID, capacity int) *IDIndex {
	return &IDIndex{
		slots:    map[int]int{selfID: 0},
		ids:      []int{selfID},
		capacity: capacity,
	}
}

// Assign returns the slot of id, allocating the next free one for a new id.
func (x *IDIndex) Assign(id int) (int, error) {
	if slot, ok := x.slots[id]; ok {
		return slot, nil
	}
	if len(x.ids) >= x.capacity {
		return 0, errors.Wrapf(ErrTooManyDrones, "cannot add drone %d to %d slots", id, x.capacity)
	}
	slot := len(x.ids)
	x.slots[id] = slot
	x.ids = append(x.ids, id)
	return slot, nil
}

// Slot returns the slot of id.
func (x *IDIndex) Slot(id int) (int, bool) {
	slot, ok := x.slots[id]
	return slot, ok
}

// ID returns the drone owning slot.
func (x *IDIndex) ID(slot int) int {
	return x.ids[slot]
}

// Len returns the number of assigned slots.
func (x *IDIndex) Len() int {
	return len(x.ids)
}

// IDs returns the assigned drone ids in slot order.
func (x *IDIndex) IDs() []int {
	return append([]int(nil), x.ids...)
}

// StateVector holds the (x, y, z, yaw) offset of every drone's odometry frame in the estimating
// drone's frame. Slot 0 is the estimating drone and stays at zero.
type StateVector []float64

// NewStateVector returns a zero state for slots drones.
func NewStateVector(slots int) StateVector {
	return make(StateVector, StateSize*slots)
}

// Translation returns the frame offset of slot.
func (z StateVector) Translation(slot int) r3.Vector {
	o := StateSize * slot
	return r3.Vector{X: z[o], Y: z[o+1], Z: z[o+2]}
}

// Yaw returns the frame yaw of slot.
func (z StateVector) Yaw(slot int) float64 {
	return z[StateSize*slot+3]
}

// Set writes the frame offset and yaw of slot.
func (z StateVector) Set(slot int, t r3.Vector, yaw float64) {
	o := StateSize * slot
	z[o], z[o+1], z[o+2], z[o+3] = t.X, t.Y, t.Z, WrapYaw(yaw)
}

// WrapYaws brings every yaw into [0, 2π).
func (z StateVector) WrapYaws() {
	for o := 3; o < len(z); o += StateSize {
		z[o] = WrapYaw(z[o])
	}
}

// Clone returns a copy of z.
func (z StateVector) Clone() StateVector {
	return append(StateVector(nil), z...)
}

// WrapYaw returns yaw in [0, 2π).
func WrapYaw(yaw float64) float64 {
	yaw = math.Mod(yaw, 2*math.Pi)
	if yaw < 0 {
		yaw += 2 * math.Pi
	}
	if yaw >= 2*math.Pi {
		yaw = 0
	}
	return yaw
}

// EstimatePosition returns the position of the drone at slot in the estimating drone's frame,
// given its odometry position. Slot 0 is returned unchanged.
func EstimatePosition(slot int, z StateVector, odomPosition r3.Vector) r3.Vector {
	if slot == 0 {
		return odomPosition
	}
	return spatialmath.RotateZ(z.Yaw(slot), odomPosition).Add(z.Translation(slot))
}

// EstimateVelocity rotates an odometry frame velocity into the estimating drone's frame.
func EstimateVelocity(slot int, z StateVector, odomVelocity r3.Vector) r3.Vector {
	if slot == 0 {
		return odomVelocity
	}
	return spatialmath.RotateZ(z.Yaw(slot), odomVelocity)
}

// EstimateOrientation rotates an odometry frame orientation into the estimating drone's frame.
func EstimateOrientation(slot int, z StateVector, odomOrientation quat.Number) quat.Number {
	if slot == 0 {
		return odomOrientation
	}
	return spatialmath.Normalize(quat.Mul(spatialmath.YawQuat(z.Yaw(slot)), odomOrientation))
}
