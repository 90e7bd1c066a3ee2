package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a position and an orientation. The orientation is normalized.
func NewPose(position r3.Vector, orientation quat.Number) Pose {
	return Pose{Position: position, Orientation: Normalize(orientation)}
}

// NewPoseFromPoint returns a pose with the identity orientation.
func NewPoseFromPoint(position r3.Vector) Pose {
	return Pose{Position: position, Orientation: quat.Number{Real: 1}}
}

// Transform maps a point expressed in this pose's frame into the parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation, v).Add(p.Position)
}

func (p Pose) String() string {
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f Q:[%.4f %.4f %.4f %.4f]}",
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.Real, p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag)
}

// Compose returns a·b, the pose b expressed in the frame of a's parent.
func Compose(a, b Pose) Pose {
	return Pose{
		Position:    a.Transform(b.Position),
		Orientation: Normalize(quat.Mul(a.Orientation, b.Orientation)),
	}
}

// PoseInverse returns the inverse transform of p.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation)
	return Pose{
		Position:    RotateVector(inv, p.Position).Mul(-1),
		Orientation: inv,
	}
}

// PoseBetween returns the pose that takes a to b, a⁻¹·b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// Interpolate returns the pose a fraction by of the way from a to b, lerping the translation and
// slerping the rotation.
func Interpolate(a, b Pose, by float64) Pose {
	return Pose{
		Position:    a.Position.Add(b.Position.Sub(a.Position).Mul(by)),
		Orientation: Normalize(Slerp(a.Orientation, b.Orientation, by)),
	}
}

// LogMap returns the 6-vector tangent of p, ordered as the rotation vector followed by the
// translation. This matches the block layout of pose covariances.
func LogMap(p Pose) []float64 {
	rot := QuatToR3AA(Normalize(p.Orientation))
	return []float64{rot.X, rot.Y, rot.Z, p.Position.X, p.Position.Y, p.Position.Z}
}

// PoseAlmostEqual returns whether two poses agree within tol in every position component and in
// orientation.
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	d := a.Position.Sub(b.Position)
	if d.X > tol || d.X < -tol || d.Y > tol || d.Y < -tol || d.Z > tol || d.Z < -tol {
		return false
	}
	return QuaternionAlmostEqual(a.Orientation, b.Orientation, tol)
}
