// Package spatialmath defines spatial mathematical operations on poses, orientations and their
// uncertainties.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// If two angles differ by less than this amount, we consider them the same for the purpose of doing
// math around the poles of orientation.
const angleEpsilon = 1e-9

// Norm returns the norm of the imaginary part of a quaternion.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize scales a quaternion to unit length. The zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// QuatToR3AA converts a unit quaternion to a rotation vector whose direction is the rotation axis
// and whose length is the rotation angle in (-π, π].
func QuatToR3AA(q quat.Number) r3.Vector {
	denom := Norm(q)

	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}

	if denom < angleEpsilon {
		// First order expansion around the identity.
		scale := 2.
		if q.Real < 0 {
			scale = -2.
		}
		return r3.Vector{X: scale * q.Imag, Y: scale * q.Jmag, Z: scale * q.Kmag}
	}
	return r3.Vector{X: angle * q.Imag / denom, Y: angle * q.Jmag / denom, Z: angle * q.Kmag / denom}
}

// R3ToQuat converts a rotation vector to a unit quaternion.
func R3ToQuat(v r3.Vector) quat.Number {
	theta := v.Norm()
	if theta < angleEpsilon {
		return Normalize(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// YawQuat returns the rotation of yaw radians about the z axis.
func YawQuat(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

// Yaw returns the heading of a unit quaternion, the rotation about z in (-π, π].
func Yaw(q quat.Number) float64 {
	return math.Atan2(2*(q.Real*q.Kmag+q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
}

// RotateZ rotates v by yaw radians about the z axis.
func RotateZ(yaw float64, v r3.Vector) r3.Vector {
	c, s := math.Cos(yaw), math.Sin(yaw)
	return r3.Vector{X: c*v.X - s*v.Y, Y: s*v.X + c*v.Y, Z: v.Z}
}

// Slerp interpolates between two unit quaternions along the shortest arc. by must be in [0, 1].
func Slerp(q1, q2 quat.Number, by float64) quat.Number {
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	if dot < 0 {
		q2 = Flip(q2)
		dot = -dot
	}
	if dot > 0.9995 {
		// Nearly parallel, fall back to a normalized lerp.
		return Normalize(quat.Add(quat.Scale(1-by, q1), quat.Scale(by, q2)))
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	w1 := math.Sin((1-by)*theta) / sinTheta
	w2 := math.Sin(by*theta) / sinTheta
	return quat.Add(quat.Scale(w1, q1), quat.Scale(w2, q2))
}

// QuaternionAlmostEqual is an equality test for two quaternions representing the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	near := func(x, y quat.Number) bool {
		return math.Abs(x.Real-y.Real) < tol &&
			math.Abs(x.Imag-y.Imag) < tol &&
			math.Abs(x.Jmag-y.Jmag) < tol &&
			math.Abs(x.Kmag-y.Kmag) < tol
	}
	return near(a, b) || near(a, Flip(b))
}
