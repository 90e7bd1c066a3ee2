package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// represent a 45 degree rotation around the x axis
var (
	th   = math.Pi / 4.
	q45x = quat.Number{Real: math.Cos(th / 2.), Imag: math.Sin(th / 2.)}
)

func TestRotateVector(t *testing.T) {
	v := RotateVector(YawQuat(math.Pi/2), r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0)

	v = RotateVector(q45x, r3.Vector{Y: 1})
	test.That(t, v.Y, test.ShouldAlmostEqual, math.Sqrt2/2)
	test.That(t, v.Z, test.ShouldAlmostEqual, math.Sqrt2/2)

	rz := RotateZ(math.Pi/2, r3.Vector{X: 1, Z: 3})
	test.That(t, rz.X, test.ShouldAlmostEqual, 0)
	test.That(t, rz.Y, test.ShouldAlmostEqual, 1)
	test.That(t, rz.Z, test.ShouldAlmostEqual, 3)
}

func TestYaw(t *testing.T) {
	for _, yaw := range []float64{0, 0.3, -1.2, 3.0, -3.0} {
		test.That(t, Yaw(YawQuat(yaw)), test.ShouldAlmostEqual, yaw)
	}
}

func TestAxisAngleRoundTrip(t *testing.T) {
	aa := QuatToR3AA(q45x)
	test.That(t, aa.X, test.ShouldAlmostEqual, th)
	test.That(t, aa.Y, test.ShouldAlmostEqual, 0)
	test.That(t, QuaternionAlmostEqual(R3ToQuat(aa), q45x, 1e-9), test.ShouldBeTrue)

	// The negated quaternion is the same rotation and maps to the same vector.
	aaFlip := QuatToR3AA(Flip(q45x))
	test.That(t, aaFlip.X, test.ShouldAlmostEqual, th)

	zero := QuatToR3AA(quat.Number{Real: 1})
	test.That(t, zero.Norm(), test.ShouldEqual, 0)

	tiny := r3.Vector{Z: 1e-12}
	test.That(t, QuatToR3AA(R3ToQuat(tiny)).Z, test.ShouldAlmostEqual, 1e-12)
}

func TestComposeInverse(t *testing.T) {
	a := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, YawQuat(0.7))
	b := NewPose(r3.Vector{X: -4, Y: 0.5}, q45x)

	ab := Compose(a, b)
	test.That(t, PoseAlmostEqual(Compose(PoseInverse(a), ab), b, 1e-9), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(PoseBetween(a, ab), b, 1e-9), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Compose(a, PoseInverse(a)), NewZeroPose(), 1e-9), test.ShouldBeTrue)

	p := ab.Transform(r3.Vector{X: 1})
	expected := a.Transform(b.Transform(r3.Vector{X: 1}))
	test.That(t, p.Sub(expected).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestInterpolate(t *testing.T) {
	a := NewPose(r3.Vector{}, YawQuat(0))
	b := NewPose(r3.Vector{X: 2, Y: 4}, YawQuat(1))

	mid := Interpolate(a, b, 0.5)
	test.That(t, mid.Position.X, test.ShouldAlmostEqual, 1)
	test.That(t, mid.Position.Y, test.ShouldAlmostEqual, 2)
	test.That(t, Yaw(mid.Orientation), test.ShouldAlmostEqual, 0.5)

	test.That(t, PoseAlmostEqual(Interpolate(a, b, 0), a, 1e-9), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Interpolate(a, b, 1), b, 1e-9), test.ShouldBeTrue)

	// Opposite hemispheres still take the short arc.
	q := Slerp(YawQuat(0.1), Flip(YawQuat(0.3)), 0.5)
	test.That(t, Yaw(q), test.ShouldAlmostEqual, 0.2)
}

func TestLogMap(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: -2, Z: 0.5}, YawQuat(0.25))
	v := LogMap(p)
	test.That(t, v, test.ShouldHaveLength, 6)
	test.That(t, v[0], test.ShouldAlmostEqual, 0)
	test.That(t, v[1], test.ShouldAlmostEqual, 0)
	test.That(t, v[2], test.ShouldAlmostEqual, 0.25)
	test.That(t, v[3:], test.ShouldResemble, []float64{1, -2, 0.5})

	id := LogMap(NewZeroPose())
	for _, x := range id {
		test.That(t, x, test.ShouldEqual, 0)
	}
}

func TestSquaredMahalanobisDistance(t *testing.T) {
	cov := NewDiagCovariance(0.01, 4)
	v := []float64{0.1, 0, 0, 2, 0, 0}
	// 0.1²/0.01 + 2²/4
	test.That(t, SquaredMahalanobisDistance(v, cov), test.ShouldAlmostEqual, 2)

	sum := SumCovariances(cov, cov)
	test.That(t, SquaredMahalanobisDistance(v, sum), test.ShouldAlmostEqual, 1)

	singular := mat.NewSymDense(PoseDOF, nil)
	test.That(t, SquaredMahalanobisDistance(v, singular), test.ShouldEqual, SingularDistanceRejection)
	test.That(t, SquaredMahalanobisDistance(v[:3], cov), test.ShouldEqual, SingularDistanceRejection)
}

func TestCovarianceFromSlice(t *testing.T) {
	data := CovarianceToSlice(NewDiagCovariance(1, 2))
	cov, err := NewCovarianceFromSlice(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cov.At(0, 0), test.ShouldEqual, 1)
	test.That(t, cov.At(5, 5), test.ShouldEqual, 2)
	test.That(t, CheckCovariance(cov), test.ShouldBeNil)

	data[1] = 0.5
	cov, err = NewCovarianceFromSlice(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cov.At(1, 0), test.ShouldEqual, 0.25)

	_, err = NewCovarianceFromSlice(data[:35])
	test.That(t, err, test.ShouldNotBeNil)

	data[7] = math.NaN()
	_, err = NewCovarianceFromSlice(data)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, CheckCovariance(mat.NewSymDense(3, nil)), test.ShouldNotBeNil)
	test.That(t, CheckCovariance(nil), test.ShouldNotBeNil)

	scaled := ScaleCovariance(0.5, NewDiagCovariance(1, 2))
	test.That(t, scaled.At(4, 4), test.ShouldEqual, 1)
}
