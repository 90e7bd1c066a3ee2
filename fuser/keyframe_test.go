package fuser

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/logging"
)

// uniformTick returns a tick over ids where every pair is dist apart. The first id sits at
// selfPos, every other drone at its odometry origin.
func uniformTick(selfPos r3.Vector, dist float64, ids ...int) ([][]float64, []r3.Vector, []r3.Vector, []quat.Number, []int) {
	n := len(ids)
	distances := make([][]float64, n)
	positions := make([]r3.Vector, n)
	velocities := make([]r3.Vector, n)
	orientations := make([]quat.Number, n)
	for i := range ids {
		distances[i] = make([]float64, n)
		for j := range ids {
			if i != j {
				distances[i][j] = dist
			}
		}
		orientations[i] = quat.Number{Real: 1}
	}
	if n > 0 {
		positions[0] = selfPos
	}
	return distances, positions, velocities, orientations, ids
}

func newTestFuser(t *testing.T, cfg Config, opts ...Option) *Fuser {
	t.Helper()
	f, err := NewFuser(cfg, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ThreadNum = 2
	cfg.RandomSeed = 7
	return cfg
}

func TestKeyframeAdmission(t *testing.T) {
	f := newTestFuser(t, testConfig())

	steps := []struct {
		name string
		self float64
		ids  []int
		want bool
	}{
		{"single drone", 0, []int{0}, false},
		{"without self", 0, []int{1, 2}, false},
		{"first", 0, []int{0, 1}, true},
		{"repeat", 0, []int{0, 1}, false},
		{"small move", 0.1, []int{0, 1}, false},
		{"more drones", 0, []int{0, 1, 2}, true},
		{"small move again", 0.15, []int{0, 1, 2}, false},
		{"moved", 0.3, []int{0, 1}, true},
		{"drone returns", 0.3, []int{0, 1, 2}, true},
	}
	for _, step := range steps {
		ok, err := f.AddTick(uniformTick(r3.Vector{X: step.self}, 1, step.ids...))
		test.That(t, err, test.ShouldBeNil)
		if ok != step.want {
			t.Fatalf("%s: keyframe = %v, want %v", step.name, ok, step.want)
		}
	}
	test.That(t, f.KeyframeCount(), test.ShouldEqual, 4)
	test.That(t, f.DroneIDs(), test.ShouldResemble, []int{0, 1, 2})
}

func TestAddTickValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDrones = 2
	f := newTestFuser(t, cfg)

	distances, positions, velocities, orientations, ids := uniformTick(r3.Vector{}, 1, 0, 1)
	_, err := f.AddTick(distances[:1], positions, velocities, orientations, ids)
	test.That(t, errors.Is(err, ErrMismatchedLengths), test.ShouldBeTrue)

	_, err = f.AddTick(distances, positions, velocities[:1], orientations, ids)
	test.That(t, errors.Is(err, ErrMismatchedLengths), test.ShouldBeTrue)

	ragged := [][]float64{{0, 1}, {1}}
	_, err = f.AddTick(ragged, positions, velocities, orientations, ids)
	test.That(t, errors.Is(err, ErrMismatchedLengths), test.ShouldBeTrue)

	_, err = f.AddTick(uniformTick(r3.Vector{}, 1, 0, 0))
	test.That(t, errors.Is(err, ErrDuplicateID), test.ShouldBeTrue)

	ok, err := f.AddTick(distances, positions, velocities, orientations, ids)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	_, err = f.AddTick(uniformTick(r3.Vector{}, 1, 0, 1, 2))
	test.That(t, errors.Is(err, ErrTooManyDrones), test.ShouldBeTrue)
	test.That(t, f.KeyframeCount(), test.ShouldEqual, 1)
	test.That(t, f.DroneIDs(), test.ShouldResemble, []int{0, 1})
}

func TestKeyframeDistance(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	kf, err := NewKeyframe(
		[][]float64{
			{0, 0, nan},
			{2, 0, -1},
			{inf, 0, 0},
		},
		make([]r3.Vector, 3), make([]r3.Vector, 3), []quat.Number{{Real: 1}, {Real: 2}, {Real: 1}}, []int{4, 5, 6},
	)
	test.That(t, err, test.ShouldBeNil)

	d, ok := kf.Distance(0, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldEqual, 2)
	d, ok = kf.Distance(1, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldEqual, 2)
	_, ok = kf.Distance(0, 2)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = kf.Distance(1, 2)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, kf.IndexOf(6), test.ShouldEqual, 2)
	test.That(t, kf.IndexOf(7), test.ShouldEqual, -1)
	test.That(t, kf.Orientations[1], test.ShouldResemble, quat.Number{Real: 1})
}

func TestKeyframeRing(t *testing.T) {
	ring := newKeyframeRing(5)
	test.That(t, ring.latest(), test.ShouldBeNil)
	for i := 1; i <= 7; i++ {
		ring.push(&Keyframe{IDs: []int{i}})
	}
	test.That(t, ring.len(), test.ShouldEqual, 5)
	test.That(t, ring.at(0).IDs[0], test.ShouldEqual, 3)
	test.That(t, ring.latest().IDs[0], test.ShouldEqual, 7)

	ids := func(frames []*Keyframe) []int {
		out := make([]int, len(frames))
		for i, kf := range frames {
			out[i] = kf.IDs[0]
		}
		return out
	}
	test.That(t, ids(ring.last(3)), test.ShouldResemble, []int{5, 6, 7})
	test.That(t, ids(ring.last(10)), test.ShouldResemble, []int{3, 4, 5, 6, 7})
}

func TestIDIndex(t *testing.T) {
	index := NewIDIndex(9, 3)
	slot, ok := index.Slot(9)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, slot, test.ShouldEqual, 0)

	slot, err := index.Assign(4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slot, test.ShouldEqual, 1)
	slot, err = index.Assign(9)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slot, test.ShouldEqual, 0)
	slot, err = index.Assign(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slot, test.ShouldEqual, 2)
	slot, err = index.Assign(4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slot, test.ShouldEqual, 1)

	_, err = index.Assign(11)
	test.That(t, errors.Is(err, ErrTooManyDrones), test.ShouldBeTrue)
	test.That(t, index.IDs(), test.ShouldResemble, []int{9, 4, 2})
	test.That(t, index.ID(2), test.ShouldEqual, 2)
}

func TestWrapYaw(t *testing.T) {
	test.That(t, WrapYaw(0), test.ShouldEqual, 0)
	test.That(t, WrapYaw(1), test.ShouldEqual, 1)
	test.That(t, WrapYaw(-math.Pi/2), test.ShouldAlmostEqual, 3*math.Pi/2)
	test.That(t, WrapYaw(2*math.Pi), test.ShouldEqual, 0)
	test.That(t, WrapYaw(5*math.Pi), test.ShouldAlmostEqual, math.Pi)

	z := NewStateVector(2)
	z.Set(1, r3.Vector{X: 1, Y: 2, Z: 3}, -0.5)
	test.That(t, z.Translation(1), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, z.Yaw(1), test.ShouldAlmostEqual, 2*math.Pi-0.5)
	z[3] = -1
	z.WrapYaws()
	test.That(t, z.Yaw(0), test.ShouldAlmostEqual, 2*math.Pi-1)
}
