package testutils

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/loopclosure"
	"github.com/dronefleet/swarmloc/spatialmath"
	"github.com/dronefleet/swarmloc/trajectory"
)

// SimDrone flies a circle in the world frame. Its odometry frame starts at Origin with heading
// Heading in the world.
type SimDrone struct {
	ID      int
	Origin  r3.Vector
	Heading float64

	Center r3.Vector
	Radius float64
	Rate   float64
	Phase  float64
}

// WorldPose returns the drone body pose in the world frame at time t (seconds).
func (d SimDrone) WorldPose(t float64) spatialmath.Pose {
	angle := d.Rate*t + d.Phase
	pos := d.Center.Add(r3.Vector{
		X: d.Radius * math.Cos(angle),
		Y: d.Radius * math.Sin(angle),
		Z: 0.2 * math.Sin(t+d.Phase),
	})
	return spatialmath.NewPose(pos, spatialmath.YawQuat(angle+math.Pi/2))
}

// WorldVelocity returns the drone velocity in the world frame at time t.
func (d SimDrone) WorldVelocity(t float64) r3.Vector {
	angle := d.Rate*t + d.Phase
	return r3.Vector{
		X: -d.Radius * d.Rate * math.Sin(angle),
		Y: d.Radius * d.Rate * math.Cos(angle),
		Z: 0.2 * math.Cos(t+d.Phase),
	}
}

func (d SimDrone) odomFrame() spatialmath.Pose {
	return spatialmath.NewPose(d.Origin, spatialmath.YawQuat(d.Heading))
}

// OdomPose returns the drone pose in its own odometry frame.
func (d SimDrone) OdomPose(t float64) spatialmath.Pose {
	return spatialmath.PoseBetween(d.odomFrame(), d.WorldPose(t))
}

// OdomVelocity returns the drone velocity in its own odometry frame.
func (d SimDrone) OdomVelocity(t float64) r3.Vector {
	return spatialmath.RotateZ(-d.Heading, d.WorldVelocity(t))
}

// Tick is one synchronized observation as seen by the estimating drone.
type Tick struct {
	IDs          []int
	Distances    [][]float64
	Positions    []r3.Vector
	Velocities   []r3.Vector
	Orientations []quat.Number
}

// Swarm is a set of simulated drones. Drones[0] is the estimating drone.
type Swarm struct {
	Drones []SimDrone
	// DistanceNoise is the standard deviation of the additive range noise. Zero gives exact ranges.
	DistanceNoise float64
	Rand          *rand.Rand
}

// NewCircleSwarm returns n drones flying offset circles with distinct odometry frames.
func NewCircleSwarm(n int) *Swarm {
	drones := make([]SimDrone, n)
	for i := range drones {
		fi := float64(i)
		drones[i] = SimDrone{
			ID:      i,
			Origin:  r3.Vector{X: 3 * fi, Y: -2 * fi, Z: 0.5 * fi},
			Heading: 0.7 * fi,
			Center:  r3.Vector{X: 4 * math.Cos(fi), Y: 4 * math.Sin(fi), Z: 1 + 0.3*fi},
			Radius:  1.5 + 0.5*fi,
			Rate:    0.3 + 0.1*fi,
			Phase:   1.3 * fi,
		}
	}
	return &Swarm{Drones: drones}
}

// TickAt returns the observation at time t for the drones listed by index in members. A nil
// members slice includes every drone.
func (s *Swarm) TickAt(t float64, members []int) Tick {
	if members == nil {
		members = make([]int, len(s.Drones))
		for i := range members {
			members[i] = i
		}
	}
	tick := Tick{Distances: make([][]float64, len(members))}
	world := make([]r3.Vector, len(members))
	for k, idx := range members {
		d := s.Drones[idx]
		odom := d.OdomPose(t)
		tick.IDs = append(tick.IDs, d.ID)
		tick.Positions = append(tick.Positions, odom.Position)
		tick.Velocities = append(tick.Velocities, d.OdomVelocity(t))
		tick.Orientations = append(tick.Orientations, odom.Orientation)
		world[k] = d.WorldPose(t).Position
	}
	for i := range members {
		tick.Distances[i] = make([]float64, len(members))
		for j := range members {
			if i == j {
				continue
			}
			dist := world[i].Sub(world[j]).Norm()
			if s.DistanceNoise > 0 && s.Rand != nil {
				dist += s.Rand.NormFloat64() * s.DistanceNoise
			}
			tick.Distances[i][j] = dist
		}
	}
	return tick
}

// RelativeFrame returns the yaw and translation of drone other's odometry frame expressed in
// drone self's odometry frame, the quantities the fuser estimates.
func (s *Swarm) RelativeFrame(self, other int) (float64, r3.Vector) {
	rel := spatialmath.PoseBetween(s.Drones[self].odomFrame(), s.Drones[other].odomFrame())
	return spatialmath.Yaw(rel.Orientation), rel.Position
}

// Timestamp converts simulation seconds to nanoseconds.
func Timestamp(t float64) int64 {
	return int64(math.Round(t * 1e9))
}

// TrajectoryStore records every drone's odometry at the given times with a constant step
// covariance.
func (s *Swarm) TrajectoryStore(times []float64, step *mat.SymDense) (*trajectory.Store, error) {
	store := trajectory.NewStore()
	for _, d := range s.Drones {
		for _, t := range times {
			err := store.Append(d.ID, trajectory.Sample{TS: Timestamp(t), Pose: d.OdomPose(t), StepCovariance: step})
			if err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}

// TrueRelativePose returns the pose of drone b at tb in the body frame of drone a at ta.
func (s *Swarm) TrueRelativePose(a int, ta float64, b int, tb float64) spatialmath.Pose {
	return spatialmath.PoseBetween(s.Drones[a].WorldPose(ta), s.Drones[b].WorldPose(tb))
}

// LoopEdge builds a loop edge from ground truth, optionally perturbed by an extra transform
// applied on the measured side.
func (s *Swarm) LoopEdge(
	id int64,
	a int, ta float64,
	b int, tb float64,
	cov *mat.SymDense,
	perturbation *spatialmath.Pose,
) (*loopclosure.Edge, error) {
	rel := s.TrueRelativePose(a, ta, b, tb)
	if perturbation != nil {
		rel = spatialmath.Compose(rel, *perturbation)
	}
	return loopclosure.NewEdge(id, s.Drones[a].ID, s.Drones[b].ID, Timestamp(ta), Timestamp(tb), rel, cov, 50)
}
