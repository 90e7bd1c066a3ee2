package trajectory

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dronefleet/swarmloc/spatialmath"
)

// Store holds the trajectories of every drone in the swarm.
type Store struct {
	mu   sync.RWMutex
	byID map[int]*Trajectory
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byID: map[int]*Trajectory{}}
}

// Trajectory returns the trajectory of a drone, creating it if needed.
func (s *Store) Trajectory(droneID int) *Trajectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	traj, ok := s.byID[droneID]
	if !ok {
		traj = New(droneID)
		s.byID[droneID] = traj
	}
	return traj
}

// Lookup returns the trajectory of a drone if one is stored.
func (s *Store) Lookup(droneID int) (*Trajectory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	traj, ok := s.byID[droneID]
	return traj, ok
}

// Append adds a sample to a drone's trajectory.
func (s *Store) Append(droneID int, sample Sample) error {
	return s.Trajectory(droneID).Append(sample)
}

// DroneIDs returns the stored drone ids in ascending order.
func (s *Store) DroneIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RelativePoseByTS answers an ego-motion query for one drone.
func (s *Store) RelativePoseByTS(droneID int, from, to int64) (spatialmath.Pose, *mat.SymDense, error) {
	traj, ok := s.Lookup(droneID)
	if !ok {
		return spatialmath.Pose{}, nil, errors.Wrapf(ErrUnknownDrone, "drone %d", droneID)
	}
	return traj.RelativePoseByTS(from, to)
}
