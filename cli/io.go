package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/loopclosure"
	"github.com/dronefleet/swarmloc/spatialmath"
	"github.com/dronefleet/swarmloc/trajectory"
)

// Orientations are written [w, x, y, z].

type tickRecord struct {
	IDs          []int        `json:"ids"`
	Distances    [][]float64  `json:"distances"`
	Positions    [][3]float64 `json:"positions"`
	Velocities   [][3]float64 `json:"velocities"`
	Orientations [][4]float64 `json:"orientations"`
}

type edgeRecord struct {
	ID          int64      `json:"id"`
	DroneA      int        `json:"drone_a"`
	DroneB      int        `json:"drone_b"`
	TSA         int64      `json:"ts_a"`
	TSB         int64      `json:"ts_b"`
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
	Covariance  []float64  `json:"covariance"`
	DOF         int        `json:"dof"`
}

type sampleRecord struct {
	TS          int64      `json:"ts"`
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
	Covariance  []float64  `json:"covariance,omitempty"`
}

type trajectoryRecord struct {
	DroneID int            `json:"drone_id"`
	Samples []sampleRecord `json:"samples"`
}

func toVector(v [3]float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

func toQuat(q [4]float64) quat.Number {
	return quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
}

func toVectors(vs [][3]float64) []r3.Vector {
	out := make([]r3.Vector, len(vs))
	for i, v := range vs {
		out[i] = toVector(v)
	}
	return out
}

func toQuats(qs [][4]float64) []quat.Number {
	out := make([]quat.Number, len(qs))
	for i, q := range qs {
		out[i] = toQuat(q)
	}
	return out
}

// readTicks reads one tick per line. Blank lines are skipped.
func readTicks(path string) ([]tickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ticks []tickRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var tick tickRecord
		if err := json.Unmarshal(text, &tick); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, line)
		}
		ticks = append(ticks, tick)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return ticks, nil
}

// readJSON decodes a hand-editable input file, which may carry comments and trailing commas.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json5.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "cannot parse %s", path)
	}
	return nil
}

// readEdges reads a loop edge pool. Repeated edge ids are counted and dropped.
func readEdges(path string) (*loopclosure.Pool, int, error) {
	var records []edgeRecord
	if err := readJSON(path, &records); err != nil {
		return nil, 0, err
	}
	pool := loopclosure.NewPool()
	duplicates := 0
	for _, rec := range records {
		cov, err := spatialmath.NewCovarianceFromSlice(rec.Covariance)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "loop edge %d", rec.ID)
		}
		pose := spatialmath.NewPose(toVector(rec.Position), toQuat(rec.Orientation))
		edge, err := loopclosure.NewEdge(rec.ID, rec.DroneA, rec.DroneB, rec.TSA, rec.TSB, pose, cov, rec.DOF)
		if err != nil {
			return nil, 0, err
		}
		if !pool.Add(edge) {
			duplicates++
		}
	}
	return pool, duplicates, nil
}

func readTrajectories(path string) (*trajectory.Store, error) {
	var records []trajectoryRecord
	if err := readJSON(path, &records); err != nil {
		return nil, err
	}
	store := trajectory.NewStore()
	for _, rec := range records {
		for _, s := range rec.Samples {
			var step *mat.SymDense
			if len(s.Covariance) > 0 {
				var err error
				if step, err = spatialmath.NewCovarianceFromSlice(s.Covariance); err != nil {
					return nil, errors.Wrapf(err, "drone %d sample %d", rec.DroneID, s.TS)
				}
			}
			sample := trajectory.Sample{
				TS:             s.TS,
				Pose:           spatialmath.NewPose(toVector(s.Position), toQuat(s.Orientation)),
				StepCovariance: step,
			}
			if err := store.Append(rec.DroneID, sample); err != nil {
				return nil, errors.Wrapf(err, "drone %d", rec.DroneID)
			}
		}
	}
	return store, nil
}
