package pcmsink

import (
	"database/sql"
	_ "embed"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// schema.sql creates the run, pair distance and kept edge tables.
//
//go:embed schema.sql
var schemaSQL string

// SQLiteSink stores diagnostics of one rejection run in a SQLite database. Records from several
// runs can share a database; each run gets its own id.
type SQLiteSink struct {
	db    *sql.DB
	runID string

	mu  sync.Mutex
	err error
}

// NewSQLiteSink opens (creating if needed) the database at path and registers a new run.
func NewSQLiteSink(path string, threshold float64) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating pcm schema"), db.Close())
	}
	s := &SQLiteSink{db: db, runID: uuid.NewString()}
	if _, err := db.Exec(
		`INSERT INTO pcm_runs (run_id, started_unix_nanos, threshold) VALUES (?, ?, ?)`,
		s.runID, time.Now().UnixNano(), threshold,
	); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "registering pcm run"), db.Close())
	}
	return s, nil
}

// RunID returns the id under which this sink stores its records.
func (s *SQLiteSink) RunID() string {
	return s.runID
}

// RecordPairError inserts one pair distance.
func (s *SQLiteSink) RecordPairError(first, second int64, smd float64) {
	_, err := s.db.Exec(
		`INSERT INTO pcm_errors (run_id, first_edge, second_edge, squared_mahalanobis) VALUES (?, ?, ?, ?)`,
		s.runID, first, second, smd,
	)
	s.record(err)
}

// RecordGoodEdge inserts one kept edge.
func (s *SQLiteSink) RecordGoodEdge(id int64) {
	_, err := s.db.Exec(`INSERT INTO pcm_good (run_id, edge_id) VALUES (?, ?)`, s.runID, id)
	s.record(err)
}

func (s *SQLiteSink) record(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = multierr.Append(s.err, err)
	s.mu.Unlock()
}

// Err returns the insert failures seen so far.
func (s *SQLiteSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// GoodEdges returns the kept edge ids of this run in insertion order.
func (s *SQLiteSink) GoodEdges() ([]int64, error) {
	rows, err := s.db.Query(`SELECT edge_id FROM pcm_good WHERE run_id = ? ORDER BY rowid`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PairCount returns the number of pair distances stored for this run.
func (s *SQLiteSink) PairCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pcm_errors WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

// Close returns any recorded insert failure combined with the close error.
func (s *SQLiteSink) Close() error {
	return multierr.Combine(s.Err(), s.db.Close())
}
