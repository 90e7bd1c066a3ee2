// Package pcmsink provides outlier rejection diagnostic sinks backed by text files and SQLite.
package pcmsink

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/dronefleet/swarmloc/outlierrejection"
)

// FileSink writes kept edge ids to one file, one per line, and pair distances to another as
// "<first> <second> <distance>" lines.
type FileSink struct {
	mu       sync.Mutex
	goodFile *os.File
	errFile  *os.File
	good     *bufio.Writer
	pairs    *bufio.Writer
	writeErr error
}

// NewFileSink creates (truncating) both files. An empty path disables that output.
func NewFileSink(goodPath, errorsPath string) (*FileSink, error) {
	s := &FileSink{}
	if goodPath != "" {
		f, err := os.Create(goodPath)
		if err != nil {
			return nil, errors.Wrap(err, "opening pcm good file")
		}
		s.goodFile, s.good = f, bufio.NewWriter(f)
	}
	if errorsPath != "" {
		f, err := os.Create(errorsPath)
		if err != nil {
			return nil, multierr.Combine(errors.Wrap(err, "opening pcm errors file"), s.Close())
		}
		s.errFile, s.pairs = f, bufio.NewWriter(f)
	}
	return s, nil
}

// RecordPairError writes one pair line.
func (s *FileSink) RecordPairError(first, second int64, smd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairs == nil {
		return
	}
	if _, err := fmt.Fprintf(s.pairs, "%d %d %f\n", first, second, smd); err != nil {
		s.writeErr = multierr.Append(s.writeErr, err)
	}
}

// RecordGoodEdge writes one edge id line.
func (s *FileSink) RecordGoodEdge(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.good == nil {
		return
	}
	if _, err := fmt.Fprintf(s.good, "%d\n", id); err != nil {
		s.writeErr = multierr.Append(s.writeErr, err)
	}
}

// Flush writes buffered lines to disk.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.good != nil {
		err = multierr.Append(err, s.good.Flush())
	}
	if s.pairs != nil {
		err = multierr.Append(err, s.pairs.Flush())
	}
	return multierr.Append(err, s.writeErr)
}

// Close flushes and closes both files.
func (s *FileSink) Close() error {
	err := s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goodFile != nil {
		err = multierr.Append(err, s.goodFile.Close())
		s.goodFile, s.good = nil, nil
	}
	if s.errFile != nil {
		err = multierr.Append(err, s.errFile.Close())
		s.errFile, s.pairs = nil, nil
	}
	return err
}

// Multi fans records out to several sinks.
type Multi []outlierrejection.Sink

// RecordPairError forwards to every sink.
func (m Multi) RecordPairError(first, second int64, smd float64) {
	for _, s := range m {
		s.RecordPairError(first, second, smd)
	}
}

// RecordGoodEdge forwards to every sink.
func (m Multi) RecordGoodEdge(id int64) {
	for _, s := range m {
		s.RecordGoodEdge(id)
	}
}
