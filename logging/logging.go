// Package logging contains the structured logger shared by the swarm estimation packages.
package logging

import (
	"io"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewBlankLogger returns a new logger that outputs Debug+ logs in UTC, but without any
// pre-existing appenders/outputs.
func NewBlankLogger(name string) Logger {
	const inUTC = true
	return &impl{name, NewAtomicLevelAt(DEBUG), inUTC, []Appender{}}
}

// NewLoggerWithConfig builds a logger from a level string and an optional rotating log file.
// Console output goes to out, or stdout when out is nil.
func NewLoggerWithConfig(name, level, filename string, out io.Writer) (Logger, error) {
	lvl := INFO
	if level != "" {
		var err error
		if lvl, err = LevelFromString(level); err != nil {
			return nil, err
		}
	}
	logger := NewBlankLogger(name)
	logger.SetLevel(lvl)
	if out == nil {
		logger.AddAppender(NewStdoutAppender())
	} else {
		logger.AddAppender(NewWriterAppender(out))
	}
	if filename != "" {
		logger.AddAppender(NewFileAppender(filename))
	}
	return logger, nil
}

// NewTestLogger returns a new logger that outputs Debug+ logs to the test object in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	const inUTC = false
	logger := &impl{"", NewAtomicLevelAt(DEBUG), inUTC, []Appender{}}
	logger.AddAppender(NewTestAppender(tb))

	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	logger.AddAppender(observerCore)

	return logger, observedLogs
}
