// Package testutils provides helpers shared by the package tests: leak checking, temporary files
// and a simulated drone swarm with known ground truth.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"
	"go.viam.com/test"
)

// VerifyTestMain runs the package tests and fails if goroutines outlive them.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m,
		// lumberjack starts a mill goroutine per rotating file that is never stopped.
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

// WriteTempFile writes contents to name inside a fresh temporary directory and returns the path.
func WriteTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(contents), 0o644), test.ShouldBeNil)
	return path
}
