// Package outlierrejection filters loop closure edges with pairwise consistency maximization:
// edges are kept only if they belong to the largest set whose members all agree with each other
// and with the drones' odometry.
package outlierrejection

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dronefleet/swarmloc/spatialmath"
)

// CliqueMethod selects the maximum clique search.
type CliqueMethod string

const (
	// CliqueHeuristic is the greedy polynomial time search.
	CliqueHeuristic CliqueMethod = "heuristic"
	// CliqueExact enumerates maximal cliques with Bron–Kerbosch. Exponential in the worst case.
	CliqueExact CliqueMethod = "exact"
)

// DefaultPCMThreshold is the squared Mahalanobis distance below which two edges are consistent.
const DefaultPCMThreshold = 2.8

// Config holds the outlier rejection settings.
type Config struct {
	EnablePCM    bool    `json:"enable_pcm"`
	PCMThreshold float64 `json:"pcm_thres"`
	// PCMConfidence, when set, replaces PCMThreshold with the chi-square quantile at this
	// confidence for the six pose degrees of freedom.
	PCMConfidence       float64      `json:"pcm_confidence"`
	CliqueMethod        CliqueMethod `json:"clique_method"`
	DebugWritePCMGood   bool         `json:"debug_write_pcm_good"`
	DebugWritePCMErrors bool         `json:"debug_write_pcm_errors"`
	PCMGoodPath         string       `json:"pcm_good_path"`
	PCMErrorsPath       string       `json:"pcm_errors_path"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		EnablePCM:     true,
		PCMThreshold:  DefaultPCMThreshold,
		CliqueMethod:  CliqueHeuristic,
		PCMGoodPath:   "pcm_good.txt",
		PCMErrorsPath: "pcm_errors.txt",
	}
}

// Threshold returns the effective consistency threshold.
func (c Config) Threshold() float64 {
	if c.PCMConfidence > 0 && c.PCMConfidence < 1 {
		return distuv.ChiSquared{K: spatialmath.PoseDOF}.Quantile(c.PCMConfidence)
	}
	return c.PCMThreshold
}

// Validate returns every problem with the config.
func (c Config) Validate() error {
	var errs error
	if c.PCMConfidence != 0 && (c.PCMConfidence <= 0 || c.PCMConfidence >= 1) {
		errs = multierr.Append(errs, errors.Errorf("pcm_confidence must be in (0, 1), got %v", c.PCMConfidence))
	}
	if c.PCMConfidence == 0 && c.PCMThreshold <= 0 {
		errs = multierr.Append(errs, errors.Errorf("pcm_thres must be positive, got %v", c.PCMThreshold))
	}
	switch c.CliqueMethod {
	case "", CliqueHeuristic, CliqueExact:
	default:
		errs = multierr.Append(errs, errors.Errorf("unknown clique_method %q", c.CliqueMethod))
	}
	return errs
}
