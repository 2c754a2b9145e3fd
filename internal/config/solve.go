// Package config loads solver tuning parameters from JSON. The schema uses
// pointer fields so partial files are safe: any field omitted from the JSON
// falls back to its documented default through the Get* accessors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Defaults for the solve. Jitter corrections are expected to be sub-pixel,
// so the convergence tolerances are very tight.
const (
	DefaultRobustThreshold    = 0.5
	DefaultMaxInitReprojError = 5.0
	DefaultNumIterations      = 500
	DefaultParameterTolerance = 1e-12
	DefaultAnchorWeight       = 1.0
	DefaultAnchorRobustThresh = 0.5
)

// SolveConfig represents the tunable surface of the jitter solver. The
// schema matches the flags of the root command so the same JSON can drive
// batch runs.
type SolveConfig struct {
	// Robust loss and outlier gating
	RobustThreshold    *float64 `json:"robust_threshold,omitempty"`
	MaxInitReprojError *float64 `json:"max_init_reproj_error,omitempty"`

	// Termination policy
	NumIterations      *int     `json:"num_iterations,omitempty"`
	ParameterTolerance *float64 `json:"parameter_tolerance,omitempty"`

	// Threading
	NumThreads            *int  `json:"num_threads,omitempty"`
	SingleThreadedCameras *bool `json:"single_threaded_cameras,omitempty"`

	// Optional ground anchoring
	ReferenceSurface   *string  `json:"reference_surface,omitempty"`
	AnchorWeight       *float64 `json:"anchor_weight,omitempty"`
	AnchorRobustThresh *float64 `json:"anchor_robust_threshold,omitempty"`
}

// EmptySolveConfig returns a SolveConfig with all fields unset.
func EmptySolveConfig() *SolveConfig {
	return &SolveConfig{}
}

// LoadSolveConfig loads a SolveConfig from a JSON file. The path must have a
// .json extension and the file must be under 1MB. Fields omitted from the
// file keep their defaults.
func LoadSolveConfig(path string) (*SolveConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySolveConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects contradictory values early, before any optimization work.
func (c *SolveConfig) Validate() error {
	if c.RobustThreshold != nil && *c.RobustThreshold <= 0 {
		return fmt.Errorf("robust_threshold must be positive, got %g", *c.RobustThreshold)
	}
	if c.MaxInitReprojError != nil && *c.MaxInitReprojError <= 0 {
		return fmt.Errorf("max_init_reproj_error must be positive, got %g", *c.MaxInitReprojError)
	}
	if c.NumIterations != nil && *c.NumIterations <= 0 {
		return fmt.Errorf("num_iterations must be positive, got %d", *c.NumIterations)
	}
	if c.ParameterTolerance != nil && *c.ParameterTolerance <= 0 {
		return fmt.Errorf("parameter_tolerance must be positive, got %g", *c.ParameterTolerance)
	}
	if c.NumThreads != nil && *c.NumThreads < 1 {
		return fmt.Errorf("num_threads must be at least 1, got %d", *c.NumThreads)
	}
	if c.AnchorWeight != nil && *c.AnchorWeight < 0 {
		return fmt.Errorf("anchor_weight must be non-negative, got %g", *c.AnchorWeight)
	}
	return nil
}

// GetRobustThreshold returns the Cauchy loss transition scale in pixels.
func (c *SolveConfig) GetRobustThreshold() float64 {
	if c.RobustThreshold != nil {
		return *c.RobustThreshold
	}
	return DefaultRobustThreshold
}

// GetMaxInitReprojError returns the outlier gating threshold in pixels.
func (c *SolveConfig) GetMaxInitReprojError() float64 {
	if c.MaxInitReprojError != nil {
		return *c.MaxInitReprojError
	}
	return DefaultMaxInitReprojError
}

// GetNumIterations returns the iteration cap.
func (c *SolveConfig) GetNumIterations() int {
	if c.NumIterations != nil {
		return *c.NumIterations
	}
	return DefaultNumIterations
}

// GetParameterTolerance returns the relative parameter-change tolerance.
func (c *SolveConfig) GetParameterTolerance() float64 {
	if c.ParameterTolerance != nil {
		return *c.ParameterTolerance
	}
	return DefaultParameterTolerance
}

// GetNumThreads returns the evaluation worker count, bounded by the host's
// hardware concurrency when unset.
func (c *SolveConfig) GetNumThreads() int {
	if c.NumThreads != nil {
		return *c.NumThreads
	}
	return runtime.NumCPU()
}

// GetSingleThreadedCameras reports the user override forcing single-threaded
// evaluation regardless of what the camera loader reported.
func (c *SolveConfig) GetSingleThreadedCameras() bool {
	if c.SingleThreadedCameras != nil {
		return *c.SingleThreadedCameras
	}
	return false
}

// GetReferenceSurface returns the optional reference elevation surface path;
// empty means ground anchoring is disabled.
func (c *SolveConfig) GetReferenceSurface() string {
	if c.ReferenceSurface != nil {
		return *c.ReferenceSurface
	}
	return ""
}

// GetAnchorWeight returns the linear weight on anchor residuals.
func (c *SolveConfig) GetAnchorWeight() float64 {
	if c.AnchorWeight != nil {
		return *c.AnchorWeight
	}
	return DefaultAnchorWeight
}

// GetAnchorRobustThresh returns the Cauchy scale for anchor residuals.
func (c *SolveConfig) GetAnchorRobustThresh() float64 {
	if c.AnchorRobustThresh != nil {
		return *c.AnchorRobustThresh
	}
	return DefaultAnchorRobustThresh
}
