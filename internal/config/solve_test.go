package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptySolveConfigDefaults(t *testing.T) {
	cfg := EmptySolveConfig()

	if got := cfg.GetRobustThreshold(); got != DefaultRobustThreshold {
		t.Errorf("GetRobustThreshold() = %g, want %g", got, DefaultRobustThreshold)
	}
	if got := cfg.GetMaxInitReprojError(); got != DefaultMaxInitReprojError {
		t.Errorf("GetMaxInitReprojError() = %g, want %g", got, DefaultMaxInitReprojError)
	}
	if got := cfg.GetNumIterations(); got != DefaultNumIterations {
		t.Errorf("GetNumIterations() = %d, want %d", got, DefaultNumIterations)
	}
	if got := cfg.GetParameterTolerance(); got != DefaultParameterTolerance {
		t.Errorf("GetParameterTolerance() = %g, want %g", got, DefaultParameterTolerance)
	}
	if got := cfg.GetNumThreads(); got < 1 {
		t.Errorf("GetNumThreads() = %d, want >= 1", got)
	}
	if cfg.GetSingleThreadedCameras() {
		t.Error("GetSingleThreadedCameras() = true, want false")
	}
	if got := cfg.GetReferenceSurface(); got != "" {
		t.Errorf("GetReferenceSurface() = %q, want empty", got)
	}
	if got := cfg.GetAnchorWeight(); got != DefaultAnchorWeight {
		t.Errorf("GetAnchorWeight() = %g, want %g", got, DefaultAnchorWeight)
	}
}

func TestLoadSolveConfig_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solve.json")
	body := `{"robust_threshold": 1.5, "num_iterations": 25, "single_threaded_cameras": true}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadSolveConfig(path)
	if err != nil {
		t.Fatalf("LoadSolveConfig: %v", err)
	}
	if got := cfg.GetRobustThreshold(); got != 1.5 {
		t.Errorf("GetRobustThreshold() = %g, want 1.5", got)
	}
	if got := cfg.GetNumIterations(); got != 25 {
		t.Errorf("GetNumIterations() = %d, want 25", got)
	}
	if !cfg.GetSingleThreadedCameras() {
		t.Error("GetSingleThreadedCameras() = false, want true")
	}
	// Untouched fields keep defaults.
	if got := cfg.GetParameterTolerance(); got != DefaultParameterTolerance {
		t.Errorf("GetParameterTolerance() = %g, want default %g", got, DefaultParameterTolerance)
	}
}

func TestLoadSolveConfig_RejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solve.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSolveConfig(path); err == nil {
		t.Fatal("expected error for non-.json extension")
	}
}

func TestLoadSolveConfig_MissingFile(t *testing.T) {
	if _, err := LoadSolveConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadSolveConfig_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSolveConfig(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	neg := -1.0
	zero := 0
	badThreads := 0
	tests := []struct {
		name    string
		cfg     SolveConfig
		wantErr bool
	}{
		{"empty", SolveConfig{}, false},
		{"negative robust threshold", SolveConfig{RobustThreshold: &neg}, true},
		{"negative gate", SolveConfig{MaxInitReprojError: &neg}, true},
		{"zero iterations", SolveConfig{NumIterations: &zero}, true},
		{"negative parameter tolerance", SolveConfig{ParameterTolerance: &neg}, true},
		{"zero threads", SolveConfig{NumThreads: &badThreads}, true},
		{"negative anchor weight", SolveConfig{AnchorWeight: &neg}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadSolveConfig_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"num_iterations": -3}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSolveConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}
