package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vppdisplay/internal/config"
	"vppdisplay/internal/display"
)

// SpoolArtifact keeps a whole run on disk when no database is configured
// or the database write failed.
type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID        int    `json:"run_id"`
	HardwareName string `json:"hardware_name"`
	ScenarioName string `json:"scenario_name"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata          `json:"metadata"`
	Reports  []display.FrameReport `json:"reports"`
	// FinalState holds the JSON dumps of the pool and every display after
	// the last frame, keyed by "pool" and display name.
	FinalState map[string]json.RawMessage `json:"final_state,omitempty"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("VPPDISPLAY_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	scenario := sanitizeName(artifact.ScenarioName)
	if scenario == "" {
		scenario = "noscenario"
	}
	name := fmt.Sprintf(
		"run_%d_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		scenario,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("spool %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("spool %s: %w", path, err)
	}
	return &artifact, nil
}

// BuildSpoolArtifact constructs a spool artifact from the in-memory run results.
func BuildSpoolArtifact(
	runID int,
	hw *config.HardwareConfig,
	configContent string,
	scenarioName string,
	metadata *RunMetadata,
	reports []display.FrameReport,
	finalState map[string][]byte,
) *SpoolArtifact {
	name := ""
	if hw != nil {
		name = hw.Hardware.Name
	}
	if name == "" && metadata != nil {
		name = metadata.HardwareName
	}

	var state map[string]json.RawMessage
	if len(finalState) > 0 {
		state = make(map[string]json.RawMessage, len(finalState))
		for k, v := range finalState {
			state[k] = json.RawMessage(v)
		}
	}

	return &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		RunID:         runID,
		HardwareName:  name,
		ScenarioName:  scenarioName,
		ConfigContent: configContent,
		Metadata:      metadata,
		Reports:       reports,
		FinalState:    state,
	}
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '-'
		}
		return -1
	}, s)
}
