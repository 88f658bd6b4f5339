package database

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vppdisplay/internal/config"
	"vppdisplay/internal/display"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func sampleReports() []display.FrameReport {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []display.FrameReport{
		{Timestamp: ts, Display: "lcd", Frame: 1, Layers: 3, Overlays: 2, GPULayers: 1, FbNeeded: true,
			Iterations: 1, Converged: true, WinUpdate: display.WinUpdateApplied, Submitted: true},
		{Timestamp: ts, Display: "hdmi", Frame: 1, Layers: 1, Overlays: 1, Iterations: 2, Converged: true, Submitted: true},
		{Timestamp: ts.Add(16 * time.Millisecond), Display: "lcd", Frame: 2, Layers: 3, Overlays: 2,
			Iterations: 100, Converged: false},
	}
}

func TestFramePoint_LineProtocol(t *testing.T) {
	reports := sampleReports()
	line := write.PointToLineProtocol(framePoint(7, &reports[0]), time.Nanosecond)

	for _, want := range []string{
		"frame_reports,",
		"display=lcd",
		"run_id=7",
		"overlays=2i",
		"gpu_layers=1i",
		"converged=true",
		`win_update="updated"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q does not contain %q", line, want)
		}
	}
}

func TestCollectRunMetadata_CountsFrames(t *testing.T) {
	hw := &config.HardwareConfig{
		Hardware: config.HardwareInfo{Name: "board"},
		Displays: []config.DisplayConfig{{Name: "lcd"}, {Name: "hdmi"}},
	}
	start := time.Now()
	end := start.Add(1500 * time.Millisecond)

	meta := CollectRunMetadata(3, hw, "video", "hardware: {}", 4, sampleReports(), start, end, "1.0.0")
	if meta.RunID != 3 || meta.HardwareName != "board" || meta.Displays != 2 || meta.MPPUnits != 4 {
		t.Fatalf("metadata = %+v", meta)
	}
	if meta.Frames != 2 || meta.Submissions != 2 || meta.NotConverged != 1 {
		t.Fatalf("frames=%d submissions=%d not converged=%d", meta.Frames, meta.Submissions, meta.NotConverged)
	}
	if meta.DurationMillis != 1500 {
		t.Fatalf("duration = %d", meta.DurationMillis)
	}
}

func TestSpoolArtifact_WriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	hw := &config.HardwareConfig{Hardware: config.HardwareInfo{Name: "board"}}
	artifact := BuildSpoolArtifact(5, hw, "hardware: {}", "video call", nil, sampleReports(),
		map[string][]byte{"pool": []byte(`{"Units":[]}`)})

	path, err := WriteSpoolArtifact(dir, artifact)
	if err != nil {
		t.Fatalf("WriteSpoolArtifact: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "run_5_") || !strings.HasSuffix(path, "_video-call.json.gz") {
		t.Fatalf("path = %s", path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("spool dir has %d entries, temp file left behind", len(entries))
	}

	got, err := ReadSpoolArtifact(path)
	if err != nil {
		t.Fatalf("ReadSpoolArtifact: %v", err)
	}
	if got.RunID != 5 || got.HardwareName != "board" || len(got.Reports) != 3 {
		t.Fatalf("artifact = %+v", got)
	}
	if got.Reports[0].WinUpdate != display.WinUpdateApplied || got.Reports[2].Converged {
		t.Fatalf("reports = %+v", got.Reports)
	}
	// the encoder indents embedded documents
	var pool bytes.Buffer
	if err := json.Compact(&pool, got.FinalState["pool"]); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if pool.String() != `{"Units":[]}` {
		t.Fatalf("final state = %s", pool.String())
	}
}

func TestWriteSpoolArtifact_Nil(t *testing.T) {
	if _, err := WriteSpoolArtifact(t.TempDir(), nil); err == nil {
		t.Fatalf("expected error for nil artifact")
	}
}
