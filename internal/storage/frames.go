package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"vppdisplay/internal/display"

	log "github.com/sirupsen/logrus"
)

// DisplayFrames is the report history of one display.
type DisplayFrames struct {
	DisplayName  string `json:"display_name"`
	DisplayIndex int    `json:"display_index"`
	DisplayType  string `json:"display_type"`
	XRes         int    `json:"xres"`
	YRes         int    `json:"yres"`

	Entries []display.FrameReport `json:"entries"`

	mutex sync.RWMutex
}

// RunFrames collects the frame reports of one simulation run, per display.
type RunFrames struct {
	RunID        int       `json:"run_id"`
	RunStarted   time.Time `json:"run_started"`
	RunFinished  time.Time `json:"run_finished,omitempty"`
	HardwareName string    `json:"hardware_name"`

	Displays map[string]*DisplayFrames `json:"displays"`

	mutex sync.RWMutex
}

func NewDisplayFrames(name string, index int, displayType string, xres, yres int) *DisplayFrames {
	return &DisplayFrames{
		DisplayName:  name,
		DisplayIndex: index,
		DisplayType:  displayType,
		XRes:         xres,
		YRes:         yres,
		Entries:      make([]display.FrameReport, 0),
	}
}

func NewRunFrames(runID int, started time.Time, hardwareName string) *RunFrames {
	return &RunFrames{
		RunID:        runID,
		RunStarted:   started,
		HardwareName: hardwareName,
		Displays:     make(map[string]*DisplayFrames),
	}
}

func (rf *RunFrames) AddDisplay(name string, index int, displayType string, xres, yres int) {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()

	rf.Displays[name] = NewDisplayFrames(name, index, displayType, xres, yres)

	log.WithFields(log.Fields{
		"display_name":  name,
		"display_index": index,
		"display_type":  displayType,
	}).Debug("Added display frame history")
}

// AddReport appends r to the history of its display. Reports of unknown
// displays are dropped.
func (rf *RunFrames) AddReport(r display.FrameReport) {
	rf.mutex.RLock()
	df, exists := rf.Displays[r.Display]
	rf.mutex.RUnlock()

	if !exists {
		log.WithField("display_name", r.Display).Warn("Display frame history not found, skipping report")
		return
	}

	df.mutex.Lock()
	df.Entries = append(df.Entries, r)
	count := len(df.Entries)
	df.mutex.Unlock()

	log.WithFields(log.Fields{
		"display":       r.Display,
		"frame":         r.Frame,
		"entries_count": count,
	}).Trace("Added frame report")
}

func (rf *RunFrames) DisplayCount() int {
	rf.mutex.RLock()
	defer rf.mutex.RUnlock()
	return len(rf.Displays)
}

func (rf *RunFrames) TotalReports() int {
	rf.mutex.RLock()
	defer rf.mutex.RUnlock()
	return rf.totalLocked()
}

func (rf *RunFrames) totalLocked() int {
	total := 0
	for _, df := range rf.Displays {
		df.mutex.RLock()
		total += len(df.Entries)
		df.mutex.RUnlock()
	}
	return total
}

func (rf *RunFrames) SetRunFinished(finished time.Time) {
	rf.mutex.Lock()
	defer rf.mutex.Unlock()
	rf.RunFinished = finished
}

// LogSummary logs the run and one line per display.
func (rf *RunFrames) LogSummary() {
	rf.mutex.RLock()
	defer rf.mutex.RUnlock()

	log.WithFields(log.Fields{
		"run_id":        rf.RunID,
		"hardware_name": rf.HardwareName,
		"displays":      len(rf.Displays),
		"total_reports": rf.totalLocked(),
		"duration_ms":   rf.RunFinished.Sub(rf.RunStarted).Milliseconds(),
	}).Info("Run frames summary")

	for name, df := range rf.Displays {
		df.mutex.RLock()
		submitted, overlays, gpu := 0, 0, 0
		for _, e := range df.Entries {
			if e.Submitted {
				submitted++
			}
			overlays += e.Overlays
			gpu += e.GPULayers
		}
		log.WithFields(log.Fields{
			"display_name":  name,
			"display_type":  df.DisplayType,
			"entries_count": len(df.Entries),
			"submitted":     submitted,
			"overlays":      overlays,
			"gpu_layers":    gpu,
		}).Info("Display frames summary")
		df.mutex.RUnlock()
	}
}

// ExportToCSV writes a metadata file and one file per display into
// exportPath. It returns the files written.
func (rf *RunFrames) ExportToCSV(exportPath string, scenarioName string) ([]string, error) {
	rf.mutex.RLock()
	defer rf.mutex.RUnlock()

	if err := os.MkdirAll(exportPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	timestamp := rf.RunStarted.Format("20060102_150405")
	var files []string

	metadataFile := filepath.Join(exportPath, fmt.Sprintf("%s_%s_metadata.csv", scenarioName, timestamp))
	if err := rf.exportMetadata(metadataFile); err != nil {
		return nil, fmt.Errorf("failed to export metadata: %w", err)
	}
	files = append(files, metadataFile)

	for name, df := range rf.Displays {
		filename := filepath.Join(exportPath, fmt.Sprintf("%s_%s_%s.csv", scenarioName, timestamp, name))
		if err := df.ExportToCSV(filename); err != nil {
			return nil, fmt.Errorf("failed to export display %s: %w", name, err)
		}
		files = append(files, filename)

		log.WithFields(log.Fields{
			"display":  name,
			"filename": filename,
		}).Debug("Exported display frames to CSV")
	}

	log.WithFields(log.Fields{
		"export_path": exportPath,
		"scenario":    scenarioName,
		"displays":    len(rf.Displays),
	}).Info("Exported run frames to CSV")
	return files, nil
}

func (rf *RunFrames) exportMetadata(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Property", "Value"}); err != nil {
		return err
	}
	metadata := [][]string{
		{"run_id", strconv.Itoa(rf.RunID)},
		{"hardware_name", rf.HardwareName},
		{"run_started", rf.RunStarted.Format(time.RFC3339)},
		{"run_finished", rf.RunFinished.Format(time.RFC3339)},
		{"display_count", strconv.Itoa(len(rf.Displays))},
	}
	if err := writer.WriteAll(metadata); err != nil {
		return err
	}
	return writer.Error()
}

var csvHeader = []string{
	"display_name", "display_index", "display_type", "xres", "yres",
	"frame", "utc_timestamp", "layers", "overlays", "gpu_layers", "mpp_layers",
	"fb_needed", "static_reuse", "iterations", "converged",
	"bandwidth_pixels", "bandwidth_limit", "win_update", "submitted",
}

// ExportToCSV writes the history of one display.
func (df *DisplayFrames) ExportToCSV(filename string) error {
	df.mutex.RLock()
	defer df.mutex.RUnlock()

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range df.Entries {
		row := []string{
			df.DisplayName,
			strconv.Itoa(df.DisplayIndex),
			df.DisplayType,
			strconv.Itoa(df.XRes),
			strconv.Itoa(df.YRes),
			strconv.FormatUint(e.Frame, 10),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(e.Layers),
			strconv.Itoa(e.Overlays),
			strconv.Itoa(e.GPULayers),
			strconv.Itoa(e.MPPLayers),
			strconv.FormatBool(e.FbNeeded),
			strconv.FormatBool(e.StaticReuse),
			strconv.Itoa(e.Iterations),
			strconv.FormatBool(e.Converged),
			strconv.FormatInt(e.BandwidthPixels, 10),
			strconv.FormatInt(e.BandwidthLimit, 10),
			e.WinUpdate.String(),
			strconv.FormatBool(e.Submitted),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
