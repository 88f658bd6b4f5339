package database

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"vppdisplay/internal/config"
	"vppdisplay/internal/display"
	"vppdisplay/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	frameMeasurement = "frame_reports"
	runMeasurement   = "simulation_meta"
)

// DatabaseClient receives the frame reports of a simulation run.
type DatabaseClient interface {
	GetLastRunID() (int, error)
	WriteFrameReports(runID int, reports []display.FrameReport) error
	WriteMetadata(metadata *RunMetadata) error
	Close()
}

// RunMetadata describes one simulation run.
type RunMetadata struct {
	RunID          int    `json:"run_id"`
	HardwareName   string `json:"hardware_name"`
	ScenarioName   string `json:"scenario_name"`
	Displays       int    `json:"displays"`
	MPPUnits       int    `json:"mpp_units"`
	Frames         int    `json:"frames"`
	Submissions    int    `json:"submissions"`
	NotConverged   int    `json:"not_converged"`
	RunStarted     string `json:"run_started"`
	RunFinished    string `json:"run_finished"`
	DurationMillis int64  `json:"duration_millis"`
	DriverVersion  string `json:"driver_version"`
	Hostname       string `json:"hostname"`
	OSInfo         string `json:"os_info"`
	KernelVersion  string `json:"kernel_version"`
	ConfigFile     string `json:"config_file"`
}

type SystemInfo struct {
	Hostname      string
	OSInfo        string
	KernelVersion string
}

func collectSystemInfo() *SystemInfo {
	info := &SystemInfo{KernelVersion: "unknown"}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	info.Hostname = hostname
	info.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile("/proc/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.KernelVersion = parts[2]
		}
	}
	return info
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}

	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s: %s", config.Host, health.Status, message)
	}

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Name),
		queryAPI: client.QueryAPI(config.Org),
		bucket:   config.Name,
		org:      config.Org,
	}, nil
}

// GetLastRunID returns the highest run id written in the last 30 days.
func (idb *InfluxDBClient) GetLastRunID() (int, error) {
	ctx := context.Background()

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "%s")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, idb.bucket, frameMeasurement)

	result, err := idb.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if id, ok := result.Record().Value().(int64); ok {
			maxID = int(id)
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}
	return maxID, nil
}

func (idb *InfluxDBClient) WriteFrameReports(runID int, reports []display.FrameReport) error {
	if len(reports) == 0 {
		return nil
	}
	ctx := context.Background()

	points := make([]*write.Point, 0, len(reports))
	for i := range reports {
		points = append(points, framePoint(runID, &reports[i]))
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write frame reports: %w", err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"run_id": runID,
		"points": len(points),
	}).Debug("Frame reports written")
	return nil
}

func framePoint(runID int, r *display.FrameReport) *write.Point {
	return influxdb2.NewPoint(frameMeasurement,
		map[string]string{
			"run_id":  fmt.Sprintf("%d", runID),
			"display": r.Display,
		},
		map[string]interface{}{
			"frame":            int64(r.Frame),
			"layers":           r.Layers,
			"overlays":         r.Overlays,
			"gpu_layers":       r.GPULayers,
			"mpp_layers":       r.MPPLayers,
			"fb_needed":        r.FbNeeded,
			"static_reuse":     r.StaticReuse,
			"iterations":       r.Iterations,
			"converged":        r.Converged,
			"bandwidth_pixels": r.BandwidthPixels,
			"bandwidth_limit":  r.BandwidthLimit,
			"win_update":       r.WinUpdate.String(),
			"submitted":        r.Submitted,
		},
		r.Timestamp)
}

func (idb *InfluxDBClient) WriteMetadata(metadata *RunMetadata) error {
	ctx := context.Background()

	if err := idb.writeAPI.WritePoint(ctx, metadataPoint(metadata)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func metadataPoint(metadata *RunMetadata) *write.Point {
	return influxdb2.NewPoint(runMeasurement,
		map[string]string{
			"run_id": fmt.Sprintf("%d", metadata.RunID),
		},
		map[string]interface{}{
			"hardware_name":   metadata.HardwareName,
			"scenario_name":   metadata.ScenarioName,
			"displays":        metadata.Displays,
			"mpp_units":       metadata.MPPUnits,
			"frames":          metadata.Frames,
			"submissions":     metadata.Submissions,
			"not_converged":   metadata.NotConverged,
			"run_started":     metadata.RunStarted,
			"run_finished":    metadata.RunFinished,
			"duration_millis": metadata.DurationMillis,
			"driver_version":  metadata.DriverVersion,
			"hostname":        metadata.Hostname,
			"os_info":         metadata.OSInfo,
			"kernel_version":  metadata.KernelVersion,
			"config_file":     metadata.ConfigFile,
		},
		time.Now())
}

// CollectRunMetadata summarises a finished run. Frames counts distinct
// frames across displays.
func CollectRunMetadata(runID int, hw *config.HardwareConfig, scenarioName, configContent string, units int, reports []display.FrameReport, startTime, endTime time.Time, driverVersion string) *RunMetadata {
	sys := collectSystemInfo()

	frames := make(map[uint64]struct{})
	submissions, notConverged := 0, 0
	for _, r := range reports {
		frames[r.Frame] = struct{}{}
		if r.Submitted {
			submissions++
		}
		if !r.Converged {
			notConverged++
		}
	}

	return &RunMetadata{
		RunID:          runID,
		HardwareName:   hw.Hardware.Name,
		ScenarioName:   scenarioName,
		Displays:       len(hw.Displays),
		MPPUnits:       units,
		Frames:         len(frames),
		Submissions:    submissions,
		NotConverged:   notConverged,
		RunStarted:     startTime.Format(time.RFC3339),
		RunFinished:    endTime.Format(time.RFC3339),
		DurationMillis: endTime.Sub(startTime).Milliseconds(),
		DriverVersion:  driverVersion,
		Hostname:       sys.Hostname,
		OSInfo:         sys.OSInfo,
		KernelVersion:  sys.KernelVersion,
		ConfigFile:     configContent,
	}
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
