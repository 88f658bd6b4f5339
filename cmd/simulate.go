package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"vppdisplay/internal/config"
	"vppdisplay/internal/database"
	"vppdisplay/internal/device"
	"vppdisplay/internal/display"
	"vppdisplay/internal/fence"
	"vppdisplay/internal/logging"
	"vppdisplay/internal/manager"
	"vppdisplay/internal/mpp"
	"vppdisplay/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/sirupsen/logrus"
)

type simulateOptions struct {
	JSON       bool
	Spool      bool
	EveryFrame bool
	CSVDir     string

	// the command line level wins over the configuration
	logLevelSet bool
}

// framebuffer targets get handle ids above anything a scenario uses
const targetIDBase = 1 << 32

type simDisplay struct {
	id       mpp.DisplayID
	cfg      config.DisplayConfig
	d        *display.Display
	targetID uint64
}

// Simulator replays a scenario against one hardware description. The
// device is a recorder, so every submission is kept in memory.
type Simulator struct {
	hw       *config.HardwareConfig
	scenario *config.Scenario

	pool    *mpp.Pool
	fences  *fence.Registry
	device  *device.Recorder
	rm      *manager.ResourceManager
	logger  logrus.FieldLogger
	order   []string
	display map[string]*simDisplay

	reports []display.FrameReport
	frames  *storage.RunFrames
	// frameHook runs after every committed frame
	frameHook func(frame int)
}

func NewSimulator(hw *config.HardwareConfig, scenario *config.Scenario) (*Simulator, error) {
	logger := logging.GetLogger()
	allocLogger := logging.GetAllocatorLogger()

	if err := scenario.Check(hw); err != nil {
		return nil, errors.Wrap(err, "scenario does not match hardware")
	}
	specs, err := hw.UnitSpecs()
	if err != nil {
		return nil, err
	}
	pool, err := mpp.NewPool(specs, allocLogger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build MPP pool")
	}

	fences := fence.NewRegistry()
	s := &Simulator{
		hw:       hw,
		scenario: scenario,
		pool:     pool,
		fences:   fences,
		device:   device.NewRecorder(fences),
		rm:       manager.NewResourceManager(pool, allocLogger),
		logger:   logger,
		display:  make(map[string]*simDisplay, len(hw.Displays)),
		frames:   storage.NewRunFrames(0, time.Now(), hw.Hardware.Name),
	}

	for i, dc := range hw.Displays {
		cfg, err := hw.DisplayConfig(dc)
		if err != nil {
			return nil, errors.Wrapf(err, "display %s", dc.Name)
		}
		id := mpp.DisplayID(i)
		d, err := display.New(id, cfg, pool, s.device, fences, logging.ForDisplay(dc.Name, i))
		if err != nil {
			return nil, err
		}

		external := mpp.NoUnit
		if t, index, ok := dc.ExternalUnit(); ok {
			unit, found := pool.Lookup(t, index)
			if !found {
				return nil, errors.Newf("display %s: external unit %s%d is not in the pool", dc.Name, t, index)
			}
			external = unit
		}
		if err := s.rm.RegisterDisplay(d, external); err != nil {
			return nil, err
		}

		s.display[dc.Name] = &simDisplay{
			id:       id,
			cfg:      dc,
			d:        d,
			targetID: targetIDBase + uint64(i),
		}
		s.order = append(s.order, dc.Name)
		s.frames.AddDisplay(dc.Name, i, cfg.Type.String(), cfg.XRes, cfg.YRes)
	}

	logger.WithFields(logrus.Fields{
		"hardware":  hw.Hardware.Name,
		"displays":  len(s.display),
		"mpp_units": pool.Len(),
	}).Info("Simulator initialized")
	return s, nil
}

// Run plays every frame of the scenario, each one Repeat+1 times.
func (s *Simulator) Run(ctx context.Context) error {
	step := 0
	for i, frame := range s.scenario.Frames {
		for r := 0; r <= frame.Repeat; r++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := s.step(ctx, frame); err != nil {
				return errors.Wrapf(err, "frame %d", i)
			}
			step++
			if s.frameHook != nil {
				s.frameHook(step)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"frames":      step,
		"submissions": s.device.Submissions(),
	}).Info("Scenario finished")
	return nil
}

func (s *Simulator) step(ctx context.Context, frame config.FrameSpec) error {
	frames := make(map[mpp.DisplayID]*display.Contents, len(frame.Displays))
	ids := make([]mpp.DisplayID, 0, len(frame.Displays))
	for _, name := range frame.DisplayNames() {
		sd := s.display[name]
		contents, err := frame.Displays[name].Contents(sd.cfg.XRes, sd.cfg.YRes, sd.targetID, s.fences)
		if err != nil {
			s.closeAcquires(frames)
			return errors.Wrapf(err, "display %s", name)
		}
		frames[sd.id] = contents
		ids = append(ids, sd.id)
	}

	if err := s.rm.AssignResources(frames); err != nil {
		s.closeAcquires(frames)
		return err
	}
	results, err := s.rm.Commit(ctx, ids)
	for id, res := range results {
		s.release(res, frames[id])
	}
	if err != nil {
		s.logger.WithError(err).Warn("Frame commit reported errors")
	}

	for _, name := range s.order {
		sd := s.display[name]
		if _, ok := frames[sd.id]; !ok {
			continue
		}
		report := sd.d.Report()
		s.reports = append(s.reports, report)
		s.frames.AddReport(report)
		if res := results[sd.id]; res.Validation != nil {
			s.logger.WithFields(logrus.Fields{
				"display": name,
				"frame":   report.Frame,
			}).WithError(res.Validation).Warn("Window configuration was corrected")
		}
	}
	return nil
}

// release closes what the caller owns after Set: the retire fence and
// every layer's release fence.
func (s *Simulator) release(res display.SetResult, c *display.Contents) {
	if err := s.fences.Close(res.Retire); err != nil {
		s.logger.WithError(err).Warn("Closing retire fence failed")
	}
	if c == nil {
		return
	}
	for i := range c.Layers {
		if err := s.fences.Close(c.Layers[i].ReleaseFence); err != nil {
			s.logger.WithError(err).WithField("layer", i).Warn("Closing release fence failed")
		}
		c.Layers[i].ReleaseFence = fence.None
	}
}

func (s *Simulator) closeAcquires(frames map[mpp.DisplayID]*display.Contents) {
	for _, c := range frames {
		closeContents(s.fences, c)
	}
}

func closeContents(fences *fence.Registry, c *display.Contents) {
	if c == nil {
		return
	}
	for i := range c.Layers {
		_ = fences.Close(c.Layers[i].AcquireFence)
		c.Layers[i].AcquireFence = fence.None
	}
}

func (s *Simulator) Reports() []display.FrameReport { return s.reports }

func (s *Simulator) Submissions() int { return s.device.Submissions() }

// OutstandingFences counts descriptors nobody has closed yet. After a run
// only the retire fence each display keeps is left.
func (s *Simulator) OutstandingFences() int { return s.fences.Outstanding() }

// FinalState returns the JSON dumps of the pool and of every display,
// keyed by "pool" and display name.
func (s *Simulator) FinalState() map[string][]byte {
	state := make(map[string][]byte, len(s.display)+1)
	state["pool"] = s.pool.DumpJSON()
	for name, sd := range s.display {
		state[name] = sd.d.DumpJSON()
	}
	return state
}

func (s *Simulator) Dump(w io.Writer) {
	s.rm.Dump(w)
}

// DumpJSON writes the final state as one JSON document.
func (s *Simulator) DumpJSON(w io.Writer) error {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("pool").Raw(s.pool.DumpJSON())
	displays := obj.Name("displays").Object()
	for _, name := range s.order {
		displays.Name(name).Raw(s.display[name].d.DumpJSON())
	}
	displays.End()
	obj.End()
	if err := writer.Error(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, string(writer.Bytes()))
	return err
}

func runSimulation(ctx context.Context, configFile, scenarioFile string, opts simulateOptions, out io.Writer) error {
	logger := logging.GetLogger()

	hw, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return err
	}
	if hw.Hardware.LogLevel != "" && !opts.logLevelSet {
		if err := logging.SetLogLevel(hw.Hardware.LogLevel); err != nil {
			logger.WithError(err).Warn("Ignoring log level from configuration")
		}
	}
	scenario, err := config.LoadScenario(scenarioFile)
	if err != nil {
		return err
	}
	if scenario.Name == "" {
		scenario.Name = fileStem(scenarioFile)
	}

	sim, err := NewSimulator(hw, scenario)
	if err != nil {
		return err
	}
	if opts.EveryFrame {
		sim.frameHook = func(frame int) {
			fmt.Fprintf(out, "--- after frame %d ---\n", frame)
			sim.Dump(out)
		}
	}

	start := time.Now()
	if err := sim.Run(ctx); err != nil {
		return err
	}
	end := time.Now()
	sim.frames.SetRunFinished(end)
	sim.frames.LogSummary()

	if opts.JSON {
		if err := sim.DumpJSON(out); err != nil {
			return err
		}
	} else {
		sim.Dump(out)
	}

	if opts.CSVDir != "" {
		if _, err := sim.frames.ExportToCSV(opts.CSVDir, scenario.Name); err != nil {
			return err
		}
	}
	return storeRun(hw, content, scenario.Name, sim, start, end, opts.Spool)
}

// storeRun writes the reports to InfluxDB when configured and falls back
// to the spool directory when it is not or the write fails.
func storeRun(hw *config.HardwareConfig, content, scenarioName string, sim *Simulator, start, end time.Time, forceSpool bool) error {
	logger := logging.GetLogger()

	runID := 0
	var client database.DatabaseClient
	if hw.Data.DB.Enabled() {
		c, err := database.NewInfluxDBClient(hw.Data.DB)
		if err != nil {
			logger.WithError(err).Warn("Database unavailable, spooling run")
		} else {
			client = c
			defer client.Close()
			if last, err := client.GetLastRunID(); err != nil {
				logger.WithError(err).Warn("Failed to get last run ID, starting at 0")
			} else {
				runID = last + 1
			}
		}
	}

	metadata := database.CollectRunMetadata(runID, hw, scenarioName, content, sim.pool.Len(), sim.Reports(), start, end, Version)

	spool := forceSpool || client == nil
	if client != nil {
		if err := client.WriteFrameReports(runID, sim.Reports()); err != nil {
			logger.WithError(err).Error("Failed to write frame reports")
			spool = true
		} else if err := client.WriteMetadata(metadata); err != nil {
			logger.WithError(err).Error("Failed to write run metadata")
			spool = true
		} else {
			logger.WithFields(logrus.Fields{
				"run_id":  runID,
				"reports": len(sim.Reports()),
			}).Info("Run written to database")
		}
	}
	if !spool {
		return nil
	}

	artifact := database.BuildSpoolArtifact(runID, hw, content, scenarioName, metadata, sim.Reports(), sim.FinalState())
	path, err := database.WriteSpoolArtifact(hw.Data.SpoolDir, artifact)
	if err != nil {
		return fmt.Errorf("failed to spool run: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"run_id": runID,
		"path":   path,
	}).Info("Run spooled")
	return nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
