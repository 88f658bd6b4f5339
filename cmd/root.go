package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"vppdisplay/internal/config"
	"vppdisplay/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	// fall back to the directory of the binary
	execPath, err := os.Executable()
	if err != nil {
		return
	}
	envFile = filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
	} else {
		logger.WithField("file", envFile).Debug("Loaded environment variables")
	}
}

func newRootCommand() *cobra.Command {
	var logLevel, allocatorLogLevel string
	var configFile, scenarioFile string
	var opts simulateOptions

	rootCmd := &cobra.Command{
		Use:   "vppdisplay",
		Short: "Display composition resource allocator",
		Long:  "Replays scripted layer stacks through the window, DMA and MPP allocator of a display controller",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			if allocatorLogLevel != "" {
				if err := logging.SetAllocatorLogLevel(allocatorLogLevel); err != nil {
					return fmt.Errorf("invalid allocator log level: %w", err)
				}
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&allocatorLogLevel, "allocator-log-level", "", "Set log level of per-frame allocation decisions")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario through the allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opts.logLevelSet = logLevel != ""
			return runSimulation(ctx, configFile, scenarioFile, opts, cmd.OutOrStdout())
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a hardware configuration and optionally a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(configFile, scenarioFile)
		},
	}

	simulateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to hardware configuration file")
	simulateCmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "", "Path to scenario file")
	simulateCmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the final state as JSON instead of text tables")
	simulateCmd.Flags().BoolVar(&opts.Spool, "spool", false, "Write the run to the spool directory")
	simulateCmd.Flags().StringVar(&opts.CSVDir, "csv", "", "Export per-display frame reports as CSV into this directory")
	simulateCmd.Flags().BoolVar(&opts.EveryFrame, "every-frame", false, "Print the allocation after every frame")
	simulateCmd.MarkFlagRequired("config")
	simulateCmd.MarkFlagRequired("scenario")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to hardware configuration file")
	validateCmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "", "Path to scenario file")
	validateCmd.MarkFlagRequired("config")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

func Execute() error {
	loadEnvironment()
	return newRootCommand().ExecuteContext(context.Background())
}

func validateFiles(configFile, scenarioFile string) error {
	logger := logging.GetLogger()

	hw, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	// the conversions reject what the schema checks cannot see
	if _, err := hw.UnitSpecs(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, d := range hw.Displays {
		if _, err := hw.DisplayConfig(d); err != nil {
			return fmt.Errorf("invalid config: display %s: %w", d.Name, err)
		}
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")

	if scenarioFile == "" {
		return nil
	}
	scenario, err := config.LoadScenario(scenarioFile)
	if err != nil {
		logger.WithField("scenario_file", scenarioFile).WithError(err).Error("Scenario validation failed")
		return err
	}
	if err := scenario.Check(hw); err != nil {
		logger.WithField("scenario_file", scenarioFile).WithError(err).Error("Scenario does not match configuration")
		return fmt.Errorf("invalid scenario: %w", err)
	}
	logger.WithField("scenario_file", scenarioFile).Info("Scenario is valid")
	return nil
}
