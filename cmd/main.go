package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"keytrace/internal/config"
	"keytrace/internal/console"
	"keytrace/internal/coordinator"
	"keytrace/internal/database"
	"keytrace/internal/errdefs"
	"keytrace/internal/logging"
	"keytrace/internal/plot"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	// Try to load from the application directory
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

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	if err := newRootCmd().Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var logLevel string
	var injectorLogLevel string

	rootCmd := &cobra.Command{
		Use:           "keytrace",
		Short:         "Keylogger detection through keystroke timing correlation",
		Long:          "Injects synthetic keystrokes on a schedule and flags processes whose activity follows it",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			if injectorLogLevel != "" {
				if err := logging.SetInjectorLogLevel(injectorLogLevel); err != nil {
					return fmt.Errorf("invalid injector log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&injectorLogLevel, "injector-log-level", "", "Set the level of per-interval injection status messages")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a detection pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetection(cmd.Context(), configFile, logLevel == "", cmd.OutOrStdout())
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the keystroke schedule a configuration produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSchedule(configFile, cmd.OutOrStdout())
		},
	}

	candidatesCmd := &cobra.Command{
		Use:   "candidates",
		Short: "Print the processes a run would watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCandidates(cmd.Context(), configFile, cmd.OutOrStdout())
		},
	}

	for _, c := range []*cobra.Command{runCmd, validateCmd, scheduleCmd, candidatesCmd} {
		c.Flags().StringVarP(&configFile, "config", "c", "", "Path to keytrace configuration file")
		c.MarkFlagRequired("config")
		rootCmd.AddCommand(c)
	}

	var spoolFile string
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the verdicts stored in a spool artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectSpool(spoolFile, cmd.OutOrStdout())
		},
	}
	inspectCmd.Flags().StringVarP(&spoolFile, "file", "f", "", "Path to a run_*.json.gz spool artifact")
	inspectCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(inspectCmd)

	var plotPIDs []int
	var normalize, onlyPlot, onlyWrapper bool
	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "Generate a TikZ plot from a spool artifact",
		Long:  "Generate a LaTeX/TikZ figure of the injected keystrokes and the activity of the watched processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generatePlot(spoolFile, plotPIDs, normalize, onlyPlot, onlyWrapper, cmd.OutOrStdout())
		},
	}
	plotCmd.Flags().StringVarP(&spoolFile, "file", "f", "", "Path to a run_*.json.gz spool artifact")
	plotCmd.Flags().IntSliceVar(&plotPIDs, "pids", []int{}, "Comma-separated list of PIDs (default: detected processes)")
	plotCmd.Flags().BoolVar(&normalize, "normalize", true, "Scale every series to [0, 1]")
	plotCmd.Flags().BoolVar(&onlyPlot, "plot", false, "Print only the plot file (TikZ)")
	plotCmd.Flags().BoolVar(&onlyWrapper, "wrapper", false, "Print only the wrapper file (LaTeX)")
	plotCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(plotCmd)

	return rootCmd
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	_, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}

func runDetection(parent context.Context, configFile string, useConfigLevel bool, out io.Writer) error {
	logger := logging.GetLogger()

	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if useConfigLevel {
		if err := logging.SetLogLevel(cfg.Run.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Run.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}

	comps, err := coordinator.Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release components")
		}
	}()

	coord, err := coordinator.New(cfg, content, comps,
		coordinator.WithOutput(out),
		coordinator.WithVersion(Version),
	)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"name":      cfg.Run.Name,
		"threshold": cfg.Run.Threshold,
		"offset_ms": cfg.Run.OffsetMs,
	}).Info("Starting detection run")

	_, err = coord.Run(ctx)
	if errors.Is(err, errdefs.ErrCancelled) {
		logger.Warn("Run interrupted, verdicts cover the completed intervals only")
		return nil
	}
	return err
}

func printSchedule(configFile string, out io.Writer) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	sched, checksum, err := coordinator.BuildSchedule(cfg)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERVAL\tKEYS")
	for i, keys := range sched.KeysPerInterval() {
		fmt.Fprintf(tw, "%d\t%d\n", i+1, keys)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "intervals=%d interval_ms=%d offset_ms=%d total_keys=%d duration=%s checksum=%s\n",
		sched.Len(), sched.IntervalMs(), cfg.Run.OffsetMs, sched.TotalKeys(), sched.Duration(cfg.Run.OffsetMs), checksum)
	return nil
}

func printCandidates(ctx context.Context, configFile string, out io.Writer) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	comps, err := coordinator.Build(cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	coord, err := coordinator.New(cfg, "", comps)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pids, err := coord.ResolveCandidates(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tPROCESS")
	for _, pid := range pids {
		fmt.Fprintf(tw, "%d\t%s\n", pid, comps.Names.Name(pid))
	}
	return tw.Flush()
}

func inspectSpool(path string, out io.Writer) error {
	artifact, err := database.ReadSpoolArtifact(path)
	if err != nil {
		return err
	}
	complete := artifact.Outcome != nil && artifact.Outcome.Complete
	fmt.Fprintf(out, "run %s (%s) created %s, schedule %s\n",
		artifact.RunID, artifact.RunName, artifact.CreatedAt.Format("2006-01-02 15:04:05"), artifact.ScheduleChecksum)
	fmt.Fprintln(out, console.RenderResults(artifact.Results, complete))
	return nil
}

func generatePlot(path string, pids []int, normalize, onlyPlot, onlyWrapper bool, out io.Writer) error {
	artifact, err := database.ReadSpoolArtifact(path)
	if err != nil {
		return err
	}
	plotTikz, wrapperTex, err := plot.NewGenerator().Generate(artifact, plot.PlotOptions{
		PIDs:      pids,
		Normalize: normalize,
	})
	if err != nil {
		return fmt.Errorf("failed to generate plot: %w", err)
	}

	switch {
	case onlyPlot:
		fmt.Fprint(out, plotTikz)
	case onlyWrapper:
		fmt.Fprint(out, wrapperTex)
	default:
		fmt.Fprintln(out, "=== Plot (TikZ) ===")
		fmt.Fprint(out, plotTikz)
		fmt.Fprintln(out, "=== Wrapper (LaTeX) ===")
		fmt.Fprint(out, wrapperTex)
	}
	return nil
}
