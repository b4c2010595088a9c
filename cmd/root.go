package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DiamondLightSource/virtac/pv/config"
	"github.com/DiamondLightSource/virtac/pv/lattice"
	"github.com/DiamondLightSource/virtac/server"
)

// version is overridden at link time with -ldflags "-X".
var version = "dev"

var (
	// CLI flags for simulation configs
	disableEmittance    bool   // Skip the emittance calculation and its records
	disableChromaticity bool   // Skip chromaticity calculations
	disableRadiation    bool   // Skip radiation calculations
	disableTFB          bool   // Skip the hardware emulated for tune feedback
	linoptFunction      string // Linear optics function: linopt2, linopt4 or linopt6

	// CLI flags for data and runtime
	dataDir          string  // Directory holding one sub-directory per ring mode
	defaultsFilePath string  // Path to defaults.yaml
	logLevel         string  // Log verbosity level
	metricsAddr      string  // Listen address for /metrics; empty disables it
	drainRate        float64 // Collate drain rate in Hz
	skipInvalidRows  bool    // Warn about and skip table rows with malformed values
	statsVerbosity   int     // Stats detail level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "virtac",
	Short: "Virtual accelerator: serves a simulated storage ring as EPICS-style records",
}

// validLinopt lists the linear optics functions the physics engine offers.
var validLinopt = map[string]bool{"linopt2": true, "linopt4": true, "linopt6": true}

// checkSimParams rejects combinations of simulation flags the physics engine cannot run.
func checkSimParams(linopt string, disableRadiation, disableEmittance bool) error {
	if !validLinopt[linopt] {
		return fmt.Errorf("unknown linopt function %q; use one of linopt2, linopt4, linopt6", linopt)
	}
	if disableRadiation {
		if linopt == "linopt6" {
			return fmt.Errorf("cannot disable radiation when using linopt function: %s", linopt)
		}
		if !disableEmittance {
			return errors.New("you cannot calculate emittance with radiation disabled")
		}
		return nil
	}
	if linopt == "linopt2" || linopt == "linopt4" {
		return fmt.Errorf("you must disable radiation to use linopt function: %s", linopt)
	}
	return nil
}

// resolveRingMode picks the ring mode from the argument, then $RINGMODE, then the
// defaults file.
func resolveRingMode(args []string, cfg Config) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if env := os.Getenv("RINGMODE"); env != "" {
		return env
	}
	logrus.Warnf("Ring mode not specified, using default: %s", cfg.RingMode)
	return cfg.RingMode
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// buildVirtac loads the lattice and tables for ringMode and builds the record graph.
func buildVirtac(cmd *cobra.Command, cfg Config, ringMode string) (*server.Virtac, *lattice.Memory, error) {
	latticePath, tables := cfg.files(dataDir, ringMode)
	lat, err := lattice.Load(latticePath)
	if err != nil {
		return nil, nil, err
	}
	opts := server.Options{
		DisableEmittance:    disableEmittance,
		DisableChromaticity: disableChromaticity,
		DisableRadiation:    disableRadiation,
		DisableTuneFeedback: disableTFB,
		LinoptFunction:      linoptFunction,
		DrainInterval:       drainInterval(cfg.DrainRateHz),
	}
	// The flag only overrides defaults.yaml when given explicitly.
	if cmd.Flags().Changed("drain-rate") {
		opts.DrainInterval = drainInterval(drainRate)
	}
	mode := config.Strict
	if skipInvalidRows {
		mode = config.SkipInvalid
	}
	if err := opts.LoadTables(tables, mode); err != nil {
		return nil, nil, err
	}
	v, err := server.Build(lat, opts)
	if err != nil {
		return nil, nil, err
	}
	return v, lat, nil
}

// prepare runs the checks shared by run and stats and builds the graph.
func prepare(cmd *cobra.Command, args []string) (*server.Virtac, *lattice.Memory, Config) {
	setLogLevel()
	if err := checkSimParams(linoptFunction, disableRadiation, disableEmittance); err != nil {
		logrus.Fatalf("Invalid simulation parameters: %v", err)
	}
	cfg, err := loadDefaultsConfig(defaultsFilePath)
	if err != nil {
		logrus.Fatalf("Failed to load defaults: %v", err)
	}
	ringMode := resolveRingMode(args, cfg)
	if ringMode == "" {
		logrus.Fatalf("Ring mode not provided and no default set in %s", defaultsFilePath)
	}
	v, lat, err := buildVirtac(cmd, cfg, ringMode)
	if err != nil {
		logrus.Fatalf("Failed to build ring mode %s: %v", ringMode, err)
	}
	logrus.WithField("instance", v.ID().String()).Infof("Built ring mode %s from %s", ringMode, dataDir)
	return v, lat, cfg
}

// serveMetrics exposes the Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// runCmd builds the graph and serves it until interrupted
var runCmd = &cobra.Command{
	Use:   "run [ring_mode]",
	Short: "Build the record graph for a ring mode and run it",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v, lat, cfg := prepare(cmd, args)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		interval := cfg.RecomputeInterval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return v.Run(gctx) })
		g.Go(func() error { return lat.Run(gctx, interval) })
		if metricsAddr != "" {
			g.Go(func() error { return serveMetrics(gctx, metricsAddr) })
		}
		if err := g.Wait(); err != nil {
			logrus.Fatalf("Virtac stopped: %v", err)
		}
		logrus.Info("Virtac stopped.")
	},
}

// statsCmd builds the graph and prints its statistics without serving
var statsCmd = &cobra.Command{
	Use:   "stats [ring_mode]",
	Short: "Print statistics for the record graph of a ring mode",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		v, _, _ := prepare(cmd, args)
		v.Stats().Print(os.Stdout, statsVerbosity)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the virtac version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "virtac %s\n", version)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, statsCmd} {
		c.Flags().BoolVarP(&disableEmittance, "disable-emittance", "e", false, "Disable the simulator's time-consuming emittance calculation")
		c.Flags().BoolVarP(&disableChromaticity, "disable-chromaticity", "c", false, "Disable chromaticity calculations")
		c.Flags().BoolVarP(&disableRadiation, "disable-radiation", "r", false, "Disable radiation calculations in the simulation")
		c.Flags().StringVarP(&linoptFunction, "linopt-function", "l", "linopt6", "Linear optics function to use: linopt2, linopt4, linopt6")
		c.Flags().BoolVarP(&disableTFB, "disable-tfb", "t", false, "Disable extra simulated hardware required by the tune feedback system")

		c.Flags().StringVar(&dataDir, "data-dir", "data", "Directory holding one sub-directory per ring mode")
		c.Flags().StringVar(&defaultsFilePath, "defaults", "defaults.yaml", "Path to defaults.yaml")
		c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().Float64Var(&drainRate, "drain-rate", 5, "Collate drain rate in Hz, overrides defaults.yaml")
		c.Flags().BoolVar(&skipInvalidRows, "skip-invalid-rows", false, "Warn about and skip table rows with malformed values instead of failing")
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for Prometheus metrics, e.g. :9090 (disabled when empty)")
	statsCmd.Flags().CountVarP(&statsVerbosity, "verbose", "v", "Increase detail; -v lists every record")

	rootCmd.AddCommand(runCmd, statsCmd, versionCmd)
}
