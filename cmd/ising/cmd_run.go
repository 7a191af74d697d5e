package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ising/internal/config"
	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/driver"
	"github.com/nvandessel/ising/internal/logging"
	"github.com/nvandessel/ising/internal/metrics"
	"github.com/nvandessel/ising/internal/pathutil"
	"github.com/nvandessel/ising/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [output-dir]",
		Short: "Run the temperature schedule and write observables",
		Long: `Run the Metropolis simulation over the temperature schedule.

The output directory (default ./data) is deleted and recreated when the text
or arrow format is enabled. It receives temperatures.dat and one <i>.dat file
per temperature with the energy series on the first line and the
magnetisation series on the second. The sqlite format appends the run to
ising.db instead of replacing earlier runs.

--therm and --prod take either one count for every temperature or a
comma-separated list with one count per temperature. --snapshots appends the
configuration after every production sweep to <i>.cfg (text) or the
snapshots table (sqlite).

Interrupting with Ctrl+C stops the run after the current phase; files of
completed temperatures are kept.

Examples:
  ising run                           # reference run into ./data
  ising run out --lx 16 --ly 16       # larger lattice into ./out
  ising run out --format text --format sqlite --seed 7
  ising run out --prod 1000,1000,5000 --snapshots --config run.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, args)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			defer signal.Stop(sigCh)

			go func() {
				select {
				case sig := <-sigCh:
					logger.Warn("interrupt received, stopping after the current phase", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			result, err := runSimulation(ctx, cfg, logger)
			if result != nil {
				if printErr := printRunResult(cmd.OutOrStdout(), cmd, result); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}

	cmd.Flags().Uint64("seed", constants.DefaultSeed, "Random seed")
	cmd.Flags().Int("lx", constants.DefaultLatticeX, "Lattice extent in x")
	cmd.Flags().Int("ly", constants.DefaultLatticeY, "Lattice extent in y")
	cmd.Flags().Int("therm-init", constants.DefaultThermInit, "Sweeps of the initial thermalisation")
	cmd.Flags().IntSlice("therm", []int{constants.DefaultTherm}, "Thermalisation sweeps per temperature (one value, or one per temperature)")
	cmd.Flags().IntSlice("prod", []int{constants.DefaultProd}, "Production sweeps per temperature (one value, or one per temperature)")
	cmd.Flags().StringSlice("format", nil, "Output format: text, sqlite, arrow (repeatable)")
	cmd.Flags().Bool("cold", false, "Start from the ordered all-up configuration")
	cmd.Flags().Bool("snapshots", false, "Record the spin configuration after every production sweep")
	cmd.Flags().String("metrics-textfile", "", "Write Prometheus metrics to this .prom file after the run")

	return cmd
}

// applyRunFlags overrides cfg with explicitly set flags and the positional
// output directory.
func applyRunFlags(cmd *cobra.Command, cfg *config.RunConfig, args []string) {
	flags := cmd.Flags()

	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetUint64("seed")
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"lx", &cfg.Lattice.X},
		{"ly", &cfg.Lattice.Y},
		{"therm-init", &cfg.Sweeps.ThermInit},
	}
	for _, o := range ints {
		if flags.Changed(o.name) {
			*o.dst, _ = flags.GetInt(o.name)
		}
	}
	if flags.Changed("therm") {
		therm, _ := flags.GetIntSlice("therm")
		cfg.Sweeps.Therm = config.SweepCounts(therm)
	}
	if flags.Changed("prod") {
		prod, _ := flags.GetIntSlice("prod")
		cfg.Sweeps.Prod = config.SweepCounts(prod)
	}
	if flags.Changed("snapshots") {
		cfg.Output.Snapshots, _ = flags.GetBool("snapshots")
	}
	if flags.Changed("format") {
		names, _ := flags.GetStringSlice("format")
		cfg.Output.Formats = cfg.Output.Formats[:0]
		for _, n := range names {
			cfg.Output.Formats = append(cfg.Output.Formats, constants.Format(n))
		}
	}
	if flags.Changed("cold") {
		cold, _ := flags.GetBool("cold")
		if cold {
			cfg.Start = constants.StartCold
		} else {
			cfg.Start = constants.StartHot
		}
	}
	if flags.Changed("metrics-textfile") {
		cfg.Metrics.Textfile, _ = flags.GetString("metrics-textfile")
	}

	cfg.Output.Dir = outputDir(cfg, args)
}

// runResult is what a run reports on stdout.
type runResult struct {
	OutputDir string
	RunID     string
	Summary   *driver.Summary
}

// runSimulation prepares the output backends and executes the run.
// A partial result is returned together with the error of an interrupted
// or failed run.
func runSimulation(ctx context.Context, cfg *config.RunConfig, logger *slog.Logger) (res *runResult, err error) {
	dir, err := pathutil.ValidateOutputDir(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}

	if cfg.HasFormat(constants.FormatText) || cfg.HasFormat(constants.FormatArrow) {
		if err := store.NewDataDir(dir, logger).Prepare(); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	res = &runResult{OutputDir: dir}
	params := cfg.Params()

	var writers []store.Writer
	for _, f := range cfg.Output.Formats {
		switch f {
		case constants.FormatText:
			writers = append(writers, store.NewDataDir(dir, logger))
		case constants.FormatArrow:
			writers = append(writers, store.NewArrowWriter(dir))
		case constants.FormatSQLite:
			db, err := store.OpenSQLiteStore(dir)
			if err != nil {
				store.NewMultiWriter(writers...).Close()
				return nil, err
			}
			writers = append(writers, db)
			res.RunID, err = db.BeginRun(ctx, params.Shape, params.Seed, params.Start)
			if err != nil {
				store.NewMultiWriter(writers...).Close()
				return nil, err
			}
		}
	}
	w := store.NewMultiWriter(writers...)
	defer func() {
		err = errors.Join(err, w.Close())
	}()

	pl := logging.NewPhaseLogger(dir, cfg.Logging.Level)
	defer pl.Close()

	var rec *metrics.Recorder
	if cfg.Metrics.Textfile != "" {
		rec = metrics.NewRecorder()
	}

	summary, runErr := driver.Run(ctx, params, w,
		driver.WithLogger(logger),
		driver.WithPhaseLogger(pl),
		driver.WithMetrics(rec))
	res.Summary = summary

	if rec != nil {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if summary == nil {
		return nil, runErr
	}
	return res, runErr
}

func printRunResult(out io.Writer, cmd *cobra.Command, res *runResult) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		temps := make([]map[string]interface{}, 0, len(res.Summary.Temperatures))
		for _, t := range res.Summary.Temperatures {
			temps = append(temps, map[string]interface{}{
				"index":            t.Index,
				"temperature":      t.Temperature,
				"therm_acceptance": t.ThermRate,
				"prod_acceptance":  t.ProdRate,
				"samples":          t.Samples,
				"duration_ms":      t.Duration.Milliseconds(),
			})
		}
		result := map[string]interface{}{
			"output_dir":         res.OutputDir,
			"initial_acceptance": res.Summary.InitialRate,
			"temperatures":       temps,
			"final_energy":       res.Summary.FinalEnergy,
			"duration_ms":        res.Summary.Duration.Milliseconds(),
		}
		if res.RunID != "" {
			result["run_id"] = res.RunID
		}
		return json.NewEncoder(out).Encode(result)
	}

	fmt.Fprintf(out, "Output written to %s\n", res.OutputDir)
	if res.RunID != "" {
		fmt.Fprintf(out, "Run id: %s\n", res.RunID)
	}
	fmt.Fprintf(out, "Initial thermalisation acceptance: %.4f\n\n", res.Summary.InitialRate)
	fmt.Fprintf(out, "%5s  %10s  %10s  %10s  %10s\n", "INDEX", "T", "THERM ACC", "PROD ACC", "DURATION")
	for _, t := range res.Summary.Temperatures {
		fmt.Fprintf(out, "%5d  %10g  %10.4f  %10.4f  %10s\n",
			t.Index, t.Temperature, t.ThermRate, t.ProdRate, t.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "\nCompleted %d temperatures in %s\n",
		len(res.Summary.Temperatures), res.Summary.Duration.Round(time.Millisecond))
	return nil
}
