// Package driver runs a temperature schedule through the Monte Carlo engine.
//
// One configuration and one random source are created per run and threaded
// through the whole schedule: an initial thermalisation at the first
// temperature, then for every temperature a re-thermalisation followed by a
// measured production phase. Only the observable store is fresh per
// temperature; the spin state carries over so that each temperature starts
// close to equilibrium.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/ising"
	"github.com/nvandessel/ising/internal/lattice"
	"github.com/nvandessel/ising/internal/logging"
	"github.com/nvandessel/ising/internal/metrics"
	"github.com/nvandessel/ising/internal/montecarlo"
	"github.com/nvandessel/ising/internal/rng"
)

// Phase names used in logs, traces and metrics.
const (
	PhaseThermInit = "therm_init"
	PhaseTherm     = "therm"
	PhaseProd      = "prod"
)

// Writer persists the schedule and the production observables of each
// temperature.
type Writer interface {
	WriteSchedule(temps []float64) error
	WriteObservables(index int, temperature float64, obs *montecarlo.Observables) error
}

// SnapshotWriter persists the spin configuration after a production sweep.
// A Writer that also implements it can record snapshots.
type SnapshotWriter interface {
	WriteSnapshot(index int, temperature float64, sweep int, cfg *lattice.Configuration) error
}

// ErrSnapshotsUnsupported is returned when snapshots are requested from a
// writer that cannot store them.
var ErrSnapshotsUnsupported = errors.New("writer does not support configuration snapshots")

// Params are the inputs of a run.
type Params struct {
	Shape     lattice.Shape
	Seed      uint64
	Start     constants.Start
	Schedule  Schedule
	ThermInit int
	Therm     Sweeps
	Prod      Sweeps

	// Snapshots records the configuration after every production sweep.
	Snapshots bool
}

// Validate checks the parameters before any output is produced.
func (p Params) Validate() error {
	if !p.Shape.Valid() {
		return fmt.Errorf("invalid lattice shape %s", p.Shape)
	}
	if p.Start != "" && !p.Start.Valid() {
		return fmt.Errorf("invalid start %q", p.Start)
	}
	if err := p.Schedule.Validate(); err != nil {
		return err
	}
	if p.ThermInit < 0 {
		return errors.New("sweep counts must be non-negative")
	}
	if err := p.Therm.Validate(len(p.Schedule)); err != nil {
		return fmt.Errorf("therm: %w", err)
	}
	if err := p.Prod.Validate(len(p.Schedule)); err != nil {
		return fmt.Errorf("prod: %w", err)
	}
	return nil
}

// TemperatureResult summarizes one temperature of the schedule.
type TemperatureResult struct {
	Index       int
	Temperature float64
	ThermRate   float64
	ProdRate    float64
	Samples     int
	Duration    time.Duration
}

// Summary reports a completed (or interrupted) run.
type Summary struct {
	InitialRate  float64
	Temperatures []TemperatureResult
	FinalEnergy  float64
	Duration     time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the progress logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithPhaseLogger sets the JSONL phase trace.
func WithPhaseLogger(pl *logging.PhaseLogger) Option {
	return func(r *Runner) { r.phases = pl }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner orchestrates the phases of a run against a Writer.
type Runner struct {
	params    Params
	writer    Writer
	snapshots SnapshotWriter
	logger    *slog.Logger
	phases  *logging.PhaseLogger
	metrics *metrics.Recorder

	src   *rng.Source
	state *montecarlo.State
}

// NewRunner validates params and builds the initial state: the random source,
// the hot or cold start configuration and its Hamiltonian energy.
func NewRunner(params Params, w Writer, opts ...Option) (*Runner, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		params: params,
		writer: w,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if params.Snapshots {
		sw, ok := w.(SnapshotWriter)
		if !ok {
			return nil, ErrSnapshotsUnsupported
		}
		r.snapshots = sw
	}

	r.src = rng.New(params.Seed)
	var cfg *lattice.Configuration
	if params.Start == constants.StartCold {
		cfg = lattice.Uniform(params.Shape, lattice.Up)
	} else {
		cfg = lattice.Random(params.Shape, r.src)
	}
	r.state = montecarlo.NewState(cfg)

	return r, nil
}

// State exposes the engine state, which is mutated by Run.
func (r *Runner) State() *montecarlo.State {
	return r.state
}

// Run persists the schedule and executes every phase in order.
//
// The context is checked between phases only; a sweep phase always runs to
// completion. Outputs of temperatures completed before cancellation or a
// write failure are left in place.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	schedule := r.params.Schedule
	summary := &Summary{}

	if err := r.writer.WriteSchedule(schedule); err != nil {
		return summary, fmt.Errorf("writing schedule: %w", err)
	}

	r.logger.Info("starting run",
		"lattice", r.params.Shape.String(),
		"seed", r.params.Seed,
		"start", string(r.params.Start),
		"temperatures", len(schedule),
		"energy", r.state.Energy)

	accepted := r.phase(ctx, PhaseThermInit, 0, schedule[0], r.params.ThermInit, nil)
	summary.InitialRate = montecarlo.AcceptanceRate(accepted, r.params.ThermInit, r.state.Config.Len())
	r.logger.Info("initial thermalisation done", "acceptance_rate", summary.InitialRate)

	for i, temp := range schedule {
		if err := ctx.Err(); err != nil {
			return r.finish(summary, start), fmt.Errorf("run interrupted before temperature %d: %w", i, err)
		}

		tempStart := time.Now()
		therm, prod := r.params.Therm.At(i), r.params.Prod.At(i)
		r.logger.Info("running temperature", "index", i, "temperature", temp)

		thermAccepted := r.phase(ctx, PhaseTherm, i, temp, therm, nil)

		if err := ctx.Err(); err != nil {
			return r.finish(summary, start), fmt.Errorf("run interrupted at temperature %d: %w", i, err)
		}

		var extra []montecarlo.Measurement
		var snapErr error
		if r.snapshots != nil {
			sweep := 0
			extra = append(extra, func(cfg *lattice.Configuration, _ float64) {
				if snapErr == nil {
					snapErr = r.snapshots.WriteSnapshot(i, temp, sweep, cfg)
				}
				sweep++
			})
		}

		obs := montecarlo.NewObservables(prod)
		prodAccepted := r.phase(ctx, PhaseProd, i, temp, prod, obs, extra...)
		if snapErr != nil {
			return r.finish(summary, start), fmt.Errorf("writing snapshot for temperature %d: %w", i, snapErr)
		}

		if err := r.writer.WriteObservables(i, temp, obs); err != nil {
			return r.finish(summary, start), fmt.Errorf("writing observables for temperature %d: %w", i, err)
		}
		r.metrics.TemperatureDone()

		n := r.state.Config.Len()
		result := TemperatureResult{
			Index:       i,
			Temperature: temp,
			ThermRate:   montecarlo.AcceptanceRate(thermAccepted, therm, n),
			ProdRate:    montecarlo.AcceptanceRate(prodAccepted, prod, n),
			Samples:     obs.Len(),
			Duration:    time.Since(tempStart),
		}
		summary.Temperatures = append(summary.Temperatures, result)

		r.logger.Info("temperature done",
			"index", i,
			"temperature", temp,
			"therm_acceptance", result.ThermRate,
			"prod_acceptance", result.ProdRate,
			"duration", result.Duration)
	}

	r.finish(summary, start)
	r.logger.Info("run complete", "duration", summary.Duration, "final_energy", summary.FinalEnergy)
	return summary, nil
}

// phase runs one Evolve call and reports it to the logger, trace and metrics.
// At trace level every sweep is logged as well.
func (r *Runner) phase(ctx context.Context, name string, index int, temp float64, sweeps int,
	sink montecarlo.Sink, extra ...montecarlo.Measurement) int {
	beta := 1 / temp
	began := time.Now()

	if r.logger.Enabled(ctx, logging.LevelTrace) {
		sweep := 0
		extra = append(extra, func(cfg *lattice.Configuration, energy float64) {
			r.logger.Log(ctx, logging.LevelTrace, "sweep",
				"phase", name,
				"index", index,
				"sweep", sweep,
				"energy", energy,
				"magnetisation", ising.Magnetisation(cfg))
			sweep++
		})
	}

	accepted := montecarlo.Evolve(r.state, beta, r.src, sweeps, sink, extra...)
	elapsed := time.Since(began)

	rate := montecarlo.AcceptanceRate(accepted, sweeps, r.state.Config.Len())
	magn := ising.Magnetisation(r.state.Config)

	r.logger.Debug("phase done",
		"phase", name,
		"index", index,
		"temperature", temp,
		"sweeps", sweeps,
		"accepted", accepted,
		"acceptance_rate", rate,
		"energy", r.state.Energy,
		"magnetisation", magn,
		"duration", elapsed)

	r.phases.Log(logging.PhaseEvent{
		Phase:          name,
		Index:          index,
		Temperature:    temp,
		Beta:           beta,
		Sweeps:         sweeps,
		Accepted:       accepted,
		AcceptanceRate: rate,
		Energy:         r.state.Energy,
		Magnetisation:  magn,
		DurationMS:     elapsed.Milliseconds(),
	})
	r.metrics.ObservePhase(name, temp, sweeps, accepted, rate, elapsed)

	return accepted
}

func (r *Runner) finish(summary *Summary, start time.Time) *Summary {
	summary.FinalEnergy = r.state.Energy
	summary.Duration = time.Since(start)
	return summary
}

// Run is a convenience wrapper around NewRunner and Runner.Run.
func Run(ctx context.Context, params Params, w Writer, opts ...Option) (*Summary, error) {
	r, err := NewRunner(params, w, opts...)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}
