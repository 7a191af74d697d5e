// Package store persists the results of a run.
//
// Three backends are provided: a plain text data directory compatible with
// whitespace-separated array readers, a SQLite database that keeps every run
// recorded in the directory, and one Arrow IPC file per temperature.
// MultiWriter fans a run out to any combination of them.
package store

import (
	"errors"
	"fmt"

	"github.com/nvandessel/ising/internal/lattice"
	"github.com/nvandessel/ising/internal/montecarlo"
)

// Writer is implemented by every output backend.
type Writer interface {
	// WriteSchedule records the temperature schedule in run order.
	WriteSchedule(temps []float64) error

	// WriteObservables records the production samples of temperature index.
	WriteObservables(index int, temperature float64, obs *montecarlo.Observables) error

	// Close flushes and releases the backend.
	Close() error
}

// SnapshotWriter is implemented by backends that store the spin
// configuration after production sweeps: DataDir and SQLiteStore.
type SnapshotWriter interface {
	WriteSnapshot(index int, temperature float64, sweep int, cfg *lattice.Configuration) error
}

// MultiWriter writes to several backends in order.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a MultiWriter over writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteSchedule writes the schedule to every backend and stops at the first error.
func (m *MultiWriter) WriteSchedule(temps []float64) error {
	for _, w := range m.writers {
		if err := w.WriteSchedule(temps); err != nil {
			return err
		}
	}
	return nil
}

// WriteObservables writes obs to every backend and stops at the first error.
func (m *MultiWriter) WriteObservables(index int, temperature float64, obs *montecarlo.Observables) error {
	for _, w := range m.writers {
		if err := w.WriteObservables(index, temperature, obs); err != nil {
			return err
		}
	}
	return nil
}

// WriteSnapshot forwards cfg to every backend that stores snapshots and stops
// at the first error. Backends without snapshot support are skipped.
func (m *MultiWriter) WriteSnapshot(index int, temperature float64, sweep int, cfg *lattice.Configuration) error {
	for _, w := range m.writers {
		sw, ok := w.(SnapshotWriter)
		if !ok {
			continue
		}
		if err := sw.WriteSnapshot(index, temperature, sweep, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every backend, even after a failure, and joins the errors.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
