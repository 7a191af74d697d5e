package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/lattice"
	"github.com/nvandessel/ising/internal/montecarlo"
)

// ErrNoRun is returned when samples are written before BeginRun.
var ErrNoRun = errors.New("no run started")

// ErrSnapshotsPending is returned by reads while snapshots of a temperature
// wait for its observables.
var ErrSnapshotsPending = errors.New("snapshot transaction in progress")

// RunInfo describes one run recorded in the database.
type RunInfo struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	Shape        lattice.Shape   `json:"lattice"`
	Seed         uint64          `json:"seed"`
	Start        constants.Start `json:"start"`
	Temperatures int             `json:"temperatures"`
	Samples      int             `json:"samples"`
}

// SQLiteStore records runs in <dir>/ising.db. Unlike the text backend it
// keeps earlier runs: every BeginRun adds a new run with its own id.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	runID  string

	// Snapshots of one temperature share a transaction that
	// WriteObservables commits together with the samples.
	snapTx    *sql.Tx
	snapStmt  *sql.Stmt
	snapIndex int
}

// OpenSQLiteStore opens (or creates) the database in dir.
func OpenSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	dbPath := filepath.Join(dir, constants.DatabaseFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// BeginRun records a new run and makes it the target of subsequent writes.
func (s *SQLiteStore) BeginRun(ctx context.Context, shape lattice.Shape, seed uint64, start constants.Start) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start == "" {
		start = constants.StartHot
	}
	s.discardSnapshots()

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, lx, ly, seed, start) VALUES (?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano), shape.X, shape.Y, int64(seed), string(start))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	s.runID = id
	return id, nil
}

// RunID returns the id of the current run, or "" before BeginRun.
func (s *SQLiteStore) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// WriteSchedule records the schedule of the current run.
func (s *SQLiteStore) WriteSchedule(temps []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == "" {
		return ErrNoRun
	}
	s.discardSnapshots()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, t := range temps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO temperatures (run_id, idx, t) VALUES (?, ?, ?)`,
			s.runID, i, t); err != nil {
			return fmt.Errorf("failed to insert temperature %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// WriteObservables records the samples of temperature index in one transaction.
func (s *SQLiteStore) WriteObservables(index int, temperature float64, obs *montecarlo.Observables) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == "" {
		return ErrNoRun
	}

	ctx := context.Background()
	var tx *sql.Tx
	if s.snapTx != nil && s.snapIndex == index {
		tx = s.snapTx
		s.snapStmt.Close()
		s.snapTx, s.snapStmt = nil, nil
	} else {
		s.discardSnapshots()
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := insertTemperature(ctx, tx, s.runID, index, temperature); err != nil {
			tx.Rollback()
			return err
		}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (run_id, idx, sweep, energy, magnetisation) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	energy, magn := obs.Energy(), obs.Magnetisation()
	for sweep := range energy {
		if _, err := stmt.ExecContext(ctx, s.runID, index, sweep, energy[sweep], magn[sweep]); err != nil {
			return fmt.Errorf("failed to insert sample %d of temperature %d: %w", sweep, index, err)
		}
	}

	return tx.Commit()
}

// WriteSnapshot records cfg as taken after production sweep of temperature
// index. The rows are committed together with the observables of the same
// index; snapshots of a temperature whose observables are never written are
// discarded.
func (s *SQLiteStore) WriteSnapshot(index int, temperature float64, sweep int, cfg *lattice.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == "" {
		return ErrNoRun
	}

	ctx := context.Background()
	if s.snapTx != nil && s.snapIndex != index {
		s.discardSnapshots()
	}
	if s.snapTx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := insertTemperature(ctx, tx, s.runID, index, temperature); err != nil {
			tx.Rollback()
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO snapshots (run_id, idx, sweep, spins) VALUES (?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		s.snapTx, s.snapStmt, s.snapIndex = tx, stmt, index
	}

	if _, err := s.snapStmt.ExecContext(ctx, s.runID, index, sweep, encodeSpins(cfg)); err != nil {
		return fmt.Errorf("failed to insert snapshot %d of temperature %d: %w", sweep, index, err)
	}
	return nil
}

// ReadSnapshots returns the snapshots of temperature index of runID in sweep
// order.
func (s *SQLiteStore) ReadSnapshots(ctx context.Context, runID string, index int) ([]*lattice.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapTx != nil {
		return nil, ErrSnapshotsPending
	}

	var shape lattice.Shape
	if err := s.db.QueryRowContext(ctx,
		`SELECT lx, ly FROM runs WHERE id = ?`, runID).Scan(&shape.X, &shape.Y); err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sweep, spins FROM snapshots WHERE run_id = ? AND idx = ? ORDER BY sweep`,
		runID, index)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var cfgs []*lattice.Configuration
	for rows.Next() {
		var (
			sweep int
			blob  []byte
		)
		if err := rows.Scan(&sweep, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		cfg, err := decodeSpins(shape, blob)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d of temperature %d: %w", sweep, index, err)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, rows.Err()
}

// ListRuns returns every recorded run, oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapTx != nil {
		return nil, ErrSnapshotsPending
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.created_at, r.lx, r.ly, r.seed, r.start,
			(SELECT COUNT(*) FROM temperatures t WHERE t.run_id = r.id),
			(SELECT COUNT(*) FROM samples sm WHERE sm.run_id = r.id)
		FROM runs r
		ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var (
			info      RunInfo
			createdAt string
			seed      int64
			start     string
		)
		if err := rows.Scan(&info.ID, &createdAt, &info.Shape.X, &info.Shape.Y, &seed, &start,
			&info.Temperatures, &info.Samples); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at of run %s: %w", info.ID, err)
		}
		info.Seed = uint64(seed)
		info.Start = constants.Start(start)
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// ReadSchedule returns the schedule of runID.
func (s *SQLiteStore) ReadSchedule(ctx context.Context, runID string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapTx != nil {
		return nil, ErrSnapshotsPending
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT t FROM temperatures WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query temperatures: %w", err)
	}
	defer rows.Close()

	var temps []float64
	for rows.Next() {
		var t float64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan temperature: %w", err)
		}
		temps = append(temps, t)
	}
	return temps, rows.Err()
}

// ReadObservables returns the samples of temperature index of runID in sweep order.
func (s *SQLiteStore) ReadObservables(ctx context.Context, runID string, index int) (*montecarlo.Observables, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapTx != nil {
		return nil, ErrSnapshotsPending
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT energy, magnetisation FROM samples WHERE run_id = ? AND idx = ? ORDER BY sweep`,
		runID, index)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	obs := montecarlo.NewObservables(0)
	for rows.Next() {
		var e, m float64
		if err := rows.Scan(&e, &m); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		obs.Record(e, m)
	}
	return obs, rows.Err()
}

// Close discards pending snapshots and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discardSnapshots()
	return s.db.Close()
}

// discardSnapshots rolls back a snapshot transaction whose observables were
// never written. Callers hold s.mu.
func (s *SQLiteStore) discardSnapshots() {
	if s.snapTx == nil {
		return
	}
	s.snapStmt.Close()
	s.snapTx.Rollback()
	s.snapTx, s.snapStmt = nil, nil
}

func insertTemperature(ctx context.Context, tx *sql.Tx, runID string, index int, temperature float64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO temperatures (run_id, idx, t) VALUES (?, ?, ?)`,
		runID, index, temperature); err != nil {
		return fmt.Errorf("failed to insert temperature %d: %w", index, err)
	}
	return nil
}

// encodeSpins stores one byte per site: 1 for up, 0 for down.
func encodeSpins(cfg *lattice.Configuration) []byte {
	blob := make([]byte, cfg.Len())
	for i := range blob {
		if cfg.At(i) == lattice.Up {
			blob[i] = 1
		}
	}
	return blob
}

func decodeSpins(shape lattice.Shape, blob []byte) (*lattice.Configuration, error) {
	spins := make([]lattice.Spin, len(blob))
	for i, b := range blob {
		switch b {
		case 1:
			spins[i] = lattice.Up
		case 0:
			spins[i] = lattice.Down
		default:
			return nil, fmt.Errorf("site %d: invalid spin byte %d", i, b)
		}
	}
	return lattice.FromSpins(shape, spins)
}
