package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/lattice"
	"github.com/nvandessel/ising/internal/logging"
	"github.com/nvandessel/ising/internal/montecarlo"
	"github.com/nvandessel/ising/internal/pathutil"
)

// DataDir is the text backend. It writes temperatures.dat with one
// "<index>: <temperature>" line per schedule entry and one <index>.dat file
// per temperature holding the energy series on the first line and the
// magnetisation series on the second. Every value is followed by a single
// space.
//
// Snapshots go to <index>.cfg: a "# T=<temperature> shape=[<lx>, <ly>]"
// header, then one line of comma-separated spins per production sweep.
type DataDir struct {
	path   string
	logger *slog.Logger

	snapFile  *os.File
	snapBuf   *bufio.Writer
	snapIndex int
}

// NewDataDir creates a text backend rooted at path. A nil logger discards.
func NewDataDir(path string, logger *slog.Logger) *DataDir {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DataDir{path: path, logger: logger}
}

// Path returns the directory root.
func (d *DataDir) Path() string {
	return d.path
}

// Prepare removes the directory if it exists and creates it empty.
// Callers are expected to validate the path with pathutil.ValidateOutputDir.
func (d *DataDir) Prepare() error {
	if _, err := os.Stat(d.path); err == nil {
		d.logger.Warn("output directory already exists, deleting", "path", pathutil.RedactPath(d.path))
		if err := os.RemoveAll(d.path); err != nil {
			return fmt.Errorf("removing output directory: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking output directory: %w", err)
	}

	if err := os.MkdirAll(d.path, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return nil
}

// WriteSchedule writes temperatures.dat.
func (d *DataDir) WriteSchedule(temps []float64) error {
	var b strings.Builder
	for i, t := range temps {
		b.WriteString(strconv.Itoa(i))
		b.WriteString(": ")
		b.WriteString(formatFloat(t))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(d.schedulePath(), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", constants.TemperaturesFile, err)
	}
	return nil
}

// WriteObservables writes <index>.dat. The temperature is recorded in
// temperatures.dat only.
func (d *DataDir) WriteObservables(index int, _ float64, obs *montecarlo.Observables) error {
	var b strings.Builder
	writeSeries(&b, obs.Energy())
	writeSeries(&b, obs.Magnetisation())

	path := d.observablesPath(index)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return d.closeSnapshots()
}

// WriteSnapshot appends cfg to <index>.cfg. The file of an index is created
// with its header by the first snapshot and closed by WriteObservables.
func (d *DataDir) WriteSnapshot(index int, temperature float64, _ int, cfg *lattice.Configuration) error {
	if d.snapFile != nil && d.snapIndex != index {
		if err := d.closeSnapshots(); err != nil {
			return err
		}
	}
	if d.snapFile == nil {
		path := d.snapshotPath(index)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
		}
		d.snapFile, d.snapBuf, d.snapIndex = f, bufio.NewWriter(f), index

		shape := cfg.Shape()
		fmt.Fprintf(d.snapBuf, "# T=%s shape=[%d, %d]\n", formatFloat(temperature), shape.X, shape.Y)
	}

	for i := 0; i < cfg.Len(); i++ {
		if i > 0 {
			d.snapBuf.WriteString(", ")
		}
		d.snapBuf.WriteString(strconv.Itoa(int(cfg.At(i))))
	}
	if err := d.snapBuf.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(d.snapFile.Name()), err)
	}
	return nil
}

// Snapshots is the content of one <index>.cfg file.
type Snapshots struct {
	Temperature float64
	Shape       lattice.Shape
	Configs     []*lattice.Configuration
}

// ReadSnapshots parses <index>.cfg.
func (d *DataDir) ReadSnapshots(index int) (*Snapshots, error) {
	path := d.snapshotPath(index)
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("%s: missing header", name)
	}
	snaps := &Snapshots{}
	if _, err := fmt.Sscanf(scanner.Text(), "# T=%g shape=[%d, %d]",
		&snaps.Temperature, &snaps.Shape.X, &snaps.Shape.Y); err != nil {
		return nil, fmt.Errorf("%s: invalid header %q: %w", name, scanner.Text(), err)
	}

	for lineNum := 2; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		spins := make([]lattice.Spin, len(fields))
		for i, field := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", name, lineNum, err)
			}
			spins[i] = lattice.Spin(v)
		}
		cfg, err := lattice.FromSpins(snaps.Shape, spins)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, lineNum, err)
		}
		snaps.Configs = append(snaps.Configs, cfg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return snaps, nil
}

// ReadSchedule parses temperatures.dat. Indices must be consecutive from 0.
func (d *DataDir) ReadSchedule() ([]float64, error) {
	f, err := os.Open(d.schedulePath())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", constants.TemperaturesFile, err)
	}
	defer f.Close()

	var temps []float64
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idxStr, tempStr, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%s line %d: missing ':'", constants.TemperaturesFile, lineNum)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid index: %w", constants.TemperaturesFile, lineNum, err)
		}
		if idx != len(temps) {
			return nil, fmt.Errorf("%s line %d: expected index %d, got %d", constants.TemperaturesFile, lineNum, len(temps), idx)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(tempStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid temperature: %w", constants.TemperaturesFile, lineNum, err)
		}
		temps = append(temps, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", constants.TemperaturesFile, err)
	}
	return temps, nil
}

// ReadObservables parses <index>.dat back into an Observables.
func (d *DataDir) ReadObservables(index int) (*montecarlo.Observables, error) {
	path := d.observablesPath(index)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%s: expected 2 lines, got %d", filepath.Base(path), len(lines))
	}

	energy, err := parseSeries(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%s: energy: %w", filepath.Base(path), err)
	}
	magn, err := parseSeries(lines[1])
	if err != nil {
		return nil, fmt.Errorf("%s: magnetisation: %w", filepath.Base(path), err)
	}

	obs, err := montecarlo.NewObservablesFrom(energy, magn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return obs, nil
}

// Close flushes a snapshot file left open by an unfinished temperature.
// Every other file is written and closed immediately.
func (d *DataDir) Close() error {
	return d.closeSnapshots()
}

func (d *DataDir) closeSnapshots() error {
	if d.snapFile == nil {
		return nil
	}
	name := filepath.Base(d.snapFile.Name())
	flushErr := d.snapBuf.Flush()
	closeErr := d.snapFile.Close()
	d.snapFile, d.snapBuf = nil, nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (d *DataDir) schedulePath() string {
	return filepath.Join(d.path, constants.TemperaturesFile)
}

func (d *DataDir) observablesPath(index int) string {
	return filepath.Join(d.path, strconv.Itoa(index)+".dat")
}

func (d *DataDir) snapshotPath(index int) string {
	return filepath.Join(d.path, strconv.Itoa(index)+".cfg")
}

func writeSeries(b *strings.Builder, values []float64) {
	for _, v := range values {
		b.WriteString(formatFloat(v))
		b.WriteByte(' ')
	}
	b.WriteByte('\n')
}

func parseSeries(line string) ([]float64, error) {
	fields := strings.Fields(line)
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// formatFloat uses the shortest representation that parses back exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
