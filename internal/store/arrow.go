package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/ising/internal/montecarlo"
)

// Arrow column and metadata names.
const (
	ArrowEnergyColumn        = "energy"
	ArrowMagnetisationColumn = "magnetisation"
	ArrowTemperatureKey      = "temperature"
)

// ArrowWriter writes one Arrow IPC file, <index>.arrow, per temperature. Each
// file holds a single record with float64 columns energy and magnetisation;
// the temperature is stored in the schema metadata.
type ArrowWriter struct {
	dir string
	mem memory.Allocator
}

// NewArrowWriter creates an Arrow backend writing into dir, which must exist.
func NewArrowWriter(dir string) *ArrowWriter {
	return &ArrowWriter{dir: dir, mem: memory.NewGoAllocator()}
}

// WriteSchedule is a no-op; every file carries its own temperature.
func (w *ArrowWriter) WriteSchedule([]float64) error {
	return nil
}

// WriteObservables writes <index>.arrow.
func (w *ArrowWriter) WriteObservables(index int, temperature float64, obs *montecarlo.Observables) error {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ArrowEnergyColumn, Type: arrow.PrimitiveTypes.Float64},
		{Name: ArrowMagnetisationColumn, Type: arrow.PrimitiveTypes.Float64},
	}, metadataFor(temperature))

	b := array.NewRecordBuilder(w.mem, schema)
	defer b.Release()

	b.Field(0).(*array.Float64Builder).AppendValues(obs.Energy(), nil)
	b.Field(1).(*array.Float64Builder).AppendValues(obs.Magnetisation(), nil)

	rec := b.NewRecord()
	defer rec.Release()

	path := ArrowPath(w.dir, index)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}

	fw, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(w.mem))
	if err != nil {
		f.Close()
		return fmt.Errorf("opening arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := fw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finishing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Close is a no-op; every file is closed after its write.
func (w *ArrowWriter) Close() error {
	return nil
}

// ArrowPath returns the Arrow file of temperature index in dir.
func ArrowPath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+".arrow")
}

// ReadArrowObservables reads a file written by ArrowWriter and returns its
// samples and temperature.
func ReadArrowObservables(path string) (*montecarlo.Observables, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	schema := r.Schema()
	temperature, err := temperatureFrom(schema.Metadata())
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	energyCol, err := columnIndex(schema, ArrowEnergyColumn)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	magnCol, err := columnIndex(schema, ArrowMagnetisationColumn)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	var energy, magn []float64
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: record %d: %w", filepath.Base(path), i, err)
		}
		e, ok := rec.Column(energyCol).(*array.Float64)
		if !ok {
			return nil, 0, fmt.Errorf("%s: column %s is not float64", filepath.Base(path), ArrowEnergyColumn)
		}
		m, ok := rec.Column(magnCol).(*array.Float64)
		if !ok {
			return nil, 0, fmt.Errorf("%s: column %s is not float64", filepath.Base(path), ArrowMagnetisationColumn)
		}
		// Record buffers are only valid until the next call to Record.
		energy = append(energy, e.Float64Values()...)
		magn = append(magn, m.Float64Values()...)
	}

	obs, err := montecarlo.NewObservablesFrom(energy, magn)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return obs, temperature, nil
}

func metadataFor(temperature float64) *arrow.Metadata {
	md := arrow.NewMetadata(
		[]string{ArrowTemperatureKey},
		[]string{strconv.FormatFloat(temperature, 'g', -1, 64)},
	)
	return &md
}

func temperatureFrom(md arrow.Metadata) (float64, error) {
	i := md.FindKey(ArrowTemperatureKey)
	if i < 0 {
		return 0, errors.New("missing temperature metadata")
	}
	t, err := strconv.ParseFloat(md.Values()[i], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature metadata: %w", err)
	}
	return t, nil
}

func columnIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return 0, fmt.Errorf("missing column %s", name)
	}
	return indices[0], nil
}
