// Package logging provides leveled logging and phase tracing for ising.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (progress and operational output)
//   - A PhaseLogger for structured JSONL phase traces (<outdir>/phases.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/ising/internal/constants"
)

// LevelTrace is a custom slog level below Debug for per-sweep detail.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// PhaseEvent describes one completed Monte Carlo phase.
type PhaseEvent struct {
	Phase          string  `json:"phase"`
	Index          int     `json:"index"`
	Temperature    float64 `json:"temperature"`
	Beta           float64 `json:"beta"`
	Sweeps         int     `json:"sweeps"`
	Accepted       int     `json:"accepted"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	Energy         float64 `json:"energy"`
	Magnetisation  float64 `json:"magnetisation"`
	DurationMS     int64   `json:"duration_ms"`
}

// phaseRecord is the on-disk form of a PhaseEvent.
type phaseRecord struct {
	Time string `json:"time"`
	PhaseEvent
}

// PhaseLogger writes structured phase events to a JSONL file.
// It is safe for concurrent use. A nil PhaseLogger is safe to use;
// all methods are no-ops on nil receiver.
type PhaseLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewPhaseLogger creates a phase logger writing to dir/phases.jsonl.
// At "info" level (the default), returns nil and no file is created.
// At "debug" or "trace" level, the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewPhaseLogger(dir string, level string) *PhaseLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}

	path := filepath.Join(dir, constants.PhaseLogFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}

	return &PhaseLogger{file: f}
}

// Log writes a phase event as a single JSONL line with a "time" field.
// Safe to call on nil receiver.
func (pl *PhaseLogger) Log(event PhaseEvent) {
	if pl == nil {
		return
	}

	data, err := json.Marshal(phaseRecord{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		PhaseEvent: event,
	})
	if err != nil {
		return
	}
	data = append(data, '\n')

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.file == nil {
		return
	}
	_, _ = pl.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (pl *PhaseLogger) Close() {
	if pl == nil {
		return
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.file == nil {
		return
	}
	pl.file.Close()
	pl.file = nil
}
