package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/ising/internal/config"
	"github.com/nvandessel/ising/internal/ising"
	"github.com/nvandessel/ising/internal/store"
)

// isolateHome sets HOME to a temp directory so that output directory
// validation never sees the real home directory.
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// quickRun are flags for a run that finishes in milliseconds.
var quickRun = []string{"--lx", "2", "--ly", "2", "--therm-init", "5", "--therm", "3", "--prod", "4"}

func runArgs(dir string, extra ...string) []string {
	args := append([]string{"run", dir}, quickRun...)
	return append(args, extra...)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "ising version "+version) {
		t.Errorf("unexpected output %q", out)
	}

	out, err = execute(t, context.Background(), "version", "--json")
	if err != nil {
		t.Fatalf("version --json failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestRunCmd_TextOutput(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	dir := filepath.Join(tmpDir, "data")

	out, err := execute(t, context.Background(), runArgs(dir)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "Output written to") {
		t.Errorf("unexpected output %q", out)
	}

	d := store.NewDataDir(dir, nil)
	temps, err := d.ReadSchedule()
	if err != nil {
		t.Fatalf("ReadSchedule() error = %v", err)
	}
	if len(temps) != 12 || temps[0] != 0.5 || temps[11] != 6 {
		t.Errorf("schedule = %v, want default 12-point schedule", temps)
	}
	for i := range temps {
		obs, err := d.ReadObservables(i)
		if err != nil {
			t.Fatalf("ReadObservables(%d) error = %v", i, err)
		}
		if obs.Len() != 4 {
			t.Errorf("temperature %d has %d samples, want 4", i, obs.Len())
		}
	}

	// Info level writes no phase trace.
	if _, err := os.Stat(filepath.Join(dir, "phases.jsonl")); !os.IsNotExist(err) {
		t.Error("phases.jsonl should not exist at info level")
	}
}

func TestRunCmd_Deterministic(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	var contents []string
	for _, name := range []string{"a", "b"} {
		dir := filepath.Join(tmpDir, name)
		if _, err := execute(t, context.Background(), runArgs(dir, "--seed", "7")...); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(dir, "11.dat"))
		if err != nil {
			t.Fatalf("failed to read 11.dat: %v", err)
		}
		contents = append(contents, string(data))
	}

	if contents[0] != contents[1] {
		t.Error("runs with the same seed should write identical files")
	}
}

func TestRunCmd_AllFormats(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	dir := filepath.Join(tmpDir, "data")

	out, err := execute(t, context.Background(),
		runArgs(dir, "--format", "text,sqlite,arrow", "--json", "--log-level", "debug")...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	runID, _ := result["run_id"].(string)
	if runID == "" {
		t.Fatalf("expected run_id in %v", result)
	}
	if temps, _ := result["temperatures"].([]interface{}); len(temps) != 12 {
		t.Errorf("expected 12 temperatures, got %d", len(temps))
	}

	fromArrow, temperature, err := store.ReadArrowObservables(store.ArrowPath(dir, 3))
	if err != nil {
		t.Fatalf("ReadArrowObservables() error = %v", err)
	}
	if temperature != 2 {
		t.Errorf("arrow temperature = %v, want 2", temperature)
	}
	fromText, err := store.NewDataDir(dir, nil).ReadObservables(3)
	if err != nil {
		t.Fatalf("ReadObservables() error = %v", err)
	}
	if !equalFloats(fromArrow.Energy(), fromText.Energy()) {
		t.Errorf("arrow and text energies differ: %v vs %v", fromArrow.Energy(), fromText.Energy())
	}

	data, err := os.ReadFile(filepath.Join(dir, "phases.jsonl"))
	if err != nil {
		t.Fatalf("debug level should write phases.jsonl: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 1+2*12 {
		t.Errorf("phases.jsonl has %d lines, want %d", lines, 1+2*12)
	}

	db, err := store.OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer db.Close()
	fromDB, err := db.ReadObservables(context.Background(), runID, 3)
	if err != nil {
		t.Fatalf("sqlite ReadObservables() error = %v", err)
	}
	if !equalFloats(fromDB.Magnetisation(), fromText.Magnetisation()) {
		t.Errorf("sqlite and text magnetisations differ: %v vs %v", fromDB.Magnetisation(), fromText.Magnetisation())
	}
}

func TestRunCmd_SQLiteOnlyKeepsEarlierRuns(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	dir := filepath.Join(tmpDir, "data")

	for i := 0; i < 2; i++ {
		if _, err := execute(t, context.Background(), runArgs(dir, "--format", "sqlite")...); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	out, err := execute(t, context.Background(), "runs", dir, "--json")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if listed.Count != 2 {
		t.Errorf("runs count = %d, want 2", listed.Count)
	}

	if _, err := os.Stat(filepath.Join(dir, "temperatures.dat")); !os.IsNotExist(err) {
		t.Error("sqlite-only run should not write text files")
	}
}

func TestRunCmd_MetricsTextfile(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	prom := filepath.Join(tmpDir, "ising.prom")

	if _, err := execute(t, context.Background(),
		runArgs(filepath.Join(tmpDir, "data"), "--metrics-textfile", prom)...); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("failed to read metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), "ising_sweeps_total") {
		t.Errorf("metrics textfile missing ising_sweeps_total:\n%s", data)
	}
}

func TestRunCmd_Cancelled(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	dir := filepath.Join(tmpDir, "data")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := execute(t, ctx, runArgs(dir)...)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "temperatures.dat")); err != nil {
		t.Errorf("schedule should be written before cancellation is observed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "0.dat")); !os.IsNotExist(err) {
		t.Error("no temperature should complete after cancellation")
	}
}

func TestRunCmd_Rejects(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"zero width", runArgs(filepath.Join(tmpDir, "data"), "--lx", "0"), "invalid configuration"},
		{"unknown format", runArgs(filepath.Join(tmpDir, "data"), "--format", "csv"), "invalid output format"},
		{"home directory", runArgs(filepath.Join(tmpDir, "home")), "home directory"},
		{"too many args", []string{"run", "a", "b"}, "accepts at most 1 arg"},
		{"prod list length", runArgs(filepath.Join(tmpDir, "data"), "--prod", "1,2"), "sweep counts for 12 temperatures"},
		{"snapshots without text or sqlite", runArgs(filepath.Join(tmpDir, "data"), "--format", "arrow", "--snapshots"), "snapshots need"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, context.Background(), tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunCmd_PerTemperatureSweepsAndSnapshots(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	dir := filepath.Join(tmpDir, "data")
	cfgPath := filepath.Join(tmpDir, "run.yaml")
	if err := os.WriteFile(cfgPath, []byte("temperatures: [1.0, 2.0, 3.0]\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := execute(t, context.Background(), "run", dir, "--config", cfgPath,
		"--lx", "3", "--ly", "2", "--therm-init", "5", "--therm", "3",
		"--prod", "2,3,4", "--snapshots", "--format", "text,sqlite")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	d := store.NewDataDir(dir, nil)
	for i, want := range []int{2, 3, 4} {
		obs, err := d.ReadObservables(i)
		if err != nil {
			t.Fatalf("ReadObservables(%d) error = %v", i, err)
		}
		if obs.Len() != want {
			t.Errorf("temperature %d has %d samples, want %d", i, obs.Len(), want)
		}

		snaps, err := d.ReadSnapshots(i)
		if err != nil {
			t.Fatalf("ReadSnapshots(%d) error = %v", i, err)
		}
		if len(snaps.Configs) != want || snaps.Temperature != float64(i+1) {
			t.Errorf("temperature %d: %d snapshots at T=%v, want %d at T=%d",
				i, len(snaps.Configs), snaps.Temperature, want, i+1)
		}

		last := snaps.Configs[len(snaps.Configs)-1]
		if got := ising.Magnetisation(last); got != obs.Magnetisation()[want-1] {
			t.Errorf("temperature %d: last snapshot magnetisation %v, want %v",
				i, got, obs.Magnetisation()[want-1])
		}
	}

	db, err := store.OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer db.Close()
	runs, err := db.ListRuns(context.Background())
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns() = %v, %v", runs, err)
	}
	fromDB, err := db.ReadSnapshots(context.Background(), runs[0].ID, 2)
	if err != nil {
		t.Fatalf("ReadSnapshots() error = %v", err)
	}
	fromText, _ := d.ReadSnapshots(2)
	if len(fromDB) != 4 {
		t.Fatalf("sqlite has %d snapshots, want 4", len(fromDB))
	}
	for k := range fromDB {
		if ising.Magnetisation(fromDB[k]) != ising.Magnetisation(fromText.Configs[k]) {
			t.Errorf("snapshot %d differs between sqlite and text", k)
		}
	}
}

func TestRunCmd_RejectsWorkingDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	wd := filepath.Join(tmpDir, "project")
	if err := os.MkdirAll(wd, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	t.Chdir(wd)

	_, err := execute(t, context.Background(), runArgs(".")...)
	if err == nil || !strings.Contains(err.Error(), "working directory") {
		t.Errorf("error = %v, want working directory rejection", err)
	}
	if _, statErr := os.Stat(wd); statErr != nil {
		t.Errorf("working directory must survive: %v", statErr)
	}
}

func TestScheduleCmd(t *testing.T) {
	out, err := execute(t, context.Background(), "schedule")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 12 || lines[0] != "0: 0.5" || lines[11] != "11: 6" {
		t.Errorf("unexpected default schedule %q", out)
	}

	out, err = execute(t, context.Background(), "schedule", "--points", "3", "--step", "1")
	if err != nil {
		t.Fatalf("schedule --points failed: %v", err)
	}
	if out != "0: 1\n1: 2\n2: 3\n" {
		t.Errorf("linear schedule = %q", out)
	}

	if _, err := execute(t, context.Background(), "schedule", "--points", "0"); err == nil {
		t.Error("empty schedule should fail")
	}
}

func TestScheduleCmd_NegativePoints(t *testing.T) {
	_, err := execute(t, context.Background(), "schedule", "--points", "-1")
	if err == nil {
		t.Fatal("negative --points should fail")
	}
	if !strings.Contains(err.Error(), "--points must be at least 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")

	if _, err := execute(t, context.Background(), "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := execute(t, context.Background(), "config", "init", path); err == nil {
		t.Error("config init should refuse to overwrite")
	}
	if _, err := execute(t, context.Background(), "config", "init", path, "--force"); err != nil {
		t.Errorf("config init --force failed: %v", err)
	}

	loaded, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config should be valid: %v", err)
	}

	t.Setenv("ISING_LX", "9")
	out, err := execute(t, context.Background(), "config", "show", "--config", path, "--json")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	var shown config.RunConfig
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if shown.Lattice.X != 9 || shown.Lattice.Y != 3 {
		t.Errorf("lattice = %s, want 9x3", shown.Lattice)
	}

	out, err = execute(t, context.Background(), "config", "show", "--log-level", "trace")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "level: trace") {
		t.Errorf("expected log level override in %q", out)
	}
}

func TestRunsCmd_NoDatabase(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, context.Background(), "runs", dir)
	if err == nil || !strings.Contains(err.Error(), "no ising.db") {
		t.Errorf("error = %v, want missing database", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "ising.db")); !os.IsNotExist(statErr) {
		t.Error("runs must not create a database")
	}
}

func TestRunsCmd_Text(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	dir := filepath.Join(tmpDir, "data")

	if _, err := execute(t, context.Background(), runArgs(dir, "--format", "sqlite", "--cold")...); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out, err := execute(t, context.Background(), "runs", dir)
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	for _, want := range []string{"lattice=2x2", "seed=138", "start=cold", "temperatures=12", "samples=48"} {
		if !strings.Contains(out, want) {
			t.Errorf("runs output missing %q:\n%s", want, out)
		}
	}
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
