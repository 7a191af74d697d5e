package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/store"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs [output-dir]",
		Short: "List runs recorded in the SQLite store",
		Long: `List the runs recorded in <output-dir>/ising.db by runs using the sqlite
output format. The output directory defaults to the configured one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			db, err := openExistingStore(outputDir(cfg, args))
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				if runs == nil {
					runs = []store.RunInfo{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  lattice=%s seed=%d start=%s temperatures=%d samples=%d\n",
					r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Shape, r.Seed, r.Start, r.Temperatures, r.Samples)
			}
			return nil
		},
	}
}

// openExistingStore opens ising.db in dir without creating it.
func openExistingStore(dir string) (*store.SQLiteStore, error) {
	if _, err := os.Stat(filepath.Join(dir, constants.DatabaseFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no %s in %s (run with --format sqlite first)", constants.DatabaseFile, dir)
		}
		return nil, err
	}
	return store.OpenSQLiteStore(dir)
}
