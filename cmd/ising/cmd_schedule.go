package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ising/internal/constants"
	"github.com/nvandessel/ising/internal/driver"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the effective temperature schedule",
		Long: `Print the temperatures a run would visit, in order, as "<index>: <T>" lines.

Without flags the schedule comes from the configuration, or the default
12-point schedule 0.5, 1.0, ..., 6.0 when none is configured. --points and
--step preview a linear schedule T_k = step*(k+1) instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			schedule := cfg.Schedule()
			if cmd.Flags().Changed("points") || cmd.Flags().Changed("step") {
				points, _ := cmd.Flags().GetInt("points")
				step, _ := cmd.Flags().GetFloat64("step")
				if points < 1 {
					return fmt.Errorf("--points must be at least 1, got %d", points)
				}
				schedule = driver.LinearSchedule(points, step)
			}
			if err := schedule.Validate(); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"temperatures": schedule,
					"betas":        schedule.Betas(),
				})
			}

			for i, t := range schedule {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %g\n", i, t)
			}
			return nil
		},
	}

	cmd.Flags().Int("points", constants.DefaultSchedulePoints, "Number of temperatures of a linear schedule")
	cmd.Flags().Float64("step", constants.DefaultScheduleStep, "Temperature step of a linear schedule")

	return cmd
}
