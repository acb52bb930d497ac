package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardlinehq/wardline/pkg/wardline/config"
	"github.com/wardlinehq/wardline/pkg/wardline/schedule"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
)

// newScheduleCmd creates the `wardline schedule` command for managing
// recurring check-in calls.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring check-in calls",
		Long: `Manage the recurring check-in call schedules. The dispatcher picks
up active schedules and places calls at the configured time.

Examples:
  wardline schedule list
  wardline schedule add --phone +15550100 --name "Margaret H." --time 09:30
  wardline schedule disable <id>`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleEnableCmd(),
		newScheduleDisableCmd(),
	)

	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			schedules, err := st.ListSchedules()
			if err != nil {
				return fmt.Errorf("listing schedules: %w", err)
			}
			if len(schedules) == 0 {
				fmt.Println("No schedules.")
				return nil
			}

			now := time.Now().UTC()
			for _, sched := range schedules {
				state := "active"
				if !sched.Active {
					state = "disabled"
				}
				line := fmt.Sprintf("%s  %-10s %-20s %s %s %s",
					sched.ID, state, sched.DisplayName, sched.PhoneNumber,
					sched.FrequencyType, sched.FrequencyTime)
				if sched.Active {
					if next, err := schedule.NextRunAt(sched, now); err == nil {
						line += "  next " + next.Format(time.RFC3339)
					}
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new check-in schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			name, _ := cmd.Flags().GetString("name")
			at, _ := cmd.Flags().GetString("time")
			freq, _ := cmd.Flags().GetString("frequency")
			days, _ := cmd.Flags().GetString("days")
			script, _ := cmd.Flags().GetString("script")
			company, _ := cmd.Flags().GetString("company")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			retryMin, _ := cmd.Flags().GetInt("retry-minutes")

			if phone == "" {
				return fmt.Errorf("--phone is required")
			}
			if at == "" {
				return fmt.Errorf("--time is required (HH:MM, UTC)")
			}

			daysOfWeek, err := parseDays(days)
			if err != nil {
				return err
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			sched := &store.Schedule{
				CompanyID:        company,
				PhoneNumber:      phone,
				DisplayName:      name,
				ScriptConfig:     script,
				FrequencyType:    freq,
				FrequencyTime:    at,
				DaysOfWeek:       daysOfWeek,
				MaxAttempts:      maxAttempts,
				RetryIntervalMin: retryMin,
				Active:           true,
			}
			if err := st.CreateSchedule(sched); err != nil {
				return fmt.Errorf("creating schedule: %w", err)
			}

			fmt.Printf("Schedule %s created.\n", sched.ID)
			if next, err := schedule.NextRunAt(sched, time.Now().UTC()); err == nil {
				fmt.Printf("Next call at %s.\n", next.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().String("phone", "", "contact phone number in E.164 format")
	cmd.Flags().String("name", "", "contact display name")
	cmd.Flags().String("time", "", "trigger time HH:MM, interpreted as UTC")
	cmd.Flags().String("frequency", "daily", "frequency type (daily, weekly, biweekly, monthly, custom)")
	cmd.Flags().String("days", "", "comma-separated weekdays, 0=Sunday (e.g. 1,3,5)")
	cmd.Flags().String("script", "", "JSON script config passed to the agent")
	cmd.Flags().String("company", "default", "owning company ID")
	cmd.Flags().Int("max-attempts", 3, "attempts before the job is given up")
	cmd.Flags().Int("retry-minutes", 30, "minutes between retry attempts")
	return cmd
}

func newScheduleEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setActive(cmd, args[0], true)
		},
	}
}

func newScheduleDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setActive(cmd, args[0], false)
		},
	}
}

func setActive(cmd *cobra.Command, id string, active bool) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetScheduleActive(id, active); err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	if active {
		fmt.Printf("Schedule %s enabled.\n", id)
	} else {
		fmt.Printf("Schedule %s disabled.\n", id)
	}
	return nil
}

// openStore opens the database named by the config for CLI subcommands.
// Logs are kept at warn level so command output stays readable.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

// parseDays parses a "1,3,5" weekday list, 0=Sunday.
func parseDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var days []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q (use 0-6, 0=Sunday)", part)
		}
		days = append(days, n)
	}
	return days, nil
}
