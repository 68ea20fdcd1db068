package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/darbylab/darby/internal/task"
)

var (
	taskAt    string
	taskEvery string
	taskCron  string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage scheduled tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := task.Load(cfg.TasksPath)
		if err != nil {
			return err
		}

		all := store.List()
		if len(all) == 0 {
			fmt.Println("No scheduled tasks")
			return nil
		}

		fmt.Printf("%-26s  %-9s  %-16s  %-20s  %s\n", "ID", "STATUS", "NEXT RUN", "SCHEDULE", "TASK")
		for _, t := range all {
			fmt.Printf("%-26s  %-9s  %-16s  %-20s  %s\n",
				t.ID, t.Status, t.NextRunAt.Local().Format("2006-01-02 15:04"),
				describeSchedule(t.Schedule), t.Task)
			if t.Error != "" {
				fmt.Printf("%-26s  last error: %s\n", "", t.Error)
			}
		}
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <task>",
	Short: "Schedule a task",
	Long: `Add schedules a task string for later execution. Exactly one of
--at, --every, or --cron selects the schedule:

  darby tasks add --at "2026-09-01 08:00" "summarize my unread mail"
  darby tasks add --every 4h "check the build dashboard"
  darby tasks add --cron "0 9 * * 1" "draft the weekly status note"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, err := scheduleFromFlags()
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := task.Load(cfg.TasksPath)
		if err != nil {
			return err
		}

		added, err := store.Add(strings.Join(args, " "), schedule, task.OriginUser)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s scheduled, next run %s\n",
			added.ID, added.NextRunAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := task.Load(cfg.TasksPath)
		if err != nil {
			return err
		}

		if err := store.Remove(args[0]); err != nil {
			if errors.Is(err, task.ErrNotFound) {
				return fmt.Errorf("no task with ID %s", args[0])
			}
			return err
		}
		fmt.Printf("Task %s removed\n", args[0])
		return nil
	},
}

// scheduleFromFlags builds the schedule from whichever flag was set.
func scheduleFromFlags() (task.Schedule, error) {
	set := 0
	for _, v := range []string{taskAt, taskEvery, taskCron} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return task.Schedule{}, fmt.Errorf("exactly one of --at, --every, or --cron is required")
	}

	switch {
	case taskAt != "":
		at, err := parseAt(taskAt)
		if err != nil {
			return task.Schedule{}, err
		}
		return task.Schedule{Kind: task.ScheduleAt, At: at}, nil
	case taskEvery != "":
		return task.Schedule{Kind: task.ScheduleInterval, Every: taskEvery}, nil
	default:
		return task.Schedule{Kind: task.ScheduleCron, Expr: taskCron}, nil
	}
}

// parseAt accepts RFC3339 or the friendlier local forms.
func parseAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want RFC3339 or \"2006-01-02 15:04\")", s)
}

// describeSchedule renders a schedule for the list view.
func describeSchedule(s task.Schedule) string {
	switch s.Kind {
	case task.ScheduleInterval:
		return "every " + s.Every
	case task.ScheduleCron:
		return "cron " + s.Expr
	default:
		return "once"
	}
}

func init() {
	tasksAddCmd.Flags().StringVar(&taskAt, "at", "", "run once at this time (RFC3339 or \"2006-01-02 15:04\")")
	tasksAddCmd.Flags().StringVar(&taskEvery, "every", "", "run repeatedly at this interval (e.g. 30m, 4h)")
	tasksAddCmd.Flags().StringVar(&taskCron, "cron", "", "run on this cron expression (e.g. \"0 9 * * 1\")")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksRmCmd)
}
