package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"curator/internal/store"
	"curator/internal/types"
)

var tasksState string

// statusCmd reports one task.
var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show a scheduled task's state and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

// cancelCmd marks a non-terminal task failed in the task log. A serve
// process picks the change up on its next restart; in-flight attempts in a
// live process run to completion.
var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

// tasksCmd lists tasks by state.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List scheduled tasks",
	RunE:  runTasks,
}

// deliveriesCmd shows the notification audit trail for a task.
var deliveriesCmd = &cobra.Command{
	Use:   "deliveries [task-id]",
	Short: "Show notification delivery outcomes for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeliveries,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksState, "state", "queued", "filter: queued, running, retrying, completed, failed")
}

func openStore() (*store.Store, error) {
	return store.New(cfg.DBPath())
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTask(id)
	if err != nil {
		return err
	}
	printTask(task)
	for _, change := range task.History {
		fmt.Printf("  %s  %s -> %s", change.At.Format("2006-01-02 15:04:05"), change.From, change.To)
		if change.Reason != "" {
			fmt.Printf("  (%s)", change.Reason)
		}
		fmt.Println()
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTask(id)
	if err != nil {
		return err
	}
	if task.State.Terminal() {
		return fmt.Errorf("task %s already %s", id, task.State)
	}
	if err := task.Transition(types.TaskFailed, "cancelled"); err != nil {
		return err
	}
	task.LastError = "cancelled"
	if err := db.SaveTask(task); err != nil {
		return err
	}
	fmt.Printf("Cancelled task %s\n", id)
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	tasks, err := db.TasksByState(types.TaskState(tasksState))
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Printf("No %s tasks.\n", tasksState)
		return nil
	}
	for _, task := range tasks {
		printTask(task)
	}
	return nil
}

func runDeliveries(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.DeliveriesForTask(id)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No deliveries recorded.")
		return nil
	}
	for _, rec := range recs {
		status := "delivered"
		if !rec.Delivered {
			status = "FAILED: " + rec.LastError
		}
		fmt.Printf("%-10s %-10s attempts=%d  %s\n", rec.Channel, rec.Kind, rec.Attempts, status)
	}
	return nil
}

func printTask(task *types.ScheduledTask) {
	subject := ""
	if s := task.Subject(); s != nil {
		subject = s.RawQuery
	}
	fmt.Printf("%s  [%s/%s]  attempts=%d  score=%.3f  %q\n",
		task.ID, task.Source, task.State, task.Attempts, task.Score, subject)
	if task.LastError != "" {
		fmt.Printf("  last error: %s\n", task.LastError)
	}
}
