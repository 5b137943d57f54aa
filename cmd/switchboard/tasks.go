package switchboard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/store"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [task-id]",
	Short: "List tasks sent to remote agents, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTasks,
}

var (
	tasksAgent   string
	tasksSession string
	tasksState   string
	tasksLimit   int
)

func init() {
	tasksCmd.Flags().StringVar(&tasksAgent, "agent", "", "filter by tool name")
	tasksCmd.Flags().StringVar(&tasksSession, "session", "", "filter by session ID")
	tasksCmd.Flags().StringVar(&tasksState, "state", "", "filter by last known state")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 50, "maximum number of tasks")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	if len(args) == 1 {
		t, err := db.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id:       %s\nagent:    %s\nsession:  %s\nstate:    %s\nturns:    %d\nupdated:  %s\nmessage:  %s\n",
			t.ID, t.Agent, t.SessionID, t.State, t.Turns, t.UpdatedAt.Format("2006-01-02 15:04:05"), t.Message)
		return nil
	}

	tasks, err := db.ListTasks(ctx, store.TaskFilter{
		Agent:     tasksAgent,
		SessionID: tasksSession,
		State:     tasksState,
		Limit:     tasksLimit,
	})
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	tbl := newTable("UPDATED", "TASK", "AGENT", "STATE", "TURNS", "MESSAGE")
	for _, t := range tasks {
		tbl.Row(t.UpdatedAt.Format("2006-01-02 15:04:05"), t.ID, t.Agent, t.State, strconv.Itoa(t.Turns), truncate(t.Message, 40))
	}
	fmt.Println(tbl)
	fmt.Printf("\n%d tasks\n", len(tasks))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
