package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/CrewClaw/CrewClaw/internal/store"
)

var (
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Manage shared tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE:  runTaskList,
	}

	taskAddCmd = &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTaskAdd,
	}

	taskMoveCmd = &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE:  runTaskMove,
	}

	taskShowCmd = &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its thread",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskShow,
	}

	taskCommentCmd = &cobra.Command{
		Use:   "comment <task-id> <text>",
		Short: "Post a message on a task thread",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runTaskComment,
	}
)

func init() {
	taskListCmd.Flags().String("status", "", "Filter by status")
	taskListCmd.Flags().String("assignee", "", "Filter by assignee (id or name)")
	taskAddCmd.Flags().String("desc", "", "Task description")
	taskAddCmd.Flags().StringSlice("assign", nil, "Assignees (names or ids)")
	taskAddCmd.Flags().String("by", "", "Acting actor (id or name)")
	taskMoveCmd.Flags().String("by", "", "Acting actor (id or name)")
	taskCommentCmd.Flags().String("author", "", "Author (id or name)")

	taskCmd.AddCommand(taskListCmd, taskAddCmd, taskMoveCmd, taskShowCmd, taskCommentCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	status, _ := cmd.Flags().GetString("status")
	assignee, _ := cmd.Flags().GetString("assignee")
	if assignee != "" {
		actor, err := resolveActor(svc.store, assignee)
		if err != nil {
			return err
		}
		assignee = actor.ActorID
	}

	list, err := svc.store.ListTasks(store.TaskFilter{Status: status, Assignee: assignee, Limit: 100})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	tw := newTable(table.Row{"ID", "Status", "Title", "Assignees", "Ver"})
	for _, t := range list {
		tw.AppendRow(table.Row{t.TaskID, t.Status, t.Title, strings.Join(t.Assignees, ","), t.Version})
	}
	tw.Render()
	return nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	desc, _ := cmd.Flags().GetString("desc")
	names, _ := cmd.Flags().GetStringSlice("assign")
	actorID, err := actingActorID(cmd, svc.store)
	if err != nil {
		return err
	}

	var assignees []string
	for _, name := range names {
		actor, err := resolveActor(svc.store, name)
		if err != nil {
			return err
		}
		assignees = append(assignees, actor.ActorID)
	}

	task, err := svc.tasks.Create(strings.Join(args, " "), desc, assignees, actorID)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s: %q (%s)\n", task.TaskID, task.Title, task.Status)
	return nil
}

func runTaskMove(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	actorID, err := actingActorID(cmd, svc.store)
	if err != nil {
		return err
	}
	task, err := svc.tasks.Transition(args[0], args[1], actorID)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", task.TaskID, task.Status)
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	task, err := svc.store.GetTask(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s  [%s]  v%d\n", task.TaskID, task.Status, task.Version)
	fmt.Printf("Title: %s\n", task.Title)
	if task.Description != "" {
		fmt.Printf("Description: %s\n", task.Description)
	}
	if len(task.Assignees) > 0 {
		fmt.Printf("Assignees: %s\n", strings.Join(task.Assignees, ", "))
	}
	if task.Status == store.StatusBlocked && task.BlockedFrom != "" {
		fmt.Printf("Blocked (resumes at %s)\n", task.BlockedFrom)
	}

	msgs, err := svc.store.ListMessages(task.TaskID, 100, 0)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		fmt.Println("\nThread:")
		for _, m := range msgs {
			fmt.Printf("  #%d %s: %s\n", m.Seq, m.AuthorID, m.Body)
		}
	}
	return nil
}

func runTaskComment(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	author, _ := cmd.Flags().GetString("author")
	if author == "" {
		return fmt.Errorf("--author is required")
	}
	actor, err := resolveActor(svc.store, author)
	if err != nil {
		return err
	}

	msg, err := svc.tasks.Comment(args[0], actor.ActorID, strings.Join(args[1:], " "), nil)
	if err != nil {
		return err
	}
	fmt.Printf("Posted #%d on %s\n", msg.Seq, msg.TaskID)
	return nil
}

// actingActorID resolves the optional --by flag; empty means an anonymous
// operator acting from the CLI.
func actingActorID(cmd *cobra.Command, st *store.Store) (string, error) {
	by, _ := cmd.Flags().GetString("by")
	if by == "" {
		return "", nil
	}
	actor, err := resolveActor(st, by)
	if err != nil {
		return "", err
	}
	return actor.ActorID, nil
}
