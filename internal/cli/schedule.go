package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/CrewClaw/CrewClaw/internal/scheduler"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

var (
	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Manage wake schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	scheduleListCmd = &cobra.Command{
		Use:   "list",
		Short: "List wake jobs",
		RunE:  runScheduleList,
	}

	scheduleAddCmd = &cobra.Command{
		Use:   "add <name> <cadence>",
		Short: "Add a wake job (cron, '@every 30m', or '@at <rfc3339>')",
		Args:  cobra.ExactArgs(2),
		RunE:  runScheduleAdd,
	}

	scheduleRemoveCmd = &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a wake job",
		Args:  cobra.ExactArgs(1),
		RunE:  runScheduleRemove,
	}
)

func init() {
	scheduleAddCmd.Flags().String("actor", "", "Actor to wake (id or name)")
	scheduleAddCmd.Flags().String("message", "", "Wake message delivered on fire")
	scheduleAddCmd.Flags().Bool("isolated", false, "Wake into a throwaway session instead of the actor's persistent one")
	scheduleAddCmd.MarkFlagRequired("actor")
	scheduleCmd.AddCommand(scheduleListCmd, scheduleAddCmd, scheduleRemoveCmd)
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	jobs, err := svc.store.ListJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No wake jobs.")
		return nil
	}

	tw := newTable(table.Row{"ID", "Name", "Cadence", "Actor", "Next Fire", "Runs", "Last Status"})
	for _, j := range jobs {
		next := ""
		if j.NextFireAt != nil {
			next = j.NextFireAt.Format("2006-01-02 15:04")
		}
		tw.AppendRow(table.Row{j.JobID, j.Name, j.Cadence, j.ActorID, next, j.RunCount, j.LastStatus})
	}
	tw.Render()
	return nil
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	actorRef, _ := cmd.Flags().GetString("actor")
	message, _ := cmd.Flags().GetString("message")
	isolated, _ := cmd.Flags().GetBool("isolated")
	actor, err := resolveActor(svc.store, actorRef)
	if err != nil {
		return err
	}

	// Validate before persisting so a typo never lands in the job table.
	cadence, err := scheduler.ParseCadence(args[1])
	if err != nil {
		return err
	}
	next, ok := cadence.Next(time.Now())
	if !ok {
		return fmt.Errorf("cadence %q never fires", args[1])
	}

	rec, err := svc.store.SaveJob(&store.JobRecord{
		Name:        args[0],
		Cadence:     args[1],
		ActorID:     actor.ActorID,
		WakeMessage: message,
		Isolated:    isolated,
		NextFireAt:  &next,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added %s (%s), first fire %s\n", rec.JobID, rec.Cadence, next.Format("2006-01-02 15:04"))
	fmt.Println("The running daemon picks it up on restart.")
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.store.RemoveJob(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
