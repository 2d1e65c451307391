package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/CrewClaw/CrewClaw/internal/store"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the activity feed (newest first)",
	RunE:  runFeed,
}

func init() {
	feedCmd.Flags().String("type", "", "Filter by event type")
	feedCmd.Flags().String("actor", "", "Filter by actor (id or name)")
	feedCmd.Flags().String("task", "", "Filter by task id")
	feedCmd.Flags().Int("limit", 30, "Max entries")
	feedCmd.Flags().Int("offset", 0, "Skip entries (paging)")
}

func runFeed(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	eventType, _ := cmd.Flags().GetString("type")
	actorRef, _ := cmd.Flags().GetString("actor")
	taskID, _ := cmd.Flags().GetString("task")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	actorID := ""
	if actorRef != "" {
		actor, err := resolveActor(svc.store, actorRef)
		if err != nil {
			return err
		}
		actorID = actor.ActorID
	}

	acts, err := svc.store.ListActivities(store.ActivityFilter{
		Type:    eventType,
		ActorID: actorID,
		TaskID:  taskID,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		fmt.Println("No activity.")
		return nil
	}

	tw := newTable(table.Row{"When", "Type", "Actor", "Summary"})
	for _, a := range acts {
		tw.AppendRow(table.Row{a.CreatedAt.Format("2006-01-02 15:04"), a.Type, a.ActorID, a.Summary})
	}
	tw.Render()
	return nil
}
