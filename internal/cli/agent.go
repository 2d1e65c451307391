package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	agentCmd = &cobra.Command{
		Use:   "agent",
		Short: "Manage crew actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	agentListCmd = &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE:  runAgentList,
	}

	agentAddCmd = &cobra.Command{
		Use:   "add <name>",
		Short: "Register an actor",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentAdd,
	}

	agentArchiveCmd = &cobra.Command{
		Use:   "archive <id-or-name>",
		Short: "Archive an actor (identity is kept, no new work is routed)",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentArchive,
	}

	agentInboxCmd = &cobra.Command{
		Use:   "inbox <id-or-name>",
		Short: "Show an actor's notifications",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentInbox,
	}
)

func init() {
	agentListCmd.Flags().Bool("all", false, "Include archived actors")
	agentAddCmd.Flags().String("route", "", "Routing key (defaults to the name)")
	agentCmd.AddCommand(agentListCmd, agentAddCmd, agentArchiveCmd, agentInboxCmd)
}

func runAgentList(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	all, _ := cmd.Flags().GetBool("all")
	actors, err := svc.store.ListActors(all)
	if err != nil {
		return err
	}
	if len(actors) == 0 {
		fmt.Println("No actors.")
		return nil
	}

	tw := newTable(table.Row{"ID", "Name", "State", "Current Task", "Archived"})
	for _, a := range actors {
		tw.AppendRow(table.Row{a.ActorID, a.Name, a.State, a.CurrentTask, a.Archived})
	}
	tw.Render()
	return nil
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	route, _ := cmd.Flags().GetString("route")
	actor, err := svc.store.CreateActor(args[0], route)
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s (%s)\n", actor.Name, actor.ActorID)
	return nil
}

func runAgentArchive(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	actor, err := resolveActor(svc.store, args[0])
	if err != nil {
		return err
	}
	if err := svc.store.ArchiveActor(actor.ActorID); err != nil {
		return err
	}
	fmt.Printf("Archived %s\n", actor.Name)
	return nil
}

func runAgentInbox(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	actor, err := resolveActor(svc.store, args[0])
	if err != nil {
		return err
	}
	list, err := svc.store.ListNotifications(actor.ActorID, 50, 0)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("Inbox empty.")
		return nil
	}

	tw := newTable(table.Row{"Delivered", "Created", "Content"})
	for _, n := range list {
		tw.AppendRow(table.Row{n.Delivered, n.CreatedAt.Format("2006-01-02 15:04"), n.Content})
	}
	tw.Render()
	return nil
}
