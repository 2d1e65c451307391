package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CrewClaw/CrewClaw/internal/gateway"
	"github.com/CrewClaw/CrewClaw/internal/session"
)

var sendCmd = &cobra.Command{
	Use:   "send <actor> <text>",
	Short: "Send a message or command to an actor through the gateway",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().Bool("isolated", false, "Use a throwaway session for this turn")
}

func runSend(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	actor, err := resolveActor(svc.store, args[0])
	if err != nil {
		return err
	}

	kind := gateway.SessionPersistent
	if isolated, _ := cmd.Flags().GetBool("isolated"); isolated {
		kind = gateway.SessionIsolated
	}

	gw := gateway.New(svc.store, svc.bus, svc.tasks, session.NewManager(svc.cfg.Paths.SessionsDir), nil, gateway.Options{
		Sigil:          svc.cfg.Gateway.Sigil,
		VersionRetries: svc.cfg.Gateway.VersionRetries,
		HistoryLimit:   svc.cfg.Gateway.HistoryLimit,
		Registry:       session.NewRegistry(),
	})

	res, err := gw.Handle(cmd.Context(), gateway.Envelope{
		ActorID:     actor.ActorID,
		SessionKind: kind,
		Text:        strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	fmt.Println(res.Reply)
	return nil
}
