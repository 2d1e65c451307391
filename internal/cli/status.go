package cli

import (
	"fmt"
	"os"

	"github.com/CrewClaw/CrewClaw/internal/config"
	"github.com/CrewClaw/CrewClaw/internal/store"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ CrewClaw Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("📊 CrewClaw Status")
		fmt.Printf("Version: %s\n", version)

		path, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.Paths.DatabasePath()); err != nil {
			fmt.Println("Store:   ✗ Not initialized (run 'crewclaw daemon' or any task command)")
			return nil
		}

		st, err := store.Open(cfg.Paths.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Println("Store:   ✓ " + cfg.Paths.DatabasePath())
		counts, err := st.CountTasksByStatus()
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		actors, err := st.ListActors(false)
		if err != nil {
			return err
		}
		pending, err := st.ListUndelivered(1000)
		if err != nil {
			return err
		}
		fmt.Printf("Tasks:   %d (%d open)\n", total, total-counts[store.StatusDone])
		fmt.Printf("Actors:  %d\n", len(actors))
		fmt.Printf("Queued notifications: %d\n", len(pending))
		if last, err := st.GetSetting("daemon.last_start"); err == nil && last != "" {
			fmt.Printf("Daemon last started: %s\n", last)
		}
		if cfg.Scheduler.Enabled {
			fmt.Println("Scheduler: ✓ Enabled")
		} else {
			fmt.Println("Scheduler: ✗ Disabled")
		}
		return nil
	},
}
