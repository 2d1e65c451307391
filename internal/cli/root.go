// Package cli implements the crewclaw command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/CrewClaw/CrewClaw/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"   ____                     ____ _\n" +
		"  / ___|_ __ _____      __ / ___| | __ ___      __\n" +
		" | |   | '__/ _ \\ \\ /\\ / // |   | |/ _` \\ \\ /\\ / /\n" +
		" | |___| | |  __/\\ V  V / | |___| | (_| |\\ V  V /\n" +
		"  \\____|_|  \\___| \\_/\\_/   \\____|_|\\__,_| \\_/\\_/\n"
)

var rootCmd = &cobra.Command{
	Use:   "crewclaw",
	Short: "CrewClaw - AI crew coordination",
	Long:  color.CyanString(logo) + "\nA coordination substrate for crews of AI agents: shared tasks, messages, wake schedules, and notifications.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(sendCmd)
}
