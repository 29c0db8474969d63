package main

import (
	"github.com/JulianRyder01/resonance/internal/profile"
	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Commands
// =============================================================================

// buildSessionsCmd creates the "sessions" command group for inspecting
// conversation sessions and their message history.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect conversation sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsHistoryCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
		channel    string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath, agentID, channel, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent ID to list sessions for")
	cmd.Flags().StringVar(&channel, "channel", "", "Filter by channel (cli, api, sentinel)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of sessions to return")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a session's details",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, configPath, sessionID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session ID to show")
	return cmd
}

func buildSessionsHistoryCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a session's message history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsHistory(cmd, configPath, sessionID, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session ID to fetch history for")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of messages to return")
	return cmd
}
