package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JulianRyder01/resonance/internal/config"
	ctxwindow "github.com/JulianRyder01/resonance/internal/context"
	"github.com/JulianRyder01/resonance/internal/sessions"
	"github.com/JulianRyder01/resonance/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Command Handlers
// =============================================================================

func runSessionsList(cmd *cobra.Command, configPath, agentID, channel string, limit int) error {
	configPath = resolveConfigPath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := openSessionStore(cfg)

	opts := sessions.ListOptions{Limit: limit}
	if strings.TrimSpace(channel) != "" {
		opts.Channel = models.ChannelType(channel)
	}

	list, err := store.List(cmd.Context(), agentID, opts)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tCHANNEL\tTITLE\tUPDATED")
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.AgentID, s.Channel, title, s.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	configPath = resolveConfigPath(configPath)
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session-id is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := openSessionStore(cfg)

	session, err := store.Get(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", session.ID)
	fmt.Fprintf(out, "Agent:    %s\n", session.AgentID)
	fmt.Fprintf(out, "Channel:  %s (%s)\n", session.Channel, session.ChannelID)
	fmt.Fprintf(out, "Title:    %s\n", session.Title)
	fmt.Fprintf(out, "Created:  %s\n", session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", session.UpdatedAt.Format(time.RFC3339))

	history, err := store.GetHistory(cmd.Context(), session.ID, 0)
	if err == nil && len(history) > 0 {
		modelID := cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel
		window := ctxwindow.NewWindowForModel(modelID)
		contents := make([]string, len(history))
		for i, msg := range history {
			contents[i] = msg.Content
		}
		window.Add(ctxwindow.EstimateTokensForMessages(contents))
		info := window.Info()
		fmt.Fprintf(out, "Context:  %s\n", info.String())
	}
	return nil
}

func runSessionsHistory(cmd *cobra.Command, configPath, sessionID string, limit int) error {
	configPath = resolveConfigPath(configPath)
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session-id is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := openSessionStore(cfg)

	if limit <= 0 {
		limit = 50
	}
	msgs, err := store.GetHistory(cmd.Context(), sessionID, limit)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tROLE\tCONTENT")
	for _, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		content = strings.ReplaceAll(content, "\n", " ")
		if len(content) > 120 {
			content = content[:117] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", msg.CreatedAt.Format(time.RFC3339), msg.Role, content)
	}
	return w.Flush()
}

// openSessionStore opens the session store for CLI inspection. Resonance has
// no durable, out-of-process session store (the running host keeps sessions
// in memory for its own lifetime), so this always returns an empty store;
// these commands are only useful against a host process queried in-process
// (see the serve command's own session listing, once wired).
func openSessionStore(cfg *config.Config) sessions.Store {
	return sessions.NewMemoryStore()
}
