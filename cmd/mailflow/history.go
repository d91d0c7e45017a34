package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-mail-must-flow/internal/cli"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded decisions, newest first",
		RunE:  runHistory,
	}
	cmd.Flags().String("user", "", "User ID (required)")
	cmd.Flags().Int("limit", 50, "Maximum number of decisions to show")
	cmd.Flags().String("thread", "", "Only show decisions for this thread")
	cmd.Flags().Duration("since", 0, "Only show decisions newer than this (e.g. 24h)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")
	thread, _ := cmd.Flags().GetString("thread")
	since, _ := cmd.Flags().GetDuration("since")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := initStorage(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	filter := service.ExecutedRuleFilter{Limit: limit, ThreadID: thread}
	if since > 0 {
		from := time.Now().Add(-since)
		filter.Since = &from
	}

	decisions, err := s.ListExecutedRules(cmd.Context(), userID, filter)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(decisions) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No decisions recorded"))
		return nil
	}

	rules, err := s.GetRules(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	names := make(map[string]string, len(rules))
	for _, r := range rules {
		names[r.ID] = r.Name
	}

	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Decisions for %s", userID)))
	fmt.Fprintln(out, cli.RenderHistory(decisions, names))
	return nil
}
