package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-mail-must-flow/internal/cli"
	"github.com/Veraticus/the-mail-must-flow/internal/rulefile"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage users, categories, groups and rules",
	}
	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesListCmd())
	return cmd
}

func rulesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <rules.yaml>",
		Short: "Import rule sets from a YAML file",
		Long: `Validate a rule file and store every user, category, group and rule it defines.

Imported objects keep stable IDs, so importing an edited file updates rules in place.
With --prune, stored rules missing from the file are deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: runRulesImport,
	}
	cmd.Flags().Bool("prune", false, "Delete stored rules the file no longer defines")
	cmd.Flags().Bool("dry-run", false, "Validate the file without storing anything")
	return cmd
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	prune, _ := cmd.Flags().GetBool("prune")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	out := cmd.OutOrStdout()

	f, err := rulefile.Load(args[0])
	if err != nil {
		return err
	}
	sets, err := f.Build()
	if err != nil {
		return fmt.Errorf("invalid rule file: %w", err)
	}

	if dryRun {
		rules := 0
		for _, set := range sets {
			rules += len(set.Rules)
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s is valid: %d users, %d rules", args[0], len(sets), rules)))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := initStorage(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	stats, err := rulefile.Import(cmd.Context(), s, sets, rulefile.ImportOptions{Prune: prune})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
		"Imported %d users, %d categories, %d senders, %d groups and %d rules",
		stats.Users, stats.Categories, stats.Senders, stats.Groups, stats.Rules)))
	if stats.Pruned > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Deleted %d rules missing from the file", stats.Pruned)))
	}
	return nil
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's rules in evaluation order",
		RunE:  runRulesList,
	}
	cmd.Flags().String("user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runRulesList(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := initStorage(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rules, err := s.GetRules(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(rules) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No rules defined for "+userID))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle("Rules for "+userID))
	fmt.Fprintln(out, cli.RenderRules(rules))
	return nil
}
