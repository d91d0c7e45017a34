package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-mail-must-flow/internal/cli"
	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/inbound"
	"github.com/Veraticus/the-mail-must-flow/internal/mail"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file.eml...]",
		Short: "Run a user's rules over stored messages",
		Long: `Evaluate raw RFC 5322 messages against a user's rules and record the decision.

Pass message files as arguments, or --dir to process every .eml file in a directory
concurrently. Messages that already have a decision are reported as existing unless
--rerun is given. With --test nothing is stored and no action runs.`,
		RunE: runRun,
	}
	cmd.Flags().String("user", "", "User ID (required)")
	cmd.Flags().String("dir", "", "Directory of .eml files to process")
	cmd.Flags().Bool("test", false, "Evaluate without recording decisions or running actions")
	cmd.Flags().Bool("rerun", false, "Re-evaluate messages that already have a decision")
	cmd.Flags().Int("workers", 0, "Parallel workers for --dir (default: engine.workers)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	dir, _ := cmd.Flags().GetString("dir")
	isTest, _ := cmd.Flags().GetBool("test")
	rerun, _ := cmd.Flags().GetBool("rerun")
	workers, _ := cmd.Flags().GetInt("workers")

	if dir == "" && len(args) == 0 {
		return errors.New("give message files or --dir")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = cfg.Engine.Workers
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{mailbox: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if dir != "" {
		return runDirectory(cmd, a, out, userID, dir, engine.BulkOptions{IsTest: isTest, Rerun: rerun, ParallelWorkers: workers})
	}

	failed := 0
	for _, path := range args {
		raw, err := os.ReadFile(path) //nolint:gosec // paths come from the operator
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		result, err := a.processor.Process(cmd.Context(), userID, raw, inbound.Options{Source: "cli", IsTest: isTest, Rerun: rerun})
		if err != nil {
			failed++
			fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", filepath.Base(path), err)))
			continue
		}
		fmt.Fprintln(out, cli.FormatDecision(filepath.Base(path), result))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d messages failed", failed, len(args))
	}
	return nil
}

func runDirectory(cmd *cobra.Command, a *app, out io.Writer, userID, dir string, opts engine.BulkOptions) error {
	ctx := cmd.Context()

	paths, err := emlFiles(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No .eml files in "+dir))
		return nil
	}

	ur, err := a.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	messages := make([]model.Message, 0, len(paths))
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path) //nolint:gosec // paths come from a directory the operator chose
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		msg, err := mail.Parse(raw)
		if err != nil {
			fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Skipping %s: %v", filepath.Base(path), err)))
			continue
		}
		messages = append(messages, msg)
		names = append(names, filepath.Base(path))
	}

	handler := cli.NewInterruptHandler(out)
	ctx = handler.HandleInterrupts(ctx, !opts.IsTest)

	bar := newProgressBar(out, len(messages))
	opts.OnResult = func(engine.BulkResult) {
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}
	defaults := engine.DefaultBulkOptions()
	opts.Retry = defaults.Retry

	results, stats := engine.NewBulkRunner(a.runner).Run(ctx, ur.user, ur.rules, messages, opts)

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", names[r.Index], r.Err)))
			continue
		}
		fmt.Fprintln(out, cli.FormatDecision(names[r.Index], r.Result))
	}
	fmt.Fprintln(out, cli.RenderSummary(stats))

	if handler.WasInterrupted() {
		return ctx.Err()
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d messages failed", stats.Failed, stats.Total)
	}
	return nil
}

func emlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func newProgressBar(out io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Running rules...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(out)
		}),
	)
}
