package rulefile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// ImportStore is the subset of storage an import writes to.
type ImportStore interface {
	SaveUser(ctx context.Context, user *model.User) error
	SaveCategory(ctx context.Context, category *model.Category) error
	SaveSender(ctx context.Context, sender *model.Sender) error
	SaveGroup(ctx context.Context, group *model.Group) error
	SaveRule(ctx context.Context, rule *model.Rule) error
	GetRules(ctx context.Context, userID string) ([]model.Rule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) error
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Prune deletes stored rules that the file no longer defines.
	Prune bool
}

// ImportStats counts what an import wrote.
type ImportStats struct {
	Users      int
	Categories int
	Senders    int
	Groups     int
	Rules      int
	Pruned     int
}

// Import stores every user set. Objects carry stable IDs, so importing the same file
// twice leaves storage unchanged.
func Import(ctx context.Context, store ImportStore, sets []UserSet, opts ImportOptions) (ImportStats, error) {
	logger := slog.Default().With("component", "rulefile")
	var stats ImportStats

	for i := range sets {
		set := &sets[i]
		userID := set.User.ID

		if err := store.SaveUser(ctx, &set.User); err != nil {
			return stats, fmt.Errorf("saving user %s: %w", userID, err)
		}
		stats.Users++

		for j := range set.Categories {
			if err := store.SaveCategory(ctx, &set.Categories[j]); err != nil {
				return stats, fmt.Errorf("saving category %q: %w", set.Categories[j].Name, err)
			}
			stats.Categories++
		}
		for j := range set.Senders {
			if err := store.SaveSender(ctx, &set.Senders[j]); err != nil {
				return stats, fmt.Errorf("saving sender %s: %w", set.Senders[j].Email, err)
			}
			stats.Senders++
		}
		for j := range set.Groups {
			if err := store.SaveGroup(ctx, &set.Groups[j]); err != nil {
				return stats, fmt.Errorf("saving group %q: %w", set.Groups[j].Name, err)
			}
			stats.Groups++
		}
		for j := range set.Rules {
			if err := store.SaveRule(ctx, &set.Rules[j]); err != nil {
				return stats, fmt.Errorf("saving rule %q: %w", set.Rules[j].Name, err)
			}
			stats.Rules++
		}

		if opts.Prune {
			pruned, err := prune(ctx, store, set)
			stats.Pruned += pruned
			if err != nil {
				return stats, err
			}
		}

		logger.Info("Imported rule set",
			"user_id", userID,
			"rules", len(set.Rules),
			"groups", len(set.Groups),
			"categories", len(set.Categories))
	}
	return stats, nil
}

func prune(ctx context.Context, store ImportStore, set *UserSet) (int, error) {
	keep := make(map[string]bool, len(set.Rules))
	for _, r := range set.Rules {
		keep[r.ID] = true
	}

	stored, err := store.GetRules(ctx, set.User.ID)
	if err != nil {
		return 0, fmt.Errorf("listing rules for prune: %w", err)
	}

	pruned := 0
	for _, r := range stored {
		if keep[r.ID] {
			continue
		}
		if err := store.DeleteRule(ctx, set.User.ID, r.ID); err != nil {
			return pruned, fmt.Errorf("deleting rule %q: %w", r.Name, err)
		}
		pruned++
	}
	return pruned, nil
}
