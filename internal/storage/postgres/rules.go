package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/storage"
)

const ruleColumns = `id, user_id, name, position, enabled, automate, run_on_threads,
	from_pattern, to_pattern, subject_pattern, body_pattern, instructions,
	conditional_operator, category_filter_type, system_type, group_id, created_at, updated_at`

// SaveRule creates or replaces a rule together with its actions and category filters.
func (s *Storage) SaveRule(ctx context.Context, rule *model.Rule) error {
	if err := storage.ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.ConditionalOperator == "" {
		rule.ConditionalOperator = model.LogicalOperatorAnd
	}
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rules (`+ruleColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				position = EXCLUDED.position,
				enabled = EXCLUDED.enabled,
				automate = EXCLUDED.automate,
				run_on_threads = EXCLUDED.run_on_threads,
				from_pattern = EXCLUDED.from_pattern,
				to_pattern = EXCLUDED.to_pattern,
				subject_pattern = EXCLUDED.subject_pattern,
				body_pattern = EXCLUDED.body_pattern,
				instructions = EXCLUDED.instructions,
				conditional_operator = EXCLUDED.conditional_operator,
				category_filter_type = EXCLUDED.category_filter_type,
				system_type = EXCLUDED.system_type,
				group_id = EXCLUDED.group_id,
				updated_at = EXCLUDED.updated_at`,
			rule.ID, rule.UserID, rule.Name, rule.Position, rule.Enabled, rule.Automate, rule.RunOnThreads,
			rule.From, rule.To, rule.Subject, rule.Body, rule.Instructions,
			string(rule.ConditionalOperator), string(rule.CategoryFilterType), string(rule.SystemType),
			emptyToNil(rule.GroupID), now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: rule named %q", common.ErrDuplicateEntry, rule.Name)
			}
			return fmt.Errorf("failed to save rule: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM actions WHERE rule_id = $1`, rule.ID); err != nil {
			return fmt.Errorf("failed to clear actions: %w", err)
		}
		batch := &pgx.Batch{}
		for i := range rule.Actions {
			a := &rule.Actions[i]
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			batch.Queue(`
				INSERT INTO actions (id, rule_id, position, type, label, subject, content, to_address, cc, bcc, url)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				a.ID, rule.ID, i, string(a.Type), a.Label, a.Subject, a.Content, a.To, a.Cc, a.Bcc, a.URL)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM rule_categories WHERE rule_id = $1`, rule.ID); err != nil {
			return fmt.Errorf("failed to clear category filters: %w", err)
		}
		for _, c := range rule.CategoryFilters {
			batch.Queue(`
				INSERT INTO rule_categories (rule_id, category_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, rule.ID, c.ID)
		}

		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save rule actions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rule.UpdatedAt = now
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	return nil
}

// GetRules returns all of a user's rules in list order.
func (s *Storage) GetRules(ctx context.Context, userID string) ([]model.Rule, error) {
	return s.loadRules(ctx, userID, false)
}

// GetActiveRules returns the user's enabled rules in list order.
func (s *Storage) GetActiveRules(ctx context.Context, userID string) ([]model.Rule, error) {
	return s.loadRules(ctx, userID, true)
}

// DeleteRule removes a rule; past decisions keep their record with the rule unset.
func (s *Storage) DeleteRule(ctx context.Context, userID, ruleID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE user_id = $1 AND id = $2`, userID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rule %s", common.ErrNotFound, ruleID)
	}
	return nil
}

func (s *Storage) loadRules(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE user_id = $1`
	if activeOnly {
		query += ` AND enabled`
	}
	query += ` ORDER BY position, created_at, id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Rule, error) {
		var (
			r                           model.Rule
			operator, filterType, sysTy string
		)
		err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Position, &r.Enabled, &r.Automate, &r.RunOnThreads,
			&r.From, &r.To, &r.Subject, &r.Body, &r.Instructions,
			&operator, &filterType, &sysTy, &r.GroupID, &r.CreatedAt, &r.UpdatedAt)
		r.ConditionalOperator = model.LogicalOperator(operator)
		r.CategoryFilterType = model.CategoryFilterType(filterType)
		r.SystemType = model.SystemType(sysTy)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules: %w", err)
	}
	if len(rules) == 0 {
		return rules, nil
	}

	index := make(map[string]int, len(rules))
	for i, r := range rules {
		index[r.ID] = i
	}

	actionRows, err := s.pool.Query(ctx, `
		SELECT a.rule_id, a.id, a.type, a.label, a.subject, a.content, a.to_address, a.cc, a.bcc, a.url
		FROM actions a JOIN rules r ON r.id = a.rule_id
		WHERE r.user_id = $1
		ORDER BY a.rule_id, a.position`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	var ruleID, typ string
	var a model.Action
	_, err = pgx.ForEachRow(actionRows,
		[]any{&ruleID, &a.ID, &typ, &a.Label, &a.Subject, &a.Content, &a.To, &a.Cc, &a.Bcc, &a.URL},
		func() error {
			a.Type = model.ActionType(typ)
			if i, ok := index[ruleID]; ok {
				rules[i].Actions = append(rules[i].Actions, a)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scan actions: %w", err)
	}

	filterRows, err := s.pool.Query(ctx, `
		SELECT rc.rule_id, c.id, c.user_id, c.name, c.description, c.created_at
		FROM rule_categories rc
		JOIN categories c ON c.id = rc.category_id
		JOIN rules r ON r.id = rc.rule_id
		WHERE r.user_id = $1
		ORDER BY c.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category filters: %w", err)
	}
	var c model.Category
	_, err = pgx.ForEachRow(filterRows,
		[]any{&ruleID, &c.ID, &c.UserID, &c.Name, &c.Description, &c.CreatedAt},
		func() error {
			if i, ok := index[ruleID]; ok {
				rules[i].CategoryFilters = append(rules[i].CategoryFilters, c)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scan category filters: %w", err)
	}
	return rules, nil
}

// SaveGroup creates or replaces a group and its items.
func (s *Storage) SaveGroup(ctx context.Context, group *model.Group) error {
	if err := storage.ValidateGroup(group); err != nil {
		return err
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rule_groups (id, user_id, name, rule_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				rule_id = EXCLUDED.rule_id`,
			group.ID, group.UserID, group.Name, emptyToNil(group.RuleID))
		if err != nil {
			return fmt.Errorf("failed to save group: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM group_items WHERE group_id = $1`, group.ID); err != nil {
			return fmt.Errorf("failed to clear group items: %w", err)
		}
		for i := range group.Items {
			item := &group.Items[i]
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			item.GroupID = group.ID
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_items (id, group_id, position, type, value) VALUES ($1, $2, $3, $4, $5)`,
				item.ID, group.ID, i, string(item.Type), item.Value); err != nil {
				return fmt.Errorf("failed to save group item %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetGroupsWithRules returns the user's groups that some rule uses, with their items.
func (s *Storage) GetGroupsWithRules(ctx context.Context, userID string) ([]model.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.user_id, g.name, g.rule_id, g.created_at
		FROM rule_groups g
		WHERE g.user_id = $1
		  AND (g.rule_id IS NOT NULL OR EXISTS (SELECT 1 FROM rules r WHERE r.group_id = g.id))
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Group, error) {
		var g model.Group
		err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.RuleID, &g.CreatedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan groups: %w", err)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g.ID] = i
	}

	itemRows, err := s.pool.Query(ctx, `
		SELECT i.id, i.group_id, i.type, i.value
		FROM group_items i JOIN rule_groups g ON g.id = i.group_id
		WHERE g.user_id = $1
		ORDER BY i.group_id, i.position`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group items: %w", err)
	}
	var (
		item model.GroupItem
		typ  string
	)
	_, err = pgx.ForEachRow(itemRows, []any{&item.ID, &item.GroupID, &typ, &item.Value}, func() error {
		item.Type = model.GroupItemType(typ)
		if i, ok := index[item.GroupID]; ok {
			groups[i].Items = append(groups[i].Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan group items: %w", err)
	}
	return groups, nil
}
