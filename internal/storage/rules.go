package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

const ruleColumns = `id, user_id, name, position, enabled, automate, run_on_threads,
	from_pattern, to_pattern, subject_pattern, body_pattern, instructions,
	conditional_operator, category_filter_type, system_type, group_id, created_at, updated_at`

// SaveRule creates or replaces a rule together with its actions and category filters.
// A rule without an ID is assigned one.
func (s *SQLiteStorage) SaveRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.ConditionalOperator == "" {
		rule.ConditionalOperator = model.LogicalOperatorAnd
	}
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rules (`+ruleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				position = excluded.position,
				enabled = excluded.enabled,
				automate = excluded.automate,
				run_on_threads = excluded.run_on_threads,
				from_pattern = excluded.from_pattern,
				to_pattern = excluded.to_pattern,
				subject_pattern = excluded.subject_pattern,
				body_pattern = excluded.body_pattern,
				instructions = excluded.instructions,
				conditional_operator = excluded.conditional_operator,
				category_filter_type = excluded.category_filter_type,
				system_type = excluded.system_type,
				group_id = excluded.group_id,
				updated_at = excluded.updated_at`,
			rule.ID, rule.UserID, rule.Name, rule.Position, rule.Enabled, rule.Automate, rule.RunOnThreads,
			rule.From, rule.To, rule.Subject, rule.Body, rule.Instructions,
			string(rule.ConditionalOperator), string(rule.CategoryFilterType), string(rule.SystemType),
			nullString(rule.GroupID), now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: rule named %q", common.ErrDuplicateEntry, rule.Name)
			}
			return fmt.Errorf("failed to save rule: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE rule_id = ?`, rule.ID); err != nil {
			return fmt.Errorf("failed to clear actions: %w", err)
		}
		for i := range rule.Actions {
			a := &rule.Actions[i]
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO actions (id, rule_id, position, type, label, subject, content, to_address, cc, bcc, url)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, rule.ID, i, string(a.Type), a.Label, a.Subject, a.Content, a.To, a.Cc, a.Bcc, a.URL)
			if err != nil {
				return fmt.Errorf("failed to save action %d: %w", i, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_categories WHERE rule_id = ?`, rule.ID); err != nil {
			return fmt.Errorf("failed to clear category filters: %w", err)
		}
		for _, c := range rule.CategoryFilters {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO rule_categories (rule_id, category_id) VALUES (?, ?)`,
				rule.ID, c.ID); err != nil {
				return fmt.Errorf("failed to save category filter %s: %w", c.ID, err)
			}
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
func (s *SQLiteStorage) GetRules(ctx context.Context, userID string) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return s.loadRules(ctx, userID, false)
}

// GetActiveRules returns the user's enabled rules in list order.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context, userID string) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return s.loadRules(ctx, userID, true)
}

// DeleteRule removes a rule; past decisions keep their record with the rule unset.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, userID, ruleID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE user_id = ? AND id = ?`, userID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: rule %s", common.ErrNotFound, ruleID)
	}
	return nil
}

func (s *SQLiteStorage) loadRules(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE user_id = ?`
	if activeOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY position, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	index := make(map[string]int)
	for rows.Next() {
		var (
			r                           model.Rule
			operator, filterType, sysTy string
			groupID                     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Position, &r.Enabled, &r.Automate, &r.RunOnThreads,
			&r.From, &r.To, &r.Subject, &r.Body, &r.Instructions,
			&operator, &filterType, &sysTy, &groupID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.ConditionalOperator = model.LogicalOperator(operator)
		r.CategoryFilterType = model.CategoryFilterType(filterType)
		r.SystemType = model.SystemType(sysTy)
		r.GroupID = stringPtr(groupID)
		index[r.ID] = len(rules)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	if len(rules) == 0 {
		return rules, nil
	}

	if err := s.attachActions(ctx, userID, rules, index); err != nil {
		return nil, err
	}
	if err := s.attachCategoryFilters(ctx, userID, rules, index); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *SQLiteStorage) attachActions(ctx context.Context, userID string, rules []model.Rule, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.rule_id, a.id, a.type, a.label, a.subject, a.content, a.to_address, a.cc, a.bcc, a.url
		FROM actions a JOIN rules r ON r.id = a.rule_id
		WHERE r.user_id = ?
		ORDER BY a.rule_id, a.position`, userID)
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			ruleID, typ string
			a           model.Action
		)
		if err := rows.Scan(&ruleID, &a.ID, &typ, &a.Label, &a.Subject, &a.Content, &a.To, &a.Cc, &a.Bcc, &a.URL); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.Type = model.ActionType(typ)
		if i, ok := index[ruleID]; ok {
			rules[i].Actions = append(rules[i].Actions, a)
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) attachCategoryFilters(ctx context.Context, userID string, rules []model.Rule, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rc.rule_id, c.id, c.user_id, c.name, c.description, c.created_at
		FROM rule_categories rc
		JOIN categories c ON c.id = rc.category_id
		JOIN rules r ON r.id = rc.rule_id
		WHERE r.user_id = ?
		ORDER BY c.name`, userID)
	if err != nil {
		return fmt.Errorf("failed to query category filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			ruleID string
			c      model.Category
		)
		if err := rows.Scan(&ruleID, &c.ID, &c.UserID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan category filter: %w", err)
		}
		if i, ok := index[ruleID]; ok {
			rules[i].CategoryFilters = append(rules[i].CategoryFilters, c)
		}
	}
	return rows.Err()
}
