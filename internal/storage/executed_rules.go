package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

const executedRuleColumns = `id, user_id, thread_id, message_id, rule_id, reason, status, automated, created_at, updated_at`

// UpsertExecutedRule stores the decision for rule.Key(). An existing record is
// returned unchanged with created=false; with overwrite it is updated in place and
// keeps its ID. When another writer inserts the same key first, the winner's record
// is returned unchanged.
func (s *SQLiteStorage) UpsertExecutedRule(ctx context.Context, rule *model.ExecutedRule, overwrite bool) (*model.ExecutedRule, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := ValidateExecutedRule(rule); err != nil {
		return nil, false, err
	}

	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM executed_rules WHERE user_id = ? AND thread_id = ? AND message_id = ?`,
			rule.UserID, rule.ThreadID, rule.MessageID).Scan(&existingID)

		now := time.Now().UTC()
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id := rule.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO executed_rules (`+executedRuleColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, rule.UserID, rule.ThreadID, rule.MessageID, nullString(rule.RuleID),
				rule.Reason, string(rule.Status), rule.Automated, now, now); err != nil {
				return err
			}
			created = true
			return insertExecutedActions(ctx, tx, id, rule.ActionItems)

		case err != nil:
			return fmt.Errorf("failed to look up executed rule: %w", err)

		case !overwrite:
			return nil

		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE executed_rules
				SET rule_id = ?, reason = ?, status = ?, automated = ?, updated_at = ?
				WHERE id = ?`,
				nullString(rule.RuleID), rule.Reason, string(rule.Status), rule.Automated, now, existingID); err != nil {
				return fmt.Errorf("failed to update executed rule: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM executed_actions WHERE executed_rule_id = ?`, existingID); err != nil {
				return fmt.Errorf("failed to clear executed actions: %w", err)
			}
			return insertExecutedActions(ctx, tx, existingID, rule.ActionItems)
		}
	})

	if err != nil {
		if isUniqueViolation(err) {
			stored, getErr := s.GetExecutedRule(ctx, rule.Key())
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to re-read executed rule after conflict: %w", getErr)
			}
			return stored, false, nil
		}
		return nil, false, fmt.Errorf("failed to save executed rule: %w", err)
	}

	stored, err := s.GetExecutedRule(ctx, rule.Key())
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func insertExecutedActions(ctx context.Context, tx *sql.Tx, executedRuleID string, items []model.ActionItem) error {
	for i, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO executed_actions (id, executed_rule_id, position, type, label, subject, content, to_address, cc, bcc, url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, executedRuleID, i, string(item.Type), item.Label, item.Subject, item.Content,
			item.To, item.Cc, item.Bcc, item.URL); err != nil {
			return fmt.Errorf("failed to save executed action %d: %w", i, err)
		}
	}
	return nil
}

// GetExecutedRule returns common.ErrNotFound when no decision exists for key.
func (s *SQLiteStorage) GetExecutedRule(ctx context.Context, key model.DecisionKey) (*model.ExecutedRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+executedRuleColumns+` FROM executed_rules
		WHERE user_id = ? AND thread_id = ? AND message_id = ?`,
		key.UserID, key.ThreadID, key.MessageID)

	rule, err := scanExecutedRule(row)
	if err != nil {
		return nil, notFound(err, "executed rule for message "+key.MessageID)
	}

	items, err := s.loadExecutedActions(ctx, []string{rule.ID})
	if err != nil {
		return nil, err
	}
	rule.ActionItems = items[rule.ID]
	return rule, nil
}

// ListExecutedRules returns the user's decisions, newest first.
func (s *SQLiteStorage) ListExecutedRules(ctx context.Context, userID string, filter service.ExecutedRuleFilter) ([]model.ExecutedRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + executedRuleColumns + ` FROM executed_rules WHERE user_id = ?`
	args := []any{userID}
	if filter.ThreadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, filter.ThreadID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executed rules: %w", err)
	}

	var (
		rules []model.ExecutedRule
		ids   []string
	)
	for rows.Next() {
		rule, err := scanExecutedRule(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan executed rule: %w", err)
		}
		rules = append(rules, *rule)
		ids = append(ids, rule.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating executed rules: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return rules, nil
	}
	items, err := s.loadExecutedActions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].ActionItems = items[rules[i].ID]
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecutedRule(row rowScanner) (*model.ExecutedRule, error) {
	var (
		rule   model.ExecutedRule
		ruleID sql.NullString
		status string
	)
	if err := row.Scan(&rule.ID, &rule.UserID, &rule.ThreadID, &rule.MessageID, &ruleID,
		&rule.Reason, &status, &rule.Automated, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	rule.RuleID = stringPtr(ruleID)
	rule.Status = model.ExecutedRuleStatus(status)
	return &rule, nil
}

func (s *SQLiteStorage) loadExecutedActions(ctx context.Context, ids []string) (map[string][]model.ActionItem, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT executed_rule_id, id, type, label, subject, content, to_address, cc, bcc, url
		FROM executed_actions
		WHERE executed_rule_id IN (`+placeholders+`)
		ORDER BY executed_rule_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executed actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make(map[string][]model.ActionItem, len(ids))
	for rows.Next() {
		var (
			parent, typ string
			item        model.ActionItem
		)
		if err := rows.Scan(&parent, &item.ID, &typ, &item.Label, &item.Subject, &item.Content,
			&item.To, &item.Cc, &item.Bcc, &item.URL); err != nil {
			return nil, fmt.Errorf("failed to scan executed action: %w", err)
		}
		item.Type = model.ActionType(typ)
		items[parent] = append(items[parent], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executed actions: %w", err)
	}
	return items, nil
}
