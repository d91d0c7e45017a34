package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
	"github.com/Veraticus/the-mail-must-flow/internal/storage"
)

const executedRuleColumns = `id, user_id, thread_id, message_id, rule_id, reason, status, automated, created_at, updated_at`

// UpsertExecutedRule stores the decision for rule.Key(). The insert relies on the
// (user_id, thread_id, message_id) constraint, so concurrent writers across processes
// agree on a single record; the loser gets the winner's record with created=false.
// An existing record is only rewritten when overwrite is set.
func (s *Storage) UpsertExecutedRule(ctx context.Context, rule *model.ExecutedRule, overwrite bool) (*model.ExecutedRule, bool, error) {
	if err := storage.ValidateExecutedRule(rule); err != nil {
		return nil, false, err
	}

	var created bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var existingID string
		err := tx.QueryRow(ctx, `
			SELECT id FROM executed_rules
			WHERE user_id = $1 AND thread_id = $2 AND message_id = $3
			FOR UPDATE`,
			rule.UserID, rule.ThreadID, rule.MessageID).Scan(&existingID)

		now := time.Now().UTC()
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			id := rule.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO executed_rules (`+executedRuleColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
				id, rule.UserID, rule.ThreadID, rule.MessageID, emptyToNil(rule.RuleID),
				rule.Reason, string(rule.Status), rule.Automated, now); err != nil {
				return err
			}
			created = true
			return insertExecutedActions(ctx, tx, id, rule.ActionItems)

		case err != nil:
			return fmt.Errorf("failed to look up executed rule: %w", err)

		case !overwrite:
			return nil

		default:
			if _, err := tx.Exec(ctx, `
				UPDATE executed_rules
				SET rule_id = $1, reason = $2, status = $3, automated = $4, updated_at = $5
				WHERE id = $6`,
				emptyToNil(rule.RuleID), rule.Reason, string(rule.Status), rule.Automated, now, existingID); err != nil {
				return fmt.Errorf("failed to update executed rule: %w", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM executed_actions WHERE executed_rule_id = $1`, existingID); err != nil {
				return fmt.Errorf("failed to clear executed actions: %w", err)
			}
			return insertExecutedActions(ctx, tx, existingID, rule.ActionItems)
		}
	})

	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug("Lost executed rule insert race", "message_id", rule.MessageID)
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

func insertExecutedActions(ctx context.Context, tx pgx.Tx, executedRuleID string, items []model.ActionItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(`
			INSERT INTO executed_actions (id, executed_rule_id, position, type, label, subject, content, to_address, cc, bcc, url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			id, executedRuleID, i, string(item.Type), item.Label, item.Subject, item.Content,
			item.To, item.Cc, item.Bcc, item.URL)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save executed actions: %w", err)
	}
	return nil
}

// GetExecutedRule returns common.ErrNotFound when no decision exists for key.
func (s *Storage) GetExecutedRule(ctx context.Context, key model.DecisionKey) (*model.ExecutedRule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+executedRuleColumns+` FROM executed_rules
		WHERE user_id = $1 AND thread_id = $2 AND message_id = $3`,
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
	return &rule, nil
}

// ListExecutedRules returns the user's decisions, newest first.
func (s *Storage) ListExecutedRules(ctx context.Context, userID string, filter service.ExecutedRuleFilter) ([]model.ExecutedRule, error) {
	query := `SELECT ` + executedRuleColumns + ` FROM executed_rules WHERE user_id = $1`
	args := []any{userID}
	if filter.ThreadID != "" {
		args = append(args, filter.ThreadID)
		query += fmt.Sprintf(` AND thread_id = $%d`, len(args))
	}
	if filter.Since != nil {
		args = append(args, filter.Since.UTC())
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executed rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ExecutedRule, error) {
		return scanExecutedRule(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan executed rules: %w", err)
	}
	if len(rules) == 0 {
		return rules, nil
	}

	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
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

func scanExecutedRule(row pgx.Row) (model.ExecutedRule, error) {
	var (
		rule   model.ExecutedRule
		status string
	)
	err := row.Scan(&rule.ID, &rule.UserID, &rule.ThreadID, &rule.MessageID, &rule.RuleID,
		&rule.Reason, &status, &rule.Automated, &rule.CreatedAt, &rule.UpdatedAt)
	rule.Status = model.ExecutedRuleStatus(status)
	return rule, err
}

func (s *Storage) loadExecutedActions(ctx context.Context, ids []string) (map[string][]model.ActionItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT executed_rule_id, id, type, label, subject, content, to_address, cc, bcc, url
		FROM executed_actions
		WHERE executed_rule_id = ANY($1)
		ORDER BY executed_rule_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query executed actions: %w", err)
	}

	items := make(map[string][]model.ActionItem, len(ids))
	var (
		parent, typ string
		item        model.ActionItem
	)
	_, err = pgx.ForEachRow(rows,
		[]any{&parent, &item.ID, &typ, &item.Label, &item.Subject, &item.Content, &item.To, &item.Cc, &item.Bcc, &item.URL},
		func() error {
			item.Type = model.ActionType(typ)
			items[parent] = append(items[parent], item)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scan executed actions: %w", err)
	}
	return items, nil
}

// UpsertThreadTracker records a tracker, replacing the one for the same message.
func (s *Storage) UpsertThreadTracker(ctx context.Context, tracker *model.ThreadTracker) error {
	if err := storage.ValidateThreadTracker(tracker); err != nil {
		return err
	}
	if tracker.ID == "" {
		tracker.ID = uuid.NewString()
	}
	if tracker.SentAt.IsZero() {
		tracker.SentAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO thread_trackers (id, user_id, thread_id, message_id, type, sent_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, thread_id, message_id) DO UPDATE SET
			type = EXCLUDED.type,
			sent_at = EXCLUDED.sent_at,
			resolved = EXCLUDED.resolved`,
		tracker.ID, tracker.UserID, tracker.ThreadID, tracker.MessageID,
		string(tracker.Type), tracker.SentAt.UTC(), tracker.Resolved)
	if err != nil {
		return fmt.Errorf("failed to save thread tracker: %w", err)
	}
	return nil
}

// ResolveThreadTrackers marks the thread's open trackers of the given type resolved.
func (s *Storage) ResolveThreadTrackers(ctx context.Context, userID, threadID string, trackerType model.ThreadTrackerType) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE thread_trackers SET resolved = TRUE
		WHERE user_id = $1 AND thread_id = $2 AND type = $3 AND NOT resolved`,
		userID, threadID, string(trackerType))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve thread trackers: %w", err)
	}
	return tag.RowsAffected(), nil
}
