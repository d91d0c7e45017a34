package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// SaveGroup creates or replaces a group and its items.
func (s *SQLiteStorage) SaveGroup(ctx context.Context, group *model.Group) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := ValidateGroup(group); err != nil {
		return err
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rule_groups (id, user_id, name, rule_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				rule_id = excluded.rule_id`,
			group.ID, group.UserID, group.Name, nullString(group.RuleID))
		if err != nil {
			return fmt.Errorf("failed to save group: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM group_items WHERE group_id = ?`, group.ID); err != nil {
			return fmt.Errorf("failed to clear group items: %w", err)
		}
		for i := range group.Items {
			item := &group.Items[i]
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			item.GroupID = group.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_items (id, group_id, type, value) VALUES (?, ?, ?, ?)`,
				item.ID, group.ID, string(item.Type), item.Value); err != nil {
				return fmt.Errorf("failed to save group item %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetGroupsWithRules returns the user's groups that some rule uses, with their items.
func (s *SQLiteStorage) GetGroupsWithRules(ctx context.Context, userID string) ([]model.Group, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.user_id, g.name, g.rule_id, g.created_at
		FROM rule_groups g
		WHERE g.user_id = ?
		  AND (g.rule_id IS NOT NULL OR EXISTS (SELECT 1 FROM rules r WHERE r.group_id = g.id))
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}

	var groups []model.Group
	index := make(map[string]int)
	for rows.Next() {
		var (
			g      model.Group
			ruleID sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &ruleID, &g.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.RuleID = stringPtr(ruleID)
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	_ = rows.Close()

	if len(groups) == 0 {
		return groups, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.group_id, i.type, i.value
		FROM group_items i JOIN rule_groups g ON g.id = i.group_id
		WHERE g.user_id = ?
		ORDER BY i.rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group items: %w", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var (
			item model.GroupItem
			typ  string
		)
		if err := itemRows.Scan(&item.ID, &item.GroupID, &typ, &item.Value); err != nil {
			return nil, fmt.Errorf("failed to scan group item: %w", err)
		}
		item.Type = model.GroupItemType(typ)
		if i, ok := index[item.GroupID]; ok {
			groups[i].Items = append(groups[i].Items, item)
		}
	}
	return groups, itemRows.Err()
}
