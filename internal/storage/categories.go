package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// SaveCategory creates or updates a sender category. Names are unique per user.
func (s *SQLiteStorage) SaveCategory(ctx context.Context, category *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if category == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if err := validateString(category.UserID, "category.UserID"); err != nil {
		return err
	}
	if err := validateString(category.Name, "category.Name"); err != nil {
		return err
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description`,
		category.ID, category.UserID, strings.TrimSpace(category.Name), category.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, category.Name)
		}
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// GetCategories returns the user's categories ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context, userID string) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, created_at
		FROM categories WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// SaveSender records (or clears) the category of a sender. Emails are stored lower-cased.
func (s *SQLiteStorage) SaveSender(ctx context.Context, sender *model.Sender) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if sender == nil {
		return fmt.Errorf("%w: sender", ErrNilParameter)
	}
	if err := validateString(sender.UserID, "sender.UserID"); err != nil {
		return err
	}
	if err := validateString(sender.Email, "sender.Email"); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO senders (user_id, email, category_id, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, email) DO UPDATE SET
			category_id = excluded.category_id,
			last_updated = excluded.last_updated`,
		sender.UserID, strings.ToLower(strings.TrimSpace(sender.Email)), nullString(sender.CategoryID), now)
	if err != nil {
		return fmt.Errorf("failed to save sender: %w", err)
	}
	sender.LastUpdated = now
	return nil
}

// GetSender returns common.ErrNotFound when the sender has never been categorized.
func (s *SQLiteStorage) GetSender(ctx context.Context, userID, email string) (*model.Sender, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		sender     model.Sender
		categoryID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, category_id, last_updated
		FROM senders WHERE user_id = ? AND email = ?`,
		userID, strings.ToLower(strings.TrimSpace(email))).
		Scan(&sender.UserID, &sender.Email, &categoryID, &sender.LastUpdated)
	if err != nil {
		return nil, notFound(err, "sender "+email)
	}
	sender.CategoryID = stringPtr(categoryID)
	return &sender, nil
}
