package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/storage"
)

// SaveUser creates or updates a user.
func (s *Storage) SaveUser(ctx context.Context, user *model.User) error {
	if err := storage.ValidateUser(user); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, about, ai_provider, ai_model, ai_api_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			about = EXCLUDED.about,
			ai_provider = EXCLUDED.ai_provider,
			ai_model = EXCLUDED.ai_model,
			ai_api_key = EXCLUDED.ai_api_key`,
		user.ID, user.Email, user.About, user.AIProvider, user.AIModel, user.AIAPIKey)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser returns common.ErrNotFound for an unknown id.
func (s *Storage) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, about, ai_provider, ai_model, ai_api_key, created_at
		FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Email, &user.About, &user.AIProvider, &user.AIModel, &user.AIAPIKey, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return &user, nil
}

// SaveCategory creates or updates a sender category.
func (s *Storage) SaveCategory(ctx context.Context, category *model.Category) error {
	if category == nil {
		return fmt.Errorf("%w: category", storage.ErrNilParameter)
	}
	if category.UserID == "" || strings.TrimSpace(category.Name) == "" {
		return fmt.Errorf("%w: category user and name", storage.ErrEmptyString)
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, user_id, name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description`,
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
func (s *Storage) GetCategories(ctx context.Context, userID string) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, description, created_at
		FROM categories WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

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

// SaveSender records the category of a sender. Emails are stored lower-cased.
func (s *Storage) SaveSender(ctx context.Context, sender *model.Sender) error {
	if sender == nil {
		return fmt.Errorf("%w: sender", storage.ErrNilParameter)
	}
	if sender.UserID == "" || strings.TrimSpace(sender.Email) == "" {
		return fmt.Errorf("%w: sender user and email", storage.ErrEmptyString)
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO senders (user_id, email, category_id, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, email) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			last_updated = EXCLUDED.last_updated`,
		sender.UserID, strings.ToLower(strings.TrimSpace(sender.Email)), emptyToNil(sender.CategoryID), now)
	if err != nil {
		return fmt.Errorf("failed to save sender: %w", err)
	}
	sender.LastUpdated = now
	return nil
}

// GetSender returns common.ErrNotFound when the sender has never been categorized.
func (s *Storage) GetSender(ctx context.Context, userID, email string) (*model.Sender, error) {
	var sender model.Sender
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email, category_id, last_updated
		FROM senders WHERE user_id = $1 AND email = $2`,
		userID, strings.ToLower(strings.TrimSpace(email))).
		Scan(&sender.UserID, &sender.Email, &sender.CategoryID, &sender.LastUpdated)
	if err != nil {
		return nil, notFound(err, "sender "+email)
	}
	return &sender, nil
}
