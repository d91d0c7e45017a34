package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// SaveUser creates or updates a user.
func (s *SQLiteStorage) SaveUser(ctx context.Context, user *model.User) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := ValidateUser(user); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, about, ai_provider, ai_model, ai_api_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			about = excluded.about,
			ai_provider = excluded.ai_provider,
			ai_model = excluded.ai_model,
			ai_api_key = excluded.ai_api_key`,
		user.ID, user.Email, user.About, user.AIProvider, user.AIModel, user.AIAPIKey)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser returns common.ErrNotFound for an unknown id.
func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var user model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, about, ai_provider, ai_model, ai_api_key, created_at
		FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Email, &user.About, &user.AIProvider, &user.AIModel, &user.AIAPIKey, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return &user, nil
}
