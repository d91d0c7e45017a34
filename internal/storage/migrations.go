package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL,
					about TEXT NOT NULL DEFAULT '',
					ai_provider TEXT NOT NULL DEFAULT '',
					ai_model TEXT NOT NULL DEFAULT '',
					ai_api_key TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, name)
				)`,

				`CREATE TABLE IF NOT EXISTS rule_groups (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					rule_id TEXT,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS group_items (
					id TEXT PRIMARY KEY,
					group_id TEXT NOT NULL REFERENCES rule_groups(id) ON DELETE CASCADE,
					type TEXT NOT NULL,
					value TEXT NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS rules (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					position INTEGER NOT NULL DEFAULT 0,
					enabled BOOLEAN NOT NULL DEFAULT 1,
					automate BOOLEAN NOT NULL DEFAULT 0,
					run_on_threads BOOLEAN NOT NULL DEFAULT 0,
					from_pattern TEXT NOT NULL DEFAULT '',
					to_pattern TEXT NOT NULL DEFAULT '',
					subject_pattern TEXT NOT NULL DEFAULT '',
					body_pattern TEXT NOT NULL DEFAULT '',
					instructions TEXT NOT NULL DEFAULT '',
					conditional_operator TEXT NOT NULL DEFAULT 'AND',
					category_filter_type TEXT NOT NULL DEFAULT '',
					system_type TEXT NOT NULL DEFAULT '',
					group_id TEXT REFERENCES rule_groups(id) ON DELETE SET NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_user_name ON rules(user_id, name COLLATE NOCASE)`,
				`CREATE INDEX IF NOT EXISTS idx_rules_user_position ON rules(user_id, position)`,

				`CREATE TABLE IF NOT EXISTS actions (
					id TEXT PRIMARY KEY,
					rule_id TEXT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					type TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					subject TEXT NOT NULL DEFAULT '',
					content TEXT NOT NULL DEFAULT '',
					to_address TEXT NOT NULL DEFAULT '',
					cc TEXT NOT NULL DEFAULT '',
					bcc TEXT NOT NULL DEFAULT '',
					url TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX IF NOT EXISTS idx_actions_rule ON actions(rule_id)`,

				`CREATE TABLE IF NOT EXISTS rule_categories (
					rule_id TEXT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
					category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
					PRIMARY KEY (rule_id, category_id)
				)`,

				`CREATE TABLE IF NOT EXISTS senders (
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					email TEXT NOT NULL,
					category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
					last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (user_id, email)
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add executed rules with one decision per message",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS executed_rules (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					thread_id TEXT NOT NULL,
					message_id TEXT NOT NULL,
					rule_id TEXT REFERENCES rules(id) ON DELETE SET NULL,
					reason TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					automated BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, thread_id, message_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_executed_rules_user_created ON executed_rules(user_id, created_at)`,

				`CREATE TABLE IF NOT EXISTS executed_actions (
					id TEXT PRIMARY KEY,
					executed_rule_id TEXT NOT NULL REFERENCES executed_rules(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					type TEXT NOT NULL,
					label TEXT NOT NULL DEFAULT '',
					subject TEXT NOT NULL DEFAULT '',
					content TEXT NOT NULL DEFAULT '',
					to_address TEXT NOT NULL DEFAULT '',
					cc TEXT NOT NULL DEFAULT '',
					bcc TEXT NOT NULL DEFAULT '',
					url TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX IF NOT EXISTS idx_executed_actions_rule ON executed_actions(executed_rule_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add thread trackers",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS thread_trackers (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					thread_id TEXT NOT NULL,
					message_id TEXT NOT NULL,
					type TEXT NOT NULL,
					sent_at DATETIME NOT NULL,
					resolved BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (user_id, thread_id, message_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_thread_trackers_open ON thread_trackers(user_id, thread_id, resolved)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("%w: schema version mismatch: expected %d, got %d",
			common.ErrDatabaseCorrupted, ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
