package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

// createTestStorageWithUser also saves the user "user-1".
func createTestStorageWithUser(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	store, cleanup := createTestStorage(t)
	err := store.SaveUser(context.Background(), &model.User{ID: "user-1", Email: "me@example.com"})
	if err != nil {
		cleanup()
		t.Fatalf("Failed to save user: %v", err)
	}
	return store, cleanup
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		store, err := NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		require.NoError(t, store.Migrate(context.Background()))
	})

	t.Run("creates parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "mail.db")
		store, err := NewSQLiteStorage(path)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		assert.FileExists(t, path)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := NewSQLiteStorage("  ")
		assert.ErrorIs(t, err, ErrEmptyString)
	})
}

func TestUsers(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	user := &model.User{ID: "u1", Email: "ada@example.com", About: "Founder"}
	require.NoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "Founder", got.About)
	assert.False(t, got.CreatedAt.IsZero())

	user.About = "Investor"
	user.AIProvider = "anthropic"
	user.AIAPIKey = "key"
	require.NoError(t, store.SaveUser(ctx, user))

	got, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Investor", got.About)
	assert.True(t, got.HasAIOverride())

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = store.SaveUser(ctx, &model.User{ID: "u2"})
	assert.ErrorIs(t, err, ErrEmptyString)
}

func TestCategoriesAndSenders(t *testing.T) {
	store, cleanup := createTestStorageWithUser(t)
	defer cleanup()
	ctx := context.Background()

	newsletter := &model.Category{UserID: "user-1", Name: "Newsletter", Description: "Bulk mail"}
	require.NoError(t, store.SaveCategory(ctx, newsletter))
	require.NotEmpty(t, newsletter.ID)
	require.NoError(t, store.SaveCategory(ctx, &model.Category{UserID: "user-1", Name: "Investor"}))

	err := store.SaveCategory(ctx, &model.Category{UserID: "user-1", Name: "Newsletter"})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	categories, err := store.GetCategories(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Investor", categories[0].Name)
	assert.Equal(t, "Newsletter", categories[1].Name)

	_, err = store.GetSender(ctx, "user-1", "news@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, store.SaveSender(ctx, &model.Sender{
		UserID:     "user-1",
		Email:      " News@Example.com ",
		CategoryID: &newsletter.ID,
	}))

	sender, err := store.GetSender(ctx, "user-1", "NEWS@example.com")
	require.NoError(t, err)
	assert.Equal(t, "news@example.com", sender.Email)
	require.NotNil(t, sender.CategoryID)
	assert.Equal(t, newsletter.ID, *sender.CategoryID)

	require.NoError(t, store.SaveSender(ctx, &model.Sender{UserID: "user-1", Email: "news@example.com"}))
	sender, err = store.GetSender(ctx, "user-1", "news@example.com")
	require.NoError(t, err)
	assert.Nil(t, sender.CategoryID)
}
