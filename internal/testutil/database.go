// Package testutil provides test fixtures for mailflow: migrated in-memory stores
// seeded with users and rules, and a fluent rule builder.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/storage"
)

// DefaultUserID is the user SetupTestDB creates when no users are given.
const DefaultUserID = "user-1"

// TestDB is a migrated in-memory store.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions seeds a test database. Users are saved before rules.
type TestDBOptions struct {
	CustomSetup func(context.Context, *storage.SQLiteStorage) error
	Users       []model.User
	Rules       []model.Rule
}

// SetupTestDB creates a migrated in-memory database holding DefaultUserID and rules.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		testutil.NewRule("Invoices").WithSubject("Invoice").WithLabel("Finance").Build(),
//	)
func SetupTestDB(t *testing.T, rules ...model.Rule) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Rules: rules})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	users := opts.Users
	if len(users) == 0 {
		users = []model.User{{ID: DefaultUserID, Email: "me@example.com"}}
	}
	for i := range users {
		if err := store.SaveUser(ctx, &users[i]); err != nil {
			t.Fatalf("failed to seed user %q: %v", users[i].ID, err)
		}
	}

	db := &TestDB{Storage: store, t: t}
	for _, rule := range opts.Rules {
		db.MustSaveRule(rule)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}
	return db
}

// MustSaveRule stores rule, failing the test on error, and returns it with its ID.
func (db *TestDB) MustSaveRule(rule model.Rule) model.Rule {
	db.t.Helper()
	if err := db.Storage.SaveRule(context.Background(), &rule); err != nil {
		db.t.Fatalf("failed to seed rule %q: %v", rule.Name, err)
	}
	return rule
}

// MustGetRule returns the stored rule with the given name or fails the test.
func (db *TestDB) MustGetRule(userID, name string) model.Rule {
	db.t.Helper()
	rules, err := db.Storage.GetRules(context.Background(), userID)
	if err != nil {
		db.t.Fatalf("failed to load rules: %v", err)
	}
	for _, r := range rules {
		if r.Name == name {
			return r
		}
	}
	db.t.Fatalf("rule %q not found for %s", name, userID)
	return model.Rule{}
}
