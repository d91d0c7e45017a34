package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/config"
	"github.com/Veraticus/the-mail-must-flow/internal/engine"
	"github.com/Veraticus/the-mail-must-flow/internal/evals"
	"github.com/Veraticus/the-mail-must-flow/internal/gmail"
	"github.com/Veraticus/the-mail-must-flow/internal/inbound"
	"github.com/Veraticus/the-mail-must-flow/internal/llm"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
	"github.com/Veraticus/the-mail-must-flow/internal/storage"
	"github.com/Veraticus/the-mail-must-flow/internal/storage/postgres"
)

// store is a migrated storage backend that can report its health.
type store interface {
	service.Storage
	Ping(ctx context.Context) error
}

// initStorage opens the configured backend and brings its schema up to date.
func initStorage(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	var (
		s   store
		err error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err = postgres.New(ctx, cfg.DSN)
	default:
		s, err = storage.NewSQLiteStorage(cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// appOptions selects the optional collaborators of an app.
type appOptions struct {
	// scheduler receives senders whose mail matched only through the model.
	scheduler service.SenderPatternScheduler
	// mailbox enables Gmail reply-history lookups when credentials are configured.
	mailbox bool
}

// app is the engine wired against the configured store and model provider.
type app struct {
	cfg       *config.Config
	store     store
	resolver  *llm.ClientResolver
	chooser   *llm.RuleChooser
	recorder  *evals.Recorder
	runner    *engine.Runner
	processor *inbound.Processor
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	s, err := initStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: s, resolver: llm.NewClientResolver(cfg.LLM)}

	var recorder llm.DatasetRecorder
	if cfg.Evals.Path != "" {
		a.recorder, err = evals.NewRecorder(cfg.Evals.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		recorder = a.recorder
	}
	a.chooser = llm.NewRuleChooser(a.resolver, recorder, slog.Default())

	var mailbox service.MailboxClient
	if opts.mailbox && cfg.GmailEnabled() {
		client, err := gmail.NewClient(ctx, cfg.Gmail)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create gmail client: %w", err)
		}
		mailbox = client
	}

	matcher := engine.NewMatcher(s, mailbox, a.chooser)
	a.runner = engine.NewRunner(matcher, s, engine.NewTemplateArgumentGenerator(), engine.NewLoggingExecutor(), opts.scheduler)
	a.processor = inbound.NewProcessor(s, a.runner, engine.NewReplyTracker(a.chooser, s))
	return a, nil
}

// Close waits for background work and releases every resource, in reverse order of creation.
func (a *app) Close() {
	if a.runner != nil {
		a.runner.Wait()
	}
	if a.chooser != nil {
		a.chooser.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			slog.Warn("Failed to close dataset", "error", err)
		}
	}
	a.resolver.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close storage", "error", err)
	}
}

// loadUser returns the user and their active rules.
func (a *app) loadUser(ctx context.Context, userID string) (*userRules, error) {
	user, err := a.store.GetUser(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewUserError(fmt.Sprintf("unknown user %q; import a rule file with `mailflow rules import` first", userID), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	rules, err := a.store.GetActiveRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return &userRules{user: *user, rules: rules}, nil
}

type userRules struct {
	user  model.User
	rules []model.Rule
}
