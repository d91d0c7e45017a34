package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

const (
	reasonNoRules      = "No rules"
	reasonNoMatchFound = "No match found"
	datasetBufferSize  = 64
)

// DatasetRecord is one rule-choice example for offline evaluation.
type DatasetRecord struct {
	Time     time.Time    `json:"time"`
	ID       string       `json:"id"`
	Expected string       `json:"expected,omitempty"`
	Error    string       `json:"error,omitempty"`
	Input    DatasetInput `json:"input"`
}

// DatasetInput is what the model saw.
type DatasetInput struct {
	Email     string        `json:"email"`
	UserAbout string        `json:"userAbout,omitempty"`
	UserEmail string        `json:"userEmail"`
	Rules     []DatasetRule `json:"rules"`
	HasAbout  bool          `json:"hasAbout"`
}

// DatasetRule is a candidate rule as offered to the model.
type DatasetRule struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// DatasetRecorder stores evaluation examples.
type DatasetRecorder interface {
	Record(ctx context.Context, record DatasetRecord) error
}

// Resolver picks the client for a user.
type Resolver interface {
	ForUser(user model.User) (Client, error)
}

// RuleChooser asks a model which of several AI rules applies to a message.
type RuleChooser struct {
	resolver Resolver
	recorder DatasetRecorder
	records  chan DatasetRecord
	logger   *slog.Logger
	wg       sync.WaitGroup
	closed   sync.Once
}

// NewRuleChooser creates a chooser. The recorder may be nil.
func NewRuleChooser(resolver Resolver, recorder DatasetRecorder, logger *slog.Logger) *RuleChooser {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RuleChooser{
		resolver: resolver,
		recorder: recorder,
		logger:   logger.With("component", "rule-chooser"),
	}
	if recorder != nil {
		c.records = make(chan DatasetRecord, datasetBufferSize)
		c.wg.Add(1)
		go c.drainRecords()
	}
	return c
}

type chooseRuleResponse struct {
	Reason       string `json:"reason"`
	RuleName     string `json:"ruleName"`
	NoMatchFound bool   `json:"noMatchFound"`
}

// ChooseRule returns the rule the model picked. A name the model invents is logged and
// treated the same as no match.
func (c *RuleChooser) ChooseRule(ctx context.Context, msg model.Message, rules []model.Rule, user model.User) (service.RuleChoice, error) {
	if len(rules) == 0 {
		return service.RuleChoice{Reason: reasonNoRules}, nil
	}

	client, err := c.resolver.ForUser(user)
	if err != nil {
		return service.RuleChoice{}, err
	}

	emailSection := stringifyEmail(msg, maxEmailContentLength)
	req := ObjectRequest{
		System:     buildChooseRuleSystem(rules, user),
		Prompt:     buildChooseRulePrompt(emailSection),
		Schema:     chooseRuleSchema,
		UsageLabel: "Choose rule",
	}

	c.logger.Debug("Choosing rule", "message_id", msg.ID, "candidates", len(rules))

	raw, err := client.CompleteObject(ctx, req)
	if err != nil {
		c.record(newDatasetRecord(msg.ID, emailSection, rules, user, "", err))
		return service.RuleChoice{}, fmt.Errorf("choose rule completion failed: %w", err)
	}

	var resp chooseRuleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.record(newDatasetRecord(msg.ID, emailSection, rules, user, "", err))
		return service.RuleChoice{}, fmt.Errorf("failed to decode choose rule response: %w", err)
	}

	c.record(newDatasetRecord(msg.ID, emailSection, rules, user, resp.RuleName, nil))

	if resp.NoMatchFound {
		return service.RuleChoice{Reason: reasonNoMatchFound}, nil
	}

	if resp.RuleName != "" {
		for i := range rules {
			if strings.EqualFold(rules[i].Name, resp.RuleName) {
				return service.RuleChoice{Rule: &rules[i], Reason: resp.Reason}, nil
			}
		}
		c.logger.Warn("Model chose a rule that is not a candidate",
			"message_id", msg.ID,
			"rule_name", resp.RuleName)
	}

	return service.RuleChoice{Reason: resp.Reason}, nil
}

// Close flushes pending dataset records.
func (c *RuleChooser) Close() {
	c.closed.Do(func() {
		if c.records != nil {
			close(c.records)
		}
	})
	c.wg.Wait()
}

// record queues an example without blocking; a full buffer drops it.
func (c *RuleChooser) record(rec DatasetRecord) {
	if c.records == nil {
		return
	}
	select {
	case c.records <- rec:
	default:
		c.logger.Warn("Dataset buffer full, dropping record", "id", rec.ID)
	}
}

func (c *RuleChooser) drainRecords() {
	defer c.wg.Done()
	for rec := range c.records {
		if err := c.recorder.Record(context.Background(), rec); err != nil {
			c.logger.Warn("Failed to record dataset example", "id", rec.ID, "error", err)
		}
	}
}

func newDatasetRecord(id, email string, rules []model.Rule, user model.User, expected string, err error) DatasetRecord {
	datasetRules := make([]DatasetRule, len(rules))
	for i, r := range rules {
		datasetRules[i] = DatasetRule{Name: r.Name, Instructions: r.Instructions}
	}
	rec := DatasetRecord{
		Time:     time.Now().UTC(),
		ID:       id,
		Expected: expected,
		Input: DatasetInput{
			Email:     email,
			Rules:     datasetRules,
			HasAbout:  user.About != "",
			UserAbout: user.About,
			UserEmail: user.Email,
		},
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
