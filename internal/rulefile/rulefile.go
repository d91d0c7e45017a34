// Package rulefile loads users, categories, groups and rules from YAML and imports
// them into storage.
package rulefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/pattern"
)

// idNamespace seeds the deterministic IDs given to imported objects, so re-importing
// a file updates rows in place.
var idNamespace = uuid.MustParse("6f1c2a0e-4b7d-5c3e-9a81-2d6b0f4e7c19")

// File is the top-level YAML document.
type File struct {
	Users []UserSpec `yaml:"users"`
}

// UserSpec describes one user and everything they own.
type UserSpec struct {
	AI         *AISpec        `yaml:"ai,omitempty"`
	ID         string         `yaml:"id"`
	Email      string         `yaml:"email"`
	About      string         `yaml:"about,omitempty"`
	Categories []CategorySpec `yaml:"categories,omitempty"`
	Groups     []GroupSpec    `yaml:"groups,omitempty"`
	Rules      []RuleSpec     `yaml:"rules"`
}

// AISpec overrides the configured model provider for a user.
type AISpec struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	APIKey   string `yaml:"api_key"`
}

// CategorySpec is a sender category and the senders already filed under it.
type CategorySpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Senders     []string `yaml:"senders,omitempty"`
}

// GroupSpec is a named set of patterns. Each item sets exactly one of from, subject or body.
type GroupSpec struct {
	Name  string          `yaml:"name"`
	Items []GroupItemSpec `yaml:"items"`
}

// GroupItemSpec is one pattern within a group.
type GroupItemSpec struct {
	From    string `yaml:"from,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Body    string `yaml:"body,omitempty"`
}

// CategoryFilterSpec limits a rule to senders in (or not in) the named categories.
type CategoryFilterSpec struct {
	Type  string   `yaml:"type"`
	Names []string `yaml:"names"`
}

// ActionSpec is an action template.
type ActionSpec struct {
	Type    string `yaml:"type"`
	Label   string `yaml:"label,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Content string `yaml:"content,omitempty"`
	To      string `yaml:"to,omitempty"`
	Cc      string `yaml:"cc,omitempty"`
	Bcc     string `yaml:"bcc,omitempty"`
	URL     string `yaml:"url,omitempty"`
}

// RuleSpec is one rule. Rules are evaluated in file order.
type RuleSpec struct {
	Enabled      *bool               `yaml:"enabled,omitempty"`
	Categories   *CategoryFilterSpec `yaml:"categories,omitempty"`
	Name         string              `yaml:"name"`
	Operator     string              `yaml:"operator,omitempty"`
	From         string              `yaml:"from,omitempty"`
	To           string              `yaml:"to,omitempty"`
	Subject      string              `yaml:"subject,omitempty"`
	Body         string              `yaml:"body,omitempty"`
	Instructions string              `yaml:"instructions,omitempty"`
	Group        string              `yaml:"group,omitempty"`
	SystemType   string              `yaml:"system_type,omitempty"`
	Actions      []ActionSpec        `yaml:"actions"`
	Automate     bool                `yaml:"automate,omitempty"`
	RunOnThreads bool                `yaml:"run_on_threads,omitempty"`
}

// UserSet is a user's rule set converted to model types, ready to store.
type UserSet struct {
	User       model.User
	Categories []model.Category
	Senders    []model.Sender
	Groups     []model.Group
	Rules      []model.Rule
}

// Load reads and parses a rule file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a rule file, rejecting unknown keys.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty rule file", common.ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("%w: no users defined", common.ErrInvalidConfig)
	}
	return &f, nil
}

// Build converts the file to model types and validates every user's rule set.
func (f *File) Build() ([]UserSet, error) {
	validator := pattern.NewValidator()
	seen := make(map[string]bool, len(f.Users))

	sets := make([]UserSet, 0, len(f.Users))
	var errs []error
	for _, entry := range f.Users {
		if entry.ID == "" || entry.Email == "" {
			errs = append(errs, fmt.Errorf("%w: user needs id and email", common.ErrInvalidConfig))
			continue
		}
		if seen[entry.ID] {
			errs = append(errs, fmt.Errorf("%w: user %q defined twice", common.ErrInvalidConfig, entry.ID))
			continue
		}
		seen[entry.ID] = true

		set, err := entry.build(validator)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", entry.ID, err))
			continue
		}
		sets = append(sets, set)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sets, nil
}

func (u UserSpec) build(validator *pattern.Validator) (UserSet, error) {
	set := UserSet{User: model.User{ID: u.ID, Email: u.Email, About: strings.TrimSpace(u.About)}}
	if u.AI != nil {
		set.User.AIProvider = u.AI.Provider
		set.User.AIModel = u.AI.Model
		set.User.AIAPIKey = u.AI.APIKey
	}

	categories := make(map[string]model.Category, len(u.Categories))
	for _, c := range u.Categories {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" {
			return UserSet{}, fmt.Errorf("%w: category without a name", common.ErrInvalidRule)
		}
		if _, dup := categories[key]; dup {
			return UserSet{}, fmt.Errorf("%w: duplicate category %q", common.ErrInvalidRule, c.Name)
		}
		category := model.Category{
			ID:          stableID(u.ID, "category", key),
			UserID:      u.ID,
			Name:        strings.TrimSpace(c.Name),
			Description: c.Description,
		}
		categories[key] = category
		set.Categories = append(set.Categories, category)
		for _, email := range c.Senders {
			categoryID := category.ID
			set.Senders = append(set.Senders, model.Sender{UserID: u.ID, Email: email, CategoryID: &categoryID})
		}
	}

	groups := make(map[string]int, len(u.Groups))
	for _, g := range u.Groups {
		group, err := g.build(u.ID)
		if err != nil {
			return UserSet{}, err
		}
		if err := validator.ValidateGroup(group); err != nil {
			return UserSet{}, err
		}
		key := strings.ToLower(group.Name)
		if _, dup := groups[key]; dup {
			return UserSet{}, fmt.Errorf("%w: duplicate group %q", common.ErrInvalidRule, g.Name)
		}
		groups[key] = len(set.Groups)
		set.Groups = append(set.Groups, group)
	}

	for i, r := range u.Rules {
		rule, err := r.build(u.ID, i, categories)
		if err != nil {
			return UserSet{}, err
		}
		if r.Group != "" {
			idx, ok := groups[strings.ToLower(r.Group)]
			if !ok {
				return UserSet{}, fmt.Errorf("%w: rule %q references unknown group %q", common.ErrInvalidRule, r.Name, r.Group)
			}
			if bound := set.Groups[idx].RuleID; bound != nil {
				return UserSet{}, fmt.Errorf("%w: group %q is bound to more than one rule", common.ErrInvalidRule, r.Group)
			}
			groupID := set.Groups[idx].ID
			ruleID := rule.ID
			rule.GroupID = &groupID
			set.Groups[idx].RuleID = &ruleID
		}
		set.Rules = append(set.Rules, rule)
	}

	if err := validator.ValidateRules(set.Rules); err != nil {
		return UserSet{}, err
	}
	return set, nil
}

func (g GroupSpec) build(userID string) (model.Group, error) {
	name := strings.TrimSpace(g.Name)
	group := model.Group{ID: stableID(userID, "group", strings.ToLower(name)), UserID: userID, Name: name}
	for i, item := range g.Items {
		var (
			typ   model.GroupItemType
			value string
			set   int
		)
		if item.From != "" {
			typ, value = model.GroupItemFrom, item.From
			set++
		}
		if item.Subject != "" {
			typ, value = model.GroupItemSubject, item.Subject
			set++
		}
		if item.Body != "" {
			typ, value = model.GroupItemBody, item.Body
			set++
		}
		if set != 1 {
			return model.Group{}, fmt.Errorf("%w: group %q item %d must set exactly one of from, subject or body",
				common.ErrInvalidRule, name, i)
		}
		group.Items = append(group.Items, model.GroupItem{GroupID: group.ID, Type: typ, Value: value})
	}
	return group, nil
}

func (r RuleSpec) build(userID string, position int, categories map[string]model.Category) (model.Rule, error) {
	name := strings.TrimSpace(r.Name)
	rule := model.Rule{
		ID:                  stableID(userID, "rule", strings.ToLower(name)),
		UserID:              userID,
		Name:                name,
		Position:            position,
		Enabled:             r.Enabled == nil || *r.Enabled,
		Automate:            r.Automate,
		RunOnThreads:        r.RunOnThreads,
		From:                r.From,
		To:                  r.To,
		Subject:             r.Subject,
		Body:                r.Body,
		Instructions:        strings.TrimSpace(r.Instructions),
		ConditionalOperator: model.LogicalOperator(strings.ToUpper(r.Operator)),
		SystemType:          model.SystemType(strings.ToUpper(r.SystemType)),
	}
	if rule.ConditionalOperator == "" {
		rule.ConditionalOperator = model.LogicalOperatorAnd
	}

	if r.Categories != nil {
		rule.CategoryFilterType = model.CategoryFilterType(strings.ToUpper(r.Categories.Type))
		for _, n := range r.Categories.Names {
			category, ok := categories[strings.ToLower(strings.TrimSpace(n))]
			if !ok {
				return model.Rule{}, fmt.Errorf("%w: rule %q references unknown category %q", common.ErrInvalidRule, name, n)
			}
			rule.CategoryFilters = append(rule.CategoryFilters, category)
		}
	}

	for _, a := range r.Actions {
		rule.Actions = append(rule.Actions, model.Action{
			Type:    model.ActionType(strings.ToUpper(a.Type)),
			Label:   a.Label,
			Subject: a.Subject,
			Content: a.Content,
			To:      a.To,
			Cc:      a.Cc,
			Bcc:     a.Bcc,
			URL:     a.URL,
		})
	}
	return rule, nil
}

func stableID(userID, kind, key string) string {
	return uuid.NewSHA1(idNamespace, []byte(userID+"/"+kind+"/"+key)).String()
}
