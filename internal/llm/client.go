package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
)

// Client defines the interface for LLM providers.
type Client interface {
	// CompleteObject returns a JSON object conforming to req.Schema.
	CompleteObject(ctx context.Context, req ObjectRequest) (json.RawMessage, error)
}

// ObjectRequest is a single structured-completion request.
type ObjectRequest struct {
	System     string
	Prompt     string
	UsageLabel string
	Schema     Schema
}

// Schema describes the flat JSON object a completion must return.
type Schema struct {
	// Properties maps field names to JSON types ("string", "boolean", "number").
	Properties map[string]string
	Name       string
	Required   []string
}

// JSONSchema renders the schema in JSON Schema form for providers that accept one.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, typ := range s.Properties {
		props[name] = map[string]string{"type": typ}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   s.Required,
	}
}

// Validate checks that raw is an object with every required field of the right type.
func (s Schema) Validate(raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("%w: not a JSON object: %v", common.ErrModelResponse, err)
	}

	for _, field := range s.Required {
		value, ok := obj[field]
		if !ok {
			return fmt.Errorf("%w: missing field %q", common.ErrModelResponse, field)
		}
		if !hasJSONType(value, s.Properties[field]) {
			return fmt.Errorf("%w: field %q is not a %s", common.ErrModelResponse, field, s.Properties[field])
		}
	}
	return nil
}

func hasJSONType(value json.RawMessage, typ string) bool {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return false
	}
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	default:
		return true
	}
}

// Config holds provider configuration.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}
