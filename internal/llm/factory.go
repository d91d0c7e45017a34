package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/metrics"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// NewClient creates a raw provider client based on the provided configuration.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
}

// reliableClient adds rate limiting, retries and latency metrics to a provider client.
type reliableClient struct {
	client    Client
	limiter   *rateLimiter
	provider  string
	retryOpts service.RetryOptions
}

func (c *reliableClient) CompleteObject(ctx context.Context, req ObjectRequest) (json.RawMessage, error) {
	var result json.RawMessage
	err := common.WithRetry(ctx, func() error {
		if err := c.limiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}

		start := time.Now()
		raw, err := c.client.CompleteObject(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordLLMRequest(c.provider, status, time.Since(start))

		if err != nil {
			return err
		}
		result = raw
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClientResolver hands out the client to use for a user: the configured default, or one
// built from the user's own provider settings. All clients share one rate limiter.
type ClientResolver struct {
	base      Client
	limiter   *rateLimiter
	cfg       Config
	retryOpts service.RetryOptions
}

// NewClientResolver builds the default client from cfg. A resolver without a usable default
// still serves users who bring their own key; for everyone else it reports ErrMissingConfig.
func NewClientResolver(cfg Config) *ClientResolver {
	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	r := &ClientResolver{
		cfg:       cfg,
		limiter:   newRateLimiter(cfg.RateLimit),
		retryOpts: retryOpts,
	}
	if client, err := NewClient(cfg); err == nil {
		r.base = r.wrap(client, cfg.Provider)
	}
	return r
}

// NewStaticResolver always resolves to client. It is used for tests and offline runs.
func NewStaticResolver(client Client) *ClientResolver {
	return &ClientResolver{base: client}
}

// ForUser returns the client for the user.
func (r *ClientResolver) ForUser(user model.User) (Client, error) {
	if user.HasAIOverride() && r.limiter != nil {
		cfg := r.cfg
		cfg.Provider = user.AIProvider
		cfg.APIKey = user.AIAPIKey
		cfg.Model = user.AIModel
		cfg.BaseURL = ""
		client, err := NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for user %s: %w", user.ID, err)
		}
		return r.wrap(client, cfg.Provider), nil
	}

	if r.base == nil {
		return nil, fmt.Errorf("%w: no API key configured for LLM provider %q", common.ErrMissingConfig, r.cfg.Provider)
	}
	return r.base, nil
}

// Close releases the shared rate limiter.
func (r *ClientResolver) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *ClientResolver) wrap(client Client, provider string) Client {
	return &reliableClient{
		client:    client,
		limiter:   r.limiter,
		provider:  strings.ToLower(provider),
		retryOpts: r.retryOpts,
	}
}
