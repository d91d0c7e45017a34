// Package gmail answers the mailbox-history questions the rule engine asks, using the
// Gmail API.
package gmail

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

// Client implements service.MailboxClient for one authorized Gmail account.
type Client struct {
	service *gmailapi.Service
	logger  *slog.Logger
	userID  string
}

// NewClient authorizes with the cached token (or the interactive flow) and builds a client.
func NewClient(ctx context.Context, config OAuth2Config) (*Client, error) {
	tokenSource, err := TokenSource(ctx, config)
	if err != nil {
		return nil, err
	}
	return NewClientWithOptions(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
}

// NewClientWithOptions builds a client from raw API options.
func NewClientWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %w", err)
	}
	return &Client{
		service: srv,
		userID:  "me",
		logger:  slog.Default().With("component", "gmail"),
	}, nil
}

// ReplyHistory counts messages received from sender, up to threshold, and checks the
// sent folder for any message to them. Both lookups run concurrently.
func (c *Client) ReplyHistory(ctx context.Context, sender string, threshold int) (service.ReplyHistory, error) {
	var history service.ReplyHistory
	if threshold <= 0 {
		threshold = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := c.service.Users.Messages.List(c.userID).
			Q("from:" + sender).
			MaxResults(int64(threshold)).
			Context(gctx).
			Do()
		if err != nil {
			return fmt.Errorf("%w: listing messages from %s: %w", common.ErrMailboxUnavailable, sender, err)
		}
		history.ReceivedCount = min(len(resp.Messages), threshold)
		return nil
	})
	g.Go(func() error {
		resp, err := c.service.Users.Messages.List(c.userID).
			Q("in:sent to:" + sender).
			MaxResults(1).
			Context(gctx).
			Do()
		if err != nil {
			return fmt.Errorf("%w: listing messages sent to %s: %w", common.ErrMailboxUnavailable, sender, err)
		}
		history.HasReplied = len(resp.Messages) > 0
		return nil
	})

	if err := g.Wait(); err != nil {
		return service.ReplyHistory{}, err
	}

	c.logger.Debug("Loaded reply history",
		"sender", sender,
		"received", history.ReceivedCount,
		"has_replied", history.HasReplied)
	return history, nil
}
