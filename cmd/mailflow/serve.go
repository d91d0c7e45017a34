package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/the-mail-must-flow/internal/config"
	"github.com/Veraticus/the-mail-must-flow/internal/httpapi"
	"github.com/Veraticus/the-mail-must-flow/internal/queue"
	"github.com/Veraticus/the-mail-must-flow/internal/service"
)

const (
	queueMaxRetries = 3
	retryCounterTTL = time.Hour
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP webhook and consume the inbound message queue",
		Long: `Start the HTTP server and, when amqp.url is set, a consumer for message.received
events. Senders matched only through the model are published as sender.analyze
jobs, deduplicated through Redis when redis.addr is set.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "HTTP listen address (default: http.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = queue.NewRedisClient(cfg.Redis.RedisConfig)
		defer func() { _ = rdb.Close() }()
	}

	var (
		publisher *queue.Publisher
		scheduler service.SenderPatternScheduler
	)
	if cfg.AMQP.URL != "" {
		publisher, err = queue.NewPublisher(cfg.AMQP.URL)
		if err != nil {
			return fmt.Errorf("failed to connect publisher: %w", err)
		}
		defer publisher.Close()

		var guard queue.OnceGuard
		if rdb != nil {
			guard = queue.NewDeduper(rdb, cfg.Redis.DedupTTL)
		}
		scheduler = queue.NewSenderScheduler(publisher, guard)
	}

	a, err := newApp(ctx, cfg, appOptions{mailbox: true, scheduler: scheduler})
	if err != nil {
		return err
	}
	defer a.Close()

	health := map[string]httpapi.HealthChecker{"database": a.store.Ping}
	if rdb != nil {
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if publisher != nil {
		health["amqp"] = func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("amqp publisher disconnected")
			}
			return nil
		}
	}

	server := httpapi.New(a.processor, a.store, httpapi.ServerOptions{
		Addr:   cfg.HTTP.Addr,
		APIKey: cfg.HTTP.APIKey,
		Health: health,
	})

	var consumer *queue.Consumer
	if cfg.AMQP.URL != "" {
		consumer, err = newConsumer(cfg, publisher, rdb)
		if err != nil {
			return err
		}
		defer consumer.Close()
		consumer.SetHandler(a.processor.HandleQueueMessage)
	} else {
		slog.Info("amqp.url not set, queue consumer disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Consume(ctx) })
	}

	return g.Wait()
}

func newConsumer(cfg *config.Config, publisher *queue.Publisher, rdb *redis.Client) (*queue.Consumer, error) {
	opts := queue.ConsumerOptions{
		DLQ:        publisher,
		Prefetch:   cfg.Engine.Workers,
		MaxRetries: queueMaxRetries,
	}
	if rdb != nil {
		opts.Retries = queue.NewRetryCounter(rdb, retryCounterTTL)
	}

	consumer, err := queue.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, queue.RoutingMessageReceived, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}
	return consumer, nil
}
