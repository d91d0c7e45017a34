package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/metrics"
)

// MessageHandler processes one delivery body.
type MessageHandler func(ctx context.Context, body []byte) error

// DeadLetterPublisher parks deliveries that will not be retried.
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, body []byte, cause error) error
}

// RetryTracker counts failed attempts per delivery.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// ConsumerOptions tunes a consumer. DLQ and Retries are optional.
type ConsumerOptions struct {
	DLQ        DeadLetterPublisher
	Retries    RetryTracker
	Prefetch   int
	MaxRetries int
}

// Consumer reads one queue bound to one routing key and acks each delivery after
// its handler returns.
type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	handler    MessageHandler
	logger     *slog.Logger
	opts       ConsumerOptions
	queue      string
	routingKey string
}

// NewConsumer connects, declares the queue and its dead-letter twin, and binds them.
func NewConsumer(url, queueName, routingKey string, opts ConsumerOptions) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if err := declareExchanges(ch); err != nil {
		closeAll()
		return nil, err
	}
	if _, err := declareBoundQueue(ch, queueName, routingKey, ExchangeName); err != nil {
		closeAll()
		return nil, err
	}
	if _, err := declareBoundQueue(ch, queueName+".dlq", routingKey, DLQExchangeName); err != nil {
		closeAll()
		return nil, err
	}

	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	c := newConsumer(queueName, routingKey, opts)
	c.conn = conn
	c.channel = ch

	c.logger.Info("Consumer initialized", "exchange", ExchangeName)
	return c, nil
}

func newConsumer(queueName, routingKey string, opts ConsumerOptions) *Consumer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Consumer{
		opts:       opts,
		queue:      queueName,
		routingKey: routingKey,
		logger: slog.Default().With(
			"component", "queue-consumer",
			"queue", queueName,
			"routing_key", routingKey),
	}
}

// SetHandler sets the function run for every delivery.
func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Consume blocks, handling deliveries until ctx is canceled or the channel closes.
func (c *Consumer) Consume(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("consumer handler not set")
	}

	deliveries, err := c.channel.ConsumeWithContext(ctx,
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// Close closes the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// handleDelivery guarantees every delivery is acked, requeued, or dead-lettered.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp091.Delivery) {
	start := time.Now()
	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue, time.Since(start))
	}()

	key := deliveryKey(c.routingKey, d)
	err := c.runHandler(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ack message", "error", ackErr)
		}
		if c.opts.Retries != nil {
			if resetErr := c.opts.Retries.Reset(ctx, key); resetErr != nil {
				c.logger.Debug("Failed to reset retry counter", "key", key, "error", resetErr)
			}
		}
		return
	}

	c.logger.Error("Handler error", "message_id", d.MessageId, "error", err)

	if common.IsRetryable(err) && c.shouldRetry(ctx, key, d) {
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to nack message", "error", nackErr)
		}
		return
	}

	c.deadLetter(ctx, d, err)
}

func (c *Consumer) runHandler(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered", "panic", r)
			err = common.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, body)
}

// shouldRetry consults the retry counter, or the broker's redelivered flag when no
// counter is configured.
func (c *Consumer) shouldRetry(ctx context.Context, key string, d amqp091.Delivery) bool {
	if c.opts.Retries == nil {
		return !d.Redelivered
	}
	count, err := c.opts.Retries.IncrementAndGet(ctx, key)
	if err != nil {
		c.logger.Warn("Retry counter unavailable, requeueing", "key", key, "error", err)
		return !d.Redelivered
	}
	return count <= int64(c.opts.MaxRetries)
}

func (c *Consumer) deadLetter(ctx context.Context, d amqp091.Delivery, cause error) {
	if c.opts.DLQ == nil {
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("Failed to reject message", "error", err)
		}
		return
	}

	if err := c.opts.DLQ.PublishToDLQ(ctx, c.routingKey, d.Body, cause); err != nil {
		c.logger.Error("Failed to dead-letter message, requeueing", "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to nack message", "error", nackErr)
		}
		return
	}

	c.logger.Warn("Message moved to dead-letter queue", "message_id", d.MessageId)
	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ack dead-lettered message", "error", err)
	}
}

func deliveryKey(routingKey string, d amqp091.Delivery) string {
	id := d.MessageId
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, d.Body).String()
	}
	return "retry:" + routingKey + ":" + id
}
