// Package queue carries inbound messages and sender-analysis jobs over RabbitMQ, with
// Redis used to deduplicate jobs and count redeliveries.
package queue

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange all mailflow events are published to.
	ExchangeName = "mailflow.events"
	// DLQExchangeName receives deliveries that exhausted their retries.
	DLQExchangeName = "mailflow.events.dlq"

	RoutingMessageReceived = "message.received"
	RoutingSenderAnalyze   = "sender.analyze"
)

// NewConnection dials the broker.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareExchanges(ch *amqp091.Channel) error {
	for _, name := range []string{ExchangeName, DLQExchangeName} {
		if err := ch.ExchangeDeclare(
			name,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

func declareBoundQueue(ch *amqp091.Channel, queueName, routingKey, exchange string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}
	return q, nil
}
