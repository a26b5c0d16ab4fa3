package messaging

import (
	"context"
	"errors"
	"fmt"

	"requesthub/pkg/apperror"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Queue names shared with the surrounding services.
const (
	QueueQaStatusUpdated  = "qa.status-updated"
	QueuePrivateData      = "private.data-received"
	QueueNonSourceable    = "backend.data-nonsourceable"
	QueuePortfolioUpdated = "user.portfolio-updated"
	QueueEmailSend        = "email.send"

	deadLetterExchange = "dead-letters"
)

// Client wraps one AMQP connection with a channel per declared concern.
type Client struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     *logrus.Logger
}

func Dial(url string, log *logrus.Logger) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	log.Info("RabbitMQ connection established")
	return &Client{conn: conn, channel: channel, log: log}, nil
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// declareQueue declares a durable queue with dead-lettering (idempotent).
func (c *Client) declareQueue(name string) error {
	_, err := c.channel.QueueDeclare(
		name,  // queue name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp091.Table{"x-dead-letter-exchange": deadLetterExchange},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// Handler processes one delivery. A returned error decides the nack strategy:
// validation errors are dead-lettered immediately, everything else gets one
// redelivery before dead-lettering.
type Handler func(ctx context.Context, delivery amqp091.Delivery) error

// Consume blocks on the named queue until the context is cancelled. Each
// consumer runs on its own channel so one slow queue cannot starve another.
func (c *Client) Consume(ctx context.Context, queue string, handle Handler) error {
	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer channel.Close()

	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := channel.QueueDeclare(
		queue, true, false, false, false,
		amqp091.Table{"x-dead-letter-exchange": deadLetterExchange},
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	deliveries, err := channel.Consume(
		queue, // queue
		"",    // consumer tag (auto-generated)
		false, // auto-ack (we ack manually)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}
	c.log.WithField("queue", queue).Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.WithField("queue", queue).Info("consumer stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			c.processDelivery(ctx, queue, delivery, handle)
		}
	}
}

func (c *Client) processDelivery(ctx context.Context, queue string, delivery amqp091.Delivery, handle Handler) {
	err := handle(ctx, delivery)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.log.WithError(ackErr).WithField("queue", queue).Error("failed to ack message")
		}
		return
	}

	// Malformed messages never become processable; dead-letter them right
	// away. Everything else gets exactly one redelivery.
	requeue := !delivery.Redelivered && !isRejectable(err)
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.log.WithError(nackErr).WithField("queue", queue).Error("failed to nack message")
	}
	c.log.WithError(err).WithFields(logrus.Fields{
		"queue":    queue,
		"requeued": requeue,
	}).Error("message processing failed")
}

func isRejectable(err error) bool {
	var invalidInput *apperror.InvalidInputError
	var notFound *apperror.NotFoundError
	return errors.As(err, &invalidInput) || errors.As(err, &notFound)
}
