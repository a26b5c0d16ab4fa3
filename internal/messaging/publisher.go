package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"requesthub/internal/service"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EmailPublisher implements service.EmailDispatcher by publishing template
// emails for the downstream email service to render and deliver.
type EmailPublisher struct {
	client *Client
	log    *logrus.Logger
}

func NewEmailPublisher(client *Client, log *logrus.Logger) (*EmailPublisher, error) {
	if err := client.declareQueue(QueueEmailSend); err != nil {
		return nil, err
	}
	return &EmailPublisher{client: client, log: log}, nil
}

func (p *EmailPublisher) Send(ctx context.Context, email service.TemplateEmail) error {
	body, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	err = p.client.channel.PublishWithContext(
		ctx,
		"",             // exchange (empty for direct queue)
		QueueEmailSend, // routing key (queue name)
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			DeliveryMode:  amqp091.Persistent,
			ContentType:   "application/json",
			Headers:       amqp091.Table{"type": string(email.Kind)},
			CorrelationId: email.CorrelationID,
			Body:          body,
			Timestamp:     time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish email: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"template":      email.Kind,
		"correlationId": email.CorrelationID,
	}).Info("email queued for delivery")
	return nil
}
