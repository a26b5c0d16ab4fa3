package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"requesthub/internal/service"
	"requesthub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Expected type headers per queue. A mismatching header means the message was
// routed to the wrong queue and is dead-lettered without retry.
const (
	typeQaStatusUpdated  = "qa-status-updated"
	typePrivateData      = "private-data-received"
	typeNonSourceable    = "data-nonsourceable"
	typePortfolioUpdated = "portfolio-updated"

	verdictAccepted = "Accepted"
)

// QaStatusPayload is emitted by the QA service for every review verdict.
type QaStatusPayload struct {
	DataID           string `json:"data_id"`
	ValidationResult string `json:"validation_result"`
}

// PrivateDataPayload announces a stored private dataset. Private uploads skip
// QA entirely.
type PrivateDataPayload struct {
	DataID string `json:"data_id"`
}

// PortfolioPayload announces an updated portfolio with monitoring enabled.
type PortfolioPayload struct {
	UserID              string   `json:"user_id"`
	CompanyIDs          []string `json:"company_ids"`
	DataTypes           []string `json:"data_types"`
	ReportingPeriods    []string `json:"reporting_periods"`
	NotifyMeImmediately bool     `json:"notify_me_immediately"`
}

// Listeners bind the queue consumers to the services acting on them.
type Listeners struct {
	client    *Client
	lifecycle service.LifecycleService
	requests  service.RequestService
	log       *logrus.Logger
}

func NewListeners(
	client *Client,
	lifecycle service.LifecycleService,
	requests service.RequestService,
	log *logrus.Logger,
) *Listeners {
	return &Listeners{client: client, lifecycle: lifecycle, requests: requests, log: log}
}

// Start launches one consumer goroutine per queue and returns immediately.
func (l *Listeners) Start(ctx context.Context) {
	consumers := map[string]Handler{
		QueueQaStatusUpdated:  l.HandleQaStatusUpdated,
		QueuePrivateData:      l.HandlePrivateDataReceived,
		QueueNonSourceable:    l.HandleDataNonSourceable,
		QueuePortfolioUpdated: l.HandlePortfolioUpdated,
	}
	for queue, handler := range consumers {
		go func(queue string, handler Handler) {
			if err := l.client.Consume(ctx, queue, handler); err != nil {
				l.log.WithError(err).WithField("queue", queue).Error("consumer terminated")
			}
		}(queue, handler)
	}
}

// HandleQaStatusUpdated reacts to QA verdicts. Only accepted datasets touch
// requests; every other verdict is acknowledged without action.
func (l *Listeners) HandleQaStatusUpdated(ctx context.Context, delivery amqp091.Delivery) error {
	if err := checkType(delivery, typeQaStatusUpdated); err != nil {
		return err
	}
	var payload QaStatusPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return apperror.NewInvalidInput("Malformed QA event.", err.Error())
	}
	if payload.DataID == "" {
		return apperror.NewInvalidInput("Malformed QA event.", "data_id must not be empty")
	}

	if payload.ValidationResult != verdictAccepted {
		l.log.WithFields(logrus.Fields{
			"dataId":  payload.DataID,
			"verdict": payload.ValidationResult,
		}).Debug("ignoring non-accepted QA verdict")
		return nil
	}
	return l.lifecycle.ProcessUserRequests(ctx, payload.DataID, correlationID(delivery))
}

// HandlePrivateDataReceived treats a stored private dataset like an accepted
// public one.
func (l *Listeners) HandlePrivateDataReceived(ctx context.Context, delivery amqp091.Delivery) error {
	if err := checkType(delivery, typePrivateData); err != nil {
		return err
	}
	var payload PrivateDataPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return apperror.NewInvalidInput("Malformed private-data event.", err.Error())
	}
	if payload.DataID == "" {
		return apperror.NewInvalidInput("Malformed private-data event.", "data_id must not be empty")
	}
	return l.lifecycle.ProcessUserRequests(ctx, payload.DataID, correlationID(delivery))
}

// HandleDataNonSourceable marks all matching requests non-sourceable.
func (l *Listeners) HandleDataNonSourceable(ctx context.Context, delivery amqp091.Delivery) error {
	if err := checkType(delivery, typeNonSourceable); err != nil {
		return err
	}
	var info service.SourceabilityInfo
	if err := json.Unmarshal(delivery.Body, &info); err != nil {
		return apperror.NewInvalidInput("Malformed sourceability event.", err.Error())
	}
	if info.CompanyID == "" || info.DataType == "" || info.ReportingPeriod == "" {
		return apperror.NewInvalidInput(
			"Malformed sourceability event.",
			"company_id, data_type and reporting_period must not be empty",
		)
	}
	return l.lifecycle.PatchAllRequestsToNonSourceable(ctx, info, correlationID(delivery))
}

// HandlePortfolioUpdated creates requests for every company/framework/period
// combination of a monitored portfolio, on behalf of the portfolio owner.
func (l *Listeners) HandlePortfolioUpdated(ctx context.Context, delivery amqp091.Delivery) error {
	if err := checkType(delivery, typePortfolioUpdated); err != nil {
		return err
	}
	var payload PortfolioPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return apperror.NewInvalidInput("Malformed portfolio event.", err.Error())
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return apperror.NewInvalidInput("Malformed portfolio event.", fmt.Sprintf("%q is not a valid user id", payload.UserID))
	}
	if len(payload.CompanyIDs) == 0 || len(payload.DataTypes) == 0 || len(payload.ReportingPeriods) == 0 {
		return apperror.NewInvalidInput(
			"Malformed portfolio event.",
			"company_ids, data_types and reporting_periods must not be empty",
		)
	}
	return l.requests.CreateRequestsForPortfolio(
		ctx, userID, payload.CompanyIDs, payload.DataTypes, payload.ReportingPeriods,
		payload.NotifyMeImmediately, correlationID(delivery),
	)
}

func checkType(delivery amqp091.Delivery, expected string) error {
	raw, ok := delivery.Headers["type"]
	if !ok {
		return apperror.NewInvalidInput("Missing message type.", "expected type header "+expected)
	}
	actual := fmt.Sprintf("%v", raw)
	if actual != expected {
		return apperror.NewInvalidInput(
			"Unexpected message type.",
			fmt.Sprintf("got %q, expected %q", actual, expected),
		)
	}
	return nil
}

func correlationID(delivery amqp091.Delivery) string {
	if delivery.CorrelationId != "" {
		return delivery.CorrelationId
	}
	return uuid.NewString()
}
