package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"requesthub/internal/model"
	"requesthub/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationService turns unprocessed notification events into batched
// summary emails. It runs on an interval so users who opted out of immediate
// emails get at most one digest per cycle.
type NotificationService interface {
	SendDigests(ctx context.Context) error
	ListOwnEvents(ctx context.Context, rctx model.RequestContext) ([]model.NotificationEvent, error)
	Run(ctx context.Context, interval time.Duration)
}

type notificationService struct {
	tx      repository.TransactionManager
	events  repository.NotificationEventRepository
	company CompanyClient
	emails  EmailDispatcher
	log     *logrus.Logger
}

func NewNotificationService(
	tx repository.TransactionManager,
	events repository.NotificationEventRepository,
	company CompanyClient,
	emails EmailDispatcher,
	log *logrus.Logger,
) NotificationService {
	return &notificationService{
		tx:      tx,
		events:  events,
		company: company,
		emails:  emails,
		log:     log,
	}
}

// Run blocks until the context is cancelled, sending digests on every tick.
func (s *notificationService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithField("interval", interval).Info("notification digest loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("notification digest loop stopped")
			return
		case <-ticker.C:
			if err := s.SendDigests(ctx); err != nil {
				s.log.WithError(err).Error("digest run failed")
			}
		}
	}
}

// SendDigests groups unprocessed events into one summary email per user and
// one investor-relations email per company, then marks everything processed in
// a single transaction.
func (s *notificationService) SendDigests(ctx context.Context) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		pending, err := s.events.FindUnprocessed(txCtx)
		if err != nil {
			return fmt.Errorf("failed to load unprocessed events: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		userEvents := make(map[uuid.UUID][]model.NotificationEvent)
		companyEvents := make(map[uuid.UUID][]model.NotificationEvent)
		processed := make([]uuid.UUID, 0, len(pending))

		for _, event := range pending {
			processed = append(processed, event.ID)
			if event.EventType == model.EventInvestorRelations {
				companyEvents[event.CompanyID] = append(companyEvents[event.CompanyID], event)
				continue
			}
			if event.UserID == nil {
				s.log.WithField("eventId", event.ID).Warn("user event without user id, skipping")
				continue
			}
			userEvents[*event.UserID] = append(userEvents[*event.UserID], event)
		}

		correlationID := uuid.NewString()
		for userID, events := range userEvents {
			s.sendUserSummary(txCtx, userID, events, correlationID)
		}
		for companyID, events := range companyEvents {
			s.sendInvestorRelationsEmail(txCtx, companyID, events, correlationID)
		}

		if err := s.events.MarkProcessed(txCtx, processed); err != nil {
			return fmt.Errorf("failed to mark events processed: %w", err)
		}
		s.log.WithFields(logrus.Fields{
			"events":    len(pending),
			"users":     len(userEvents),
			"companies": len(companyEvents),
		}).Info("digest cycle completed")
		return nil
	})
}

func (s *notificationService) sendUserSummary(
	ctx context.Context, userID uuid.UUID, events []model.NotificationEvent, correlationID string,
) {
	frameworks := make(map[string]bool)
	for _, event := range events {
		frameworks[event.Framework] = true
	}
	names := make([]string, 0, len(frameworks))
	for framework := range frameworks {
		names = append(names, framework)
	}

	email := TemplateEmail{
		Kind:            TemplateRequestSummary,
		RecipientUserID: userID.String(),
		Properties: map[string]string{
			"update_count": strconv.Itoa(len(events)),
			"frameworks":   strings.Join(names, ", "),
		},
		CorrelationID: correlationID,
	}
	if err := s.emails.Send(ctx, email); err != nil {
		s.log.WithError(err).WithField("userId", userID).Error("failed to send summary email")
	}
}

// sendInvestorRelationsEmail notifies the company's maintained contact list.
// Companies without contacts are logged and skipped; the events are still
// marked processed so they do not pile up across cycles.
func (s *notificationService) sendInvestorRelationsEmail(
	ctx context.Context, companyID uuid.UUID, events []model.NotificationEvent, correlationID string,
) {
	contacts, err := s.company.GetContactEmails(ctx, companyID.String())
	if err != nil {
		s.log.WithError(err).WithField("companyId", companyID).Error("failed to resolve company contacts")
		return
	}
	if len(contacts) == 0 {
		s.log.WithField("companyId", companyID).Info("company has no investor-relations contacts, skipping email")
		return
	}

	companyName, err := s.company.GetCompanyName(ctx, companyID.String())
	if err != nil {
		companyName = companyID.String()
	}
	frameworks := make([]string, 0, len(events))
	for _, event := range events {
		frameworks = append(frameworks, fmt.Sprintf("%s (%s)", event.Framework, event.ReportingPeriod))
	}

	email := TemplateEmail{
		Kind:            TemplateInvestorRelation,
		RecipientEmails: contacts,
		Properties: map[string]string{
			"company_id":   companyID.String(),
			"company_name": companyName,
			"datasets":     strings.Join(frameworks, ", "),
		},
		CorrelationID: correlationID,
	}
	if err := s.emails.Send(ctx, email); err != nil {
		s.log.WithError(err).WithField("companyId", companyID).Error("failed to send investor-relations email")
	}
}

func (s *notificationService) ListOwnEvents(ctx context.Context, rctx model.RequestContext) ([]model.NotificationEvent, error) {
	events, err := s.events.ListByUser(ctx, rctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification events: %w", err)
	}
	return events, nil
}
