package service

import (
	"context"
	"encoding/json"
	"time"

	"requesthub/internal/model"
	"requesthub/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const reasonStaleClosed = "This data request was automatically closed because it stayed answered without review."

// StaleRequestSweeper closes answered requests that nobody reviewed within the
// configured number of days. Closing goes through the lifecycle engine so
// history, events and emails follow the normal rules.
type StaleRequestSweeper struct {
	requests      repository.RequestRepository
	lifecycle     LifecycleService
	emails        EmailDispatcher
	audit         repository.AuditRepository
	staleAfter    time.Duration
	sweepInterval time.Duration
	log           *logrus.Logger
}

func NewStaleRequestSweeper(
	requests repository.RequestRepository,
	lifecycle LifecycleService,
	emails EmailDispatcher,
	audit repository.AuditRepository,
	staleDays int,
	sweepInterval time.Duration,
	log *logrus.Logger,
) *StaleRequestSweeper {
	return &StaleRequestSweeper{
		requests:      requests,
		lifecycle:     lifecycle,
		emails:        emails,
		audit:         audit,
		staleAfter:    time.Duration(staleDays) * 24 * time.Hour,
		sweepInterval: sweepInterval,
		log:           log,
	}
}

// Run blocks until the context is cancelled. One sweep fires immediately on
// startup so a long-stopped instance catches up without waiting a full cycle.
func (s *StaleRequestSweeper) Run(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"staleAfter": s.staleAfter,
		"interval":   s.sweepInterval,
	}).Info("stale request sweeper started")

	if err := s.Sweep(ctx); err != nil {
		s.log.WithError(err).Error("initial sweep failed")
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stale request sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.WithError(err).Error("sweep failed")
			}
		}
	}
}

// Sweep closes every answered request whose last modification is older than
// the staleness threshold. Each request is patched independently; one failure
// does not block the rest.
func (s *StaleRequestSweeper) Sweep(ctx context.Context) error {
	threshold := time.Now().Add(-s.staleAfter)
	stale, err := s.requests.FindStaleAnswered(ctx, threshold)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	s.log.WithField("count", len(stale)).Info("closing stale answered requests")

	correlationID := uuid.NewString()
	closed := model.RequestStatusClosed
	for i := range stale {
		request := &stale[i]
		_, err := s.lifecycle.PatchRequest(ctx, SystemContext(), request.ID, RequestPatch{
			RequestStatus:             &closed,
			RequestStatusChangeReason: reasonStaleClosed,
		}, correlationID, nil)
		if err != nil {
			s.log.WithError(err).WithField("requestId", request.ID).Error("failed to close stale request")
			continue
		}

		// Stale closures have no human actor; the dedicated action keeps them
		// distinguishable from admin-driven status patches in the audit trail.
		details, _ := json.Marshal(map[string]interface{}{
			"stale_after":        s.staleAfter.String(),
			"last_modified_date": request.LastModifiedDate,
		})
		if err := s.audit.Log(ctx, &model.AuditLog{
			Action:   model.ActionCloseStaleRequest,
			EntityID: request.ID.String(),
			Details:  string(details),
		}); err != nil {
			s.log.WithError(err).WithField("requestId", request.ID).Error("failed to write audit log")
		}

		email := TemplateEmail{
			Kind:            TemplateRequestClosed,
			RecipientUserID: request.UserID.String(),
			Properties: map[string]string{
				"company_id":       request.CompanyID.String(),
				"data_type":        request.DataType,
				"reporting_period": request.ReportingPeriod,
				"closed_after":     s.staleAfter.String(),
			},
			CorrelationID: correlationID,
		}
		if err := s.emails.Send(ctx, email); err != nil {
			s.log.WithError(err).WithField("requestId", request.ID).Error("failed to send stale-closure email")
		}
	}
	return nil
}
