package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"requesthub/internal/model"
	"requesthub/internal/repository"
	"requesthub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(address string) bool {
	return emailPattern.MatchString(address)
}

// SingleRequest is the payload of a single data request submission.
type SingleRequest struct {
	CompanyID           string   `json:"company_id" binding:"required"`
	DataType            string   `json:"data_type" binding:"required"`
	ReportingPeriods    []string `json:"reporting_periods" binding:"required,min=1"`
	Contacts            []string `json:"contacts,omitempty"`
	Message             string   `json:"message,omitempty"`
	NotifyMeImmediately bool     `json:"notify_me_immediately"`
}

// BulkRequest asks for the cross product of companies, frameworks and periods.
type BulkRequest struct {
	CompanyIDs          []string `json:"company_ids" binding:"required,min=1"`
	DataTypes           []string `json:"data_types" binding:"required,min=1"`
	ReportingPeriods    []string `json:"reporting_periods" binding:"required,min=1"`
	NotifyMeImmediately bool     `json:"notify_me_immediately"`
}

// BulkRequestOutcome reports, per requested triple, whether a new request was
// stored or an existing live one was reused.
type BulkRequestOutcome struct {
	CompanyID       string `json:"company_id"`
	DataType        string `json:"data_type"`
	ReportingPeriod string `json:"reporting_period"`
	RequestID       string `json:"request_id"`
	AlreadyExisted  bool   `json:"already_existed"`
}

// RequestService handles request intake and read access. Lifecycle mutations
// live in LifecycleService.
type RequestService interface {
	CreateRequests(ctx context.Context, rctx model.RequestContext, req SingleRequest, correlationID string) ([]*StoredRequest, error)
	CreateBulkRequests(ctx context.Context, rctx model.RequestContext, req BulkRequest, correlationID string) ([]BulkRequestOutcome, error)
	CreateRequestsForPortfolio(ctx context.Context, userID uuid.UUID, companyIDs, dataTypes, reportingPeriods []string, notify bool, correlationID string) error
	GetOwnRequests(ctx context.Context, rctx model.RequestContext) ([]*StoredRequest, error)
	SearchRequests(ctx context.Context, rctx model.RequestContext, filter repository.RequestFilter) ([]*StoredRequest, error)
}

type requestService struct {
	tx        repository.TransactionManager
	requests  repository.RequestRepository
	audit     repository.AuditRepository
	lifecycle LifecycleService
	company   CompanyClient
	log       *logrus.Logger
}

func NewRequestService(
	tx repository.TransactionManager,
	requests repository.RequestRepository,
	audit repository.AuditRepository,
	lifecycle LifecycleService,
	company CompanyClient,
	log *logrus.Logger,
) RequestService {
	return &requestService{
		tx:        tx,
		requests:  requests,
		audit:     audit,
		lifecycle: lifecycle,
		company:   company,
		log:       log,
	}
}

// CreateRequests stores one request per reporting period. When a live request
// for the same tuple already exists it is reused and the patchable parts of
// the submission (message, notify flag) are merged into it.
func (s *requestService) CreateRequests(
	ctx context.Context, rctx model.RequestContext, req SingleRequest, correlationID string,
) ([]*StoredRequest, error) {
	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		return nil, apperror.NewInvalidInput("Invalid company id.", fmt.Sprintf("%q is not a valid company id", req.CompanyID))
	}
	if err := validateContacts(req.Contacts, req.Message); err != nil {
		return nil, err
	}
	if _, err := s.company.GetCompanyName(ctx, req.CompanyID); err != nil {
		return nil, apperror.NewInvalidInput("Unknown company.", fmt.Sprintf("company %s could not be resolved", req.CompanyID))
	}

	stored := make([]*StoredRequest, 0, len(req.ReportingPeriods))
	for _, period := range req.ReportingPeriods {
		result, err := s.createOrMerge(ctx, rctx, companyID, req.DataType, period, req, correlationID)
		if err != nil {
			return nil, err
		}
		stored = append(stored, result)
	}
	return stored, nil
}

func (s *requestService) createOrMerge(
	ctx context.Context, rctx model.RequestContext, companyID uuid.UUID,
	dataType, period string, req SingleRequest, correlationID string,
) (*StoredRequest, error) {
	var requestID uuid.UUID

	findOrCreate := func(txCtx context.Context) error {
		existing, err := s.requests.FindLive(txCtx, rctx.UserID, companyID, dataType, period)
		if err != nil {
			return fmt.Errorf("failed to check for existing request: %w", err)
		}
		if existing != nil {
			requestID = existing.ID
			return nil
		}

		request := &model.DataRequest{
			UserID:              rctx.UserID,
			CompanyID:           companyID,
			DataType:            dataType,
			ReportingPeriod:     period,
			RequestStatus:       model.RequestStatusOpen,
			AccessStatus:        initialAccessStatus(dataType),
			RequestPriority:     model.PriorityLow,
			NotifyMeImmediately: req.NotifyMeImmediately,
			LastModifiedDate:    time.Now(),
		}
		if err := s.requests.Create(txCtx, request); err != nil {
			return fmt.Errorf("failed to create data request: %w", err)
		}
		requestID = request.ID

		entry := &model.StatusHistoryEntry{
			DataRequestID: request.ID,
			RequestStatus: request.RequestStatus,
			AccessStatus:  request.AccessStatus,
			CreatedAt:     time.Now(),
		}
		if err := s.requests.AppendStatusHistory(txCtx, entry); err != nil {
			return fmt.Errorf("failed to append status history: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"company_id":       companyID,
			"data_type":        dataType,
			"reporting_period": period,
		})
		userID := rctx.UserID
		if err := s.audit.Log(txCtx, &model.AuditLog{
			UserID:   &userID,
			Action:   model.ActionCreateRequest,
			EntityID: request.ID.String(),
			Details:  string(details),
		}); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	}

	err := s.tx.RunInTx(ctx, findOrCreate)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a duplicate-submission race against the partial unique index;
		// the retry finds the winner's row and merges into it.
		err = s.tx.RunInTx(ctx, findOrCreate)
	}
	if err != nil {
		return nil, err
	}

	// Messages and notify-flag changes go through the engine so history and
	// emails behave identically for fresh and merged requests.
	patch := RequestPatch{Contacts: req.Contacts, Message: req.Message}
	if req.NotifyMeImmediately {
		notify := true
		patch.NotifyMeImmediately = &notify
	}
	return s.lifecycle.PatchRequest(ctx, rctx, requestID, patch, correlationID, nil)
}

// CreateBulkRequests is restricted to interactively authenticated users: the
// bulk surface is meant for the portal UI, not for machine clients.
func (s *requestService) CreateBulkRequests(
	ctx context.Context, rctx model.RequestContext, req BulkRequest, correlationID string,
) ([]BulkRequestOutcome, error) {
	if rctx.AuthMethod != model.AuthMethodJwt {
		return nil, apperror.NewAuthMethodMismatch("bulk data request")
	}
	return s.createBulk(ctx, rctx, req.CompanyIDs, req.DataTypes, req.ReportingPeriods, req.NotifyMeImmediately, correlationID)
}

// CreateRequestsForPortfolio mirrors the bulk path for the portfolio-update
// queue listener, which acts on behalf of the portfolio owner.
func (s *requestService) CreateRequestsForPortfolio(
	ctx context.Context, userID uuid.UUID, companyIDs, dataTypes, reportingPeriods []string,
	notify bool, correlationID string,
) error {
	rctx := model.RequestContext{UserID: userID, AuthMethod: model.AuthMethodClient}
	_, err := s.createBulk(ctx, rctx, companyIDs, dataTypes, reportingPeriods, notify, correlationID)
	return err
}

func (s *requestService) createBulk(
	ctx context.Context, rctx model.RequestContext, companyIDs, dataTypes, reportingPeriods []string,
	notify bool, correlationID string,
) ([]BulkRequestOutcome, error) {
	outcomes := make([]BulkRequestOutcome, 0, len(companyIDs)*len(dataTypes)*len(reportingPeriods))

	for _, rawCompanyID := range companyIDs {
		companyID, err := uuid.Parse(rawCompanyID)
		if err != nil {
			return nil, apperror.NewInvalidInput("Invalid company id.", fmt.Sprintf("%q is not a valid company id", rawCompanyID))
		}
		for _, dataType := range dataTypes {
			for _, period := range reportingPeriods {
				outcome, err := s.bulkOne(ctx, rctx, companyID, dataType, period, notify, correlationID)
				if err != nil {
					return nil, err
				}
				outcomes = append(outcomes, outcome)
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"userId":        rctx.UserID,
		"total":         len(outcomes),
		"correlationId": correlationID,
	}).Info("processed bulk data request")
	return outcomes, nil
}

func (s *requestService) bulkOne(
	ctx context.Context, rctx model.RequestContext, companyID uuid.UUID,
	dataType, period string, notify bool, correlationID string,
) (BulkRequestOutcome, error) {
	req := SingleRequest{NotifyMeImmediately: notify}
	outcome := BulkRequestOutcome{
		CompanyID:       companyID.String(),
		DataType:        dataType,
		ReportingPeriod: period,
	}

	existing, err := s.requests.FindLive(ctx, rctx.UserID, companyID, dataType, period)
	if err != nil {
		return outcome, fmt.Errorf("failed to check for existing request: %w", err)
	}
	outcome.AlreadyExisted = existing != nil

	stored, err := s.createOrMerge(ctx, rctx, companyID, dataType, period, req, correlationID)
	if err != nil {
		return outcome, err
	}
	outcome.RequestID = stored.ID
	return outcome, nil
}

func (s *requestService) GetOwnRequests(ctx context.Context, rctx model.RequestContext) ([]*StoredRequest, error) {
	requests, err := s.requests.ListByUser(ctx, rctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return s.projectAll(ctx, requests)
}

// SearchRequests is the admin query surface. Non-admins are always scoped to
// their own requests no matter what filter they send.
func (s *requestService) SearchRequests(
	ctx context.Context, rctx model.RequestContext, filter repository.RequestFilter,
) ([]*StoredRequest, error) {
	if !rctx.IsAdmin() {
		userID := rctx.UserID
		filter.UserID = &userID
	}
	requests, err := s.requests.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search requests: %w", err)
	}
	return s.projectAll(ctx, requests)
}

func (s *requestService) projectAll(ctx context.Context, requests []model.DataRequest) ([]*StoredRequest, error) {
	stored := make([]*StoredRequest, 0, len(requests))
	for i := range requests {
		projected, err := s.lifecycle.GetRequest(ctx, requests[i].ID)
		if err != nil {
			return nil, err
		}
		stored = append(stored, projected)
	}
	return stored, nil
}

func initialAccessStatus(dataType string) model.AccessStatus {
	if model.IsAccessGated(dataType) {
		return model.AccessStatusPending
	}
	return model.AccessStatusGranted
}

func validateContacts(contacts []string, message string) error {
	if len(contacts) == 0 {
		if message != "" {
			return apperror.NewInvalidInput(
				"Message without contacts.",
				"A message can only be submitted together with at least one contact address.",
			)
		}
		return nil
	}
	for _, contact := range contacts {
		if !validEmail(contact) {
			return apperror.NewInvalidInput(
				"Invalid contact address.",
				fmt.Sprintf("%q is not a valid email address", contact),
			)
		}
	}
	return nil
}
