package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"requesthub/internal/model"
	"requesthub/internal/repository"
	"requesthub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// --- DTOs ---

// RequestPatch is a partial update of a data request. Nil fields are left
// untouched; Contacts triggers a message-history append + contact email only
// when non-empty.
type RequestPatch struct {
	RequestStatus             *model.RequestStatus   `json:"request_status,omitempty"`
	AccessStatus              *model.AccessStatus    `json:"access_status,omitempty"`
	RequestPriority           *model.RequestPriority `json:"request_priority,omitempty"`
	AdminComment              *string                `json:"admin_comment,omitempty"`
	NotifyMeImmediately       *bool                  `json:"notify_me_immediately,omitempty"`
	Contacts                  []string               `json:"contacts,omitempty"`
	Message                   string                 `json:"message,omitempty"`
	RequestStatusChangeReason string                 `json:"request_status_change_reason,omitempty"`
}

// SourceabilityInfo describes a dataset reported as (non-)sourceable.
type SourceabilityInfo struct {
	CompanyID       string `json:"company_id"`
	DataType        string `json:"data_type"`
	ReportingPeriod string `json:"reporting_period"`
	IsNonSourceable bool   `json:"is_non_sourceable"`
	Reason          string `json:"reason"`
}

// StoredMessage is a message-history entry with contacts decoded.
type StoredMessage struct {
	Contacts         []string  `json:"contacts"`
	Message          string    `json:"message,omitempty"`
	ModificationTime time.Time `json:"modification_time"`
}

// StoredStatusChange is a status-history entry in its public form.
type StoredStatusChange struct {
	RequestStatus    model.RequestStatus `json:"request_status"`
	AccessStatus     model.AccessStatus  `json:"access_status"`
	Reason           string              `json:"reason,omitempty"`
	AnsweringDataID  *string             `json:"answering_data_id,omitempty"`
	ModificationTime time.Time           `json:"modification_time"`
}

// StoredRequest is the public projection of a data request including its
// resolved history ledgers.
type StoredRequest struct {
	ID                  string                `json:"id"`
	UserID              string                `json:"user_id"`
	CompanyID           string                `json:"company_id"`
	DataType            string                `json:"data_type"`
	ReportingPeriod     string                `json:"reporting_period"`
	RequestStatus       model.RequestStatus   `json:"request_status"`
	AccessStatus        model.AccessStatus    `json:"access_status"`
	RequestPriority     model.RequestPriority `json:"request_priority"`
	NotifyMeImmediately bool                  `json:"notify_me_immediately"`
	AdminComment        string                `json:"admin_comment,omitempty"`
	StatusHistory       []StoredStatusChange  `json:"status_history"`
	MessageHistory      []StoredMessage       `json:"message_history"`
	CreationTimestamp   time.Time             `json:"creation_timestamp"`
	LastModifiedDate    time.Time             `json:"last_modified_date"`
}

const reasonAnsweredViaParent = "This data request was answered by a data upload to the parent company."

// --- Interface ---

// LifecycleService is the engine behind every request mutation. All status
// transitions, history appends, notification events and status-change emails
// go through PatchRequest so the transition rules apply uniformly.
type LifecycleService interface {
	PatchRequest(ctx context.Context, rctx model.RequestContext, requestID uuid.UUID,
		patch RequestPatch, correlationID string, answeringDataID *string) (*StoredRequest, error)
	ProcessExternalPatch(ctx context.Context, rctx model.RequestContext, requestID uuid.UUID,
		patch RequestPatch, correlationID string) (*StoredRequest, error)
	ProcessUserRequests(ctx context.Context, dataID, correlationID string) error
	PatchAllRequestsToNonSourceable(ctx context.Context, info SourceabilityInfo, correlationID string) error
	GetRequest(ctx context.Context, requestID uuid.UUID) (*StoredRequest, error)
}

type lifecycleService struct {
	tx       repository.TransactionManager
	requests repository.RequestRepository
	events   repository.NotificationEventRepository
	audit    repository.AuditRepository
	metadata MetadataClient
	company  CompanyClient
	qa       QaClient
	emails   EmailDispatcher
	hub      interface{ GetBroadcast() chan []byte } // optional websocket hub
	log      *logrus.Logger
}

func NewLifecycleService(
	tx repository.TransactionManager,
	requests repository.RequestRepository,
	events repository.NotificationEventRepository,
	audit repository.AuditRepository,
	metadata MetadataClient,
	company CompanyClient,
	qa QaClient,
	emails EmailDispatcher,
	hub interface{ GetBroadcast() chan []byte },
	log *logrus.Logger,
) LifecycleService {
	return &lifecycleService{
		tx:       tx,
		requests: requests,
		events:   events,
		audit:    audit,
		metadata: metadata,
		company:  company,
		qa:       qa,
		emails:   emails,
		hub:      hub,
		log:      log,
	}
}

// SystemContext is the request context used by queue listeners and scheduled
// jobs acting without a human caller.
func SystemContext() model.RequestContext {
	return model.RequestContext{AuthMethod: model.AuthMethodClient}
}

// --- Implementation ---

// ProcessExternalPatch is the entry point for patches coming from the REST
// controller. Non-admin callers may only touch their own requests.
func (s *lifecycleService) ProcessExternalPatch(
	ctx context.Context, rctx model.RequestContext, requestID uuid.UUID,
	patch RequestPatch, correlationID string,
) (*StoredRequest, error) {
	if !rctx.IsAdmin() {
		if patch.RequestPriority != nil || patch.AdminComment != nil {
			return nil, apperror.NewInvalidInput(
				"Admin-only patch fields.",
				"request_priority and admin_comment can only be changed by administrators",
			)
		}
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.NewNotFound("data request", requestID.String())
			}
			return nil, fmt.Errorf("failed to load data request: %w", err)
		}
		// Hide foreign requests from non-admins
		if request.UserID != rctx.UserID {
			return nil, apperror.NewNotFound("data request", requestID.String())
		}
	}
	return s.PatchRequest(ctx, rctx, requestID, patch, correlationID, nil)
}

func (s *lifecycleService) PatchRequest(
	ctx context.Context, rctx model.RequestContext, requestID uuid.UUID,
	patch RequestPatch, correlationID string, answeringDataID *string,
) (*StoredRequest, error) {
	var result *StoredRequest
	var changedStatus *model.RequestStatus

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		request, err := s.requests.FindByID(txCtx, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NewNotFound("data request", requestID.String())
			}
			return fmt.Errorf("failed to load data request: %w", err)
		}

		// Withdrawn is terminal: the patch is a no-op and the unchanged
		// request is returned without error.
		if request.RequestStatus == model.RequestStatusWithdrawn {
			result, err = s.project(txCtx, request)
			return err
		}

		resetNotifyFlag, err := s.dispatchNotifications(txCtx, request, patch, correlationID)
		if err != nil {
			return err
		}

		anyChanges := false
		if s.applyNotifyFlag(request, patch, resetNotifyFlag) {
			anyChanges = true
		}
		statusChanged, err := s.applyStatusHistory(txCtx, rctx, request, patch, answeringDataID)
		if err != nil {
			return err
		}
		if statusChanged {
			anyChanges = true
			status := request.RequestStatus
			changedStatus = &status
		}
		messageAppended, err := s.applyMessageHistory(txCtx, rctx, request, patch, correlationID)
		if err != nil {
			return err
		}
		if messageAppended {
			anyChanges = true
		}
		adminChanged, err := s.applyPriorityAndComment(txCtx, rctx, request, patch)
		if err != nil {
			return err
		}
		if adminChanged {
			anyChanges = true
		}

		if anyChanges {
			request.LastModifiedDate = time.Now()
		}
		// Saved exactly once per call regardless of how many sub-concerns fired
		if err := s.requests.Save(txCtx, request); err != nil {
			return fmt.Errorf("failed to save data request: %w", err)
		}

		result, err = s.project(txCtx, request)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changedStatus != nil {
		s.broadcastStatusChange(result)
	}
	return result, nil
}

// dispatchNotifications applies the transition rule tables using the state
// before any mutation. It returns whether the notify flag must be reset after
// an immediate email on the Open-origin path.
func (s *lifecycleService) dispatchNotifications(
	ctx context.Context, request *model.DataRequest, patch RequestPatch, correlationID string,
) (bool, error) {
	if model.IsAccessGated(request.DataType) {
		s.sendAccessGatedEmails(ctx, request, patch, correlationID)
		return false, nil
	}
	if patch.RequestStatus == nil {
		return false, nil
	}

	switch *patch.RequestStatus {
	case model.RequestStatusAnswered:
		action := DetermineAnsweredAction(request.RequestStatus, request.NotifyMeImmediately)
		if action.SendImmediateEmail {
			s.sendEmail(ctx, TemplateEmail{
				Kind:            TemplateRequestAnswered,
				RecipientUserID: request.UserID.String(),
				Properties:      s.emailProperties(request, patch.RequestStatusChangeReason),
				CorrelationID:   correlationID,
			})
		}
		if action.CreateEvent {
			if err := s.createNotificationEvent(ctx, request, patch.RequestStatus, action.EventProcessed); err != nil {
				return false, err
			}
		}
		return action.ResetNotifyFlag, nil

	case model.RequestStatusNonSourceable:
		if request.NotifyMeImmediately {
			s.sendEmail(ctx, TemplateEmail{
				Kind:            TemplateNonSourceable,
				RecipientUserID: request.UserID.String(),
				Properties:      s.emailProperties(request, patch.RequestStatusChangeReason),
				CorrelationID:   correlationID,
			})
		}
		return false, s.createNotificationEvent(ctx, request, patch.RequestStatus, request.NotifyMeImmediately)
	}
	return false, nil
}

// sendAccessGatedEmails handles the access-gated framework path: direct
// emails, no notification events.
func (s *lifecycleService) sendAccessGatedEmails(
	ctx context.Context, request *model.DataRequest, patch RequestPatch, correlationID string,
) {
	if patch.AccessStatus != nil && *patch.AccessStatus == model.AccessStatusGranted &&
		request.AccessStatus != model.AccessStatusGranted {
		s.sendEmail(ctx, TemplateEmail{
			Kind:            TemplateAccessGranted,
			RecipientUserID: request.UserID.String(),
			Properties:      s.emailProperties(request, ""),
			CorrelationID:   correlationID,
		})
	}
	if patch.RequestStatus != nil && *patch.RequestStatus == model.RequestStatusAnswered &&
		request.RequestStatus != model.RequestStatusAnswered {
		s.sendEmail(ctx, TemplateEmail{
			Kind:            TemplateRequestAnswered,
			RecipientUserID: request.UserID.String(),
			Properties:      s.emailProperties(request, patch.RequestStatusChangeReason),
			CorrelationID:   correlationID,
		})
	}
}

func (s *lifecycleService) createNotificationEvent(
	ctx context.Context, request *model.DataRequest, newStatus *model.RequestStatus, processed bool,
) error {
	earlierAccepted, err := s.qa.HasEarlierAcceptedVersion(
		ctx, request.CompanyID.String(), request.DataType, request.ReportingPeriod)
	if err != nil {
		return fmt.Errorf("failed to query QA history: %w", err)
	}

	eventType := DetermineEventType(request.RequestStatus, newStatus, earlierAccepted)
	if eventType == "" {
		s.log.WithField("requestId", request.ID).Info("no valid event type for notification creation")
		return nil
	}

	userID := request.UserID
	event := &model.NotificationEvent{
		EventType:       eventType,
		UserID:          &userID,
		CompanyID:       request.CompanyID,
		Framework:       request.DataType,
		ReportingPeriod: request.ReportingPeriod,
		IsProcessed:     processed,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create notification event: %w", err)
	}
	return nil
}

// applyNotifyFlag overwrites the flag when the patch carries a differing
// value, or clears it after an immediate email on the Open-origin path.
func (s *lifecycleService) applyNotifyFlag(request *model.DataRequest, patch RequestPatch, reset bool) bool {
	if patch.NotifyMeImmediately != nil && *patch.NotifyMeImmediately != request.NotifyMeImmediately {
		request.NotifyMeImmediately = *patch.NotifyMeImmediately
		return true
	}
	if reset && request.NotifyMeImmediately {
		request.NotifyMeImmediately = false
		return true
	}
	return false
}

// applyStatusHistory appends to the status ledger when either status axis
// changes. NonSourceable is always re-logged even if unchanged because those
// events carry a fresh reason every time.
func (s *lifecycleService) applyStatusHistory(
	ctx context.Context, rctx model.RequestContext, request *model.DataRequest,
	patch RequestPatch, answeringDataID *string,
) (bool, error) {
	newStatus := request.RequestStatus
	if patch.RequestStatus != nil {
		newStatus = *patch.RequestStatus
	}
	newAccess := request.AccessStatus
	if patch.AccessStatus != nil {
		newAccess = *patch.AccessStatus
	}

	if newStatus == request.RequestStatus && newAccess == request.AccessStatus &&
		newStatus != model.RequestStatusNonSourceable {
		return false, nil
	}

	entry := &model.StatusHistoryEntry{
		DataRequestID:   request.ID,
		RequestStatus:   newStatus,
		AccessStatus:    newAccess,
		Reason:          patch.RequestStatusChangeReason,
		AnsweringDataID: answeringDataID,
		CreatedAt:       time.Now(),
	}
	if err := s.requests.AppendStatusHistory(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to append status history: %w", err)
	}

	action := model.ActionPatchRequestStatus
	if newStatus == request.RequestStatus && newAccess != request.AccessStatus {
		action = model.ActionPatchAccessStatus
	}
	if err := s.writeAudit(ctx, rctx, action, request, map[string]interface{}{
		"from_status":   request.RequestStatus,
		"to_status":     newStatus,
		"access_status": newAccess,
		"reason":        patch.RequestStatusChangeReason,
	}); err != nil {
		return false, err
	}

	request.RequestStatus = newStatus
	request.AccessStatus = newAccess
	s.log.WithFields(logrus.Fields{
		"requestId":    request.ID,
		"status":       newStatus,
		"accessStatus": newAccess,
	}).Info("patched request status")
	return true, nil
}

// applyMessageHistory appends a contact message and forwards it by email.
// An empty contact list is a documented no-op for this sub-concern.
func (s *lifecycleService) applyMessageHistory(
	ctx context.Context, rctx model.RequestContext, request *model.DataRequest,
	patch RequestPatch, correlationID string,
) (bool, error) {
	if len(patch.Contacts) == 0 {
		return false, nil
	}
	for _, contact := range patch.Contacts {
		if !validEmail(contact) {
			return false, apperror.NewInvalidInput(
				"Invalid contact address.",
				fmt.Sprintf("%q is not a valid email address", contact),
			)
		}
	}

	contactsJSON, err := json.Marshal(patch.Contacts)
	if err != nil {
		return false, fmt.Errorf("failed to encode contacts: %w", err)
	}
	entry := &model.MessageHistoryEntry{
		DataRequestID: request.ID,
		Contacts:      string(contactsJSON),
		Message:       patch.Message,
		CreatedAt:     time.Now(),
	}
	if err := s.requests.AppendMessageHistory(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to append message history: %w", err)
	}

	s.sendEmail(ctx, TemplateEmail{
		Kind:            TemplateContactCompany,
		RecipientEmails: patch.Contacts,
		Properties:      s.emailProperties(request, patch.Message),
		CorrelationID:   correlationID,
	})

	if err := s.writeAudit(ctx, rctx, model.ActionAppendMessage, request, map[string]interface{}{
		"contacts": patch.Contacts,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *lifecycleService) applyPriorityAndComment(
	ctx context.Context, rctx model.RequestContext, request *model.DataRequest, patch RequestPatch,
) (bool, error) {
	changed := false
	if patch.AdminComment != nil && *patch.AdminComment != request.AdminComment {
		if err := s.writeAudit(ctx, rctx, model.ActionPatchAdminComment, request, map[string]interface{}{
			"admin_comment": *patch.AdminComment,
		}); err != nil {
			return false, err
		}
		request.AdminComment = *patch.AdminComment
		changed = true
	}
	if patch.RequestPriority != nil && *patch.RequestPriority != request.RequestPriority {
		if err := s.writeAudit(ctx, rctx, model.ActionPatchPriority, request, map[string]interface{}{
			"from_priority": request.RequestPriority,
			"to_priority":   *patch.RequestPriority,
		}); err != nil {
			return false, err
		}
		request.RequestPriority = *patch.RequestPriority
		changed = true
	}
	return changed, nil
}

// ProcessUserRequests reacts to a QA-accepted or private upload event: answer
// matching open/non-sourceable requests (including direct subsidiaries), then
// notify holders of already answered requests about the newer dataset.
func (s *lifecycleService) ProcessUserRequests(ctx context.Context, dataID, correlationID string) error {
	meta, err := s.metadata.GetDataMetaInfo(ctx, dataID)
	if err != nil {
		return fmt.Errorf("failed to resolve metadata for dataset %s: %w", dataID, err)
	}
	companyID, err := uuid.Parse(meta.CompanyID)
	if err != nil {
		return apperror.NewInvalidInput("Invalid company id.", fmt.Sprintf("metadata returned malformed company id %q", meta.CompanyID))
	}

	patchedIDs, err := s.answerOpenRequests(ctx, companyID, meta, dataID, correlationID)
	if err != nil {
		return err
	}
	if err := s.answerSubsidiaryRequests(ctx, meta, dataID, correlationID); err != nil {
		return err
	}
	if err := s.notifyAnsweredRequests(ctx, companyID, meta, correlationID, patchedIDs); err != nil {
		return err
	}

	// Company-scoped event so the digest can inform the company's
	// investor-relations contacts that data about them went live.
	event := &model.NotificationEvent{
		EventType:       model.EventInvestorRelations,
		CompanyID:       companyID,
		Framework:       meta.DataType,
		ReportingPeriod: meta.ReportingPeriod,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create investor-relations event: %w", err)
	}
	return nil
}

func (s *lifecycleService) answerOpenRequests(
	ctx context.Context, companyID uuid.UUID, meta *DataMetaInfo, dataID, correlationID string,
) (map[uuid.UUID]bool, error) {
	requests, err := s.requests.Search(ctx, repository.RequestFilter{
		CompanyIDs:       []uuid.UUID{companyID},
		DataTypes:        []string{meta.DataType},
		ReportingPeriods: []string{meta.ReportingPeriod},
		Statuses:         []model.RequestStatus{model.RequestStatusOpen, model.RequestStatusNonSourceable},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search open requests: %w", err)
	}

	patched := make(map[uuid.UUID]bool, len(requests))
	for i := range requests {
		if err := s.patchToAnswered(ctx, &requests[i], dataID, correlationID, ""); err != nil {
			return nil, err
		}
		patched[requests[i].ID] = true
	}
	return patched, nil
}

// answerSubsidiaryRequests propagates the answer one hop down: direct
// subsidiaries of the uploading company only, never transitively.
func (s *lifecycleService) answerSubsidiaryRequests(
	ctx context.Context, meta *DataMetaInfo, dataID, correlationID string,
) error {
	subsidiaryIDs, err := s.company.GetSubsidiaries(ctx, meta.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to look up subsidiaries of %s: %w", meta.CompanyID, err)
	}
	if len(subsidiaryIDs) == 0 {
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"parentCompanyId": meta.CompanyID,
		"dataType":        meta.DataType,
		"reportingPeriod": meta.ReportingPeriod,
		"correlationId":   correlationID,
	}).Info("patching subsidiary requests to answered")

	companyIDs := make([]uuid.UUID, 0, len(subsidiaryIDs))
	for _, id := range subsidiaryIDs {
		parsed, parseErr := uuid.Parse(id)
		if parseErr != nil {
			continue
		}
		companyIDs = append(companyIDs, parsed)
	}

	requests, err := s.requests.Search(ctx, repository.RequestFilter{
		CompanyIDs:       companyIDs,
		DataTypes:        []string{meta.DataType},
		ReportingPeriods: []string{meta.ReportingPeriod},
		Statuses:         []model.RequestStatus{model.RequestStatusOpen, model.RequestStatusNonSourceable},
	})
	if err != nil {
		return fmt.Errorf("failed to search subsidiary requests: %w", err)
	}
	for i := range requests {
		if err := s.patchToAnswered(ctx, &requests[i], dataID, correlationID, reasonAnsweredViaParent); err != nil {
			return err
		}
	}
	return nil
}

func (s *lifecycleService) patchToAnswered(
	ctx context.Context, request *model.DataRequest, dataID, correlationID, reason string,
) error {
	answered := model.RequestStatusAnswered
	patch := RequestPatch{RequestStatus: &answered, RequestStatusChangeReason: reason}
	if model.IsAccessGated(request.DataType) && request.AccessStatus != model.AccessStatusGranted {
		pending := model.AccessStatusPending
		patch.AccessStatus = &pending
	}
	_, err := s.PatchRequest(ctx, SystemContext(), request.ID, patch, correlationID, &dataID)
	return err
}

// notifyAnsweredRequests handles requests that are already terminal-ish when a
// newer approved dataset arrives: no status change, just update notifications.
func (s *lifecycleService) notifyAnsweredRequests(
	ctx context.Context, companyID uuid.UUID, meta *DataMetaInfo, correlationID string,
	patchedIDs map[uuid.UUID]bool,
) error {
	requests, err := s.requests.Search(ctx, repository.RequestFilter{
		CompanyIDs:       []uuid.UUID{companyID},
		DataTypes:        []string{meta.DataType},
		ReportingPeriods: []string{meta.ReportingPeriod},
		Statuses: []model.RequestStatus{
			model.RequestStatusAnswered, model.RequestStatusClosed, model.RequestStatusResolved,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to search answered requests: %w", err)
	}

	for i := range requests {
		request := &requests[i]
		if patchedIDs[request.ID] {
			continue
		}

		if model.IsAccessGated(request.DataType) {
			accessOkay := request.AccessStatus != model.AccessStatusDeclined &&
				request.AccessStatus != model.AccessStatusRevoked
			if accessOkay {
				s.sendEmail(ctx, TemplateEmail{
					Kind:            TemplateDataUpdated,
					RecipientUserID: request.UserID.String(),
					Properties:      s.emailProperties(request, ""),
					CorrelationID:   correlationID,
				})
			}
			continue
		}

		if request.NotifyMeImmediately {
			s.sendEmail(ctx, TemplateEmail{
				Kind:            TemplateDataUpdated,
				RecipientUserID: request.UserID.String(),
				Properties:      s.emailProperties(request, ""),
				CorrelationID:   correlationID,
			})
		}
		if err := s.createNotificationEvent(ctx, request, nil, request.NotifyMeImmediately); err != nil {
			return err
		}
	}
	return nil
}

// PatchAllRequestsToNonSourceable marks every non-withdrawn request matching
// the dataset's dimensions as non-sourceable. Callers must not invoke this for
// "became sourceable again" events; requests are not re-opened here.
func (s *lifecycleService) PatchAllRequestsToNonSourceable(
	ctx context.Context, info SourceabilityInfo, correlationID string,
) error {
	if !info.IsNonSourceable {
		return apperror.NewInvalidInput(
			"Expected information about a non-sourceable dataset.",
			"No requests are patched if a dataset is reported as sourceable until the dataset is uploaded.",
		)
	}
	companyID, err := uuid.Parse(info.CompanyID)
	if err != nil {
		return apperror.NewInvalidInput("Invalid company id.", fmt.Sprintf("%q is not a valid company id", info.CompanyID))
	}

	requests, err := s.requests.Search(ctx, repository.RequestFilter{
		CompanyIDs:       []uuid.UUID{companyID},
		DataTypes:        []string{info.DataType},
		ReportingPeriods: []string{info.ReportingPeriod},
		Statuses: []model.RequestStatus{
			model.RequestStatusOpen, model.RequestStatusAnswered, model.RequestStatusClosed,
			model.RequestStatusResolved, model.RequestStatusNonSourceable,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to search requests: %w", err)
	}

	nonSourceable := model.RequestStatusNonSourceable
	for i := range requests {
		_, err := s.PatchRequest(ctx, SystemContext(), requests[i].ID, RequestPatch{
			RequestStatus:             &nonSourceable,
			RequestStatusChangeReason: info.Reason,
		}, correlationID, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *lifecycleService) GetRequest(ctx context.Context, requestID uuid.UUID) (*StoredRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NewNotFound("data request", requestID.String())
		}
		return nil, fmt.Errorf("failed to load data request: %w", err)
	}
	return s.project(ctx, request)
}

// --- Helpers ---

func (s *lifecycleService) sendEmail(ctx context.Context, email TemplateEmail) {
	if err := s.emails.Send(ctx, email); err != nil {
		s.log.WithError(err).WithField("template", email.Kind).Error("failed to dispatch email")
	}
}

func (s *lifecycleService) emailProperties(request *model.DataRequest, extra string) map[string]string {
	props := map[string]string{
		"company_id":       request.CompanyID.String(),
		"data_type":        request.DataType,
		"reporting_period": request.ReportingPeriod,
		"creation_date":    request.CreationTimestamp.Format(time.RFC3339),
	}
	if extra != "" {
		props["message"] = extra
	}
	return props
}

func (s *lifecycleService) writeAudit(
	ctx context.Context, rctx model.RequestContext, action string,
	request *model.DataRequest, details map[string]interface{},
) error {
	detailsJSON, _ := json.Marshal(details)
	var userID *uuid.UUID
	if rctx.UserID != uuid.Nil {
		id := rctx.UserID
		userID = &id
	}
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   request.ID.String(),
		EntityName: fmt.Sprintf("%s %s %s", request.DataType, request.ReportingPeriod, request.CompanyID),
		Details:    string(detailsJSON),
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *lifecycleService) project(ctx context.Context, request *model.DataRequest) (*StoredRequest, error) {
	statusEntries, err := s.requests.ListStatusHistory(ctx, request.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	messageEntries, err := s.requests.ListMessageHistory(ctx, request.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message history: %w", err)
	}

	statusHistory := make([]StoredStatusChange, 0, len(statusEntries))
	for _, e := range statusEntries {
		statusHistory = append(statusHistory, StoredStatusChange{
			RequestStatus:    e.RequestStatus,
			AccessStatus:     e.AccessStatus,
			Reason:           e.Reason,
			AnsweringDataID:  e.AnsweringDataID,
			ModificationTime: e.CreatedAt,
		})
	}
	messageHistory := make([]StoredMessage, 0, len(messageEntries))
	for _, e := range messageEntries {
		var contacts []string
		_ = json.Unmarshal([]byte(e.Contacts), &contacts)
		messageHistory = append(messageHistory, StoredMessage{
			Contacts:         contacts,
			Message:          e.Message,
			ModificationTime: e.CreatedAt,
		})
	}

	return &StoredRequest{
		ID:                  request.ID.String(),
		UserID:              request.UserID.String(),
		CompanyID:           request.CompanyID.String(),
		DataType:            request.DataType,
		ReportingPeriod:     request.ReportingPeriod,
		RequestStatus:       request.RequestStatus,
		AccessStatus:        request.AccessStatus,
		RequestPriority:     request.RequestPriority,
		NotifyMeImmediately: request.NotifyMeImmediately,
		AdminComment:        request.AdminComment,
		StatusHistory:       statusHistory,
		MessageHistory:      messageHistory,
		CreationTimestamp:   request.CreationTimestamp,
		LastModifiedDate:    request.LastModifiedDate,
	}, nil
}

func (s *lifecycleService) broadcastStatusChange(request *StoredRequest) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"event":          "request_status_changed",
		"request_id":     request.ID,
		"request_status": string(request.RequestStatus),
		"access_status":  string(request.AccessStatus),
	})
	if err != nil {
		return
	}
	select {
	case s.hub.GetBroadcast() <- payload:
	default:
		// Drop the update if no dashboard is listening
	}
}
