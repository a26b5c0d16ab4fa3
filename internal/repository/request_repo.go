package repository

import (
	"context"
	"time"

	"requesthub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestFilter narrows request searches. Empty slices/zero values mean "no
// constraint on this dimension".
type RequestFilter struct {
	CompanyIDs       []uuid.UUID
	DataTypes        []string
	ReportingPeriods []string
	Statuses         []model.RequestStatus
	UserID           *uuid.UUID
}

// RequestRepository is the persistent store of data requests and their
// history ledgers.
type RequestRepository interface {
	Create(ctx context.Context, request *model.DataRequest) error
	Save(ctx context.Context, request *model.DataRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.DataRequest, error)
	Search(ctx context.Context, filter RequestFilter) ([]model.DataRequest, error)
	FindLive(ctx context.Context, userID, companyID uuid.UUID, dataType, reportingPeriod string) (*model.DataRequest, error)
	FindStaleAnswered(ctx context.Context, threshold time.Time) ([]model.DataRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.DataRequest, error)

	AppendStatusHistory(ctx context.Context, entry *model.StatusHistoryEntry) error
	AppendMessageHistory(ctx context.Context, entry *model.MessageHistoryEntry) error
	ListStatusHistory(ctx context.Context, requestID uuid.UUID) ([]model.StatusHistoryEntry, error)
	ListMessageHistory(ctx context.Context, requestID uuid.UUID) ([]model.MessageHistoryEntry, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, request *model.DataRequest) error {
	return GetDB(ctx, r.db).Create(request).Error
}

func (r *requestRepository) Save(ctx context.Context, request *model.DataRequest) error {
	return GetDB(ctx, r.db).Save(request).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.DataRequest, error) {
	var request model.DataRequest
	if err := GetDB(ctx, r.db).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *requestRepository) Search(ctx context.Context, filter RequestFilter) ([]model.DataRequest, error) {
	query := GetDB(ctx, r.db).Model(&model.DataRequest{})
	if len(filter.CompanyIDs) > 0 {
		query = query.Where("company_id IN ?", filter.CompanyIDs)
	}
	if len(filter.DataTypes) > 0 {
		query = query.Where("data_type IN ?", filter.DataTypes)
	}
	if len(filter.ReportingPeriods) > 0 {
		query = query.Where("reporting_period IN ?", filter.ReportingPeriods)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("request_status IN ?", filter.Statuses)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}

	var requests []model.DataRequest
	if err := query.Order("creation_timestamp ASC").Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// FindLive returns the single non-withdrawn request for the tuple, or nil if
// none exists. Duplicate submissions are merged against this row.
func (r *requestRepository) FindLive(
	ctx context.Context, userID, companyID uuid.UUID, dataType, reportingPeriod string,
) (*model.DataRequest, error) {
	var request model.DataRequest
	err := GetDB(ctx, r.db).
		Where("user_id = ? AND company_id = ? AND data_type = ? AND reporting_period = ?",
			userID, companyID, dataType, reportingPeriod).
		Where("request_status <> ?", model.RequestStatusWithdrawn).
		First(&request).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *requestRepository) FindStaleAnswered(ctx context.Context, threshold time.Time) ([]model.DataRequest, error) {
	var requests []model.DataRequest
	err := GetDB(ctx, r.db).
		Where("request_status = ? AND last_modified_date < ?", model.RequestStatusAnswered, threshold).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *requestRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.DataRequest, error) {
	var requests []model.DataRequest
	err := GetDB(ctx, r.db).
		Where("user_id = ?", userID).
		Order("creation_timestamp DESC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *requestRepository) AppendStatusHistory(ctx context.Context, entry *model.StatusHistoryEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *requestRepository) AppendMessageHistory(ctx context.Context, entry *model.MessageHistoryEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *requestRepository) ListStatusHistory(ctx context.Context, requestID uuid.UUID) ([]model.StatusHistoryEntry, error) {
	var entries []model.StatusHistoryEntry
	err := GetDB(ctx, r.db).
		Where("data_request_id = ?", requestID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *requestRepository) ListMessageHistory(ctx context.Context, requestID uuid.UUID) ([]model.MessageHistoryEntry, error) {
	var entries []model.MessageHistoryEntry
	err := GetDB(ctx, r.db).
		Where("data_request_id = ?", requestID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
