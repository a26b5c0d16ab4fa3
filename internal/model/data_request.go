package model

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle status of a data request.
type RequestStatus string

const (
	RequestStatusOpen          RequestStatus = "Open"
	RequestStatusAnswered      RequestStatus = "Answered"
	RequestStatusClosed        RequestStatus = "Closed"
	RequestStatusResolved      RequestStatus = "Resolved"
	RequestStatusNonSourceable RequestStatus = "NonSourceable"
	RequestStatusWithdrawn     RequestStatus = "Withdrawn"
)

// AccessStatus tracks the access axis for access-gated frameworks. It is
// independent of RequestStatus; both may change on the same patch.
type AccessStatus string

const (
	AccessStatusPending  AccessStatus = "Pending"
	AccessStatusGranted  AccessStatus = "Granted"
	AccessStatusDeclined AccessStatus = "Declined"
	AccessStatusRevoked  AccessStatus = "Revoked"
)

// RequestPriority is set by admins to steer sourcing work.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "Low"
	PriorityNormal RequestPriority = "Normal"
	PriorityHigh   RequestPriority = "High"
	PriorityUrgent RequestPriority = "Urgent"
)

// FrameworkVsme is the access-gated framework: viewing its datasets requires a
// granted access request on top of the request status.
const FrameworkVsme = "vsme"

// IsAccessGated reports whether the framework requires access management.
func IsAccessGated(dataType string) bool {
	return dataType == FrameworkVsme
}

// DataRequest is one user's ask for a (company, framework, reportingPeriod)
// dataset. At most one non-withdrawn request may exist per
// (user, company, framework, period) tuple; requests are never deleted,
// Withdrawn is the terminal soft-delete state.
type DataRequest struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:udx_live_data_request,priority:1" json:"user_id"`
	// The partial unique index backs the at-most-one-live invariant at the
	// database level; concurrent duplicate submissions lose the race on insert.
	CompanyID       uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:udx_live_data_request,priority:2" json:"company_id"`
	DataType        string    `gorm:"type:varchar(50);not null;index;uniqueIndex:udx_live_data_request,priority:3" json:"data_type"`
	ReportingPeriod string    `gorm:"type:varchar(20);not null;index;uniqueIndex:udx_live_data_request,priority:4,where:request_status <> 'Withdrawn'" json:"reporting_period"`
	RequestStatus       RequestStatus   `gorm:"type:varchar(20);not null;default:'Open';index" json:"request_status"`
	AccessStatus        AccessStatus    `gorm:"type:varchar(20);not null;default:'Granted'" json:"access_status"`
	RequestPriority     RequestPriority `gorm:"type:varchar(20);not null;default:'Low'" json:"request_priority"`
	NotifyMeImmediately bool            `gorm:"not null;default:false" json:"notify_me_immediately"`
	AdminComment        string          `gorm:"type:text" json:"admin_comment,omitempty"`

	StatusHistory  []StatusHistoryEntry  `gorm:"foreignKey:DataRequestID;constraint:OnDelete:CASCADE" json:"-"`
	MessageHistory []MessageHistoryEntry `gorm:"foreignKey:DataRequestID;constraint:OnDelete:CASCADE" json:"-"`

	CreationTimestamp time.Time `gorm:"autoCreateTime" json:"creation_timestamp"`
	// LastModifiedDate is advanced by the lifecycle engine only when a patch
	// actually changed something, so no gorm autoUpdateTime here.
	LastModifiedDate time.Time `json:"last_modified_date"`
}
