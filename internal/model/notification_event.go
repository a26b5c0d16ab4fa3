package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationEventType classifies what happened to a request's data
// dimensions.
type NotificationEventType string

const (
	// EventAvailable: a dataset became available for the first time.
	EventAvailable NotificationEventType = "Available"
	// EventUpdated: a newer version of an already QA-accepted dataset arrived.
	EventUpdated NotificationEventType = "Updated"
	// EventNonSourceable: the dataset was reported as unobtainable.
	EventNonSourceable NotificationEventType = "NonSourceable"
	// EventInvestorRelations: company-directed event, sent to the company's
	// contact list instead of a user.
	EventInvestorRelations NotificationEventType = "InvestorRelations"
)

// NotificationEvent is an append-only record that a party may want to be
// notified about. User-directed events carry a user id; company-directed
// events (investor relations) leave it nil. Events deliberately outlive the
// request they originated from so historical notifications stay auditable.
type NotificationEvent struct {
	ID              uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventType       NotificationEventType `gorm:"type:varchar(30);not null;index" json:"event_type"`
	UserID          *uuid.UUID            `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CompanyID       uuid.UUID             `gorm:"type:uuid;not null;index" json:"company_id"`
	Framework       string                `gorm:"type:varchar(50);not null" json:"framework"`
	ReportingPeriod string                `gorm:"type:varchar(20);not null" json:"reporting_period"`
	IsProcessed     bool                  `gorm:"not null;default:false;index" json:"is_processed"`
	CreatedAt       time.Time             `gorm:"index" json:"creation_timestamp"`
}
