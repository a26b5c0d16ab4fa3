package model

import (
	"time"

	"github.com/google/uuid"
)

// StatusHistoryEntry is one row of the append-only status ledger of a data
// request. Entries are never mutated; the request's prior status is the status
// of the most recent entry, or Open for a freshly created request.
type StatusHistoryEntry struct {
	ID              uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DataRequestID   uuid.UUID     `gorm:"type:uuid;not null;index" json:"data_request_id"`
	RequestStatus   RequestStatus `gorm:"type:varchar(20);not null" json:"request_status"`
	AccessStatus    AccessStatus  `gorm:"type:varchar(20);not null" json:"access_status"`
	Reason          string        `gorm:"type:text" json:"reason,omitempty"`
	AnsweringDataID *string       `gorm:"type:varchar(100)" json:"answering_data_id,omitempty"` // dataset that caused an Answered transition
	CreatedAt       time.Time     `gorm:"index" json:"modification_time"`
}

// MessageHistoryEntry records one outbound contact attempt made through a
// request patch. Contacts is a JSON array of email addresses.
type MessageHistoryEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DataRequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"data_request_id"`
	Contacts      string    `gorm:"type:jsonb;not null" json:"contacts"`
	Message       string    `gorm:"type:text" json:"message,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"modification_time"`
}
