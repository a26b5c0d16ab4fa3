package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRequest      = "CREATE_REQUEST"
	ActionPatchRequestStatus = "PATCH_REQUEST_STATUS"
	ActionPatchAccessStatus  = "PATCH_ACCESS_STATUS"
	ActionPatchPriority      = "PATCH_REQUEST_PRIORITY"
	ActionPatchAdminComment  = "PATCH_ADMIN_COMMENT"
	ActionAppendMessage      = "APPEND_REQUEST_MESSAGE"
	ActionCloseStaleRequest  = "CLOSE_STALE_REQUEST"
)

// AuditLog tracks Who, What, and When for critical request changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated job
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
