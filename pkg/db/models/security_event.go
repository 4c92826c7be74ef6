package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

// SecurityEvent records signature failures and other suspicious activity.
// High and critical rows feed the fraud detector's IP reputation heuristic.
type SecurityEvent struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IPAddress string                 `gorm:"column:ip_address;not null;index"`
	Kind      string                 `gorm:"column:kind;not null"`
	Severity  enums.SecuritySeverity `gorm:"column:severity;type:security_severity;not null"`
	Context   json.RawMessage        `gorm:"column:context;type:jsonb"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
