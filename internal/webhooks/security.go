package webhooks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

const kindSignatureRejected = "webhook_signature_rejected"

// SecurityRecorder persists suspicious webhook activity. High severity rows
// feed the fraud detector's IP reputation heuristic.
type SecurityRecorder struct {
	db *gorm.DB
}

func NewSecurityRecorder(db *gorm.DB) *SecurityRecorder {
	return &SecurityRecorder{db: db}
}

func (r *SecurityRecorder) RecordSignatureRejection(ctx context.Context, provider enums.PaymentProvider, ipAddress string) error {
	contextJSON, _ := json.Marshal(map[string]string{"provider": provider.String()})
	return r.db.WithContext(ctx).Create(&models.SecurityEvent{
		ID:        uuid.New(),
		IPAddress: ipAddress,
		Kind:      kindSignatureRejected,
		Severity:  enums.SecuritySeverityHigh,
		Context:   contextJSON,
	}).Error
}
