package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for DistributionMessageRecord.PublishStatus.
// Keep these as strings (DB values).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type DistributionMessageRecord struct {
	ID            int                       `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId    string                    `gorm:"size:64;not null;index" json:"business_id"`
	EventDateTime time.Time                 `gorm:"index;not null" json:"event_date_time"`
	ReferenceId   int                       `json:"reference_id"`
	ReferenceType DistributionReferenceType `gorm:"type:enum('CT','DO','DR')" json:"reference_type"`
	Action        PubSubMessageAction       `gorm:"type:enum('C','U','D')" json:"action"`
	NewObj        []byte                    `gorm:"type:blob" json:"new_obj"`
	IsProcessed   bool                      `gorm:"index;not null" json:"is_processed"`
	// Publish happens after commit via the outbox dispatcher.
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishToDistribution implements the transactional outbox: it writes the
// message record inside the caller's DB transaction but does NOT publish to
// Pub/Sub. Publishing is performed asynchronously by the outbox dispatcher
// after commit. Confirmation tokens must never travel through here; callers
// pass objects whose token fields are json-hidden.
func PublishToDistribution(ctx context.Context, db *gorm.DB, businessId string, eventDateTime time.Time, refId int, refType DistributionReferenceType, obj interface{}, msgAction PubSubMessageAction) error {

	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	record := DistributionMessageRecord{
		BusinessId:    businessId,
		EventDateTime: eventDateTime,
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        msgAction,
		NewObj:        objInByte,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToPubSubMessage(record DistributionMessageRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		EventDateTime: record.EventDateTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}
