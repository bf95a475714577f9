package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// SubscriptionPayment tracks one gateway payment for a subscription purchase.
// ProcessedAt and RolledBackAt gate the confirm and rollback effects so webhook
// retries apply each at most once. SubscriptionID records which subscription a
// confirmed purchase was credited to; a later failure reverses that exact one.
type SubscriptionPayment struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	TypeID         uuid.UUID           `gorm:"column:type_id;type:uuid;not null"`
	SubscriptionID *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Status         enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'PENDING';index"`
	PaymentID      *string             `gorm:"column:payment_id;uniqueIndex"`
	PaymentURL     *string             `gorm:"column:payment_url"`
	OrderKey       string              `gorm:"column:order_key;not null;uniqueIndex"`
	ProcessedAt    *time.Time          `gorm:"column:processed_at"`
	RolledBackAt   *time.Time          `gorm:"column:rolled_back_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Type *SubscriptionType `gorm:"foreignKey:TypeID"`
}
