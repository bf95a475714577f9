package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Subscription is a prepaid balance a user draws on for bookings and orders.
// RemainingBalance never exceeds TotalBalance; normal debit/credit only touch
// RemainingBalance, purchase rollbacks shrink both.
type Subscription struct {
	ID               uuid.UUID                `gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	TypeID           *uuid.UUID               `gorm:"column:type_id;type:uuid;index"`
	Name             string                   `gorm:"column:name;not null"`
	TotalBalance     decimal.Decimal          `gorm:"column:total_balance;type:numeric(12,2);not null"`
	RemainingBalance decimal.Decimal          `gorm:"column:remaining_balance;type:numeric(12,2);not null"`
	Price            decimal.Decimal          `gorm:"column:price;type:numeric(12,2);not null"`
	Status           enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'ACTIVE';index"`
	PurchasedAt      time.Time                `gorm:"column:purchased_at;not null"`
	ExpiresAt        *time.Time               `gorm:"column:expires_at"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
