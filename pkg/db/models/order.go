package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Order is a retail purchase picked up on site. SubscriptionID records which
// balance was debited at creation so a cancellation refunds the same one.
type Order struct {
	ID             uuid.UUID            `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	Status         enums.OrderStatus    `gorm:"column:status;type:text;not null;default:'PENDING';index"`
	TotalAmount    decimal.Decimal      `gorm:"column:total_amount;type:numeric(12,2);not null"`
	PaymentMethod  enums.PaymentMethod  `gorm:"column:payment_method;type:text;not null"`
	SubscriptionID *uuid.UUID           `gorm:"column:subscription_id;type:uuid"`
	PaymentID      *string              `gorm:"column:payment_id"`
	PaymentURL     *string              `gorm:"column:payment_url"`
	PaymentStatus  *enums.PaymentStatus `gorm:"column:payment_status;type:text"`
	PickupCode     []byte               `gorm:"column:pickup_code"`
	Notes          *string              `gorm:"column:notes"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// OrderItem is one line of an order, priced at order time.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`

	Product *Product `gorm:"foreignKey:ProductID"`
}
