package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Booking is a claim on seats of exactly one target: an event or a group
// session. A CANCELLED booking has had its seat and balance effects reversed
// exactly once; bookings are never deleted.
type Booking struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey"`
	UserID            *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	EventID           *uuid.UUID          `gorm:"column:event_id;type:uuid;index"`
	GroupSessionID    *uuid.UUID          `gorm:"column:group_session_id;type:uuid;index"`
	GroupEnrollmentID *uuid.UUID          `gorm:"column:group_enrollment_id;type:uuid;index"`
	SubscriptionID    *uuid.UUID          `gorm:"column:subscription_id;type:uuid;index"`
	Status            enums.BookingStatus `gorm:"column:status;type:text;not null;default:'PENDING';index"`
	ParticipantsCount int                 `gorm:"column:participants_count;not null;default:1"`
	TotalPrice        decimal.Decimal     `gorm:"column:total_price;type:numeric(12,2);not null"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	Participants      []Participant       `gorm:"column:participants;type:jsonb;serializer:json"`
	ContactEmail      string              `gorm:"column:contact_email"`
	ContactPhone      *string             `gorm:"column:contact_phone"`
	Notes             *string             `gorm:"column:notes"`
	CancelledAt       *time.Time          `gorm:"column:cancelled_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Event        *Event        `gorm:"foreignKey:EventID"`
	GroupSession *GroupSession `gorm:"foreignKey:GroupSessionID"`
	Subscription *Subscription `gorm:"foreignKey:SubscriptionID"`
}
