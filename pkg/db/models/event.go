package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Event is a single-occurrence bookable happening with its own capacity.
// CurrentParticipants is mutated only by the booking engine and stays in
// lockstep with live bookings referencing the event.
type Event struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Title               string            `gorm:"column:title;not null"`
	Description         *string           `gorm:"column:description"`
	Status              enums.EventStatus `gorm:"column:status;type:text;not null;default:'DRAFT';index"`
	StartDate           time.Time         `gorm:"column:start_date;not null;index"`
	EndDate             time.Time         `gorm:"column:end_date;not null"`
	Location            *string           `gorm:"column:location"`
	MaxParticipants     int               `gorm:"column:max_participants;not null"`
	CurrentParticipants int               `gorm:"column:current_participants;not null;default:0"`
	Price               decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null"`
	CreatedAt           time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
