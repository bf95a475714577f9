package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScheduleSlot is one weekly recurrence rule of a group: a weekday plus a
// local wall-clock start time ("HH:MM") in the studio timezone.
type ScheduleSlot struct {
	DayOfWeek       int    `json:"dayOfWeek"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"durationMinutes"`
}

// RegularGroup is a recurring class whose concrete occurrences are minted by
// the session generator from the Schedule slots.
type RegularGroup struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name            string          `gorm:"column:name;not null"`
	Description     *string         `gorm:"column:description"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	MaxParticipants int             `gorm:"column:max_participants;not null;default:0"`
	IsActive        bool            `gorm:"column:is_active;not null;default:true;index"`
	Schedule        []ScheduleSlot  `gorm:"column:schedule;type:jsonb;serializer:json"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
