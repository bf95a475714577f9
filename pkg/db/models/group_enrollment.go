package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Participant is one attendee named on a booking or enrollment.
type Participant struct {
	Name  string `json:"name"`
	Age   *int   `json:"age,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// GroupEnrollment is a standing commitment to all future sessions of a group.
// At most one ACTIVE enrollment exists per (user, group).
type GroupEnrollment struct {
	ID             uuid.UUID              `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	GroupID        uuid.UUID              `gorm:"column:group_id;type:uuid;not null;index"`
	SubscriptionID uuid.UUID              `gorm:"column:subscription_id;type:uuid;not null"`
	Status         enums.EnrollmentStatus `gorm:"column:status;type:text;not null;default:'ACTIVE';index"`
	Participants   []Participant          `gorm:"column:participants;type:jsonb;serializer:json"`
	ContactEmail   string                 `gorm:"column:contact_email;not null"`
	Notes          *string                `gorm:"column:notes"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`

	Group *RegularGroup `gorm:"foreignKey:GroupID"`
}
