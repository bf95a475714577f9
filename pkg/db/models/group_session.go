package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// GroupSession is one concrete occurrence of a recurring group. The
// (group_id, date) pair is unique so the generator can never mint duplicates.
type GroupSession struct {
	ID                  uuid.UUID           `gorm:"type:uuid;primaryKey"`
	GroupID             uuid.UUID           `gorm:"column:group_id;type:uuid;not null;uniqueIndex:idx_group_sessions_group_date"`
	Date                time.Time           `gorm:"column:date;not null;uniqueIndex:idx_group_sessions_group_date;index"`
	DurationMinutes     int                 `gorm:"column:duration_minutes;not null"`
	Status              enums.SessionStatus `gorm:"column:status;type:text;not null;default:'SCHEDULED';index"`
	CurrentParticipants int                 `gorm:"column:current_participants;not null;default:0"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Group *RegularGroup `gorm:"foreignKey:GroupID"`
}
