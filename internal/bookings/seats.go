package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

// ClaimEventSeats increments an event's participant count by count inside the
// caller's transaction. The guard clause keeps the count within the event's
// capacity, so concurrent claims can never oversell.
func ClaimEventSeats(ctx context.Context, tx *gorm.DB, eventID uuid.UUID, count int) error {
	if count <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "participants count must be positive")
	}

	res := tx.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND status = ? AND current_participants + ? <= max_participants",
			eventID, enums.EventStatusPublished, count).
		Updates(map[string]any{
			"current_participants": gorm.Expr("current_participants + ?", count),
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var event models.Event
		if err := tx.WithContext(ctx).First(&event, "id = ?", eventID).Error; err != nil {
			return err
		}
		available := event.MaxParticipants - event.CurrentParticipants
		if available < 0 {
			available = 0
		}
		return pkgerrors.Newf(pkgerrors.CodeCapacityExceeded, "Недостаточно мест. Доступно: %d", available)
	}
	return nil
}

// ClaimSessionSeats increments a session's participant count. The capacity
// limit comes from the owning group; max <= 0 means unlimited.
func ClaimSessionSeats(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, count, max int) error {
	if count <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "participants count must be positive")
	}

	query := tx.WithContext(ctx).Model(&models.GroupSession{}).
		Where("id = ? AND status <> ?", sessionID, enums.SessionStatusCancelled)
	if max > 0 {
		query = query.Where("current_participants + ? <= ?", count, max)
	}

	res := query.Updates(map[string]any{
		"current_participants": gorm.Expr("current_participants + ?", count),
		"updated_at":           time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var session models.GroupSession
		if err := tx.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.Status == enums.SessionStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeConflict, "занятие отменено")
		}
		available := max - session.CurrentParticipants
		if available < 0 {
			available = 0
		}
		return pkgerrors.Newf(pkgerrors.CodeCapacityExceeded, "Недостаточно мест. Доступно: %d", available)
	}
	return nil
}

// ReleaseEventSeats decrements an event's participant count, never below zero.
// Releasing more seats than are held is a no-op rather than an error so cancel
// stays idempotent under races.
func ReleaseEventSeats(ctx context.Context, tx *gorm.DB, eventID uuid.UUID, count int) error {
	if count <= 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND current_participants >= ?", eventID, count).
		Updates(map[string]any{
			"current_participants": gorm.Expr("current_participants - ?", count),
			"updated_at":           time.Now().UTC(),
		}).Error
}

// ReleaseSessionSeats decrements a session's participant count, never below zero.
func ReleaseSessionSeats(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, count int) error {
	if count <= 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&models.GroupSession{}).
		Where("id = ? AND current_participants >= ?", sessionID, count).
		Updates(map[string]any{
			"current_participants": gorm.Expr("current_participants - ?", count),
			"updated_at":           time.Now().UTC(),
		}).Error
}
