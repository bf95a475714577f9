package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Repository manages persistence for group sessions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.GroupSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GroupSession, error)
	Update(ctx context.Context, session *models.GroupSession) error
	Delete(ctx context.Context, id uuid.UUID) error
	ExistsAt(ctx context.Context, groupID uuid.UUID, date time.Time) (bool, error)
	ListUpcomingByGroup(ctx context.Context, groupID uuid.UUID, now time.Time) ([]models.GroupSession, error)
	ListFutureByGroup(ctx context.Context, groupID uuid.UUID, now time.Time) ([]models.GroupSession, error)
	ListActiveGroups(ctx context.Context) ([]models.RegularGroup, error)
	ListActiveEnrollments(ctx context.Context, groupID uuid.UUID) ([]models.GroupEnrollment, error)
	HasBookingForSession(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	ListLiveBookingsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Booking, error)
	DeleteBookingsBySessions(ctx context.Context, sessionIDs []uuid.UUID) error
	DeleteSessions(ctx context.Context, sessionIDs []uuid.UUID) error
	CompleteDue(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a session repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.GroupSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.GroupSession, error) {
	var session models.GroupSession
	if err := r.db.WithContext(ctx).
		Preload("Group").
		First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) Update(ctx context.Context, session *models.GroupSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.GroupSession{}, "id = ?", id).Error
}

func (r *repository) ExistsAt(ctx context.Context, groupID uuid.UUID, date time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.GroupSession{}).
		Where("group_id = ? AND date = ?", groupID, date).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) ListUpcomingByGroup(ctx context.Context, groupID uuid.UUID, now time.Time) ([]models.GroupSession, error) {
	var sessions []models.GroupSession
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ? AND date > ?", groupID, enums.SessionStatusScheduled, now).
		Order("date ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) ListFutureByGroup(ctx context.Context, groupID uuid.UUID, now time.Time) ([]models.GroupSession, error) {
	var sessions []models.GroupSession
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND date > ?", groupID, now).
		Order("date ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) ListActiveGroups(ctx context.Context) ([]models.RegularGroup, error) {
	var groups []models.RegularGroup
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repository) ListActiveEnrollments(ctx context.Context, groupID uuid.UUID) ([]models.GroupEnrollment, error) {
	var enrollments []models.GroupEnrollment
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, enums.EnrollmentStatusActive).
		Order("created_at ASC").
		Find(&enrollments).Error; err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (r *repository) HasBookingForSession(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("group_session_id = ? AND user_id = ? AND status <> ?",
			sessionID, userID, enums.BookingStatusCancelled).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) ListLiveBookingsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := r.db.WithContext(ctx).
		Where("group_session_id = ? AND status <> ?", sessionID, enums.BookingStatusCancelled).
		Order("created_at ASC").
		Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repository) DeleteBookingsBySessions(ctx context.Context, sessionIDs []uuid.UUID) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Delete(&models.Booking{}, "group_session_id IN ?", sessionIDs).Error
}

func (r *repository) DeleteSessions(ctx context.Context, sessionIDs []uuid.UUID) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Delete(&models.GroupSession{}, "id IN ?", sessionIDs).Error
}

// CompleteDue flips SCHEDULED sessions whose start has passed to COMPLETED.
func (r *repository) CompleteDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.GroupSession{}).
		Where("status = ? AND date <= ?", enums.SessionStatusScheduled, now).
		Update("status", enums.SessionStatusCompleted)
	return res.RowsAffected, res.Error
}
