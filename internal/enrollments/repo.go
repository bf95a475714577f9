package enrollments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Repository manages persistence for group enrollments and their fan-out.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, enrollment *models.GroupEnrollment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GroupEnrollment, error)
	GetActive(ctx context.Context, userID, groupID uuid.UUID) (*models.GroupEnrollment, error)
	Update(ctx context.Context, enrollment *models.GroupEnrollment) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.GroupEnrollment, error)

	GetGroup(ctx context.Context, id uuid.UUID) (*models.RegularGroup, error)
	ListFutureSessions(ctx context.Context, groupID uuid.UUID, now time.Time) ([]models.GroupSession, error)
	HasBookingForSession(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	BookingForSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an enrollment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, enrollment *models.GroupEnrollment) error {
	return r.db.WithContext(ctx).Create(enrollment).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.GroupEnrollment, error) {
	var enrollment models.GroupEnrollment
	if err := r.db.WithContext(ctx).
		Preload("Group").
		First(&enrollment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &enrollment, nil
}

func (r *repository) GetActive(ctx context.Context, userID, groupID uuid.UUID) (*models.GroupEnrollment, error) {
	var enrollment models.GroupEnrollment
	if err := r.db.WithContext(ctx).
		First(&enrollment, "user_id = ? AND group_id = ? AND status = ?",
			userID, groupID, enums.EnrollmentStatusActive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &enrollment, nil
}

func (r *repository) Update(ctx context.Context, enrollment *models.GroupEnrollment) error {
	return r.db.WithContext(ctx).Save(enrollment).Error
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.GroupEnrollment, error) {
	var enrollments []models.GroupEnrollment
	if err := r.db.WithContext(ctx).
		Preload("Group").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&enrollments).Error; err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (r *repository) GetGroup(ctx context.Context, id uuid.UUID) (*models.RegularGroup, error) {
	var group models.RegularGroup
	if err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r *repository) ListFutureSessions(ctx context.Context, groupID uuid.UUID, now time.Time) ([]models.GroupSession, error) {
	var sessions []models.GroupSession
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ? AND date > ?", groupID, enums.SessionStatusScheduled, now).
		Order("date ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
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

func (r *repository) BookingForSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).
		First(&booking, "group_session_id = ? AND user_id = ? AND status <> ?",
			sessionID, userID, enums.BookingStatusCancelled).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}
