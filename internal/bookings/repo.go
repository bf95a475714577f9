package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	"github.com/atelierhq/atelier-backend/pkg/pagination"
)

// Repository manages persistence for bookings and their targets.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	Update(ctx context.Context, booking *models.Booking) error
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Booking, string, error)
	ListUpcomingForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Booking, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error)

	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.GroupSession, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a booking repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).
		Preload("Event").
		Preload("GroupSession").
		First(&booking, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) Update(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Save(booking).Error
}

// List pages through bookings by creation time, newest first.
// ListFilters narrows the admin booking list.
type ListFilters struct {
	Status    *enums.BookingStatus
	EventOnly bool
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Booking, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.EventOnly {
		query = query.Where("event_id IS NOT NULL")
	}
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var bookings []models.Booking
	if err := query.Find(&bookings).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(bookings) > limit {
		bookings = bookings[:limit]
		last := bookings[len(bookings)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return bookings, next, nil
}

// ListUpcomingForUser returns event-linked live bookings whose event has not
// started yet, soonest first.
func (r *repository) ListUpcomingForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := r.db.WithContext(ctx).
		Joins("JOIN events ON events.id = bookings.event_id").
		Where("bookings.user_id = ? AND bookings.status IN ?", userID, []enums.BookingStatus{
			enums.BookingStatusPending,
			enums.BookingStatusConfirmed,
		}).
		Where("events.start_date > ?", now).
		Order("events.start_date ASC").
		Preload("Event").
		Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListByEvent returns all bookings against an event, live first, for the
// participant roster.
func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repository) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) GetSession(ctx context.Context, id uuid.UUID) (*models.GroupSession, error) {
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
