package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
)

// Repository manages persistence for subscriptions and their types.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	Delete(ctx context.Context, id uuid.UUID) error
	HasUsage(ctx context.Context, id uuid.UUID) (bool, error)
	LastTouchedRefundable(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	GetType(ctx context.Context, id uuid.UUID) (*models.SubscriptionType, error)
	ListActiveTypes(ctx context.Context) ([]models.SubscriptionType, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("purchased_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Subscription{}, "id = ?", id).Error
}

// HasUsage reports whether any booking or enrollment references the subscription.
func (r *repository) HasUsage(ctx context.Context, id uuid.UUID) (bool, error) {
	var bookings int64
	if err := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("subscription_id = ?", id).
		Count(&bookings).Error; err != nil {
		return false, err
	}
	if bookings > 0 {
		return true, nil
	}
	var enrollments int64
	if err := r.db.WithContext(ctx).Model(&models.GroupEnrollment{}).
		Where("subscription_id = ?", id).
		Count(&enrollments).Error; err != nil {
		return false, err
	}
	return enrollments > 0, nil
}

// LastTouchedRefundable returns the user's most recently updated ACTIVE or
// DEPLETED subscription, the target for refunds when the original debit source
// is unknown.
func (r *repository) LastTouchedRefundable(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusDepleted,
		}).
		Order("updated_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ExpireDue flips ACTIVE subscriptions whose expiry has passed to EXPIRED.
func (r *repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.SubscriptionStatusActive, now).
		Update("status", enums.SubscriptionStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *repository) GetType(ctx context.Context, id uuid.UUID) (*models.SubscriptionType, error) {
	var typ models.SubscriptionType
	if err := r.db.WithContext(ctx).First(&typ, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &typ, nil
}

func (r *repository) ListActiveTypes(ctx context.Context) ([]models.SubscriptionType, error) {
	var types []models.SubscriptionType
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&types).Error; err != nil {
		return nil, err
	}
	return types, nil
}
