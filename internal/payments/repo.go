package payments

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
)

// Repository manages persistence for in-flight subscription purchases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.SubscriptionPayment) error
	GetByOrderKey(ctx context.Context, orderKey string) (*models.SubscriptionPayment, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.SubscriptionPayment, error)
	Update(ctx context.Context, payment *models.SubscriptionPayment) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.SubscriptionPayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) GetByOrderKey(ctx context.Context, orderKey string) (*models.SubscriptionPayment, error) {
	var payment models.SubscriptionPayment
	if err := r.db.WithContext(ctx).First(&payment, "order_key = ?", orderKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) GetByPaymentID(ctx context.Context, paymentID string) (*models.SubscriptionPayment, error) {
	if paymentID == "" {
		return nil, nil
	}
	var payment models.SubscriptionPayment
	if err := r.db.WithContext(ctx).First(&payment, "payment_id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Update(ctx context.Context, payment *models.SubscriptionPayment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}
