package groups

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
)

// Repository manages persistence for recurring groups.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, group *models.RegularGroup) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RegularGroup, error)
	Update(ctx context.Context, group *models.RegularGroup) error
	ListActive(ctx context.Context) ([]models.RegularGroup, error)
	List(ctx context.Context) ([]models.RegularGroup, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a group repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, group *models.RegularGroup) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RegularGroup, error) {
	var group models.RegularGroup
	if err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r *repository) Update(ctx context.Context, group *models.RegularGroup) error {
	return r.db.WithContext(ctx).Save(group).Error
}

func (r *repository) ListActive(ctx context.Context) ([]models.RegularGroup, error) {
	var groups []models.RegularGroup
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repository) List(ctx context.Context) ([]models.RegularGroup, error) {
	var groups []models.RegularGroup
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}
