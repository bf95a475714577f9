package products

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

// ClaimStock decrements a product's stock by qty inside the caller's
// transaction. The guard clause keeps stock non-negative, so concurrent
// orders cannot oversell.
func ClaimStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (*models.Product, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var product models.Product
	if err := tx.WithContext(ctx).First(&product, "id = ?", productID).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "товар не найден")
	}
	if !product.IsActive {
		return nil, pkgerrors.Newf(pkgerrors.CodeOutOfStock, "Товар «%s» недоступен", product.Name)
	}

	res := tx.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeOutOfStock,
			"Недостаточно товара «%s». В наличии: %d", product.Name, product.Stock)
	}
	return &product, nil
}

// ReleaseStock returns qty units of a product to stock.
func ReleaseStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", qty),
			"updated_at": time.Now().UTC(),
		}).Error
}
