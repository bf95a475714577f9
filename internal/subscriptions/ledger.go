package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

// Debit atomically subtracts amount from the subscription's remaining balance
// inside the caller's transaction. The guard clause refuses to overdraw, so a
// zero rows-affected result means the balance changed concurrently. Flips the
// subscription to DEPLETED when the balance reaches zero.
func Debit(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, amount decimal.Decimal) (*models.Subscription, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must not be negative")
	}

	res := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND remaining_balance >= ?", subscriptionID, enums.SubscriptionStatusActive, amount).
		Updates(map[string]any{
			"remaining_balance": gorm.Expr("remaining_balance - ?", amount),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "недостаточно средств на абонементе")
	}

	var sub models.Subscription
	if err := tx.WithContext(ctx).First(&sub, "id = ?", subscriptionID).Error; err != nil {
		return nil, err
	}
	if !sub.RemainingBalance.IsPositive() && sub.Status == enums.SubscriptionStatusActive {
		sub.Status = enums.SubscriptionStatusDepleted
		if err := tx.WithContext(ctx).Model(&models.Subscription{}).
			Where("id = ?", sub.ID).
			Update("status", enums.SubscriptionStatusDepleted).Error; err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

// Credit adds amount back to the subscription's remaining balance. A DEPLETED
// subscription whose balance turns positive is restored to ACTIVE.
func Credit(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, amount decimal.Decimal) (*models.Subscription, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must not be negative")
	}

	res := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]any{
			"remaining_balance": gorm.Expr("remaining_balance + ?", amount),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	var sub models.Subscription
	if err := tx.WithContext(ctx).First(&sub, "id = ?", subscriptionID).Error; err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusDepleted && sub.RemainingBalance.IsPositive() {
		sub.Status = enums.SubscriptionStatusActive
		if err := tx.WithContext(ctx).Model(&models.Subscription{}).
			Where("id = ?", sub.ID).
			Update("status", enums.SubscriptionStatusActive).Error; err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

// SelectPayable picks the subscription to charge for the given amount. When
// preferredID is set it must belong to the user, be ACTIVE and cover the
// amount. Otherwise the ACTIVE subscription with the highest remaining balance
// that covers the amount wins. The combined remaining balance and the number
// of ACTIVE subscriptions come back alongside, for error reporting.
func SelectPayable(ctx context.Context, tx *gorm.DB, userID uuid.UUID, required decimal.Decimal, preferredID *uuid.UUID) (*models.Subscription, decimal.Decimal, int, error) {
	var candidates []models.Subscription
	if err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		Order("remaining_balance DESC").
		Find(&candidates).Error; err != nil {
		return nil, decimal.Zero, 0, err
	}

	total := decimal.Zero
	for _, sub := range candidates {
		total = total.Add(sub.RemainingBalance)
	}
	count := len(candidates)

	if preferredID != nil {
		for i := range candidates {
			if candidates[i].ID == *preferredID {
				if candidates[i].RemainingBalance.LessThan(required) {
					return nil, total, count, nil
				}
				return &candidates[i], total, count, nil
			}
		}
		return nil, total, count, nil
	}

	for i := range candidates {
		if candidates[i].RemainingBalance.GreaterThanOrEqual(required) {
			return &candidates[i], total, count, nil
		}
	}
	return nil, total, count, nil
}

// SelectExpiringSoonest picks the ACTIVE, unexpired subscription covering the
// amount that expires first. Subscriptions without an expiry sort last.
func SelectExpiringSoonest(ctx context.Context, tx *gorm.DB, userID uuid.UUID, required decimal.Decimal, now time.Time) (*models.Subscription, error) {
	var candidates []models.Subscription
	if err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ? AND remaining_balance >= ?", userID, enums.SubscriptionStatusActive, required).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("expires_at ASC NULLS LAST").
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}
