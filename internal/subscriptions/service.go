package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
)

// CombinedName is the display name a subscription takes after a purchase is
// merged into an existing active one.
const CombinedName = "Объединённый абонемент"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier delivers balance top-up emails. Failures are logged, never
// surfaced to the caller.
type Notifier interface {
	BalanceToppedUp(ctx context.Context, userID uuid.UUID, amount, previous, current decimal.Decimal)
}

// Service defines subscription balance operations.
type Service interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error)
	BalanceForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListActiveTypes(ctx context.Context) ([]models.SubscriptionType, error)
	TopUp(ctx context.Context, subscriptionID uuid.UUID, amount decimal.Decimal) (*models.Subscription, error)
	TopUpUser(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Subscription, error)
	ApplyPurchase(ctx context.Context, tx *gorm.DB, userID uuid.UUID, typ *models.SubscriptionType) (*models.Subscription, error)
	RollbackPurchase(ctx context.Context, tx *gorm.DB, userID, subscriptionID uuid.UUID, amount decimal.Decimal) error
	ExpireDue(ctx context.Context) (int64, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier Notifier
	logg     *logger.Logger
}

// NewService wires a subscription service with the provided repository. The
// notifier may be nil.
func NewService(repo Repository, tx txRunner, notifier Notifier, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, notifier: notifier, logg: logg}, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// BalanceForUser sums remaining balance across the user's ACTIVE subscriptions.
func (s *service) BalanceForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, sub := range subs {
		if sub.Status == enums.SubscriptionStatusActive {
			total = total.Add(sub.RemainingBalance)
		}
	}
	return total, nil
}

func (s *service) ListActiveTypes(ctx context.Context) ([]models.SubscriptionType, error) {
	return s.repo.ListActiveTypes(ctx)
}

// TopUp adds funds administratively, raising both balances to keep
// remaining <= total.
func (s *service) TopUp(ctx context.Context, subscriptionID uuid.UUID, amount decimal.Decimal) (*models.Subscription, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}

	var updated *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.GetByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		sub.TotalBalance = sub.TotalBalance.Add(amount)
		sub.RemainingBalance = sub.RemainingBalance.Add(amount)
		if sub.Status == enums.SubscriptionStatusDepleted && sub.RemainingBalance.IsPositive() {
			sub.Status = enums.SubscriptionStatusActive
		}
		if err := repo.Update(ctx, sub); err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TopUpUser adds funds to the user's most recently used ACTIVE subscription,
// minting a zero-price shell when the user has none.
func (s *service) TopUpUser(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}

	var (
		updated  *models.Subscription
		previous decimal.Decimal
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		subs, err := repo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		var target *models.Subscription
		for i := range subs {
			if subs[i].Status != enums.SubscriptionStatusActive {
				continue
			}
			if target == nil || subs[i].UpdatedAt.After(target.UpdatedAt) {
				target = &subs[i]
			}
		}

		if target == nil {
			now := time.Now().UTC()
			target = &models.Subscription{
				ID:               uuid.New(),
				UserID:           userID,
				Name:             "Пополнение баланса",
				TotalBalance:     amount,
				RemainingBalance: amount,
				Price:            decimal.Zero,
				Status:           enums.SubscriptionStatusActive,
				PurchasedAt:      now,
			}
			if err := repo.Create(ctx, target); err != nil {
				return err
			}
			previous = decimal.Zero
			updated = target
			return nil
		}

		previous = target.RemainingBalance
		target.TotalBalance = target.TotalBalance.Add(amount)
		target.RemainingBalance = target.RemainingBalance.Add(amount)
		if err := repo.Update(ctx, target); err != nil {
			return err
		}
		updated = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.BalanceToppedUp(ctx, userID, amount, previous, updated.RemainingBalance)
	}
	return updated, nil
}

// ApplyPurchase credits a confirmed purchase to the user. An existing ACTIVE
// subscription absorbs the new funds and becomes a combined one; otherwise a
// fresh subscription is minted from the type.
func (s *service) ApplyPurchase(ctx context.Context, tx *gorm.DB, userID uuid.UUID, typ *models.SubscriptionType) (*models.Subscription, error) {
	if typ == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription type is required")
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Status != enums.SubscriptionStatusActive {
			continue
		}
		sub := &existing[i]
		sub.TotalBalance = sub.TotalBalance.Add(typ.Balance)
		sub.RemainingBalance = sub.RemainingBalance.Add(typ.Balance)
		sub.Price = sub.Price.Add(typ.Price)
		sub.Name = CombinedName
		if typ.ValidityDays != nil {
			expiry := time.Now().UTC().AddDate(0, 0, *typ.ValidityDays)
			if sub.ExpiresAt == nil || expiry.After(*sub.ExpiresAt) {
				sub.ExpiresAt = &expiry
			}
		}
		if err := repo.Update(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		TypeID:           &typ.ID,
		Name:             typ.Name,
		TotalBalance:     typ.Balance,
		RemainingBalance: typ.Balance,
		Price:            typ.Price,
		Status:           enums.SubscriptionStatusActive,
		PurchasedAt:      now,
	}
	if typ.ValidityDays != nil {
		expiry := now.AddDate(0, 0, *typ.ValidityDays)
		sub.ExpiresAt = &expiry
	}
	if err := repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RollbackPurchase reverses a failed purchase's credit against the exact
// subscription it was applied to. Both balances shrink by amount, floored at
// zero. A drained subscription with no historical usage is deleted outright;
// one with usage is marked CANCELLED.
func (s *service) RollbackPurchase(ctx context.Context, tx *gorm.DB, userID, subscriptionID uuid.UUID, amount decimal.Decimal) error {
	repo := s.repo.WithTx(tx)

	target, err := repo.GetForUser(ctx, subscriptionID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	target.TotalBalance = floorZero(target.TotalBalance.Sub(amount))
	target.RemainingBalance = floorZero(target.RemainingBalance.Sub(amount))

	if target.TotalBalance.IsZero() && target.RemainingBalance.IsZero() {
		used, err := repo.HasUsage(ctx, target.ID)
		if err != nil {
			return err
		}
		if !used {
			return repo.Delete(ctx, target.ID)
		}
		now := time.Now().UTC()
		target.Status = enums.SubscriptionStatusCancelled
		target.ExpiresAt = &now
		return repo.Update(ctx, target)
	}

	if !target.RemainingBalance.IsPositive() {
		target.Status = enums.SubscriptionStatusDepleted
	}
	return repo.Update(ctx, target)
}

// ExpireDue sweeps ACTIVE subscriptions past their expiry.
func (s *service) ExpireDue(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 && s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "expired", count), "subscriptions expired")
	}
	return count, nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
