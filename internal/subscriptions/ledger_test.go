package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:subscriptions_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Subscription{},
		&models.SubscriptionType{},
		&models.Booking{},
		&models.GroupEnrollment{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, userID uuid.UUID, remaining, total string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             "Стандарт",
		TotalBalance:     decimal.RequireFromString(total),
		RemainingBalance: decimal.RequireFromString(remaining),
		Price:            decimal.RequireFromString(total),
		Status:           enums.SubscriptionStatusActive,
		PurchasedAt:      time.Now().UTC(),
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func TestDebitAndDepletion(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	sub := seedSubscription(t, db, uuid.New(), "90", "1000")

	got, err := Debit(ctx, db, sub.ID, decimal.RequireFromString("90"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !got.RemainingBalance.IsZero() {
		t.Fatalf("remaining = %s, want 0", got.RemainingBalance)
	}

	var reloaded models.Subscription
	if err := db.First(&reloaded, "id = ?", sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != enums.SubscriptionStatusDepleted {
		t.Fatalf("status = %s, want DEPLETED", reloaded.Status)
	}
	if !reloaded.TotalBalance.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("total balance changed: %s", reloaded.TotalBalance)
	}
}

func TestDebitRefusesOverdraw(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	sub := seedSubscription(t, db, uuid.New(), "50", "1000")

	_, err := Debit(ctx, db, sub.ID, decimal.RequireFromString("90"))
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientBalance {
		t.Fatalf("unexpected error: %v", err)
	}

	var reloaded models.Subscription
	if err := db.First(&reloaded, "id = ?", sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.RemainingBalance.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("balance mutated on failed debit: %s", reloaded.RemainingBalance)
	}
}

func TestCreditRevivesDepleted(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	sub := seedSubscription(t, db, uuid.New(), "90", "1000")

	if _, err := Debit(ctx, db, sub.ID, decimal.RequireFromString("90")); err != nil {
		t.Fatalf("debit: %v", err)
	}
	got, err := Credit(ctx, db, sub.ID, decimal.RequireFromString("90"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status = %s, want ACTIVE", got.Status)
	}
	if !got.RemainingBalance.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("remaining = %s, want 90", got.RemainingBalance)
	}
}

func TestSelectPayablePrefersHighestBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	userID := uuid.New()
	seedSubscription(t, db, userID, "100", "1000")
	rich := seedSubscription(t, db, userID, "500", "1000")

	sub, total, count, err := SelectPayable(ctx, db, userID, decimal.RequireFromString("90"), nil)
	if err != nil {
		t.Fatalf("select payable: %v", err)
	}
	if sub == nil || sub.ID != rich.ID {
		t.Fatalf("expected subscription with highest balance")
	}
	if !total.Equal(decimal.RequireFromString("600")) {
		t.Fatalf("total available = %s, want 600", total)
	}
	if count != 2 {
		t.Fatalf("active subscription count = %d, want 2", count)
	}
}

func TestSelectPayableHonorsPreferred(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	userID := uuid.New()
	poor := seedSubscription(t, db, userID, "100", "1000")
	seedSubscription(t, db, userID, "500", "1000")

	sub, _, _, err := SelectPayable(ctx, db, userID, decimal.RequireFromString("90"), &poor.ID)
	if err != nil {
		t.Fatalf("select payable: %v", err)
	}
	if sub == nil || sub.ID != poor.ID {
		t.Fatal("expected the preferred subscription to win")
	}

	// The preferred subscription cannot cover the amount: no fallback.
	sub, _, _, err = SelectPayable(ctx, db, userID, decimal.RequireFromString("200"), &poor.ID)
	if err != nil {
		t.Fatalf("select payable: %v", err)
	}
	if sub != nil {
		t.Fatal("expected no subscription when preferred cannot cover")
	}
}
