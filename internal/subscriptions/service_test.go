package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	svc, err := NewService(NewRepository(conn), db.NewWithConn(conn), nil, nil)
	require.NoError(t, err)
	return svc, conn
}

func TestApplyPurchaseMintsNewSubscription(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	days := 30
	typ := &models.SubscriptionType{
		ID:           uuid.New(),
		Name:         "Стандарт",
		Price:        decimal.RequireFromString("4800"),
		Balance:      decimal.RequireFromString("4800"),
		ValidityDays: &days,
	}

	sub, err := svc.ApplyPurchase(ctx, conn, userID, typ)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.True(t, sub.RemainingBalance.Equal(typ.Balance))
	require.True(t, sub.TotalBalance.Equal(typ.Balance))
	require.NotNil(t, sub.ExpiresAt)
}

func TestApplyPurchaseMergesIntoActive(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	existing := seedSubscription(t, conn, userID, "200", "1000")

	typ := &models.SubscriptionType{
		ID:      uuid.New(),
		Name:    "Мини",
		Price:   decimal.RequireFromString("1500"),
		Balance: decimal.RequireFromString("1500"),
	}

	sub, err := svc.ApplyPurchase(ctx, conn, userID, typ)
	require.NoError(t, err)
	require.Equal(t, existing.ID, sub.ID)
	require.Equal(t, CombinedName, sub.Name)
	require.True(t, sub.RemainingBalance.Equal(decimal.RequireFromString("1700")))
	require.True(t, sub.TotalBalance.Equal(decimal.RequireFromString("2500")))

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRollbackPurchaseDeletesUnusedDrained(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	sub := seedSubscription(t, conn, userID, "1500", "1500")

	require.NoError(t, svc.RollbackPurchase(ctx, conn, userID, sub.ID, decimal.RequireFromString("1500")))

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", sub.ID).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestRollbackPurchaseCancelsUsedDrained(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	sub := seedSubscription(t, conn, userID, "1500", "1500")

	booking := &models.Booking{
		ID:             uuid.New(),
		UserID:         &userID,
		SubscriptionID: &sub.ID,
		Status:         enums.BookingStatusConfirmed,
		TotalPrice:     decimal.RequireFromString("90"),
		PaymentMethod:  enums.PaymentMethodSubscription,
	}
	eventID := uuid.New()
	booking.EventID = &eventID
	require.NoError(t, conn.Create(booking).Error)

	require.NoError(t, svc.RollbackPurchase(ctx, conn, userID, sub.ID, decimal.RequireFromString("1500")))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, "id = ?", sub.ID).Error)
	require.Equal(t, enums.SubscriptionStatusCancelled, reloaded.Status)
	require.NotNil(t, reloaded.ExpiresAt)
	require.True(t, reloaded.RemainingBalance.IsZero())
}

func TestRollbackPurchaseKeepsPartialRemainder(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	sub := seedSubscription(t, conn, userID, "2000", "2500")

	require.NoError(t, svc.RollbackPurchase(ctx, conn, userID, sub.ID, decimal.RequireFromString("1500")))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, "id = ?", sub.ID).Error)
	require.Equal(t, enums.SubscriptionStatusActive, reloaded.Status)
	require.True(t, reloaded.RemainingBalance.Equal(decimal.RequireFromString("500")))
	require.True(t, reloaded.TotalBalance.Equal(decimal.RequireFromString("1000")))
}

func TestRollbackPurchaseTargetsCreditedSubscription(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	active := seedSubscription(t, conn, userID, "500", "500")
	depleted := seedSubscription(t, conn, userID, "0", "1000")
	depleted.Status = enums.SubscriptionStatusDepleted
	depleted.PurchasedAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, conn.Save(depleted).Error)

	typ := &models.SubscriptionType{
		ID:      uuid.New(),
		Name:    "Стандарт",
		Price:   decimal.RequireFromString("1500"),
		Balance: decimal.RequireFromString("1500"),
	}
	sub, err := svc.ApplyPurchase(ctx, conn, userID, typ)
	require.NoError(t, err)
	require.Equal(t, active.ID, sub.ID)

	require.NoError(t, svc.RollbackPurchase(ctx, conn, userID, sub.ID, typ.Balance))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, "id = ?", active.ID).Error)
	require.True(t, reloaded.RemainingBalance.Equal(decimal.RequireFromString("500")))
	require.True(t, reloaded.TotalBalance.Equal(decimal.RequireFromString("500")))

	var untouched models.Subscription
	require.NoError(t, conn.First(&untouched, "id = ?", depleted.ID).Error)
	require.Equal(t, enums.SubscriptionStatusDepleted, untouched.Status)
	require.True(t, untouched.TotalBalance.Equal(decimal.RequireFromString("1000")))
}

func TestRollbackPurchaseIgnoresForeignSubscription(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	sub := seedSubscription(t, conn, uuid.New(), "1500", "1500")

	require.NoError(t, svc.RollbackPurchase(ctx, conn, uuid.New(), sub.ID, decimal.RequireFromString("1500")))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, "id = ?", sub.ID).Error)
	require.True(t, reloaded.RemainingBalance.Equal(decimal.RequireFromString("1500")))
}

func TestExpireDueSweep(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	past := time.Now().UTC().Add(-time.Hour)
	expired := seedSubscription(t, conn, userID, "100", "100")
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", expired.ID).Update("expires_at", past).Error)
	seedSubscription(t, conn, userID, "100", "100")

	count, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, "id = ?", expired.ID).Error)
	require.Equal(t, enums.SubscriptionStatusExpired, reloaded.Status)
}

func TestTopUpUserRaisesMostRecentlyUsed(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	stale := seedSubscription(t, conn, userID, "100", "100")
	fresh := seedSubscription(t, conn, userID, "200", "200")
	long := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, conn.Model(&models.Subscription{}).Where("id = ?", stale.ID).Update("updated_at", long).Error)

	sub, err := svc.TopUpUser(ctx, userID, decimal.RequireFromString("300"))
	require.NoError(t, err)
	require.Equal(t, fresh.ID, sub.ID)
	require.True(t, sub.RemainingBalance.Equal(decimal.RequireFromString("500")))
	require.True(t, sub.TotalBalance.Equal(decimal.RequireFromString("500")))

	var untouched models.Subscription
	require.NoError(t, conn.First(&untouched, "id = ?", stale.ID).Error)
	require.True(t, untouched.RemainingBalance.Equal(decimal.RequireFromString("100")))
}

func TestTopUpUserMintsShellWhenNoneActive(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	sub, err := svc.TopUpUser(ctx, userID, decimal.RequireFromString("1000"))
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.True(t, sub.Price.IsZero())
	require.True(t, sub.RemainingBalance.Equal(decimal.RequireFromString("1000")))
}
