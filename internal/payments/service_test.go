package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/internal/orders"
	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/gateway"
)

var testGatewayCfg = config.GatewayConfig{
	TerminalKey: "atelier_test",
	Password:    "secret",
	BaseURL:     "https://gw.example.com/v2",
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.SubscriptionType{},
		&models.Subscription{},
		&models.SubscriptionPayment{},
		&models.Booking{},
		&models.GroupEnrollment{},
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, gw PaymentInitiator) Service {
	t.Helper()
	subsRepo := subscriptions.NewRepository(conn)
	subsSvc, err := subscriptions.NewService(subsRepo, db.NewWithConn(conn), nil, nil)
	require.NoError(t, err)

	svc, err := NewService(
		NewRepository(conn),
		orders.NewRepository(conn),
		subsSvc,
		subsRepo,
		db.NewWithConn(conn),
		gw,
		testGatewayCfg,
		nil,
		nil,
		nil,
	)
	require.NoError(t, err)
	return svc
}

func seedType(t *testing.T, conn *gorm.DB, price, balance string) *models.SubscriptionType {
	t.Helper()
	days := 60
	typ := &models.SubscriptionType{
		ID:           uuid.New(),
		Name:         "Стандарт",
		Price:        decimal.RequireFromString(price),
		Balance:      decimal.RequireFromString(balance),
		ValidityDays: &days,
		IsActive:     true,
	}
	if err := conn.Create(typ).Error; err != nil {
		t.Fatalf("seed type: %v", err)
	}
	return typ
}

func seedSubscription(t *testing.T, conn *gorm.DB, userID uuid.UUID, remaining, total string, status enums.SubscriptionStatus, ageOffset time.Duration) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             "Стандарт",
		TotalBalance:     decimal.RequireFromString(total),
		RemainingBalance: decimal.RequireFromString(remaining),
		Price:            decimal.RequireFromString(total),
		Status:           status,
		PurchasedAt:      time.Now().UTC().Add(ageOffset),
	}
	if err := conn.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func seedPayment(t *testing.T, conn *gorm.DB, userID uuid.UUID, typ *models.SubscriptionType, paymentID string) *models.SubscriptionPayment {
	t.Helper()
	payment := &models.SubscriptionPayment{
		ID:        uuid.New(),
		UserID:    userID,
		TypeID:    typ.ID,
		Amount:    typ.Price,
		Status:    enums.PaymentStatusPending,
		PaymentID: &paymentID,
		OrderKey:  "sub-" + uuid.NewString(),
	}
	if err := conn.Create(payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return payment
}

// signNotification signs fields the way the gateway does, after a JSON round
// trip so numeric coercion matches what the verifier will see.
func signNotification(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded["Token"] = gateway.ComputeToken(decoded, testGatewayCfg.Password)
	signed, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("marshal signed: %v", err)
	}
	return signed
}

func notification(t *testing.T, orderKey, paymentID, status string) []byte {
	t.Helper()
	return signNotification(t, map[string]any{
		"TerminalKey": testGatewayCfg.TerminalKey,
		"OrderId":     orderKey,
		"PaymentId":   paymentID,
		"Status":      status,
		"Success":     status == "CONFIRMED",
		"Amount":      int64(480000),
	})
}

type fakeGateway struct {
	calls int
}

func (f *fakeGateway) Init(_ context.Context, _ gateway.InitRequest) (*gateway.InitResult, error) {
	f.calls++
	return &gateway.InitResult{
		PaymentID:  "9000001",
		PaymentURL: "https://pay.example.com/9000001",
		Status:     "NEW",
	}, nil
}

func TestInitSubscriptionPayment(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	gw := &fakeGateway{}
	svc := newTestService(t, conn, gw)
	ctx := context.Background()
	typ := seedType(t, conn, "4800", "4800")

	payment, err := svc.InitSubscriptionPayment(ctx, uuid.New(), typ.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gw.calls)
	require.NotNil(t, payment.PaymentID)
	require.Equal(t, "9000001", *payment.PaymentID)
	require.NotNil(t, payment.PaymentURL)
	require.True(t, payment.Amount.Equal(typ.Price))
	require.NotEmpty(t, payment.OrderKey)
}

func TestInitSubscriptionPaymentRejectsInactiveType(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, &fakeGateway{})
	ctx := context.Background()
	typ := seedType(t, conn, "4800", "4800")
	require.NoError(t, conn.Model(typ).Update("is_active", false).Error)

	_, err := svc.InitSubscriptionPayment(ctx, uuid.New(), typ.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestInitSubscriptionPaymentWithoutGateway(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	typ := seedType(t, conn, "4800", "4800")

	_, err := svc.InitSubscriptionPayment(ctx, uuid.New(), typ.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeDependency, typed.Code())
}

func TestWebhookConfirmedAppliesPurchaseOnce(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	userID := uuid.New()
	typ := seedType(t, conn, "4800", "4800")
	payment := seedPayment(t, conn, userID, typ, "7000001")

	body := notification(t, payment.OrderKey, "7000001", "CONFIRMED")
	require.NoError(t, svc.HandleWebhook(ctx, body))
	require.NoError(t, svc.HandleWebhook(ctx, body))

	var subs []models.Subscription
	require.NoError(t, conn.Where("user_id = ?", userID).Find(&subs).Error)
	require.Len(t, subs, 1)
	require.True(t, subs[0].RemainingBalance.Equal(typ.Balance))

	var reloaded models.SubscriptionPayment
	require.NoError(t, conn.First(&reloaded, "id = ?", payment.ID).Error)
	require.NotNil(t, reloaded.ProcessedAt)
	require.Equal(t, enums.PaymentStatusConfirmed, reloaded.Status)
}

func TestWebhookFailureAfterConfirmRollsBackOnce(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	userID := uuid.New()
	typ := seedType(t, conn, "4800", "4800")
	payment := seedPayment(t, conn, userID, typ, "7000002")

	require.NoError(t, svc.HandleWebhook(ctx, notification(t, payment.OrderKey, "7000002", "CONFIRMED")))

	failure := notification(t, payment.OrderKey, "7000002", "REJECTED")
	require.NoError(t, svc.HandleWebhook(ctx, failure))
	require.NoError(t, svc.HandleWebhook(ctx, failure))

	// The purchase minted a fresh untouched subscription, so the rollback
	// drains and deletes it.
	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 0, count)

	var reloaded models.SubscriptionPayment
	require.NoError(t, conn.First(&reloaded, "id = ?", payment.ID).Error)
	require.NotNil(t, reloaded.RolledBackAt)
	require.Equal(t, enums.PaymentStatusRejected, reloaded.Status)
}

func TestWebhookRollbackHitsCreditedSubscription(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	userID := uuid.New()

	// The user already holds an older ACTIVE and a newer DEPLETED
	// subscription; the confirm merges into the ACTIVE one and the
	// failure must reverse exactly that one.
	active := seedSubscription(t, conn, userID, "500", "500", enums.SubscriptionStatusActive, 0)
	depleted := seedSubscription(t, conn, userID, "0", "1000", enums.SubscriptionStatusDepleted, time.Hour)

	typ := seedType(t, conn, "1500", "1500")
	payment := seedPayment(t, conn, userID, typ, "7000007")

	require.NoError(t, svc.HandleWebhook(ctx, notification(t, payment.OrderKey, "7000007", "CONFIRMED")))

	var confirmed models.SubscriptionPayment
	require.NoError(t, conn.First(&confirmed, "id = ?", payment.ID).Error)
	require.NotNil(t, confirmed.SubscriptionID)
	require.Equal(t, active.ID, *confirmed.SubscriptionID)

	require.NoError(t, svc.HandleWebhook(ctx, notification(t, payment.OrderKey, "7000007", "REJECTED")))

	var reloaded models.Subscription
	require.NoError(t, conn.First(&reloaded, "id = ?", active.ID).Error)
	require.True(t, reloaded.RemainingBalance.Equal(decimal.RequireFromString("500")))
	require.True(t, reloaded.TotalBalance.Equal(decimal.RequireFromString("500")))

	var untouched models.Subscription
	require.NoError(t, conn.First(&untouched, "id = ?", depleted.ID).Error)
	require.Equal(t, enums.SubscriptionStatusDepleted, untouched.Status)
	require.True(t, untouched.TotalBalance.Equal(decimal.RequireFromString("1000")))
}

func TestWebhookFailureWithoutConfirmStoresStatusOnly(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	userID := uuid.New()
	typ := seedType(t, conn, "4800", "4800")
	payment := seedPayment(t, conn, userID, typ, "7000003")

	require.NoError(t, svc.HandleWebhook(ctx, notification(t, payment.OrderKey, "7000003", "REJECTED")))

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 0, count)

	var reloaded models.SubscriptionPayment
	require.NoError(t, conn.First(&reloaded, "id = ?", payment.ID).Error)
	require.Nil(t, reloaded.RolledBackAt)
	require.Equal(t, enums.PaymentStatusRejected, reloaded.Status)
}

func TestWebhookIntermediateStatusIsNotFinal(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	userID := uuid.New()
	typ := seedType(t, conn, "4800", "4800")
	payment := seedPayment(t, conn, userID, typ, "7000004")

	require.NoError(t, svc.HandleWebhook(ctx, notification(t, payment.OrderKey, "7000004", "AUTHORIZED")))

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 0, count)

	var reloaded models.SubscriptionPayment
	require.NoError(t, conn.First(&reloaded, "id = ?", payment.ID).Error)
	require.Nil(t, reloaded.ProcessedAt)
	require.Equal(t, enums.PaymentStatus("AUTHORIZED"), reloaded.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()
	userID := uuid.New()
	typ := seedType(t, conn, "4800", "4800")
	payment := seedPayment(t, conn, userID, typ, "7000005")

	body := notification(t, payment.OrderKey, "7000005", "CONFIRMED")
	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	fields["Amount"] = int64(1)
	tampered, err := json.Marshal(fields)
	require.NoError(t, err)

	err = svc.HandleWebhook(ctx, tampered)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeInvalidSignature, typed.Code())

	var count int64
	require.NoError(t, conn.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestWebhookUnknownOrder(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()

	err := svc.HandleWebhook(ctx, notification(t, "sub-"+uuid.NewString(), "7009999", "CONFIRMED"))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestWebhookOrderFailureRestoresStock(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()

	product := &models.Product{
		ID:       uuid.New(),
		Name:     "Глина",
		Price:    decimal.RequireFromString("350"),
		Stock:    8,
		IsActive: true,
	}
	require.NoError(t, conn.Create(product).Error)

	paymentID := "8000001"
	pending := enums.PaymentStatusPending
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Status:        enums.OrderStatusPending,
		TotalAmount:   decimal.RequireFromString("700"),
		PaymentMethod: enums.PaymentMethodOnline,
		PaymentID:     &paymentID,
		PaymentStatus: &pending,
		Items: []models.OrderItem{{
			ID:        uuid.New(),
			ProductID: product.ID,
			Quantity:  2,
			Price:     product.Price,
		}},
	}
	require.NoError(t, conn.Create(order).Error)

	require.NoError(t, svc.HandleWebhook(ctx, notification(t, order.ID.String(), paymentID, "REJECTED")))

	var reloadedOrder models.Order
	require.NoError(t, conn.First(&reloadedOrder, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusCancelled, reloadedOrder.Status)

	var reloadedProduct models.Product
	require.NoError(t, conn.First(&reloadedProduct, "id = ?", product.ID).Error)
	require.Equal(t, 10, reloadedProduct.Stock)
}

func TestWebhookOrderConfirmed(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()

	paymentID := "8000002"
	pending := enums.PaymentStatusPending
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Status:        enums.OrderStatusPending,
		TotalAmount:   decimal.RequireFromString("350"),
		PaymentMethod: enums.PaymentMethodOnline,
		PaymentID:     &paymentID,
		PaymentStatus: &pending,
	}
	require.NoError(t, conn.Create(order).Error)

	body := notification(t, order.ID.String(), paymentID, "CONFIRMED")
	require.NoError(t, svc.HandleWebhook(ctx, body))
	require.NoError(t, svc.HandleWebhook(ctx, body))

	var reloaded models.Order
	require.NoError(t, conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
	require.Equal(t, enums.PaymentStatusConfirmed, *reloaded.PaymentStatus)
}
