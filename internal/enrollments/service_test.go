package enrollments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:enrollments_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.RegularGroup{},
		&models.GroupSession{},
		&models.GroupEnrollment{},
		&models.Booking{},
		&models.Subscription{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	studio := config.StudioConfig{
		UTCOffsetHours:          7,
		SubscriptionDiscountPct: 10,
	}
	svc, err := NewService(NewRepository(conn), db.NewWithConn(conn), nil, studio, nil)
	require.NoError(t, err)
	return svc, conn
}

func seedGroupWithSessions(t *testing.T, conn *gorm.DB, price string, sessionCount int) (*models.RegularGroup, []models.GroupSession) {
	t.Helper()
	group := &models.RegularGroup{
		ID:       uuid.New(),
		Name:     "Живопись маслом",
		Price:    decimal.RequireFromString(price),
		IsActive: true,
	}
	require.NoError(t, conn.Create(group).Error)

	sessions := make([]models.GroupSession, 0, sessionCount)
	for i := 0; i < sessionCount; i++ {
		session := models.GroupSession{
			ID:              uuid.New(),
			GroupID:         group.ID,
			Date:            time.Now().UTC().Add(time.Duration(i+1) * 7 * 24 * time.Hour),
			DurationMinutes: 90,
			Status:          enums.SessionStatusScheduled,
		}
		require.NoError(t, conn.Create(&session).Error)
		sessions = append(sessions, session)
	}
	return group, sessions
}

func seedSubscription(t *testing.T, conn *gorm.DB, userID uuid.UUID, remaining string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             "Стандарт",
		TotalBalance:     decimal.RequireFromString("10000"),
		RemainingBalance: decimal.RequireFromString(remaining),
		Price:            decimal.RequireFromString("10000"),
		Status:           enums.SubscriptionStatusActive,
		PurchasedAt:      time.Now().UTC(),
	}
	require.NoError(t, conn.Create(sub).Error)
	return sub
}

func TestEnrollFansOutBookings(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	group, sessions := seedGroupWithSessions(t, conn, "100", 3)
	userID := uuid.New()
	sub := seedSubscription(t, conn, userID, "1000")

	enrollment, err := svc.Enroll(ctx, EnrollInput{
		UserID:       userID,
		GroupID:      group.ID,
		ContactEmail: "member@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, enums.EnrollmentStatusActive, enrollment.Status)
	require.Equal(t, sub.ID, enrollment.SubscriptionID)

	var created []models.Booking
	require.NoError(t, conn.Where("group_enrollment_id = ?", enrollment.ID).Find(&created).Error)
	require.Len(t, created, 3)
	for _, booking := range created {
		require.Equal(t, enums.BookingStatusConfirmed, booking.Status)
		require.True(t, booking.TotalPrice.Equal(decimal.RequireFromString("90")),
			"per-session price = %s, want 90", booking.TotalPrice)
		require.NotNil(t, booking.SubscriptionID)
		require.Equal(t, sub.ID, *booking.SubscriptionID)
	}

	// Fan-out does not debit at enroll time.
	var reloadedSub models.Subscription
	require.NoError(t, conn.First(&reloadedSub, "id = ?", sub.ID).Error)
	require.True(t, reloadedSub.RemainingBalance.Equal(decimal.RequireFromString("1000")))

	for _, session := range sessions {
		var reloaded models.GroupSession
		require.NoError(t, conn.First(&reloaded, "id = ?", session.ID).Error)
		require.Equal(t, 1, reloaded.CurrentParticipants)
	}
}

func TestEnrollFanOutSkipsExistingBookings(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	group, sessions := seedGroupWithSessions(t, conn, "100", 2)
	userID := uuid.New()
	seedSubscription(t, conn, userID, "1000")

	existing := &models.Booking{
		ID:                uuid.New(),
		UserID:            &userID,
		GroupSessionID:    &sessions[0].ID,
		Status:            enums.BookingStatusConfirmed,
		ParticipantsCount: 1,
		TotalPrice:        decimal.RequireFromString("90"),
		PaymentMethod:     enums.PaymentMethodSubscription,
	}
	require.NoError(t, conn.Create(existing).Error)

	enrollment, err := svc.Enroll(ctx, EnrollInput{
		UserID:       userID,
		GroupID:      group.ID,
		ContactEmail: "member@example.com",
	})
	require.NoError(t, err)

	var created int64
	require.NoError(t, conn.Model(&models.Booking{}).
		Where("group_enrollment_id = ?", enrollment.ID).
		Count(&created).Error)
	require.EqualValues(t, 1, created, "only the session without a booking gets one")
}

func TestEnrollRejectsDuplicateActive(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	group, _ := seedGroupWithSessions(t, conn, "100", 1)
	userID := uuid.New()
	seedSubscription(t, conn, userID, "1000")

	_, err := svc.Enroll(ctx, EnrollInput{UserID: userID, GroupID: group.ID, ContactEmail: "a@b.c"})
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, EnrollInput{UserID: userID, GroupID: group.ID, ContactEmail: "a@b.c"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestEnrollRequiresActiveSubscription(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	group, _ := seedGroupWithSessions(t, conn, "100", 1)

	_, err := svc.Enroll(ctx, EnrollInput{UserID: uuid.New(), GroupID: group.ID, ContactEmail: "a@b.c"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeInsufficientBalance, typed.Code())
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	group, _ := seedGroupWithSessions(t, conn, "100", 0)
	userID := uuid.New()
	seedSubscription(t, conn, userID, "1000")

	enrollment, err := svc.Enroll(ctx, EnrollInput{UserID: userID, GroupID: group.ID, ContactEmail: "a@b.c"})
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, enrollment.ID, userID)
	require.NoError(t, err)
	require.Equal(t, enums.EnrollmentStatusPaused, paused.Status)

	// A stranger cannot touch the enrollment.
	_, err = svc.Resume(ctx, enrollment.ID, uuid.New())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	resumed, err := svc.Resume(ctx, enrollment.ID, userID)
	require.NoError(t, err)
	require.Equal(t, enums.EnrollmentStatusActive, resumed.Status)

	cancelled, err := svc.Cancel(ctx, enrollment.ID, userID)
	require.NoError(t, err)
	require.Equal(t, enums.EnrollmentStatusCancelled, cancelled.Status)

	// Resuming a cancelled enrollment is a state conflict.
	_, err = svc.Resume(ctx, enrollment.ID, userID)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestGetUpcomingSessionsPairsBookings(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	group, sessions := seedGroupWithSessions(t, conn, "100", 2)
	userID := uuid.New()
	seedSubscription(t, conn, userID, "1000")

	enrollment, err := svc.Enroll(ctx, EnrollInput{UserID: userID, GroupID: group.ID, ContactEmail: "a@b.c"})
	require.NoError(t, err)

	upcoming, err := svc.GetUpcomingSessions(ctx, enrollment.ID, userID)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	require.Equal(t, sessions[0].ID, upcoming[0].Session.ID)
	for _, item := range upcoming {
		require.NotNil(t, item.Booking)
	}
}
