package sessions

import (
	"context"
	"sync"
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
	dsn := "file:sessions_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.RegularGroup{},
		&models.GroupSession{},
		&models.GroupEnrollment{},
		&models.Subscription{},
		&models.Event{},
		&models.Booking{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

type recordedCancellation struct {
	Email     string
	GroupName string
	Date      time.Time
	Reason    *string
}

type fakeNotifier struct {
	mu        sync.Mutex
	cancelled []recordedCancellation
}

func (f *fakeNotifier) SessionCancelled(_ context.Context, email, groupName string, sessionDate time.Time, reason *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, recordedCancellation{
		Email:     email,
		GroupName: groupName,
		Date:      sessionDate,
		Reason:    reason,
	})
}

func newTestService(t *testing.T, notifier Notifier) (Service, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	studio := config.StudioConfig{
		UTCOffsetHours:          7,
		SessionHorizonMonths:    6,
		MaxGenerationDays:       366,
		SubscriptionDiscountPct: 10,
	}
	svc, err := NewService(NewRepository(conn), db.NewWithConn(conn), notifier, studio, nil)
	require.NoError(t, err)
	return svc, conn
}

func seedGroup(t *testing.T, conn *gorm.DB, schedule []models.ScheduleSlot) *models.RegularGroup {
	t.Helper()
	group := &models.RegularGroup{
		ID:              uuid.New(),
		Name:            "Гончарная студия",
		Price:           decimal.RequireFromString("100"),
		MaxParticipants: 10,
		IsActive:        true,
		Schedule:        schedule,
	}
	require.NoError(t, conn.Create(group).Error)
	return group
}

func seedEnrollment(t *testing.T, conn *gorm.DB, groupID uuid.UUID, participants int, email string) *models.GroupEnrollment {
	t.Helper()
	people := make([]models.Participant, 0, participants)
	for i := 0; i < participants; i++ {
		people = append(people, models.Participant{Name: "Участник"})
	}
	enr := &models.GroupEnrollment{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		GroupID:        groupID,
		SubscriptionID: uuid.New(),
		Status:         enums.EnrollmentStatusActive,
		Participants:   people,
		ContactEmail:   email,
	}
	require.NoError(t, conn.Create(enr).Error)
	return enr
}

func TestGenerateForGroupCreatesWeeklySessions(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, []models.ScheduleSlot{
		{DayOfWeek: 1, Time: "18:00", DurationMinutes: 90},
		{DayOfWeek: 4, Time: "19:30", DurationMinutes: 60},
	})

	from := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	created, err := svc.GenerateForGroup(ctx, group, from, to)
	require.NoError(t, err)
	require.Equal(t, 4, created, "two slots per week over two weeks")

	var sessions []models.GroupSession
	require.NoError(t, conn.Where("group_id = ?", group.ID).Order("date ASC").Find(&sessions).Error)
	require.Len(t, sessions, 4)
	for _, session := range sessions {
		require.Equal(t, enums.SessionStatusScheduled, session.Status)
		require.False(t, session.Date.Before(from))
		require.False(t, session.Date.After(to))
	}
}

func TestGenerateForGroupIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, []models.ScheduleSlot{
		{DayOfWeek: 2, Time: "10:00", DurationMinutes: 120},
	})

	from := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	first, err := svc.GenerateForGroup(ctx, group, from, to)
	require.NoError(t, err)
	require.Greater(t, first, 0)

	second, err := svc.GenerateForGroup(ctx, group, from, to)
	require.NoError(t, err)
	require.Equal(t, 0, second, "second run must create nothing")

	var count int64
	require.NoError(t, conn.Model(&models.GroupSession{}).Where("group_id = ?", group.ID).Count(&count).Error)
	require.EqualValues(t, first, count)
}

func TestGenerateForGroupRejectsOversizedWindow(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	group := &models.RegularGroup{
		ID:       uuid.New(),
		Schedule: []models.ScheduleSlot{{DayOfWeek: 1, Time: "18:00", DurationMinutes: 60}},
	}

	from := time.Now().UTC()
	_, err := svc.GenerateForGroup(ctx, group, from, from.AddDate(2, 0, 0))
	require.Error(t, err)
}

func TestGenerateFanOutBooksActiveEnrollments(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, []models.ScheduleSlot{
		{DayOfWeek: 3, Time: "18:00", DurationMinutes: 90},
	})
	group.Price = decimal.RequireFromString("1000")
	require.NoError(t, conn.Save(group).Error)

	active := seedEnrollment(t, conn, group.ID, 2, "duo@example.com")
	paused := seedEnrollment(t, conn, group.ID, 1, "paused@example.com")
	require.NoError(t, conn.Model(&models.GroupEnrollment{}).
		Where("id = ?", paused.ID).
		Update("status", enums.EnrollmentStatusPaused).Error)

	from := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	created, err := svc.GenerateForGroup(ctx, group, from, from.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Equal(t, 2, created)

	var sessions []models.GroupSession
	require.NoError(t, conn.Where("group_id = ?", group.ID).Find(&sessions).Error)
	require.Len(t, sessions, 2)

	for _, session := range sessions {
		var booked []models.Booking
		require.NoError(t, conn.Where("group_session_id = ?", session.ID).Find(&booked).Error)
		require.Len(t, booked, 1, "only the active enrollment is booked")

		booking := booked[0]
		require.Equal(t, enums.BookingStatusConfirmed, booking.Status)
		require.Equal(t, enums.PaymentMethodSubscription, booking.PaymentMethod)
		require.Equal(t, 2, booking.ParticipantsCount)
		require.Equal(t, "1800", booking.TotalPrice.String(), "1000 x 2 participants with the subscription discount")
		require.Equal(t, active.UserID, *booking.UserID)
		require.Equal(t, active.SubscriptionID, *booking.SubscriptionID)
		require.Equal(t, "duo@example.com", booking.ContactEmail)

		var reloaded models.GroupSession
		require.NoError(t, conn.First(&reloaded, "id = ?", session.ID).Error)
		require.Equal(t, 2, reloaded.CurrentParticipants, "fan-out claims the seats")
	}
}

func TestRegenerateForGroupRebuildsFutureCalendar(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, []models.ScheduleSlot{
		{DayOfWeek: 5, Time: "12:00", DurationMinutes: 60},
	})

	stale := &models.GroupSession{
		ID:              uuid.New(),
		GroupID:         group.ID,
		Date:            time.Now().UTC().Add(72 * time.Hour),
		DurationMinutes: 60,
		Status:          enums.SessionStatusScheduled,
	}
	require.NoError(t, conn.Create(stale).Error)
	userID := uuid.New()
	staleBooking := &models.Booking{
		ID:                uuid.New(),
		UserID:            &userID,
		GroupSessionID:    &stale.ID,
		Status:            enums.BookingStatusConfirmed,
		ParticipantsCount: 1,
		TotalPrice:        decimal.RequireFromString("90"),
		PaymentMethod:     enums.PaymentMethodSubscription,
		ContactEmail:      "old@example.com",
	}
	require.NoError(t, conn.Create(staleBooking).Error)

	created, err := svc.RegenerateForGroup(ctx, group)
	require.NoError(t, err)
	require.Greater(t, created, 0)

	var staleCount int64
	require.NoError(t, conn.Model(&models.GroupSession{}).Where("id = ?", stale.ID).Count(&staleCount).Error)
	require.Zero(t, staleCount, "future session from the old schedule is gone")

	var orphanBookings int64
	require.NoError(t, conn.Model(&models.Booking{}).Where("group_session_id = ?", stale.ID).Count(&orphanBookings).Error)
	require.Zero(t, orphanBookings)

	var total int64
	require.NoError(t, conn.Model(&models.GroupSession{}).Where("group_id = ?", group.ID).Count(&total).Error)
	require.EqualValues(t, created, total)
}

func TestCancelSessionIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, nil)

	session := &models.GroupSession{
		ID:              uuid.New(),
		GroupID:         group.ID,
		Date:            time.Now().UTC().Add(48 * time.Hour),
		DurationMinutes: 60,
		Status:          enums.SessionStatusScheduled,
	}
	require.NoError(t, conn.Create(session).Error)

	cancelled, err := svc.CancelSession(ctx, session.ID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.SessionStatusCancelled, cancelled.Status)

	again, err := svc.CancelSession(ctx, session.ID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.SessionStatusCancelled, again.Status)
}

func TestCancelSessionNotifiesEnrolledContacts(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	svc, conn := newTestService(t, notifier)
	ctx := context.Background()
	group := seedGroup(t, conn, nil)

	session := &models.GroupSession{
		ID:              uuid.New(),
		GroupID:         group.ID,
		Date:            time.Now().UTC().Add(48 * time.Hour),
		DurationMinutes: 60,
		Status:          enums.SessionStatusScheduled,
	}
	require.NoError(t, conn.Create(session).Error)

	emails := []string{"one@example.com", "one@example.com", "two@example.com"}
	for _, email := range emails {
		userID := uuid.New()
		booking := &models.Booking{
			ID:                uuid.New(),
			UserID:            &userID,
			GroupSessionID:    &session.ID,
			Status:            enums.BookingStatusConfirmed,
			ParticipantsCount: 1,
			TotalPrice:        decimal.RequireFromString("90"),
			PaymentMethod:     enums.PaymentMethodSubscription,
			ContactEmail:      email,
		}
		require.NoError(t, conn.Create(booking).Error)
	}

	reason := "преподаватель заболел"
	_, err := svc.CancelSession(ctx, session.ID, &reason)
	require.NoError(t, err)

	require.Len(t, notifier.cancelled, 2, "duplicate contact emails collapse")
	seen := map[string]bool{}
	for _, n := range notifier.cancelled {
		seen[n.Email] = true
		require.Equal(t, group.Name, n.GroupName)
		require.NotNil(t, n.Reason)
		require.Equal(t, reason, *n.Reason)
	}
	require.True(t, seen["one@example.com"])
	require.True(t, seen["two@example.com"])
}

func TestDeleteSessionBlockedByLiveBookings(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, nil)

	session := &models.GroupSession{
		ID:              uuid.New(),
		GroupID:         group.ID,
		Date:            time.Now().UTC().Add(24 * time.Hour),
		DurationMinutes: 60,
		Status:          enums.SessionStatusScheduled,
	}
	require.NoError(t, conn.Create(session).Error)
	userID := uuid.New()
	booking := &models.Booking{
		ID:                uuid.New(),
		UserID:            &userID,
		GroupSessionID:    &session.ID,
		Status:            enums.BookingStatusConfirmed,
		ParticipantsCount: 1,
		TotalPrice:        decimal.RequireFromString("90"),
		PaymentMethod:     enums.PaymentMethodSubscription,
		ContactEmail:      "keep@example.com",
	}
	require.NoError(t, conn.Create(booking).Error)

	err := svc.DeleteSession(ctx, session.ID)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	participants, err := svc.ListParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)

	require.NoError(t, conn.Model(&models.Booking{}).
		Where("id = ?", booking.ID).
		Update("status", enums.BookingStatusCancelled).Error)

	require.NoError(t, svc.DeleteSession(ctx, session.ID))
	var count int64
	require.NoError(t, conn.Model(&models.GroupSession{}).Where("id = ?", session.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestCompleteDueSweep(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t, nil)
	ctx := context.Background()
	group := seedGroup(t, conn, nil)

	past := &models.GroupSession{
		ID:              uuid.New(),
		GroupID:         group.ID,
		Date:            time.Now().UTC().Add(-2 * time.Hour),
		DurationMinutes: 60,
		Status:          enums.SessionStatusScheduled,
	}
	future := &models.GroupSession{
		ID:              uuid.New(),
		GroupID:         group.ID,
		Date:            time.Now().UTC().Add(48 * time.Hour),
		DurationMinutes: 60,
		Status:          enums.SessionStatusScheduled,
	}
	require.NoError(t, conn.Create(past).Error)
	require.NoError(t, conn.Create(future).Error)

	count, err := svc.CompleteDue(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	var reloaded models.GroupSession
	require.NoError(t, conn.First(&reloaded, "id = ?", past.ID).Error)
	require.Equal(t, enums.SessionStatusCompleted, reloaded.Status)
}
