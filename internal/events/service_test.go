package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	dsn := "file:events_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Event{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, conn
}

func createEvent(t *testing.T, svc Service) *models.Event {
	t.Helper()
	start := time.Now().UTC().Add(72 * time.Hour)
	event, err := svc.Create(context.Background(), CreateInput{
		Title:           "Мастер-класс по гончарному делу",
		StartDate:       start,
		EndDate:         start.Add(2 * time.Hour),
		MaxParticipants: 10,
		Price:           decimal.RequireFromString("1500"),
	})
	require.NoError(t, err)
	return event
}

func TestCreateStartsDraft(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	event := createEvent(t, svc)
	require.Equal(t, enums.EventStatusDraft, event.Status)
	require.Equal(t, 0, event.CurrentParticipants)
}

func TestPublishAndUpcomingListing(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, svc)

	// Drafts are invisible to the public listing.
	upcoming, err := svc.ListPublishedUpcoming(ctx)
	require.NoError(t, err)
	require.Empty(t, upcoming)

	_, err = svc.UpdateStatus(ctx, event.ID, enums.EventStatusPublished)
	require.NoError(t, err)

	upcoming, err = svc.ListPublishedUpcoming(ctx)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	require.Equal(t, event.ID, upcoming[0].ID)
}

func TestTerminalStatusCannotBeLeft(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, svc)

	_, err := svc.UpdateStatus(ctx, event.ID, enums.EventStatusCancelled)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, event.ID, enums.EventStatusPublished)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestUpdateRefusesShrinkingBelowOccupied(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, svc)
	require.NoError(t, conn.Model(&models.Event{}).Where("id = ?", event.ID).Update("current_participants", 6).Error)

	smaller := 4
	_, err := svc.Update(ctx, event.ID, UpdateInput{MaxParticipants: &smaller})
	require.Error(t, err)
	require.Contains(t, err.Error(), "6")
}

func TestCompleteDueSweep(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, svc)

	_, err := svc.UpdateStatus(ctx, event.ID, enums.EventStatusPublished)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, conn.Model(&models.Event{}).Where("id = ?", event.ID).
		Updates(map[string]any{"start_date": past.Add(-2 * time.Hour), "end_date": past}).Error)

	n, err := svc.CompleteDue(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	reloaded, err := svc.GetByID(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, enums.EventStatusCompleted, reloaded.Status)
}
