package groups

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
	"github.com/atelierhq/atelier-backend/pkg/db/models"
)

type fakePlanner struct {
	generated   []uuid.UUID
	regenerated []uuid.UUID
}

func (f *fakePlanner) GenerateForGroup(_ context.Context, group *models.RegularGroup, _, _ time.Time) (int, error) {
	f.generated = append(f.generated, group.ID)
	return 1, nil
}

func (f *fakePlanner) RegenerateForGroup(_ context.Context, group *models.RegularGroup) (int, error) {
	f.regenerated = append(f.regenerated, group.ID)
	return 1, nil
}

func newTestService(t *testing.T) (Service, *fakePlanner, *gorm.DB) {
	t.Helper()
	dsn := "file:groups_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.RegularGroup{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	planner := &fakePlanner{}
	svc, err := NewService(NewRepository(conn), planner, config.StudioConfig{SessionHorizonMonths: 6})
	require.NoError(t, err)
	return svc, planner, conn
}

func TestCreateGeneratesInitialCalendar(t *testing.T) {
	t.Parallel()

	svc, planner, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.Create(ctx, CreateInput{
		Name:            "Керамика для начинающих",
		Price:           decimal.RequireFromString("1200"),
		MaxParticipants: 8,
		Schedule:        []models.ScheduleSlot{{DayOfWeek: 2, Time: "19:00", DurationMinutes: 90}},
	})
	require.NoError(t, err)
	require.True(t, group.IsActive)
	require.Equal(t, []uuid.UUID{group.ID}, planner.generated)
}

func TestCreateWithoutScheduleSkipsGeneration(t *testing.T) {
	t.Parallel()

	svc, planner, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Name:  "Мастер-классы по запросу",
		Price: decimal.RequireFromString("1500"),
	})
	require.NoError(t, err)
	require.Empty(t, planner.generated)
}

func TestUpdateScheduleChangeRegenerates(t *testing.T) {
	t.Parallel()

	svc, planner, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.Create(ctx, CreateInput{
		Name:     "Скульптура",
		Price:    decimal.RequireFromString("2000"),
		Schedule: []models.ScheduleSlot{{DayOfWeek: 1, Time: "18:00", DurationMinutes: 60}},
	})
	require.NoError(t, err)

	_, err = svc.Update(ctx, group.ID, UpdateInput{
		Schedule: []models.ScheduleSlot{{DayOfWeek: 3, Time: "18:00", DurationMinutes: 60}},
	})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{group.ID}, planner.regenerated)
}

func TestUpdateReorderedScheduleDoesNotRegenerate(t *testing.T) {
	t.Parallel()

	svc, planner, _ := newTestService(t)
	ctx := context.Background()

	schedule := []models.ScheduleSlot{
		{DayOfWeek: 1, Time: "18:00", DurationMinutes: 60},
		{DayOfWeek: 4, Time: "19:30", DurationMinutes: 90},
	}
	group, err := svc.Create(ctx, CreateInput{
		Name:     "Живопись",
		Price:    decimal.RequireFromString("900"),
		Schedule: schedule,
	})
	require.NoError(t, err)

	reordered := []models.ScheduleSlot{schedule[1], schedule[0]}
	_, err = svc.Update(ctx, group.ID, UpdateInput{Schedule: reordered})
	require.NoError(t, err)
	require.Empty(t, planner.regenerated, "same slot set in another order is not a schedule change")
}

func TestUpdatePriceOnlyDoesNotRegenerate(t *testing.T) {
	t.Parallel()

	svc, planner, conn := newTestService(t)
	ctx := context.Background()

	group, err := svc.Create(ctx, CreateInput{
		Name:     "Графика",
		Price:    decimal.RequireFromString("700"),
		Schedule: []models.ScheduleSlot{{DayOfWeek: 5, Time: "17:00", DurationMinutes: 60}},
	})
	require.NoError(t, err)

	price := decimal.RequireFromString("850")
	updated, err := svc.Update(ctx, group.ID, UpdateInput{Price: &price})
	require.NoError(t, err)
	require.True(t, price.Equal(updated.Price))
	require.Empty(t, planner.regenerated)

	var reloaded models.RegularGroup
	require.NoError(t, conn.First(&reloaded, "id = ?", group.ID).Error)
	require.True(t, price.Equal(reloaded.Price))
}
