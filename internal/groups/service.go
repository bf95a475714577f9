package groups

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

// SessionPlanner materializes the session calendar for a group. Satisfied by
// the sessions service.
type SessionPlanner interface {
	GenerateForGroup(ctx context.Context, group *models.RegularGroup, from, to time.Time) (int, error)
	RegenerateForGroup(ctx context.Context, group *models.RegularGroup) (int, error)
}

// Service defines administrative operations on recurring groups.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.RegularGroup, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.RegularGroup, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.RegularGroup, error)
	ListActive(ctx context.Context) ([]models.RegularGroup, error)
	List(ctx context.Context) ([]models.RegularGroup, error)
}

type service struct {
	repo    Repository
	planner SessionPlanner
	studio  config.StudioConfig
}

// CreateInput carries the fields an admin sets when creating a group.
type CreateInput struct {
	Name            string
	Description     *string
	Price           decimal.Decimal
	MaxParticipants int
	Schedule        []models.ScheduleSlot
}

// UpdateInput carries optional group mutations; nil fields are left unchanged.
type UpdateInput struct {
	Name            *string
	Description     *string
	Price           *decimal.Decimal
	MaxParticipants *int
	IsActive        *bool
	Schedule        []models.ScheduleSlot
}

// NewService wires a group service. The planner is optional; without it
// groups are created with an empty calendar.
func NewService(repo Repository, planner SessionPlanner, studio config.StudioConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("group repository required")
	}
	return &service{repo: repo, planner: planner, studio: studio}, nil
}

func validateSchedule(schedule []models.ScheduleSlot) error {
	for _, slot := range schedule {
		if slot.DayOfWeek < 0 || slot.DayOfWeek > 6 {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid day of week %d", slot.DayOfWeek)
		}
		if slot.DurationMinutes <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "slot duration must be positive")
		}
	}
	return nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.RegularGroup, error) {
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group name is required")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if err := validateSchedule(input.Schedule); err != nil {
		return nil, err
	}

	group := &models.RegularGroup{
		ID:              uuid.New(),
		Name:            input.Name,
		Description:     input.Description,
		Price:           input.Price,
		MaxParticipants: input.MaxParticipants,
		IsActive:        true,
		Schedule:        input.Schedule,
	}
	if err := s.repo.Create(ctx, group); err != nil {
		return nil, err
	}

	if s.planner != nil && len(group.Schedule) > 0 {
		now := time.Now().UTC()
		horizon := now.AddDate(0, s.studio.SessionHorizonMonths, 0)
		if _, err := s.planner.GenerateForGroup(ctx, group, now, horizon); err != nil {
			// Generation is idempotent; the group exists and a retry fills
			// the calendar.
			return nil, err
		}
	}
	return group, nil
}

// scheduleChanged reports whether the two schedules describe different slot
// sets. Reordering the same slots is not a change.
func scheduleChanged(old, updated []models.ScheduleSlot) bool {
	if len(old) != len(updated) {
		return true
	}
	counts := make(map[string]int, len(old))
	key := func(slot models.ScheduleSlot) string {
		return fmt.Sprintf("%d|%s|%d", slot.DayOfWeek, slot.Time, slot.DurationMinutes)
	}
	for _, slot := range old {
		counts[key(slot)]++
	}
	for _, slot := range updated {
		counts[key(slot)]--
	}
	for _, n := range counts {
		if n != 0 {
			return true
		}
	}
	return false
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.RegularGroup, error) {
	group, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "группа не найдена")
	}

	if input.Name != nil {
		group.Name = *input.Name
	}
	if input.Description != nil {
		group.Description = input.Description
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
		}
		group.Price = *input.Price
	}
	if input.MaxParticipants != nil {
		group.MaxParticipants = *input.MaxParticipants
	}
	if input.IsActive != nil {
		group.IsActive = *input.IsActive
	}
	reschedule := false
	if input.Schedule != nil {
		if err := validateSchedule(input.Schedule); err != nil {
			return nil, err
		}
		reschedule = scheduleChanged(group.Schedule, input.Schedule)
		group.Schedule = input.Schedule
	}

	if err := s.repo.Update(ctx, group); err != nil {
		return nil, err
	}

	// A material schedule change invalidates the future calendar: those
	// sessions and their fan-out bookings are dropped and rebuilt.
	if reschedule && s.planner != nil {
		if _, err := s.planner.RegenerateForGroup(ctx, group); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.RegularGroup, error) {
	group, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "группа не найдена")
	}
	return group, nil
}

func (s *service) ListActive(ctx context.Context) ([]models.RegularGroup, error) {
	return s.repo.ListActive(ctx)
}

func (s *service) List(ctx context.Context) ([]models.RegularGroup, error) {
	return s.repo.List(ctx)
}
