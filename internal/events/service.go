package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/pagination"
)

// Service defines event administration operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Event, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Event, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EventStatus) (*models.Event, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, params pagination.Params) ([]models.Event, string, error)
	ListPublishedUpcoming(ctx context.Context) ([]models.Event, error)
	CompleteDue(ctx context.Context) (int64, error)
}

type service struct {
	repo Repository
}

// CreateInput carries the fields of a new event. Events start in DRAFT and
// are invisible to booking until published.
type CreateInput struct {
	Title           string
	Description     *string
	StartDate       time.Time
	EndDate         time.Time
	Location        *string
	MaxParticipants int
	Price           decimal.Decimal
}

// UpdateInput carries optional event mutations; nil fields are left unchanged.
type UpdateInput struct {
	Title           *string
	Description     *string
	StartDate       *time.Time
	EndDate         *time.Time
	Location        *string
	MaxParticipants *int
	Price           *decimal.Decimal
}

// NewService wires an event service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("event repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Event, error) {
	if input.Title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event title is required")
	}
	if input.MaxParticipants <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max participants must be positive")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if !input.EndDate.After(input.StartDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event must end after it starts")
	}

	event := &models.Event{
		ID:              uuid.New(),
		Title:           input.Title,
		Description:     input.Description,
		Status:          enums.EventStatusDraft,
		StartDate:       input.StartDate,
		EndDate:         input.EndDate,
		Location:        input.Location,
		MaxParticipants: input.MaxParticipants,
		Price:           input.Price,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Event, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "мероприятие не найдено")
	}

	if input.Title != nil {
		event.Title = *input.Title
	}
	if input.Description != nil {
		event.Description = input.Description
	}
	if input.StartDate != nil {
		event.StartDate = *input.StartDate
	}
	if input.EndDate != nil {
		event.EndDate = *input.EndDate
	}
	if input.Location != nil {
		event.Location = input.Location
	}
	if input.MaxParticipants != nil {
		if *input.MaxParticipants < event.CurrentParticipants {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation,
				"нельзя уменьшить число мест ниже уже занятых (%d)", event.CurrentParticipants)
		}
		event.MaxParticipants = *input.MaxParticipants
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
		}
		event.Price = *input.Price
	}
	if !event.EndDate.After(event.StartDate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event must end after it starts")
	}

	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// UpdateStatus applies an administrative lifecycle transition. Terminal
// statuses cannot be left.
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EventStatus) (*models.Event, error) {
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid event status %q", status)
	}

	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "мероприятие не найдено")
	}
	if event.Status == status {
		return event, nil
	}
	if event.Status == enums.EventStatusCancelled || event.Status == enums.EventStatusCompleted {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "мероприятие уже %s", event.Status)
	}

	event.Status = status
	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "мероприятие не найдено")
	}
	return event, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) ([]models.Event, string, error) {
	return s.repo.List(ctx, params)
}

func (s *service) ListPublishedUpcoming(ctx context.Context) ([]models.Event, error) {
	return s.repo.ListPublishedUpcoming(ctx, time.Now().UTC())
}

func (s *service) CompleteDue(ctx context.Context) (int64, error) {
	return s.repo.CompleteDue(ctx, time.Now().UTC())
}
