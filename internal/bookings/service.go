package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier delivers booking lifecycle emails. Failures are logged, never
// surfaced to the caller.
type Notifier interface {
	BookingCreated(ctx context.Context, booking *models.Booking, startsAt time.Time, title string)
	BookingCancelled(ctx context.Context, booking *models.Booking, title string)
}

// Service defines booking engine operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, enforceTimeWindow bool) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) (*models.Booking, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Booking, string, error)
	GetUpcomingForUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
	GetByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier Notifier
	studio   config.StudioConfig
	logg     *logger.Logger
}

// CreateInput captures everything needed to place a booking.
type CreateInput struct {
	UserID            *uuid.UUID
	EventID           *uuid.UUID
	GroupSessionID    *uuid.UUID
	SubscriptionID    *uuid.UUID
	PaymentMethod     enums.PaymentMethod
	ParticipantsCount int
	Participants      []models.Participant
	ContactEmail      string
	ContactPhone      *string
	Notes             *string
}

// NewService wires the booking engine.
func NewService(repo Repository, tx txRunner, notifier Notifier, studio config.StudioConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("booking repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, notifier: notifier, studio: studio, logg: logg}, nil
}

// discountFactor converts the configured percentage into a multiplier.
func (s *service) discountFactor() decimal.Decimal {
	return decimal.NewFromInt(int64(100 - s.studio.SubscriptionDiscountPct)).Div(decimal.NewFromInt(100))
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Booking, error) {
	if (input.EventID == nil) == (input.GroupSessionID == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of event or group session must be set")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", input.PaymentMethod)
	}
	if input.ParticipantsCount <= 0 {
		input.ParticipantsCount = 1
	}
	if len(input.Participants) > 0 && len(input.Participants) != input.ParticipantsCount {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "participants list does not match participants count")
	}
	if input.GroupSessionID != nil && input.PaymentMethod != enums.PaymentMethodSubscription {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "занятия в группах оплачиваются только абонементом")
	}
	if input.PaymentMethod == enums.PaymentMethodSubscription && input.UserID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required for subscription payment")
	}

	var (
		booking *models.Booking
		startAt time.Time
		title   string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var unitPrice decimal.Decimal
		switch {
		case input.EventID != nil:
			event, err := repo.GetEvent(ctx, *input.EventID)
			if err != nil {
				return err
			}
			if event == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "мероприятие не найдено")
			}
			if event.Status != enums.EventStatusPublished {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "мероприятие недоступно для бронирования")
			}
			if err := ClaimEventSeats(ctx, tx, event.ID, input.ParticipantsCount); err != nil {
				return err
			}
			unitPrice = event.Price
			startAt = event.StartDate
			title = event.Title

		default:
			session, err := repo.GetSession(ctx, *input.GroupSessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "занятие не найдено")
			}
			if session.Status == enums.SessionStatusCancelled {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "занятие отменено")
			}
			if session.Group == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "session has no group")
			}
			if err := ClaimSessionSeats(ctx, tx, session.ID, input.ParticipantsCount, session.Group.MaxParticipants); err != nil {
				return err
			}
			unitPrice = session.Group.Price
			startAt = session.Date
			title = session.Group.Name
		}

		price := unitPrice.Mul(decimal.NewFromInt(int64(input.ParticipantsCount)))
		totalPrice := price
		var subscriptionID *uuid.UUID

		if input.PaymentMethod == enums.PaymentMethodSubscription {
			required := price.Mul(s.discountFactor()).Round(2)
			sub, available, count, err := subscriptions.SelectPayable(ctx, tx, *input.UserID, required, input.SubscriptionID)
			if err != nil {
				return err
			}
			if sub == nil {
				if available.IsPositive() {
					return pkgerrors.Newf(pkgerrors.CodeInsufficientBalance,
						"Недостаточно средств на абонементе. Требуется: %s₽ (со скидкой %d%%). У вас есть: %s₽ на %d абонементе(ах)",
						required.StringFixed(0), s.studio.SubscriptionDiscountPct, available.StringFixed(0), count)
				}
				return pkgerrors.Newf(pkgerrors.CodeInsufficientBalance,
					"Недостаточно средств на абонементе. Требуется: %s₽ (со скидкой %d%%). Пожалуйста, пополните баланс абонемента",
					required.StringFixed(0), s.studio.SubscriptionDiscountPct)
			}
			if _, err := subscriptions.Debit(ctx, tx, sub.ID, required); err != nil {
				return err
			}
			totalPrice = required
			subscriptionID = &sub.ID
		}

		booking = &models.Booking{
			ID:                uuid.New(),
			UserID:            input.UserID,
			EventID:           input.EventID,
			GroupSessionID:    input.GroupSessionID,
			SubscriptionID:    subscriptionID,
			Status:            enums.BookingStatusPending,
			ParticipantsCount: input.ParticipantsCount,
			TotalPrice:        totalPrice,
			PaymentMethod:     input.PaymentMethod,
			Participants:      input.Participants,
			ContactEmail:      input.ContactEmail,
			ContactPhone:      input.ContactPhone,
			Notes:             input.Notes,
		}
		return repo.Create(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && booking.ContactEmail != "" {
		s.notifier.BookingCreated(ctx, booking, startAt, title)
	}
	return booking, nil
}

// Cancel reverses a booking's seat and balance effects exactly once. A booking
// that is already CANCELLED is returned as-is.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, enforceTimeWindow bool) (*models.Booking, error) {
	var (
		booking  *models.Booking
		title    string
		reversed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var err error
		booking, err = repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "бронирование не найдено")
		}
		if booking.Status == enums.BookingStatusCancelled {
			return nil
		}

		var startAt time.Time
		switch {
		case booking.Event != nil:
			startAt = booking.Event.StartDate
			title = booking.Event.Title
		case booking.GroupSession != nil:
			startAt = booking.GroupSession.Date
		}

		if enforceTimeWindow && !startAt.IsZero() {
			hoursLeft := time.Until(startAt).Hours()
			window := float64(s.studio.CancellationWindowHours)
			if hoursLeft < window {
				return pkgerrors.Newf(pkgerrors.CodeCancellationWindow,
					"Отмена возможна не позднее чем за %d ч до начала. Осталось: %.1f ч",
					s.studio.CancellationWindowHours, hoursLeft)
			}
		}

		switch {
		case booking.EventID != nil:
			if err := ReleaseEventSeats(ctx, tx, *booking.EventID, booking.ParticipantsCount); err != nil {
				return err
			}
		case booking.GroupSessionID != nil:
			if err := ReleaseSessionSeats(ctx, tx, *booking.GroupSessionID, booking.ParticipantsCount); err != nil {
				return err
			}
		}

		if booking.PaymentMethod == enums.PaymentMethodSubscription && booking.SubscriptionID != nil {
			if _, err := subscriptions.Credit(ctx, tx, *booking.SubscriptionID, booking.TotalPrice); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		booking.Status = enums.BookingStatusCancelled
		booking.CancelledAt = &now
		reversed = true
		return repo.Update(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && reversed && booking.ContactEmail != "" {
		s.notifier.BookingCancelled(ctx, booking, title)
	}
	return booking, nil
}

// UpdateStatus applies an administrative transition, routing cancellations
// through Cancel so reversal effects are never skipped.
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) (*models.Booking, error) {
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid booking status %q", status)
	}
	if status == enums.BookingStatusCancelled {
		return s.Cancel(ctx, id, false)
	}

	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "бронирование не найдено")
	}
	if booking.Status == enums.BookingStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "бронирование уже отменено")
	}
	booking.Status = status
	if err := s.repo.Update(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "бронирование не найдено")
	}
	return booking, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Booking, string, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, "", pkgerrors.Newf(pkgerrors.CodeValidation, "invalid booking status %q", *filters.Status)
	}
	return s.repo.List(ctx, params, filters)
}

func (s *service) GetUpcomingForUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListUpcomingForUser(ctx, userID, time.Now().UTC())
}

func (s *service) GetByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Booking, error) {
	if eventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	return s.repo.ListByEvent(ctx, eventID)
}
