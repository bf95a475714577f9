package enrollments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/internal/bookings"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier delivers enrollment confirmation emails.
type Notifier interface {
	EnrollmentCreated(ctx context.Context, enrollment *models.GroupEnrollment, groupName string, nearest *time.Time)
}

// UpcomingSession pairs a session with the enrolled user's booking for it.
type UpcomingSession struct {
	Session models.GroupSession `json:"session"`
	Booking *models.Booking     `json:"booking"`
}

// Service defines standing enrollment operations.
type Service interface {
	Enroll(ctx context.Context, input EnrollInput) (*models.GroupEnrollment, error)
	Cancel(ctx context.Context, id, userID uuid.UUID) (*models.GroupEnrollment, error)
	Pause(ctx context.Context, id, userID uuid.UUID) (*models.GroupEnrollment, error)
	Resume(ctx context.Context, id, userID uuid.UUID) (*models.GroupEnrollment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.GroupEnrollment, error)
	GetUpcomingSessions(ctx context.Context, id, userID uuid.UUID) ([]UpcomingSession, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier Notifier
	studio   config.StudioConfig
	logg     *logger.Logger
}

// EnrollInput captures a request to join a recurring group.
type EnrollInput struct {
	UserID       uuid.UUID
	GroupID      uuid.UUID
	Participants []models.Participant
	ContactEmail string
	Notes        *string
}

// NewService wires the enrollment engine.
func NewService(repo Repository, tx txRunner, notifier Notifier, studio config.StudioConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("enrollment repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, notifier: notifier, studio: studio, logg: logg}, nil
}

func (s *service) discountFactor() decimal.Decimal {
	return decimal.NewFromInt(int64(100 - s.studio.SubscriptionDiscountPct)).Div(decimal.NewFromInt(100))
}

// Enroll creates the standing enrollment and immediately fans out CONFIRMED
// bookings for every future scheduled session of the group. Sessions the user
// already holds a booking for are skipped, so re-running the fan-out is safe.
// Balances are not charged here; each created booking carries the discounted
// per-session price and references the backing subscription.
func (s *service) Enroll(ctx context.Context, input EnrollInput) (*models.GroupEnrollment, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if input.ContactEmail == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contact email is required")
	}
	participants := len(input.Participants)
	if participants == 0 {
		participants = 1
	}

	var (
		enrollment *models.GroupEnrollment
		groupName  string
		nearest    *time.Time
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		group, err := repo.GetGroup(ctx, input.GroupID)
		if err != nil {
			return err
		}
		if group == nil || !group.IsActive {
			return pkgerrors.New(pkgerrors.CodeNotFound, "группа не найдена или неактивна")
		}
		groupName = group.Name

		existing, err := repo.GetActive(ctx, input.UserID, input.GroupID)
		if err != nil {
			return err
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "вы уже записаны в эту группу")
		}

		var subs []models.Subscription
		if err := tx.WithContext(ctx).
			Where("user_id = ? AND status = ? AND remaining_balance > 0", input.UserID, enums.SubscriptionStatusActive).
			Order("remaining_balance DESC").
			Find(&subs).Error; err != nil {
			return err
		}
		if len(subs) == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "для записи в группу нужен активный абонемент с положительным балансом")
		}
		sub := subs[0]

		enrollment = &models.GroupEnrollment{
			ID:             uuid.New(),
			UserID:         input.UserID,
			GroupID:        input.GroupID,
			SubscriptionID: sub.ID,
			Status:         enums.EnrollmentStatusActive,
			Participants:   input.Participants,
			ContactEmail:   input.ContactEmail,
			Notes:          input.Notes,
		}
		if err := repo.Create(ctx, enrollment); err != nil {
			return err
		}

		sessions, err := repo.ListFutureSessions(ctx, input.GroupID, time.Now().UTC())
		if err != nil {
			return err
		}
		perSession := group.Price.
			Mul(decimal.NewFromInt(int64(participants))).
			Mul(s.discountFactor()).
			Round(2)

		for i := range sessions {
			session := &sessions[i]
			exists, err := repo.HasBookingForSession(ctx, session.ID, input.UserID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := bookings.ClaimSessionSeats(ctx, tx, session.ID, participants, group.MaxParticipants); err != nil {
				return err
			}
			booking := &models.Booking{
				ID:                uuid.New(),
				UserID:            &input.UserID,
				GroupSessionID:    &session.ID,
				GroupEnrollmentID: &enrollment.ID,
				SubscriptionID:    &sub.ID,
				Status:            enums.BookingStatusConfirmed,
				ParticipantsCount: participants,
				TotalPrice:        perSession,
				PaymentMethod:     enums.PaymentMethodSubscription,
				Participants:      input.Participants,
				ContactEmail:      input.ContactEmail,
			}
			if err := repo.CreateBooking(ctx, booking); err != nil {
				return err
			}
			if nearest == nil {
				nearest = &session.Date
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.EnrollmentCreated(ctx, enrollment, groupName, nearest)
	}
	return enrollment, nil
}

func (s *service) transition(ctx context.Context, id, userID uuid.UUID, from []enums.EnrollmentStatus, to enums.EnrollmentStatus) (*models.GroupEnrollment, error) {
	enrollment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "запись не найдена")
	}
	if enrollment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "запись принадлежит другому пользователю")
	}
	if enrollment.Status == to {
		return enrollment, nil
	}
	allowed := false
	for _, status := range from {
		if enrollment.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "переход из статуса %s недоступен", enrollment.Status)
	}
	enrollment.Status = to
	if err := s.repo.Update(ctx, enrollment); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Cancel ends the standing enrollment. Already-created session bookings stay
// live; cancelling them is a separate per-session action.
func (s *service) Cancel(ctx context.Context, id, userID uuid.UUID) (*models.GroupEnrollment, error) {
	return s.transition(ctx, id, userID,
		[]enums.EnrollmentStatus{enums.EnrollmentStatusActive, enums.EnrollmentStatusPaused},
		enums.EnrollmentStatusCancelled)
}

func (s *service) Pause(ctx context.Context, id, userID uuid.UUID) (*models.GroupEnrollment, error) {
	return s.transition(ctx, id, userID,
		[]enums.EnrollmentStatus{enums.EnrollmentStatusActive},
		enums.EnrollmentStatusPaused)
}

func (s *service) Resume(ctx context.Context, id, userID uuid.UUID) (*models.GroupEnrollment, error) {
	return s.transition(ctx, id, userID,
		[]enums.EnrollmentStatus{enums.EnrollmentStatusPaused},
		enums.EnrollmentStatusActive)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.GroupEnrollment, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListByUser(ctx, userID)
}

// GetUpcomingSessions returns the enrollment's future scheduled sessions with
// this user's booking for each, when one exists.
func (s *service) GetUpcomingSessions(ctx context.Context, id, userID uuid.UUID) ([]UpcomingSession, error) {
	enrollment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "запись не найдена")
	}
	if enrollment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "запись принадлежит другому пользователю")
	}

	sessions, err := s.repo.ListFutureSessions(ctx, enrollment.GroupID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	result := make([]UpcomingSession, 0, len(sessions))
	for i := range sessions {
		booking, err := s.repo.BookingForSession(ctx, sessions[i].ID, userID)
		if err != nil {
			return nil, err
		}
		result = append(result, UpcomingSession{Session: sessions[i], Booking: booking})
	}
	return result, nil
}
