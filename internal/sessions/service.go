package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/internal/bookings"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/studiotime"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier delivers session lifecycle mail. Implementations must be
// best-effort; callers never act on delivery failures.
type Notifier interface {
	SessionCancelled(ctx context.Context, email, groupName string, sessionDate time.Time, reason *string)
}

// Service generates and manages concrete group session occurrences.
type Service interface {
	GenerateAll(ctx context.Context) (int, error)
	GenerateForGroup(ctx context.Context, group *models.RegularGroup, from, to time.Time) (int, error)
	RegenerateForGroup(ctx context.Context, group *models.RegularGroup) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.GroupSession, error)
	ListUpcomingByGroup(ctx context.Context, groupID uuid.UUID) ([]models.GroupSession, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Booking, error)
	CancelSession(ctx context.Context, id uuid.UUID, reason *string) (*models.GroupSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	CompleteDue(ctx context.Context) (int64, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier Notifier
	clock    *studiotime.Clock
	studio   config.StudioConfig
	logg     *logger.Logger
}

// NewService wires the session generator.
func NewService(repo Repository, tx txRunner, notifier Notifier, studio config.StudioConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("session repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		notifier: notifier,
		clock:    studiotime.NewClock(studio.UTCOffsetHours),
		studio:   studio,
		logg:     logg,
	}, nil
}

func (s *service) discountFactor() decimal.Decimal {
	return decimal.NewFromInt(int64(100 - s.studio.SubscriptionDiscountPct)).Div(decimal.NewFromInt(100))
}

// GenerateAll walks every active group and materializes sessions out to the
// configured horizon. A failing group does not stop the sweep; failures are
// accumulated and reported together.
func (s *service) GenerateAll(ctx context.Context) (int, error) {
	groups, err := s.repo.ListActiveGroups(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	horizon := now.AddDate(0, s.studio.SessionHorizonMonths, 0)

	var errs error
	created := 0
	for i := range groups {
		n, err := s.GenerateForGroup(ctx, &groups[i], now, horizon)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("group %s: %w", groups[i].ID, err))
			continue
		}
		created += n
	}
	if s.logg != nil && created > 0 {
		s.logg.Info(s.logg.WithField(ctx, "created", created), "group sessions generated")
	}
	return created, errs
}

// GenerateForGroup materializes the group's schedule between from and to.
// Existing (group, date) rows are skipped, so generation is idempotent; the
// unique index backs this up under concurrent runs. Every created session is
// immediately filled with CONFIRMED bookings for the group's active
// enrollments, same shape as the enroll-time fan-out.
func (s *service) GenerateForGroup(ctx context.Context, group *models.RegularGroup, from, to time.Time) (int, error) {
	if group == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "group is required")
	}
	if days := int(to.Sub(from).Hours() / 24); days > s.maxGenerationDays() {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "generation window exceeds %d days", s.maxGenerationDays())
	}

	created := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = s.generate(ctx, tx, group, from, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *service) generate(ctx context.Context, tx *gorm.DB, group *models.RegularGroup, from, to time.Time) (int, error) {
	if len(group.Schedule) == 0 {
		return 0, nil
	}
	repo := s.repo.WithTx(tx)

	var fresh []models.GroupSession
	for day := s.clock.StartOfDay(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		weekday := int(s.clock.Weekday(day))
		for _, slot := range group.Schedule {
			if slot.DayOfWeek != weekday {
				continue
			}
			date, err := s.clock.At(day, slot.Time)
			if err != nil {
				return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid schedule slot")
			}
			if date.Before(from) || date.After(to) {
				continue
			}
			exists, err := repo.ExistsAt(ctx, group.ID, date)
			if err != nil {
				return 0, err
			}
			if exists {
				continue
			}
			session := models.GroupSession{
				ID:              uuid.New(),
				GroupID:         group.ID,
				Date:            date,
				DurationMinutes: slot.DurationMinutes,
				Status:          enums.SessionStatusScheduled,
			}
			if err := repo.Create(ctx, &session); err != nil {
				if db.IsUniqueViolation(err, "idx_group_sessions_group_date") {
					continue
				}
				return 0, err
			}
			fresh = append(fresh, session)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.fanOutEnrollments(ctx, tx, repo, group, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// fanOutEnrollments books every active enrollment onto the freshly created
// sessions. Balances are not charged; bookings carry the discounted price and
// reference the enrollment's backing subscription, mirroring enroll-time
// fan-out.
func (s *service) fanOutEnrollments(ctx context.Context, tx *gorm.DB, repo Repository, group *models.RegularGroup, sessions []models.GroupSession) error {
	enrollments, err := repo.ListActiveEnrollments(ctx, group.ID)
	if err != nil {
		return err
	}
	for i := range enrollments {
		enr := &enrollments[i]
		participants := len(enr.Participants)
		if participants == 0 {
			participants = 1
		}
		perSession := group.Price.
			Mul(decimal.NewFromInt(int64(participants))).
			Mul(s.discountFactor()).
			Round(2)

		for j := range sessions {
			session := &sessions[j]
			exists, err := repo.HasBookingForSession(ctx, session.ID, enr.UserID)
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
				UserID:            &enr.UserID,
				GroupSessionID:    &session.ID,
				GroupEnrollmentID: &enr.ID,
				SubscriptionID:    &enr.SubscriptionID,
				Status:            enums.BookingStatusConfirmed,
				ParticipantsCount: participants,
				TotalPrice:        perSession,
				PaymentMethod:     enums.PaymentMethodSubscription,
				Participants:      enr.Participants,
				ContactEmail:      enr.ContactEmail,
			}
			if err := repo.CreateBooking(ctx, booking); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegenerateForGroup drops every future session of the group together with
// its bookings and rebuilds the calendar from the current schedule. Used
// after a material schedule change; past sessions stay untouched.
func (s *service) RegenerateForGroup(ctx context.Context, group *models.RegularGroup) (int, error) {
	if group == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "group is required")
	}

	now := time.Now().UTC()
	horizon := now.AddDate(0, s.studio.SessionHorizonMonths, 0)

	created := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		future, err := repo.ListFutureByGroup(ctx, group.ID, now)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(future))
		for i := range future {
			ids = append(ids, future[i].ID)
		}
		if err := repo.DeleteBookingsBySessions(ctx, ids); err != nil {
			return err
		}
		if err := repo.DeleteSessions(ctx, ids); err != nil {
			return err
		}

		created, err = s.generate(ctx, tx, group, now, horizon)
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *service) maxGenerationDays() int {
	if s.studio.MaxGenerationDays > 0 {
		return s.studio.MaxGenerationDays
	}
	return 366
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.GroupSession, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "занятие не найдено")
	}
	return session, nil
}

func (s *service) ListUpcomingByGroup(ctx context.Context, groupID uuid.UUID) ([]models.GroupSession, error) {
	if groupID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group id is required")
	}
	return s.repo.ListUpcomingByGroup(ctx, groupID, time.Now().UTC())
}

// ListParticipants returns the live bookings attached to one occurrence, in
// booking order. The roster view for admins.
func (s *service) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Booking, error) {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLiveBookingsBySession(ctx, session.ID)
}

// CancelSession marks one occurrence CANCELLED and mails every distinct
// enrolled contact. Individual bookings stay live for explicit per-booking
// cancellation, which refunds balances.
func (s *service) CancelSession(ctx context.Context, id uuid.UUID, reason *string) (*models.GroupSession, error) {
	var (
		session  *models.GroupSession
		contacts []string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		session, err = repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if session == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "занятие не найдено")
		}
		if session.Status == enums.SessionStatusCancelled {
			return nil
		}
		session.Status = enums.SessionStatusCancelled
		if err := repo.Update(ctx, session); err != nil {
			return err
		}

		live, err := repo.ListLiveBookingsBySession(ctx, session.ID)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(live))
		for i := range live {
			email := live[i].ContactEmail
			if email == "" {
				continue
			}
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			contacts = append(contacts, email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && len(contacts) > 0 {
		groupName := ""
		if session.Group != nil {
			groupName = session.Group.Name
		}
		for _, email := range contacts {
			s.notifier.SessionCancelled(ctx, email, groupName, session.Date, reason)
		}
	}
	return session, nil
}

// DeleteSession removes an occurrence outright. Refused while any live
// booking points at it; cancel those first (or cancel the session instead).
func (s *service) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if session == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "занятие не найдено")
		}
		live, err := repo.ListLiveBookingsBySession(ctx, session.ID)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "нельзя удалить занятие с активными бронированиями")
		}
		return repo.Delete(ctx, session.ID)
	})
}

// CompleteDue sweeps past SCHEDULED sessions into COMPLETED.
func (s *service) CompleteDue(ctx context.Context) (int64, error) {
	return s.repo.CompleteDue(ctx, time.Now().UTC())
}
