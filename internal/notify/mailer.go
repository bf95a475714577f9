// Package notify delivers transactional email. Every send is best-effort:
// failures are logged and never propagated to the caller.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	gomail "gopkg.in/gomail.v2"

	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/studiotime"
)

type userSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer renders and sends the studio's transactional emails over SMTP.
type Mailer struct {
	cfg    config.SMTPConfig
	sender sender
	users  userSource
	clock  *studiotime.Clock
	logg   *logger.Logger
}

// NewMailer builds a Mailer. In test mode no SMTP connection is made and
// messages are only logged.
func NewMailer(cfg config.SMTPConfig, users userSource, clock *studiotime.Clock, logg *logger.Logger) *Mailer {
	m := &Mailer{cfg: cfg, users: users, clock: clock, logg: logg}
	if !cfg.TestMode && cfg.Host != "" {
		m.sender = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	}
	return m
}

// BookingCreated sends the booking confirmation for an event or a group
// session occurrence.
func (m *Mailer) BookingCreated(ctx context.Context, booking *models.Booking, startsAt time.Time, title string) {
	if booking == nil || booking.ContactEmail == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ваше бронирование «%s» принято.\n", title)
	if !startsAt.IsZero() {
		fmt.Fprintf(&b, "Начало: %s\n", m.formatTime(startsAt))
	}
	fmt.Fprintf(&b, "Участников: %d\n", booking.ParticipantsCount)
	fmt.Fprintf(&b, "К оплате: %s₽ (%s)\n", booking.TotalPrice.StringFixed(0), paymentMethodLabel(booking.PaymentMethod))
	if booking.Notes != nil && *booking.Notes != "" {
		fmt.Fprintf(&b, "Комментарий: %s\n", *booking.Notes)
	}
	m.deliver(ctx, booking.ContactEmail, "Бронирование подтверждено", b.String())
}

// BookingCancelled sends the cancellation notice.
func (m *Mailer) BookingCancelled(ctx context.Context, booking *models.Booking, title string) {
	if booking == nil || booking.ContactEmail == "" {
		return
	}
	body := fmt.Sprintf("Ваше бронирование «%s» отменено.\n", title)
	if booking.PaymentMethod == enums.PaymentMethodSubscription {
		body += fmt.Sprintf("На абонемент возвращено %s₽.\n", booking.TotalPrice.StringFixed(0))
	}
	m.deliver(ctx, booking.ContactEmail, "Бронирование отменено", body)
}

// EnrollmentCreated sends one confirmation referencing the nearest upcoming
// session, not one email per generated booking.
func (m *Mailer) EnrollmentCreated(ctx context.Context, enrollment *models.GroupEnrollment, groupName string, nearest *time.Time) {
	if enrollment == nil || enrollment.ContactEmail == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Вы записаны в группу «%s».\n", groupName)
	if nearest != nil {
		fmt.Fprintf(&b, "Ближайшее занятие: %s\n", m.formatTime(*nearest))
	}
	m.deliver(ctx, enrollment.ContactEmail, "Запись в группу подтверждена", b.String())
}

// SessionCancelled notifies one enrolled contact about a cancelled occurrence.
func (m *Mailer) SessionCancelled(ctx context.Context, email, groupName string, sessionDate time.Time, reason *string) {
	if email == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Занятие группы «%s» %s отменено.\n", groupName, m.formatTime(sessionDate))
	if reason != nil && *reason != "" {
		fmt.Fprintf(&b, "Причина: %s\n", *reason)
	}
	m.deliver(ctx, email, "Занятие отменено", b.String())
}

// BalanceToppedUp notifies the user about an administrative top-up.
func (m *Mailer) BalanceToppedUp(ctx context.Context, userID uuid.UUID, amount, previous, current decimal.Decimal) {
	if m.users == nil {
		return
	}
	user, err := m.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		m.logFailure(ctx, "balance top-up recipient lookup failed", err)
		return
	}
	body := fmt.Sprintf(
		"%s %s, ваш баланс пополнен на %s₽.\nБыло: %s₽, стало: %s₽.\n",
		user.FirstName, user.LastName,
		amount.StringFixed(0), previous.StringFixed(0), current.StringFixed(0),
	)
	m.deliver(ctx, user.Email, "Баланс пополнен", body)
}

// deliver sends asynchronously so SMTP latency never sits on the request path.
func (m *Mailer) deliver(ctx context.Context, to, subject, body string) {
	if m.cfg.TestMode || m.sender == nil {
		if m.logg != nil {
			m.logg.Info(m.logg.WithField(ctx, "to", to), "email suppressed: "+subject)
		}
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	go func() {
		if err := m.sender.DialAndSend(msg); err != nil {
			m.logFailure(context.WithoutCancel(ctx), "email delivery failed", err)
		}
	}()
}

func (m *Mailer) formatTime(t time.Time) string {
	if m.clock != nil {
		t = t.In(m.clock.Location())
	}
	return t.Format("02.01.2006 15:04")
}

func (m *Mailer) logFailure(ctx context.Context, msg string, err error) {
	if m.logg == nil {
		return
	}
	m.logg.Error(ctx, msg, err)
}

func paymentMethodLabel(method enums.PaymentMethod) string {
	switch method {
	case enums.PaymentMethodSubscription:
		return "оплата с абонемента"
	case enums.PaymentMethodOnline:
		return "онлайн-оплата"
	default:
		return "оплата на месте"
	}
}
