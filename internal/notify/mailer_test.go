package notify

import (
	"context"
	"io"
	"mime/quotedprintable"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	gomail "gopkg.in/gomail.v2"

	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	"github.com/atelierhq/atelier-backend/pkg/studiotime"
)

type captureSender struct {
	mu   sync.Mutex
	sent []*gomail.Message
	done chan struct{}
}

func newCaptureSender(expected int) *captureSender {
	return &captureSender{done: make(chan struct{}, expected)}
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, m...)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *captureSender) wait(t *testing.T) *gomail.Message {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type staticUsers struct {
	user *models.User
}

func (s *staticUsers) GetByID(context.Context, uuid.UUID) (*models.User, error) {
	return s.user, nil
}

func newTestMailer(sender *captureSender, users userSource) *Mailer {
	return &Mailer{
		cfg:    config.SMTPConfig{From: "studio@example.com"},
		sender: sender,
		users:  users,
		clock:  studiotime.NewClock(7),
	}
}

func TestBookingCreatedRendersStudioTime(t *testing.T) {
	t.Parallel()

	sender := newCaptureSender(1)
	mailer := newTestMailer(sender, nil)

	booking := &models.Booking{
		ID:                uuid.New(),
		ParticipantsCount: 2,
		TotalPrice:        decimal.RequireFromString("900"),
		PaymentMethod:     enums.PaymentMethodSubscription,
		ContactEmail:      "anna@example.com",
	}
	// 03:00 UTC is 10:00 on the studio's clock.
	start := time.Date(2026, 9, 14, 3, 0, 0, 0, time.UTC)
	mailer.BookingCreated(context.Background(), booking, start, "Гончарный круг")

	msg := sender.wait(t)
	require.Equal(t, []string{"anna@example.com"}, msg.GetHeader("To"))
	require.Contains(t, messageBody(t, msg), "10:00")
	require.Contains(t, messageBody(t, msg), "900₽")
}

func TestBalanceToppedUpLooksUpRecipient(t *testing.T) {
	t.Parallel()

	sender := newCaptureSender(1)
	user := &models.User{
		ID:        uuid.New(),
		Email:     "anna@example.com",
		FirstName: "Анна",
		LastName:  "Иванова",
	}
	mailer := newTestMailer(sender, &staticUsers{user: user})

	mailer.BalanceToppedUp(context.Background(), user.ID,
		decimal.RequireFromString("500"),
		decimal.RequireFromString("100"),
		decimal.RequireFromString("600"))

	msg := sender.wait(t)
	body := messageBody(t, msg)
	require.Contains(t, body, "Анна Иванова")
	require.Contains(t, body, "500₽")
	require.Contains(t, body, "стало: 600₽")
}

func TestTestModeSuppressesDelivery(t *testing.T) {
	t.Parallel()

	sender := newCaptureSender(1)
	mailer := newTestMailer(sender, nil)
	mailer.cfg.TestMode = true

	booking := &models.Booking{ContactEmail: "anna@example.com", TotalPrice: decimal.Zero}
	mailer.BookingCancelled(context.Background(), booking, "Гончарный круг")

	select {
	case <-sender.done:
		t.Fatal("email sent in test mode")
	case <-time.After(100 * time.Millisecond):
	}
}

// messageBody renders the message and decodes its quoted-printable body.
func messageBody(t *testing.T, msg *gomail.Message) string {
	t.Helper()
	var b strings.Builder
	if _, err := msg.WriteTo(&b); err != nil {
		t.Fatalf("render message: %v", err)
	}
	raw := b.String()
	_, body, found := strings.Cut(raw, "\r\n\r\n")
	if !found {
		return raw
	}
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
	if err != nil {
		return body
	}
	return string(decoded)
}
