package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/internal/orders"
	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/gateway"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentInitiator registers an online payment with the card acquirer.
type PaymentInitiator interface {
	Init(ctx context.Context, req gateway.InitRequest) (*gateway.InitResult, error)
}

// Service reconciles gateway payments against the subscription ledger and
// shop orders.
type Service interface {
	InitSubscriptionPayment(ctx context.Context, userID, typeID uuid.UUID) (*models.SubscriptionPayment, error)
	HandleWebhook(ctx context.Context, raw []byte) error
}

type service struct {
	repo       Repository
	ordersRepo orders.Repository
	subs       subscriptions.Service
	subsRepo   subscriptions.Repository
	tx         txRunner
	gateway    PaymentInitiator
	cfg        config.GatewayConfig
	dedup      *WebhookDedup
	metrics    *metrics.WebhookMetrics
	logg       *logger.Logger
}

// NewService wires the payment reconciler. The dedup guard and metrics may be
// nil.
func NewService(
	repo Repository,
	ordersRepo orders.Repository,
	subs subscriptions.Service,
	subsRepo subscriptions.Repository,
	tx txRunner,
	gw PaymentInitiator,
	cfg config.GatewayConfig,
	dedup *WebhookDedup,
	m *metrics.WebhookMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if subs == nil || subsRepo == nil {
		return nil, fmt.Errorf("subscription service and repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:       repo,
		ordersRepo: ordersRepo,
		subs:       subs,
		subsRepo:   subsRepo,
		tx:         tx,
		gateway:    gw,
		cfg:        cfg,
		dedup:      dedup,
		metrics:    m,
		logg:       logg,
	}, nil
}

// InitSubscriptionPayment opens a PENDING purchase for the given type and
// obtains the hosted payment page from the gateway.
func (s *service) InitSubscriptionPayment(ctx context.Context, userID, typeID uuid.UUID) (*models.SubscriptionPayment, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "онлайн-оплата временно недоступна")
	}

	typ, err := s.subsRepo.GetType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "тип абонемента не найден")
	}
	if !typ.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "тип абонемента недоступен для покупки")
	}
	if !typ.Price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "тип абонемента имеет нулевую цену")
	}

	payment := &models.SubscriptionPayment{
		ID:       uuid.New(),
		UserID:   userID,
		TypeID:   typeID,
		Amount:   typ.Price,
		Status:   enums.PaymentStatusPending,
		OrderKey: fmt.Sprintf("sub-%s", uuid.NewString()),
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}

	result, err := s.gateway.Init(ctx, gateway.InitRequest{
		OrderKey:    payment.OrderKey,
		Amount:      payment.Amount,
		Description: fmt.Sprintf("Покупка абонемента «%s»", typ.Name),
		CustomerKey: userID.String(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "не удалось инициировать оплату")
	}

	payment.PaymentID = &result.PaymentID
	payment.PaymentURL = &result.PaymentURL
	if result.Status != "" {
		payment.Status = enums.PaymentStatus(result.Status)
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// HandleWebhook verifies and applies one gateway notification. Terminal
// effects are gated on processed_at/rolled_back_at so at-least-once delivery
// never double-credits or double-rolls-back. Signature verification happens
// before any state is touched.
func (s *service) HandleWebhook(ctx context.Context, raw []byte) error {
	ok, err := gateway.VerifyNotification(raw, s.cfg.Password)
	if err != nil {
		s.count("malformed")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed notification")
	}
	if !ok {
		s.count("invalid_signature")
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "notification signature mismatch")
	}

	var n gateway.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		s.count("malformed")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed notification")
	}
	if n.TerminalKey != s.cfg.TerminalKey {
		s.count("invalid_signature")
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "notification terminal mismatch")
	}

	status := enums.PaymentStatus(n.Status)
	if !s.dedup.Begin(ctx, n.OrderID, n.Status) {
		s.count("duplicate")
		return nil
	}

	err = s.dispatch(ctx, n, status)
	if err != nil {
		s.dedup.Release(ctx, n.OrderID, n.Status)
		s.count("error")
		return err
	}
	s.count("ok")
	return nil
}

// dispatch resolves the notification's target, payment id first, then the
// order key.
func (s *service) dispatch(ctx context.Context, n gateway.Notification, status enums.PaymentStatus) error {
	payment, err := s.repo.GetByPaymentID(ctx, n.PaymentIDString())
	if err != nil {
		return err
	}
	if payment == nil {
		payment, err = s.repo.GetByOrderKey(ctx, n.OrderID)
		if err != nil {
			return err
		}
	}
	if payment != nil {
		return s.applySubscriptionPayment(ctx, payment.ID, n, status)
	}

	order, err := s.ordersRepo.GetByPaymentID(ctx, n.PaymentIDString())
	if err != nil {
		return err
	}
	if order == nil {
		if orderID, parseErr := uuid.Parse(n.OrderID); parseErr == nil {
			order, err = s.ordersRepo.GetByID(ctx, orderID)
			if err != nil {
				return err
			}
		}
	}
	if order != nil {
		return s.applyOrderPayment(ctx, order.ID, status)
	}

	return pkgerrors.Newf(pkgerrors.CodeNotFound, "no payment or order matches notification %q", n.OrderID)
}

func (s *service) applySubscriptionPayment(ctx context.Context, id uuid.UUID, n gateway.Notification, status enums.PaymentStatus) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var payment models.SubscriptionPayment
		if err := tx.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
			return err
		}

		if paymentID := n.PaymentIDString(); paymentID != "" && payment.PaymentID == nil {
			payment.PaymentID = &paymentID
		}

		switch {
		case status.IsSuccess():
			if payment.ProcessedAt != nil {
				return nil
			}
			typ, err := s.subsRepo.WithTx(tx).GetType(ctx, payment.TypeID)
			if err != nil {
				return err
			}
			if typ == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "payment references unknown subscription type")
			}
			sub, err := s.subs.ApplyPurchase(ctx, tx, payment.UserID, typ)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			payment.SubscriptionID = &sub.ID
			payment.ProcessedAt = &now
			payment.Status = status

		case status.IsFailure():
			// Reversal targets the subscription the confirm credited; a
			// payment that never confirmed has nothing to reverse.
			if payment.ProcessedAt != nil && payment.RolledBackAt == nil && payment.SubscriptionID != nil {
				typ, err := s.subsRepo.WithTx(tx).GetType(ctx, payment.TypeID)
				if err != nil {
					return err
				}
				if typ == nil {
					return pkgerrors.New(pkgerrors.CodeInternal, "payment references unknown subscription type")
				}
				if err := s.subs.RollbackPurchase(ctx, tx, payment.UserID, *payment.SubscriptionID, typ.Balance); err != nil {
					return err
				}
				now := time.Now().UTC()
				payment.RolledBackAt = &now
			}
			payment.Status = status

		default:
			// Intermediate statuses, AUTHORIZED included, are recorded only.
			// An authorized payment can still be reversed.
			payment.Status = status
		}

		return repo.Update(ctx, &payment)
	})
}

func (s *service) applyOrderPayment(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)

		order, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "заказ не найден")
		}

		switch {
		case status.IsSuccess():
			if order.Status == enums.OrderStatusPending {
				order.Status = enums.OrderStatusConfirmed
			}
			order.PaymentStatus = &status

		case status.IsFailure():
			if order.Status != enums.OrderStatusCancelled {
				if err := orders.CancelEffects(ctx, tx, order); err != nil {
					return err
				}
				order.Status = enums.OrderStatusCancelled
			}
			order.PaymentStatus = &status

		default:
			order.PaymentStatus = &status
		}

		return repo.Update(ctx, order)
	})
}

func (s *service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Inc(outcome)
	}
}
