package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/internal/products"
	"github.com/atelierhq/atelier-backend/internal/subscriptions"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/gateway"
	"github.com/atelierhq/atelier-backend/pkg/logger"
	"github.com/atelierhq/atelier-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentInitiator registers an online payment with the card acquirer.
type PaymentInitiator interface {
	Init(ctx context.Context, req gateway.InitRequest) (*gateway.InitResult, error)
}

// Service defines shop order operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) (*models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, params pagination.Params) ([]models.Order, string, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	gateway PaymentInitiator
	logg    *logger.Logger
}

// CreateInput captures a new order request.
type CreateInput struct {
	UserID        uuid.UUID
	Items         []ItemInput
	PaymentMethod enums.PaymentMethod
	Notes         *string
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// NewService wires the order flow. The payment initiator may be nil when
// online payments are disabled.
func NewService(repo Repository, tx txRunner, gw PaymentInitiator, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, gateway: gw, logg: logg}, nil
}

// Create claims stock for every line item, settles payment per the chosen
// method and persists the order PENDING with a pickup QR code. Subscription
// payment debits the soonest-expiring subscription that covers the amount and
// records its id on the order so cancellation can refund the same balance.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", input.PaymentMethod)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		orderID := uuid.New()
		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(input.Items))
		for _, item := range input.Items {
			product, err := products.ClaimStock(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			items = append(items, models.OrderItem{
				ID:        uuid.New(),
				OrderID:   orderID,
				ProductID: product.ID,
				Quantity:  item.Quantity,
				Price:     product.Price,
			})
			total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		order = &models.Order{
			ID:            orderID,
			UserID:        input.UserID,
			Status:        enums.OrderStatusPending,
			TotalAmount:   total,
			PaymentMethod: input.PaymentMethod,
			Notes:         input.Notes,
			Items:         items,
		}

		switch input.PaymentMethod {
		case enums.PaymentMethodSubscription:
			sub, err := subscriptions.SelectExpiringSoonest(ctx, tx, input.UserID, total, time.Now().UTC())
			if err != nil {
				return err
			}
			if sub == nil {
				return pkgerrors.Newf(pkgerrors.CodeInsufficientBalance,
					"Недостаточно средств на абонементе. Требуется: %s₽", total.StringFixed(0))
			}
			if _, err := subscriptions.Debit(ctx, tx, sub.ID, total); err != nil {
				return err
			}
			order.SubscriptionID = &sub.ID

		case enums.PaymentMethodOnline:
			if s.gateway == nil {
				return pkgerrors.New(pkgerrors.CodeDependency, "онлайн-оплата временно недоступна")
			}
			result, err := s.gateway.Init(ctx, gateway.InitRequest{
				OrderKey:    orderID.String(),
				Amount:      total,
				Description: fmt.Sprintf("Заказ №%s", shortOrderRef(orderID)),
				CustomerKey: input.UserID.String(),
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "не удалось инициировать оплату")
			}
			pending := enums.PaymentStatusPending
			order.PaymentID = &result.PaymentID
			order.PaymentURL = &result.PaymentURL
			order.PaymentStatus = &pending
		}

		code, err := qrcode.Encode(orderID.String(), qrcode.Medium, 256)
		if err != nil {
			return fmt.Errorf("encoding pickup code: %w", err)
		}
		order.PickupCode = code

		return repo.Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateStatus applies an administrative transition. Moving into CANCELLED
// restores stock for every line item and, for subscription-paid orders,
// credits the refund back to the debited balance.
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid order status %q", status)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var err error
		order, err = repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "заказ не найден")
		}
		if order.Status == status {
			return nil
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "заказ уже отменён")
		}

		if status == enums.OrderStatusCancelled {
			if err := CancelEffects(ctx, tx, order); err != nil {
				return err
			}
		}

		order.Status = status
		return repo.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelEffects reverses a live order's stock and balance side effects inside
// the caller's transaction. It does not touch the order's status. Orders that
// predate the recorded subscription id refund the user's most recently
// updated ACTIVE or DEPLETED subscription.
func CancelEffects(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	for _, item := range order.Items {
		if err := products.ReleaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	if order.PaymentMethod != enums.PaymentMethodSubscription {
		return nil
	}

	refundTo := order.SubscriptionID
	if refundTo == nil {
		var sub models.Subscription
		err := tx.WithContext(ctx).
			Where("user_id = ? AND status IN ?", order.UserID, []enums.SubscriptionStatus{
				enums.SubscriptionStatusActive,
				enums.SubscriptionStatusDepleted,
			}).
			Order("updated_at DESC").
			First(&sub).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		refundTo = &sub.ID
	}

	_, err := subscriptions.Credit(ctx, tx, *refundTo, order.TotalAmount)
	return err
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "заказ не найден")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) ([]models.Order, string, error) {
	return s.repo.List(ctx, params)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListByUser(ctx, userID, params)
}

// shortOrderRef is the human-facing order reference printed on receipts.
func shortOrderRef(id uuid.UUID) string {
	raw := id.String()
	return raw[:8]
}
