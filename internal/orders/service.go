package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/pubsub"
)

// ErrInvalidInput marks request validation failures, mapped to 400 at the
// handler edge.
var ErrInvalidInput = errors.New("invalid input")

// EventPublisher is the durable leg of the update channel; satisfied by
// messaging.Producer. A nil publisher disables it (local runs, tests).
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// AssignmentReader reports which salesman currently holds the active
// assignment for an order; empty when none does.
type AssignmentReader interface {
	ActiveSalesman(ctx context.Context, orderID string) (string, error)
}

// WalletCharger debits a customer wallet; returns
// domain.ErrInsufficientFunds when the balance cannot cover the amount.
type WalletCharger interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal, description string) error
}

type Service struct {
	repo        Repository
	assignments AssignmentReader
	wallet      WalletCharger
	hub         *pubsub.Hub
	producer    EventPublisher
	logger      *slog.Logger
}

func NewService(repo Repository, assignments AssignmentReader, wallet WalletCharger, hub *pubsub.Hub, producer EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		assignments: assignments,
		wallet:      wallet,
		hub:         hub,
		producer:    producer,
		logger:      logger,
	}
}

type CheckoutInput struct {
	Items             []domain.CartItem
	PaymentMethod     domain.PaymentMethod
	SelectedAddressID string
}

// Checkout creates an order for the calling customer. Wallet payments are
// debited up front; card capture is settled by the external provider and
// COD stays unpaid until delivery.
func (s *Service) Checkout(ctx context.Context, actor domain.Actor, input CheckoutInput) (*domain.Order, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers place orders", domain.ErrUnauthorized)
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	}
	if !input.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, input.PaymentMethod)
	}

	total := decimal.Zero
	for i := range input.Items {
		if input.Items[i].Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s has non-positive quantity", ErrInvalidInput, input.Items[i].ProductID)
		}
		input.Items[i].Status = domain.OrderStatusPending
		total = total.Add(input.Items[i].Price.Mul(decimal.NewFromInt(int64(input.Items[i].Quantity))))
	}

	order := &domain.Order{
		ID:                newOrderID(),
		CustomerID:        actor.ID,
		CustomerEmail:     actor.Email,
		CartItems:         input.Items,
		Total:             total,
		PaymentMethod:     input.PaymentMethod,
		SelectedAddressID: input.SelectedAddressID,
		Status:            domain.OrderStatusPending,
		OrderDate:         time.Now().UTC(),
	}

	if input.PaymentMethod == domain.PaymentWallet {
		desc := "Payment for order " + order.ID
		if err := s.wallet.Debit(ctx, actor.ID, total, desc); err != nil {
			return nil, err
		}
		order.Paid = true
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("order created", "order_id", order.ID, "customer_id", order.CustomerID, "total", order.Total)
	return order, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) List(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	switch actor.Role {
	case domain.RoleAdmin:
		return s.repo.List(ctx)
	case domain.RoleCustomer:
		return s.repo.ListByCustomer(ctx, actor.ID)
	default:
		return nil, fmt.Errorf("%w: salesmen list orders through their assignments", domain.ErrUnauthorized)
	}
}

// Transition moves an order forward through its lifecycle. Only an admin or
// the salesman holding the active assignment may invoke it; the state
// machine itself is enforced inside the repository's locked transaction.
func (s *Service) Transition(ctx context.Context, actor domain.Actor, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, to)
	}

	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleSalesman:
		salesmanID, err := s.assignments.ActiveSalesman(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if salesmanID != actor.ID {
			return nil, fmt.Errorf("%w: no active assignment for this salesman", domain.ErrUnauthorized)
		}
	default:
		return nil, fmt.Errorf("%w: customers may only request cancellation", domain.ErrUnauthorized)
	}

	order, err := s.repo.Transition(ctx, orderID, to)
	if err != nil {
		return nil, err
	}

	s.publishStatus(ctx, order)
	return order, nil
}

// Cancel handles a customer cancellation request. The reason is required;
// an evidence image URL is optional and best-effort, the status change is
// never blocked on media upload. The Pending/Processing window is enforced
// by the repository under the order's row lock, and a wallet-paid order is
// refunded in the same transaction.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, orderID, reason, imageURL string) (*domain.Order, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: use a status transition instead", domain.ErrUnauthorized)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrInvalidInput)
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != actor.ID {
		return nil, fmt.Errorf("%w: not your order", domain.ErrUnauthorized)
	}

	cancelled, err := s.repo.Cancel(ctx, orderID, &domain.Cancellation{
		Reason:   reason,
		ImageURL: imageURL,
	})
	if err != nil {
		return nil, err
	}

	s.publishStatus(ctx, cancelled)
	return cancelled, nil
}

func (s *Service) authorizeView(ctx context.Context, actor domain.Actor, order *domain.Order) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCustomer:
		if order.CustomerID == actor.ID {
			return nil
		}
	case domain.RoleSalesman:
		salesmanID, err := s.assignments.ActiveSalesman(ctx, order.ID)
		if err != nil {
			return err
		}
		if salesmanID == actor.ID {
			return nil
		}
	}
	return fmt.Errorf("%w: not permitted to view this order", domain.ErrUnauthorized)
}

// publishStatus fans the transition out to connected tracking views and to
// the durable event bus. Neither leg may fail the committed transition.
func (s *Service) publishStatus(ctx context.Context, order *domain.Order) {
	event := domain.OrderStatusUpdatedEvent{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		Status:        order.Status,
		TrackingID:    order.TrackingID,
		UpdatedAt:     time.Now().UTC(),
	}

	s.hub.Publish(pubsub.OrderTopic(order.ID), pubsub.Event{
		Type:    domain.EventOrderStatusUpdated,
		Payload: event,
	})

	if s.producer != nil {
		if err := s.producer.Publish(ctx, order.ID, event); err != nil {
			s.logger.Error("failed to publish order status event", "error", err, "order_id", order.ID)
		}
	}

	s.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
}
