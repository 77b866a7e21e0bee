package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

// Sender is satisfied by Mailer; split out so handlers are testable
// without a running email service.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// AssignmentCompleter closes the active assignment for an order; used
// once the order reaches a delivered or terminal state.
type AssignmentCompleter interface {
	CompleteByOrder(ctx context.Context, orderID string) error
}

// StatusHandler reacts to order status events: it notifies the customer
// and retires the assignment when the order stops moving.
type StatusHandler struct {
	mailer      Sender
	assignments AssignmentCompleter
	logger      *slog.Logger
}

func NewStatusHandler(mailer Sender, assignments AssignmentCompleter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mailer: mailer, assignments: assignments, logger: logger}
}

func (h *StatusHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderStatusUpdatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order status event: %w", err)
	}

	h.logger.Info("processing order status event",
		"order_id", event.OrderID, "status", event.Status)

	if event.Status == domain.OrderStatusDelivered || event.Status.Terminal() {
		if err := h.assignments.CompleteByOrder(ctx, event.OrderID); err != nil {
			return fmt.Errorf("complete assignment for order %s: %w", event.OrderID, err)
		}
	}

	if event.CustomerEmail == "" {
		h.logger.Warn("order status event without customer email", "order_id", event.OrderID)
		return nil
	}

	subject, body := statusEmail(event)
	if err := h.mailer.Send(ctx, event.CustomerEmail, subject, body); err != nil {
		return fmt.Errorf("send status email: %w", err)
	}
	return nil
}

func statusEmail(event domain.OrderStatusUpdatedEvent) (subject, body string) {
	subject = fmt.Sprintf("Order %s: %s", event.OrderID, event.Status)
	switch event.Status {
	case domain.OrderStatusProcessing:
		body = fmt.Sprintf("Your order %s is being prepared. Track it with %s.", event.OrderID, event.TrackingID)
	case domain.OrderStatusDelivered:
		body = fmt.Sprintf("Your order %s has been delivered. Thanks for shopping with us!", event.OrderID)
	case domain.OrderStatusCancelled:
		body = fmt.Sprintf("Your order %s has been cancelled. Any wallet payment will be refunded.", event.OrderID)
	default:
		body = fmt.Sprintf("Your order %s is now %s.", event.OrderID, event.Status)
	}
	return subject, body
}

// AuctionHandler mails the winner when an auction closes.
type AuctionHandler struct {
	mailer Sender
	logger *slog.Logger
}

func NewAuctionHandler(mailer Sender, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{mailer: mailer, logger: logger}
}

func (h *AuctionHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.AuctionClosedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal auction closed event: %w", err)
	}

	h.logger.Info("processing auction closed event",
		"voucher_id", event.VoucherID, "winner", event.WinnerUserID)

	if event.WinnerEmail == "" {
		h.logger.Info("auction closed without a reachable winner", "voucher_id", event.VoucherID)
		return nil
	}

	subject := "You won the auction: " + event.VoucherName
	body := fmt.Sprintf("Congratulations! Your bid of %s won %s.", event.WinningAmount, event.VoucherName)
	if err := h.mailer.Send(ctx, event.WinnerEmail, subject, body); err != nil {
		return fmt.Errorf("send winner email: %w", err)
	}
	return nil
}
