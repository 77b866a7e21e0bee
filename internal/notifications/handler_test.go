package notifications

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

type fakeSender struct {
	sent []string // "to|subject"
}

func (f *fakeSender) Send(_ context.Context, to, subject, _ string) error {
	f.sent = append(f.sent, to+"|"+subject)
	return nil
}

type fakeCompleter struct {
	completed []string
}

func (f *fakeCompleter) CompleteByOrder(_ context.Context, orderID string) error {
	f.completed = append(f.completed, orderID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusHandler(t *testing.T) {
	encode := func(t *testing.T, event domain.OrderStatusUpdatedEvent) []byte {
		t.Helper()
		payload, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		return payload
	}

	t.Run("delivery completes the assignment and mails the customer", func(t *testing.T) {
		sender, completer := &fakeSender{}, &fakeCompleter{}
		h := NewStatusHandler(sender, completer, discardLogger())

		payload := encode(t, domain.OrderStatusUpdatedEvent{
			OrderID:       "ORD-1",
			CustomerEmail: "jo@example.com",
			Status:        domain.OrderStatusDelivered,
			UpdatedAt:     time.Now(),
		})
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		if len(completer.completed) != 1 || completer.completed[0] != "ORD-1" {
			t.Errorf("completed = %v, want [ORD-1]", completer.completed)
		}
		if len(sender.sent) != 1 {
			t.Fatalf("sent = %d emails, want 1", len(sender.sent))
		}
	})

	t.Run("mid-lifecycle status leaves the assignment active", func(t *testing.T) {
		sender, completer := &fakeSender{}, &fakeCompleter{}
		h := NewStatusHandler(sender, completer, discardLogger())

		payload := encode(t, domain.OrderStatusUpdatedEvent{
			OrderID:       "ORD-2",
			CustomerEmail: "jo@example.com",
			Status:        domain.OrderStatusShipped,
		})
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		if len(completer.completed) != 0 {
			t.Errorf("completed = %v, want none", completer.completed)
		}
		if len(sender.sent) != 1 {
			t.Errorf("sent = %d emails, want 1", len(sender.sent))
		}
	})

	t.Run("missing email is not an error", func(t *testing.T) {
		sender, completer := &fakeSender{}, &fakeCompleter{}
		h := NewStatusHandler(sender, completer, discardLogger())

		payload := encode(t, domain.OrderStatusUpdatedEvent{
			OrderID: "ORD-3",
			Status:  domain.OrderStatusShipped,
		})
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(sender.sent) != 0 {
			t.Errorf("sent = %d emails, want 0", len(sender.sent))
		}
	})

	t.Run("malformed payload is rejected", func(t *testing.T) {
		h := NewStatusHandler(&fakeSender{}, &fakeCompleter{}, discardLogger())
		if err := h.Handle(context.Background(), []byte("{not json")); err == nil {
			t.Error("Handle() error = nil, want unmarshal error")
		}
	})
}

func TestAuctionHandler(t *testing.T) {
	t.Run("winner gets mail", func(t *testing.T) {
		sender := &fakeSender{}
		h := NewAuctionHandler(sender, discardLogger())

		payload, err := json.Marshal(domain.AuctionClosedEvent{
			VoucherID:     "V1",
			VoucherName:   "Flash Deal",
			WinnerUserID:  "user-1",
			WinnerEmail:   "win@example.com",
			WinningAmount: decimal.NewFromInt(200),
		})
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(sender.sent) != 1 {
			t.Fatalf("sent = %d emails, want 1", len(sender.sent))
		}
		if sender.sent[0] != "win@example.com|You won the auction: Flash Deal" {
			t.Errorf("unexpected email %q", sender.sent[0])
		}
	})

	t.Run("no bids, no mail", func(t *testing.T) {
		sender := &fakeSender{}
		h := NewAuctionHandler(sender, discardLogger())

		payload, err := json.Marshal(domain.AuctionClosedEvent{VoucherID: "V2"})
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(sender.sent) != 0 {
			t.Errorf("sent = %d emails, want 0", len(sender.sent))
		}
	})
}
