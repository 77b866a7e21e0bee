package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Update-channel event type tags, shared by the in-process hub and the
// Kafka topics of the same names.
const (
	EventOrderStatusUpdated = "order.status-updated"
	EventBidPlaced          = "auction.bid-placed"
	EventAuctionClosed      = "auction.closed"
)

type OrderStatusUpdatedEvent struct {
	OrderID       string      `json:"order_id"`
	CustomerID    string      `json:"customer_id"`
	CustomerEmail string      `json:"customer_email"`
	Status        OrderStatus `json:"status"`
	TrackingID    string      `json:"tracking_id,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type BidPlacedEvent struct {
	VoucherID  string          `json:"voucher_id"`
	UserID     string          `json:"user_id"`
	BidAmount  decimal.Decimal `json:"bid_amount"`
	HighestBid decimal.Decimal `json:"highest_bid"`
	PlacedAt   time.Time       `json:"placed_at"`
}

type AuctionClosedEvent struct {
	VoucherID     string          `json:"voucher_id"`
	VoucherName   string          `json:"voucher_name"`
	WinnerUserID  string          `json:"winner_user_id,omitempty"`
	WinnerEmail   string          `json:"winner_email,omitempty"`
	WinningAmount decimal.Decimal `json:"winning_amount"`
	ClosedAt      time.Time       `json:"closed_at"`
}
