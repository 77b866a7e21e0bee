package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VoucherStatus string

const (
	VoucherScheduled VoucherStatus = "Scheduled"
	VoucherActive    VoucherStatus = "Active"
	VoucherExpired   VoucherStatus = "Expired"
)

type Bid struct {
	ID        string          `json:"id"`
	VoucherID string          `json:"voucher_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"bid_amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Voucher is a time-boxed auction for a discounted product. Price is the
// entry (starting) price, ProductPrice the target value of the product.
type Voucher struct {
	ID           string          `json:"id"`
	VoucherName  string          `json:"voucher_name"`
	ProductName  string          `json:"product_name"`
	Details      string          `json:"details,omitempty"`
	Price        decimal.Decimal `json:"price"`
	ProductPrice decimal.Decimal `json:"product_price"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Status       VoucherStatus   `json:"status"`
	WinnerBidID  string          `json:"winner_bid_id,omitempty"`
	CurrentBids  []Bid           `json:"current_bids"`
}

// AcceptingBids is the authoritative admission check, re-evaluated on every
// submission so a voucher stops taking bids the instant its window closes
// even if the expiry sweep has not run yet.
func (v *Voucher) AcceptingBids(now time.Time) bool {
	if v.Status == VoucherExpired {
		return false
	}
	return !now.Before(v.StartTime) && now.Before(v.EndTime)
}

// HighestBid returns the maximum accepted bid amount, or the entry price
// when no bids exist.
func (v *Voucher) HighestBid() decimal.Decimal {
	highest := v.Price
	for _, b := range v.CurrentBids {
		if b.Amount.GreaterThan(highest) {
			highest = b.Amount
		}
	}
	return highest
}

// TopBid returns the bid holding the current highest amount; ties go to the
// earliest submission. Nil when no bids exist.
func (v *Voucher) TopBid() *Bid {
	var top *Bid
	for i := range v.CurrentBids {
		b := &v.CurrentBids[i]
		if top == nil || b.Amount.GreaterThan(top.Amount) {
			top = b
		}
	}
	return top
}
