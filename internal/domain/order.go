package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "Pending"
	OrderStatusProcessing     OrderStatus = "Processing"
	OrderStatusShipped        OrderStatus = "Shipped"
	OrderStatusArrived        OrderStatus = "Arrived"
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
	OrderStatusCancelled      OrderStatus = "Cancelled"
	OrderStatusReturned       OrderStatus = "Returned"
)

// forwardRank orders the forward chain. Cancelled and Returned sit outside
// the chain and are handled explicitly in CanTransition.
var forwardRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusProcessing:     1,
	OrderStatusShipped:        2,
	OrderStatusArrived:        3,
	OrderStatusOutForDelivery: 4,
	OrderStatusDelivered:      5,
}

func (s OrderStatus) Valid() bool {
	if _, ok := forwardRank[s]; ok {
		return true
	}
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// CanTransition reports whether an order may move from one status to the
// next. The forward chain advances one step at a time and never moves
// backward. Cancelled is reachable from every state before Delivered;
// Returned only from Delivered.
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case OrderStatusCancelled:
		return from != OrderStatusDelivered
	case OrderStatusReturned:
		return from == OrderStatusDelivered
	default:
		fr, ok := forwardRank[from]
		tr, ok2 := forwardRank[to]
		return ok && ok2 && tr == fr+1
	}
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentCard   PaymentMethod = "Card"
	PaymentWallet PaymentMethod = "Wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentCard, PaymentWallet:
		return true
	}
	return false
}

type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    OrderStatus     `json:"status"`
}

type StatusChange struct {
	Status    OrderStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type Cancellation struct {
	Reason      string    `json:"reason"`
	ImageURL    string    `json:"image_url,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type Order struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customer_id"`
	CustomerEmail     string          `json:"-"`
	CartItems         []CartItem      `json:"cart_items"`
	Total             decimal.Decimal `json:"total"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	SelectedAddressID string          `json:"selected_address_id"`
	Paid              bool            `json:"paid"`
	Status            OrderStatus     `json:"order_status"`
	StatusHistory     []StatusChange  `json:"order_status_history,omitempty"`
	Cancellation      *Cancellation   `json:"cancellation,omitempty"`
	TrackingID        string          `json:"tracking_id,omitempty"`
	OrderDate         time.Time       `json:"order_date"`
}
