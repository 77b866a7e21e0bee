package domain

import "errors"

// Sentinel errors forming the rejection taxonomy. Handlers map these to
// HTTP statuses; callers distinguish them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("actor not permitted to perform this operation")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrAlreadyAssigned   = errors.New("order already has an active assignment")
	ErrAuctionClosed     = errors.New("auction is not accepting bids")
	ErrBidTooLow         = errors.New("bid does not exceed the current highest bid")
	ErrStaleBid          = errors.New("bid lost a race against a concurrent higher bid")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
)
