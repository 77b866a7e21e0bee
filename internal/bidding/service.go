package bidding

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

var ErrInvalidInput = errors.New("invalid input")

// Leader banners shown to a participant viewing an auction.
const (
	LeaderTop     = "You are the top bidder!"
	LeaderOutbid  = "You are now outbid"
	LeaderNoEntry = "Get started to bid now"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// EmailLookup resolves a user id to their email for winner notifications.
// Satisfied by the auth repository; nil disables the lookup.
type EmailLookup interface {
	EmailByID(ctx context.Context, userID string) (string, error)
}

type Service struct {
	repo        Repository
	cache       *SnapshotCache
	hub         *pubsub.Hub
	bidEvents   EventPublisher
	closeEvents EventPublisher
	emails      EmailLookup
	logger      *slog.Logger
}

// NewService wires the engine. The two publishers are topic-bound kafka
// producers; either may be nil when that leg is not needed (the API
// publishes bids, the worker publishes closes).
func NewService(repo Repository, cache *SnapshotCache, hub *pubsub.Hub, bidEvents, closeEvents EventPublisher, emails EmailLookup, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		cache:       cache,
		hub:         hub,
		bidEvents:   bidEvents,
		closeEvents: closeEvents,
		emails:      emails,
		logger:      logger,
	}
}

type CreateVoucherInput struct {
	VoucherName  string
	ProductName  string
	Details      string
	Price        decimal.Decimal
	ProductPrice decimal.Decimal
	StartTime    time.Time
	EndTime      time.Time
}

func (s *Service) CreateVoucher(ctx context.Context, actor domain.Actor, input CreateVoucherInput) (*domain.Voucher, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins create vouchers", domain.ErrUnauthorized)
	}
	if input.VoucherName == "" || input.ProductName == "" {
		return nil, fmt.Errorf("%w: voucher and product names are required", ErrInvalidInput)
	}
	if !input.Price.IsPositive() {
		return nil, fmt.Errorf("%w: entry price must be positive", ErrInvalidInput)
	}
	if !input.EndTime.After(input.StartTime) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidInput)
	}

	status := domain.VoucherScheduled
	if !time.Now().Before(input.StartTime) {
		status = domain.VoucherActive
	}

	voucher := &domain.Voucher{
		VoucherName:  input.VoucherName,
		ProductName:  input.ProductName,
		Details:      input.Details,
		Price:        input.Price,
		ProductPrice: input.ProductPrice,
		StartTime:    input.StartTime.UTC(),
		EndTime:      input.EndTime.UTC(),
		Status:       status,
	}
	if err := s.repo.CreateVoucher(ctx, voucher); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "voucher created",
		slog.String("voucher_id", voucher.ID),
		slog.String("voucher_name", voucher.VoucherName))
	return voucher, nil
}

func (s *Service) ListVouchers(ctx context.Context) ([]domain.Voucher, error) {
	vouchers, err := s.repo.ListVouchers(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range vouchers {
		applyLazyExpiry(&vouchers[i], now)
	}
	return vouchers, nil
}

// AuctionState is the read-side snapshot of a voucher: the highest bid is
// recomputed here, never trusted from the caller, and the leader banner is
// resolved for the calling user.
type AuctionState struct {
	Voucher    *domain.Voucher `json:"voucher"`
	HighestBid decimal.Decimal `json:"highest_bid"`
	Leader     string          `json:"leader_message"`
}

func (s *Service) GetAuctionState(ctx context.Context, actor domain.Actor, voucherID string) (*AuctionState, error) {
	voucher, err := s.snapshot(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	applyLazyExpiry(voucher, time.Now().UTC())

	return &AuctionState{
		Voucher:    voucher,
		HighestBid: voucher.HighestBid(),
		Leader:     resolveLeader(voucher, actor.ID),
	}, nil
}

// PlaceBid admits a bid against a voucher. The snapshot precheck rejects
// obviously losing bids cheaply (BidTooLow); bids that clear it are decided
// authoritatively under the voucher row lock, where losing a race against a
// concurrent higher bid surfaces as StaleBid.
func (s *Service) PlaceBid(ctx context.Context, actor domain.Actor, voucherID string, amount decimal.Decimal) (*AuctionState, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers bid", domain.ErrUnauthorized)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrInvalidInput)
	}

	snapshot, err := s.snapshot(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !snapshot.AcceptingBids(now) {
		return nil, domain.ErrAuctionClosed
	}
	if !amount.GreaterThan(snapshot.HighestBid()) {
		return nil, fmt.Errorf("%w: highest bid is %s", domain.ErrBidTooLow, snapshot.HighestBid())
	}

	voucher, err := s.repo.PlaceBid(ctx, voucherID, actor.ID, amount)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, voucherID)
	s.cache.Set(ctx, voucher)
	s.publishBid(ctx, voucher, actor.ID, amount)

	return &AuctionState{
		Voucher:    voucher,
		HighestBid: voucher.HighestBid(),
		Leader:     resolveLeader(voucher, actor.ID),
	}, nil
}

// SweepExpired closes every voucher whose window has elapsed, awarding the
// highest bid and refunding losing bidders. Called periodically by the
// worker; also safe to call ad hoc.
func (s *Service) SweepExpired(ctx context.Context) error {
	due, err := s.repo.ListDue(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("list due vouchers: %w", err)
	}

	for _, id := range due {
		voucher, err := s.repo.Close(ctx, id)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to close voucher",
				slog.String("voucher_id", id),
				slog.String("error", err.Error()))
			continue
		}

		s.cache.Invalidate(ctx, id)
		s.publishClosed(ctx, voucher)
		s.logger.InfoContext(ctx, "voucher closed",
			slog.String("voucher_id", id),
			slog.String("winner_bid_id", voucher.WinnerBidID))
	}
	return nil
}

// snapshot serves voucher reads through the cache, falling back to the
// repository and repopulating on miss.
func (s *Service) snapshot(ctx context.Context, voucherID string) (*domain.Voucher, error) {
	if cached, ok := s.cache.Get(ctx, voucherID); ok {
		return cached, nil
	}
	voucher, err := s.repo.GetVoucher(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, voucher)
	return voucher, nil
}

func (s *Service) publishBid(ctx context.Context, voucher *domain.Voucher, userID string, amount decimal.Decimal) {
	event := domain.BidPlacedEvent{
		VoucherID:  voucher.ID,
		UserID:     userID,
		BidAmount:  amount,
		HighestBid: voucher.HighestBid(),
		PlacedAt:   time.Now().UTC(),
	}

	s.hub.Publish(pubsub.VoucherTopic(voucher.ID), pubsub.Event{
		Type:    domain.EventBidPlaced,
		Payload: voucher,
	})

	if s.bidEvents != nil {
		if err := s.bidEvents.Publish(ctx, voucher.ID, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish bid event",
				slog.String("voucher_id", voucher.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Service) publishClosed(ctx context.Context, voucher *domain.Voucher) {
	event := domain.AuctionClosedEvent{
		VoucherID:     voucher.ID,
		VoucherName:   voucher.VoucherName,
		WinningAmount: voucher.HighestBid(),
		ClosedAt:      time.Now().UTC(),
	}
	if top := voucher.TopBid(); top != nil && voucher.WinnerBidID == top.ID {
		event.WinnerUserID = top.UserID
		if s.emails != nil {
			email, err := s.emails.EmailByID(ctx, top.UserID)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to resolve winner email",
					slog.String("voucher_id", voucher.ID),
					slog.String("error", err.Error()))
			} else {
				event.WinnerEmail = email
			}
		}
	}

	s.hub.Publish(pubsub.VoucherTopic(voucher.ID), pubsub.Event{
		Type:    domain.EventAuctionClosed,
		Payload: voucher,
	})

	if s.closeEvents != nil {
		if err := s.closeEvents.Publish(ctx, voucher.ID, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish close event",
				slog.String("voucher_id", voucher.ID),
				slog.String("error", err.Error()))
		}
	}
}

// applyLazyExpiry presents a voucher as expired the moment its window
// elapses, even before the sweep has persisted the status flip.
func applyLazyExpiry(voucher *domain.Voucher, now time.Time) {
	if voucher.Status != domain.VoucherExpired && !now.Before(voucher.EndTime) {
		voucher.Status = domain.VoucherExpired
	}
	if voucher.Status == domain.VoucherScheduled && !now.Before(voucher.StartTime) {
		voucher.Status = domain.VoucherActive
	}
}

// resolveLeader compares the caller's best bid against the best of every
// other bidder.
func resolveLeader(voucher *domain.Voucher, userID string) string {
	var own, others decimal.Decimal
	var hasOwn, hasOthers bool
	for _, b := range voucher.CurrentBids {
		if b.UserID == userID {
			if !hasOwn || b.Amount.GreaterThan(own) {
				own = b.Amount
				hasOwn = true
			}
		} else {
			if !hasOthers || b.Amount.GreaterThan(others) {
				others = b.Amount
				hasOthers = true
			}
		}
	}
	switch {
	case !hasOwn:
		return LeaderNoEntry
	case !hasOthers || own.GreaterThan(others):
		return LeaderTop
	default:
		return LeaderOutbid
	}
}
