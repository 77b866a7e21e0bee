package bidding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/pubsub"
)

type fakeRepo struct {
	mu       sync.Mutex
	vouchers map[string]*domain.Voucher
	balances map[string]decimal.Decimal
	refunds  map[string]int
	nextBid  int

	// when set for a voucher id, GetVoucher serves this copy instead of
	// committed state, standing in for a stale cached snapshot
	staleView map[string]*domain.Voucher
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		vouchers:  make(map[string]*domain.Voucher),
		balances:  make(map[string]decimal.Decimal),
		refunds:   make(map[string]int),
		staleView: make(map[string]*domain.Voucher),
	}
}

func copyVoucher(v *domain.Voucher) *domain.Voucher {
	cp := *v
	cp.CurrentBids = append([]domain.Bid(nil), v.CurrentBids...)
	return &cp
}

func (f *fakeRepo) CreateVoucher(_ context.Context, v *domain.Voucher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.ID == "" {
		v.ID = fmt.Sprintf("voucher-%d", len(f.vouchers)+1)
	}
	f.vouchers[v.ID] = copyVoucher(v)
	return nil
}

func (f *fakeRepo) GetVoucher(_ context.Context, id string) (*domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stale, ok := f.staleView[id]; ok {
		return copyVoucher(stale), nil
	}
	v, ok := f.vouchers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyVoucher(v), nil
}

func (f *fakeRepo) ListVouchers(_ context.Context) ([]domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Voucher
	for _, v := range f.vouchers {
		out = append(out, *copyVoucher(v))
	}
	return out, nil
}

func (f *fakeRepo) PlaceBid(_ context.Context, voucherID, userID string, amount decimal.Decimal) (*domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[voucherID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !v.AcceptingBids(time.Now()) {
		return nil, domain.ErrAuctionClosed
	}
	if !amount.GreaterThan(v.HighestBid()) {
		return nil, domain.ErrStaleBid
	}

	prior := 0
	for _, b := range v.CurrentBids {
		if b.UserID == userID {
			prior++
		}
	}
	if prior == 0 {
		balance := f.balances[userID]
		if balance.LessThan(v.Price) {
			return nil, domain.ErrInsufficientFunds
		}
		f.balances[userID] = balance.Sub(v.Price)
	}

	f.nextBid++
	v.CurrentBids = append(v.CurrentBids, domain.Bid{
		ID:        fmt.Sprintf("bid-%d", f.nextBid),
		VoucherID: voucherID,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: time.Now(),
	})
	return copyVoucher(v), nil
}

func (f *fakeRepo) ListDue(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []string
	for id, v := range f.vouchers {
		if v.Status != domain.VoucherExpired && !now.Before(v.EndTime) {
			due = append(due, id)
		}
	}
	return due, nil
}

func (f *fakeRepo) Close(_ context.Context, voucherID string) (*domain.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vouchers[voucherID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if v.Status == domain.VoucherExpired {
		return copyVoucher(v), nil
	}
	v.Status = domain.VoucherExpired
	if top := v.TopBid(); top != nil {
		v.WinnerBidID = top.ID
		refunded := make(map[string]bool)
		for _, b := range v.CurrentBids {
			if b.UserID != top.UserID && !refunded[b.UserID] {
				refunded[b.UserID] = true
				f.balances[b.UserID] = f.balances[b.UserID].Add(v.Price)
				f.refunds[b.UserID]++
			}
		}
	}
	return copyVoucher(v), nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events []any
}

func (f *fakeProducer) Publish(_ context.Context, _ string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

var (
	admin = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	u1    = domain.Actor{ID: "user-1", Role: domain.RoleCustomer}
	u2    = domain.Actor{ID: "user-2", Role: domain.RoleCustomer}
)

func newTestService(repo *fakeRepo) (*Service, *pubsub.Hub, *fakeProducer) {
	hub := pubsub.NewHub()
	producer := &fakeProducer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, NewSnapshotCache(nil), hub, producer, producer, nil, logger), hub, producer
}

func seedVoucher(repo *fakeRepo, id string, price int64, start, end time.Time) {
	status := domain.VoucherActive
	if time.Now().Before(start) {
		status = domain.VoucherScheduled
	}
	repo.vouchers[id] = &domain.Voucher{
		ID:           id,
		VoucherName:  "Flash Deal",
		ProductName:  "Headphones",
		Price:        decimal.NewFromInt(price),
		ProductPrice: decimal.NewFromInt(price * 10),
		StartTime:    start,
		EndTime:      end,
		Status:       status,
	}
}

func fund(repo *fakeRepo, userID string, amount int64) {
	repo.balances[userID] = decimal.NewFromInt(amount)
}

func activeWindow() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func TestPlaceBid(t *testing.T) {
	t.Run("bids rank and the leader flips", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V1", 100, start, end)
		fund(repo, u1.ID, 500)
		fund(repo, u2.ID, 500)
		svc, _, _ := newTestService(repo)
		ctx := context.Background()

		state, err := svc.PlaceBid(ctx, u1, "V1", decimal.NewFromInt(150))
		if err != nil {
			t.Fatalf("PlaceBid(150) error = %v", err)
		}
		if !state.HighestBid.Equal(decimal.NewFromInt(150)) {
			t.Errorf("highest = %s, want 150", state.HighestBid)
		}
		if state.Leader != LeaderTop {
			t.Errorf("leader = %q, want %q", state.Leader, LeaderTop)
		}

		if _, err := svc.PlaceBid(ctx, u2, "V1", decimal.NewFromInt(120)); !errors.Is(err, domain.ErrBidTooLow) {
			t.Fatalf("PlaceBid(120) error = %v, want ErrBidTooLow", err)
		}

		state, err = svc.PlaceBid(ctx, u2, "V1", decimal.NewFromInt(200))
		if err != nil {
			t.Fatalf("PlaceBid(200) error = %v", err)
		}
		if !state.HighestBid.Equal(decimal.NewFromInt(200)) {
			t.Errorf("highest = %s, want 200", state.HighestBid)
		}
		if state.Leader != LeaderTop {
			t.Errorf("u2 leader = %q, want %q", state.Leader, LeaderTop)
		}

		u1State, err := svc.GetAuctionState(ctx, u1, "V1")
		if err != nil {
			t.Fatalf("GetAuctionState() error = %v", err)
		}
		if u1State.Leader != LeaderOutbid {
			t.Errorf("u1 leader = %q, want %q", u1State.Leader, LeaderOutbid)
		}
	})

	t.Run("closed auction rejects any amount", func(t *testing.T) {
		repo := newFakeRepo()
		now := time.Now()
		seedVoucher(repo, "V2", 100, now.Add(-2*time.Hour), now.Add(-time.Hour))
		fund(repo, u1.ID, 10_000)
		svc, _, _ := newTestService(repo)

		if _, err := svc.PlaceBid(context.Background(), u1, "V2", decimal.NewFromInt(9_000)); !errors.Is(err, domain.ErrAuctionClosed) {
			t.Errorf("PlaceBid() error = %v, want ErrAuctionClosed", err)
		}
	})

	t.Run("scheduled auction rejects bids before the window opens", func(t *testing.T) {
		repo := newFakeRepo()
		now := time.Now()
		seedVoucher(repo, "V3", 100, now.Add(time.Hour), now.Add(2*time.Hour))
		fund(repo, u1.ID, 500)
		svc, _, _ := newTestService(repo)

		if _, err := svc.PlaceBid(context.Background(), u1, "V3", decimal.NewFromInt(150)); !errors.Is(err, domain.ErrAuctionClosed) {
			t.Errorf("PlaceBid() error = %v, want ErrAuctionClosed", err)
		}
	})

	t.Run("losing a race against committed state is a stale bid", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V4", 100, start, end)
		fund(repo, u1.ID, 500)
		fund(repo, u2.ID, 500)
		svc, _, _ := newTestService(repo)
		ctx := context.Background()

		// u2's 200 commits; u1's admission check still sees the pre-race
		// snapshot, so the conflict surfaces at the authoritative recheck
		if _, err := svc.PlaceBid(ctx, u2, "V4", decimal.NewFromInt(200)); err != nil {
			t.Fatalf("PlaceBid(200) error = %v", err)
		}
		repo.staleView["V4"] = &domain.Voucher{
			ID:        "V4",
			Price:     decimal.NewFromInt(100),
			StartTime: start,
			EndTime:   end,
			Status:    domain.VoucherActive,
		}

		if _, err := svc.PlaceBid(ctx, u1, "V4", decimal.NewFromInt(150)); !errors.Is(err, domain.ErrStaleBid) {
			t.Errorf("PlaceBid(150) error = %v, want ErrStaleBid", err)
		}
	})

	t.Run("concurrent bids serialize with exactly one loser per conflict", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V5", 100, start, end)
		svc, _, _ := newTestService(repo)
		ctx := context.Background()

		const bidders = 8
		errs := make([]error, bidders)
		var wg sync.WaitGroup
		for i := 0; i < bidders; i++ {
			fund(repo, fmt.Sprintf("user-%d", i), 500)
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				actor := domain.Actor{ID: fmt.Sprintf("user-%d", i), Role: domain.RoleCustomer}
				_, errs[i] = svc.PlaceBid(ctx, actor, "V5", decimal.NewFromInt(150))
			}(i)
		}
		wg.Wait()

		accepted := 0
		for i, err := range errs {
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrStaleBid), errors.Is(err, domain.ErrBidTooLow):
			default:
				t.Errorf("bidder %d: unexpected error %v", i, err)
			}
		}
		if accepted != 1 {
			t.Errorf("accepted = %d, want exactly 1 for identical amounts", accepted)
		}
	})

	t.Run("first bid pays the entry price once", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V6", 100, start, end)
		fund(repo, u1.ID, 150)
		svc, _, _ := newTestService(repo)
		ctx := context.Background()

		if _, err := svc.PlaceBid(ctx, u1, "V6", decimal.NewFromInt(150)); err != nil {
			t.Fatalf("first PlaceBid() error = %v", err)
		}
		if got := repo.balances[u1.ID]; !got.Equal(decimal.NewFromInt(50)) {
			t.Errorf("balance after first bid = %s, want 50", got)
		}

		if _, err := svc.PlaceBid(ctx, u1, "V6", decimal.NewFromInt(180)); err != nil {
			t.Fatalf("second PlaceBid() error = %v", err)
		}
		if got := repo.balances[u1.ID]; !got.Equal(decimal.NewFromInt(50)) {
			t.Errorf("balance after second bid = %s, want 50 (no double charge)", got)
		}
	})

	t.Run("entry price needs funds", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V7", 100, start, end)
		fund(repo, u1.ID, 40)
		svc, _, _ := newTestService(repo)

		if _, err := svc.PlaceBid(context.Background(), u1, "V7", decimal.NewFromInt(150)); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Errorf("PlaceBid() error = %v, want ErrInsufficientFunds", err)
		}
	})

	t.Run("salesman cannot bid", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V8", 100, start, end)
		svc, _, _ := newTestService(repo)

		salesman := domain.Actor{ID: "sales-1", Role: domain.RoleSalesman}
		if _, err := svc.PlaceBid(context.Background(), salesman, "V8", decimal.NewFromInt(150)); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("PlaceBid() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("accepted bid reaches hub subscribers", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V9", 100, start, end)
		fund(repo, u1.ID, 500)
		svc, hub, producer := newTestService(repo)

		events, cancel := hub.Subscribe(pubsub.VoucherTopic("V9"))
		defer cancel()

		if _, err := svc.PlaceBid(context.Background(), u1, "V9", decimal.NewFromInt(150)); err != nil {
			t.Fatalf("PlaceBid() error = %v", err)
		}

		select {
		case ev := <-events:
			if ev.Type != domain.EventBidPlaced {
				t.Errorf("event type = %q, want %q", ev.Type, domain.EventBidPlaced)
			}
		default:
			t.Fatal("no event delivered to subscriber")
		}

		producer.mu.Lock()
		defer producer.mu.Unlock()
		if len(producer.events) != 1 {
			t.Errorf("producer events = %d, want 1", len(producer.events))
		}
	})
}

func TestGetAuctionState(t *testing.T) {
	t.Run("highest bid falls back to the entry price", func(t *testing.T) {
		repo := newFakeRepo()
		start, end := activeWindow()
		seedVoucher(repo, "V1", 100, start, end)
		svc, _, _ := newTestService(repo)

		state, err := svc.GetAuctionState(context.Background(), u1, "V1")
		if err != nil {
			t.Fatalf("GetAuctionState() error = %v", err)
		}
		if !state.HighestBid.Equal(decimal.NewFromInt(100)) {
			t.Errorf("highest = %s, want entry price 100", state.HighestBid)
		}
		if state.Leader != LeaderNoEntry {
			t.Errorf("leader = %q, want %q", state.Leader, LeaderNoEntry)
		}
	})

	t.Run("elapsed window reads as expired before the sweep runs", func(t *testing.T) {
		repo := newFakeRepo()
		now := time.Now()
		seedVoucher(repo, "V2", 100, now.Add(-2*time.Hour), now.Add(-time.Minute))
		repo.vouchers["V2"].Status = domain.VoucherActive
		svc, _, _ := newTestService(repo)

		state, err := svc.GetAuctionState(context.Background(), u1, "V2")
		if err != nil {
			t.Fatalf("GetAuctionState() error = %v", err)
		}
		if state.Voucher.Status != domain.VoucherExpired {
			t.Errorf("status = %q, want %q", state.Voucher.Status, domain.VoucherExpired)
		}
	})

	t.Run("unknown voucher", func(t *testing.T) {
		svc, _, _ := newTestService(newFakeRepo())
		if _, err := svc.GetAuctionState(context.Background(), u1, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetAuctionState() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSweepExpired(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	seedVoucher(repo, "V1", 100, now.Add(-2*time.Hour), now.Add(-time.Minute))
	repo.vouchers["V1"].Status = domain.VoucherActive
	fund(repo, u1.ID, 500)
	fund(repo, u2.ID, 500)
	repo.vouchers["V1"].CurrentBids = []domain.Bid{
		{ID: "bid-1", VoucherID: "V1", UserID: u1.ID, Amount: decimal.NewFromInt(150), CreatedAt: now.Add(-90 * time.Minute)},
		{ID: "bid-2", VoucherID: "V1", UserID: u2.ID, Amount: decimal.NewFromInt(200), CreatedAt: now.Add(-80 * time.Minute)},
	}
	svc, hub, producer := newTestService(repo)

	events, cancel := hub.Subscribe(pubsub.VoucherTopic("V1"))
	defer cancel()

	if err := svc.SweepExpired(context.Background()); err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}

	voucher := repo.vouchers["V1"]
	if voucher.Status != domain.VoucherExpired {
		t.Errorf("status = %q, want %q", voucher.Status, domain.VoucherExpired)
	}
	if voucher.WinnerBidID != "bid-2" {
		t.Errorf("winner bid = %q, want bid-2", voucher.WinnerBidID)
	}
	if repo.refunds[u1.ID] != 1 {
		t.Errorf("u1 refunds = %d, want 1", repo.refunds[u1.ID])
	}
	if repo.refunds[u2.ID] != 0 {
		t.Errorf("winner refunds = %d, want 0", repo.refunds[u2.ID])
	}

	select {
	case ev := <-events:
		if ev.Type != domain.EventAuctionClosed {
			t.Errorf("event type = %q, want %q", ev.Type, domain.EventAuctionClosed)
		}
	default:
		t.Fatal("no close event delivered")
	}

	producer.mu.Lock()
	closed, ok := producer.events[len(producer.events)-1].(domain.AuctionClosedEvent)
	producer.mu.Unlock()
	if !ok {
		t.Fatalf("last producer event is %T, want AuctionClosedEvent", producer.events[len(producer.events)-1])
	}
	if closed.WinnerUserID != u2.ID {
		t.Errorf("winner user = %q, want %q", closed.WinnerUserID, u2.ID)
	}
	if !closed.WinningAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("winning amount = %s, want 200", closed.WinningAmount)
	}

	// second sweep is a no-op
	if err := svc.SweepExpired(context.Background()); err != nil {
		t.Fatalf("second SweepExpired() error = %v", err)
	}
	if repo.refunds[u1.ID] != 1 {
		t.Errorf("u1 refunds after second sweep = %d, want 1", repo.refunds[u1.ID])
	}
}

func TestCreateVoucher(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()
	now := time.Now()

	t.Run("admin creates a scheduled voucher", func(t *testing.T) {
		voucher, err := svc.CreateVoucher(ctx, admin, CreateVoucherInput{
			VoucherName:  "Weekend Deal",
			ProductName:  "Speaker",
			Price:        decimal.NewFromInt(50),
			ProductPrice: decimal.NewFromInt(600),
			StartTime:    now.Add(time.Hour),
			EndTime:      now.Add(3 * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateVoucher() error = %v", err)
		}
		if voucher.Status != domain.VoucherScheduled {
			t.Errorf("status = %q, want %q", voucher.Status, domain.VoucherScheduled)
		}
	})

	t.Run("customer rejected", func(t *testing.T) {
		_, err := svc.CreateVoucher(ctx, u1, CreateVoucherInput{
			VoucherName: "x", ProductName: "y",
			Price:     decimal.NewFromInt(50),
			StartTime: now, EndTime: now.Add(time.Hour),
		})
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("CreateVoucher() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("inverted window rejected", func(t *testing.T) {
		_, err := svc.CreateVoucher(ctx, admin, CreateVoucherInput{
			VoucherName: "x", ProductName: "y",
			Price:     decimal.NewFromInt(50),
			StartTime: now.Add(time.Hour), EndTime: now,
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("CreateVoucher() error = %v, want ErrInvalidInput", err)
		}
	})
}
