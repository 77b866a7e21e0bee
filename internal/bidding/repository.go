package bidding

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/database"
	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/wallet"
)

type Repository interface {
	CreateVoucher(ctx context.Context, voucher *domain.Voucher) error
	GetVoucher(ctx context.Context, id string) (*domain.Voucher, error)
	ListVouchers(ctx context.Context) ([]domain.Voucher, error)
	PlaceBid(ctx context.Context, voucherID, userID string, amount decimal.Decimal) (*domain.Voucher, error)
	ListDue(ctx context.Context, now time.Time) ([]string, error)
	Close(ctx context.Context, voucherID string) (*domain.Voucher, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateVoucher(ctx context.Context, voucher *domain.Voucher) error {
	if voucher.ID == "" {
		voucher.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vouchers (id, voucher_name, product_name, details, price,
		                      product_price, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, voucher.ID, voucher.VoucherName, voucher.ProductName, voucher.Details,
		voucher.Price.String(), voucher.ProductPrice.String(),
		voucher.StartTime, voucher.EndTime, voucher.Status)
	return err
}

func (r *PostgresRepository) GetVoucher(ctx context.Context, id string) (*domain.Voucher, error) {
	voucher, err := scanVoucher(r.db.QueryRowContext(ctx, `
		SELECT id, voucher_name, product_name, details, price, product_price,
		       start_time, end_time, status, winner_bid_id
		FROM vouchers WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadBids(ctx, voucher); err != nil {
		return nil, err
	}
	return voucher, nil
}

func (r *PostgresRepository) ListVouchers(ctx context.Context) ([]domain.Voucher, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, voucher_name, product_name, details, price, product_price,
		       start_time, end_time, status, winner_bid_id
		FROM vouchers
		ORDER BY end_time DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Voucher
	for rows.Next() {
		voucher, err := scanVoucherRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *voucher)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := r.loadBids(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PlaceBid appends a bid under a row lock on the voucher, re-validating
// the auction window and the highest bid against committed state. A
// bidder's first bid on a voucher also debits the entry price from their
// wallet, in the same transaction.
func (r *PostgresRepository) PlaceBid(ctx context.Context, voucherID, userID string, amount decimal.Decimal) (*domain.Voucher, error) {
	now := time.Now().UTC()

	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var status domain.VoucherStatus
		var priceStr string
		var startTime, endTime time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT status, price, start_time, end_time
			FROM vouchers WHERE id = $1
			FOR UPDATE
		`, voucherID).Scan(&status, &priceStr, &startTime, &endTime)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}

		window := domain.Voucher{Status: status, StartTime: startTime, EndTime: endTime}
		if !window.AcceptingBids(now) {
			return domain.ErrAuctionClosed
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return fmt.Errorf("parse entry price: %w", err)
		}

		var highestStr sql.NullString
		var priorBids int
		err = tx.QueryRowContext(ctx, `
			SELECT MAX(amount), COUNT(*) FILTER (WHERE user_id = $2)
			FROM bids WHERE voucher_id = $1
		`, voucherID, userID).Scan(&highestStr, &priorBids)
		if err != nil {
			return err
		}

		highest := price
		if highestStr.Valid {
			highest, err = decimal.NewFromString(highestStr.String)
			if err != nil {
				return fmt.Errorf("parse highest bid: %w", err)
			}
		}
		if !amount.GreaterThan(highest) {
			// Admission passed the snapshot check but lost against
			// committed state; a concurrent bid got there first.
			return fmt.Errorf("%w: highest is now %s", domain.ErrStaleBid, highest)
		}

		if priorBids == 0 {
			if err := wallet.DebitTx(ctx, tx, userID, price, "auction entry: "+voucherID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bids (id, voucher_id, user_id, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New().String(), voucherID, userID, amount.String(), now); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetVoucher(ctx, voucherID)
}

// ListDue returns ids of non-expired vouchers whose window has elapsed.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM vouchers
		WHERE status <> $1 AND end_time <= $2
	`, domain.VoucherExpired, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close expires a voucher, records the winning bid, and refunds the entry
// price to every losing bidder, all in one transaction. Closing an already
// expired voucher returns it unchanged.
func (r *PostgresRepository) Close(ctx context.Context, voucherID string) (*domain.Voucher, error) {
	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var status domain.VoucherStatus
		var priceStr string
		err := tx.QueryRowContext(ctx, `
			SELECT status, price FROM vouchers WHERE id = $1 FOR UPDATE
		`, voucherID).Scan(&status, &priceStr)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}
		if status == domain.VoucherExpired {
			return nil
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return fmt.Errorf("parse entry price: %w", err)
		}

		// highest amount wins; earliest submission breaks ties
		var winnerBidID, winnerUserID sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT id, user_id FROM bids
			WHERE voucher_id = $1
			ORDER BY amount DESC, created_at ASC
			LIMIT 1
		`, voucherID).Scan(&winnerBidID, &winnerUserID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE vouchers SET status = $1, winner_bid_id = $2 WHERE id = $3
		`, domain.VoucherExpired, winnerBidID, voucherID); err != nil {
			return err
		}

		if winnerUserID.Valid {
			rows, err := tx.QueryContext(ctx, `
				SELECT DISTINCT user_id FROM bids
				WHERE voucher_id = $1 AND user_id <> $2
			`, voucherID, winnerUserID.String)
			if err != nil {
				return err
			}
			var losers []string
			for rows.Next() {
				var userID string
				if err := rows.Scan(&userID); err != nil {
					_ = rows.Close()
					return err
				}
				losers = append(losers, userID)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}

			for _, userID := range losers {
				if err := wallet.CreditTx(ctx, tx, userID, price, "auction entry refund: "+voucherID); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetVoucher(ctx, voucherID)
}

func (r *PostgresRepository) loadBids(ctx context.Context, voucher *domain.Voucher) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, voucher_id, user_id, amount, created_at
		FROM bids
		WHERE voucher_id = $1
		ORDER BY created_at
	`, voucher.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var b domain.Bid
		var amount string
		if err := rows.Scan(&b.ID, &b.VoucherID, &b.UserID, &amount, &b.CreatedAt); err != nil {
			return err
		}
		b.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parse bid amount: %w", err)
		}
		voucher.CurrentBids = append(voucher.CurrentBids, b)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVoucher(row *sql.Row) (*domain.Voucher, error) {
	v, err := scanVoucherRows(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return v, err
}

func scanVoucherRows(row rowScanner) (*domain.Voucher, error) {
	v := &domain.Voucher{}
	var details, winnerBidID sql.NullString
	var price, productPrice string

	err := row.Scan(&v.ID, &v.VoucherName, &v.ProductName, &details, &price,
		&productPrice, &v.StartTime, &v.EndTime, &v.Status, &winnerBidID)
	if err != nil {
		return nil, err
	}

	v.Details = details.String
	v.WinnerBidID = winnerBidID.String
	if v.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if v.ProductPrice, err = decimal.NewFromString(productPrice); err != nil {
		return nil, fmt.Errorf("parse product price: %w", err)
	}
	return v, nil
}
