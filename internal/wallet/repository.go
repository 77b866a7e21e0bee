package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/database"
	"github.com/ajaymenon/storefront-core/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetOrCreate returns the user's wallet, creating an empty one on first
// touch so every user implicitly owns a wallet.
func (r *Repository) GetOrCreate(ctx context.Context, userID string) (*domain.Wallet, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	w := &domain.Wallet{UserID: userID}
	var balance string
	err = r.db.QueryRowContext(ctx, `
		SELECT balance FROM wallets WHERE user_id = $1
	`, userID).Scan(&balance)
	if err != nil {
		return nil, err
	}
	w.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return w, nil
}

// Credit adds funds to a wallet and records the ledger entry.
func (r *Repository) Credit(ctx context.Context, userID string, amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	return database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		return CreditTx(ctx, tx, userID, amount, description)
	})
}

// Debit removes funds, failing with domain.ErrInsufficientFunds when the
// balance cannot cover the amount.
func (r *Repository) Debit(ctx context.Context, userID string, amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	return database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		return DebitTx(ctx, tx, userID, amount, description)
	})
}

func (r *Repository) ListTransactions(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, description, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		var amount string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTopUp(ctx context.Context, userID string, amount decimal.Decimal) (*domain.TopUp, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("top-up amount must be positive, got %s", amount)
	}
	topup := &domain.TopUp{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Status:    domain.TopUpPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO topups (id, user_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, topup.ID, topup.UserID, topup.Amount.String(), topup.Status, topup.CreatedAt)
	if err != nil {
		return nil, err
	}
	return topup, nil
}

// ConfirmTopUp credits the wallet for a pending top-up. Confirming an
// already confirmed top-up is a no-op, so provider retries never
// double-credit the balance.
func (r *Repository) ConfirmTopUp(ctx context.Context, topupID string) (*domain.TopUp, error) {
	now := time.Now().UTC()

	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var userID string
		var amountStr string
		var status domain.TopUpStatus
		err := tx.QueryRowContext(ctx, `
			SELECT user_id, amount, status FROM topups WHERE id = $1 FOR UPDATE
		`, topupID).Scan(&userID, &amountStr, &status)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}
		if status == domain.TopUpConfirmed {
			return nil
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("parse amount: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE topups SET status = $1, confirmed_at = $2 WHERE id = $3
		`, domain.TopUpConfirmed, now, topupID); err != nil {
			return err
		}

		return CreditTx(ctx, tx, userID, amount, "wallet top-up")
	})
	if err != nil {
		return nil, err
	}

	return r.getTopUp(ctx, topupID)
}

func (r *Repository) getTopUp(ctx context.Context, topupID string) (*domain.TopUp, error) {
	t := &domain.TopUp{}
	var amount string
	var confirmedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, status, created_at, confirmed_at
		FROM topups WHERE id = $1
	`, topupID).Scan(&t.ID, &t.UserID, &amount, &t.Status, &t.CreatedAt, &confirmedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if confirmedAt.Valid {
		ts := confirmedAt.Time
		t.ConfirmedAt = &ts
	}
	return t, nil
}
