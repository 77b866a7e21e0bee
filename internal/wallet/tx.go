package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

// CreditTx applies a credit inside an existing transaction. Exposed so
// flows that must move money atomically with their own writes (auction
// entry fees, refunds at close) can join the wallet ledger to their
// transaction instead of compensating afterwards.
func CreditTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, description string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + $2
	`, userID, amount.String()); err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return recordTransaction(ctx, tx, userID, domain.TransactionCredit, amount, description)
}

// DebitTx applies a debit inside an existing transaction. The balance
// guard lives in the UPDATE itself; zero rows affected means the funds
// are not there.
func DebitTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, description string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - $2
		WHERE user_id = $1 AND balance >= $2
	`, userID, amount.String())
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrInsufficientFunds
	}
	return recordTransaction(ctx, tx, userID, domain.TransactionDebit, amount, description)
}

func recordTransaction(ctx context.Context, tx *sql.Tx, userID string, kind domain.TransactionType, amount decimal.Decimal, description string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (user_id, type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, userID, kind, amount.String(), description); err != nil {
		return fmt.Errorf("record wallet transaction: %w", err)
	}
	return nil
}
