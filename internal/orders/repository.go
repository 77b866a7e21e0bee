package orders

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

// Repository is the persistence boundary for orders. The Postgres
// implementation serializes status transitions per order with a row lock;
// unit tests substitute an in-memory fake.
type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	Transition(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error)
	Cancel(ctx context.Context, orderID string, cancel *domain.Cancellation) (*domain.Order, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, order *domain.Order) error {
	return database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		if order.ID == "" {
			order.ID = uuid.New().String()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, status, total, payment_method, selected_address_id, paid, order_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, order.ID, order.CustomerID, order.Status, order.Total, order.PaymentMethod,
			order.SelectedAddressID, order.Paid, order.OrderDate)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.CartItems {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, quantity, price, status)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New().String(), order.ID, item.ProductID, item.Quantity, item.Price, item.Status)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, updated_at)
			VALUES ($1, $2, $3)
		`, order.ID, order.Status, order.OrderDate)
		if err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}

		return nil
	})
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var trackingID sql.NullString
	var cancelReason, cancelImage sql.NullString
	var cancelledAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT o.id, o.customer_id, u.email, o.status, o.total, o.payment_method,
		       o.selected_address_id, o.paid, o.tracking_id, o.order_date,
		       o.cancel_reason, o.cancel_image_url, o.cancelled_at
		FROM orders o
		JOIN users u ON u.id = o.customer_id
		WHERE o.id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.CustomerEmail, &order.Status,
		&order.Total, &order.PaymentMethod, &order.SelectedAddressID, &order.Paid,
		&trackingID, &order.OrderDate, &cancelReason, &cancelImage, &cancelledAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	order.TrackingID = trackingID.String
	if cancelReason.Valid {
		order.Cancellation = &domain.Cancellation{
			Reason:      cancelReason.String,
			ImageURL:    cancelImage.String,
			CancelledAt: cancelledAt.Time,
		}
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *PostgresRepository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, price, status
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price, &item.Status); err != nil {
			return err
		}
		order.CartItems = append(order.CartItems, item)
	}
	return rows.Err()
}

func (r *PostgresRepository) loadHistory(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, updated_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY updated_at
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var change domain.StatusChange
		if err := rows.Scan(&change.Status, &change.UpdatedAt); err != nil {
			return err
		}
		order.StatusHistory = append(order.StatusHistory, change)
	}
	return rows.Err()
}

func (r *PostgresRepository) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT id, customer_id, status, total, payment_method, selected_address_id, paid, tracking_id, order_date
		FROM orders
		ORDER BY order_date DESC
	`)
}

func (r *PostgresRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT id, customer_id, status, total, payment_method, selected_address_id, paid, tracking_id, order_date
		FROM orders
		WHERE customer_id = $1
		ORDER BY order_date DESC
	`, customerID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		var order domain.Order
		var trackingID sql.NullString
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.Status, &order.Total,
			&order.PaymentMethod, &order.SelectedAddressID, &order.Paid, &trackingID, &order.OrderDate); err != nil {
			return nil, err
		}
		order.TrackingID = trackingID.String
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// Transition locks the order row, validates the move against the state
// machine, and cascades the new status to every cart item in the same
// transaction. Concurrent transitions of one order are serialized by the
// lock; the legality check always sees the committed current status.
func (r *PostgresRepository) Transition(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	now := time.Now().UTC()

	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var current domain.OrderStatus
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM orders WHERE id = $1 FOR UPDATE
		`, orderID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}

		if !domain.CanTransition(current, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, current, to)
		}

		if _, err = tx.ExecContext(ctx, `
			UPDATE orders SET status = $1 WHERE id = $2
		`, to, orderID); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		return r.finishTransition(ctx, tx, orderID, to, now)
	})
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, orderID)
}

// Cancel moves an order to Cancelled on a customer's behalf. Unlike
// Transition, the customer window (Pending or Processing only) is
// re-validated under the row lock, so a transition committing after the
// caller's read cannot slip a cancellation past Shipped. A wallet-paid
// order is refunded in the same transaction.
func (r *PostgresRepository) Cancel(ctx context.Context, orderID string, cancel *domain.Cancellation) (*domain.Order, error) {
	now := time.Now().UTC()

	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var current domain.OrderStatus
		var customerID, total string
		var paid bool
		var method domain.PaymentMethod
		err := tx.QueryRowContext(ctx, `
			SELECT status, customer_id, total, paid, payment_method
			FROM orders WHERE id = $1 FOR UPDATE
		`, orderID).Scan(&current, &customerID, &total, &paid, &method)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}

		if current != domain.OrderStatusPending && current != domain.OrderStatusProcessing {
			return fmt.Errorf("%w: orders can only be cancelled while Pending or Processing", domain.ErrIllegalTransition)
		}

		refund := paid && method == domain.PaymentWallet
		if _, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, cancel_reason = $2, cancel_image_url = $3, cancelled_at = $4, paid = $5
			WHERE id = $6
		`, domain.OrderStatusCancelled, cancel.Reason, cancel.ImageURL, now, paid && !refund, orderID); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		if refund {
			amount, err := decimal.NewFromString(total)
			if err != nil {
				return fmt.Errorf("parse order total: %w", err)
			}
			if err := wallet.CreditTx(ctx, tx, customerID, amount, "Refund for order "+orderID); err != nil {
				return err
			}
		}

		return r.finishTransition(ctx, tx, orderID, domain.OrderStatusCancelled, now)
	})
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, orderID)
}

func (r *PostgresRepository) finishTransition(ctx context.Context, tx *sql.Tx, orderID string, to domain.OrderStatus, now time.Time) error {
	// Item statuses move in lockstep with the order on bulk transitions.
	if _, err := tx.ExecContext(ctx, `
		UPDATE order_items SET status = $1 WHERE order_id = $2
	`, to, orderID); err != nil {
		return fmt.Errorf("cascade item status: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, updated_at)
		VALUES ($1, $2, $3)
	`, orderID, to, now); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}

	return nil
}
