package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

// SetTrackingIDTx stamps the tracking number on an order inside an
// existing transaction. Exposed so assignment acceptance can write the
// assignment and the order's tracking id atomically; the number is never
// regenerated once committed.
func SetTrackingIDTx(ctx context.Context, tx *sql.Tx, orderID, trackingID string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET tracking_id = $1 WHERE id = $2
	`, trackingID, orderID)
	if err != nil {
		return fmt.Errorf("set tracking id: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
