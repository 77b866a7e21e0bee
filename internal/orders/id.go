package orders

import (
	"fmt"

	"github.com/google/uuid"
)

// newOrderID keeps the customer-facing "ORD-" prefix while staying unique
// under concurrent checkouts.
func newOrderID() string {
	return fmt.Sprintf("ORD-%s", uuid.New().String())
}
