package assignments

import (
	"errors"
	"fmt"
	"math/rand"
)

// errTrackingCollision reports that a generated tracking number already
// exists. The number space gives no uniqueness guarantee on its own; the
// unique indexes on orders and assignments do, and the caller regenerates
// on collision.
var errTrackingCollision = errors.New("tracking id already in use")

// newTrackingID returns a customer-facing tracking number: "TRK" followed
// by twelve digits, zero padded.
func newTrackingID() string {
	return fmt.Sprintf("TRK%012d", rand.Int63n(1_000_000_000_000))
}
