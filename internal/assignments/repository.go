package assignments

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajaymenon/storefront-core/internal/database"
	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/orders"
)

type Repository interface {
	Create(ctx context.Context, assignment *domain.Assignment) error
	ActiveByOrder(ctx context.Context, orderID string) (*domain.Assignment, error)
	Accept(ctx context.Context, orderID, salesmanID, trackingID, area string, lat, lng float64) (*domain.Assignment, error)
	UpdateLocation(ctx context.Context, orderID, salesmanID string, lat, lng float64, area string) (*domain.Assignment, error)
	ListAccepted(ctx context.Context) ([]domain.Assignment, error)
	CompleteByOrder(ctx context.Context, orderID string) error
	ActiveSalesman(ctx context.Context, orderID string) (string, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, assignment *domain.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.New().String()
	}
	assignment.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assignments (id, order_id, salesman_id, assigned_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, assignment.ID, assignment.OrderID, assignment.SalesmanID, assignment.AssignedBy,
		assignment.Status, assignment.CreatedAt)
	if err != nil {
		// partial unique index on active assignments per order
		if database.IsUniqueViolation(err) {
			return domain.ErrAlreadyAssigned
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) ActiveByOrder(ctx context.Context, orderID string) (*domain.Assignment, error) {
	assignment, err := r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, salesman_id, assigned_by, status, tracking_id, area,
		       latitude, longitude, accepted_time, location_update_time, created_at
		FROM assignments
		WHERE order_id = $1 AND status <> $2
	`, orderID, domain.AssignmentCompleted))
	if err != nil {
		return nil, err
	}
	if err := r.loadLocationHistory(ctx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*domain.Assignment, error) {
	a := &domain.Assignment{}
	var trackingID, area sql.NullString
	var lat, lng sql.NullFloat64
	var acceptedTime, locationUpdateTime sql.NullTime

	err := row.Scan(&a.ID, &a.OrderID, &a.SalesmanID, &a.AssignedBy, &a.Status,
		&trackingID, &area, &lat, &lng, &acceptedTime, &locationUpdateTime, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	a.TrackingID = trackingID.String
	a.Area = area.String
	a.Latitude = lat.Float64
	a.Longitude = lng.Float64
	if acceptedTime.Valid {
		t := acceptedTime.Time
		a.AcceptedTime = &t
	}
	if locationUpdateTime.Valid {
		t := locationUpdateTime.Time
		a.LocationUpdateTime = &t
	}
	return a, nil
}

func (r *PostgresRepository) loadLocationHistory(ctx context.Context, a *domain.Assignment) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT latitude, longitude, area, updated_at
		FROM assignment_locations
		WHERE assignment_id = $1
		ORDER BY updated_at
	`, a.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p domain.LocationPoint
		if err := rows.Scan(&p.Latitude, &p.Longitude, &p.Area, &p.UpdatedAt); err != nil {
			return err
		}
		a.LocationHistory = append(a.LocationHistory, p)
	}
	return rows.Err()
}

// Accept flips a pending assignment to Accepted, recording the tracking id
// exactly once. The order row is stamped with the same tracking id in the
// same transaction, so assignment and order can never disagree on it.
// Re-accepting an already accepted assignment fails with ErrAlreadyAssigned
// so the tracking id is never regenerated. A duplicate tracking number
// (unique index on both tables) surfaces as errTrackingCollision for the
// caller to retry with a fresh one.
func (r *PostgresRepository) Accept(ctx context.Context, orderID, salesmanID, trackingID, area string, lat, lng float64) (*domain.Assignment, error) {
	now := time.Now().UTC()

	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var id string
		var status domain.AssignmentStatus
		var owner string
		err := tx.QueryRowContext(ctx, `
			SELECT id, status, salesman_id
			FROM assignments
			WHERE order_id = $1 AND status <> $2
			FOR UPDATE
		`, orderID, domain.AssignmentCompleted).Scan(&id, &status, &owner)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}

		if owner != salesmanID {
			return fmt.Errorf("%w: assignment belongs to another salesman", domain.ErrUnauthorized)
		}
		if status == domain.AssignmentAccepted {
			return domain.ErrAlreadyAssigned
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE assignments
			SET status = $1, tracking_id = $2, area = $3, latitude = $4, longitude = $5,
			    accepted_time = $6, location_update_time = $6
			WHERE id = $7
		`, domain.AssignmentAccepted, trackingID, area, lat, lng, now, id); err != nil {
			return fmt.Errorf("accept assignment: %w", err)
		}

		if err := orders.SetTrackingIDTx(ctx, tx, orderID, trackingID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assignment_locations (assignment_id, latitude, longitude, area, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, id, lat, lng, area, now); err != nil {
			return fmt.Errorf("record location: %w", err)
		}

		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errTrackingCollision
		}
		return nil, err
	}

	return r.ActiveByOrder(ctx, orderID)
}

func (r *PostgresRepository) UpdateLocation(ctx context.Context, orderID, salesmanID string, lat, lng float64, area string) (*domain.Assignment, error) {
	now := time.Now().UTC()

	err := database.WithRetry(ctx, r.db, database.SerializedTxOptions(), func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM assignments
			WHERE order_id = $1 AND salesman_id = $2 AND status = $3
			FOR UPDATE
		`, orderID, salesmanID, domain.AssignmentAccepted).Scan(&id)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE assignments
			SET latitude = $1, longitude = $2, area = $3, location_update_time = $4
			WHERE id = $5
		`, lat, lng, area, now, id); err != nil {
			return fmt.Errorf("update location: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assignment_locations (assignment_id, latitude, longitude, area, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, id, lat, lng, area, now); err != nil {
			return fmt.Errorf("record location: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.ActiveByOrder(ctx, orderID)
}

func (r *PostgresRepository) ListAccepted(ctx context.Context) ([]domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, salesman_id, assigned_by, status, tracking_id, area,
		       latitude, longitude, accepted_time, location_update_time, created_at
		FROM assignments
		WHERE status = $1
	`, domain.AssignmentAccepted)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Assignment
	for rows.Next() {
		a := domain.Assignment{}
		var trackingID, area sql.NullString
		var lat, lng sql.NullFloat64
		var acceptedTime, locationUpdateTime sql.NullTime
		if err := rows.Scan(&a.ID, &a.OrderID, &a.SalesmanID, &a.AssignedBy, &a.Status,
			&trackingID, &area, &lat, &lng, &acceptedTime, &locationUpdateTime, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.TrackingID = trackingID.String
		a.Area = area.String
		a.Latitude = lat.Float64
		a.Longitude = lng.Float64
		if acceptedTime.Valid {
			t := acceptedTime.Time
			a.AcceptedTime = &t
		}
		if locationUpdateTime.Valid {
			t := locationUpdateTime.Time
			a.LocationUpdateTime = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CompleteByOrder closes the active assignment once its order reaches a
// terminal or delivered state. Completing an order with no active
// assignment is a no-op.
func (r *PostgresRepository) CompleteByOrder(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE assignments SET status = $1
		WHERE order_id = $2 AND status <> $1
	`, domain.AssignmentCompleted, orderID)
	return err
}

func (r *PostgresRepository) ActiveSalesman(ctx context.Context, orderID string) (string, error) {
	var salesmanID string
	err := r.db.QueryRowContext(ctx, `
		SELECT salesman_id FROM assignments
		WHERE order_id = $1 AND status <> $2
	`, orderID, domain.AssignmentCompleted).Scan(&salesmanID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return salesmanID, nil
}
