package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ajaymenon/storefront-core/internal/domain"
	"github.com/ajaymenon/storefront-core/internal/geocode"
)

var ErrInvalidInput = errors.New("invalid input")

// OrderStore is the slice of the order layer assignments need: checking
// the order exists and moving it forward once a salesman picks it up.
// The tracking id itself is stamped on the order by the repository,
// inside the accept transaction.
type OrderStore interface {
	Get(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
	Transition(ctx context.Context, actor domain.Actor, orderID string, to domain.OrderStatus) (*domain.Order, error)
}

type Geocoder interface {
	ReverseArea(ctx context.Context, lat, lng float64) (string, error)
}

type Service struct {
	repo     Repository
	orders   OrderStore
	geocoder Geocoder
	logger   *slog.Logger
}

func NewService(repo Repository, orders OrderStore, geocoder Geocoder, logger *slog.Logger) *Service {
	return &Service{repo: repo, orders: orders, geocoder: geocoder, logger: logger}
}

// Assign creates a pending assignment for an order. Admin only; an order
// can carry at most one non-terminal assignment at a time.
func (s *Service) Assign(ctx context.Context, actor domain.Actor, orderID, salesmanID string) (*domain.Assignment, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins assign orders", domain.ErrUnauthorized)
	}
	if salesmanID == "" {
		return nil, fmt.Errorf("%w: salesman id is required", ErrInvalidInput)
	}

	order, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrIllegalTransition, orderID, order.Status)
	}

	if _, err := s.repo.ActiveByOrder(ctx, orderID); err == nil {
		return nil, domain.ErrAlreadyAssigned
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	assignment := &domain.Assignment{
		OrderID:    orderID,
		SalesmanID: salesmanID,
		AssignedBy: actor.ID,
		Status:     domain.AssignmentRequestSent,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order assigned",
		slog.String("order_id", orderID),
		slog.String("salesman_id", salesmanID))
	return assignment, nil
}

// Accept marks the assignment accepted by its salesman, resolving the
// area name from the reported coordinates and generating the tracking id.
// The order moves to Processing as part of acceptance.
func (s *Service) Accept(ctx context.Context, actor domain.Actor, orderID string, lat, lng float64) (*domain.Assignment, error) {
	if actor.Role != domain.RoleSalesman {
		return nil, fmt.Errorf("%w: only salesmen accept assignments", domain.ErrUnauthorized)
	}

	area := s.resolveArea(ctx, lat, lng)

	var assignment *domain.Assignment
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		assignment, err = s.repo.Accept(ctx, orderID, actor.ID, newTrackingID(), area, lat, lng)
		if !errors.Is(err, errTrackingCollision) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.orders.Transition(ctx, actor, orderID, domain.OrderStatusProcessing); err != nil {
		// The order may already be past Pending; acceptance stands either way.
		if !errors.Is(err, domain.ErrIllegalTransition) {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "assignment accepted",
		slog.String("order_id", orderID),
		slog.String("salesman_id", actor.ID),
		slog.String("tracking_id", assignment.TrackingID),
		slog.String("area", area))
	return assignment, nil
}

// UpdateLocation records a new location sample for the accepting salesman.
func (s *Service) UpdateLocation(ctx context.Context, actor domain.Actor, orderID string, lat, lng float64) (*domain.Assignment, error) {
	if actor.Role != domain.RoleSalesman {
		return nil, fmt.Errorf("%w: only salesmen report locations", domain.ErrUnauthorized)
	}

	area := s.resolveArea(ctx, lat, lng)
	return s.repo.UpdateLocation(ctx, orderID, actor.ID, lat, lng, area)
}

// GetByOrder returns the active assignment for an order. Customers may
// only track their own orders; salesmen only assignments addressed to them.
func (s *Service) GetByOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Assignment, error) {
	assignment, err := s.repo.ActiveByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case domain.RoleAdmin:
		return assignment, nil
	case domain.RoleSalesman:
		if assignment.SalesmanID == actor.ID {
			return assignment, nil
		}
	case domain.RoleCustomer:
		// ownership check rides on the order lookup
		if _, err := s.orders.Get(ctx, actor, orderID); err != nil {
			return nil, err
		}
		return assignment, nil
	}
	return nil, fmt.Errorf("%w: not your assignment", domain.ErrUnauthorized)
}

func (s *Service) resolveArea(ctx context.Context, lat, lng float64) string {
	area, err := s.geocoder.ReverseArea(ctx, lat, lng)
	if err != nil || area == "" {
		s.logger.WarnContext(ctx, "reverse geocode failed, using fallback",
			slog.Float64("lat", lat), slog.Float64("lng", lng))
		return geocode.FallbackArea
	}
	return area
}
