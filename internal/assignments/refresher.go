package assignments

import (
	"context"
	"log/slog"
	"time"

	"github.com/ajaymenon/storefront-core/internal/geocode"
)

// LocationRefresher periodically re-resolves the area name for every
// accepted assignment from its last reported coordinates. Failures are
// logged per assignment and retried on the next tick; assignments that
// leave Accepted fall out of the sweep on their own.
type LocationRefresher struct {
	repo     Repository
	geocoder Geocoder
	interval time.Duration
	logger   *slog.Logger
}

func NewLocationRefresher(repo Repository, geocoder Geocoder, interval time.Duration, logger *slog.Logger) *LocationRefresher {
	return &LocationRefresher{repo: repo, geocoder: geocoder, interval: interval, logger: logger}
}

// Run refreshes once immediately, then on every tick until ctx is cancelled.
func (l *LocationRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.RefreshOnce(ctx); err != nil {
			l.logger.ErrorContext(ctx, "location refresh pass failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *LocationRefresher) RefreshOnce(ctx context.Context) error {
	accepted, err := l.repo.ListAccepted(ctx)
	if err != nil {
		return err
	}

	for _, a := range accepted {
		area, err := l.geocoder.ReverseArea(ctx, a.Latitude, a.Longitude)
		if err != nil || area == "" {
			area = geocode.FallbackArea
		}
		if _, err := l.repo.UpdateLocation(ctx, a.OrderID, a.SalesmanID, a.Latitude, a.Longitude, area); err != nil {
			l.logger.WarnContext(ctx, "location refresh failed",
				slog.String("order_id", a.OrderID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
