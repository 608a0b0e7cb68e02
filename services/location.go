package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fallguard/models"

	"go.uber.org/zap"
)

var (
	// ErrLocationTimeout is returned when no fresh fix arrives before the deadline
	ErrLocationTimeout = errors.New("location fix timed out")
	// ErrLocationUnavailable is returned when the provider cannot produce a fix
	ErrLocationUnavailable = errors.New("location unavailable")
)

// FixTracker keeps the newest position fix reported by the device and serves
// it as a single best-effort fix
type FixTracker struct {
	maxAge    time.Duration
	requester func(ctx context.Context) error
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	latest  *models.LocationFix
	updated chan struct{}
}

// NewFixTracker creates a tracker whose fixes are fresh for maxAge. The
// requester, if set, asks the device for a new fix when the held one is stale.
func NewFixTracker(maxAge time.Duration, requester func(ctx context.Context) error, logger *zap.Logger) *FixTracker {
	return &FixTracker{
		maxAge:    maxAge,
		requester: requester,
		logger:    logger,
		now:       time.Now,
		updated:   make(chan struct{}),
	}
}

// Update records a fix. Invalid coordinates are rejected; a capture time
// missing or ahead of the clock is replaced by the receive time.
func (ft *FixTracker) Update(fix models.LocationFix) error {
	if !fix.Valid() {
		return fmt.Errorf("invalid coordinates %v,%v", fix.Latitude, fix.Longitude)
	}
	now := ft.now()
	if fix.CapturedAt.IsZero() || fix.CapturedAt.After(now.Add(maxClockSkew)) {
		fix.CapturedAt = now
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	if ft.latest != nil && fix.CapturedAt.Before(ft.latest.CapturedAt) {
		return nil
	}
	ft.latest = &fix
	close(ft.updated)
	ft.updated = make(chan struct{})
	return nil
}

func (ft *FixTracker) fresh() (models.Coordinates, bool, <-chan struct{}) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.latest != nil && ft.now().Sub(ft.latest.CapturedAt) <= ft.maxAge {
		return ft.latest.Coordinates, true, nil
	}
	return models.Coordinates{}, false, ft.updated
}

// Locate returns a fix no older than maxAge, waiting for the device to report
// one until ctx ends
func (ft *FixTracker) Locate(ctx context.Context) (models.Coordinates, error) {
	coords, ok, updated := ft.fresh()
	if ok {
		return coords, nil
	}

	if ft.requester != nil {
		if err := ft.requester(ctx); err != nil {
			ft.logger.Warn("Failed to request location fix from device", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return models.Coordinates{}, fmt.Errorf("%w: %v", ErrLocationTimeout, ctx.Err())
		case <-updated:
			coords, ok, updated = ft.fresh()
			if ok {
				return coords, nil
			}
		}
	}
}
