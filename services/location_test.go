package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fallguard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixAt(lat, lng float64, at time.Time) models.LocationFix {
	return models.LocationFix{
		Coordinates: models.Coordinates{Latitude: lat, Longitude: lng},
		CapturedAt:  at,
	}
}

func TestFixTracker_ReturnsFreshFix(t *testing.T) {
	requested := false
	ft := NewFixTracker(30*time.Second, func(ctx context.Context) error {
		requested = true
		return nil
	}, zap.NewNop())

	require.NoError(t, ft.Update(fixAt(13.75, 100.5, time.Now())))

	coords, err := ft.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 13.75, coords.Latitude)
	assert.False(t, requested)
}

func TestFixTracker_RequestsWhenStale(t *testing.T) {
	var ft *FixTracker
	ft = NewFixTracker(30*time.Second, func(ctx context.Context) error {
		go ft.Update(fixAt(18.79, 98.98, time.Now()))
		return nil
	}, zap.NewNop())

	require.NoError(t, ft.Update(fixAt(13.75, 100.5, time.Now().Add(-time.Hour))))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	coords, err := ft.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 18.79, coords.Latitude)
}

func TestFixTracker_TimesOut(t *testing.T) {
	ft := NewFixTracker(30*time.Second, func(ctx context.Context) error {
		return errors.New("broker unavailable")
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ft.Locate(ctx)
	assert.ErrorIs(t, err, ErrLocationTimeout)
}

func TestFixTracker_RejectsInvalidFix(t *testing.T) {
	ft := NewFixTracker(time.Minute, nil, zap.NewNop())

	assert.Error(t, ft.Update(fixAt(91, 0, time.Now())))
	assert.Error(t, ft.Update(fixAt(0, 181, time.Now())))
	assert.Nil(t, ft.latest)
}

func TestFixTracker_IgnoresOlderFix(t *testing.T) {
	now := time.Now()
	ft := NewFixTracker(time.Minute, nil, zap.NewNop())

	require.NoError(t, ft.Update(fixAt(13.75, 100.5, now)))
	require.NoError(t, ft.Update(fixAt(1, 1, now.Add(-time.Second))))

	coords, err := ft.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 13.75, coords.Latitude)
}

func TestFixTracker_StampsMissingCaptureTime(t *testing.T) {
	ft := NewFixTracker(time.Minute, nil, zap.NewNop())

	require.NoError(t, ft.Update(fixAt(13.75, 100.5, time.Time{})))

	coords, err := ft.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.5, coords.Longitude)
}

func TestFixTracker_FutureFixDoesNotPinLocation(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ft := NewFixTracker(30*time.Second, nil, zap.NewNop())
	ft.now = func() time.Time { return base }

	require.NoError(t, ft.Update(fixAt(1, 1, base.Add(24*time.Hour))))
	require.NoError(t, ft.Update(fixAt(50, 50, base)))

	coords, err := ft.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, coords.Latitude)
}

func TestFixTracker_FutureFixExpires(t *testing.T) {
	base := time.Unix(1700000000, 0)
	ft := NewFixTracker(30*time.Second, nil, zap.NewNop())
	ft.now = func() time.Time { return base }

	require.NoError(t, ft.Update(fixAt(1, 1, base.Add(24*time.Hour))))

	ft.now = func() time.Time { return base.Add(31 * time.Second) }
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ft.Locate(ctx)
	assert.ErrorIs(t, err, ErrLocationTimeout)
}
